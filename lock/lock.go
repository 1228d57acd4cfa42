// Copyright (c) 2021 - for information on the respective copyright owner
// see the NOTICE file and/or the repository at
// https://github.com/hyperledger-labs/perun-appchannel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package lock provides named mutexes. A node holds the lock named after a
// multisig address while running a protocol on that channel.
package lock

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	psync "perun.network/go-perun/pkg/sync"
)

// Error type is used to define error constants for this package.
type Error string

// Error implements error interface.
func (e Error) Error() string {
	return string(e)
}

// ErrNotAcquired is returned when the context is done before the lock is
// acquired.
const ErrNotAcquired Error = "lock not acquired"

// Service hands out one mutex per name. It implements perun.LockService.
type Service struct {
	mtx   psync.Mutex
	locks map[string]*psync.Mutex
}

// NewService returns a lock service without any locks held.
func NewService() *Service {
	return &Service{locks: make(map[string]*psync.Mutex)}
}

// Acquire blocks until the lock with the name is held or ctx is done. The
// returned release func unlocks it; calling it more than once is a no-op.
func (s *Service) Acquire(ctx context.Context, name string) (release func(), _ error) {
	m := s.mutex(name)
	if !m.TryLockCtx(ctx) {
		return nil, errors.Wrapf(ErrNotAcquired, "%s: %v", name, ctx.Err())
	}
	var once sync.Once
	return func() { once.Do(m.Unlock) }, nil
}

// IsHeld reports whether the lock with the name is currently held.
func (s *Service) IsHeld(name string) bool {
	m := s.mutex(name)
	if m.TryLock() {
		m.Unlock()
		return false
	}
	return true
}

func (s *Service) mutex(name string) *psync.Mutex {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	m, ok := s.locks[name]
	if !ok {
		m = new(psync.Mutex)
		s.locks[name] = m
	}
	return m
}

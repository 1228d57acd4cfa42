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

// Package local implements an in-process message bus. Every user connected
// to a bus gets an endpoint, which implements perun.Messenger. It is used in
// tests and for running several users within one process.
package local

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/hyperledger-labs/perun-appchannel"
)

// inboxSize is the number of envelopes buffered for each endpoint.
const inboxSize = 64

// Error type is used to define error constants for this package.
type Error string

// Error implements error interface.
func (e Error) Error() string {
	return string(e)
}

// Definition of error constants for this package.
const (
	ErrAlreadyConnected Error = "identifier already connected to the bus"
	ErrUnknownPeer      Error = "no endpoint for the peer"
	ErrEndpointClosed   Error = "endpoint closed"
)

// Bus routes envelopes between the endpoints connected to it.
type Bus struct {
	mtx       sync.RWMutex
	endpoints map[string]*Endpoint
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{endpoints: make(map[string]*Endpoint)}
}

// Connect returns the endpoint for the user with the public identifier.
func (b *Bus) Connect(identifier string) (*Endpoint, error) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	if _, ok := b.endpoints[identifier]; ok {
		return nil, errors.Wrap(ErrAlreadyConnected, identifier)
	}
	e := &Endpoint{
		bus:        b,
		identifier: identifier,
		inbox:      make(chan perun.Envelope, inboxSize),
		done:       make(chan struct{}),
	}
	b.endpoints[identifier] = e
	return e, nil
}

func (b *Bus) endpoint(identifier string) (*Endpoint, bool) {
	b.mtx.RLock()
	defer b.mtx.RUnlock()
	e, ok := b.endpoints[identifier]
	return e, ok
}

func (b *Bus) disconnect(identifier string) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	delete(b.endpoints, identifier)
}

// Endpoint is the messenger of one user on the bus.
type Endpoint struct {
	bus        *Bus
	identifier string

	mtx    sync.RWMutex
	closed bool
	once   sync.Once
	done   chan struct{}
	inbox  chan perun.Envelope
}

// Send delivers the envelope to the inbox of the endpoint in env.To. It blocks
// while the inbox of the receiver is full.
func (e *Endpoint) Send(ctx context.Context, env perun.Envelope) error {
	if e.isClosed() {
		return ErrEndpointClosed
	}
	env.From = e.identifier
	to, ok := e.bus.endpoint(env.To)
	if !ok {
		return errors.Wrap(ErrUnknownPeer, env.To)
	}
	return to.deliver(ctx, env)
}

func (e *Endpoint) deliver(ctx context.Context, env perun.Envelope) error {
	e.mtx.RLock()
	defer e.mtx.RUnlock()
	if e.closed {
		return errors.Wrap(ErrUnknownPeer, e.identifier)
	}
	select {
	case e.inbox <- env:
		return nil
	case <-e.done:
		return errors.Wrap(ErrUnknownPeer, e.identifier)
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	}
}

// Inbox returns the envelopes received by the endpoint. It is closed when
// the endpoint is closed.
func (e *Endpoint) Inbox() <-chan perun.Envelope {
	return e.inbox
}

// Close disconnects the endpoint from the bus. It is safe to call it more
// than once.
func (e *Endpoint) Close() error {
	e.once.Do(func() {
		e.bus.disconnect(e.identifier)
		close(e.done)
		e.mtx.Lock()
		e.closed = true
		close(e.inbox)
		e.mtx.Unlock()
	})
	return nil
}

func (e *Endpoint) isClosed() bool {
	e.mtx.RLock()
	defer e.mtx.RUnlock()
	return e.closed
}

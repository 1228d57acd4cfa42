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

package lock_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperledger-labs/perun-appchannel"
	"github.com/hyperledger-labs/perun-appchannel/lock"
)

var _ perun.LockService = &lock.Service{}

func Test_Service_Acquire(t *testing.T) {
	s := lock.NewService()

	release, err := s.Acquire(context.Background(), "a")
	require.NoError(t, err)
	assert.True(t, s.IsHeld("a"))

	t.Run("other_name_not_blocked", func(t *testing.T) {
		releaseB, err := s.Acquire(context.Background(), "b")
		require.NoError(t, err)
		releaseB()
	})

	t.Run("same_name_times_out", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := s.Acquire(ctx, "a")
		require.Error(t, err)
		assert.True(t, errors.Is(err, lock.ErrNotAcquired))
	})

	t.Run("waiter_gets_lock_after_release", func(t *testing.T) {
		acquired := make(chan struct{})
		go func() {
			r, err := s.Acquire(context.Background(), "a")
			if err == nil {
				r()
			}
			close(acquired)
		}()
		release()
		release() // no-op
		select {
		case <-acquired:
		case <-time.After(time.Second):
			t.Fatal("lock not handed to waiter")
		}
		assert.False(t, s.IsHeld("a"))
	})
}

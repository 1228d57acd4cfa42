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

package session

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperledger-labs/perun-appchannel"
)

func Test_PendingReplies(t *testing.T) {
	p := newPendingReplies()
	slot, err := p.add("process-1")
	require.NoError(t, err)

	t.Run("err_duplicate", func(t *testing.T) {
		_, err := p.add("process-1")
		assert.True(t, errors.Is(err, ErrReplyPending))
	})
	t.Run("unmatched", func(t *testing.T) {
		assert.False(t, p.resolve(perun.ProtocolMessage{ProcessID: "process-2"}))
	})

	msg := perun.ProtocolMessage{ProcessID: "process-1", Seq: perun.UnassignedSeqNo}
	assert.True(t, p.resolve(msg))
	assert.Equal(t, msg, <-slot)
	assert.Zero(t, p.len())
	// The slot is single use.
	assert.False(t, p.resolve(msg))

	_, err = p.add("process-3")
	require.NoError(t, err)
	p.remove("process-3")
	assert.Zero(t, p.len())
}

func Test_TimeoutConfig(t *testing.T) {
	cfg := timeoutConfig{response: 2 * processingTime}
	assert.Equal(t, cfg.response, cfg.responderLock())
	assert.Equal(t, 5*processingTime, cfg.initiatorLock())
}

func Test_EventName(t *testing.T) {
	tests := []struct {
		protocol perun.ProtocolName
		want     perun.EventName
	}{
		{perun.SetupProtocol, perun.EventChannelCreated},
		{perun.ProposeProtocol, perun.EventProposeInstall},
		{perun.InstallProtocol, perun.EventInstall},
		{perun.UpdateProtocol, perun.EventUpdateState},
		{perun.TakeActionProtocol, perun.EventUpdateState},
		{perun.UninstallProtocol, perun.EventUninstall},
		{perun.SyncProtocol, perun.EventSync},
	}
	for _, tc := range tests {
		t.Run(string(tc.protocol), func(t *testing.T) {
			assert.Equal(t, tc.want, eventName(tc.protocol))
		})
	}
}

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

package ws_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/phayes/freeport"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperledger-labs/perun-appchannel"
	"github.com/hyperledger-labs/perun-appchannel/comm/ws"
)

type peers map[string]perun.PeerID

func (p peers) ReadByAlias(alias string) (perun.PeerID, bool) {
	for _, peer := range p {
		if peer.Alias == alias {
			return peer, true
		}
	}
	return perun.PeerID{}, false
}

func (p peers) ReadByIdentifier(identifier string) (perun.PeerID, bool) {
	peer, ok := p[identifier]
	return peer, ok
}

func newAddr(t *testing.T) string {
	t.Helper()
	port, err := freeport.GetFreePort()
	require.NoError(t, err)
	return fmt.Sprintf("127.0.0.1:%d", port)
}

func newTransports(t *testing.T, cfgB func(*ws.Config)) (a, b *ws.Transport) {
	t.Helper()
	addrA, addrB := newAddr(t), newAddr(t)
	ids := peers{
		"alice": {Alias: "alice", PublicIdentifier: "alice", CommAddr: addrA, CommType: "websocket"},
		"bob":   {Alias: "bob", PublicIdentifier: "bob", CommAddr: addrB, CommType: "websocket"},
	}
	var err error
	a, err = ws.Listen("alice", ids, ws.DefaultConfig(addrA))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() }) // nolint: errcheck

	c := ws.DefaultConfig(addrB)
	if cfgB != nil {
		cfgB(&c)
	}
	b, err = ws.Listen("bob", ids, c)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() }) // nolint: errcheck
	return a, b
}

func envelope(to string, seq int) perun.Envelope {
	return perun.Envelope{
		Type: perun.ProtocolMessageType,
		To:   to,
		Data: perun.ProtocolMessage{Protocol: perun.SyncProtocol, ProcessID: "p", Seq: seq, To: to},
	}
}

func receive(t *testing.T, inbox <-chan perun.Envelope) perun.Envelope {
	t.Helper()
	select {
	case env := <-inbox:
		return env
	case <-time.After(5 * time.Second):
		t.Fatal("envelope not received")
	}
	return perun.Envelope{}
}

func Test_Transport(t *testing.T) {
	a, b := newTransports(t, nil)
	ctx := context.Background()

	t.Run("round_trip", func(t *testing.T) {
		require.NoError(t, a.Send(ctx, envelope("bob", 1)))
		got := receive(t, b.Inbox())
		assert.Equal(t, "alice", got.From)
		assert.Equal(t, 1, got.Data.Seq)

		require.NoError(t, b.Send(ctx, envelope("alice", perun.UnassignedSeqNo)))
		got = receive(t, a.Inbox())
		assert.Equal(t, "bob", got.From)
		assert.Equal(t, perun.UnassignedSeqNo, got.Data.Seq)
	})

	t.Run("err_unknown_peer", func(t *testing.T) {
		err := a.Send(ctx, envelope("carol", 1))
		assert.True(t, errors.Is(err, ws.ErrUnknownPeer))
	})

	t.Run("close", func(t *testing.T) {
		require.NoError(t, a.Close())
		require.NoError(t, a.Close())
		_, ok := <-a.Inbox()
		assert.False(t, ok)
		assert.True(t, errors.Is(a.Send(ctx, envelope("bob", 1)), ws.ErrClosed))
	})
}

func Test_Transport_RateLimit(t *testing.T) {
	a, b := newTransports(t, func(c *ws.Config) {
		c.RateLimit = 0.1
		c.RateBurst = 1
	})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, a.Send(ctx, envelope("bob", 1)))
	}
	receive(t, b.Inbox())
	select {
	case <-b.Inbox():
		t.Fatal("envelope over the rate limit delivered")
	case <-time.After(200 * time.Millisecond):
	}
}

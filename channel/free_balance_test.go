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

package channel_test

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperledger-labs/perun-appchannel/channel"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	carol = common.HexToAddress("0x0000000000000000000000000000000000000003")
	token = common.HexToAddress("0x0000000000000000000000000000000000000e20")
)

func deltas(entries ...interface{}) channel.TokenIndexedBalances {
	d := make(channel.TokenIndexedBalances)
	for i := 0; i+2 < len(entries); i += 3 {
		d.Add(entries[i].(common.Address), entries[i+1].(common.Address), big.NewInt(int64(entries[i+2].(int))))
	}
	return d
}

func Test_FreeBalance_Increment(t *testing.T) {
	fb := channel.NewFreeBalance([2]common.Address{alice, bob})

	t.Run("happy", func(t *testing.T) {
		next, err := fb.Increment(deltas(channel.NativeAssetID, alice, 5, channel.NativeAssetID, bob, 3))
		require.NoError(t, err)
		assert.Equal(t, big.NewInt(5), next.BalanceOf(channel.NativeAssetID, alice))
		assert.Equal(t, big.NewInt(3), next.BalanceOf(channel.NativeAssetID, bob))
		assert.Equal(t, 0, fb.BalanceOf(channel.NativeAssetID, alice).Sign(), "receiver is not modified")
	})

	t.Run("new_token_and_addresses_appended_in_order", func(t *testing.T) {
		next, err := fb.Increment(deltas(token, bob, 1, token, carol, 2, token, alice, 3))
		require.NoError(t, err)
		assert.Equal(t, []common.Address{channel.NativeAssetID, token}, next.Tokens())
		balances := next.Balances(token)
		require.Len(t, balances, 3)
		assert.Equal(t, []common.Address{carol, alice, bob},
			[]common.Address{balances[0].To, balances[1].To, balances[2].To})
	})

	t.Run("err_negative_never_clamped", func(t *testing.T) {
		funded, err := fb.Increment(deltas(channel.NativeAssetID, alice, 1))
		require.NoError(t, err)

		for _, d := range []channel.TokenIndexedBalances{
			deltas(channel.NativeAssetID, alice, -2),
			deltas(channel.NativeAssetID, bob, -1),
			deltas(token, alice, -1),
			deltas(token, carol, -1),
		} {
			_, err := funded.Increment(d)
			require.Error(t, err)
			assert.True(t, errors.Is(err, channel.ErrNegativeBalance))
		}
		assert.Equal(t, big.NewInt(1), funded.BalanceOf(channel.NativeAssetID, alice))
	})

	t.Run("conservation", func(t *testing.T) {
		funded, err := fb.Increment(deltas(channel.NativeAssetID, alice, 7, token, bob, 4))
		require.NoError(t, err)
		d := deltas(channel.NativeAssetID, alice, 3, token, bob, 4)

		down, err := funded.Increment(d.Negate())
		require.NoError(t, err)
		up, err := down.Increment(d)
		require.NoError(t, err)
		assert.Equal(t, funded.ToTokenIndexedBalances(), up.ToTokenIndexedBalances())
	})
}

func Test_FreeBalance_ActiveApps(t *testing.T) {
	fb := channel.NewFreeBalance([2]common.Address{alice, bob})
	h1, h2 := common.Hash{1}, common.Hash{2}

	withApps, err := fb.AddActiveApp(h1)
	require.NoError(t, err)
	withApps, err = withApps.AddActiveApp(h2)
	require.NoError(t, err)
	assert.Equal(t, []common.Hash{h1, h2}, withApps.ActiveApps())

	_, err = withApps.AddActiveApp(h1)
	assert.True(t, errors.Is(err, channel.ErrAppExists))

	removed, err := withApps.RemoveActiveApp(h1)
	require.NoError(t, err)
	assert.Equal(t, []common.Hash{h2}, removed.ActiveApps())
	assert.Equal(t, []common.Hash{h1, h2}, withApps.ActiveApps(), "receiver is not modified")

	_, err = removed.RemoveActiveApp(h1)
	assert.True(t, errors.Is(err, channel.ErrUnknownApp))
}

func Test_FreeBalance_State_Roundtrip(t *testing.T) {
	fb := channel.NewFreeBalance([2]common.Address{alice, bob})
	fb, err := fb.Increment(deltas(channel.NativeAssetID, alice, 10, token, bob, 20, token, alice, 1))
	require.NoError(t, err)
	fb, err = fb.AddActiveApp(common.Hash{9})
	require.NoError(t, err)

	state, err := fb.ToState()
	require.NoError(t, err)
	decoded, err := channel.FreeBalanceFromState(state)
	require.NoError(t, err)

	assert.Equal(t, fb.Tokens(), decoded.Tokens())
	assert.Equal(t, fb.ActiveApps(), decoded.ActiveApps())
	for _, tok := range fb.Tokens() {
		want, got := fb.Balances(tok), decoded.Balances(tok)
		require.Len(t, got, len(want))
		for i := range want {
			assert.Equal(t, want[i].To, got[i].To)
			assert.Equal(t, 0, want[i].Amount.Cmp(got[i].Amount))
		}
	}

	again, err := decoded.ToState()
	require.NoError(t, err)
	assert.Equal(t, string(state), string(again))
}

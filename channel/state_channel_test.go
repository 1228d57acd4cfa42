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
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/kylelemons/godebug/pretty"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperledger-labs/perun-appchannel/channel"
	"github.com/hyperledger-labs/perun-appchannel/channel/channeltest"
	"github.com/hyperledger-labs/perun-appchannel/identity"
)

func Test_SetupChannel(t *testing.T) {
	a, b := channeltest.NewSigners(t)
	ch := channeltest.NewSetupChannel(t, a, b)

	assert.EqualValues(t, 1, ch.NumProposedApps())
	assert.Empty(t, ch.ProposedAppInstances())
	assert.Empty(t, ch.AppInstances())
	require.True(t, ch.HasFreeBalance())
	assert.EqualValues(t, 0, ch.FreeBalanceAppInstance().LatestVersionNumber())
	assert.Equal(t, [2]common.Address{a.Address(), b.Address()}, ch.MultisigOwners())

	fb, err := ch.FreeBalance()
	require.NoError(t, err)
	assert.Equal(t, []common.Address{channel.NativeAssetID}, fb.Tokens())
	assert.Equal(t, 0, fb.BalanceOf(channel.NativeAssetID, a.Address()).Sign())
	assert.Equal(t, 0, fb.BalanceOf(channel.NativeAssetID, b.Address()).Sign())
	assert.Len(t, fb.Balances(channel.NativeAssetID), 2)
	assert.Empty(t, fb.ActiveApps())

	t.Run("err_same_identifiers", func(t *testing.T) {
		network := channeltest.NetworkContext()
		_, err := channel.SetupChannel(network.IdentityApp, network.CriticalAddresses(), common.Address{1},
			a.PublicIdentifier(), a.PublicIdentifier())
		require.Error(t, err)
	})
}

func Test_AddProposal_RemoveProposal(t *testing.T) {
	a, b := channeltest.NewSigners(t)
	ch := channeltest.NewSetupChannel(t, a, b)
	proposal := channeltest.NewProposal(t, ch, a, b, 2, 0)

	withProposal, err := ch.AddProposal(proposal)
	require.NoError(t, err)
	assert.EqualValues(t, 2, withProposal.NumProposedApps())
	got, ok := withProposal.ProposedAppInstance(proposal.IdentityHash())
	require.True(t, ok)
	assert.Equal(t, proposal.IdentityHash(), got.IdentityHash())

	// The original value is not modified.
	assert.EqualValues(t, 1, ch.NumProposedApps())
	assert.Empty(t, ch.ProposedAppInstances())

	t.Run("err_duplicate", func(t *testing.T) {
		_, err := withProposal.AddProposal(proposal)
		require.Error(t, err)
		assert.True(t, errors.Is(err, channel.ErrAppExists))
	})

	t.Run("remove_is_idempotent", func(t *testing.T) {
		once := withProposal.RemoveProposal(proposal.IdentityHash())
		twice := once.RemoveProposal(proposal.IdentityHash())
		assert.Empty(t, once.ProposedAppInstances())
		assert.Empty(t, twice.ProposedAppInstances())
		assert.Equal(t, once.JSON(), twice.JSON())
		assert.EqualValues(t, 2, twice.NumProposedApps(), "counter never decreases")
	})
}

func Test_InstallApp_UninstallApp(t *testing.T) {
	a, b := channeltest.NewSigners(t)
	ch := channeltest.Fund(t, channeltest.NewSetupChannel(t, a, b), a, b, 10, 5)
	before, err := ch.FreeBalance()
	require.NoError(t, err)

	proposal := channeltest.NewProposal(t, ch, a, b, 2, 0)
	ch, err = ch.AddProposal(proposal)
	require.NoError(t, err)

	installed, err := ch.InstallApp(proposal, proposal.Decrements())
	require.NoError(t, err)
	_, stillProposed := installed.ProposedAppInstance(proposal.IdentityHash())
	assert.False(t, stillProposed)
	_, isInstalled := installed.AppInstance(proposal.IdentityHash())
	assert.True(t, isInstalled)

	fb, err := installed.FreeBalance()
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(8), fb.BalanceOf(channel.NativeAssetID, a.Address()))
	assert.Equal(t, big.NewInt(5), fb.BalanceOf(channel.NativeAssetID, b.Address()))
	assert.Equal(t, []common.Hash{proposal.IdentityHash()}, fb.ActiveApps())
	assert.Equal(t, ch.FreeBalanceAppInstance().LatestVersionNumber()+1,
		installed.FreeBalanceAppInstance().LatestVersionNumber())

	uninstalled, err := installed.UninstallApp(proposal.IdentityHash(), proposal.Decrements())
	require.NoError(t, err)
	after, err := uninstalled.FreeBalance()
	require.NoError(t, err)
	assert.Empty(t, uninstalled.AppInstances())
	assert.Empty(t, after.ActiveApps())
	assert.Equal(t, before.ToTokenIndexedBalances(), after.ToTokenIndexedBalances(), "balances are conserved")

	t.Run("err_negative_balance", func(t *testing.T) {
		greedy := channeltest.NewProposal(t, ch, a, b, 11, 0)
		_, err := ch.InstallApp(greedy, greedy.Decrements())
		require.Error(t, err)
		assert.True(t, errors.Is(err, channel.ErrNegativeBalance))
	})

	t.Run("err_unknown_app_uninstall", func(t *testing.T) {
		_, err := ch.UninstallApp(common.Hash{1}, nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, channel.ErrUnknownApp))
	})

	t.Run("err_participant_mismatch", func(t *testing.T) {
		stranger, err := identity.NewRandomSigner()
		require.NoError(t, err)
		j := proposal.JSON()
		j.IdentityHash = common.Hash{}
		j.Participants[1] = stranger.Address()
		forged, err := channel.NewAppInstance(j)
		require.NoError(t, err)

		_, err = ch.InstallApp(forged, forged.Decrements())
		require.Error(t, err)
		assert.True(t, errors.Is(err, channel.ErrParticipantMismatch))
	})

	t.Run("err_other_identifiers", func(t *testing.T) {
		c, d := channeltest.NewSigners(t)
		other := channeltest.NewProposal(t, channeltest.NewSetupChannel(t, c, d), c, d, 0, 0)
		_, err := ch.InstallApp(other, other.Decrements())
		require.Error(t, err)
		assert.True(t, errors.Is(err, channel.ErrParticipantMismatch))
	})
}

func Test_SetState(t *testing.T) {
	a, b := channeltest.NewSigners(t)
	ch := channeltest.NewSetupChannel(t, a, b)
	app := channeltest.NewProposal(t, ch, a, b, 0, 0)
	ch, err := ch.InstallApp(app, app.Decrements())
	require.NoError(t, err)

	newState := channeltest.TransferState([2]common.Address{a.Address(), b.Address()},
		[2]*big.Int{big.NewInt(0), big.NewInt(0)})
	fbBefore := ch.FreeBalanceAppInstance().JSON()

	version := app.LatestVersionNumber()
	for i := 0; i < 3; i++ {
		ch, err = ch.SetState(app.IdentityHash(), newState, big.NewInt(10))
		require.NoError(t, err)
		updated, ok := ch.AppInstance(app.IdentityHash())
		require.True(t, ok)
		assert.Equal(t, version+1, updated.LatestVersionNumber())
		assert.Equal(t, app.AppSeqNo(), updated.AppSeqNo())
		assert.Equal(t, big.NewInt(10), updated.StateTimeout())
		version = updated.LatestVersionNumber()
	}
	assert.Equal(t, fbBefore, ch.FreeBalanceAppInstance().JSON(), "free balance is untouched")

	t.Run("err_older_version", func(t *testing.T) {
		_, err := ch.UpdateAppInstance(app)
		require.Error(t, err)
		assert.True(t, errors.Is(err, channel.ErrInvalidVersion))
	})

	t.Run("err_state_not_matching_encoding", func(t *testing.T) {
		_, err := ch.SetState(app.IdentityHash(), json.RawMessage(`{"foo": 1}`), nil)
		require.Error(t, err)
	})

	t.Run("err_unknown_app", func(t *testing.T) {
		_, err := ch.SetState(common.Hash{2}, newState, nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, channel.ErrUnknownApp))
	})
}

func Test_StateChannel_JSON_Roundtrip(t *testing.T) {
	a, b := channeltest.NewSigners(t)
	ch := channeltest.Fund(t, channeltest.NewSetupChannel(t, a, b), a, b, 10, 10)

	installed := channeltest.NewProposal(t, ch, a, b, 1, 1)
	ch, err := ch.AddProposal(installed)
	require.NoError(t, err)
	ch, err = ch.InstallApp(installed, installed.Decrements())
	require.NoError(t, err)
	proposal := channeltest.NewProposal(t, ch, b, a, 3, 0)
	ch, err = ch.AddProposal(proposal)
	require.NoError(t, err)

	data, err := json.Marshal(ch)
	require.NoError(t, err)

	var decoded channel.StateChannel
	require.NoError(t, json.Unmarshal(data, &decoded))

	if diff := pretty.Compare(ch.JSON(), decoded.JSON()); diff != "" {
		t.Errorf("snapshot differs after round trip (-want +got):\n%s", diff)
	}
	assert.Equal(t, ch.NumProposedApps(), decoded.NumProposedApps())
	require.Len(t, decoded.ProposedAppInstances(), 1)
	require.Len(t, decoded.AppInstances(), 1)
	assert.Equal(t, proposal.IdentityHash(), decoded.ProposedAppInstances()[0].IdentityHash())
	assert.Equal(t, installed.IdentityHash(), decoded.AppInstances()[0].IdentityHash())

	again, err := json.Marshal(&decoded)
	require.NoError(t, err)
	assert.Equal(t, string(data), string(again))

	t.Run("big_numbers_as_hex_wrapper", func(t *testing.T) {
		assert.Contains(t, string(data), `"_isBigNumber":true`)
	})

	t.Run("err_tampered_key", func(t *testing.T) {
		j := ch.JSON()
		j.AppInstances[0].IdentityHash = common.Hash{3}
		_, err := channel.FromJSON(j)
		require.Error(t, err)
	})

	t.Run("err_both_proposed_and_installed", func(t *testing.T) {
		j := ch.JSON()
		j.ProposedAppInstances = append(j.ProposedAppInstances, j.AppInstances[0])
		_, err := channel.FromJSON(j)
		require.Error(t, err)
	})
}

func Test_Replay(t *testing.T) {
	a, b := channeltest.NewSigners(t)
	ch := channeltest.Fund(t, channeltest.NewSetupChannel(t, a, b), a, b, 4, 4)
	app := channeltest.NewProposal(t, ch, a, b, 2, 2)
	proposed, err := ch.AddProposal(app)
	require.NoError(t, err)
	installed, err := proposed.InstallApp(app, app.Decrements())
	require.NoError(t, err)
	uninstalled, err := installed.UninstallApp(app.IdentityHash(), app.Decrements())
	require.NoError(t, err)

	t.Run("uninstall", func(t *testing.T) {
		replayed, err := installed.Replay(uninstalled.FreeBalanceAppInstance(), nil, []common.Hash{app.IdentityHash()})
		require.NoError(t, err)
		assert.Equal(t, uninstalled.JSON(), replayed.JSON())
	})
	t.Run("install", func(t *testing.T) {
		replayed, err := proposed.Replay(installed.FreeBalanceAppInstance(), []*channel.AppInstance{app}, nil)
		require.NoError(t, err)
		assert.Equal(t, installed.JSON(), replayed.JSON())
	})
	t.Run("err_free_balance_lists_app", func(t *testing.T) {
		_, err := installed.Replay(installed.FreeBalanceAppInstance(), nil, []common.Hash{app.IdentityHash()})
		require.Error(t, err)
	})
	t.Run("err_free_balance_misses_app", func(t *testing.T) {
		_, err := proposed.Replay(uninstalled.FreeBalanceAppInstance(), []*channel.AppInstance{app}, nil)
		require.Error(t, err)
	})
}

func Test_MultisigAddress(t *testing.T) {
	a, b := channeltest.NewSigners(t)
	addresses := channeltest.NetworkContext().CriticalAddresses()
	owners := [2]common.Address{a.Address(), b.Address()}

	first := channel.MultisigAddress(addresses, owners)
	assert.Equal(t, first, channel.MultisigAddress(addresses, owners), "deterministic")
	assert.NotEqual(t, first, channel.MultisigAddress(addresses, [2]common.Address{b.Address(), a.Address()}))
	assert.NotEqual(t, common.Address{}, first)
}

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

// Package storetest is a conformance suite for perun.Store implementations.
package storetest

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/kylelemons/godebug/pretty"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperledger-labs/perun-appchannel"
	"github.com/hyperledger-labs/perun-appchannel/channel"
	"github.com/hyperledger-labs/perun-appchannel/channel/channeltest"
	"github.com/hyperledger-labs/perun-appchannel/commitment"
	"github.com/hyperledger-labs/perun-appchannel/commitment/commitmenttest"
)

// Run runs the suite. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) perun.Store) {
	network := channeltest.NetworkContext()
	ctx := context.Background()

	a, b := channeltest.NewSigners(t)
	funded := channeltest.Fund(t, channeltest.NewSetupChannel(t, a, b), a, b, 10, 5)
	proposal := channeltest.NewProposal(t, funded, a, b, 2, 0)
	proposed, err := funded.AddProposal(proposal)
	require.NoError(t, err)
	installed, err := proposed.InstallApp(proposal, proposal.Decrements())
	require.NoError(t, err)

	t.Run("not_found", func(t *testing.T) {
		s := newStore(t)
		defer s.Close() // nolint: errcheck

		_, err := s.GetStateChannel(ctx, funded.MultisigAddress())
		assert.True(t, errors.Is(err, perun.ErrRecordNotFound), "channel: %v", err)
		_, err = s.GetStateChannelByAppIdentityHash(ctx, proposal.IdentityHash())
		assert.True(t, errors.Is(err, perun.ErrRecordNotFound), "app index: %v", err)
		_, err = s.GetSetStateCommitment(ctx, proposal.IdentityHash())
		assert.True(t, errors.Is(err, perun.ErrRecordNotFound), "set state: %v", err)
		_, err = s.GetConditionalTransactionCommitment(ctx, proposal.IdentityHash())
		assert.True(t, errors.Is(err, perun.ErrRecordNotFound), "conditional tx: %v", err)
		_, err = s.GetWithdrawCommitment(ctx, funded.MultisigAddress())
		assert.True(t, errors.Is(err, perun.ErrRecordNotFound), "withdraw: %v", err)
		err = s.RemoveAppProposal(ctx, funded.MultisigAddress(), proposal.IdentityHash())
		assert.True(t, errors.Is(err, perun.ErrRecordNotFound), "remove proposal: %v", err)
	})

	t.Run("schema_version", func(t *testing.T) {
		s := newStore(t)
		defer s.Close() // nolint: errcheck

		version, err := s.GetSchemaVersion(ctx)
		require.NoError(t, err)
		assert.Zero(t, version)
		require.NoError(t, s.UpdateSchemaVersion(ctx, channel.SchemaVersion))
		version, err = s.GetSchemaVersion(ctx)
		require.NoError(t, err)
		assert.Equal(t, channel.SchemaVersion, version)
	})

	t.Run("save_get_channel", func(t *testing.T) {
		s := newStore(t)
		defer s.Close() // nolint: errcheck

		proposalCommitment := commitmenttest.SignedSetState(t, network, proposal, a, b)
		require.NoError(t, s.SaveStateChannel(ctx, proposed, perun.Commitments{
			SetState: []*commitment.SetStateCommitment{proposalCommitment},
		}))

		got, err := s.GetStateChannel(ctx, proposed.MultisigAddress())
		require.NoError(t, err)
		assertSameChannel(t, proposed, got)

		got, err = s.GetStateChannelByAppIdentityHash(ctx, proposal.IdentityHash())
		require.NoError(t, err)
		assertSameChannel(t, proposed, got)
		got, err = s.GetStateChannelByAppIdentityHash(ctx, proposed.FreeBalanceAppInstance().IdentityHash())
		require.NoError(t, err)
		assertSameChannel(t, proposed, got)

		c, err := s.GetSetStateCommitment(ctx, proposal.IdentityHash())
		require.NoError(t, err)
		assert.True(t, c.Signed())
		assert.Equal(t, proposalCommitment.HashToSign(), c.HashToSign())
	})

	t.Run("later_save_replaces_commitments", func(t *testing.T) {
		s := newStore(t)
		defer s.Close() // nolint: errcheck

		fbHash := proposed.FreeBalanceAppInstance().IdentityHash()
		require.NoError(t, s.SaveStateChannel(ctx, proposed, perun.Commitments{
			SetState: []*commitment.SetStateCommitment{
				commitmenttest.SignedSetState(t, network, proposed.FreeBalanceAppInstance(), a, b),
			},
		}))
		condTx := commitmenttest.SignedConditionalTx(t, network, installed, proposal, a, b)
		require.NoError(t, s.SaveStateChannel(ctx, installed, perun.Commitments{
			SetState: []*commitment.SetStateCommitment{
				commitmenttest.SignedSetState(t, network, installed.FreeBalanceAppInstance(), a, b),
			},
			ConditionalTx: []*commitment.ConditionalTransactionCommitment{condTx},
		}))

		c, err := s.GetSetStateCommitment(ctx, fbHash)
		require.NoError(t, err)
		assert.Equal(t, installed.FreeBalanceAppInstance().LatestVersionNumber(), c.VersionNumber())

		gotCondTx, err := s.GetConditionalTransactionCommitment(ctx, proposal.IdentityHash())
		require.NoError(t, err)
		assert.True(t, gotCondTx.Signed())
		assert.Equal(t, condTx.HashToSign(), gotCondTx.HashToSign())

		got, err := s.GetStateChannel(ctx, installed.MultisigAddress())
		require.NoError(t, err)
		assertSameChannel(t, installed, got)
	})

	t.Run("remove_app_proposal_idempotent", func(t *testing.T) {
		s := newStore(t)
		defer s.Close() // nolint: errcheck

		require.NoError(t, s.SaveStateChannel(ctx, proposed, perun.Commitments{}))
		for i := 0; i < 2; i++ {
			require.NoError(t, s.RemoveAppProposal(ctx, proposed.MultisigAddress(), proposal.IdentityHash()))
			got, err := s.GetStateChannel(ctx, proposed.MultisigAddress())
			require.NoError(t, err)
			assert.Empty(t, got.ProposedAppInstances())
			assert.Equal(t, proposed.NumProposedApps(), got.NumProposedApps())
		}
	})

	t.Run("all_channels", func(t *testing.T) {
		s := newStore(t)
		defer s.Close() // nolint: errcheck

		c, d := channeltest.NewSigners(t)
		other := channeltest.NewSetupChannel(t, c, d)
		require.NoError(t, s.SaveStateChannel(ctx, proposed, perun.Commitments{}))
		require.NoError(t, s.SaveStateChannel(ctx, other, perun.Commitments{}))
		require.NoError(t, s.SaveStateChannel(ctx, installed, perun.Commitments{}))

		all, err := s.GetAllStateChannels(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		byMultisig := make(map[common.Address]*channel.StateChannel)
		for _, ch := range all {
			byMultisig[ch.MultisigAddress()] = ch
		}
		assertSameChannel(t, installed, byMultisig[installed.MultisigAddress()])
		assertSameChannel(t, other, byMultisig[other.MultisigAddress()])
	})

	t.Run("withdraw_commitment", func(t *testing.T) {
		s := newStore(t)
		defer s.Close() // nolint: errcheck

		w, err := commitment.NewWithdrawCommitment(funded.MultisigAddress(), funded.MultisigOwners(),
			a.Address(), channel.NativeAssetID, big.NewInt(3))
		require.NoError(t, err)
		require.NoError(t, s.SaveWithdrawCommitment(ctx, funded.MultisigAddress(), w))

		got, err := s.GetWithdrawCommitment(ctx, funded.MultisigAddress())
		require.NoError(t, err)
		assert.Equal(t, commitment.AssetNative, got.Kind())
		assert.Equal(t, a.Address(), got.Recipient())
		assert.Equal(t, int64(3), got.Amount().Int64())
		assert.Equal(t, w.HashToSign(), got.HashToSign())
	})
}

func assertSameChannel(t *testing.T, want, got *channel.StateChannel) {
	t.Helper()
	require.NotNil(t, got)
	wantJSON, err := json.Marshal(want)
	require.NoError(t, err)
	gotJSON, err := json.Marshal(got)
	require.NoError(t, err)
	if diff := pretty.Compare(want.JSON(), got.JSON()); diff != "" {
		t.Logf("channel diff (-want +got):\n%s", diff)
	}
	assert.JSONEq(t, string(wantJSON), string(gotJSON))
}

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

package session_test

import (
	"context"
	"encoding/json"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	copyutil "github.com/otiai10/copy"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperledger-labs/perun-appchannel"
	"github.com/hyperledger-labs/perun-appchannel/channel"
	"github.com/hyperledger-labs/perun-appchannel/channel/channeltest"
	"github.com/hyperledger-labs/perun-appchannel/comm/local"
	"github.com/hyperledger-labs/perun-appchannel/identity"
	"github.com/hyperledger-labs/perun-appchannel/protocol"
	"github.com/hyperledger-labs/perun-appchannel/session"
)

func Test_New(t *testing.T) {
	bus := local.NewBus()
	signer, err := identity.NewRandomSigner()
	require.NoError(t, err)
	endpoint, err := bus.Connect(signer.PublicIdentifier())
	require.NoError(t, err)

	t.Run("err_no_apps", func(t *testing.T) {
		_, apiErr := session.New(session.Config{ResponseTimeout: time.Second}, signer, endpoint, nil, nil)
		require.NotNil(t, apiErr)
		assert.Equal(t, perun.ErrInvalidConfig, apiErr.Code())
	})
	t.Run("err_no_timeout", func(t *testing.T) {
		_, apiErr := session.New(session.Config{Apps: newRegistry(t)}, signer, endpoint, nil, nil)
		require.NotNil(t, apiErr)
		assert.Equal(t, perun.ErrInvalidConfig, apiErr.Code())
	})
}

func Test_Session_ChannelLifecycle(t *testing.T) {
	ctx := context.Background()
	a, b := newUsers(t)

	created := awaitEvent(t, b.Session, perun.EventChannelCreated)
	ch, apiErr := a.CreateChannel(ctx, b.Identifier())
	require.Nil(t, apiErr)
	multisig := ch.MultisigAddress()
	ev := created()
	assert.Equal(t, a.Identifier(), ev.From)
	data, ok := ev.Data.(session.CreateChannelEventData)
	require.True(t, ok)
	assert.Equal(t, multisig, data.MultisigAddress)
	assert.Equal(t, a.Identifier(), data.Counterparty)

	for _, u := range []*user{a, b} {
		addrs, apiErr := u.GetChannelAddresses(ctx)
		require.Nil(t, apiErr)
		assert.Equal(t, []common.Address{multisig}, addrs)
	}
	fund(t, a, b, multisig, 10, 5)
	assertBalances(t, multisig, a, b, 10, 5)

	proposed := awaitEvent(t, b.Session, perun.EventProposeInstall)
	hash, apiErr := a.ProposeInstall(ctx, transferParams(multisig, a, b, 2, 0))
	require.Nil(t, apiErr)
	assert.Equal(t, hash, proposed().Data.(session.AppEventData).AppIdentityHash)
	proposals, apiErr := b.GetProposedAppInstances(ctx, multisig)
	require.Nil(t, apiErr)
	require.Len(t, proposals, 1)
	assert.Equal(t, hash, proposals[0].IdentityHash())

	installed := awaitEvent(t, b.Session, perun.EventInstall)
	inst, apiErr := a.Install(ctx, hash)
	require.Nil(t, apiErr)
	assert.Equal(t, hash, inst.IdentityHash())
	installed()
	assertBalances(t, multisig, a, b, 8, 5)
	got, apiErr := b.GetAppInstance(ctx, hash)
	require.Nil(t, apiErr)
	assert.Equal(t, hash, got.IdentityHash())

	// The receiver updates the transfer to pay itself.
	updated := awaitEvent(t, a.Session, perun.EventUpdateState)
	players := [2]common.Address{a.signer.Address(), b.signer.Address()}
	inst, apiErr = b.UpdateState(ctx, hash,
		channeltest.TransferState(players, [2]*big.Int{big.NewInt(0), big.NewInt(2)}), nil)
	require.Nil(t, apiErr)
	assert.EqualValues(t, 2, inst.LatestVersionNumber())
	assert.EqualValues(t, 2, updated().Data.(session.UpdateStateEventData).VersionNumber)

	uninstalled := awaitEvent(t, b.Session, perun.EventUninstall)
	_, apiErr = a.Uninstall(ctx, hash, nil)
	require.Nil(t, apiErr)
	uninstalled()
	assertBalances(t, multisig, a, b, 8, 7)
	apps, apiErr := a.GetAppInstances(ctx, multisig)
	require.Nil(t, apiErr)
	assert.Empty(t, apps)

	t.Run("withdraw_commitment", func(t *testing.T) {
		c, sig, apiErr := a.CreateWithdrawCommitment(ctx, multisig, a.signer.Address(), channel.NativeAssetID,
			big.NewInt(8))
		require.Nil(t, apiErr)
		assert.Equal(t, a.signer.Address(), c.Recipient())
		signer, err := identity.RecoverAddress(c.HashToSign(), sig)
		require.NoError(t, err)
		assert.Equal(t, a.signer.Address(), signer)
		stored, err := a.store.GetWithdrawCommitment(ctx, multisig)
		require.NoError(t, err)
		assert.Equal(t, c.HashToSign(), stored.HashToSign())
	})
	t.Run("err_withdraw_exceeds_balance", func(t *testing.T) {
		_, _, apiErr := a.CreateWithdrawCommitment(ctx, multisig, a.signer.Address(), channel.NativeAssetID,
			big.NewInt(9))
		require.NotNil(t, apiErr)
		assert.Equal(t, perun.ErrInvalidArgument, apiErr.Code())
	})
}

func Test_Session_RejectInstall(t *testing.T) {
	ctx := context.Background()
	a, b := newUsers(t)
	multisig := createChannel(t, a, b)

	proposed := awaitEvent(t, b.Session, perun.EventProposeInstall)
	hash, apiErr := a.ProposeInstall(ctx, transferParams(multisig, a, b, 0, 0))
	require.Nil(t, apiErr)
	proposed()

	rejected := awaitEvent(t, a.Session, perun.EventRejectInstall)
	require.Nil(t, b.RejectInstall(ctx, hash))
	assert.Equal(t, hash, rejected().Data.(session.AppEventData).AppIdentityHash)
	for _, u := range []*user{a, b} {
		proposals, apiErr := u.GetProposedAppInstances(ctx, multisig)
		require.Nil(t, apiErr)
		assert.Empty(t, proposals)
	}

	t.Run("err_not_a_proposal", func(t *testing.T) {
		apiErr := b.RejectInstall(ctx, hash)
		require.NotNil(t, apiErr)
		assert.Equal(t, perun.ErrResourceNotFound, apiErr.Code())
	})
}

func Test_Session_Errors(t *testing.T) {
	ctx := context.Background()
	a, b := newUsers(t)
	multisig := createChannel(t, a, b)

	t.Run("unknown_counterparty", func(t *testing.T) {
		_, apiErr := a.CreateChannel(ctx, "unknown-alias")
		require.NotNil(t, apiErr)
		assert.Equal(t, perun.ErrInvalidArgument, apiErr.Code())
	})
	t.Run("channel_exists", func(t *testing.T) {
		_, apiErr := a.CreateChannel(ctx, b.Identifier())
		require.NotNil(t, apiErr)
		assert.Equal(t, perun.ErrResourceExists, apiErr.Code())
	})
	t.Run("unknown_channel", func(t *testing.T) {
		_, apiErr := a.GetStateChannel(ctx, common.HexToAddress("0x01"))
		require.NotNil(t, apiErr)
		assert.Equal(t, perun.ErrResourceNotFound, apiErr.Code())
	})
	t.Run("unknown_app", func(t *testing.T) {
		_, apiErr := a.Install(ctx, common.HexToHash("0x01"))
		require.NotNil(t, apiErr)
		assert.Equal(t, perun.ErrResourceNotFound, apiErr.Code())
	})
	t.Run("insufficient_funds", func(t *testing.T) {
		failed := awaitEvent(t, a.Session, perun.EventProposeInstall.Failed())
		_, apiErr := a.ProposeInstall(ctx, transferParams(multisig, a, b, 1, 0))
		require.NotNil(t, apiErr)
		assert.Equal(t, perun.ErrInvalidArgument, apiErr.Code())
		assert.NotEmpty(t, failed().Data.(session.FailedEventData).Error)
	})
}

func Test_Session_Timeout(t *testing.T) {
	ctx := context.Background()
	a, b := newUsers(t)
	multisig := createChannel(t, a, b)

	b.messenger.drop.Store(true)
	failed := awaitEvent(t, a.Session, perun.EventProposeInstall.Failed())
	start := time.Now()
	_, apiErr := a.ProposeInstall(ctx, transferParams(multisig, a, b, 0, 0))
	require.NotNil(t, apiErr)
	assert.Equal(t, perun.ErrPeerRequestTimedOut, apiErr.Code())
	assert.GreaterOrEqual(t, int64(time.Since(start)), int64(responseTimeout))
	failed()
	assert.False(t, a.locks.IsHeld(multisig.Hex()))

	proposals, apiErr := a.GetProposedAppInstances(ctx, multisig)
	require.Nil(t, apiErr)
	assert.Empty(t, proposals)

	b.messenger.drop.Store(false)
	proposed := awaitEvent(t, b.Session, perun.EventProposeInstall)
	_, apiErr = a.ProposeInstall(ctx, transferParams(multisig, a, b, 0, 0))
	require.Nil(t, apiErr)
	proposed()
}

func Test_Session_FailedRunReleasesLock(t *testing.T) {
	tests := []struct {
		name          string
		amount        int64
		rejectOnPeer  bool
		wantErrorCode perun.ErrorCode
	}{
		{name: "initiator_fails", amount: 1, wantErrorCode: perun.ErrInvalidArgument},
		{name: "responder_fails", amount: 0, rejectOnPeer: true},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			a, b := newUsers(t)
			multisig := createChannel(t, a, b)

			failedA := awaitEvent(t, a.Session, perun.EventProposeInstall.Failed())
			failedB := func() session.Event { return session.Event{} }
			if tc.rejectOnPeer {
				require.NoError(t, b.RegisterValidator(func(_ context.Context, _ perun.ProtocolName,
					vc protocol.ValidationContext) error {
					if vc.Role == protocol.Responder {
						return errors.New("rejected by test")
					}
					return nil
				}))
				failedB = awaitEvent(t, b.Session, perun.EventProposeInstall.Failed())
			}

			_, apiErr := a.ProposeInstall(ctx, transferParams(multisig, a, b, tc.amount, 0))
			require.NotNil(t, apiErr)
			if tc.wantErrorCode != 0 {
				assert.Equal(t, tc.wantErrorCode, apiErr.Code())
			}
			failedA()
			failedB()
			assert.False(t, a.locks.IsHeld(multisig.Hex()))
			assert.False(t, b.locks.IsHeld(multisig.Hex()))
		})
	}
}

// Test_Session_SyncOnStart restores a database of b that misses a proposal
// and checks that the proposal is recovered from a when b is started.
func Test_Session_SyncOnStart(t *testing.T) {
	ctx := context.Background()
	bus := local.NewBus()
	signerA, signerB := channeltest.NewSigners(t)
	dirA, dirB, backup := t.TempDir(), t.TempDir(), t.TempDir()

	a := newUser(t, bus, signerA, openSQLStore(t, dirA))
	t.Cleanup(func() { a.Close() }) // nolint: errcheck
	b := newUser(t, bus, signerB, openSQLStore(t, dirB))
	multisig := createChannel(t, a, b)

	require.Nil(t, b.Close())
	require.NoError(t, copyutil.Copy(dirB, backup))

	b = newUser(t, bus, signerB, openSQLStore(t, dirB))
	proposed := awaitEvent(t, b.Session, perun.EventProposeInstall)
	hash, apiErr := a.ProposeInstall(ctx, transferParams(multisig, a, b, 0, 0))
	require.Nil(t, apiErr)
	proposed()
	require.Nil(t, b.Close())

	require.NoError(t, os.RemoveAll(dirB))
	require.NoError(t, copyutil.Copy(backup, dirB))
	restored := openSQLStore(t, dirB)
	ch, err := restored.GetStateChannel(ctx, multisig)
	require.NoError(t, err)
	require.Empty(t, ch.ProposedAppInstances())

	b = newUser(t, bus, signerB, restored)
	t.Cleanup(func() { b.Close() }) // nolint: errcheck
	chA, apiErr := a.GetStateChannel(ctx, multisig)
	require.Nil(t, apiErr)
	chB, apiErr := b.GetStateChannel(ctx, multisig)
	require.Nil(t, apiErr)
	assert.Equal(t, chA.NumProposedApps(), chB.NumProposedApps())
	_, ok := chB.ProposedAppInstance(hash)
	assert.True(t, ok)
}

func Test_Session_Events(t *testing.T) {
	ctx := context.Background()
	a, b := newUsers(t)
	multisig := createChannel(t, a, b)

	var on, once collector
	sub := a.On(perun.EventProposeInstall, on.handle)
	a.Once(perun.EventProposeInstall, once.handle)
	for i := 0; i < 2; i++ {
		_, apiErr := a.ProposeInstall(ctx, transferParams(multisig, a, b, 0, 0))
		require.Nil(t, apiErr)
	}
	assert.Eventually(t, func() bool { return on.len() == 2 && once.len() == 1 }, eventTimeout, 10*time.Millisecond)

	a.Off(sub)
	other := a.On(perun.EventProposeInstall, on.handle)
	a.OffAll()
	// A subscription taken afterwards still works.
	next := awaitEvent(t, a.Session, perun.EventProposeInstall)
	_, apiErr := a.ProposeInstall(ctx, transferParams(multisig, a, b, 0, 0))
	require.Nil(t, apiErr)
	next()
	assert.Equal(t, 2, on.len())
	a.Off(other)
}

func Test_Session_Call(t *testing.T) {
	ctx := context.Background()
	a, b := newUsers(t)

	created := awaitEvent(t, b.Session, perun.EventChannelCreated)
	res, apiErr := a.Call(ctx, session.MethodCreateChannel,
		json.RawMessage(`{"counterparty":"`+b.Identifier()+`"}`))
	require.Nil(t, apiErr)
	multisig := res.(session.StateChannelResult).StateChannel.MultisigAddress()
	created()

	res, apiErr = a.Call(ctx, session.MethodGetChannelAddresses, nil)
	require.Nil(t, apiErr)
	assert.Equal(t, []common.Address{multisig}, res.(session.ChannelAddressesResult).MultisigAddresses)

	params, err := json.Marshal(transferParams(multisig, a, b, 0, 0))
	require.NoError(t, err)
	res, apiErr = a.Call(ctx, session.MethodProposeInstall, params)
	require.Nil(t, apiErr)
	hash := res.(session.ProposeInstallResult).AppIdentityHash

	res, apiErr = a.Call(ctx, session.MethodGetAppInstance,
		json.RawMessage(`{"appIdentityHash":"`+hash.Hex()+`"}`))
	require.Nil(t, apiErr)
	assert.Equal(t, hash, res.(session.AppInstanceResult).AppInstance.IdentityHash())

	res, apiErr = a.Call(ctx, session.MethodGetFreeBalanceState,
		json.RawMessage(`{"multisigAddress":"`+multisig.Hex()+`"}`))
	require.Nil(t, apiErr)
	balances := res.(session.FreeBalanceStateResult)
	assert.Zero(t, balances[a.signer.Address()].Int().Sign())

	t.Run("err_unknown_method", func(t *testing.T) {
		_, apiErr := a.Call(ctx, "chan_unknown", nil)
		require.NotNil(t, apiErr)
		assert.Equal(t, perun.ErrInvalidArgument, apiErr.Code())
	})
	t.Run("err_invalid_params", func(t *testing.T) {
		_, apiErr := a.Call(ctx, session.MethodGetStateChannel, json.RawMessage(`{"multisigAddress":5}`))
		require.NotNil(t, apiErr)
		assert.Equal(t, perun.ErrInvalidArgument, apiErr.Code())
	})
	t.Run("result_marshals", func(t *testing.T) {
		res, apiErr := a.Call(ctx, session.MethodSync, json.RawMessage(`{"multisigAddress":"`+multisig.Hex()+`"}`))
		require.Nil(t, apiErr)
		raw, err := json.Marshal(res)
		require.NoError(t, err)
		assert.Contains(t, string(raw), hexutil.Encode(multisig.Bytes()))
	})
}

func Test_Session_Closed(t *testing.T) {
	a, b := newUsers(t)
	require.Nil(t, a.Close())

	apiErr := a.Close()
	require.NotNil(t, apiErr)
	assert.Equal(t, perun.ErrFailedPreCondition, apiErr.Code())
	_, apiErr = a.CreateChannel(context.Background(), b.Identifier())
	require.NotNil(t, apiErr)
	assert.Equal(t, perun.ErrFailedPreCondition, apiErr.Code())
}

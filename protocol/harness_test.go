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

package protocol_test

import (
	"context"
	"encoding/json"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperledger-labs/perun-appchannel"
	"github.com/hyperledger-labs/perun-appchannel/abiencoding"
	"github.com/hyperledger-labs/perun-appchannel/app"
	"github.com/hyperledger-labs/perun-appchannel/app/linkedtransfer"
	"github.com/hyperledger-labs/perun-appchannel/app/simpletransfer"
	"github.com/hyperledger-labs/perun-appchannel/channel"
	"github.com/hyperledger-labs/perun-appchannel/channel/channeltest"
	"github.com/hyperledger-labs/perun-appchannel/commitment"
	"github.com/hyperledger-labs/perun-appchannel/commitment/commitmenttest"
	"github.com/hyperledger-labs/perun-appchannel/identity"
	"github.com/hyperledger-labs/perun-appchannel/protocol"
	"github.com/hyperledger-labs/perun-appchannel/store/dsstore"
)

const defaultTimeout = 500 * time.Millisecond

var linkedTransferAppDefinition = common.HexToAddress("0x00000000000000000000000000000000000a0002")

// node is a user of the in-test network. Messages are delivered directly to
// the peer; messages with seq 1 start the responder in a goroutine.
type node struct {
	signer *identity.Signer
	store  *dsstore.Store
	runner *protocol.Runner
	peer   *node

	mtx     sync.Mutex
	pending map[string]chan perun.ProtocolMessage
	dropIn  bool
	dropOut func(perun.ProtocolMessage) bool
	rewrite func(perun.ProtocolMessage) perun.ProtocolMessage

	responses chan response
}

type response struct {
	res protocol.Result
	err error
}

func newRegistry(t *testing.T) *app.Registry {
	t.Helper()
	r := app.NewRegistry()
	require.NoError(t, r.Register(simpletransfer.Definition(channeltest.TransferAppDefinition)))
	require.NoError(t, r.Register(linkedtransfer.Definition(linkedTransferAppDefinition)))
	return r
}

func newPair(t *testing.T) (a, b *node) {
	return newPairWithTimeouts(t, defaultTimeout, defaultTimeout)
}

func newPairWithTimeouts(t *testing.T, timeoutA, timeoutB time.Duration) (a, b *node) {
	t.Helper()
	signerA, signerB := channeltest.NewSigners(t)
	a, b = newNode(t, signerA, timeoutA), newNode(t, signerB, timeoutB)
	a.peer, b.peer = b, a
	return a, b
}

func newNode(t *testing.T, signer *identity.Signer, timeout time.Duration) *node {
	n := &node{
		signer:    signer,
		store:     dsstore.NewInMemory(),
		pending:   make(map[string]chan perun.ProtocolMessage),
		responses: make(chan response, 10),
	}
	n.runner = protocol.NewRunner(channeltest.NetworkContext(), signer.PublicIdentifier(), newRegistry(t), n.store,
		protocol.Handlers{
			Sign:        signer.SignDigest,
			Send:        n.send,
			SendAndWait: n.sendAndWait,
			PersistStateChannel: func(ctx context.Context, ch *channel.StateChannel, c perun.Commitments) error {
				return n.store.SaveStateChannel(ctx, ch, c)
			},
			PersistAppInstance: n.persistApp,
		}, timeout)
	return n
}

func (n *node) id() string { return n.signer.PublicIdentifier() }

func (n *node) setDropIn(drop bool) {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	n.dropIn = drop
}

func (n *node) setDropOut(drop func(perun.ProtocolMessage) bool) {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	n.dropOut = drop
}

// setRewrite makes the node alter its outgoing messages.
func (n *node) setRewrite(rewrite func(perun.ProtocolMessage) perun.ProtocolMessage) {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	n.rewrite = rewrite
}

func (n *node) send(_ context.Context, msg perun.ProtocolMessage) error {
	n.mtx.Lock()
	drop := n.dropOut != nil && n.dropOut(msg)
	rewrite := n.rewrite
	n.mtx.Unlock()
	if drop {
		return nil
	}
	if rewrite != nil {
		msg = rewrite(msg)
	}
	n.peer.deliver(msg)
	return nil
}

func (n *node) sendAndWait(ctx context.Context, msg perun.ProtocolMessage) (perun.ProtocolMessage, error) {
	reply := make(chan perun.ProtocolMessage, 1)
	n.mtx.Lock()
	n.pending[msg.ProcessID] = reply
	n.mtx.Unlock()
	defer func() {
		n.mtx.Lock()
		delete(n.pending, msg.ProcessID)
		n.mtx.Unlock()
	}()

	if err := n.send(ctx, msg); err != nil {
		return perun.ProtocolMessage{}, err
	}
	select {
	case r := <-reply:
		return r, nil
	case <-ctx.Done():
		return perun.ProtocolMessage{}, ctx.Err()
	}
}

func (n *node) deliver(msg perun.ProtocolMessage) {
	n.mtx.Lock()
	if n.dropIn {
		n.mtx.Unlock()
		return
	}
	reply, ok := n.pending[msg.ProcessID]
	delete(n.pending, msg.ProcessID)
	n.mtx.Unlock()

	if msg.Seq == 1 {
		go func() {
			res, err := n.runner.RunResponder(context.Background(), msg)
			n.responses <- response{res: res, err: err}
		}()
		return
	}
	if ok {
		reply <- msg
	}
}

func (n *node) persistApp(ctx context.Context, kind protocol.PersistAppInstanceKind, ch *channel.StateChannel,
	inst *channel.AppInstance, c perun.Commitments) error {
	if kind == protocol.RemoveProposal {
		return n.store.RemoveAppProposal(ctx, ch.MultisigAddress(), inst.IdentityHash())
	}
	return n.store.SaveStateChannel(ctx, ch, c)
}

// response returns the result of the next responder run on the node.
func (n *node) response(t *testing.T) response {
	t.Helper()
	select {
	case r := <-n.responses:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("no responder result")
	}
	return response{}
}

func (n *node) requireResponse(t *testing.T) protocol.Result {
	t.Helper()
	r := n.response(t)
	require.NoError(t, r.err)
	return r.res
}

func (n *node) channel(t *testing.T, multisig common.Address) *channel.StateChannel {
	t.Helper()
	ch, err := n.store.GetStateChannel(context.Background(), multisig)
	require.NoError(t, err)
	return ch
}

// setupFunded runs setup between a and b and credits the amounts to both
// stores, as a deposit on chain would.
func setupFunded(t *testing.T, a, b *node, amountA, amountB int64) *channel.StateChannel {
	t.Helper()
	ctx := context.Background()
	res, err := a.runner.RunInitiator(ctx, protocol.SetupParams{ResponderIdentifier: b.id()})
	require.NoError(t, err)
	b.requireResponse(t)

	funded := channeltest.Fund(t, res.StateChannel, a.signer, b.signer, amountA, amountB)
	fbCommitment := commitmenttest.SignedSetState(t, channeltest.NetworkContext(), funded.FreeBalanceAppInstance(),
		a.signer, b.signer)
	for _, n := range []*node{a, b} {
		require.NoError(t, n.store.SaveStateChannel(ctx, funded, perun.Commitments{
			SetState: []*commitment.SetStateCommitment{fbCommitment},
		}))
	}
	return funded
}

func deposit(amount int64) channel.Deposit {
	return channel.Deposit{AssetID: channel.NativeAssetID, Amount: abiencoding.NewBigNumber(big.NewInt(amount))}
}

func transferParams(multisig common.Address, from, to *node, amountFrom, amountTo int64) protocol.ProposeParams {
	return protocol.ProposeParams{
		MultisigAddress:  multisig,
		InitiatorDeposit: deposit(amountFrom),
		ResponderDeposit: deposit(amountTo),
		AppDefinition:    channeltest.TransferAppDefinition,
		InitialState: channeltest.TransferState(
			[2]common.Address{from.signer.Address(), to.signer.Address()},
			[2]*big.Int{big.NewInt(amountFrom), big.NewInt(amountTo)}),
		DefaultTimeout: abiencoding.NewBigNumberFromUint64(100),
		StateTimeout:   abiencoding.NewBigNumberFromUint64(0),
	}
}

func linkedTransferParams(t *testing.T, multisig common.Address, from, to *node, amount int64,
	preImage common.Hash) protocol.ProposeParams {
	t.Helper()
	state, err := json.Marshal(linkedtransfer.State{
		CoinTransfers: [2]simpletransfer.CoinTransfer{
			{To: from.signer.Address(), Amount: abiencoding.NewBigNumber(big.NewInt(amount))},
			{To: to.signer.Address(), Amount: abiencoding.NewBigNumberFromUint64(0)},
		},
		LinkedHash: linkedtransfer.LinkedHash(preImage),
	})
	require.NoError(t, err)
	return protocol.ProposeParams{
		MultisigAddress:  multisig,
		InitiatorDeposit: deposit(amount),
		ResponderDeposit: deposit(0),
		AppDefinition:    linkedTransferAppDefinition,
		InitialState:     state,
		DefaultTimeout:   abiencoding.NewBigNumberFromUint64(100),
		StateTimeout:     abiencoding.NewBigNumberFromUint64(0),
	}
}

func assertBalances(t *testing.T, multisig common.Address, a, b *node, amountA, amountB int64) {
	t.Helper()
	for _, n := range []*node{a, b} {
		fb, err := n.channel(t, multisig).FreeBalance()
		require.NoError(t, err)
		assert.Equal(t, amountA, fb.BalanceOf(channel.NativeAssetID, a.signer.Address()).Int64())
		assert.Equal(t, amountB, fb.BalanceOf(channel.NativeAssetID, b.signer.Address()).Int64())
	}
}

func assertSameChannels(t *testing.T, multisig common.Address, a, b *node) {
	t.Helper()
	chA, err := json.Marshal(a.channel(t, multisig))
	require.NoError(t, err)
	chB, err := json.Marshal(b.channel(t, multisig))
	require.NoError(t, err)
	assert.JSONEq(t, string(chA), string(chB))
}

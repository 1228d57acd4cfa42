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
	"math/big"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperledger-labs/perun-appchannel"
	"github.com/hyperledger-labs/perun-appchannel/abiencoding"
	"github.com/hyperledger-labs/perun-appchannel/app"
	"github.com/hyperledger-labs/perun-appchannel/app/simpletransfer"
	"github.com/hyperledger-labs/perun-appchannel/channel"
	"github.com/hyperledger-labs/perun-appchannel/channel/channeltest"
	"github.com/hyperledger-labs/perun-appchannel/comm/local"
	"github.com/hyperledger-labs/perun-appchannel/commitment"
	"github.com/hyperledger-labs/perun-appchannel/commitment/commitmenttest"
	"github.com/hyperledger-labs/perun-appchannel/identity"
	"github.com/hyperledger-labs/perun-appchannel/lock"
	"github.com/hyperledger-labs/perun-appchannel/protocol"
	"github.com/hyperledger-labs/perun-appchannel/session"
	"github.com/hyperledger-labs/perun-appchannel/store/dsstore"
	"github.com/hyperledger-labs/perun-appchannel/store/sqlstore"
)

const (
	responseTimeout = 500 * time.Millisecond
	eventTimeout    = 5 * time.Second
)

// user is a session with the dependencies the test needs access to.
type user struct {
	*session.Session
	signer    *identity.Signer
	store     perun.Store
	locks     *lock.Service
	messenger *dropMessenger
}

// dropMessenger discards inbound envelopes while drop is set.
type dropMessenger struct {
	perun.Messenger
	drop  atomic.Bool
	inbox chan perun.Envelope
}

func newDropMessenger(m perun.Messenger) *dropMessenger {
	d := &dropMessenger{Messenger: m, inbox: make(chan perun.Envelope)}
	go func() {
		defer close(d.inbox)
		for env := range m.Inbox() {
			if !d.drop.Load() {
				d.inbox <- env
			}
		}
	}()
	return d
}

func (d *dropMessenger) Inbox() <-chan perun.Envelope { return d.inbox }

func newRegistry(t *testing.T) *app.Registry {
	t.Helper()
	r := app.NewRegistry()
	require.NoError(t, r.Register(simpletransfer.Definition(channeltest.TransferAppDefinition)))
	return r
}

func newUser(t *testing.T, bus *local.Bus, signer *identity.Signer, store perun.Store) *user {
	t.Helper()
	endpoint, err := bus.Connect(signer.PublicIdentifier())
	require.NoError(t, err)
	u := &user{
		signer:    signer,
		store:     store,
		locks:     lock.NewService(),
		messenger: newDropMessenger(endpoint),
	}
	s, apiErr := session.New(session.Config{
		Network:         channeltest.NetworkContext(),
		ResponseTimeout: responseTimeout,
		Apps:            newRegistry(t),
	}, signer, u.messenger, store, u.locks)
	require.Nil(t, apiErr)
	require.Nil(t, s.Start(context.Background()))
	u.Session = s
	return u
}

func newUsers(t *testing.T) (a, b *user) {
	t.Helper()
	bus := local.NewBus()
	signerA, signerB := channeltest.NewSigners(t)
	a = newUser(t, bus, signerA, dsstore.NewInMemory())
	b = newUser(t, bus, signerB, dsstore.NewInMemory())
	t.Cleanup(func() {
		a.Close() // nolint: errcheck
		b.Close() // nolint: errcheck
	})
	return a, b
}

// awaitEvent subscribes to the next event with the name. The returned func
// blocks until it was emitted.
func awaitEvent(t *testing.T, s *session.Session, name perun.EventName) func() session.Event {
	t.Helper()
	events := make(chan session.Event, 1)
	s.Once(name, func(e session.Event) { events <- e })
	return func() session.Event {
		t.Helper()
		select {
		case e := <-events:
			return e
		case <-time.After(eventTimeout):
			t.Fatalf("no %s", name)
		}
		return session.Event{}
	}
}

func createChannel(t *testing.T, a, b *user) common.Address {
	t.Helper()
	created := awaitEvent(t, b.Session, perun.EventChannelCreated)
	ch, apiErr := a.CreateChannel(context.Background(), b.Identifier())
	require.Nil(t, apiErr)
	created()
	return ch.MultisigAddress()
}

// fund credits the amounts to the free balance in both stores, as a deposit
// on chain would.
func fund(t *testing.T, a, b *user, multisig common.Address, amountA, amountB int64) {
	t.Helper()
	ctx := context.Background()
	ch, err := a.store.GetStateChannel(ctx, multisig)
	require.NoError(t, err)
	funded := channeltest.Fund(t, ch, a.signer, b.signer, amountA, amountB)
	c := commitmenttest.SignedSetState(t, channeltest.NetworkContext(), funded.FreeBalanceAppInstance(),
		a.signer, b.signer)
	for _, u := range []*user{a, b} {
		require.NoError(t, u.store.SaveStateChannel(ctx, funded, perun.Commitments{
			SetState: []*commitment.SetStateCommitment{c},
		}))
	}
}

func deposit(amount int64) channel.Deposit {
	return channel.Deposit{AssetID: channel.NativeAssetID, Amount: abiencoding.NewBigNumber(big.NewInt(amount))}
}

func transferParams(multisig common.Address, from, to *user, amountFrom, amountTo int64) protocol.ProposeParams {
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

func assertBalances(t *testing.T, multisig common.Address, a, b *user, amountA, amountB int64) {
	t.Helper()
	for _, u := range []*user{a, b} {
		balances, apiErr := u.GetFreeBalanceState(context.Background(), multisig, channel.NativeAssetID)
		require.Nil(t, apiErr)
		assert.Equal(t, amountA, balances[a.signer.Address()].Int64())
		assert.Equal(t, amountB, balances[b.signer.Address()].Int64())
	}
}

// collector records the events passed to its handler.
type collector struct {
	mtx    sync.Mutex
	events []session.Event
}

func (c *collector) handle(e session.Event) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.events = append(c.events, e)
}

func (c *collector) len() int {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return len(c.events)
}

func storeFile(dir string) string {
	return filepath.Join(dir, "appchannel.db")
}

func openSQLStore(t *testing.T, dir string) perun.Store {
	t.Helper()
	s, err := sqlstore.Open(storeFile(dir))
	require.NoError(t, err)
	return s
}

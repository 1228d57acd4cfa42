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

// Package dsstore implements perun.Store on a go-datastore.
package dsstore

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/namespace"
	"github.com/ipfs/go-datastore/query"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/pkg/errors"

	"github.com/hyperledger-labs/perun-appchannel"
	"github.com/hyperledger-labs/perun-appchannel/channel"
	"github.com/hyperledger-labs/perun-appchannel/commitment"
)

// Prefix is the namespace of all keys written by the store.
const Prefix = "/appchannel"

// Key prefixes within the namespace.
const (
	schemaKey         = "/schema"
	channelPrefix     = "/channel"
	appIndexPrefix    = "/app"
	setStatePrefix    = "/setstate"
	conditionalPrefix = "/conditional"
	withdrawPrefix    = "/withdraw"
)

// Store is a perun.Store on a batching datastore.
type Store struct {
	// mtx serializes read-modify-write sequences.
	mtx sync.Mutex
	ds  datastore.Batching
}

var _ perun.Store = &Store{}

// New returns a store writing to the namespace Prefix of ds.
func New(ds datastore.Batching) *Store {
	return &Store{ds: namespace.Wrap(ds, datastore.NewKey(Prefix))}
}

// NewInMemory returns a store backed by a map datastore.
func NewInMemory() *Store {
	return New(dssync.MutexWrap(datastore.NewMapDatastore()))
}

func key(prefix string, id interface{ Hex() string }) datastore.Key {
	return datastore.NewKey(prefix).ChildString(id.Hex())
}

// GetSchemaVersion returns the schema version, 0 if never set.
func (s *Store) GetSchemaVersion(ctx context.Context) (int, error) {
	data, err := s.ds.Get(ctx, datastore.NewKey(schemaKey))
	if errors.Is(err, datastore.ErrNotFound) {
		return 0, nil
	} else if err != nil {
		return 0, errors.WithStack(err)
	}
	version, err := strconv.Atoi(string(data))
	return version, errors.WithStack(err)
}

// UpdateSchemaVersion sets the schema version.
func (s *Store) UpdateSchemaVersion(ctx context.Context, version int) error {
	return errors.WithStack(s.ds.Put(ctx, datastore.NewKey(schemaKey), []byte(strconv.Itoa(version))))
}

// GetAllStateChannels returns all channels, in key order.
func (s *Store) GetAllStateChannels(ctx context.Context) ([]*channel.StateChannel, error) {
	results, err := s.ds.Query(ctx, query.Query{Prefix: channelPrefix, Orders: []query.Order{query.OrderByKey{}}})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	entries, err := results.Rest()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	channels := make([]*channel.StateChannel, 0, len(entries))
	for _, e := range entries {
		ch := &channel.StateChannel{}
		if err := json.Unmarshal(e.Value, ch); err != nil {
			return nil, errors.WithMessagef(err, "decoding channel %s", e.Key)
		}
		channels = append(channels, ch)
	}
	return channels, nil
}

// GetStateChannel returns the channel of the multisig.
func (s *Store) GetStateChannel(ctx context.Context, multisig common.Address) (*channel.StateChannel, error) {
	ch := &channel.StateChannel{}
	if err := s.get(ctx, key(channelPrefix, multisig), ch); err != nil {
		return nil, errors.WithMessagef(err, "channel %s", multisig.Hex())
	}
	return ch, nil
}

// GetStateChannelByAppIdentityHash returns the channel the app was ever
// proposed or installed in.
func (s *Store) GetStateChannelByAppIdentityHash(ctx context.Context, identityHash common.Hash) (
	*channel.StateChannel, error) {
	data, err := s.ds.Get(ctx, key(appIndexPrefix, identityHash))
	if errors.Is(err, datastore.ErrNotFound) {
		return nil, errors.Wrapf(perun.ErrRecordNotFound, "app %s", identityHash.Hex())
	} else if err != nil {
		return nil, errors.WithStack(err)
	}
	return s.GetStateChannel(ctx, common.HexToAddress(string(data)))
}

// SaveStateChannel writes the channel, the app index and the commitments in
// one batch.
func (s *Store) SaveStateChannel(ctx context.Context, ch *channel.StateChannel, c perun.Commitments) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.save(ctx, ch, c)
}

func (s *Store) save(ctx context.Context, ch *channel.StateChannel, c perun.Commitments) error {
	batch, err := s.ds.Batch(ctx)
	if err != nil {
		return errors.WithStack(err)
	}
	put := func(k datastore.Key, v interface{}) error {
		data, err := json.Marshal(v)
		if err != nil {
			return errors.WithStack(err)
		}
		return errors.WithStack(batch.Put(ctx, k, data))
	}

	multisig := ch.MultisigAddress()
	if err = put(key(channelPrefix, multisig), ch); err != nil {
		return err
	}
	apps := append(ch.ProposedAppInstances(), ch.AppInstances()...)
	if ch.HasFreeBalance() {
		apps = append(apps, ch.FreeBalanceAppInstance())
	}
	for _, app := range apps {
		if err = batch.Put(ctx, key(appIndexPrefix, app.IdentityHash()), []byte(multisig.Hex())); err != nil {
			return errors.WithStack(err)
		}
	}
	for _, sc := range c.SetState {
		if err = put(key(setStatePrefix, sc.AppIdentityHash()), sc); err != nil {
			return err
		}
	}
	for _, ct := range c.ConditionalTx {
		if err = put(key(conditionalPrefix, ct.AppIdentityHash()), ct); err != nil {
			return err
		}
	}
	return errors.WithStack(batch.Commit(ctx))
}

// RemoveAppProposal removes the proposal from the channel. Removing an
// unknown proposal is a no-op.
func (s *Store) RemoveAppProposal(ctx context.Context, multisig common.Address, identityHash common.Hash) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	ch, err := s.GetStateChannel(ctx, multisig)
	if err != nil {
		return err
	}
	if _, ok := ch.ProposedAppInstance(identityHash); !ok {
		return nil
	}
	return s.save(ctx, ch.RemoveProposal(identityHash), perun.Commitments{})
}

// GetSetStateCommitment returns the latest set state commitment of the app.
func (s *Store) GetSetStateCommitment(ctx context.Context, identityHash common.Hash) (
	*commitment.SetStateCommitment, error) {
	c := &commitment.SetStateCommitment{}
	if err := s.get(ctx, key(setStatePrefix, identityHash), c); err != nil {
		return nil, errors.WithMessagef(err, "set state commitment %s", identityHash.Hex())
	}
	return c, nil
}

// GetConditionalTransactionCommitment returns the conditional transaction of
// the app.
func (s *Store) GetConditionalTransactionCommitment(ctx context.Context, identityHash common.Hash) (
	*commitment.ConditionalTransactionCommitment, error) {
	c := &commitment.ConditionalTransactionCommitment{}
	if err := s.get(ctx, key(conditionalPrefix, identityHash), c); err != nil {
		return nil, errors.WithMessagef(err, "conditional transaction commitment %s", identityHash.Hex())
	}
	return c, nil
}

// SaveWithdrawCommitment replaces the withdraw commitment of the multisig.
func (s *Store) SaveWithdrawCommitment(ctx context.Context, multisig common.Address,
	c *commitment.WithdrawCommitment) error {
	data, err := json.Marshal(c)
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(s.ds.Put(ctx, key(withdrawPrefix, multisig), data))
}

// GetWithdrawCommitment returns the withdraw commitment of the multisig.
func (s *Store) GetWithdrawCommitment(ctx context.Context, multisig common.Address) (
	*commitment.WithdrawCommitment, error) {
	c := &commitment.WithdrawCommitment{}
	if err := s.get(ctx, key(withdrawPrefix, multisig), c); err != nil {
		return nil, errors.WithMessagef(err, "withdraw commitment %s", multisig.Hex())
	}
	return c, nil
}

// Close closes the datastore.
func (s *Store) Close() error {
	return errors.WithStack(s.ds.Close())
}

func (s *Store) get(ctx context.Context, k datastore.Key, v interface{}) error {
	data, err := s.ds.Get(ctx, k)
	if errors.Is(err, datastore.ErrNotFound) {
		return errors.WithStack(perun.ErrRecordNotFound)
	} else if err != nil {
		return errors.WithStack(err)
	}
	return errors.Wrap(json.Unmarshal(data, v), "decoding record")
}

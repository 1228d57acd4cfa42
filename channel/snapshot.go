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

package channel

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// StateChannelJSON is the persisted snapshot of a state channel.
type StateChannelJSON struct {
	SchemaVersion            int               `json:"schemaVersion"`
	MultisigAddress          common.Address    `json:"multisigAddress"`
	Addresses                CriticalAddresses `json:"addresses"`
	UserIdentifiers          [2]string         `json:"userIdentifiers"`
	ProposedAppInstances     []AppEntry        `json:"proposedAppInstances"`
	AppInstances             []AppEntry        `json:"appInstances"`
	FreeBalanceAppInstance   *AppInstanceJSON  `json:"freeBalanceAppInstance"`
	MonotonicNumProposedApps uint64            `json:"monotonicNumProposedApps"`
}

// AppEntry is an [identityHash, app] pair of the snapshot.
type AppEntry struct {
	IdentityHash common.Hash
	App          AppInstanceJSON
}

// MarshalJSON encodes the entry as a two element array.
func (e AppEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]interface{}{e.IdentityHash, e.App})
}

// UnmarshalJSON decodes the entry from a two element array.
func (e *AppEntry) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return errors.WithStack(err)
	}
	if len(pair) != 2 {
		return errors.Wrapf(ErrInvalidSnapshot, "app entry has %d elements", len(pair))
	}
	if err := json.Unmarshal(pair[0], &e.IdentityHash); err != nil {
		return errors.Wrap(err, "decoding identity hash of app entry")
	}
	return errors.Wrap(json.Unmarshal(pair[1], &e.App), "decoding app of app entry")
}

// JSON returns the snapshot of the channel.
func (c *StateChannel) JSON() StateChannelJSON {
	j := StateChannelJSON{
		SchemaVersion:            c.schemaVersion,
		MultisigAddress:          c.multisigAddress,
		Addresses:                c.addresses,
		UserIdentifiers:          c.userIdentifiers,
		ProposedAppInstances:     entries(c.proposedAppInstances),
		AppInstances:             entries(c.appInstances),
		MonotonicNumProposedApps: c.numProposedApps,
	}
	if c.freeBalanceAppInstance != nil {
		fb := c.freeBalanceAppInstance.JSON()
		j.FreeBalanceAppInstance = &fb
	}
	return j
}

func entries(m appMap) []AppEntry {
	out := make([]AppEntry, 0, m.len())
	for _, app := range m.list() {
		out = append(out, AppEntry{IdentityHash: app.IdentityHash(), App: app.JSON()})
	}
	return out
}

// MarshalJSON implements json.Marshaler.
func (c *StateChannel) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.JSON())
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *StateChannel) UnmarshalJSON(data []byte) error {
	var j StateChannelJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return errors.WithStack(err)
	}
	decoded, err := FromJSON(j)
	if err != nil {
		return err
	}
	*c = *decoded
	return nil
}

// FromJSON validates the snapshot and returns the channel.
func FromJSON(j StateChannelJSON) (*StateChannel, error) {
	if j.SchemaVersion > SchemaVersion {
		return nil, errors.Wrapf(ErrInvalidSnapshot, "unknown schema version %d", j.SchemaVersion)
	}
	if j.MonotonicNumProposedApps < 1 {
		return nil, errors.Wrap(ErrInvalidSnapshot, "proposal counter must be at least 1")
	}
	owners, err := signerPair(j.UserIdentifiers[0], j.UserIdentifiers[1])
	if err != nil {
		return nil, errors.WithMessage(err, string(ErrInvalidSnapshot))
	}
	c := &StateChannel{
		multisigAddress: j.MultisigAddress,
		addresses:       j.Addresses,
		userIdentifiers: j.UserIdentifiers,
		owners:          owners,
		numProposedApps: j.MonotonicNumProposedApps,
		schemaVersion:   j.SchemaVersion,
	}
	if j.FreeBalanceAppInstance != nil {
		if c.freeBalanceAppInstance, err = NewAppInstance(*j.FreeBalanceAppInstance); err != nil {
			return nil, errors.WithMessage(err, "decoding free balance app")
		}
	}
	if c.proposedAppInstances, err = c.decodeEntries(j.ProposedAppInstances); err != nil {
		return nil, errors.WithMessage(err, "decoding proposals")
	}
	if c.appInstances, err = c.decodeEntries(j.AppInstances); err != nil {
		return nil, errors.WithMessage(err, "decoding app instances")
	}
	for _, app := range c.appInstances.list() {
		if _, ok := c.proposedAppInstances.get(app.IdentityHash()); ok {
			return nil, errors.Wrapf(ErrInvalidSnapshot, "%s is both proposed and installed", app.IdentityHash().Hex())
		}
	}
	return c, nil
}

func (c *StateChannel) decodeEntries(list []AppEntry) (appMap, error) {
	var m appMap
	for _, e := range list {
		app, err := NewAppInstance(e.App)
		if err != nil {
			return appMap{}, err
		}
		if app.IdentityHash() != e.IdentityHash {
			return appMap{}, errors.Wrapf(ErrInvalidSnapshot, "entry key %s differs from identity hash %s",
				e.IdentityHash.Hex(), app.IdentityHash().Hex())
		}
		if err := c.verifyParticipants(app); err != nil {
			return appMap{}, err
		}
		if _, dup := m.get(app.IdentityHash()); dup {
			return appMap{}, errors.Wrapf(ErrInvalidSnapshot, "duplicate entry %s", e.IdentityHash.Hex())
		}
		m = m.with(app)
	}
	return m, nil
}

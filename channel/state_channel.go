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
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/hyperledger-labs/perun-appchannel/abiencoding"
	"github.com/hyperledger-labs/perun-appchannel/identity"
)

// SchemaVersion is the version of the channel snapshot format.
const SchemaVersion = 1

// StateChannel is the off-chain ledger of one multisig: the proposed and the
// installed apps and the free balance.
//
// The free balance, once present, is never removed; numProposedApps never
// decreases; an identity hash is never both proposed and installed.
type StateChannel struct {
	multisigAddress        common.Address
	addresses              CriticalAddresses
	userIdentifiers        [2]string
	owners                 [2]common.Address
	proposedAppInstances   appMap
	appInstances           appMap
	freeBalanceAppInstance *AppInstance
	numProposedApps        uint64
	schemaVersion          int
}

// SetupChannel creates the channel with a free balance holding zero of the
// native asset for both users.
func SetupChannel(identityApp common.Address, addresses CriticalAddresses, multisig common.Address,
	initiatorIdentifier, responderIdentifier string) (*StateChannel, error) {
	owners, err := signerPair(initiatorIdentifier, responderIdentifier)
	if err != nil {
		return nil, err
	}
	state, err := NewFreeBalance(owners).ToState()
	if err != nil {
		return nil, err
	}
	fbApp, err := NewAppInstance(AppInstanceJSON{
		MultisigAddress:     multisig,
		InitiatorIdentifier: initiatorIdentifier,
		ResponderIdentifier: responderIdentifier,
		Participants:        owners,
		InitiatorDeposit:    Deposit{AssetID: NativeAssetID},
		ResponderDeposit:    Deposit{AssetID: NativeAssetID},
		AbiEncodings:        AbiEncodings{StateEncoding: FreeBalanceStateEncoding},
		AppDefinition:       identityApp,
		AppSeqNo:            0,
		LatestState:         state,
		LatestVersionNumber: 0,
		DefaultTimeout:      abiencoding.NewBigNumberFromUint64(FreeBalanceDefaultTimeout),
		StateTimeout:        abiencoding.NewBigNumberFromUint64(FreeBalanceStateTimeout),
		OutcomeType:         MultiAssetMultiPartyCoinTransfer,
		InterpreterParams: InterpreterParams{
			MultiAssetMultiPartyCoinTransfer: &MultiAssetMultiPartyCoinTransferParams{},
		},
	})
	if err != nil {
		return nil, errors.WithMessage(err, "creating free balance app")
	}
	return &StateChannel{
		multisigAddress:        multisig,
		addresses:              addresses,
		userIdentifiers:        [2]string{initiatorIdentifier, responderIdentifier},
		owners:                 owners,
		freeBalanceAppInstance: fbApp,
		numProposedApps:        1,
		schemaVersion:          SchemaVersion,
	}, nil
}

func signerPair(initiatorIdentifier, responderIdentifier string) ([2]common.Address, error) {
	if initiatorIdentifier == responderIdentifier {
		return [2]common.Address{}, errors.New("channel identifiers must differ")
	}
	addrs, err := identity.SignerAddresses(initiatorIdentifier, responderIdentifier)
	if err != nil {
		return [2]common.Address{}, err
	}
	return [2]common.Address{addrs[0], addrs[1]}, nil
}

// MultisigAddress returns the address of the multisig.
func (c *StateChannel) MultisigAddress() common.Address { return c.multisigAddress }

// Addresses returns the contracts the multisig was derived from.
func (c *StateChannel) Addresses() CriticalAddresses { return c.addresses }

// UserIdentifiers returns the identifiers of the channel initiator and responder.
func (c *StateChannel) UserIdentifiers() [2]string { return c.userIdentifiers }

// MultisigOwners returns the signer addresses of the users in the same order.
func (c *StateChannel) MultisigOwners() [2]common.Address { return c.owners }

// NumProposedApps returns the app sequence number for the next proposal.
func (c *StateChannel) NumProposedApps() uint64 { return c.numProposedApps }

// SchemaVersion returns the version of the snapshot format.
func (c *StateChannel) SchemaVersion() int { return c.schemaVersion }

// Counterparty returns the identifier of the user other than the given one.
func (c *StateChannel) Counterparty(identifier string) (string, error) {
	switch identifier {
	case c.userIdentifiers[0]:
		return c.userIdentifiers[1], nil
	case c.userIdentifiers[1]:
		return c.userIdentifiers[0], nil
	}
	return "", errors.Errorf("%s is not a user of channel %s", identifier, c.multisigAddress.Hex())
}

// HasFreeBalance reports whether the setup protocol has run.
func (c *StateChannel) HasFreeBalance() bool { return c.freeBalanceAppInstance != nil }

// FreeBalanceAppInstance returns the free balance app, nil before setup.
func (c *StateChannel) FreeBalanceAppInstance() *AppInstance { return c.freeBalanceAppInstance }

// FreeBalance returns the decoded free balance.
func (c *StateChannel) FreeBalance() (*FreeBalance, error) {
	if c.freeBalanceAppInstance == nil {
		return nil, ErrNoFreeBalance
	}
	return FreeBalanceFromState(c.freeBalanceAppInstance.LatestState())
}

// ProposedAppInstances returns the proposals in insertion order.
func (c *StateChannel) ProposedAppInstances() []*AppInstance { return c.proposedAppInstances.list() }

// AppInstances returns the installed apps in insertion order.
func (c *StateChannel) AppInstances() []*AppInstance { return c.appInstances.list() }

// ProposedAppInstance returns the proposal with the identity hash.
func (c *StateChannel) ProposedAppInstance(identityHash common.Hash) (*AppInstance, bool) {
	return c.proposedAppInstances.get(identityHash)
}

// AppInstance returns the installed app with the identity hash.
func (c *StateChannel) AppInstance(identityHash common.Hash) (*AppInstance, bool) {
	return c.appInstances.get(identityHash)
}

// HasApp reports whether the identity hash is proposed, installed or the free balance.
func (c *StateChannel) HasApp(identityHash common.Hash) bool {
	if c.freeBalanceAppInstance != nil && c.freeBalanceAppInstance.IdentityHash() == identityHash {
		return true
	}
	_, proposed := c.proposedAppInstances.get(identityHash)
	_, installed := c.appInstances.get(identityHash)
	return proposed || installed
}

// AddProposal returns a channel with the proposal added. The proposal
// counter is raised past the app sequence number of the proposal.
func (c *StateChannel) AddProposal(app *AppInstance) (*StateChannel, error) {
	if err := c.verifyParticipants(app); err != nil {
		return nil, err
	}
	if c.HasApp(app.IdentityHash()) {
		return nil, errors.Wrapf(ErrAppExists, "%s", app.IdentityHash().Hex())
	}
	next := c.clone()
	next.proposedAppInstances = c.proposedAppInstances.with(app)
	next.raiseNumProposedApps(app.AppSeqNo() + 1)
	return next, nil
}

// RemoveProposal returns a channel without the proposal. Removing an unknown
// proposal is a no-op.
func (c *StateChannel) RemoveProposal(identityHash common.Hash) *StateChannel {
	next := c.clone()
	next.proposedAppInstances = c.proposedAppInstances.without(identityHash)
	return next
}

// InstallApp returns a channel with the app installed: the proposal with the
// same identity hash is removed and the decrements are taken out of the free
// balance.
//
// The participants recorded in the app must be the signer addresses of the
// channel users.
func (c *StateChannel) InstallApp(app *AppInstance, decrements TokenIndexedBalances) (*StateChannel, error) {
	if c.freeBalanceAppInstance == nil {
		return nil, ErrNoFreeBalance
	}
	if err := c.verifyParticipants(app); err != nil {
		return nil, err
	}
	hash := app.IdentityHash()
	if _, ok := c.appInstances.get(hash); ok {
		return nil, errors.Wrapf(ErrAppExists, "%s", hash.Hex())
	}

	fb, err := c.FreeBalance()
	if err != nil {
		return nil, err
	}
	if fb, err = fb.Increment(decrements.Negate()); err != nil {
		return nil, err
	}
	if fb, err = fb.AddActiveApp(hash); err != nil {
		return nil, err
	}
	fbApp, err := c.freeBalanceWithState(fb)
	if err != nil {
		return nil, err
	}

	next := c.clone()
	next.proposedAppInstances = c.proposedAppInstances.without(hash)
	next.appInstances = c.appInstances.with(app)
	next.freeBalanceAppInstance = fbApp
	next.raiseNumProposedApps(app.AppSeqNo() + 1)
	return next, nil
}

// UninstallApp returns a channel without the app and with the increments
// added to the free balance.
func (c *StateChannel) UninstallApp(identityHash common.Hash, increments TokenIndexedBalances) (*StateChannel, error) {
	if c.freeBalanceAppInstance == nil {
		return nil, ErrNoFreeBalance
	}
	if _, ok := c.appInstances.get(identityHash); !ok {
		return nil, errors.Wrapf(ErrUnknownApp, "%s", identityHash.Hex())
	}

	fb, err := c.FreeBalance()
	if err != nil {
		return nil, err
	}
	if fb, err = fb.Increment(increments); err != nil {
		return nil, err
	}
	if fb, err = fb.RemoveActiveApp(identityHash); err != nil {
		return nil, err
	}
	fbApp, err := c.freeBalanceWithState(fb)
	if err != nil {
		return nil, err
	}

	next := c.clone()
	next.appInstances = c.appInstances.without(identityHash)
	next.freeBalanceAppInstance = fbApp
	return next, nil
}

// SetState returns a channel where the installed app has the new state at
// the next version. The free balance is untouched.
func (c *StateChannel) SetState(identityHash common.Hash, newState json.RawMessage, stateTimeout *big.Int) (
	*StateChannel, error) {
	app, ok := c.appInstances.get(identityHash)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownApp, "%s", identityHash.Hex())
	}
	updated, err := app.SetState(newState, stateTimeout)
	if err != nil {
		return nil, err
	}
	return c.UpdateAppInstance(updated)
}

// UpdateAppInstance returns a channel with the installed app replaced by a
// newer version of it.
func (c *StateChannel) UpdateAppInstance(app *AppInstance) (*StateChannel, error) {
	current, ok := c.appInstances.get(app.IdentityHash())
	if !ok {
		return nil, errors.Wrapf(ErrUnknownApp, "%s", app.IdentityHash().Hex())
	}
	if app.LatestVersionNumber() <= current.LatestVersionNumber() {
		return nil, errors.Wrapf(ErrInvalidVersion, "version %d is not above %d",
			app.LatestVersionNumber(), current.LatestVersionNumber())
	}
	next := c.clone()
	next.appInstances = c.appInstances.with(app)
	return next, nil
}

// SetFreeBalance returns a channel with a newer version of the free balance
// app. Used only to adopt a state both users signed.
func (c *StateChannel) SetFreeBalance(fbApp *AppInstance) (*StateChannel, error) {
	if c.freeBalanceAppInstance == nil {
		return nil, ErrNoFreeBalance
	}
	if fbApp.IdentityHash() != c.freeBalanceAppInstance.IdentityHash() {
		return nil, errors.Wrap(ErrUnknownApp, "free balance identity hash differs")
	}
	if fbApp.LatestVersionNumber() <= c.freeBalanceAppInstance.LatestVersionNumber() {
		return nil, errors.Wrapf(ErrInvalidVersion, "free balance version %d is not above %d",
			fbApp.LatestVersionNumber(), c.freeBalanceAppInstance.LatestVersionNumber())
	}
	if _, err := FreeBalanceFromState(fbApp.LatestState()); err != nil {
		return nil, err
	}
	next := c.clone()
	next.freeBalanceAppInstance = fbApp
	return next, nil
}

// Replay returns a channel with the installs and uninstalls the counterparty
// performed, ending at the free balance app both users signed after them.
// Installed apps must be listed as active in that free balance, uninstalled
// apps must not.
func (c *StateChannel) Replay(fbApp *AppInstance, installed []*AppInstance, uninstalled []common.Hash) (
	*StateChannel, error) {
	fb, err := FreeBalanceFromState(fbApp.LatestState())
	if err != nil {
		return nil, err
	}
	apps, proposals := c.appInstances, c.proposedAppInstances
	for _, hash := range uninstalled {
		if _, ok := apps.get(hash); !ok {
			return nil, errors.Wrapf(ErrUnknownApp, "%s", hash.Hex())
		}
		if fb.HasActiveApp(hash) {
			return nil, errors.Errorf("free balance still lists %s as active", hash.Hex())
		}
		apps = apps.without(hash)
	}
	var maxSeqNo uint64
	for _, app := range installed {
		hash := app.IdentityHash()
		if err := c.verifyParticipants(app); err != nil {
			return nil, err
		}
		if _, ok := apps.get(hash); ok {
			return nil, errors.Wrapf(ErrAppExists, "%s", hash.Hex())
		}
		if !fb.HasActiveApp(hash) {
			return nil, errors.Errorf("free balance does not list %s as active", hash.Hex())
		}
		apps = apps.with(app)
		proposals = proposals.without(hash)
		if app.AppSeqNo()+1 > maxSeqNo {
			maxSeqNo = app.AppSeqNo() + 1
		}
	}
	next, err := c.SetFreeBalance(fbApp)
	if err != nil {
		return nil, err
	}
	next.appInstances = apps
	next.proposedAppInstances = proposals
	next.raiseNumProposedApps(maxSeqNo)
	return next, nil
}

// RaiseNumProposedApps returns a channel with the counter set to n, if n is
// above the current value.
func (c *StateChannel) RaiseNumProposedApps(n uint64) *StateChannel {
	next := c.clone()
	next.raiseNumProposedApps(n)
	return next
}

func (c *StateChannel) raiseNumProposedApps(n uint64) {
	if n > c.numProposedApps {
		c.numProposedApps = n
	}
}

func (c *StateChannel) freeBalanceWithState(fb *FreeBalance) (*AppInstance, error) {
	state, err := fb.ToState()
	if err != nil {
		return nil, err
	}
	return c.freeBalanceAppInstance.SetState(state, nil)
}

// verifyParticipants checks that the app belongs to this channel and that
// its recorded participants are the signer addresses of its identifiers.
func (c *StateChannel) verifyParticipants(app *AppInstance) error {
	if app.MultisigAddress() != c.multisigAddress {
		return errors.Wrapf(ErrParticipantMismatch, "app belongs to multisig %s", app.MultisigAddress().Hex())
	}
	initiator, responder := app.InitiatorIdentifier(), app.ResponderIdentifier()
	sameOrder := initiator == c.userIdentifiers[0] && responder == c.userIdentifiers[1]
	swapped := initiator == c.userIdentifiers[1] && responder == c.userIdentifiers[0]
	if !sameOrder && !swapped {
		return errors.Wrap(ErrParticipantMismatch, "app identifiers are not the channel users")
	}
	want := c.owners
	if swapped {
		want = [2]common.Address{c.owners[1], c.owners[0]}
	}
	if app.Participants() != want {
		return errors.Wrapf(ErrParticipantMismatch, "recorded participants %s, %s; derived %s, %s",
			app.Participants()[0].Hex(), app.Participants()[1].Hex(), want[0].Hex(), want[1].Hex())
	}
	return nil
}

func (c *StateChannel) clone() *StateChannel {
	next := *c
	return &next
}

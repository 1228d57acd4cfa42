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

package protocol

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/hyperledger-labs/perun-appchannel"
	"github.com/hyperledger-labs/perun-appchannel/abiencoding"
	"github.com/hyperledger-labs/perun-appchannel/channel"
	"github.com/hyperledger-labs/perun-appchannel/commitment"
)

func (p *process) syncInitiator(ctx context.Context, params SyncParams) (Result, error) {
	ch, err := p.loadChannel(ctx, params.MultisigAddress)
	if err != nil {
		return Result{}, err
	}
	if err = p.validate(ctx, ch, params, nil); err != nil {
		return Result{}, err
	}
	data, err := p.syncData(ctx, ch)
	if err != nil {
		return Result{}, err
	}
	var reply syncData
	if err = p.sendAndWait(ctx, 1, params, data, &reply); err != nil {
		return Result{}, err
	}
	next, adopted, err := p.reconcile(ch, reply)
	if err != nil {
		return Result{}, err
	}
	err = p.persistChannel(ctx, next, adopted)
	return Result{StateChannel: next}, err
}

func (p *process) syncResponder(ctx context.Context, msg perun.ProtocolMessage, params SyncParams) (Result, error) {
	ch, err := p.loadChannel(ctx, params.MultisigAddress)
	if err != nil {
		return Result{}, err
	}
	var theirs syncData
	if err = decodeCustomData(msg, &theirs); err != nil {
		return Result{}, err
	}
	next, adopted, err := p.reconcile(ch, theirs)
	if err != nil {
		return Result{}, err
	}
	if err = p.validate(ctx, next, params, nil); err != nil {
		return Result{}, err
	}
	if err = p.persistChannel(ctx, next, adopted); err != nil {
		return Result{}, err
	}
	data, err := p.syncData(ctx, next)
	if err != nil {
		return Result{}, err
	}
	return Result{StateChannel: next}, p.send(ctx, data)
}

// syncData returns the channel with the persisted commitments of its free
// balance and apps.
func (p *process) syncData(ctx context.Context, ch *channel.StateChannel) (syncData, error) {
	data := syncData{StateChannel: ch}
	reader := p.runner.reader

	hashes := []common.Hash{ch.FreeBalanceAppInstance().IdentityHash()}
	for _, inst := range ch.ProposedAppInstances() {
		hashes = append(hashes, inst.IdentityHash())
	}
	for _, inst := range ch.AppInstances() {
		hashes = append(hashes, inst.IdentityHash())
	}
	for _, hash := range hashes {
		c, err := reader.GetSetStateCommitment(ctx, hash)
		if errors.Is(err, perun.ErrRecordNotFound) {
			continue
		} else if err != nil {
			return syncData{}, err
		}
		data.SetStateCommitments = append(data.SetStateCommitments, c)
	}
	for _, inst := range ch.AppInstances() {
		c, err := reader.GetConditionalTransactionCommitment(ctx, inst.IdentityHash())
		if errors.Is(err, perun.ErrRecordNotFound) {
			continue
		} else if err != nil {
			return syncData{}, err
		}
		data.ConditionalTxCommitments = append(data.ConditionalTxCommitments, c)
	}
	return data, nil
}

// reconcile merges the counterparty's view into ours. Only facts backed by
// commitments signed by both users are adopted. It returns the channel and
// the adopted commitments.
func (p *process) reconcile(ours *channel.StateChannel, theirs syncData) (*channel.StateChannel, perun.Commitments,
	error) {
	var adopted perun.Commitments
	their := theirs.StateChannel
	if their == nil || !their.HasFreeBalance() {
		return nil, adopted, errors.Wrap(ErrInvalidMessage, "sync data has no channel")
	}
	if their.MultisigAddress() != ours.MultisigAddress() || their.UserIdentifiers() != ours.UserIdentifiers() {
		return nil, adopted, errors.Wrapf(ErrInvalidMessage, "sync data is for channel %s",
			their.MultisigAddress().Hex())
	}
	signed := newBacking(p.runner.network, theirs)
	ch := ours
	var err error

	// Proposals we missed.
	for _, proposal := range their.ProposedAppInstances() {
		hash := proposal.IdentityHash()
		if ch.HasApp(hash) || proposal.AppSeqNo() < ours.NumProposedApps() {
			continue
		}
		c, ok := signed.setState(proposal)
		if !ok {
			p.WithField("app", hash.Hex()).Warn("Proposal of counterparty not signed, skipping")
			continue
		}
		if ch, err = ch.AddProposal(proposal); err != nil {
			return nil, adopted, errors.WithMessage(err, "adding proposal")
		}
		adopted.SetState = append(adopted.SetState, c)
	}

	// Proposals the counterparty saw and dropped.
	for _, proposal := range ours.ProposedAppInstances() {
		if !their.HasApp(proposal.IdentityHash()) && proposal.AppSeqNo() < their.NumProposedApps() {
			ch = ch.RemoveProposal(proposal.IdentityHash())
		}
	}

	// Installs and uninstalls we missed, if the counterparty's free balance
	// is newer and signed.
	ourFB, theirFB := ch.FreeBalanceAppInstance(), their.FreeBalanceAppInstance()
	if theirFB.LatestVersionNumber() > ourFB.LatestVersionNumber() {
		if ch, err = p.replay(ch, their, signed, &adopted); err != nil {
			return nil, adopted, err
		}
	}

	// Newer app states.
	for _, inst := range their.AppInstances() {
		current, ok := ch.AppInstance(inst.IdentityHash())
		if !ok || inst.LatestVersionNumber() <= current.LatestVersionNumber() {
			continue
		}
		c, ok := signed.setState(inst)
		if !ok || !sameTerms(current, inst) {
			p.WithField("app", inst.IdentityHash().Hex()).Warn("App state of counterparty not signed, skipping")
			continue
		}
		if ch, err = ch.UpdateAppInstance(inst); err != nil {
			return nil, adopted, err
		}
		adopted.SetState = append(adopted.SetState, c)
	}

	ch = ch.RaiseNumProposedApps(their.NumProposedApps())
	return ch, adopted, checkActiveApps(ch)
}

// replay adopts the free balance of the counterparty along with the apps it
// installed and uninstalled since our free balance. An installed app is
// adopted at its latest state if that state is signed, else at the version
// of our proposal.
func (p *process) replay(ch, their *channel.StateChannel, signed backing, adopted *perun.Commitments) (
	*channel.StateChannel, error) {
	theirFB := their.FreeBalanceAppInstance()
	fbCommitment, ok := signed.setState(theirFB)
	if !ok {
		p.Warn("Free balance of counterparty not signed, skipping")
		return ch, nil
	}

	var installed []*channel.AppInstance
	for _, inst := range their.AppInstances() {
		hash := inst.IdentityHash()
		if _, ok := ch.AppInstance(hash); ok {
			continue
		}
		proposal, proposed := ch.ProposedAppInstance(hash)
		if proposed && !sameTerms(proposal, inst) {
			return nil, errors.Wrapf(ErrSyncFailed, "app %s differs from its proposal", hash.Hex())
		}
		condTx, err := signed.conditionalTx(ch, inst)
		if err != nil {
			return nil, err
		}
		adopted.ConditionalTx = append(adopted.ConditionalTx, condTx)

		if c, ok := signed.setState(inst); ok {
			installed = append(installed, inst)
			adopted.SetState = append(adopted.SetState, c)
			continue
		}
		if !proposed {
			return nil, errors.Wrapf(ErrSyncFailed, "no signed state for app %s", hash.Hex())
		}
		p.WithField("app", hash.Hex()).Warn("App state of counterparty not signed, installing proposal")
		installed = append(installed, proposal)
	}
	var uninstalled []common.Hash
	for _, inst := range ch.AppInstances() {
		if _, ok := their.AppInstance(inst.IdentityHash()); !ok {
			uninstalled = append(uninstalled, inst.IdentityHash())
		}
	}

	next, err := ch.Replay(theirFB, installed, uninstalled)
	if err != nil {
		return nil, tag(ErrSyncFailed, err)
	}
	adopted.SetState = append(adopted.SetState, fbCommitment)
	return next, nil
}

// checkActiveApps checks that the free balance lists exactly the installed
// apps as active.
func checkActiveApps(ch *channel.StateChannel) error {
	fb, err := ch.FreeBalance()
	if err != nil {
		return err
	}
	installed := ch.AppInstances()
	if len(fb.ActiveApps()) != len(installed) {
		return errors.Wrapf(ErrDivergedState, "free balance lists %d active apps, %d installed",
			len(fb.ActiveApps()), len(installed))
	}
	for _, inst := range installed {
		if !fb.HasActiveApp(inst.IdentityHash()) {
			return errors.Wrapf(ErrDivergedState, "app %s is not active in the free balance", inst.IdentityHash().Hex())
		}
	}
	return nil
}

// backing indexes the signed commitments of the counterparty. Only their
// signatures are used: the commitments are built again from our channel and
// network, and the signatures are verified against them.
type backing struct {
	network   channel.NetworkContext
	setStates map[common.Hash]*commitment.SetStateCommitment
	condTxs   map[common.Hash]*commitment.ConditionalTransactionCommitment
}

func newBacking(network channel.NetworkContext, data syncData) backing {
	b := backing{
		network:   network,
		setStates: make(map[common.Hash]*commitment.SetStateCommitment),
		condTxs:   make(map[common.Hash]*commitment.ConditionalTransactionCommitment),
	}
	for _, c := range data.SetStateCommitments {
		if c != nil && c.Signed() {
			b.setStates[c.AppIdentityHash()] = c
		}
	}
	for _, c := range data.ConditionalTxCommitments {
		if c != nil && c.Signed() {
			b.condTxs[c.AppIdentityHash()] = c
		}
	}
	return b
}

// setState returns the commitment to exactly the latest state of the app,
// signed by both users.
func (b backing) setState(inst *channel.AppInstance) (*commitment.SetStateCommitment, bool) {
	theirs, ok := b.setStates[inst.IdentityHash()]
	if !ok {
		return nil, false
	}
	c, err := commitment.NewSetStateCommitment(b.network.ChallengeRegistry, inst)
	if err != nil {
		return nil, false
	}
	sigs := theirs.Signatures()
	if err = c.AddSignatures(sigs[0], sigs[1]); err != nil {
		return nil, false
	}
	return c, true
}

// conditionalTx returns the conditional transaction of the app in ch, signed
// by both owners of the multisig.
func (b backing) conditionalTx(ch *channel.StateChannel, inst *channel.AppInstance) (
	*commitment.ConditionalTransactionCommitment, error) {
	hash := inst.IdentityHash()
	theirs, ok := b.condTxs[hash]
	if !ok {
		return nil, errors.Wrapf(ErrSyncFailed, "no signed conditional transaction for app %s", hash.Hex())
	}
	c, err := commitment.NewConditionalTransactionCommitment(b.network, ch, inst)
	if err != nil {
		return nil, tag(ErrSyncFailed, err)
	}
	sigs := theirs.Signatures()
	if err = c.AddSignatures(sigs[0], sigs[1]); err != nil {
		return nil, tag(ErrSyncFailed, errors.WithMessagef(err, "conditional transaction for app %s", hash.Hex()))
	}
	return c, nil
}

// sameTerms reports whether the apps differ at most in their state.
func sameTerms(a, b *channel.AppInstance) bool {
	terms := func(inst *channel.AppInstance) []byte {
		j := inst.JSON()
		j.LatestState, j.LatestAction, j.LatestVersionNumber = nil, nil, 0
		j.StateTimeout = abiencoding.NewBigNumberFromUint64(0)
		raw, err := json.Marshal(j)
		if err != nil {
			return nil
		}
		return raw
	}
	ta, tb := terms(a), terms(b)
	return ta != nil && bytes.Equal(ta, tb)
}

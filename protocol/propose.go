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
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/hyperledger-labs/perun-appchannel"
	"github.com/hyperledger-labs/perun-appchannel/channel"
	"github.com/hyperledger-labs/perun-appchannel/commitment"
	"github.com/hyperledger-labs/perun-appchannel/identity"
)

func (p *process) proposeInitiator(ctx context.Context, params ProposeParams) (Result, error) {
	ch, err := p.loadChannel(ctx, params.MultisigAddress)
	if err != nil {
		return Result{}, err
	}
	if params, err = p.completeProposeParams(params); err != nil {
		return Result{}, err
	}
	proposal, err := p.newProposal(ch, params, p.runner.identifier, p.counterparty, ch.NumProposedApps())
	if err != nil {
		return Result{}, err
	}
	next, err := p.checkProposal(ch, proposal)
	if err != nil {
		return Result{}, err
	}
	if err = p.validate(ctx, ch, params, proposal); err != nil {
		return Result{}, err
	}

	c, err := commitment.NewSetStateCommitment(p.runner.network.ChallengeRegistry, proposal)
	if err != nil {
		return Result{}, err
	}
	sig, err := p.sign(ctx, c.HashToSign())
	if err != nil {
		return Result{}, err
	}
	data := stepData{AppSeqNo: proposal.AppSeqNo(), IdentityHash: proposal.IdentityHash(), Signature: sig}
	var reply stepData
	if err = p.sendAndWait(ctx, 1, params, data, &reply); err != nil {
		return Result{}, err
	}
	if err = c.AddSignatures(sig, reply.Signature); err != nil {
		return Result{}, err
	}

	err = p.persistApp(ctx, CreateProposal, next, proposal, setStateCommitments(c))
	return Result{StateChannel: next, AppInstance: proposal}, err
}

func (p *process) proposeResponder(ctx context.Context, msg perun.ProtocolMessage, params ProposeParams) (
	Result, error) {
	ch, err := p.loadChannel(ctx, params.MultisigAddress)
	if err != nil {
		return Result{}, err
	}
	var data stepData
	if err = decodeCustomData(msg, &data); err != nil {
		return Result{}, err
	}
	if data.AppSeqNo != ch.NumProposedApps() {
		return Result{}, errors.Wrapf(ErrDivergedState, "proposal has app seq no %d, expected %d",
			data.AppSeqNo, ch.NumProposedApps())
	}
	if err = p.checkDefinition(params); err != nil {
		return Result{}, err
	}
	proposal, err := p.newProposal(ch, params, msg.From, p.runner.identifier, data.AppSeqNo)
	if err != nil {
		return Result{}, err
	}
	if proposal.IdentityHash() != data.IdentityHash {
		return Result{}, errors.Wrapf(ErrInvalidMessage, "proposal has identity hash %s, computed %s",
			data.IdentityHash.Hex(), proposal.IdentityHash().Hex())
	}
	next, err := p.checkProposal(ch, proposal)
	if err != nil {
		return Result{}, err
	}
	if err = p.validate(ctx, ch, params, proposal); err != nil {
		return Result{}, err
	}

	c, err := commitment.NewSetStateCommitment(p.runner.network.ChallengeRegistry, proposal)
	if err != nil {
		return Result{}, err
	}
	sig, err := p.sign(ctx, c.HashToSign())
	if err != nil {
		return Result{}, err
	}
	if err = c.AddSignatures(data.Signature, sig); err != nil {
		return Result{}, err
	}

	if err = p.persistApp(ctx, CreateProposal, next, proposal, setStateCommitments(c)); err != nil {
		return Result{}, err
	}
	return Result{StateChannel: next, AppInstance: proposal},
		p.send(ctx, stepData{AppSeqNo: proposal.AppSeqNo(), IdentityHash: proposal.IdentityHash(), Signature: sig})
}

// completeProposeParams fills the encodings and the outcome type from the
// registered app definition, if not set.
func (p *process) completeProposeParams(params ProposeParams) (ProposeParams, error) {
	def, err := p.runner.apps.Definition(params.AppDefinition)
	if err != nil {
		return params, errors.Wrap(ErrInvalidParams, err.Error())
	}
	if params.AbiEncodings == (channel.AbiEncodings{}) {
		params.AbiEncodings = def.Encodings
	}
	if params.OutcomeType == "" {
		params.OutcomeType = def.OutcomeType
	}
	return params, p.checkDefinition(params)
}

// checkDefinition checks that the app is registered with the encodings and
// the outcome type given in params.
func (p *process) checkDefinition(params ProposeParams) error {
	def, err := p.runner.apps.Definition(params.AppDefinition)
	if err != nil {
		return errors.Wrap(ErrInvalidParams, err.Error())
	}
	if params.AbiEncodings != def.Encodings || params.OutcomeType != def.OutcomeType {
		return errors.Wrapf(ErrInvalidParams, "encodings or outcome type differ from app %s", def.Name)
	}
	return nil
}

// newProposal builds the proposal at version 1. Both users build it
// independently from the same params.
func (p *process) newProposal(ch *channel.StateChannel, params ProposeParams, initiator, responder string,
	seqNo uint64) (*channel.AppInstance, error) {
	addrs, err := identity.SignerAddresses(initiator, responder)
	if err != nil {
		return nil, err
	}
	players := [2]common.Address{addrs[0], addrs[1]}
	interpreterParams, err := channel.ComputeInterpreterParams(params.OutcomeType, players,
		params.InitiatorDeposit, params.ResponderDeposit)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidParams, err.Error())
	}
	proposal, err := channel.NewAppInstance(channel.AppInstanceJSON{
		MultisigAddress:     ch.MultisigAddress(),
		InitiatorIdentifier: initiator,
		ResponderIdentifier: responder,
		Participants:        players,
		InitiatorDeposit:    params.InitiatorDeposit,
		ResponderDeposit:    params.ResponderDeposit,
		AbiEncodings:        params.AbiEncodings,
		AppDefinition:       params.AppDefinition,
		AppSeqNo:            seqNo,
		LatestState:         params.InitialState,
		LatestVersionNumber: 1,
		DefaultTimeout:      params.DefaultTimeout,
		StateTimeout:        params.StateTimeout,
		OutcomeType:         params.OutcomeType,
		InterpreterParams:   interpreterParams,
		Meta:                params.Meta,
	})
	return proposal, errors.WithMessage(err, "building proposal")
}

// checkProposal checks that both users can cover their deposits from the
// free balance and returns the channel with the proposal added.
func (p *process) checkProposal(ch *channel.StateChannel, proposal *channel.AppInstance) (
	*channel.StateChannel, error) {
	fb, err := ch.FreeBalance()
	if err != nil {
		return nil, err
	}
	deposits := [2]channel.Deposit{proposal.InitiatorDeposit(), proposal.ResponderDeposit()}
	for i, d := range deposits {
		owner := proposal.Participants()[i]
		if d.Amount.Int().Sign() < 0 {
			return nil, errors.Wrapf(ErrInvalidParams, "negative deposit of %s", owner.Hex())
		}
		if fb.BalanceOf(d.AssetID, owner).Cmp(d.Amount.Int()) < 0 {
			return nil, errors.Wrapf(ErrInsufficientFunds, "%s has %s of asset %s, deposit is %s",
				owner.Hex(), fb.BalanceOf(d.AssetID, owner), d.AssetID.Hex(), d.Amount.Int())
		}
	}
	return ch.AddProposal(proposal)
}

func setStateCommitments(c ...*commitment.SetStateCommitment) perun.Commitments {
	return perun.Commitments{SetState: c}
}

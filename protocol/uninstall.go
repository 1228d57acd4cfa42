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
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/hyperledger-labs/perun-appchannel"
	"github.com/hyperledger-labs/perun-appchannel/app"
	"github.com/hyperledger-labs/perun-appchannel/channel"
)

func (p *process) uninstallInitiator(ctx context.Context, params UninstallParams) (Result, error) {
	ch, err := p.loadChannel(ctx, params.MultisigAddress)
	if err != nil {
		return Result{}, err
	}
	if proposal, ok := ch.ProposedAppInstance(params.AppIdentityHash); ok {
		return p.rejectInitiator(ctx, ch, params, proposal)
	}

	inst, err := p.installedApp(ch, params.AppIdentityHash)
	if err != nil {
		return Result{}, err
	}
	next, err := p.uninstall(ch, inst, params.Action)
	if err != nil {
		return Result{}, err
	}
	if err = p.validate(ctx, ch, params, inst); err != nil {
		return Result{}, err
	}

	fbCommitment, err := p.freeBalanceCommitment(next)
	if err != nil {
		return Result{}, err
	}
	sig, err := p.sign(ctx, fbCommitment.HashToSign())
	if err != nil {
		return Result{}, err
	}
	var reply stepData
	if err = p.sendAndWait(ctx, 1, params, stepData{IdentityHash: inst.IdentityHash(), Signature: sig},
		&reply); err != nil {
		return Result{}, err
	}
	if err = fbCommitment.AddSignatures(sig, reply.Signature); err != nil {
		return Result{}, err
	}

	err = p.persistApp(ctx, RemoveInstance, next, inst, setStateCommitments(fbCommitment))
	return Result{StateChannel: next, AppInstance: inst}, err
}

func (p *process) uninstallResponder(ctx context.Context, msg perun.ProtocolMessage, params UninstallParams) (
	Result, error) {
	ch, err := p.loadChannel(ctx, params.MultisigAddress)
	if err != nil {
		return Result{}, err
	}
	if proposal, ok := ch.ProposedAppInstance(params.AppIdentityHash); ok {
		return p.rejectResponder(ctx, ch, params, proposal)
	}

	inst, err := p.installedApp(ch, params.AppIdentityHash)
	if err != nil {
		return Result{}, err
	}
	var data stepData
	if err = decodeCustomData(msg, &data); err != nil {
		return Result{}, err
	}
	next, err := p.uninstall(ch, inst, params.Action)
	if err != nil {
		return Result{}, err
	}
	if err = p.validate(ctx, ch, params, inst); err != nil {
		return Result{}, err
	}

	fbCommitment, err := p.freeBalanceCommitment(next)
	if err != nil {
		return Result{}, err
	}
	sig, err := p.sign(ctx, fbCommitment.HashToSign())
	if err != nil {
		return Result{}, err
	}
	if err = fbCommitment.AddSignatures(data.Signature, sig); err != nil {
		return Result{}, err
	}

	if err = p.persistApp(ctx, RemoveInstance, next, inst, setStateCommitments(fbCommitment)); err != nil {
		return Result{}, err
	}
	return Result{StateChannel: next, AppInstance: inst},
		p.send(ctx, stepData{IdentityHash: inst.IdentityHash(), Signature: sig})
}

// uninstall returns the channel without the app and with its outcome paid
// into the free balance. A final action is applied before computing the
// outcome.
func (p *process) uninstall(ch *channel.StateChannel, inst *channel.AppInstance, action json.RawMessage) (
	*channel.StateChannel, error) {
	logic, err := p.runner.apps.Logic(inst.AppDefinition())
	if err != nil {
		return nil, err
	}
	outcome, err := app.ComputeOutcome(logic, inst, action)
	if err != nil {
		return nil, errors.WithMessage(err, "computing outcome")
	}
	increments, err := channel.ComputeIncrements(inst.OutcomeType(), inst.InterpreterParams(), outcome)
	if err != nil {
		return nil, err
	}
	return ch.UninstallApp(inst.IdentityHash(), increments)
}

func (p *process) rejectInitiator(ctx context.Context, ch *channel.StateChannel, params UninstallParams,
	proposal *channel.AppInstance) (Result, error) {
	next := ch.RemoveProposal(proposal.IdentityHash())
	if err := p.validate(ctx, ch, params, proposal); err != nil {
		return Result{}, err
	}
	var reply stepData
	if err := p.sendAndWait(ctx, 1, params, stepData{IdentityHash: proposal.IdentityHash()}, &reply); err != nil {
		return Result{}, err
	}
	err := p.persistApp(ctx, RemoveProposal, next, proposal, perun.Commitments{})
	return Result{StateChannel: next, AppInstance: proposal, Rejected: true}, err
}

func (p *process) rejectResponder(ctx context.Context, ch *channel.StateChannel, params UninstallParams,
	proposal *channel.AppInstance) (Result, error) {
	next := ch.RemoveProposal(proposal.IdentityHash())
	if err := p.validate(ctx, ch, params, proposal); err != nil {
		return Result{}, err
	}
	if err := p.persistApp(ctx, RemoveProposal, next, proposal, perun.Commitments{}); err != nil {
		return Result{}, err
	}
	return Result{StateChannel: next, AppInstance: proposal, Rejected: true},
		p.send(ctx, stepData{IdentityHash: proposal.IdentityHash()})
}

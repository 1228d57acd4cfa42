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

	"github.com/pkg/errors"

	"github.com/hyperledger-labs/perun-appchannel"
	"github.com/hyperledger-labs/perun-appchannel/channel"
	"github.com/hyperledger-labs/perun-appchannel/commitment"
)

func (p *process) installInitiator(ctx context.Context, params InstallParams) (Result, error) {
	ch, err := p.loadChannel(ctx, params.MultisigAddress)
	if err != nil {
		return Result{}, err
	}
	proposal, ok := ch.ProposedAppInstance(params.AppIdentityHash)
	if !ok {
		return Result{}, errors.Wrapf(channel.ErrUnknownApp, "no proposal %s", params.AppIdentityHash.Hex())
	}
	next, err := ch.InstallApp(proposal, proposal.Decrements())
	if err != nil {
		return Result{}, err
	}
	if err = p.validate(ctx, ch, params, proposal); err != nil {
		return Result{}, err
	}

	condTx, err := commitment.NewConditionalTransactionCommitment(p.runner.network, next, proposal)
	if err != nil {
		return Result{}, err
	}
	condSig, err := p.sign(ctx, condTx.HashToSign())
	if err != nil {
		return Result{}, err
	}
	var reply stepData
	if err = p.sendAndWait(ctx, 1, params, stepData{IdentityHash: proposal.IdentityHash(), Signature: condSig},
		&reply); err != nil {
		return Result{}, err
	}
	if err = condTx.AddSignatures(condSig, reply.Signature); err != nil {
		return Result{}, errors.WithMessage(err, "conditional transaction")
	}

	fbCommitment, err := p.freeBalanceCommitment(next)
	if err != nil {
		return Result{}, err
	}
	fbSig, err := p.sign(ctx, fbCommitment.HashToSign())
	if err != nil {
		return Result{}, err
	}
	if err = fbCommitment.AddSignatures(fbSig, reply.FreeBalanceSignature); err != nil {
		return Result{}, errors.WithMessage(err, "free balance")
	}

	if err = p.persistApp(ctx, CreateInstance, next, proposal, installCommitments(fbCommitment, condTx)); err != nil {
		return Result{}, err
	}
	return Result{StateChannel: next, AppInstance: proposal},
		p.send(ctx, stepData{IdentityHash: proposal.IdentityHash(), FreeBalanceSignature: fbSig})
}

func (p *process) installResponder(ctx context.Context, msg perun.ProtocolMessage, params InstallParams) (
	Result, error) {
	ch, err := p.loadChannel(ctx, params.MultisigAddress)
	if err != nil {
		return Result{}, err
	}
	proposal, ok := ch.ProposedAppInstance(params.AppIdentityHash)
	if !ok {
		return Result{}, errors.Wrapf(ErrDivergedState, "no proposal %s", params.AppIdentityHash.Hex())
	}
	var data stepData
	if err = decodeCustomData(msg, &data); err != nil {
		return Result{}, err
	}
	next, err := ch.InstallApp(proposal, proposal.Decrements())
	if err != nil {
		return Result{}, err
	}
	if err = p.validate(ctx, ch, params, proposal); err != nil {
		return Result{}, err
	}

	condTx, err := commitment.NewConditionalTransactionCommitment(p.runner.network, next, proposal)
	if err != nil {
		return Result{}, err
	}
	condSig, err := p.sign(ctx, condTx.HashToSign())
	if err != nil {
		return Result{}, err
	}
	if err = condTx.AddSignatures(data.Signature, condSig); err != nil {
		return Result{}, errors.WithMessage(err, "conditional transaction")
	}
	fbCommitment, err := p.freeBalanceCommitment(next)
	if err != nil {
		return Result{}, err
	}
	fbSig, err := p.sign(ctx, fbCommitment.HashToSign())
	if err != nil {
		return Result{}, err
	}

	var final stepData
	if err = p.sendAndWait(ctx, perun.UnassignedSeqNo, nil,
		stepData{IdentityHash: proposal.IdentityHash(), Signature: condSig, FreeBalanceSignature: fbSig},
		&final); err != nil {
		return Result{}, err
	}
	if err = fbCommitment.AddSignatures(final.FreeBalanceSignature, fbSig); err != nil {
		return Result{}, errors.WithMessage(err, "free balance")
	}

	err = p.persistApp(ctx, CreateInstance, next, proposal, installCommitments(fbCommitment, condTx))
	return Result{StateChannel: next, AppInstance: proposal}, err
}

func installCommitments(fb *commitment.SetStateCommitment, condTx *commitment.ConditionalTransactionCommitment) perun.Commitments {
	return perun.Commitments{
		SetState:      []*commitment.SetStateCommitment{fb},
		ConditionalTx: []*commitment.ConditionalTransactionCommitment{condTx},
	}
}

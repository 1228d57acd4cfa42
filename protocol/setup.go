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

func (p *process) setupInitiator(ctx context.Context, params SetupParams) (Result, error) {
	p.counterparty = params.ResponderIdentifier
	ch, err := p.newChannel(ctx, params.MultisigAddress, p.runner.identifier, params.ResponderIdentifier)
	if err != nil {
		return Result{}, err
	}
	params.MultisigAddress = ch.MultisigAddress()
	if err = p.validate(ctx, ch, params, nil); err != nil {
		return Result{}, err
	}

	fbCommitment, err := p.freeBalanceCommitment(ch)
	if err != nil {
		return Result{}, err
	}
	sig, err := p.sign(ctx, fbCommitment.HashToSign())
	if err != nil {
		return Result{}, err
	}
	var reply stepData
	if err = p.sendAndWait(ctx, 1, params, stepData{Signature: sig}, &reply); err != nil {
		return Result{}, err
	}
	if err = fbCommitment.AddSignatures(sig, reply.Signature); err != nil {
		return Result{}, err
	}

	err = p.persistChannel(ctx, ch, perun.Commitments{SetState: []*commitment.SetStateCommitment{fbCommitment}})
	return Result{StateChannel: ch}, err
}

func (p *process) setupResponder(ctx context.Context, msg perun.ProtocolMessage, params SetupParams) (Result, error) {
	if params.ResponderIdentifier != p.runner.identifier {
		return Result{}, errors.Wrapf(ErrInvalidMessage, "setup addressed to %s", params.ResponderIdentifier)
	}
	ch, err := p.newChannel(ctx, params.MultisigAddress, msg.From, p.runner.identifier)
	if err != nil {
		return Result{}, err
	}
	if err = p.validate(ctx, ch, params, nil); err != nil {
		return Result{}, err
	}

	var data stepData
	if err = decodeCustomData(msg, &data); err != nil {
		return Result{}, err
	}
	fbCommitment, err := p.freeBalanceCommitment(ch)
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

	err = p.persistChannel(ctx, ch, perun.Commitments{SetState: []*commitment.SetStateCommitment{fbCommitment}})
	if err != nil {
		return Result{}, err
	}
	return Result{StateChannel: ch}, p.send(ctx, stepData{Signature: sig})
}

// newChannel builds the channel of a setup run. The multisig is derived from
// the owners if not given. It fails if the channel already exists.
func (p *process) newChannel(ctx context.Context, multisig common.Address, initiator, responder string) (
	*channel.StateChannel, error) {
	owners, err := identity.SignerAddresses(initiator, responder)
	if err != nil {
		return nil, err
	}
	network := p.runner.network
	derived := channel.MultisigAddress(network.CriticalAddresses(), [2]common.Address{owners[0], owners[1]})
	if multisig == (common.Address{}) {
		multisig = derived
	}
	if multisig != derived {
		return nil, errors.Wrapf(ErrInvalidParams, "multisig %s is not derived from the owners", multisig.Hex())
	}

	_, err = p.runner.reader.GetStateChannel(ctx, multisig)
	switch {
	case err == nil:
		return nil, errors.Wrapf(ErrChannelExists, "%s", multisig.Hex())
	case !errors.Is(err, perun.ErrRecordNotFound):
		return nil, err
	}
	return channel.SetupChannel(network.IdentityApp, network.CriticalAddresses(), multisig, initiator, responder)
}

func (p *process) freeBalanceCommitment(ch *channel.StateChannel) (*commitment.SetStateCommitment, error) {
	return commitment.NewSetStateCommitment(p.runner.network.ChallengeRegistry, ch.FreeBalanceAppInstance())
}

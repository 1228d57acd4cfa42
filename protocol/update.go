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
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/hyperledger-labs/perun-appchannel"
	"github.com/hyperledger-labs/perun-appchannel/app"
	"github.com/hyperledger-labs/perun-appchannel/channel"
	"github.com/hyperledger-labs/perun-appchannel/commitment"
)

// updateInitiator runs update and takeAction. Both set a new state on an
// installed app; takeAction derives it from the action.
func (p *process) updateInitiator(ctx context.Context, params Params) (Result, error) {
	ch, err := p.loadChannel(ctx, params.Multisig())
	if err != nil {
		return Result{}, err
	}
	current, updated, err := p.nextAppState(ch, params)
	if err != nil {
		return Result{}, err
	}
	next, err := ch.UpdateAppInstance(updated)
	if err != nil {
		return Result{}, err
	}
	if err = p.validate(ctx, ch, params, updated); err != nil {
		return Result{}, err
	}

	c, err := commitment.NewSetStateCommitment(p.runner.network.ChallengeRegistry, updated)
	if err != nil {
		return Result{}, err
	}
	sig, err := p.sign(ctx, c.HashToSign())
	if err != nil {
		return Result{}, err
	}
	data := stepData{IdentityHash: current.IdentityHash(), Version: updated.LatestVersionNumber(), Signature: sig}
	var reply stepData
	if err = p.sendAndWait(ctx, 1, params, data, &reply); err != nil {
		return Result{}, err
	}
	if err = c.AddSignatures(sig, reply.Signature); err != nil {
		return Result{}, err
	}

	err = p.persistApp(ctx, UpdateInstance, next, updated, setStateCommitments(c))
	return Result{StateChannel: next, AppInstance: updated}, err
}

func (p *process) updateResponder(ctx context.Context, msg perun.ProtocolMessage, params Params) (Result, error) {
	ch, err := p.loadChannel(ctx, params.Multisig())
	if err != nil {
		return Result{}, err
	}
	var data stepData
	if err = decodeCustomData(msg, &data); err != nil {
		return Result{}, err
	}
	current, updated, err := p.nextAppState(ch, params)
	if err != nil {
		return Result{}, err
	}
	if updated.LatestVersionNumber() != data.Version {
		return Result{}, errors.Wrapf(ErrDivergedState, "app %s at version %d, update proposes %d",
			current.IdentityHash().Hex(), current.LatestVersionNumber(), data.Version)
	}
	next, err := ch.UpdateAppInstance(updated)
	if err != nil {
		return Result{}, err
	}
	if err = p.validate(ctx, ch, params, updated); err != nil {
		return Result{}, err
	}

	c, err := commitment.NewSetStateCommitment(p.runner.network.ChallengeRegistry, updated)
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

	if err = p.persistApp(ctx, UpdateInstance, next, updated, setStateCommitments(c)); err != nil {
		return Result{}, err
	}
	return Result{StateChannel: next, AppInstance: updated},
		p.send(ctx, stepData{IdentityHash: current.IdentityHash(), Version: updated.LatestVersionNumber(), Signature: sig})
}

// nextAppState returns the installed app named in params and the app with
// the new state.
func (p *process) nextAppState(ch *channel.StateChannel, params Params) (current, updated *channel.AppInstance,
	_ error) {
	var hash common.Hash
	switch params := params.(type) {
	case UpdateParams:
		hash = params.AppIdentityHash
	case TakeActionParams:
		hash = params.AppIdentityHash
	}
	current, err := p.installedApp(ch, hash)
	if err != nil {
		return nil, nil, err
	}

	switch params := params.(type) {
	case UpdateParams:
		updated, err = current.SetState(params.NewState, optionalInt(params.StateTimeout))
	case TakeActionParams:
		updated, err = p.applyAction(current, params.Action, optionalInt(params.StateTimeout))
	}
	if err != nil {
		return nil, nil, tag(ErrInvalidParams, err)
	}
	return current, updated, nil
}

// applyAction returns the app at the next version, with the state computed
// by the app logic and the action recorded.
func (p *process) applyAction(inst *channel.AppInstance, action []byte, stateTimeout *big.Int) (
	*channel.AppInstance, error) {
	logic, err := p.runner.apps.Logic(inst.AppDefinition())
	if err != nil {
		return nil, err
	}
	newState, err := app.ApplyAction(logic, inst, action)
	if err != nil {
		return nil, err
	}
	updated, err := inst.SetState(newState, stateTimeout)
	if err != nil {
		return nil, err
	}
	return updated.SetAction(action)
}

// installedApp returns the installed app. An unknown app is an invalid
// request on the initiator and a sign of divergence on the responder.
func (p *process) installedApp(ch *channel.StateChannel, hash common.Hash) (*channel.AppInstance, error) {
	inst, ok := ch.AppInstance(hash)
	if ok {
		return inst, nil
	}
	if p.role == Responder {
		return nil, errors.Wrapf(ErrDivergedState, "app %s not installed", hash.Hex())
	}
	return nil, errors.Wrapf(channel.ErrUnknownApp, "%s", hash.Hex())
}

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

package session

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/hyperledger-labs/perun-appchannel"
	"github.com/hyperledger-labs/perun-appchannel/abiencoding"
	"github.com/hyperledger-labs/perun-appchannel/channel"
	"github.com/hyperledger-labs/perun-appchannel/commitment"
	"github.com/hyperledger-labs/perun-appchannel/identity"
	"github.com/hyperledger-labs/perun-appchannel/protocol"
)

// CreateChannel runs the setup protocol with the counterparty, given by its
// public identifier or its alias in the ID provider. The multisig is derived
// from the signer addresses of both users.
//
// If there is an error, it will be one of the following codes:
// - ErrInvalidArgument with Name:"counterparty" when the counterparty is not known.
// - ErrResourceExists when the channel already exists.
// - ErrPeerRequestTimedOut when peer request times out.
// - ErrPeerRejected when peer rejects the request.
// - ErrUnknownInternal.
func (s *Session) CreateChannel(ctx context.Context, counterparty string) (*channel.StateChannel, perun.APIError) {
	s.WithField("method", MethodCreateChannel).Info("Received request with params:", counterparty)
	identifier, apiErr := s.resolvePeer(counterparty)
	if apiErr != nil {
		s.WithFields(perun.APIErrAsMap(MethodCreateChannel, apiErr)).Error(apiErr.Message())
		return nil, apiErr
	}
	owners, err := identity.SignerAddresses(s.Identifier(), identifier)
	if err != nil {
		apiErr = perun.NewAPIErrInvalidArgument(err, ArgNameCounterparty, counterparty)
		s.WithFields(perun.APIErrAsMap(MethodCreateChannel, apiErr)).Error(apiErr.Message())
		return nil, apiErr
	}
	multisig := channel.MultisigAddress(s.network.CriticalAddresses(), [2]common.Address{owners[0], owners[1]})

	res, apiErr := s.run(ctx, MethodCreateChannel, perun.EventChannelCreated, protocol.SetupParams{
		MultisigAddress:     multisig,
		ResponderIdentifier: identifier,
	}, runRef{counterparty: identifier})
	if apiErr != nil {
		return nil, apiErr
	}
	return res.StateChannel, nil
}

// resolvePeer returns the public identifier for an identifier or an alias.
func (s *Session) resolvePeer(peer string) (string, perun.APIError) {
	if _, err := identity.PublicKeyFromIdentifier(peer); err == nil {
		return peer, nil
	}
	if s.ids != nil {
		if p, ok := s.ids.ReadByAlias(peer); ok {
			return p.PublicIdentifier, nil
		}
	}
	return "", perun.NewAPIErrInvalidArgument(identity.ErrInvalidIdentifier, ArgNameCounterparty, peer)
}

// ProposeInstall runs the propose protocol and returns the identity hash of
// the proposed app. The user of the session is the initiator of the app.
func (s *Session) ProposeInstall(ctx context.Context, params protocol.ProposeParams) (common.Hash, perun.APIError) {
	s.WithField("method", MethodProposeInstall).Infof("\nReceived request with params %+v", params)
	counterparty, apiErr := s.counterparty(ctx, MethodProposeInstall, params.MultisigAddress)
	if apiErr != nil {
		return common.Hash{}, apiErr
	}
	res, apiErr := s.run(ctx, MethodProposeInstall, perun.EventProposeInstall, params,
		runRef{counterparty: counterparty})
	if apiErr != nil {
		return common.Hash{}, apiErr
	}
	return res.AppInstance.IdentityHash(), nil
}

// Install runs the install protocol for the proposal.
func (s *Session) Install(ctx context.Context, appIdentityHash common.Hash) (*channel.AppInstance, perun.APIError) {
	s.WithField("method", MethodInstall).Info("Received request with params:", appIdentityHash.Hex())
	ch, apiErr := s.channelOfApp(ctx, MethodInstall, appIdentityHash)
	if apiErr != nil {
		return nil, apiErr
	}
	res, apiErr := s.run(ctx, MethodInstall, perun.EventInstall, protocol.InstallParams{
		MultisigAddress: ch.MultisigAddress(),
		AppIdentityHash: appIdentityHash,
	}, s.refOf(ch, appIdentityHash))
	if apiErr != nil {
		return nil, apiErr
	}
	return res.AppInstance, nil
}

// RejectInstall removes the proposal on both sides.
func (s *Session) RejectInstall(ctx context.Context, appIdentityHash common.Hash) perun.APIError {
	s.WithField("method", MethodRejectInstall).Info("Received request with params:", appIdentityHash.Hex())
	ch, apiErr := s.channelOfApp(ctx, MethodRejectInstall, appIdentityHash)
	if apiErr != nil {
		return apiErr
	}
	if _, ok := ch.ProposedAppInstance(appIdentityHash); !ok {
		apiErr = perun.NewAPIErrResourceNotFound(ResTypeApp, appIdentityHash.Hex())
		s.WithFields(perun.APIErrAsMap(MethodRejectInstall, apiErr)).Error(apiErr.Message())
		return apiErr
	}
	_, apiErr = s.run(ctx, MethodRejectInstall, perun.EventRejectInstall, protocol.UninstallParams{
		MultisigAddress: ch.MultisigAddress(),
		AppIdentityHash: appIdentityHash,
	}, s.refOf(ch, appIdentityHash))
	return apiErr
}

// UpdateState sets a new state on the installed app. A nil stateTimeout keeps
// the current one.
func (s *Session) UpdateState(ctx context.Context, appIdentityHash common.Hash, newState json.RawMessage,
	stateTimeout *abiencoding.BigNumber) (*channel.AppInstance, perun.APIError) {
	s.WithField("method", MethodUpdateState).Infof("\nReceived request with params %s,%s",
		appIdentityHash.Hex(), newState)
	ch, apiErr := s.channelOfApp(ctx, MethodUpdateState, appIdentityHash)
	if apiErr != nil {
		return nil, apiErr
	}
	res, apiErr := s.run(ctx, MethodUpdateState, perun.EventUpdateState, protocol.UpdateParams{
		MultisigAddress: ch.MultisigAddress(),
		AppIdentityHash: appIdentityHash,
		NewState:        newState,
		StateTimeout:    stateTimeout,
	}, s.refOf(ch, appIdentityHash))
	if apiErr != nil {
		return nil, apiErr
	}
	return res.AppInstance, nil
}

// TakeAction applies the action to the installed app.
func (s *Session) TakeAction(ctx context.Context, appIdentityHash common.Hash, action json.RawMessage,
	stateTimeout *abiencoding.BigNumber) (*channel.AppInstance, perun.APIError) {
	s.WithField("method", MethodTakeAction).Infof("\nReceived request with params %s,%s",
		appIdentityHash.Hex(), action)
	ch, apiErr := s.channelOfApp(ctx, MethodTakeAction, appIdentityHash)
	if apiErr != nil {
		return nil, apiErr
	}
	res, apiErr := s.run(ctx, MethodTakeAction, perun.EventUpdateState, protocol.TakeActionParams{
		MultisigAddress: ch.MultisigAddress(),
		AppIdentityHash: appIdentityHash,
		Action:          action,
		StateTimeout:    stateTimeout,
	}, s.refOf(ch, appIdentityHash))
	if apiErr != nil {
		return nil, apiErr
	}
	return res.AppInstance, nil
}

// Uninstall removes the app after applying the optional final action and
// returns the channel with the outcome of the app added to the free balance.
func (s *Session) Uninstall(ctx context.Context, appIdentityHash common.Hash, action json.RawMessage) (
	*channel.StateChannel, perun.APIError) {
	s.WithField("method", MethodUninstall).Infof("\nReceived request with params %s,%s",
		appIdentityHash.Hex(), action)
	ch, apiErr := s.channelOfApp(ctx, MethodUninstall, appIdentityHash)
	if apiErr != nil {
		return nil, apiErr
	}
	res, apiErr := s.run(ctx, MethodUninstall, perun.EventUninstall, protocol.UninstallParams{
		MultisigAddress: ch.MultisigAddress(),
		AppIdentityHash: appIdentityHash,
		Action:          action,
	}, s.refOf(ch, appIdentityHash))
	if apiErr != nil {
		return nil, apiErr
	}
	return res.StateChannel, nil
}

// Sync reconciles the channel with the counterparty.
func (s *Session) Sync(ctx context.Context, multisig common.Address) (*channel.StateChannel, perun.APIError) {
	s.WithField("method", MethodSync).Info("Received request with params:", multisig.Hex())
	counterparty, apiErr := s.counterparty(ctx, MethodSync, multisig)
	if apiErr != nil {
		return nil, apiErr
	}
	res, apiErr := s.run(ctx, MethodSync, perun.EventSync, protocol.SyncParams{MultisigAddress: multisig},
		runRef{counterparty: counterparty})
	if apiErr != nil {
		return nil, apiErr
	}
	return res.StateChannel, nil
}

// GetStateChannel returns the persisted channel.
func (s *Session) GetStateChannel(ctx context.Context, multisig common.Address) (
	*channel.StateChannel, perun.APIError) {
	s.WithField("method", MethodGetStateChannel).Info("Received request with params:", multisig.Hex())
	return s.loadChannel(ctx, MethodGetStateChannel, multisig)
}

// GetChannelAddresses returns the multisig addresses of all persisted channels.
func (s *Session) GetChannelAddresses(ctx context.Context) ([]common.Address, perun.APIError) {
	s.WithField("method", MethodGetChannelAddresses).Info("Received request")
	chs, err := s.store.GetAllStateChannels(ctx)
	if err != nil {
		apiErr := perun.NewAPIErrUnknownInternal(err)
		s.WithFields(perun.APIErrAsMap(MethodGetChannelAddresses, apiErr)).Error(apiErr.Message())
		return nil, apiErr
	}
	addrs := make([]common.Address, len(chs))
	for i := range chs {
		addrs[i] = chs[i].MultisigAddress()
	}
	return addrs, nil
}

// GetAppInstances returns the installed apps of the channel.
func (s *Session) GetAppInstances(ctx context.Context, multisig common.Address) (
	[]*channel.AppInstance, perun.APIError) {
	s.WithField("method", MethodGetAppInstances).Info("Received request with params:", multisig.Hex())
	ch, apiErr := s.loadChannel(ctx, MethodGetAppInstances, multisig)
	if apiErr != nil {
		return nil, apiErr
	}
	return ch.AppInstances(), nil
}

// GetProposedAppInstances returns the proposals of the channel.
func (s *Session) GetProposedAppInstances(ctx context.Context, multisig common.Address) (
	[]*channel.AppInstance, perun.APIError) {
	s.WithField("method", MethodGetProposedAppInstances).Info("Received request with params:", multisig.Hex())
	ch, apiErr := s.loadChannel(ctx, MethodGetProposedAppInstances, multisig)
	if apiErr != nil {
		return nil, apiErr
	}
	return ch.ProposedAppInstances(), nil
}

// GetAppInstance returns the installed app or proposal.
func (s *Session) GetAppInstance(ctx context.Context, appIdentityHash common.Hash) (
	*channel.AppInstance, perun.APIError) {
	s.WithField("method", MethodGetAppInstance).Info("Received request with params:", appIdentityHash.Hex())
	ch, apiErr := s.channelOfApp(ctx, MethodGetAppInstance, appIdentityHash)
	if apiErr != nil {
		return nil, apiErr
	}
	if inst, ok := ch.AppInstance(appIdentityHash); ok {
		return inst, nil
	}
	if inst, ok := ch.ProposedAppInstance(appIdentityHash); ok {
		return inst, nil
	}
	apiErr = perun.NewAPIErrResourceNotFound(ResTypeApp, appIdentityHash.Hex())
	s.WithFields(perun.APIErrAsMap(MethodGetAppInstance, apiErr)).Error(apiErr.Message())
	return nil, apiErr
}

// GetFreeBalanceState returns the free balance of each participant in the
// token.
func (s *Session) GetFreeBalanceState(ctx context.Context, multisig, token common.Address) (
	map[common.Address]*big.Int, perun.APIError) {
	s.WithField("method", MethodGetFreeBalanceState).Infof("\nReceived request with params %s,%s",
		multisig.Hex(), token.Hex())
	ch, apiErr := s.loadChannel(ctx, MethodGetFreeBalanceState, multisig)
	if apiErr != nil {
		return nil, apiErr
	}
	fb, err := ch.FreeBalance()
	if err != nil {
		apiErr = perun.NewAPIErrUnknownInternal(err)
		s.WithFields(perun.APIErrAsMap(MethodGetFreeBalanceState, apiErr)).Error(apiErr.Message())
		return nil, apiErr
	}
	balances := make(map[common.Address]*big.Int, 2)
	for _, owner := range ch.MultisigOwners() {
		balances[owner] = fb.BalanceOf(token, owner)
	}
	return balances, nil
}

// CreateWithdrawCommitment creates, signs and persists the commitment paying
// amount of the asset from the multisig to the recipient. The amount must
// not exceed the free balance of the user. The commitment needs the
// signature of the counterparty before it can be submitted.
func (s *Session) CreateWithdrawCommitment(ctx context.Context, multisig, recipient, assetID common.Address,
	amount *big.Int) (*commitment.WithdrawCommitment, []byte, perun.APIError) {
	s.WithField("method", MethodCreateWithdrawCommitment).Infof("\nReceived request with params %s,%s,%s,%v",
		multisig.Hex(), recipient.Hex(), assetID.Hex(), amount)
	var apiErr perun.APIError
	defer func() {
		if apiErr != nil {
			s.WithFields(perun.APIErrAsMap(MethodCreateWithdrawCommitment, apiErr)).Error(apiErr.Message())
		}
	}()
	if apiErr = s.checkOpen(); apiErr != nil {
		return nil, nil, apiErr
	}

	lctx, cancel := context.WithTimeout(ctx, s.timeoutCfg.initiatorLock())
	release, err := s.locks.Acquire(lctx, lockName(multisig))
	cancel()
	if err != nil {
		apiErr = s.toAPIError(err, runRef{multisig: multisig})
		return nil, nil, apiErr
	}
	defer release()

	ch, err := s.store.GetStateChannel(ctx, multisig)
	if err != nil {
		apiErr = s.toAPIError(err, runRef{multisig: multisig})
		return nil, nil, apiErr
	}
	fb, err := ch.FreeBalance()
	if err != nil {
		apiErr = perun.NewAPIErrUnknownInternal(err)
		return nil, nil, apiErr
	}
	if amount == nil || amount.Cmp(fb.BalanceOf(assetID, s.signer.Address())) > 0 {
		err = errors.Errorf("amount %v exceeds free balance %v", amount, fb.BalanceOf(assetID, s.signer.Address()))
		apiErr = perun.NewAPIErrInvalidArgument(err, ArgNameAmount, amount.String())
		return nil, nil, apiErr
	}
	c, err := commitment.NewWithdrawCommitment(multisig, ch.MultisigOwners(), recipient, assetID, amount)
	if err != nil {
		apiErr = perun.NewAPIErrInvalidArgument(err, ArgNameAmount, amount.String())
		return nil, nil, apiErr
	}
	sig, err := s.signer.SignDigest(c.HashToSign())
	if err != nil {
		apiErr = perun.NewAPIErrUnknownInternal(err)
		return nil, nil, apiErr
	}
	if err = s.store.SaveWithdrawCommitment(ctx, multisig, c); err != nil {
		apiErr = perun.NewAPIErrUnknownInternal(err)
		return nil, nil, apiErr
	}
	return c, sig, nil
}

func (s *Session) loadChannel(ctx context.Context, method string, multisig common.Address) (
	*channel.StateChannel, perun.APIError) {
	ch, err := s.store.GetStateChannel(ctx, multisig)
	if err == nil {
		return ch, nil
	}
	var apiErr perun.APIError
	if errors.Is(err, perun.ErrRecordNotFound) {
		apiErr = perun.NewAPIErrResourceNotFound(ResTypeChannel, multisig.Hex())
	} else {
		apiErr = perun.NewAPIErrUnknownInternal(err)
	}
	s.WithFields(perun.APIErrAsMap(method, apiErr)).Error(apiErr.Message())
	return nil, apiErr
}

func (s *Session) counterparty(ctx context.Context, method string, multisig common.Address) (
	string, perun.APIError) {
	ch, apiErr := s.loadChannel(ctx, method, multisig)
	if apiErr != nil {
		return "", apiErr
	}
	counterparty, err := ch.Counterparty(s.Identifier())
	if err != nil {
		apiErr = perun.NewAPIErrUnknownInternal(err)
		s.WithFields(perun.APIErrAsMap(method, apiErr)).Error(apiErr.Message())
		return "", apiErr
	}
	return counterparty, nil
}

func (s *Session) channelOfApp(ctx context.Context, method string, appIdentityHash common.Hash) (
	*channel.StateChannel, perun.APIError) {
	ch, err := s.store.GetStateChannelByAppIdentityHash(ctx, appIdentityHash)
	if err == nil {
		return ch, nil
	}
	var apiErr perun.APIError
	if errors.Is(err, perun.ErrRecordNotFound) {
		apiErr = perun.NewAPIErrResourceNotFound(ResTypeApp, appIdentityHash.Hex())
	} else {
		apiErr = perun.NewAPIErrUnknownInternal(err)
	}
	s.WithFields(perun.APIErrAsMap(method, apiErr)).Error(apiErr.Message())
	return nil, apiErr
}

func (s *Session) refOf(ch *channel.StateChannel, appIdentityHash common.Hash) runRef {
	counterparty, _ := ch.Counterparty(s.Identifier()) // nolint: errcheck	// Loaded channels have the user.
	return runRef{counterparty: counterparty, app: appIdentityHash}
}

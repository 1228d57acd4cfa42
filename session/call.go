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

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"

	"github.com/hyperledger-labs/perun-appchannel"
	"github.com/hyperledger-labs/perun-appchannel/abiencoding"
	"github.com/hyperledger-labs/perun-appchannel/channel"
	"github.com/hyperledger-labs/perun-appchannel/commitment"
	"github.com/hyperledger-labs/perun-appchannel/protocol"
)

// Methods served by Call.
const (
	MethodCreateChannel            = "chan_create"
	MethodProposeInstall           = "chan_proposeInstall"
	MethodInstall                  = "chan_install"
	MethodRejectInstall            = "chan_rejectInstall"
	MethodUpdateState              = "chan_updateState"
	MethodTakeAction               = "chan_takeAction"
	MethodUninstall                = "chan_uninstall"
	MethodSync                     = "chan_sync"
	MethodGetStateChannel          = "chan_getStateChannel"
	MethodGetChannelAddresses      = "chan_getChannelAddresses"
	MethodGetAppInstances          = "chan_getAppInstances"
	MethodGetAppInstance           = "chan_getAppInstance"
	MethodGetProposedAppInstances  = "chan_getProposedAppInstances"
	MethodGetFreeBalanceState      = "chan_getFreeBalanceState"
	MethodCreateWithdrawCommitment = "chan_createWithdrawCommitment"
)

type (
	// CreateChannelParams of chan_create.
	CreateChannelParams struct {
		// Counterparty is the public identifier or the alias of the peer.
		Counterparty string `json:"counterparty"`
	}

	// MultisigParams of the methods addressing a channel.
	MultisigParams struct {
		MultisigAddress common.Address `json:"multisigAddress"`
	}

	// AppParams of the methods addressing an app.
	AppParams struct {
		AppIdentityHash common.Hash `json:"appIdentityHash"`
	}

	// UpdateStateParams of chan_updateState.
	UpdateStateParams struct {
		AppIdentityHash common.Hash            `json:"appIdentityHash"`
		NewState        json.RawMessage        `json:"newState"`
		StateTimeout    *abiencoding.BigNumber `json:"stateTimeout,omitempty"`
	}

	// TakeActionParams of chan_takeAction.
	TakeActionParams struct {
		AppIdentityHash common.Hash            `json:"appIdentityHash"`
		Action          json.RawMessage        `json:"action"`
		StateTimeout    *abiencoding.BigNumber `json:"stateTimeout,omitempty"`
	}

	// UninstallParams of chan_uninstall.
	UninstallParams struct {
		AppIdentityHash common.Hash     `json:"appIdentityHash"`
		Action          json.RawMessage `json:"action,omitempty"`
	}

	// FreeBalanceStateParams of chan_getFreeBalanceState. A zero token
	// selects the native asset.
	FreeBalanceStateParams struct {
		MultisigAddress common.Address `json:"multisigAddress"`
		TokenAddress    common.Address `json:"tokenAddress"`
	}

	// WithdrawCommitmentParams of chan_createWithdrawCommitment.
	WithdrawCommitmentParams struct {
		MultisigAddress common.Address        `json:"multisigAddress"`
		Recipient       common.Address        `json:"recipient"`
		AssetID         common.Address        `json:"assetId"`
		Amount          abiencoding.BigNumber `json:"amount"`
	}

	// StateChannelResult carries a channel snapshot.
	StateChannelResult struct {
		StateChannel *channel.StateChannel `json:"stateChannel"`
	}

	// ProposeInstallResult of chan_proposeInstall.
	ProposeInstallResult struct {
		AppIdentityHash common.Hash `json:"appIdentityHash"`
	}

	// AppInstanceResult carries one app.
	AppInstanceResult struct {
		AppInstance *channel.AppInstance `json:"appInstance"`
	}

	// AppInstancesResult carries the apps of a channel.
	AppInstancesResult struct {
		AppInstances []*channel.AppInstance `json:"appInstances"`
	}

	// ChannelAddressesResult of chan_getChannelAddresses.
	ChannelAddressesResult struct {
		MultisigAddresses []common.Address `json:"multisigAddresses"`
	}

	// FreeBalanceStateResult maps the owners to their balances.
	FreeBalanceStateResult map[common.Address]abiencoding.BigNumber

	// WithdrawCommitmentResult of chan_createWithdrawCommitment. Signature
	// is the signature of the user over the commitment digest.
	WithdrawCommitmentResult struct {
		Commitment *commitment.WithdrawCommitment `json:"commitment"`
		Digest     common.Hash                    `json:"digest"`
		Signature  string                         `json:"signature"`
	}

	// EmptyResult is returned by the methods without a result.
	EmptyResult struct{}
)

// Call decodes the params of the method and serves the request. The result
// is one of the result types above and can be marshalled as json.
func (s *Session) Call(ctx context.Context, method string, params json.RawMessage) (interface{}, perun.APIError) {
	handler, ok := callHandlers[method]
	if !ok {
		apiErr := perun.NewAPIErrInvalidArgument(ErrUnknownMethod, "method", method)
		s.WithFields(perun.APIErrAsMap(method, apiErr)).Error(apiErr.Message())
		return nil, apiErr
	}
	return handler(ctx, s, params)
}

type callHandler func(ctx context.Context, s *Session, params json.RawMessage) (interface{}, perun.APIError)

var callHandlers = map[string]callHandler{
	MethodCreateChannel: func(ctx context.Context, s *Session, raw json.RawMessage) (interface{}, perun.APIError) {
		var p CreateChannelParams
		if apiErr := s.decodeParams(MethodCreateChannel, raw, &p); apiErr != nil {
			return nil, apiErr
		}
		ch, apiErr := s.CreateChannel(ctx, p.Counterparty)
		return stateChannelResult(ch, apiErr)
	},
	MethodProposeInstall: func(ctx context.Context, s *Session, raw json.RawMessage) (interface{}, perun.APIError) {
		var p protocol.ProposeParams
		if apiErr := s.decodeParams(MethodProposeInstall, raw, &p); apiErr != nil {
			return nil, apiErr
		}
		hash, apiErr := s.ProposeInstall(ctx, p)
		if apiErr != nil {
			return nil, apiErr
		}
		return ProposeInstallResult{AppIdentityHash: hash}, nil
	},
	MethodInstall: func(ctx context.Context, s *Session, raw json.RawMessage) (interface{}, perun.APIError) {
		var p AppParams
		if apiErr := s.decodeParams(MethodInstall, raw, &p); apiErr != nil {
			return nil, apiErr
		}
		return appInstanceResult(s.Install(ctx, p.AppIdentityHash))
	},
	MethodRejectInstall: func(ctx context.Context, s *Session, raw json.RawMessage) (interface{}, perun.APIError) {
		var p AppParams
		if apiErr := s.decodeParams(MethodRejectInstall, raw, &p); apiErr != nil {
			return nil, apiErr
		}
		if apiErr := s.RejectInstall(ctx, p.AppIdentityHash); apiErr != nil {
			return nil, apiErr
		}
		return EmptyResult{}, nil
	},
	MethodUpdateState: func(ctx context.Context, s *Session, raw json.RawMessage) (interface{}, perun.APIError) {
		var p UpdateStateParams
		if apiErr := s.decodeParams(MethodUpdateState, raw, &p); apiErr != nil {
			return nil, apiErr
		}
		return appInstanceResult(s.UpdateState(ctx, p.AppIdentityHash, p.NewState, p.StateTimeout))
	},
	MethodTakeAction: func(ctx context.Context, s *Session, raw json.RawMessage) (interface{}, perun.APIError) {
		var p TakeActionParams
		if apiErr := s.decodeParams(MethodTakeAction, raw, &p); apiErr != nil {
			return nil, apiErr
		}
		return appInstanceResult(s.TakeAction(ctx, p.AppIdentityHash, p.Action, p.StateTimeout))
	},
	MethodUninstall: func(ctx context.Context, s *Session, raw json.RawMessage) (interface{}, perun.APIError) {
		var p UninstallParams
		if apiErr := s.decodeParams(MethodUninstall, raw, &p); apiErr != nil {
			return nil, apiErr
		}
		return stateChannelResult(s.Uninstall(ctx, p.AppIdentityHash, p.Action))
	},
	MethodSync: func(ctx context.Context, s *Session, raw json.RawMessage) (interface{}, perun.APIError) {
		var p MultisigParams
		if apiErr := s.decodeParams(MethodSync, raw, &p); apiErr != nil {
			return nil, apiErr
		}
		return stateChannelResult(s.Sync(ctx, p.MultisigAddress))
	},
	MethodGetStateChannel: func(ctx context.Context, s *Session, raw json.RawMessage) (interface{}, perun.APIError) {
		var p MultisigParams
		if apiErr := s.decodeParams(MethodGetStateChannel, raw, &p); apiErr != nil {
			return nil, apiErr
		}
		return stateChannelResult(s.GetStateChannel(ctx, p.MultisigAddress))
	},
	MethodGetChannelAddresses: func(ctx context.Context, s *Session, _ json.RawMessage) (interface{}, perun.APIError) {
		addrs, apiErr := s.GetChannelAddresses(ctx)
		if apiErr != nil {
			return nil, apiErr
		}
		return ChannelAddressesResult{MultisigAddresses: addrs}, nil
	},
	MethodGetAppInstances: func(ctx context.Context, s *Session, raw json.RawMessage) (interface{}, perun.APIError) {
		var p MultisigParams
		if apiErr := s.decodeParams(MethodGetAppInstances, raw, &p); apiErr != nil {
			return nil, apiErr
		}
		return appInstancesResult(s.GetAppInstances(ctx, p.MultisigAddress))
	},
	MethodGetAppInstance: func(ctx context.Context, s *Session, raw json.RawMessage) (interface{}, perun.APIError) {
		var p AppParams
		if apiErr := s.decodeParams(MethodGetAppInstance, raw, &p); apiErr != nil {
			return nil, apiErr
		}
		return appInstanceResult(s.GetAppInstance(ctx, p.AppIdentityHash))
	},
	MethodGetProposedAppInstances: func(ctx context.Context, s *Session, raw json.RawMessage) (
		interface{}, perun.APIError) {
		var p MultisigParams
		if apiErr := s.decodeParams(MethodGetProposedAppInstances, raw, &p); apiErr != nil {
			return nil, apiErr
		}
		return appInstancesResult(s.GetProposedAppInstances(ctx, p.MultisigAddress))
	},
	MethodGetFreeBalanceState: func(ctx context.Context, s *Session, raw json.RawMessage) (
		interface{}, perun.APIError) {
		var p FreeBalanceStateParams
		if apiErr := s.decodeParams(MethodGetFreeBalanceState, raw, &p); apiErr != nil {
			return nil, apiErr
		}
		balances, apiErr := s.GetFreeBalanceState(ctx, p.MultisigAddress, p.TokenAddress)
		if apiErr != nil {
			return nil, apiErr
		}
		res := make(FreeBalanceStateResult, len(balances))
		for owner, bal := range balances {
			res[owner] = abiencoding.NewBigNumber(bal)
		}
		return res, nil
	},
	MethodCreateWithdrawCommitment: func(ctx context.Context, s *Session, raw json.RawMessage) (
		interface{}, perun.APIError) {
		var p WithdrawCommitmentParams
		if apiErr := s.decodeParams(MethodCreateWithdrawCommitment, raw, &p); apiErr != nil {
			return nil, apiErr
		}
		c, sig, apiErr := s.CreateWithdrawCommitment(ctx, p.MultisigAddress, p.Recipient, p.AssetID,
			p.Amount.Int())
		if apiErr != nil {
			return nil, apiErr
		}
		return WithdrawCommitmentResult{Commitment: c, Digest: c.HashToSign(), Signature: hexutil.Encode(sig)}, nil
	},
}

func (s *Session) decodeParams(method string, raw json.RawMessage, v interface{}) perun.APIError {
	if err := json.Unmarshal(raw, v); err != nil {
		apiErr := perun.NewAPIErrInvalidArgument(errors.Wrap(err, "decoding params"), ArgNameParams, string(raw))
		s.WithFields(perun.APIErrAsMap(method, apiErr)).Error(apiErr.Message())
		return apiErr
	}
	return nil
}

func stateChannelResult(ch *channel.StateChannel, apiErr perun.APIError) (interface{}, perun.APIError) {
	if apiErr != nil {
		return nil, apiErr
	}
	return StateChannelResult{StateChannel: ch}, nil
}

func appInstanceResult(inst *channel.AppInstance, apiErr perun.APIError) (interface{}, perun.APIError) {
	if apiErr != nil {
		return nil, apiErr
	}
	return AppInstanceResult{AppInstance: inst}, nil
}

func appInstancesResult(insts []*channel.AppInstance, apiErr perun.APIError) (interface{}, perun.APIError) {
	if apiErr != nil {
		return nil, apiErr
	}
	return AppInstancesResult{AppInstances: insts}, nil
}

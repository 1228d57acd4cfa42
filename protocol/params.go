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
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"

	"github.com/hyperledger-labs/perun-appchannel"
	"github.com/hyperledger-labs/perun-appchannel/abiencoding"
	"github.com/hyperledger-labs/perun-appchannel/channel"
	"github.com/hyperledger-labs/perun-appchannel/commitment"
)

// Params are the parameters the initiator starts a protocol with. They are
// sent to the responder in the first message.
type Params interface {
	Protocol() perun.ProtocolName
	Multisig() common.Address
}

type (
	// SetupParams starts the setup protocol with the responder.
	SetupParams struct {
		MultisigAddress     common.Address `json:"multisigAddress"`
		ResponderIdentifier string         `json:"responderIdentifier"`
	}

	// ProposeParams describe the app proposed to the counterparty. The
	// proposer is the initiator of the app.
	ProposeParams struct {
		MultisigAddress  common.Address        `json:"multisigAddress"`
		InitiatorDeposit channel.Deposit       `json:"initiatorDeposit"`
		ResponderDeposit channel.Deposit       `json:"responderDeposit"`
		AppDefinition    common.Address        `json:"appDefinition"`
		AbiEncodings     channel.AbiEncodings  `json:"abiEncodings"`
		InitialState     json.RawMessage       `json:"initialState"`
		DefaultTimeout   abiencoding.BigNumber `json:"defaultTimeout"`
		StateTimeout     abiencoding.BigNumber `json:"stateTimeout"`
		OutcomeType      channel.OutcomeType   `json:"outcomeType"`
		Meta             json.RawMessage       `json:"meta,omitempty"`
	}

	// InstallParams name the proposal to install.
	InstallParams struct {
		MultisigAddress common.Address `json:"multisigAddress"`
		AppIdentityHash common.Hash    `json:"appIdentityHash"`
	}

	// UpdateParams set a new state on an installed app. If StateTimeout is
	// nil, the current one is kept.
	UpdateParams struct {
		MultisigAddress common.Address         `json:"multisigAddress"`
		AppIdentityHash common.Hash            `json:"appIdentityHash"`
		NewState        json.RawMessage        `json:"newState"`
		StateTimeout    *abiencoding.BigNumber `json:"stateTimeout,omitempty"`
	}

	// TakeActionParams apply an action to an installed app.
	TakeActionParams struct {
		MultisigAddress common.Address         `json:"multisigAddress"`
		AppIdentityHash common.Hash            `json:"appIdentityHash"`
		Action          json.RawMessage        `json:"action"`
		StateTimeout    *abiencoding.BigNumber `json:"stateTimeout,omitempty"`
	}

	// UninstallParams name the app to uninstall, with an optional final
	// action. If the hash names a proposal, the proposal is rejected.
	UninstallParams struct {
		MultisigAddress common.Address  `json:"multisigAddress"`
		AppIdentityHash common.Hash     `json:"appIdentityHash"`
		Action          json.RawMessage `json:"action,omitempty"`
	}

	// SyncParams name the channel to reconcile.
	SyncParams struct {
		MultisigAddress common.Address `json:"multisigAddress"`
	}
)

// Protocol implements Params.
func (SetupParams) Protocol() perun.ProtocolName { return perun.SetupProtocol }

// Protocol implements Params.
func (ProposeParams) Protocol() perun.ProtocolName { return perun.ProposeProtocol }

// Protocol implements Params.
func (InstallParams) Protocol() perun.ProtocolName { return perun.InstallProtocol }

// Protocol implements Params.
func (UpdateParams) Protocol() perun.ProtocolName { return perun.UpdateProtocol }

// Protocol implements Params.
func (TakeActionParams) Protocol() perun.ProtocolName { return perun.TakeActionProtocol }

// Protocol implements Params.
func (UninstallParams) Protocol() perun.ProtocolName { return perun.UninstallProtocol }

// Protocol implements Params.
func (SyncParams) Protocol() perun.ProtocolName { return perun.SyncProtocol }

// Multisig implements Params.
func (p SetupParams) Multisig() common.Address { return p.MultisigAddress }

// Multisig implements Params.
func (p ProposeParams) Multisig() common.Address { return p.MultisigAddress }

// Multisig implements Params.
func (p InstallParams) Multisig() common.Address { return p.MultisigAddress }

// Multisig implements Params.
func (p UpdateParams) Multisig() common.Address { return p.MultisigAddress }

// Multisig implements Params.
func (p TakeActionParams) Multisig() common.Address { return p.MultisigAddress }

// Multisig implements Params.
func (p UninstallParams) Multisig() common.Address { return p.MultisigAddress }

// Multisig implements Params.
func (p SyncParams) Multisig() common.Address { return p.MultisigAddress }

// DecodeParams decodes the params of the first message of a protocol.
func DecodeParams(protocol perun.ProtocolName, data json.RawMessage) (Params, error) {
	var p Params
	switch protocol {
	case perun.SetupProtocol:
		p = &SetupParams{}
	case perun.ProposeProtocol:
		p = &ProposeParams{}
	case perun.InstallProtocol:
		p = &InstallParams{}
	case perun.UpdateProtocol:
		p = &UpdateParams{}
	case perun.TakeActionProtocol:
		p = &TakeActionParams{}
	case perun.UninstallProtocol:
		p = &UninstallParams{}
	case perun.SyncProtocol:
		p = &SyncParams{}
	default:
		return nil, errors.Wrapf(ErrUnknownProtocol, "%q", string(protocol))
	}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, errors.Wrap(ErrInvalidMessage, err.Error())
	}
	return deref(p), nil
}

// deref returns the params by value, the form callers construct them in.
func deref(p Params) Params {
	switch v := p.(type) {
	case *SetupParams:
		return *v
	case *ProposeParams:
		return *v
	case *InstallParams:
		return *v
	case *UpdateParams:
		return *v
	case *TakeActionParams:
		return *v
	case *UninstallParams:
		return *v
	case *SyncParams:
		return *v
	}
	return p
}

func optionalInt(b *abiencoding.BigNumber) *big.Int {
	if b == nil {
		return nil
	}
	return b.Int()
}

// stepData is the custom data of the messages of all protocols except sync.
type stepData struct {
	AppSeqNo             uint64        `json:"appSeqNo,omitempty"`
	IdentityHash         common.Hash   `json:"identityHash"`
	Version              uint64        `json:"version,omitempty"`
	Signature            hexutil.Bytes `json:"signature,omitempty"`
	FreeBalanceSignature hexutil.Bytes `json:"freeBalanceSignature,omitempty"`
}

// syncData is the custom data of the sync messages: a channel snapshot with
// the commitments backing it.
type syncData struct {
	StateChannel             *channel.StateChannel                          `json:"stateChannel"`
	SetStateCommitments      []*commitment.SetStateCommitment               `json:"setStateCommitments"`
	ConditionalTxCommitments []*commitment.ConditionalTransactionCommitment `json:"conditionalTransactionCommitments"`
}

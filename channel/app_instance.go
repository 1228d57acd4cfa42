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
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"github.com/hyperledger-labs/perun-appchannel/abiencoding"
)

// Deposit is the amount of an asset a participant locks into an app.
type Deposit struct {
	AssetID common.Address        `json:"assetId"`
	Amount  abiencoding.BigNumber `json:"amount"`
}

func (d Deposit) amount() *big.Int { return d.Amount.Int() }

// AppInstanceJSON is the serialized form of an app instance. It is also used
// as the parameter set for constructing one.
type AppInstanceJSON struct {
	IdentityHash        common.Hash           `json:"identityHash"`
	MultisigAddress     common.Address        `json:"multisigAddress"`
	InitiatorIdentifier string                `json:"initiatorIdentifier"`
	ResponderIdentifier string                `json:"responderIdentifier"`
	Participants        [2]common.Address     `json:"participants"`
	InitiatorDeposit    Deposit               `json:"initiatorDeposit"`
	ResponderDeposit    Deposit               `json:"responderDeposit"`
	AbiEncodings        AbiEncodings          `json:"abiEncodings"`
	AppDefinition       common.Address        `json:"appDefinition"`
	AppSeqNo            uint64                `json:"appSeqNo"`
	LatestState         json.RawMessage       `json:"latestState"`
	LatestVersionNumber uint64                `json:"latestVersionNumber"`
	LatestAction        json.RawMessage       `json:"latestAction,omitempty"`
	DefaultTimeout      abiencoding.BigNumber `json:"defaultTimeout"`
	StateTimeout        abiencoding.BigNumber `json:"stateTimeout"`
	OutcomeType         OutcomeType           `json:"outcomeType"`
	InterpreterParams   InterpreterParams     `json:"outcomeInterpreterParameters"`
	Meta                json.RawMessage       `json:"meta,omitempty"`
}

// AppInstance is the latest agreed state of one app in a channel.
type AppInstance struct {
	data         AppInstanceJSON
	identityHash common.Hash
}

// NewAppInstance validates the params and returns the app instance. The
// state and action are stored in their canonical form. If the identity hash
// is set in params, it must match the computed one.
func NewAppInstance(params AppInstanceJSON) (*AppInstance, error) {
	data := copyAppInstanceJSON(params)
	if err := data.OutcomeType.Valid(); err != nil {
		return nil, err
	}
	if err := data.InterpreterParams.Check(data.OutcomeType); err != nil {
		return nil, err
	}
	if data.InitiatorIdentifier == "" || data.ResponderIdentifier == "" {
		return nil, errors.New("initiator and responder identifiers are required")
	}

	state, err := abiencoding.Canonicalize(data.AbiEncodings.StateEncoding, data.LatestState)
	if err != nil {
		return nil, errors.WithMessage(err, "state does not match state encoding")
	}
	data.LatestState = state

	if len(data.LatestAction) != 0 {
		if data.AbiEncodings.ActionEncoding == "" {
			return nil, ErrNoActionEncoding
		}
		action, err := abiencoding.Canonicalize(data.AbiEncodings.ActionEncoding, data.LatestAction)
		if err != nil {
			return nil, errors.WithMessage(err, "action does not match action encoding")
		}
		data.LatestAction = action
	}

	identityHash, err := computeIdentityHash(data)
	if err != nil {
		return nil, err
	}
	if data.IdentityHash != (common.Hash{}) && data.IdentityHash != identityHash {
		return nil, errors.Errorf("identity hash %s does not match computed %s",
			data.IdentityHash.Hex(), identityHash.Hex())
	}
	data.IdentityHash = identityHash
	return &AppInstance{data: data, identityHash: identityHash}, nil
}

// AppIdentity is the part of an app instance that identifies it on chain.
type AppIdentity struct {
	MultisigAddress common.Address        `json:"multisigAddress"`
	ChannelNonce    abiencoding.BigNumber `json:"channelNonce"`
	Participants    [2]common.Address     `json:"participants"`
	AppDefinition   common.Address        `json:"appDefinition"`
	DefaultTimeout  abiencoding.BigNumber `json:"defaultTimeout"`
}

// Hash returns keccak256(abi.encode(multisig, channelNonce,
// keccak256(participants), appDefinition, defaultTimeout)).
func (id AppIdentity) Hash() (common.Hash, error) {
	participantsHash := crypto.Keccak256Hash(
		common.LeftPadBytes(id.Participants[0].Bytes(), 32),
		common.LeftPadBytes(id.Participants[1].Bytes(), 32))
	encoded, err := abiencoding.Pack(
		[]string{"address", "uint256", "bytes32", "address", "uint256"},
		id.MultisigAddress,
		id.ChannelNonce.Int(),
		[32]byte(participantsHash),
		id.AppDefinition,
		id.DefaultTimeout.Int(),
	)
	if err != nil {
		return common.Hash{}, errors.WithMessage(err, "computing identity hash")
	}
	return crypto.Keccak256Hash(encoded), nil
}

func computeIdentityHash(data AppInstanceJSON) (common.Hash, error) {
	return identityOf(data).Hash()
}

func identityOf(data AppInstanceJSON) AppIdentity {
	return AppIdentity{
		MultisigAddress: data.MultisigAddress,
		ChannelNonce:    abiencoding.NewBigNumberFromUint64(data.AppSeqNo),
		Participants:    data.Participants,
		AppDefinition:   data.AppDefinition,
		DefaultTimeout:  data.DefaultTimeout,
	}
}

// IdentityHash is the key of the app in the channel and on chain.
func (a *AppInstance) IdentityHash() common.Hash { return a.identityHash }

// Identity returns the on chain identity of the app.
func (a *AppInstance) Identity() AppIdentity { return identityOf(a.data) }

// MultisigAddress returns the multisig funding the app.
func (a *AppInstance) MultisigAddress() common.Address { return a.data.MultisigAddress }

// InitiatorIdentifier returns the identifier of the party that proposed the app.
func (a *AppInstance) InitiatorIdentifier() string { return a.data.InitiatorIdentifier }

// ResponderIdentifier returns the identifier of the counterparty of the proposer.
func (a *AppInstance) ResponderIdentifier() string { return a.data.ResponderIdentifier }

// Participants returns the signer addresses recorded at proposal, initiator first.
func (a *AppInstance) Participants() [2]common.Address { return a.data.Participants }

// InitiatorDeposit returns the deposit of the initiator.
func (a *AppInstance) InitiatorDeposit() Deposit { return a.data.InitiatorDeposit }

// ResponderDeposit returns the deposit of the responder.
func (a *AppInstance) ResponderDeposit() Deposit { return a.data.ResponderDeposit }

// AbiEncodings returns the state and action encodings.
func (a *AppInstance) AbiEncodings() AbiEncodings { return a.data.AbiEncodings }

// AppDefinition returns the address of the app logic.
func (a *AppInstance) AppDefinition() common.Address { return a.data.AppDefinition }

// AppSeqNo returns the channel nonce at proposal time.
func (a *AppInstance) AppSeqNo() uint64 { return a.data.AppSeqNo }

// LatestState returns the canonical json of the latest state.
func (a *AppInstance) LatestState() json.RawMessage { return copyRaw(a.data.LatestState) }

// LatestVersionNumber returns the version of the latest state.
func (a *AppInstance) LatestVersionNumber() uint64 { return a.data.LatestVersionNumber }

// LatestAction returns the canonical json of the action that led to the
// latest state, nil if there is none.
func (a *AppInstance) LatestAction() json.RawMessage { return copyRaw(a.data.LatestAction) }

// DefaultTimeout returns the default challenge timeout.
func (a *AppInstance) DefaultTimeout() *big.Int { return a.data.DefaultTimeout.Int() }

// StateTimeout returns the challenge timeout of the latest state.
func (a *AppInstance) StateTimeout() *big.Int { return a.data.StateTimeout.Int() }

// OutcomeType returns the outcome type.
func (a *AppInstance) OutcomeType() OutcomeType { return a.data.OutcomeType }

// InterpreterParams returns the interpreter params.
func (a *AppInstance) InterpreterParams() InterpreterParams {
	return copyInterpreterParams(a.data.InterpreterParams)
}

// Meta returns the opaque meta data attached at proposal.
func (a *AppInstance) Meta() json.RawMessage { return copyRaw(a.data.Meta) }

// EncodedLatestState returns the abi encoded latest state.
func (a *AppInstance) EncodedLatestState() ([]byte, error) {
	return abiencoding.Encode(a.data.AbiEncodings.StateEncoding, a.data.LatestState)
}

// EncodedLatestAction returns the abi encoded latest action.
func (a *AppInstance) EncodedLatestAction() ([]byte, error) {
	if len(a.data.LatestAction) == 0 {
		return nil, errors.New("app has no latest action")
	}
	return abiencoding.Encode(a.data.AbiEncodings.ActionEncoding, a.data.LatestAction)
}

// StateHash returns keccak256 of the abi encoded latest state.
func (a *AppInstance) StateHash() (common.Hash, error) {
	return abiencoding.HashState(a.data.AbiEncodings.StateEncoding, a.data.LatestState)
}

// Decrements returns the amounts the deposits take out of the free balance.
func (a *AppInstance) Decrements() TokenIndexedBalances {
	decrements := make(TokenIndexedBalances)
	decrements.Add(a.data.InitiatorDeposit.AssetID, a.data.Participants[0], a.data.InitiatorDeposit.amount())
	decrements.Add(a.data.ResponderDeposit.AssetID, a.data.Participants[1], a.data.ResponderDeposit.amount())
	return decrements
}

// SetState returns a copy with the new state and the version incremented by
// one. The latest action is cleared.
func (a *AppInstance) SetState(newState json.RawMessage, stateTimeout *big.Int) (*AppInstance, error) {
	state, err := abiencoding.Canonicalize(a.data.AbiEncodings.StateEncoding, newState)
	if err != nil {
		return nil, errors.WithMessage(err, "state does not match state encoding")
	}
	data := copyAppInstanceJSON(a.data)
	data.LatestState = state
	data.LatestVersionNumber++
	data.LatestAction = nil
	if stateTimeout != nil {
		data.StateTimeout = abiencoding.NewBigNumber(stateTimeout)
	}
	return &AppInstance{data: data, identityHash: a.identityHash}, nil
}

// SetAction returns a copy with the action recorded as latest action.
func (a *AppInstance) SetAction(action json.RawMessage) (*AppInstance, error) {
	if a.data.AbiEncodings.ActionEncoding == "" {
		return nil, ErrNoActionEncoding
	}
	canonical, err := abiencoding.Canonicalize(a.data.AbiEncodings.ActionEncoding, action)
	if err != nil {
		return nil, errors.WithMessage(err, "action does not match action encoding")
	}
	data := copyAppInstanceJSON(a.data)
	data.LatestAction = canonical
	return &AppInstance{data: data, identityHash: a.identityHash}, nil
}

// JSON returns the serialized form.
func (a *AppInstance) JSON() AppInstanceJSON { return copyAppInstanceJSON(a.data) }

// MarshalJSON implements json.Marshaler.
func (a *AppInstance) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.data)
}

// UnmarshalJSON implements json.Unmarshaler. The decoded data is validated
// as in NewAppInstance.
func (a *AppInstance) UnmarshalJSON(data []byte) error {
	var j AppInstanceJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return errors.WithStack(err)
	}
	decoded, err := NewAppInstance(j)
	if err != nil {
		return err
	}
	*a = *decoded
	return nil
}

func copyAppInstanceJSON(j AppInstanceJSON) AppInstanceJSON {
	j.LatestState = copyRaw(j.LatestState)
	j.LatestAction = copyRaw(j.LatestAction)
	j.Meta = copyRaw(j.Meta)
	j.InterpreterParams = copyInterpreterParams(j.InterpreterParams)
	return j
}

func copyInterpreterParams(p InterpreterParams) InterpreterParams {
	var out InterpreterParams
	if p.TwoPartyFixedOutcome != nil {
		v := *p.TwoPartyFixedOutcome
		out.TwoPartyFixedOutcome = &v
	}
	if p.SingleAssetTwoPartyCoinTransfer != nil {
		v := *p.SingleAssetTwoPartyCoinTransfer
		out.SingleAssetTwoPartyCoinTransfer = &v
	}
	if p.MultiAssetMultiPartyCoinTransfer != nil {
		out.MultiAssetMultiPartyCoinTransfer = &MultiAssetMultiPartyCoinTransferParams{
			Limit:          append([]abiencoding.BigNumber{}, p.MultiAssetMultiPartyCoinTransfer.Limit...),
			TokenAddresses: append([]common.Address{}, p.MultiAssetMultiPartyCoinTransfer.TokenAddresses...),
		}
	}
	return out
}

func copyRaw(r json.RawMessage) json.RawMessage {
	if r == nil {
		return nil
	}
	return append(json.RawMessage{}, r...)
}

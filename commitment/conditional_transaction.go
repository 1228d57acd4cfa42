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

package commitment

import (
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"

	"github.com/hyperledger-labs/perun-appchannel/abiencoding"
	"github.com/hyperledger-labs/perun-appchannel/channel"
)

// ConditionalTransactionCommitment lets the multisig pay out the outcome of
// an installed app, as resolved by the interpreter of its outcome type. The
// multisig delegatecalls the ConditionalTransactionDelegateTarget.
type ConditionalTransactionCommitment struct {
	multisigTransaction

	challengeRegistry       common.Address
	freeBalanceIdentityHash common.Hash
	appIdentityHash         common.Hash
	interpreterAddress      common.Address
	interpreterParams       []byte
}

// NewConditionalTransactionCommitment returns the unsigned commitment for
// the app, installed in the channel.
func NewConditionalTransactionCommitment(network channel.NetworkContext, ch *channel.StateChannel,
	app *channel.AppInstance) (*ConditionalTransactionCommitment, error) {
	if !ch.HasFreeBalance() {
		return nil, channel.ErrNoFreeBalance
	}
	interpreter, err := network.InterpreterAddress(app.OutcomeType())
	if err != nil {
		return nil, err
	}
	params, err := app.InterpreterParams().Encode(app.OutcomeType())
	if err != nil {
		return nil, err
	}
	return newConditionalTransaction(network.ConditionalTransactionDelegateTarget, network.ChallengeRegistry,
		ch.MultisigAddress(), ch.MultisigOwners(), ch.FreeBalanceAppInstance().IdentityHash(),
		app.IdentityHash(), interpreter, params)
}

func newConditionalTransaction(delegateTarget, challengeRegistry, multisig common.Address,
	owners [2]common.Address, fbIdentityHash, appIdentityHash common.Hash, interpreter common.Address,
	params []byte) (*ConditionalTransactionCommitment, error) {
	data, err := abiencoding.EncodeCall("executeEffectOfInterpretedAppOutcome",
		[]string{"address", "bytes32", "bytes32", "address", "bytes"},
		challengeRegistry, fbIdentityHash, appIdentityHash, interpreter, hexutil.Bytes(params))
	if err != nil {
		return nil, err
	}
	return &ConditionalTransactionCommitment{
		multisigTransaction: multisigTransaction{
			multisigAddress: multisig,
			multisigOwners:  owners,
			to:              delegateTarget,
			value:           new(big.Int),
			data:            data,
			operation:       DelegateCall,
		},
		challengeRegistry:       challengeRegistry,
		freeBalanceIdentityHash: fbIdentityHash,
		appIdentityHash:         appIdentityHash,
		interpreterAddress:      interpreter,
		interpreterParams:       copyBytes(params),
	}, nil
}

// AppIdentityHash returns the identity hash of the app paid out.
func (c *ConditionalTransactionCommitment) AppIdentityHash() common.Hash { return c.appIdentityHash }

// FreeBalanceIdentityHash returns the identity hash of the free balance app
// of the channel.
func (c *ConditionalTransactionCommitment) FreeBalanceIdentityHash() common.Hash {
	return c.freeBalanceIdentityHash
}

// InterpreterAddress returns the interpreter resolving the outcome.
func (c *ConditionalTransactionCommitment) InterpreterAddress() common.Address { return c.interpreterAddress }

// ConditionalTransactionCommitmentJSON is the serialized form of a
// ConditionalTransactionCommitment.
type ConditionalTransactionCommitmentJSON struct {
	multisigJSON
	ContractAddresses struct {
		ConditionalTransactionDelegateTarget common.Address `json:"conditionalTransactionDelegateTarget"`
		ChallengeRegistry                    common.Address `json:"challengeRegistry"`
	} `json:"contractAddresses"`
	FreeBalanceAppIdentityHash common.Hash    `json:"freeBalanceAppIdentityHash"`
	AppIdentityHash            common.Hash    `json:"appIdentityHash"`
	InterpreterAddr            common.Address `json:"interpreterAddr"`
	InterpreterParams          hexutil.Bytes  `json:"interpreterParams"`
}

// JSON returns the serialized form.
func (c *ConditionalTransactionCommitment) JSON() ConditionalTransactionCommitmentJSON {
	j := ConditionalTransactionCommitmentJSON{
		multisigJSON:               c.multisigJSON(),
		FreeBalanceAppIdentityHash: c.freeBalanceIdentityHash,
		AppIdentityHash:            c.appIdentityHash,
		InterpreterAddr:            c.interpreterAddress,
		InterpreterParams:          copyBytes(c.interpreterParams),
	}
	j.ContractAddresses.ConditionalTransactionDelegateTarget = c.to
	j.ContractAddresses.ChallengeRegistry = c.challengeRegistry
	return j
}

// MarshalJSON implements json.Marshaler.
func (c *ConditionalTransactionCommitment) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.JSON())
}

// UnmarshalJSON implements json.Unmarshaler. The transaction is rebuilt from
// its fields and the signatures are verified against it.
func (c *ConditionalTransactionCommitment) UnmarshalJSON(data []byte) error {
	var j ConditionalTransactionCommitmentJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return errors.Wrap(ErrInvalidJSON, err.Error())
	}
	decoded, err := newConditionalTransaction(j.ContractAddresses.ConditionalTransactionDelegateTarget,
		j.ContractAddresses.ChallengeRegistry, j.MultisigAddress, j.MultisigOwners,
		j.FreeBalanceAppIdentityHash, j.AppIdentityHash, j.InterpreterAddr, j.InterpreterParams)
	if err != nil {
		return err
	}
	if err := addSignaturesFromJSON(j.Signatures, decoded.AddSignatures); err != nil {
		return err
	}
	*c = *decoded
	return nil
}

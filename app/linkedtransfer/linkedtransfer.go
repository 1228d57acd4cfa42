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

// Package linkedtransfer implements a conditional transfer: the sender's
// amount moves to the receiver once the receiver reveals the preimage of the
// linked hash.
package linkedtransfer

import (
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"github.com/hyperledger-labs/perun-appchannel/abiencoding"
	"github.com/hyperledger-labs/perun-appchannel/app"
	"github.com/hyperledger-labs/perun-appchannel/app/simpletransfer"
	"github.com/hyperledger-labs/perun-appchannel/channel"
)

// Encodings of state and action.
const (
	StateEncoding = "tuple(tuple(address to, uint256 amount)[2] coinTransfers, bytes32 linkedHash, " +
		"bool finalized, bytes32 preImage)"
	ActionEncoding = "tuple(bytes32 preImage)"
)

// State is the json form of the state. CoinTransfers[0] is the sender.
type State struct {
	CoinTransfers [2]simpletransfer.CoinTransfer `json:"coinTransfers"`
	LinkedHash    common.Hash                    `json:"linkedHash"`
	Finalized     bool                           `json:"finalized"`
	PreImage      common.Hash                    `json:"preImage"`
}

// Action reveals the preimage.
type Action struct {
	PreImage common.Hash `json:"preImage"`
}

// LinkedHash returns the hash locking a transfer to the preimage.
func LinkedHash(preImage common.Hash) common.Hash {
	return crypto.Keccak256Hash(preImage.Bytes())
}

// Logic implements app.Logic.
type Logic struct{}

// Definition returns the definition of the app deployed at the address.
func Definition(appDefinition common.Address) app.Definition {
	return app.Definition{
		Name:          "SimpleLinkedTransferApp",
		AppDefinition: appDefinition,
		Encodings:     channel.AbiEncodings{StateEncoding: StateEncoding, ActionEncoding: ActionEncoding},
		OutcomeType:   channel.SingleAssetTwoPartyCoinTransfer,
		Logic:         Logic{},
	}
}

// ApplyAction unlocks the transfer if the preimage matches the linked hash.
func (Logic) ApplyAction(encodedState, encodedAction []byte) ([]byte, error) {
	var s State
	if err := decode(StateEncoding, encodedState, &s); err != nil {
		return nil, err
	}
	var a Action
	if err := decode(ActionEncoding, encodedAction, &a); err != nil {
		return nil, err
	}
	if s.Finalized {
		return nil, errors.Wrap(app.ErrActionNotAllowed, "transfer already finalized")
	}
	if LinkedHash(a.PreImage) != s.LinkedHash {
		return nil, errors.Wrap(app.ErrActionNotAllowed, "preimage does not match linked hash")
	}

	amount := s.CoinTransfers[0].Amount.Int()
	s.CoinTransfers[1].Amount = abiencoding.NewBigNumber(new(big.Int).Add(s.CoinTransfers[1].Amount.Int(), amount))
	s.CoinTransfers[0].Amount = abiencoding.NewBigNumberFromUint64(0)
	s.Finalized = true
	s.PreImage = a.PreImage

	raw, err := json.Marshal(s)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return abiencoding.Encode(StateEncoding, raw)
}

// ComputeOutcome returns the coin transfers of the state. An unfinalized
// transfer pays the sender back.
func (Logic) ComputeOutcome(encodedState []byte) ([]byte, error) {
	var s State
	if err := decode(StateEncoding, encodedState, &s); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(s.CoinTransfers)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return abiencoding.Encode(channel.SingleAssetTwoPartyCoinTransferEncoding, raw)
}

func decode(encoding string, data []byte, v interface{}) error {
	raw, err := abiencoding.Decode(encoding, data)
	if err != nil {
		return err
	}
	return errors.Wrap(json.Unmarshal(raw, v), "decoding")
}

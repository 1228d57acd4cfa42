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

// Package simpletransfer implements an app that holds two coin transfers and
// pays them out on uninstall. It has no actions; the transfers are changed by
// state updates signed by both users.
package simpletransfer

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/hyperledger-labs/perun-appchannel/abiencoding"
	"github.com/hyperledger-labs/perun-appchannel/app"
	"github.com/hyperledger-labs/perun-appchannel/channel"
)

// StateEncoding is the abi type of the state.
const StateEncoding = "tuple(tuple(address to, uint256 amount)[2] coinTransfers)"

// CoinTransfer pays amount to the address.
type CoinTransfer struct {
	To     common.Address        `json:"to"`
	Amount abiencoding.BigNumber `json:"amount"`
}

// State is the json form of the state.
type State struct {
	CoinTransfers [2]CoinTransfer `json:"coinTransfers"`
}

// Logic implements app.Logic.
type Logic struct{}

// Definition returns the definition of the app deployed at the address.
func Definition(appDefinition common.Address) app.Definition {
	return app.Definition{
		Name:          "SimpleTransferApp",
		AppDefinition: appDefinition,
		Encodings:     channel.AbiEncodings{StateEncoding: StateEncoding},
		OutcomeType:   channel.SingleAssetTwoPartyCoinTransfer,
		Logic:         Logic{},
	}
}

// ApplyAction always fails, the app has no actions.
func (Logic) ApplyAction(_, _ []byte) ([]byte, error) {
	return nil, errors.Wrap(app.ErrActionNotAllowed, "simple transfer app has no actions")
}

// ComputeOutcome returns the coin transfers of the state.
func (Logic) ComputeOutcome(encodedState []byte) ([]byte, error) {
	var s State
	if err := decode(encodedState, &s); err != nil {
		return nil, err
	}
	return encodeTransfers(s.CoinTransfers)
}

func decode(encodedState []byte, s *State) error {
	raw, err := abiencoding.Decode(StateEncoding, encodedState)
	if err != nil {
		return err
	}
	return errors.Wrap(json.Unmarshal(raw, s), "decoding state")
}

func encodeTransfers(transfers [2]CoinTransfer) ([]byte, error) {
	raw, err := json.Marshal(transfers)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return abiencoding.Encode(channel.SingleAssetTwoPartyCoinTransferEncoding, raw)
}

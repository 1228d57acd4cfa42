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
	"github.com/pkg/errors"

	"github.com/hyperledger-labs/perun-appchannel/abiencoding"
)

// Encodings of the interpreter params and the outcomes they interpret.
const (
	TwoPartyFixedOutcomeParamsEncoding             = "tuple(address[2] playerAddrs, uint256 amount, address tokenAddress)"
	SingleAssetTwoPartyCoinTransferParamsEncoding  = "tuple(uint256 limit, address tokenAddress)"
	MultiAssetMultiPartyCoinTransferParamsEncoding = "tuple(uint256[] limit, address[] tokenAddresses)"

	TwoPartyFixedOutcomeEncoding             = "uint256"
	SingleAssetTwoPartyCoinTransferEncoding  = "tuple(address to, uint256 amount)[2]"
	MultiAssetMultiPartyCoinTransferEncoding = "tuple(address to, uint256 amount)[][]"
)

// Values of the two party fixed outcome.
const (
	SendToAddrOne = iota
	SendToAddrTwo
	SplitAndSendToBothAddrs
)

type (
	// TwoPartyFixedOutcomeParams pays amount of token to one or both players.
	TwoPartyFixedOutcomeParams struct {
		PlayerAddrs  [2]common.Address     `json:"playerAddrs"`
		Amount       abiencoding.BigNumber `json:"amount"`
		TokenAddress common.Address        `json:"tokenAddress"`
	}

	// SingleAssetTwoPartyCoinTransferParams caps the transfers of a single token.
	SingleAssetTwoPartyCoinTransferParams struct {
		Limit        abiencoding.BigNumber `json:"limit"`
		TokenAddress common.Address        `json:"tokenAddress"`
	}

	// MultiAssetMultiPartyCoinTransferParams caps the transfers per token.
	MultiAssetMultiPartyCoinTransferParams struct {
		Limit          []abiencoding.BigNumber `json:"limit"`
		TokenAddresses []common.Address        `json:"tokenAddresses"`
	}

	// InterpreterParams holds the params for exactly one outcome type.
	InterpreterParams struct {
		TwoPartyFixedOutcome             *TwoPartyFixedOutcomeParams             `json:"twoPartyOutcomeInterpreterParams,omitempty"`
		SingleAssetTwoPartyCoinTransfer  *SingleAssetTwoPartyCoinTransferParams  `json:"singleAssetTwoPartyCoinTransferInterpreterParams,omitempty"`
		MultiAssetMultiPartyCoinTransfer *MultiAssetMultiPartyCoinTransferParams `json:"multiAssetMultiPartyCoinTransferInterpreterParams,omitempty"`
	}
)

// ComputeInterpreterParams derives the interpreter params of a new app from
// its deposits. Players are the signer addresses of initiator and responder.
func ComputeInterpreterParams(outcomeType OutcomeType, players [2]common.Address,
	initiatorDeposit, responderDeposit Deposit) (InterpreterParams, error) {
	sameAsset := initiatorDeposit.AssetID == responderDeposit.AssetID
	total := new(big.Int).Add(initiatorDeposit.amount(), responderDeposit.amount())

	switch outcomeType {
	case TwoPartyFixedOutcome:
		if !sameAsset {
			return InterpreterParams{}, errors.New("two party fixed outcome requires a single asset")
		}
		return InterpreterParams{TwoPartyFixedOutcome: &TwoPartyFixedOutcomeParams{
			PlayerAddrs:  players,
			Amount:       abiencoding.NewBigNumber(total),
			TokenAddress: initiatorDeposit.AssetID,
		}}, nil

	case SingleAssetTwoPartyCoinTransfer:
		if !sameAsset {
			return InterpreterParams{}, errors.New("single asset coin transfer requires a single asset")
		}
		return InterpreterParams{SingleAssetTwoPartyCoinTransfer: &SingleAssetTwoPartyCoinTransferParams{
			Limit:        abiencoding.NewBigNumber(total),
			TokenAddress: initiatorDeposit.AssetID,
		}}, nil

	case MultiAssetMultiPartyCoinTransfer:
		params := &MultiAssetMultiPartyCoinTransferParams{}
		if sameAsset {
			params.Limit = []abiencoding.BigNumber{abiencoding.NewBigNumber(total)}
			params.TokenAddresses = []common.Address{initiatorDeposit.AssetID}
		} else {
			params.Limit = []abiencoding.BigNumber{
				abiencoding.NewBigNumber(initiatorDeposit.amount()),
				abiencoding.NewBigNumber(responderDeposit.amount()),
			}
			params.TokenAddresses = []common.Address{initiatorDeposit.AssetID, responderDeposit.AssetID}
		}
		return InterpreterParams{MultiAssetMultiPartyCoinTransfer: params}, nil
	}
	return InterpreterParams{}, errors.Wrapf(ErrUnsupportedOutcomeType, "%q", string(outcomeType))
}

// Check returns an error if the params for the outcome type are missing or if
// params for more than one outcome type are set.
func (p InterpreterParams) Check(outcomeType OutcomeType) error {
	set := 0
	for _, isSet := range []bool{
		p.TwoPartyFixedOutcome != nil,
		p.SingleAssetTwoPartyCoinTransfer != nil,
		p.MultiAssetMultiPartyCoinTransfer != nil,
	} {
		if isSet {
			set++
		}
	}
	if set != 1 {
		return errors.Errorf("expected params for exactly one outcome type, got %d", set)
	}
	ok := false
	switch outcomeType {
	case TwoPartyFixedOutcome:
		ok = p.TwoPartyFixedOutcome != nil
	case SingleAssetTwoPartyCoinTransfer:
		ok = p.SingleAssetTwoPartyCoinTransfer != nil
	case MultiAssetMultiPartyCoinTransfer:
		ok = p.MultiAssetMultiPartyCoinTransfer != nil
		if ok && len(p.MultiAssetMultiPartyCoinTransfer.Limit) != len(p.MultiAssetMultiPartyCoinTransfer.TokenAddresses) {
			return errors.New("limits and token addresses differ in length")
		}
	default:
		return errors.Wrapf(ErrUnsupportedOutcomeType, "%q", string(outcomeType))
	}
	if !ok {
		return errors.Errorf("missing interpreter params for %s", outcomeType)
	}
	return nil
}

// Encode abi encodes the params for the outcome type, as passed to the
// interpreter by the conditional transaction.
func (p InterpreterParams) Encode(outcomeType OutcomeType) ([]byte, error) {
	if err := p.Check(outcomeType); err != nil {
		return nil, err
	}
	var encoding string
	var value interface{}
	switch outcomeType {
	case TwoPartyFixedOutcome:
		encoding, value = TwoPartyFixedOutcomeParamsEncoding, p.TwoPartyFixedOutcome
	case SingleAssetTwoPartyCoinTransfer:
		encoding, value = SingleAssetTwoPartyCoinTransferParamsEncoding, p.SingleAssetTwoPartyCoinTransfer
	case MultiAssetMultiPartyCoinTransfer:
		encoding, value = MultiAssetMultiPartyCoinTransferParamsEncoding, p.MultiAssetMultiPartyCoinTransfer
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return abiencoding.Encode(encoding, raw)
}

type coinTransfer struct {
	To     common.Address        `json:"to"`
	Amount abiencoding.BigNumber `json:"amount"`
}

// ComputeIncrements decodes the abi encoded outcome of an app and returns
// the amounts to be added to the free balance on uninstall.
func ComputeIncrements(outcomeType OutcomeType, params InterpreterParams, outcome []byte) (
	TokenIndexedBalances, error) {
	if err := params.Check(outcomeType); err != nil {
		return nil, err
	}
	increments := make(TokenIndexedBalances)

	switch outcomeType {
	case TwoPartyFixedOutcome:
		values, err := abiencoding.Unpack([]string{TwoPartyFixedOutcomeEncoding}, outcome)
		if err != nil {
			return nil, errors.Wrap(ErrInvalidOutcome, err.Error())
		}
		choice, ok := values[0].(*big.Int)
		if !ok || !choice.IsUint64() {
			return nil, errors.Wrapf(ErrInvalidOutcome, "unexpected value %v", values[0])
		}
		p := params.TwoPartyFixedOutcome
		amount := p.Amount.Int()
		switch choice.Uint64() {
		case SendToAddrOne:
			increments.Add(p.TokenAddress, p.PlayerAddrs[0], amount)
		case SendToAddrTwo:
			increments.Add(p.TokenAddress, p.PlayerAddrs[1], amount)
		case SplitAndSendToBothAddrs:
			half := new(big.Int).Div(amount, big.NewInt(2))
			increments.Add(p.TokenAddress, p.PlayerAddrs[0], new(big.Int).Sub(amount, half))
			increments.Add(p.TokenAddress, p.PlayerAddrs[1], half)
		default:
			return nil, errors.Wrapf(ErrInvalidOutcome, "two party fixed outcome %d", choice.Uint64())
		}

	case SingleAssetTwoPartyCoinTransfer:
		var transfers [2]coinTransfer
		if err := decodeOutcome(SingleAssetTwoPartyCoinTransferEncoding, outcome, &transfers); err != nil {
			return nil, err
		}
		p := params.SingleAssetTwoPartyCoinTransfer
		if err := addTransfers(increments, p.TokenAddress, transfers[:], p.Limit.Int()); err != nil {
			return nil, err
		}

	case MultiAssetMultiPartyCoinTransfer:
		var transfers [][]coinTransfer
		if err := decodeOutcome(MultiAssetMultiPartyCoinTransferEncoding, outcome, &transfers); err != nil {
			return nil, err
		}
		p := params.MultiAssetMultiPartyCoinTransfer
		if len(transfers) != len(p.TokenAddresses) {
			return nil, errors.Wrapf(ErrInvalidOutcome, "got transfers for %d tokens, expected %d",
				len(transfers), len(p.TokenAddresses))
		}
		for i, token := range p.TokenAddresses {
			if err := addTransfers(increments, token, transfers[i], p.Limit[i].Int()); err != nil {
				return nil, err
			}
		}
	}
	return increments, nil
}

func decodeOutcome(encoding string, outcome []byte, v interface{}) error {
	decoded, err := abiencoding.Decode(encoding, outcome)
	if err != nil {
		return errors.Wrap(ErrInvalidOutcome, err.Error())
	}
	return errors.Wrap(json.Unmarshal(decoded, v), "decoding outcome")
}

func addTransfers(increments TokenIndexedBalances, token common.Address, transfers []coinTransfer, limit *big.Int) error {
	total := new(big.Int)
	for _, t := range transfers {
		total.Add(total, t.Amount.Int())
		increments.Add(token, t.To, t.Amount.Int())
	}
	if total.Cmp(limit) > 0 {
		return errors.Wrapf(ErrInvalidOutcome, "transfers of %s exceed the limit %s for token %s", total, limit, token.Hex())
	}
	return nil
}

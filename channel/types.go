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

// Package channel defines the ledger of a state channel: the app instances,
// the free balance and the state channel itself.
//
// All types in this package are immutable. Every transition returns a new
// value and leaves the receiver untouched, so snapshots can be shared between
// goroutines without locking.
package channel

import (
	"bytes"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// Error type is used to define error constants for this package.
type Error string

// Error implements error interface.
func (e Error) Error() string {
	return string(e)
}

// Definition of error constants for this package.
const (
	ErrNegativeBalance        Error = "negative balance"
	ErrUnknownApp             Error = "unknown app instance"
	ErrAppExists              Error = "app instance already exists"
	ErrParticipantMismatch    Error = "participant keys do not match channel identifiers"
	ErrNoFreeBalance          Error = "channel has no free balance"
	ErrInvalidVersion         Error = "version number must increase by one"
	ErrNoActionEncoding       Error = "app has no action encoding"
	ErrUnsupportedOutcomeType Error = "unsupported outcome type"
	ErrInvalidOutcome         Error = "invalid outcome"
	ErrInvalidSnapshot        Error = "invalid channel snapshot"
)

// NativeAssetID is the asset id of the chain's native asset.
var NativeAssetID = common.Address{}

// OutcomeType selects the interpreter that resolves the outcome of an app on
// chain.
type OutcomeType string

// Supported outcome types.
const (
	TwoPartyFixedOutcome             OutcomeType = "TWO_PARTY_FIXED_OUTCOME"
	SingleAssetTwoPartyCoinTransfer  OutcomeType = "SINGLE_ASSET_TWO_PARTY_COIN_TRANSFER"
	MultiAssetMultiPartyCoinTransfer OutcomeType = "MULTI_ASSET_MULTI_PARTY_COIN_TRANSFER"
)

// Valid returns an error if the outcome type is not supported.
func (o OutcomeType) Valid() error {
	switch o {
	case TwoPartyFixedOutcome, SingleAssetTwoPartyCoinTransfer, MultiAssetMultiPartyCoinTransfer:
		return nil
	}
	return errors.Wrapf(ErrUnsupportedOutcomeType, "%q", string(o))
}

// AbiEncodings describe the state and action of an app.
type AbiEncodings struct {
	StateEncoding  string `json:"stateEncoding"`
	ActionEncoding string `json:"actionEncoding,omitempty"`
}

// CriticalAddresses are the contracts a multisig is derived from.
type CriticalAddresses struct {
	ProxyFactory       common.Address `json:"proxyFactory"`
	MultisigMastercopy common.Address `json:"multisigMastercopy"`
}

// NetworkContext holds the addresses of the contracts the commitments refer to.
type NetworkContext struct {
	ChallengeRegistry                           common.Address `yaml:"challengeRegistry" json:"challengeRegistry"`
	ConditionalTransactionDelegateTarget        common.Address `yaml:"conditionalTransactionDelegateTarget" json:"conditionalTransactionDelegateTarget"`
	IdentityApp                                 common.Address `yaml:"identityApp" json:"identityApp"`
	MinimumViableMultisig                       common.Address `yaml:"minimumViableMultisig" json:"minimumViableMultisig"`
	ProxyFactory                                common.Address `yaml:"proxyFactory" json:"proxyFactory"`
	TwoPartyFixedOutcomeInterpreter             common.Address `yaml:"twoPartyFixedOutcomeInterpreter" json:"twoPartyFixedOutcomeInterpreter"`
	SingleAssetTwoPartyCoinTransferInterpreter  common.Address `yaml:"singleAssetTwoPartyCoinTransferInterpreter" json:"singleAssetTwoPartyCoinTransferInterpreter"`
	MultiAssetMultiPartyCoinTransferInterpreter common.Address `yaml:"multiAssetMultiPartyCoinTransferInterpreter" json:"multiAssetMultiPartyCoinTransferInterpreter"`
}

// CriticalAddresses returns the addresses new multisigs are derived from.
func (n NetworkContext) CriticalAddresses() CriticalAddresses {
	return CriticalAddresses{
		ProxyFactory:       n.ProxyFactory,
		MultisigMastercopy: n.MinimumViableMultisig,
	}
}

// InterpreterAddress returns the interpreter contract for the outcome type.
func (n NetworkContext) InterpreterAddress(o OutcomeType) (common.Address, error) {
	switch o {
	case TwoPartyFixedOutcome:
		return n.TwoPartyFixedOutcomeInterpreter, nil
	case SingleAssetTwoPartyCoinTransfer:
		return n.SingleAssetTwoPartyCoinTransferInterpreter, nil
	case MultiAssetMultiPartyCoinTransfer:
		return n.MultiAssetMultiPartyCoinTransferInterpreter, nil
	}
	return common.Address{}, errors.Wrapf(ErrUnsupportedOutcomeType, "%q", string(o))
}

// TokenIndexedBalances maps token address -> participant address -> amount.
type TokenIndexedBalances map[common.Address]map[common.Address]*big.Int

// Add adds amount to the balance of addr in token.
func (b TokenIndexedBalances) Add(token, addr common.Address, amount *big.Int) {
	if b[token] == nil {
		b[token] = make(map[common.Address]*big.Int)
	}
	current, ok := b[token][addr]
	if !ok {
		current = new(big.Int)
	}
	b[token][addr] = new(big.Int).Add(current, amount)
}

// Negate returns a new map with every amount negated.
func (b TokenIndexedBalances) Negate() TokenIndexedBalances {
	out := make(TokenIndexedBalances, len(b))
	for token, balances := range b {
		for addr, amount := range balances {
			out.Add(token, addr, new(big.Int).Neg(amount))
		}
	}
	return out
}

// Tokens returns the token addresses in ascending order.
func (b TokenIndexedBalances) Tokens() []common.Address {
	tokens := make([]common.Address, 0, len(b))
	for token := range b {
		tokens = append(tokens, token)
	}
	sortAddresses(tokens)
	return tokens
}

func sortAddresses(addrs []common.Address) {
	sort.Slice(addrs, func(i, j int) bool { return bytes.Compare(addrs[i][:], addrs[j][:]) < 0 })
}

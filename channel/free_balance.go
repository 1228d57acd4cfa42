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

// FreeBalanceStateEncoding is the state encoding of the free balance app.
const FreeBalanceStateEncoding = "tuple(address[] tokenAddresses, " +
	"tuple(address to, uint256 amount)[][] balances, bytes32[] activeApps)"

// Free balance app constants.
const (
	FreeBalanceDefaultTimeout = 172800
	FreeBalanceStateTimeout   = 172800
)

// Balance is the amount held by one address.
type Balance struct {
	To     common.Address
	Amount *big.Int
}

// FreeBalance is the token indexed, address indexed ledger of the funds not
// locked in any app, plus the identity hashes of the installed apps.
//
// Tokens and addresses keep their insertion order. New entries are appended
// in ascending address order, so both parties derive identical states.
type FreeBalance struct {
	tokens     []common.Address
	balances   [][]Balance
	activeApps []common.Hash
}

type freeBalanceStateJSON struct {
	TokenAddresses []common.Address `json:"tokenAddresses"`
	Balances       [][]coinTransfer `json:"balances"`
	ActiveApps     []common.Hash    `json:"activeApps"`
}

// NewFreeBalance returns a free balance holding zero of the native asset for
// each of the participants.
func NewFreeBalance(participants [2]common.Address) *FreeBalance {
	return &FreeBalance{
		tokens: []common.Address{NativeAssetID},
		balances: [][]Balance{{
			{To: participants[0], Amount: new(big.Int)},
			{To: participants[1], Amount: new(big.Int)},
		}},
	}
}

// Tokens returns the token addresses in ledger order.
func (fb *FreeBalance) Tokens() []common.Address {
	return append([]common.Address{}, fb.tokens...)
}

// Balances returns the balances of the token in ledger order.
func (fb *FreeBalance) Balances(token common.Address) []Balance {
	i := fb.tokenIndex(token)
	if i < 0 {
		return nil
	}
	out := make([]Balance, len(fb.balances[i]))
	for j, b := range fb.balances[i] {
		out[j] = Balance{To: b.To, Amount: new(big.Int).Set(b.Amount)}
	}
	return out
}

// BalanceOf returns the balance of addr in token, zero if there is no entry.
func (fb *FreeBalance) BalanceOf(token, addr common.Address) *big.Int {
	for _, b := range fb.Balances(token) {
		if b.To == addr {
			return b.Amount
		}
	}
	return new(big.Int)
}

// ToTokenIndexedBalances returns the ledger as a map.
func (fb *FreeBalance) ToTokenIndexedBalances() TokenIndexedBalances {
	out := make(TokenIndexedBalances, len(fb.tokens))
	for i, token := range fb.tokens {
		out[token] = make(map[common.Address]*big.Int)
		for _, b := range fb.balances[i] {
			out[token][b.To] = new(big.Int).Set(b.Amount)
		}
	}
	return out
}

// ActiveApps returns the identity hashes of the installed apps.
func (fb *FreeBalance) ActiveApps() []common.Hash {
	return append([]common.Hash{}, fb.activeApps...)
}

// HasActiveApp reports whether the app is in the active apps.
func (fb *FreeBalance) HasActiveApp(identityHash common.Hash) bool {
	for _, h := range fb.activeApps {
		if h == identityHash {
			return true
		}
	}
	return false
}

// Increment adds the signed deltas to the ledger. It fails with
// ErrNegativeBalance if any resulting balance is negative.
func (fb *FreeBalance) Increment(deltas TokenIndexedBalances) (*FreeBalance, error) {
	next := fb.clone()
	for _, token := range deltas.Tokens() {
		ti := next.tokenIndex(token)
		if ti < 0 {
			next.tokens = append(next.tokens, token)
			next.balances = append(next.balances, nil)
			ti = len(next.tokens) - 1
		}

		addrs := make([]common.Address, 0, len(deltas[token]))
		for addr := range deltas[token] {
			addrs = append(addrs, addr)
		}
		sortAddresses(addrs)

		for _, addr := range addrs {
			bi := -1
			for j, b := range next.balances[ti] {
				if b.To == addr {
					bi = j
					break
				}
			}
			if bi < 0 {
				next.balances[ti] = append(next.balances[ti], Balance{To: addr, Amount: new(big.Int)})
				bi = len(next.balances[ti]) - 1
			}
			sum := new(big.Int).Add(next.balances[ti][bi].Amount, deltas[token][addr])
			if sum.Sign() < 0 {
				return nil, errors.Wrapf(ErrNegativeBalance, "%s of token %s would be %s",
					addr.Hex(), token.Hex(), sum)
			}
			next.balances[ti][bi].Amount = sum
		}
	}
	return next, nil
}

// AddActiveApp returns a copy with the app added to the active apps.
func (fb *FreeBalance) AddActiveApp(identityHash common.Hash) (*FreeBalance, error) {
	if fb.HasActiveApp(identityHash) {
		return nil, errors.Wrapf(ErrAppExists, "active app %s", identityHash.Hex())
	}
	next := fb.clone()
	next.activeApps = append(next.activeApps, identityHash)
	return next, nil
}

// RemoveActiveApp returns a copy without the app in the active apps.
func (fb *FreeBalance) RemoveActiveApp(identityHash common.Hash) (*FreeBalance, error) {
	if !fb.HasActiveApp(identityHash) {
		return nil, errors.Wrapf(ErrUnknownApp, "active app %s", identityHash.Hex())
	}
	next := fb.clone()
	next.activeApps = next.activeApps[:0]
	for _, h := range fb.activeApps {
		if h != identityHash {
			next.activeApps = append(next.activeApps, h)
		}
	}
	return next, nil
}

// ToState returns the canonical json of the free balance app state.
func (fb *FreeBalance) ToState() (json.RawMessage, error) {
	s := freeBalanceStateJSON{
		TokenAddresses: append([]common.Address{}, fb.tokens...),
		Balances:       make([][]coinTransfer, len(fb.balances)),
		ActiveApps:     append([]common.Hash{}, fb.activeApps...),
	}
	for i, balances := range fb.balances {
		s.Balances[i] = make([]coinTransfer, len(balances))
		for j, b := range balances {
			s.Balances[i][j] = coinTransfer{To: b.To, Amount: abiencoding.NewBigNumber(b.Amount)}
		}
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return abiencoding.Canonicalize(FreeBalanceStateEncoding, raw)
}

// FreeBalanceFromState decodes the free balance from the app state.
func FreeBalanceFromState(state json.RawMessage) (*FreeBalance, error) {
	canonical, err := abiencoding.Canonicalize(FreeBalanceStateEncoding, state)
	if err != nil {
		return nil, errors.WithMessage(err, "decoding free balance state")
	}
	var s freeBalanceStateJSON
	if err := json.Unmarshal(canonical, &s); err != nil {
		return nil, errors.WithStack(err)
	}
	if len(s.TokenAddresses) != len(s.Balances) {
		return nil, errors.Errorf("free balance has %d tokens but %d balance lists",
			len(s.TokenAddresses), len(s.Balances))
	}
	fb := &FreeBalance{
		tokens:     s.TokenAddresses,
		balances:   make([][]Balance, len(s.Balances)),
		activeApps: s.ActiveApps,
	}
	for i, transfers := range s.Balances {
		fb.balances[i] = make([]Balance, len(transfers))
		for j, t := range transfers {
			fb.balances[i][j] = Balance{To: t.To, Amount: t.Amount.Int()}
		}
	}
	return fb, nil
}

func (fb *FreeBalance) tokenIndex(token common.Address) int {
	for i, t := range fb.tokens {
		if t == token {
			return i
		}
	}
	return -1
}

func (fb *FreeBalance) clone() *FreeBalance {
	next := &FreeBalance{
		tokens:     append([]common.Address{}, fb.tokens...),
		balances:   make([][]Balance, len(fb.balances)),
		activeApps: append([]common.Hash{}, fb.activeApps...),
	}
	for i, balances := range fb.balances {
		next.balances[i] = make([]Balance, len(balances))
		for j, b := range balances {
			next.balances[i][j] = Balance{To: b.To, Amount: new(big.Int).Set(b.Amount)}
		}
	}
	return next
}

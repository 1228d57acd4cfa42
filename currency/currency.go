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

// Package currency converts between the decimal amounts used in requests and
// the base unit amounts held in the free balance of a channel.
package currency

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// placesToRound is the number of decimal places amounts are printed with.
const placesToRound = 6

type currency struct {
	symbol     string
	asset      common.Address
	multiplier decimal.Decimal
}

// Parse parses the decimal string and returns the amount in base units. The
// amount must be positive and a whole number of base units.
func (c currency) Parse(input string) (*big.Int, error) {
	amount, err := decimal.NewFromString(input)
	if err != nil {
		return nil, errors.Wrap(err, "invalid decimal string")
	}
	baseUnits := amount.Mul(c.multiplier)
	if !baseUnits.IsPositive() {
		return nil, errors.Errorf("amount should be positive, got %s", input)
	}
	if !baseUnits.Equal(baseUnits.Truncate(0)) {
		return nil, errors.Errorf("amount %s has more decimal places than supported by %s", input, c.symbol)
	}
	return baseUnits.BigInt(), nil
}

// Print converts the amount in base units to the decimal representation,
// rounded off to 6 decimal places.
func (c currency) Print(input *big.Int) string {
	return decimal.NewFromBigInt(input, 0).Div(c.multiplier).StringFixedBank(placesToRound)
}

// Symbol returns the symbol of the currency.
func (c currency) Symbol() string {
	return c.symbol
}

// Asset returns the token address of the asset, zero for the native asset.
func (c currency) Asset() common.Address {
	return c.asset
}

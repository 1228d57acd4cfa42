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

package currency

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/hyperledger-labs/perun-appchannel"
)

// Define symbol and max decimals for ETH, because there is no token contract
// for ETH, from which these details can be fetched from.
const (
	// ETHSymbol is the symbol for ethereum's native currency.
	ETHSymbol = "ETH"

	// ETHMaxDecimals is the maximum number of decimal places allowed in ETH representation.
	ETHMaxDecimals uint8 = 18
)

// Registry implements a currency registry with currency parsers indexed by
// symbols and by asset address.
//
// It uses a slice to keep track of registered symbols because iterating over
// map to retrieve the symbols each time will result in different ordering of
// symbols in the list.
type Registry struct {
	mtx        sync.RWMutex
	symbols    []string
	currencies map[string]perun.Currency
	byAsset    map[common.Address]perun.Currency
}

// NewRegistry initializes a currency registry.
func NewRegistry() *Registry {
	return &Registry{
		currencies: make(map[string]perun.Currency),
		byAsset:    make(map[common.Address]perun.Currency),
	}
}

// NewRegistryWithETH initializes a currency registry with ETH registered as
// the native asset.
func NewRegistryWithETH() *Registry {
	r := NewRegistry()
	//nolint: errcheck		// Registering currencies on new registry will not fail.
	r.Register(ETHSymbol, common.Address{}, ETHMaxDecimals)
	return r
}

// Symbols returns a list of all the currencies registered in
// this module.
func (r *Registry) Symbols() []string {
	r.mtx.RLock()
	symbolsCopy := make([]string, len(r.symbols))
	copy(symbolsCopy, r.symbols)
	r.mtx.RUnlock()
	return symbolsCopy
}

// IsRegistered checks if there is parser registered for the currency
// represented by the given string.
func (r *Registry) IsRegistered(symbol string) bool {
	r.mtx.RLock()
	_, ok := r.currencies[symbol]
	r.mtx.RUnlock()
	return ok
}

// Register initializes a currency parser for the asset, registers it with the
// registry and returns it. Use the zero address for the native asset.
//
// Returns an error if the symbol or the asset is already registered.
func (r *Registry) Register(symbol string, asset common.Address, maxDecimals uint8) (perun.Currency, error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	if _, ok := r.currencies[symbol]; ok {
		return nil, errors.Errorf("currency parser already registered for symbol %s", symbol)
	}
	if existing, ok := r.byAsset[asset]; ok {
		return nil, errors.Errorf("asset %s already registered as %s", asset.Hex(), existing.Symbol())
	}
	c := currency{
		symbol:     symbol,
		asset:      asset,
		multiplier: decimal.New(1, int32(maxDecimals)),
	}
	r.currencies[symbol] = c
	r.byAsset[asset] = c
	r.symbols = append(r.symbols, symbol)
	return c, nil
}

// Currency returns the currency parser registered for the given currency
// symbol. If no parser is registered, it returns nil.
func (r *Registry) Currency(symbol string) perun.Currency {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	return r.currencies[symbol]
}

// ByAsset returns the currency parser registered for the asset. If no parser
// is registered, it returns nil.
func (r *Registry) ByAsset(asset common.Address) perun.Currency {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	return r.byAsset[asset]
}

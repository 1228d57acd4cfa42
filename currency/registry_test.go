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

package currency_test

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperledger-labs/perun-appchannel"
	"github.com/hyperledger-labs/perun-appchannel/currency"
)

func Test_Implements(t *testing.T) {
	assert.Implements(t, (*perun.ROCurrencyRegistry)(nil), new(currency.Registry))
	assert.Implements(t, (*perun.CurrencyRegistry)(nil), new(currency.Registry))
}

func Test_NewRegistry(t *testing.T) {
	assert.False(t, currency.NewRegistry().IsRegistered(currency.ETHSymbol),
		"no currency should be registered by default")

	r := currency.NewRegistryWithETH()
	assert.True(t, r.IsRegistered(currency.ETHSymbol))
	eth := r.ByAsset(common.Address{})
	require.NotNil(t, eth)
	assert.Equal(t, currency.ETHSymbol, eth.Symbol())
}

func Test_Register_Symbols(t *testing.T) {
	r := currency.NewRegistry()
	wantRegisteredSymbols := []string{}

	tests := []struct {
		name        string
		symbol      string
		asset       common.Address
		maxDecimals uint8
	}{
		{"ETH", currency.ETHSymbol, common.Address{}, currency.ETHMaxDecimals},
		{"maxDecimals-0", "ERC20Test-1", common.HexToAddress("0x01"), 0},
		{"maxDecimals-18", "ERC20Test-2", common.HexToAddress("0x02"), 18},
		{"maxDecimals-255", "ERC20Test-3", common.HexToAddress("0x03"), 255},
	}

	for _, tt := range tests {
		t.Run("no-error-on-first-register"+tt.name, func(t *testing.T) {
			c, err := r.Register(tt.symbol, tt.asset, tt.maxDecimals)
			require.NoError(t, err)
			assert.Equal(t, tt.asset, c.Asset())

			wantRegisteredSymbols = append(wantRegisteredSymbols, tt.symbol)
			require.Equal(t, wantRegisteredSymbols, r.Symbols(), "should match with registered symbols")
			assert.Equal(t, c, r.ByAsset(tt.asset))
		})
	}

	for _, tt := range tests {
		t.Run("error-on-re-register"+tt.name, func(t *testing.T) {
			_, err := r.Register(tt.symbol, common.HexToAddress("0xff"), tt.maxDecimals)
			assert.Error(t, err)
		})
	}

	t.Run("error-on-asset-re-register", func(t *testing.T) {
		_, err := r.Register("OTHER", common.HexToAddress("0x01"), 18)
		assert.Error(t, err)
		assert.False(t, r.IsRegistered("OTHER"))
	})

	t.Run("symbols return deep copy", func(t *testing.T) {
		gotRegisteredSymbols1 := r.Symbols()
		gotRegisteredSymbols2 := r.Symbols()
		gotRegisteredSymbols1[0] = ""
		require.NotEqual(t, gotRegisteredSymbols1, gotRegisteredSymbols2)
		require.Equal(t, gotRegisteredSymbols2, r.Symbols())
	})

	t.Run("unknown", func(t *testing.T) {
		assert.Nil(t, r.Currency("missing"))
		assert.Nil(t, r.ByAsset(common.HexToAddress("0xee")))
	})
}

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

package abiencoding_test

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperledger-labs/perun-appchannel/abiencoding"
)

const coinTransfersEncoding = "tuple(tuple(address to, uint256 amount)[2] coinTransfers, bool finalized)"

func Test_ParseType(t *testing.T) {
	t.Run("happy_tuple_array", func(t *testing.T) {
		typ, err := abiencoding.ParseType("tuple(address to, uint256 amount)[2] transfers")
		require.NoError(t, err)
		assert.Equal(t, abi.ArrayTy, typ.T)
		assert.Equal(t, 2, typ.Size)
		require.Equal(t, abi.TupleTy, typ.Elem.T)
		assert.Equal(t, []string{"to", "amount"}, typ.Elem.TupleRawNames)
		assert.Equal(t, "(address,uint256)[2]", typ.String())
	})

	t.Run("happy_unnamed_components", func(t *testing.T) {
		typ, err := abiencoding.ParseType("tuple(address, uint)")
		require.NoError(t, err)
		assert.Equal(t, []string{"arg0", "arg1"}, typ.TupleRawNames)
		assert.Equal(t, "(address,uint256)", typ.String())
	})

	t.Run("happy_nested_dynamic", func(t *testing.T) {
		typ, err := abiencoding.ParseType(
			"tuple(address[] tokenAddresses, tuple(address to, uint256 amount)[][] balances, bytes32[] activeApps)")
		require.NoError(t, err)
		assert.Equal(t, "(address[],(address,uint256)[][],bytes32[])", typ.String())
	})

	tests := []struct {
		name     string
		encoding string
	}{
		{"err_empty", ""},
		{"err_unbalanced", "tuple(address to, uint256 amount"},
		{"err_unknown_type", "tuple(foo bar)"},
		{"err_unterminated_array", "uint256[2"},
		{"err_empty_tuple", "tuple()"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := abiencoding.ParseType(tt.encoding)
			require.Error(t, err)
			t.Log(err)
		})
	}
}

func Test_Encode_Decode(t *testing.T) {
	to0 := common.HexToAddress("0x0000000000000000000000000000000000000001")
	to1 := common.HexToAddress("0x00000000000000000000000000000000000000aB")
	input := json.RawMessage(`{
		"coinTransfers": [
			{"to": "` + to0.Hex() + `", "amount": 10},
			{"to": "` + to1.Hex() + `", "amount": {"_hex": "0x0a", "_isBigNumber": true}}
		],
		"finalized": false
	}`)

	encoded, err := abiencoding.Encode(coinTransfersEncoding, input)
	require.NoError(t, err)
	assert.Len(t, encoded, 5*32)

	decoded, err := abiencoding.Decode(coinTransfersEncoding, encoded)
	require.NoError(t, err)

	var got struct {
		CoinTransfers [2]struct {
			To     common.Address         `json:"to"`
			Amount abiencoding.BigNumber `json:"amount"`
		} `json:"coinTransfers"`
		Finalized bool `json:"finalized"`
	}
	require.NoError(t, json.Unmarshal(decoded, &got))
	assert.Equal(t, to0, got.CoinTransfers[0].To)
	assert.Equal(t, to1, got.CoinTransfers[1].To)
	assert.Equal(t, big.NewInt(10), got.CoinTransfers[0].Amount.Int())
	assert.Equal(t, big.NewInt(10), got.CoinTransfers[1].Amount.Int())
	assert.False(t, got.Finalized)

	t.Run("canonical_is_stable", func(t *testing.T) {
		again, err := abiencoding.Canonicalize(coinTransfersEncoding, decoded)
		require.NoError(t, err)
		assert.JSONEq(t, string(decoded), string(again))
		assert.Equal(t, string(decoded), string(again))
	})

	t.Run("positional_tuple", func(t *testing.T) {
		positional := json.RawMessage(`[[["` + to0.Hex() + `", "10"], ["` + to1.Hex() + `", "0xa"]], false]`)
		canonical, err := abiencoding.Canonicalize(coinTransfersEncoding, positional)
		require.NoError(t, err)
		assert.Equal(t, string(decoded), string(canonical))
	})
}

func Test_Encode_Errors(t *testing.T) {
	tests := []struct {
		name     string
		encoding string
		value    string
	}{
		{"missing_field", "tuple(uint256 a, uint256 b)", `{"a": 1}`},
		{"wrong_array_length", "uint256[2]", `[1]`},
		{"negative_uint", "uint256", `-1`},
		{"overflow_uint8", "uint8", `256`},
		{"invalid_address", "address", `"0x1234"`},
		{"wrong_bytes32_length", "bytes32", `"0x1234"`},
		{"not_bool", "bool", `"true"`},
		{"malformed_json", "uint256", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := abiencoding.Encode(tt.encoding, json.RawMessage(tt.value))
			require.Error(t, err)
			t.Log(err)
		})
	}
}

func Test_HashState(t *testing.T) {
	value := json.RawMessage(`{"a": 5, "b": "0x` + common.Bytes2Hex(common.LeftPadBytes([]byte{1}, 32)) + `"}`)
	hash, err := abiencoding.HashState("tuple(uint8 a, bytes32 b)", value)
	require.NoError(t, err)

	want := crypto.Keccak256Hash(common.LeftPadBytes([]byte{5}, 32), common.LeftPadBytes([]byte{1}, 32))
	assert.Equal(t, want, hash)
}

func Test_EncodeCall(t *testing.T) {
	to := common.HexToAddress("0x00000000000000000000000000000000000000ff")
	data, err := abiencoding.EncodeCall("transfer", []string{"address", "uint256"}, to, abiencoding.NewBigNumberFromUint64(7))
	require.NoError(t, err)

	// Selector of the erc20 transfer(address,uint256) function.
	assert.Equal(t, common.FromHex("0xa9059cbb"), data[:4])
	assert.Equal(t, common.LeftPadBytes(to.Bytes(), 32), data[4:36])
	assert.Equal(t, common.LeftPadBytes([]byte{7}, 32), data[36:68])

	values, err := abiencoding.Unpack([]string{"address", "uint256"}, data[4:])
	require.NoError(t, err)
	assert.Equal(t, to, values[0])
	assert.Equal(t, big.NewInt(7), values[1])
}

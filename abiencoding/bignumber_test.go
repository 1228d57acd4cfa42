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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperledger-labs/perun-appchannel/abiencoding"
)

func Test_BigNumber_JSON(t *testing.T) {
	t.Run("marshal", func(t *testing.T) {
		tests := []struct {
			value *big.Int
			want  string
		}{
			{big.NewInt(0), `{"_hex":"0x00","_isBigNumber":true}`},
			{big.NewInt(10), `{"_hex":"0x0a","_isBigNumber":true}`},
			{big.NewInt(256), `{"_hex":"0x0100","_isBigNumber":true}`},
			{big.NewInt(-1), `{"_hex":"-0x01","_isBigNumber":true}`},
		}
		for _, tt := range tests {
			got, err := json.Marshal(abiencoding.NewBigNumber(tt.value))
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		}
	})

	t.Run("unmarshal", func(t *testing.T) {
		inputs := []string{
			`{"_hex":"0x2a","_isBigNumber":true}`,
			`42`,
			`"42"`,
			`"0x2a"`,
		}
		for _, in := range inputs {
			var b abiencoding.BigNumber
			require.NoError(t, json.Unmarshal([]byte(in), &b), in)
			assert.Equal(t, big.NewInt(42), b.Int(), in)
		}
	})

	t.Run("unmarshal_invalid", func(t *testing.T) {
		for _, in := range []string{`"abc"`, `true`, `{"hex":"0x01"}`, `"0x"`} {
			var b abiencoding.BigNumber
			assert.Error(t, json.Unmarshal([]byte(in), &b), in)
		}
	})

	t.Run("zero_value", func(t *testing.T) {
		var b abiencoding.BigNumber
		assert.Equal(t, "0x00", b.Hex())
		assert.Equal(t, 0, b.Int().Sign())
	})
}

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

package channel_test

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperledger-labs/perun-appchannel/abiencoding"
	"github.com/hyperledger-labs/perun-appchannel/channel"
)

func nativeDeposit(amount int64) channel.Deposit {
	return channel.Deposit{AssetID: channel.NativeAssetID, Amount: abiencoding.NewBigNumber(big.NewInt(amount))}
}

func Test_ComputeInterpreterParams(t *testing.T) {
	players := [2]common.Address{alice, bob}

	t.Run("two_party_fixed", func(t *testing.T) {
		p, err := channel.ComputeInterpreterParams(channel.TwoPartyFixedOutcome, players, nativeDeposit(2), nativeDeposit(3))
		require.NoError(t, err)
		require.NoError(t, p.Check(channel.TwoPartyFixedOutcome))
		assert.Equal(t, big.NewInt(5), p.TwoPartyFixedOutcome.Amount.Int())
		assert.Equal(t, players, p.TwoPartyFixedOutcome.PlayerAddrs)
	})

	t.Run("multi_asset_distinct_tokens", func(t *testing.T) {
		tokenDeposit := channel.Deposit{AssetID: token, Amount: abiencoding.NewBigNumber(big.NewInt(7))}
		p, err := channel.ComputeInterpreterParams(channel.MultiAssetMultiPartyCoinTransfer, players, nativeDeposit(2), tokenDeposit)
		require.NoError(t, err)
		assert.Equal(t, []common.Address{channel.NativeAssetID, token}, p.MultiAssetMultiPartyCoinTransfer.TokenAddresses)
		require.Len(t, p.MultiAssetMultiPartyCoinTransfer.Limit, 2)
		assert.Equal(t, big.NewInt(7), p.MultiAssetMultiPartyCoinTransfer.Limit[1].Int())
	})

	t.Run("err_single_asset_with_two_tokens", func(t *testing.T) {
		tokenDeposit := channel.Deposit{AssetID: token, Amount: abiencoding.NewBigNumber(big.NewInt(7))}
		_, err := channel.ComputeInterpreterParams(channel.SingleAssetTwoPartyCoinTransfer, players, nativeDeposit(2), tokenDeposit)
		require.Error(t, err)
	})

	t.Run("err_unknown_outcome_type", func(t *testing.T) {
		_, err := channel.ComputeInterpreterParams("NOT_AN_OUTCOME", players, nativeDeposit(2), nativeDeposit(2))
		require.Error(t, err)
		assert.True(t, errors.Is(err, channel.ErrUnsupportedOutcomeType))
	})
}

func Test_ComputeIncrements(t *testing.T) {
	players := [2]common.Address{alice, bob}

	t.Run("two_party_fixed", func(t *testing.T) {
		params, err := channel.ComputeInterpreterParams(channel.TwoPartyFixedOutcome, players, nativeDeposit(3), nativeDeposit(2))
		require.NoError(t, err)

		tests := []struct {
			name     string
			outcome  int64
			forAlice int64
			forBob   int64
		}{
			{"send_to_addr_one", channel.SendToAddrOne, 5, 0},
			{"send_to_addr_two", channel.SendToAddrTwo, 0, 5},
			{"split", channel.SplitAndSendToBothAddrs, 3, 2},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				outcome, err := abiencoding.Pack([]string{channel.TwoPartyFixedOutcomeEncoding}, big.NewInt(tt.outcome))
				require.NoError(t, err)
				inc, err := channel.ComputeIncrements(channel.TwoPartyFixedOutcome, params, outcome)
				require.NoError(t, err)
				got := func(addr common.Address) int64 {
					if v, ok := inc[channel.NativeAssetID][addr]; ok {
						return v.Int64()
					}
					return 0
				}
				assert.Equal(t, tt.forAlice, got(alice))
				assert.Equal(t, tt.forBob, got(bob))
			})
		}

		t.Run("err_invalid_choice", func(t *testing.T) {
			outcome, err := abiencoding.Pack([]string{channel.TwoPartyFixedOutcomeEncoding}, big.NewInt(3))
			require.NoError(t, err)
			_, err = channel.ComputeIncrements(channel.TwoPartyFixedOutcome, params, outcome)
			assert.True(t, errors.Is(err, channel.ErrInvalidOutcome))
		})
	})

	t.Run("single_asset", func(t *testing.T) {
		params, err := channel.ComputeInterpreterParams(channel.SingleAssetTwoPartyCoinTransfer, players, nativeDeposit(2), nativeDeposit(0))
		require.NoError(t, err)
		encode := func(a, b int64) []byte {
			out, err := abiencoding.Encode(channel.SingleAssetTwoPartyCoinTransferEncoding, []byte(`[
				{"to": "`+alice.Hex()+`", "amount": `+big.NewInt(a).String()+`},
				{"to": "`+bob.Hex()+`", "amount": `+big.NewInt(b).String()+`}]`))
			require.NoError(t, err)
			return out
		}

		inc, err := channel.ComputeIncrements(channel.SingleAssetTwoPartyCoinTransfer, params, encode(1, 1))
		require.NoError(t, err)
		assert.Equal(t, big.NewInt(1), inc[channel.NativeAssetID][alice])
		assert.Equal(t, big.NewInt(1), inc[channel.NativeAssetID][bob])

		_, err = channel.ComputeIncrements(channel.SingleAssetTwoPartyCoinTransfer, params, encode(2, 1))
		assert.True(t, errors.Is(err, channel.ErrInvalidOutcome), "outcome above the limit")
	})

	t.Run("err_params_for_other_outcome_type", func(t *testing.T) {
		params, err := channel.ComputeInterpreterParams(channel.SingleAssetTwoPartyCoinTransfer, players, nativeDeposit(2), nativeDeposit(0))
		require.NoError(t, err)
		_, err = channel.ComputeIncrements(channel.TwoPartyFixedOutcome, params, nil)
		require.Error(t, err)
	})
}

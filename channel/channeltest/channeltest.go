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

// Package channeltest provides fixtures for tests working with channels.
package channeltest

import (
	"encoding/json"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/hyperledger-labs/perun-appchannel/abiencoding"
	"github.com/hyperledger-labs/perun-appchannel/channel"
	"github.com/hyperledger-labs/perun-appchannel/identity"
)

// TransferStateEncoding is the state encoding of the transfer app used in fixtures.
const TransferStateEncoding = "tuple(tuple(address to, uint256 amount)[2] coinTransfers)"

// TransferAppDefinition is the app definition of the transfer app used in fixtures.
var TransferAppDefinition = common.HexToAddress("0x00000000000000000000000000000000000a0001")

// NetworkContext returns a network context with distinct, fixed contract addresses.
func NetworkContext() channel.NetworkContext {
	addr := func(i int) common.Address {
		return common.HexToAddress(fmt.Sprintf("0x%040x", 0xc0de0000+i))
	}
	return channel.NetworkContext{
		ChallengeRegistry:                           addr(1),
		ConditionalTransactionDelegateTarget:        addr(2),
		IdentityApp:                                 addr(3),
		MinimumViableMultisig:                       addr(4),
		ProxyFactory:                                addr(5),
		TwoPartyFixedOutcomeInterpreter:             addr(6),
		SingleAssetTwoPartyCoinTransferInterpreter:  addr(7),
		MultiAssetMultiPartyCoinTransferInterpreter: addr(8),
	}
}

// NewSigners returns two signers with random keys.
func NewSigners(t *testing.T) (*identity.Signer, *identity.Signer) {
	t.Helper()
	a, err := identity.NewRandomSigner()
	require.NoError(t, err)
	b, err := identity.NewRandomSigner()
	require.NoError(t, err)
	return a, b
}

// NewSetupChannel returns a channel between the two signers after setup.
func NewSetupChannel(t *testing.T, initiator, responder *identity.Signer) *channel.StateChannel {
	t.Helper()
	network := NetworkContext()
	multisig := channel.MultisigAddress(network.CriticalAddresses(),
		[2]common.Address{initiator.Address(), responder.Address()})
	ch, err := channel.SetupChannel(network.IdentityApp, network.CriticalAddresses(), multisig,
		initiator.PublicIdentifier(), responder.PublicIdentifier())
	require.NoError(t, err)
	return ch
}

// TransferState returns the state of the transfer app.
func TransferState(to [2]common.Address, amounts [2]*big.Int) json.RawMessage {
	type transfer struct {
		To     common.Address        `json:"to"`
		Amount abiencoding.BigNumber `json:"amount"`
	}
	state := struct {
		CoinTransfers [2]transfer `json:"coinTransfers"`
	}{
		CoinTransfers: [2]transfer{
			{To: to[0], Amount: abiencoding.NewBigNumber(amounts[0])},
			{To: to[1], Amount: abiencoding.NewBigNumber(amounts[1])},
		},
	}
	raw, err := json.Marshal(state)
	if err != nil {
		panic(err)
	}
	return raw
}

// NewProposal returns a proposal of the transfer app in the channel, with
// the native asset deposits of initiator and responder. The app sequence
// number is the next one of the channel.
func NewProposal(t *testing.T, ch *channel.StateChannel, initiator, responder *identity.Signer,
	initiatorDeposit, responderDeposit int64) *channel.AppInstance {
	t.Helper()
	players := [2]common.Address{initiator.Address(), responder.Address()}
	iDeposit := channel.Deposit{AssetID: channel.NativeAssetID, Amount: abiencoding.NewBigNumber(big.NewInt(initiatorDeposit))}
	rDeposit := channel.Deposit{AssetID: channel.NativeAssetID, Amount: abiencoding.NewBigNumber(big.NewInt(responderDeposit))}
	params, err := channel.ComputeInterpreterParams(channel.SingleAssetTwoPartyCoinTransfer, players, iDeposit, rDeposit)
	require.NoError(t, err)

	app, err := channel.NewAppInstance(channel.AppInstanceJSON{
		MultisigAddress:     ch.MultisigAddress(),
		InitiatorIdentifier: initiator.PublicIdentifier(),
		ResponderIdentifier: responder.PublicIdentifier(),
		Participants:        players,
		InitiatorDeposit:    iDeposit,
		ResponderDeposit:    rDeposit,
		AbiEncodings:        channel.AbiEncodings{StateEncoding: TransferStateEncoding},
		AppDefinition:       TransferAppDefinition,
		AppSeqNo:            ch.NumProposedApps(),
		LatestState:         TransferState(players, [2]*big.Int{big.NewInt(initiatorDeposit), big.NewInt(responderDeposit)}),
		LatestVersionNumber: 1,
		DefaultTimeout:      abiencoding.NewBigNumberFromUint64(100),
		StateTimeout:        abiencoding.NewBigNumberFromUint64(0),
		OutcomeType:         channel.SingleAssetTwoPartyCoinTransfer,
		InterpreterParams:   params,
	})
	require.NoError(t, err)
	return app
}

// Fund returns the channel with the amounts of the native asset credited to
// the free balance of initiator and responder. It installs and uninstalls a
// zero deposit app, as a deposit app would on chain.
func Fund(t *testing.T, ch *channel.StateChannel, initiator, responder *identity.Signer,
	initiatorAmount, responderAmount int64) *channel.StateChannel {
	t.Helper()
	app := NewProposal(t, ch, initiator, responder, 0, 0)
	installed, err := ch.InstallApp(app, app.Decrements())
	require.NoError(t, err)

	increments := make(channel.TokenIndexedBalances)
	increments.Add(channel.NativeAssetID, initiator.Address(), big.NewInt(initiatorAmount))
	increments.Add(channel.NativeAssetID, responder.Address(), big.NewInt(responderAmount))
	funded, err := installed.UninstallApp(app.IdentityHash(), increments)
	require.NoError(t, err)
	return funded
}

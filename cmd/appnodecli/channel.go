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

package main

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/abiosoft/ishell"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/hyperledger-labs/perun-appchannel"
	"github.com/hyperledger-labs/perun-appchannel/abiencoding"
	"github.com/hyperledger-labs/perun-appchannel/currency"
	"github.com/hyperledger-labs/perun-appchannel/session"
)

var (
	channelCmdUsage = "Usage: channel [sub-command]"
	channelCmd      = &ishell.Cmd{
		Name: "channel",
		Help: "Use this command to create, query and sync state channels." + channelCmdUsage,
		Func: channelFn,
	}

	channelCreateCmdUsage = "Usage: channel create [peer alias or identifier]"
	channelCreateCmd      = &ishell.Cmd{
		Name: "create",
		Help: "Create a state channel with the peer." + channelCreateCmdUsage,
		Func: channelCreateFn,
	}

	channelListCmdUsage = "Usage: channel list"
	channelListCmd      = &ishell.Cmd{
		Name: "list",
		Help: "List the multisig addresses of all channels." + channelListCmdUsage,
		Func: channelListFn,
	}

	channelInfoCmdUsage = "Usage: channel info [multisig address]"
	channelInfoCmd      = &ishell.Cmd{
		Name: "info",
		Help: "Print the state channel." + channelInfoCmdUsage,
		Func: channelInfoFn,
	}

	channelBalanceCmdUsage = "Usage: channel balance [multisig address] [currency symbol]"
	channelBalanceCmd      = &ishell.Cmd{
		Name: "balance",
		Help: "Print the free balance of the channel in the currency." + channelBalanceCmdUsage,
		Completer: func(args []string) []string {
			if len(args) == 1 {
				return currencies.Symbols()
			}
			return nil
		},
		Func: channelBalanceFn,
	}

	channelSyncCmdUsage = "Usage: channel sync [multisig address]"
	channelSyncCmd      = &ishell.Cmd{
		Name: "sync",
		Help: "Sync the channel with the peer." + channelSyncCmdUsage,
		Func: channelSyncFn,
	}

	channelWithdrawCmdUsage = "Usage: channel withdraw [multisig address] [recipient] [amount] [currency symbol]"
	channelWithdrawCmd      = &ishell.Cmd{
		Name: "withdraw",
		Help: "Create and sign a commitment withdrawing the amount of the own free balance to the recipient." +
			channelWithdrawCmdUsage,
		Func: channelWithdrawFn,
	}
)

func init() {
	channelCmd.AddCmd(channelCreateCmd)
	channelCmd.AddCmd(channelListCmd)
	channelCmd.AddCmd(channelInfoCmd)
	channelCmd.AddCmd(channelBalanceCmd)
	channelCmd.AddCmd(channelSyncCmd)
	channelCmd.AddCmd(channelWithdrawCmd)
}

func channelFn(c *ishell.Context) {
	c.Println(c.Cmd.HelpText())
}

func channelCreateFn(c *ishell.Context) {
	if !checkConn(c, 1) {
		return
	}
	var res session.StateChannelResult
	if apiErr := call(session.MethodCreateChannel, session.CreateChannelParams{Counterparty: c.Args[0]},
		&res); apiErr != nil {
		printAPIError(c, apiErr)
		return
	}
	c.Printf("%s\n\n", greenf("Created channel %s with %s.", res.StateChannel.MultisigAddress().Hex(), c.Args[0]))
}

func channelListFn(c *ishell.Context) {
	if !checkConn(c, 0) {
		return
	}
	var res session.ChannelAddressesResult
	if apiErr := call(session.MethodGetChannelAddresses, session.EmptyResult{}, &res); apiErr != nil {
		printAPIError(c, apiErr)
		return
	}
	if len(res.MultisigAddresses) == 0 {
		c.Printf("%s\n\n", greenf("No channels."))
		return
	}
	for _, addr := range res.MultisigAddresses {
		c.Println(addr.Hex())
	}
	c.Println()
}

func channelInfoFn(c *ishell.Context) {
	if !checkConn(c, 1) {
		return
	}
	multisig, err := parseAddress(c.Args[0])
	if err != nil {
		printArgError(c, err)
		return
	}
	var res json.RawMessage
	if apiErr := call(session.MethodGetStateChannel, session.MultisigParams{MultisigAddress: multisig},
		&res); apiErr != nil {
		printAPIError(c, apiErr)
		return
	}
	c.Printf("%s\n\n", prettifyJSON(res))
}

func channelBalanceFn(c *ishell.Context) {
	if client == nil {
		printNodeNotConnectedError(c)
		return
	}
	if len(c.Args) != 1 && len(c.Args) != 2 {
		printArgCountError(c, 2)
		return
	}
	multisig, err := parseAddress(c.Args[0])
	if err != nil {
		printArgError(c, err)
		return
	}
	cur, err := currencyOf(c.Args[1:])
	if err != nil {
		printArgError(c, err)
		return
	}
	var res session.FreeBalanceStateResult
	params := session.FreeBalanceStateParams{MultisigAddress: multisig, TokenAddress: cur.Asset()}
	if apiErr := call(session.MethodGetFreeBalanceState, params, &res); apiErr != nil {
		printAPIError(c, apiErr)
		return
	}
	for _, line := range balanceLines(res, cur) {
		c.Println(line)
	}
	c.Println()
}

func channelSyncFn(c *ishell.Context) {
	if !checkConn(c, 1) {
		return
	}
	multisig, err := parseAddress(c.Args[0])
	if err != nil {
		printArgError(c, err)
		return
	}
	var res session.StateChannelResult
	if apiErr := call(session.MethodSync, session.MultisigParams{MultisigAddress: multisig}, &res); apiErr != nil {
		printAPIError(c, apiErr)
		return
	}
	c.Printf("%s\n\n", greenf("Synced channel %s.", multisig.Hex()))
}

func channelWithdrawFn(c *ishell.Context) {
	if client == nil {
		printNodeNotConnectedError(c)
		return
	}
	if len(c.Args) != 3 && len(c.Args) != 4 {
		printArgCountError(c, 4)
		return
	}
	params, err := withdrawParams(c.Args)
	if err != nil {
		printArgError(c, err)
		return
	}
	var res session.WithdrawCommitmentResult
	if apiErr := call(session.MethodCreateWithdrawCommitment, params, &res); apiErr != nil {
		printAPIError(c, apiErr)
		return
	}
	c.Printf("%s\n", greenf("Signed withdraw commitment with digest %s.", res.Digest.Hex()))
	c.Printf("Signature: %s\n\n", res.Signature)
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, errors.Errorf("%q is not a hex address", s)
	}
	return common.HexToAddress(s), nil
}

// currencyOf returns the currency of the optional symbol argument, ETH if
// not given.
func currencyOf(args []string) (perun.Currency, error) {
	symbol := currency.ETHSymbol
	if len(args) > 0 {
		symbol = args[0]
	}
	cur := currencies.Currency(symbol)
	if cur == nil {
		return nil, errors.Errorf("unknown currency %q, known ones: %v", symbol, currencies.Symbols())
	}
	return cur, nil
}

func withdrawParams(args []string) (session.WithdrawCommitmentParams, error) {
	multisig, err := parseAddress(args[0])
	if err != nil {
		return session.WithdrawCommitmentParams{}, err
	}
	recipient, err := parseAddress(args[1])
	if err != nil {
		return session.WithdrawCommitmentParams{}, err
	}
	cur, err := currencyOf(args[3:])
	if err != nil {
		return session.WithdrawCommitmentParams{}, err
	}
	amount, err := cur.Parse(args[2])
	if err != nil {
		return session.WithdrawCommitmentParams{}, err
	}
	return session.WithdrawCommitmentParams{
		MultisigAddress: multisig,
		Recipient:       recipient,
		AssetID:         cur.Asset(),
		Amount:          abiencoding.NewBigNumber(amount),
	}, nil
}

// balanceLines formats the balances sorted by owner.
func balanceLines(balances session.FreeBalanceStateResult, cur perun.Currency) []string {
	lines := make([]string, 0, len(balances))
	for owner, amount := range balances {
		lines = append(lines, fmt.Sprintf("%s: %s %s", owner.Hex(), cur.Print(amount.Int()), cur.Symbol()))
	}
	sort.Strings(lines)
	return lines
}

// prettifyJSON prints the decoded value of raw, or raw as it is if it is not
// valid json.
func prettifyJSON(raw json.RawMessage) string {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return prettify(v)
}

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
	"os"
	"path/filepath"

	"github.com/abiosoft/ishell"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"

	"github.com/hyperledger-labs/perun-appchannel/protocol"
	"github.com/hyperledger-labs/perun-appchannel/session"
)

var (
	appCmdUsage = "Usage: app [sub-command]"
	appCmd      = &ishell.Cmd{
		Name: "app",
		Help: "Use this command to propose, install, update and uninstall apps in a channel." + appCmdUsage,
		Func: appFn,
	}

	appProposeCmdUsage = "Usage: app propose [proposal json file]"
	appProposeCmd      = &ishell.Cmd{
		Name: "propose",
		Help: "Propose to install the app described in the file to the peer." + appProposeCmdUsage,
		Func: appProposeFn,
	}

	appInstallCmdUsage = "Usage: app install [app identity hash]"
	appInstallCmd      = &ishell.Cmd{
		Name: "install",
		Help: "Install an app proposed by the peer." + appInstallCmdUsage,
		Func: appInstallFn,
	}

	appRejectCmdUsage = "Usage: app reject [app identity hash]"
	appRejectCmd      = &ishell.Cmd{
		Name: "reject",
		Help: "Reject an app proposed by the peer." + appRejectCmdUsage,
		Func: appRejectFn,
	}

	appListCmdUsage = "Usage: app list [multisig address]"
	appListCmd      = &ishell.Cmd{
		Name: "list",
		Help: "List the installed apps of the channel." + appListCmdUsage,
		Func: appListFn,
	}

	appProposedCmdUsage = "Usage: app proposed [multisig address]"
	appProposedCmd      = &ishell.Cmd{
		Name: "proposed",
		Help: "List the proposed apps of the channel." + appProposedCmdUsage,
		Func: appProposedFn,
	}

	appInfoCmdUsage = "Usage: app info [app identity hash]"
	appInfoCmd      = &ishell.Cmd{
		Name: "info",
		Help: "Print the installed or proposed app." + appInfoCmdUsage,
		Func: appInfoFn,
	}

	appUpdateCmdUsage = "Usage: app update [app identity hash] [state json]"
	appUpdateCmd      = &ishell.Cmd{
		Name: "update",
		Help: "Set a new state on the app. Quote the json if it contains spaces." + appUpdateCmdUsage,
		Func: appUpdateFn,
	}

	appActionCmdUsage = "Usage: app action [app identity hash] [action json]"
	appActionCmd      = &ishell.Cmd{
		Name: "action",
		Help: "Apply the action to the state of the app. Quote the json if it contains spaces." + appActionCmdUsage,
		Func: appActionFn,
	}

	appUninstallCmdUsage = "Usage: app uninstall [app identity hash] [optional final action json]"
	appUninstallCmd      = &ishell.Cmd{
		Name: "uninstall",
		Help: "Uninstall the app and settle its outcome into the free balance." + appUninstallCmdUsage,
		Func: appUninstallFn,
	}
)

func init() {
	appCmd.AddCmd(appProposeCmd)
	appCmd.AddCmd(appInstallCmd)
	appCmd.AddCmd(appRejectCmd)
	appCmd.AddCmd(appListCmd)
	appCmd.AddCmd(appProposedCmd)
	appCmd.AddCmd(appInfoCmd)
	appCmd.AddCmd(appUpdateCmd)
	appCmd.AddCmd(appActionCmd)
	appCmd.AddCmd(appUninstallCmd)
}

func appFn(c *ishell.Context) {
	c.Println(c.Cmd.HelpText())
}

func appProposeFn(c *ishell.Context) {
	if !checkConn(c, 1) {
		return
	}
	params, err := readProposeParams(c.Args[0])
	if err != nil {
		printArgError(c, err)
		return
	}
	var res session.ProposeInstallResult
	if apiErr := call(session.MethodProposeInstall, params, &res); apiErr != nil {
		printAPIError(c, apiErr)
		return
	}
	c.Printf("%s\n\n", greenf("Proposed app %s.", res.AppIdentityHash.Hex()))
}

func appInstallFn(c *ishell.Context) {
	appRequest(c, session.MethodInstall, "Installed")
}

func appRejectFn(c *ishell.Context) {
	appRequest(c, session.MethodRejectInstall, "Rejected")
}

func appInfoFn(c *ishell.Context) {
	appRequest(c, session.MethodGetAppInstance, "")
}

// appRequest sends a request with the app hash as the only param and prints
// the result if done is empty.
func appRequest(c *ishell.Context, method, done string) {
	if !checkConn(c, 1) {
		return
	}
	hash, err := parseHash(c.Args[0])
	if err != nil {
		printArgError(c, err)
		return
	}
	var res json.RawMessage
	if apiErr := call(method, session.AppParams{AppIdentityHash: hash}, &res); apiErr != nil {
		printAPIError(c, apiErr)
		return
	}
	if done != "" {
		c.Printf("%s\n\n", greenf("%s app %s.", done, hash.Hex()))
		return
	}
	c.Printf("%s\n\n", prettifyJSON(res))
}

func appListFn(c *ishell.Context) {
	appsRequest(c, session.MethodGetAppInstances)
}

func appProposedFn(c *ishell.Context) {
	appsRequest(c, session.MethodGetProposedAppInstances)
}

func appsRequest(c *ishell.Context, method string) {
	if !checkConn(c, 1) {
		return
	}
	multisig, err := parseAddress(c.Args[0])
	if err != nil {
		printArgError(c, err)
		return
	}
	var res json.RawMessage
	if apiErr := call(method, session.MultisigParams{MultisigAddress: multisig}, &res); apiErr != nil {
		printAPIError(c, apiErr)
		return
	}
	c.Printf("%s\n\n", prettifyJSON(res))
}

func appUpdateFn(c *ishell.Context) {
	if !checkConn(c, 2) {
		return
	}
	hash, state, err := parseHashAndJSON(c.Args[0], c.Args[1])
	if err != nil {
		printArgError(c, err)
		return
	}
	var res json.RawMessage
	params := session.UpdateStateParams{AppIdentityHash: hash, NewState: state}
	if apiErr := call(session.MethodUpdateState, params, &res); apiErr != nil {
		printAPIError(c, apiErr)
		return
	}
	c.Printf("%s\n\n", greenf("Updated state of app %s.", hash.Hex()))
}

func appActionFn(c *ishell.Context) {
	if !checkConn(c, 2) {
		return
	}
	hash, action, err := parseHashAndJSON(c.Args[0], c.Args[1])
	if err != nil {
		printArgError(c, err)
		return
	}
	var res json.RawMessage
	params := session.TakeActionParams{AppIdentityHash: hash, Action: action}
	if apiErr := call(session.MethodTakeAction, params, &res); apiErr != nil {
		printAPIError(c, apiErr)
		return
	}
	c.Printf("%s\n%s\n\n", greenf("Took action on app %s, new state:", hash.Hex()), prettifyJSON(res))
}

func appUninstallFn(c *ishell.Context) {
	if client == nil {
		printNodeNotConnectedError(c)
		return
	}
	if len(c.Args) != 1 && len(c.Args) != 2 {
		printArgCountError(c, 2)
		return
	}
	hash, err := parseHash(c.Args[0])
	if err != nil {
		printArgError(c, err)
		return
	}
	params := session.UninstallParams{AppIdentityHash: hash}
	if len(c.Args) == 2 {
		if params.Action, err = parseJSON(c.Args[1]); err != nil {
			printArgError(c, err)
			return
		}
	}
	var res session.StateChannelResult
	if apiErr := call(session.MethodUninstall, params, &res); apiErr != nil {
		printAPIError(c, apiErr)
		return
	}
	c.Printf("%s\n\n", greenf("Uninstalled app %s.", hash.Hex()))
}

func parseHash(s string) (common.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, errors.Errorf("%q is not a 32 byte hex string", s)
	}
	return common.BytesToHash(b), nil
}

func parseJSON(s string) (json.RawMessage, error) {
	if !json.Valid([]byte(s)) {
		return nil, errors.Errorf("%q is not valid json", s)
	}
	return json.RawMessage(s), nil
}

func parseHashAndJSON(hashArg, jsonArg string) (common.Hash, json.RawMessage, error) {
	hash, err := parseHash(hashArg)
	if err != nil {
		return common.Hash{}, nil, err
	}
	raw, err := parseJSON(jsonArg)
	return hash, raw, err
}

// readProposeParams reads the proposal from the json file. The proposal
// uses the same fields as the chan_proposeInstall request.
func readProposeParams(file string) (protocol.ProposeParams, error) {
	data, err := os.ReadFile(filepath.Clean(file))
	if err != nil {
		return protocol.ProposeParams{}, errors.Wrap(err, "reading proposal file")
	}
	var params protocol.ProposeParams
	if err := json.Unmarshal(data, &params); err != nil {
		return protocol.ProposeParams{}, errors.Wrap(err, "decoding proposal file")
	}
	if params.MultisigAddress == (common.Address{}) {
		return protocol.ProposeParams{}, errors.New("proposal has no multisigAddress")
	}
	return params, nil
}

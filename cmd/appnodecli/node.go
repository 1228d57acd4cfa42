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
	"context"
	"time"

	"github.com/abiosoft/ishell"

	"github.com/hyperledger-labs/perun-appchannel"
	"github.com/hyperledger-labs/perun-appchannel/api/wsrpc"
)

const requestTimeout = 30 * time.Second

// notifiedEvents are the events printed in the shell once connected.
var notifiedEvents = []perun.EventName{
	perun.EventChannelCreated,
	perun.EventProposeInstall,
	perun.EventInstall,
	perun.EventUpdateState,
	perun.EventUninstall,
	perun.EventRejectInstall,
	perun.EventSync,
}

var (
	nodeCmdUsage = "Usage: node [sub-command]"
	nodeCmd      = &ishell.Cmd{
		Name: "node",
		Help: "Use the command to access the node related functionalities." + nodeCmdUsage,
		Func: nodeFn,
	}

	nodeConnectCmdUsage = "Usage: node connect [url]"
	nodeConnectCmd      = &ishell.Cmd{
		Name: "connect",
		Help: "Connect to a running appnode instance. Use tab completion to cycle through default values." +
			nodeConnectCmdUsage,
		Completer: func([]string) []string {
			// Provide default values as autocompletion.
			return []string{"ws://127.0.0.1:50001" + wsrpc.Endpoint, "ws://127.0.0.1:50002" + wsrpc.Endpoint}
		},
		Func: nodeConnectFn,
	}
)

func init() {
	nodeCmd.AddCmd(nodeConnectCmd)
}

func nodeFn(c *ishell.Context) {
	c.Println(c.Cmd.HelpText())
}

func nodeConnectFn(c *ishell.Context) {
	countReqArgs := 1
	if len(c.Args) != countReqArgs {
		printArgCountError(c, countReqArgs)
		return
	}
	if client != nil {
		c.Printf("%s\n\n", redf("Already connected to an appnode. Restart the cli to connect to another one."))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	nodeURL := c.Args[0]
	newClient, err := wsrpc.Dial(ctx, nodeURL)
	if err != nil {
		c.Printf("%s\n\n", redf("Error connecting to appnode at %s: %v", nodeURL, err))
		return
	}
	for _, name := range notifiedEvents {
		for _, n := range []perun.EventName{name, name.Failed()} {
			if _, apiErr := newClient.Subscribe(ctx, n, printEvent); apiErr != nil {
				printAPIError(c, apiErr)
				newClient.Close() // nolint: errcheck, gosec
				return
			}
		}
	}
	client = newClient
	c.Printf("%s\n\n", greenf("Connected to appnode at %s. Subscribed to channel events.", nodeURL))
}

// printEvent prints the notification in the shell as it is received.
func printEvent(e wsrpc.Event) {
	sh.Printf("%s\n%s\n\n", yellowf("Received %s from %s:", e.Name, e.From), prettifyJSON(e.Data))
}

// call sends the request with the default timeout.
func call(method string, params, result interface{}) perun.APIError {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	return client.Call(ctx, method, params, result)
}

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
	"fmt"

	"github.com/abiosoft/ishell"
	"github.com/fatih/color"

	"github.com/hyperledger-labs/perun-appchannel"
	"github.com/hyperledger-labs/perun-appchannel/api/wsrpc"
	"github.com/hyperledger-labs/perun-appchannel/currency"
)

var (
	// File that stores history of commands used in the interactive shell.
	// This will be preserved across the multiple runs of appnode cli.
	// It will be located in the home directory.
	historyFile = ".appnodecli_history"

	// Singleton instance of ishell that is used throughout this program.
	// this will be initialized in main() and be accessed by event
	// handlers to print the received notifications.
	sh *ishell.Shell

	// Client connected to the json-rpc api of the node. It is safe for
	// concurrent use.
	client *wsrpc.Client

	// Currencies used for parsing and printing amounts.
	currencies = currency.NewRegistryWithETH()

	// SPrintf style functions that produce colored text.
	redf    = color.New(color.FgRed).SprintfFunc()
	greenf  = color.New(color.FgGreen).SprintfFunc()
	yellowf = color.New(color.FgYellow).SprintfFunc()
)

func main() {
	// New shell includes help, clear, exit commands by default.
	sh = ishell.New()

	// Read and write history to $HOME/historyFile
	sh.SetHomeHistoryPath(historyFile)

	sh.AddCmd(nodeCmd)
	sh.AddCmd(channelCmd)
	sh.AddCmd(appCmd)

	sh.Printf("App channel node cli application.\n\n")
	sh.Printf("%s\n\n", greenf("Connect to an appnode instance using 'node connect' for sending any requests."))

	sh.Run()
	if client != nil {
		client.Close() // nolint: errcheck, gosec
	}
}

// printNodeNotConnectedError is a helper function to print error message that is used across mutiple commands.
func printNodeNotConnectedError(c ishell.Actions) {
	c.Printf("%s\n\n", redf("Not connected to appnode, connect using 'node connect' command."))
}

// printArgCountError is a helper function to print error message that is used across mutiple commands.
func printArgCountError(c *ishell.Context, reqArgCount int) {
	c.Printf("%s\n\n", redf("Got %d arg(s). Want %d.", len(c.Args), reqArgCount))
	c.Printf("Command help:\t%s\n\n", c.Cmd.Help)
}

// printAPIError is a helper function to print error message that is used across mutiple commands.
func printAPIError(c ishell.Actions, apiErr perun.APIError) {
	c.Printf("%s\n\n", redf("Error: %s", apiErrorString(apiErr)))
}

// printArgError is a helper function to print error message that is used across mutiple commands.
func printArgError(c ishell.Actions, err error) {
	c.Printf("%s\n\n", redf("Invalid argument: %v.", err))
}

// apiErrorString formats the error returned by the API into pretty strings.
func apiErrorString(e perun.APIError) string {
	return fmt.Sprintf("category: %s, code: %d, message: %s, additional info: %+v",
		e.Category(), e.Code(), e.Message(), e.AddInfo())
}

// checkConn prints an error if the client is not connected or the argument
// count does not match.
func checkConn(c *ishell.Context, reqArgCount int) bool {
	if client == nil {
		printNodeNotConnectedError(c)
		return false
	}
	if len(c.Args) != reqArgCount {
		printArgCountError(c, reqArgCount)
		return false
	}
	return true
}

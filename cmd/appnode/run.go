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
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hyperledger-labs/perun-appchannel/config"
	"github.com/hyperledger-labs/perun-appchannel/log"
)

const (
	configfileF = "configfile" // can only be specified in flag, not via config file.

	defaultConfigFile = "node.yaml"
)

// nodeCfgViper holds the values of the config file, overridden by the node
// flags defined on the run command.
var nodeCfgViper *viper.Viper

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().String(configfileF, defaultConfigFile,
		"node config file. Use empty string to configure the node only via flags")
	config.DefineFlags(runCmd.Flags())

	var err error
	if nodeCfgViper, err = config.NewViper(runCmd.Flags()); err != nil {
		panic(err)
	}
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the appnode",
	Long: `Start the app channel node. The node serves the channel API via json-rpc
over websocket and connects to the nodes of the peers listed in the id provider
file.

Configuration can be specified in the config file or via flags. Values in the
flags override that in the config file.`,
	Run: run,
}

func run(cmd *cobra.Command, _ []string) {
	cfgFile, err := cmd.Flags().GetString(configfileF)
	if err != nil {
		panic("unknown flag configfile\n")
	}
	nodeCfg, err := config.Parse(nodeCfgViper, cfgFile)
	if err != nil {
		fmt.Printf("Error parsing node config: %v\n", err)
		os.Exit(1)
	}
	if err = log.InitLogger(nodeCfg.LogLevel, nodeCfg.LogFile); err != nil {
		fmt.Printf("Error initializing logger: %v\n", err)
		os.Exit(1)
	}

	n, err := newNode(nodeCfg)
	if err != nil {
		fmt.Printf("Error starting node: %v\n", err)
		os.Exit(1)
	}
	printCfg := nodeCfg
	printCfg.Password, printCfg.PrivateKey = redact(nodeCfg.Password), redact(nodeCfg.PrivateKey)
	fmt.Printf("Running app channel node with the below config:\n%s.\n\nServing channel API via json-rpc at %s\n",
		prettify(printCfg), n.rpcURL())
	if url := n.metricsURL(); url != "" {
		fmt.Printf("Serving metrics at %s\n", url)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	fmt.Printf("\nReceived %v, shutting down\n", sig)
	n.close()
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return "<redacted>"
}

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
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hyperledger-labs/perun-appchannel"
	"github.com/hyperledger-labs/perun-appchannel/identity"
)

const (
	aliceAlias, bobAlias = "alice", "bob"
	nodeConfigFile       = "node.yaml"
	keystoreDir          = "keystore"
	idProviderFile       = "idprovider.yaml"
	databaseFile         = "database.sqlite"
	demoPassword         = "0123456789"

	outDirF = "out-dir"

	dirFileMode  = os.FileMode(0o750) // file mode for creating the directories for alice and bob.
	fileFileMode = os.FileMode(0o600)
)

// nodePorts are the ports a demo node listens on.
type nodePorts struct {
	Comm, RPC, Metrics int
}

var defaultPorts = map[string]nodePorts{
	aliceAlias: {Comm: 5751, RPC: 50001, Metrics: 9101},
	bobAlias:   {Comm: 5752, RPC: 50002, Metrics: 9102},
}

// demoNetwork holds placeholder contract addresses. The node does not talk
// to the chain, they only go into the commitments and the multisig
// addresses.
var demoNetwork = map[string]string{
	"challengeRegistry":                           demoAddress(1),
	"conditionalTransactionDelegateTarget":        demoAddress(2),
	"identityApp":                                 demoAddress(3),
	"minimumViableMultisig":                       demoAddress(4),
	"proxyFactory":                                demoAddress(5),
	"twoPartyFixedOutcomeInterpreter":             demoAddress(6),
	"singleAssetTwoPartyCoinTransferInterpreter":  demoAddress(7),
	"multiAssetMultiPartyCoinTransferInterpreter": demoAddress(8),
}

var demoApps = map[string]string{
	"simpletransfer": demoAddress(0xa1),
	"linkedtransfer": demoAddress(0xa2),
}

func demoAddress(i int) string {
	return common.HexToAddress(fmt.Sprintf("0x%040x", i)).Hex()
}

// nodeConfigYAML is the layout of node.yaml, the keys match the config
// flags.
type nodeConfigYAML struct {
	LogLevel        string            `yaml:"loglevel"`
	LogFile         string            `yaml:"logfile"`
	KeystorePath    string            `yaml:"keystorepath"`
	SignerAddr      string            `yaml:"signeraddr"`
	Password        string            `yaml:"password"`
	CommAddr        string            `yaml:"commaddr"`
	IDProviderURL   string            `yaml:"idproviderurl"`
	StoreType       string            `yaml:"storetype"`
	DatabaseFile    string            `yaml:"databasefile"`
	ResponseTimeout string            `yaml:"responsetimeout"`
	RateLimit       float64           `yaml:"ratelimit"`
	RateBurst       int               `yaml:"rateburst"`
	RPCAddr         string            `yaml:"rpcaddr"`
	MetricsAddr     string            `yaml:"metricsaddr"`
	Network         map[string]string `yaml:"network"`
	Apps            map[string]string `yaml:"apps"`
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate demo artifacts",
	Long: `
Generate demo artifacts for two nodes, alice and bob. Each of the two
directories contains:

- keystore directory with a newly generated signing key.
- node.yaml file, with an sqlite store in the same directory.
- idprovider.yaml file, listing the other user as a known peer.

Start the nodes from the directory the artifacts were generated in:

appnode run --configfile alice/node.yaml
appnode run --configfile bob/node.yaml
`,
	Run: generate,
}

func init() {
	rootCmd.AddCommand(generateCmd)
	generateCmd.Flags().String(outDirF, ".", "directory to generate the artifacts in")
}

func generate(cmd *cobra.Command, _ []string) {
	outDir, err := cmd.Flags().GetString(outDirF)
	if err != nil {
		panic("unknown flag out-dir\n")
	}
	if err := generateArtifacts(outDir, defaultPorts); err != nil {
		fmt.Printf("Error generating artifacts: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Generated artifacts for %s and %s in %s\n", aliceAlias, bobAlias, outDir)
}

type demoUser struct {
	alias      string
	dir        string
	identifier string
	address    common.Address
	ports      nodePorts
}

// generateArtifacts creates the directories of alice and bob in outDir. It
// fails if any of them already exists.
func generateArtifacts(outDir string, ports map[string]nodePorts) error {
	users := make([]*demoUser, 0, 2)
	for _, alias := range []string{aliceAlias, bobAlias} {
		dir := filepath.Join(outDir, alias)
		if _, err := os.Stat(dir); err == nil {
			return errors.Errorf("directory %s already exists", dir)
		}
		if err := os.MkdirAll(dir, dirFileMode); err != nil {
			return errors.Wrap(err, "creating directory")
		}
		key, err := crypto.GenerateKey()
		if err != nil {
			return errors.Wrap(err, "generating key")
		}
		addr, err := identity.StoreKey(filepath.Join(dir, keystoreDir), key, demoPassword, true)
		if err != nil {
			return err
		}
		users = append(users, &demoUser{
			alias:      alias,
			dir:        dir,
			identifier: identity.PublicIdentifierFromPublicKey(&key.PublicKey),
			address:    addr,
			ports:      ports[alias],
		})
	}

	for i, u := range users {
		peer := users[1-i]
		if err := writeYAML(filepath.Join(u.dir, idProviderFile), map[string]perun.PeerID{
			peer.alias: {
				Alias:            peer.alias,
				PublicIdentifier: peer.identifier,
				CommAddr:         localAddr(peer.ports.Comm),
				CommType:         "websocket",
			},
		}); err != nil {
			return err
		}
		if err := writeYAML(filepath.Join(u.dir, nodeConfigFile), u.nodeConfig()); err != nil {
			return err
		}
	}
	return nil
}

func (u *demoUser) nodeConfig() nodeConfigYAML {
	return nodeConfigYAML{
		LogLevel:        "info",
		KeystorePath:    filepath.Join(u.dir, keystoreDir),
		SignerAddr:      u.address.Hex(),
		Password:        demoPassword,
		CommAddr:        localAddr(u.ports.Comm),
		IDProviderURL:   filepath.Join(u.dir, idProviderFile),
		StoreType:       "sqlite",
		DatabaseFile:    filepath.Join(u.dir, databaseFile),
		ResponseTimeout: "10s",
		RateLimit:       100,
		RateBurst:       200,
		RPCAddr:         localAddr(u.ports.RPC),
		MetricsAddr:     localAddr(u.ports.Metrics),
		Network:         demoNetwork,
		Apps:            demoApps,
	}
}

func localAddr(port int) string {
	return fmt.Sprintf("127.0.0.1:%d", port)
}

func writeYAML(file string, v interface{}) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encoding %s", filepath.Base(file))
	}
	return errors.Wrapf(os.WriteFile(file, data, fileFileMode), "writing %s", filepath.Base(file))
}

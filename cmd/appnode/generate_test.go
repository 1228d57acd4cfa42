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
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperledger-labs/perun-appchannel"
	"github.com/hyperledger-labs/perun-appchannel/config"
	"github.com/hyperledger-labs/perun-appchannel/idprovider/local"
)

func parseNodeConfig(t *testing.T, file string) perun.NodeConfig {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.DefineFlags(fs)
	v, err := config.NewViper(fs)
	require.NoError(t, err)
	cfg, err := config.Parse(v, file)
	require.NoError(t, err)
	return cfg
}

func Test_GenerateArtifacts(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, generateArtifacts(dir, defaultPorts))

	aliceCfg := parseNodeConfig(t, filepath.Join(dir, aliceAlias, nodeConfigFile))
	bobCfg := parseNodeConfig(t, filepath.Join(dir, bobAlias, nodeConfigFile))

	assert.Equal(t, "127.0.0.1:5751", aliceCfg.CommAddr)
	assert.Equal(t, "127.0.0.1:50001", aliceCfg.RPCAddr)
	assert.Equal(t, "127.0.0.1:9101", aliceCfg.MetricsAddr)
	assert.Equal(t, "sqlite", aliceCfg.StoreType)
	assert.Equal(t, common.HexToAddress(demoAddress(5)), aliceCfg.Network.ProxyFactory)
	assert.Equal(t, common.HexToAddress(demoAddress(0xa1)), aliceCfg.Apps["simpletransfer"])
	assert.Equal(t, common.HexToAddress(demoAddress(0xa2)), aliceCfg.Apps["linkedtransfer"])

	t.Run("keystore", func(t *testing.T) {
		aliceSigner, err := newSigner(aliceCfg)
		require.NoError(t, err)
		bobSigner, err := newSigner(bobCfg)
		require.NoError(t, err)
		assert.NotEqual(t, aliceSigner.Address(), bobSigner.Address())

		ids, err := local.NewIDprovider(aliceCfg.IDProviderURL)
		require.NoError(t, err)
		bob, ok := ids.ReadByAlias(bobAlias)
		require.True(t, ok)
		assert.Equal(t, bobSigner.PublicIdentifier(), bob.PublicIdentifier)
		assert.Equal(t, bobCfg.CommAddr, bob.CommAddr)
		_, ok = ids.ReadByAlias(aliceAlias)
		assert.False(t, ok)
	})

	t.Run("existing_dir", func(t *testing.T) {
		assert.Error(t, generateArtifacts(dir, defaultPorts))
	})
}

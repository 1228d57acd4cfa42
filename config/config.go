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

// Package config parses the configuration of the node from a yaml file,
// with the values overridden by the command line flags when specified.
package config

import (
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/hyperledger-labs/perun-appchannel"
	"github.com/hyperledger-labs/perun-appchannel/channel"
)

// Names of the flags overriding the config file. They match the keys in the
// file.
const (
	LogLevelF        = "loglevel"
	LogFileF         = "logfile"
	KeystorePathF    = "keystorepath"
	SignerAddrF      = "signeraddr"
	PasswordF        = "password"
	PrivateKeyF      = "privatekey"
	CommAddrF        = "commaddr"
	IDProviderURLF   = "idproviderurl"
	StoreTypeF       = "storetype"
	DatabaseFileF    = "databasefile"
	ResponseTimeoutF = "responsetimeout"
	RateLimitF       = "ratelimit"
	RateBurstF       = "rateburst"
	RPCAddrF         = "rpcaddr"
	MetricsAddrF     = "metricsaddr"
)

// Defaults for the values not set in the file or the flags.
const (
	DefaultLogLevel        = "info"
	DefaultStoreType       = "memory"
	DefaultResponseTimeout = 10 * time.Second
	DefaultRPCAddr         = "127.0.0.1:50001"
	DefaultCommAddr        = "127.0.0.1:5751"
)

// Error type is used to define error constants for this package.
type Error string

// Error implements error interface.
func (e Error) Error() string {
	return string(e)
}

// Definition of error constants for this package.
const (
	ErrMissingField   Error = "missing required field"
	ErrInvalidAddress Error = "invalid contract address"
	ErrInvalidValue   Error = "invalid value"
)

// NodeFlags lists the flags bound to the config keys.
var NodeFlags = []string{
	LogLevelF, LogFileF, KeystorePathF, SignerAddrF, PasswordF, PrivateKeyF, CommAddrF, IDProviderURLF,
	StoreTypeF, DatabaseFileF, ResponseTimeoutF, RateLimitF, RateBurstF, RPCAddrF, MetricsAddrF,
}

// fileConfig is the layout of the config file. Contract addresses are
// parsed separately, so that invalid ones are reported by name.
type fileConfig struct {
	LogLevel        string
	LogFile         string
	KeystorePath    string
	SignerAddr      string
	Password        string
	PrivateKey      string
	CommAddr        string
	IDProviderURL   string
	StoreType       string
	DatabaseFile    string
	ResponseTimeout time.Duration
	RateLimit       float64
	RateBurst       int
	RPCAddr         string
	MetricsAddr     string
	Network         map[string]string
	Apps            map[string]string
}

// DefineFlags defines the flags of the node config on fs. All of them
// default to the zero value, so that only flags set explicitly override the
// file.
func DefineFlags(fs *pflag.FlagSet) {
	fs.String(LogLevelF, "", "Log level. Supported levels: debug, info, error")
	fs.String(LogFileF, "", "Log file path. Use empty string for stdout")
	fs.String(KeystorePathF, "", "Directory of the keystore holding the signing key")
	fs.String(SignerAddrF, "", "Address of the signing key in the keystore")
	fs.String(PasswordF, "", "Password of the signing key")
	fs.String(PrivateKeyF, "", "Hex encoded signing key, used instead of the keystore. Only for development")
	fs.String(CommAddrF, "", "Listen address for connections from peers")
	fs.String(IDProviderURLF, "", "Path to the yaml file of known peers")
	fs.String(StoreTypeF, "", "Store for channels: memory or sqlite")
	fs.String(DatabaseFileF, "", "Path to the sqlite database file")
	fs.Duration(ResponseTimeoutF, 0, "Max duration to wait for a response from a peer")
	fs.Float64(RateLimitF, 0, "Messages per second accepted from each peer. 0 disables the limit")
	fs.Int(RateBurstF, 0, "Burst size of the rate limit")
	fs.String(RPCAddrF, "", "Listen address of the json-rpc api")
	fs.String(MetricsAddrF, "", "Listen address of the metrics endpoint. Empty disables it")
}

// NewViper returns a viper instance with the defaults set and the node flags
// of fs bound to it.
func NewViper(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetDefault(LogLevelF, DefaultLogLevel)
	v.SetDefault(StoreTypeF, DefaultStoreType)
	v.SetDefault(ResponseTimeoutF, DefaultResponseTimeout)
	v.SetDefault(RPCAddrF, DefaultRPCAddr)
	v.SetDefault(CommAddrF, DefaultCommAddr)
	for _, name := range NodeFlags {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(name, f); err != nil {
			return nil, errors.Wrapf(err, "binding flag %s", name)
		}
	}
	return v, nil
}

// Parse reads the config file, if not empty, into v and returns the
// validated node config.
func Parse(v *viper.Viper, file string) (perun.NodeConfig, error) {
	if file != "" {
		v.SetConfigFile(filepath.Clean(file))
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return perun.NodeConfig{}, errors.Wrap(err, "reading config file")
		}
	}
	var fc fileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return perun.NodeConfig{}, errors.Wrap(err, "decoding config")
	}
	network, err := parseNetwork(fc.Network)
	if err != nil {
		return perun.NodeConfig{}, err
	}
	apps := make(map[string]common.Address, len(fc.Apps))
	for name, value := range fc.Apps {
		if !common.IsHexAddress(value) {
			return perun.NodeConfig{}, errors.Wrapf(ErrInvalidAddress, "apps.%s: %q", name, value)
		}
		apps[name] = common.HexToAddress(value)
	}
	cfg := perun.NodeConfig{
		LogLevel:        fc.LogLevel,
		LogFile:         fc.LogFile,
		KeystorePath:    fc.KeystorePath,
		SignerAddr:      fc.SignerAddr,
		Password:        fc.Password,
		PrivateKey:      fc.PrivateKey,
		CommAddr:        fc.CommAddr,
		IDProviderURL:   fc.IDProviderURL,
		StoreType:       fc.StoreType,
		DatabaseFile:    fc.DatabaseFile,
		ResponseTimeout: fc.ResponseTimeout,
		RateLimit:       fc.RateLimit,
		RateBurst:       fc.RateBurst,
		RPCAddr:         fc.RPCAddr,
		MetricsAddr:     fc.MetricsAddr,
		Network:         network,
		Apps:            apps,
	}
	return cfg, Validate(cfg)
}

// networkKeys are the keys of the contract addresses in the network
// section, lower cased as viper stores them.
var networkKeys = []string{
	"challengeregistry",
	"conditionaltransactiondelegatetarget",
	"identityapp",
	"minimumviablemultisig",
	"proxyfactory",
	"twopartyfixedoutcomeinterpreter",
	"singleassettwopartycointransferinterpreter",
	"multiassetmultipartycointransferinterpreter",
}

func parseNetwork(raw map[string]string) (channel.NetworkContext, error) {
	addrs := make(map[string]common.Address, len(networkKeys))
	for _, key := range networkKeys {
		value, ok := raw[key]
		if !ok {
			return channel.NetworkContext{}, errors.Wrapf(ErrMissingField, "network.%s", key)
		}
		if !common.IsHexAddress(value) {
			return channel.NetworkContext{}, errors.Wrapf(ErrInvalidAddress, "network.%s: %q", key, value)
		}
		addrs[key] = common.HexToAddress(value)
	}
	return channel.NetworkContext{
		ChallengeRegistry:                           addrs["challengeregistry"],
		ConditionalTransactionDelegateTarget:        addrs["conditionaltransactiondelegatetarget"],
		IdentityApp:                                 addrs["identityapp"],
		MinimumViableMultisig:                       addrs["minimumviablemultisig"],
		ProxyFactory:                                addrs["proxyfactory"],
		TwoPartyFixedOutcomeInterpreter:             addrs["twopartyfixedoutcomeinterpreter"],
		SingleAssetTwoPartyCoinTransferInterpreter:  addrs["singleassettwopartycointransferinterpreter"],
		MultiAssetMultiPartyCoinTransferInterpreter: addrs["multiassetmultipartycointransferinterpreter"],
	}, nil
}

// Validate checks that the config has a signing key, a store, a usable
// response timeout and the addresses to reach peers.
func Validate(cfg perun.NodeConfig) error {
	if cfg.PrivateKey == "" && (cfg.KeystorePath == "" || cfg.SignerAddr == "") {
		return errors.Wrap(ErrMissingField, "privatekey or keystorepath and signeraddr")
	}
	switch cfg.StoreType {
	case "memory":
	case "sqlite":
		if cfg.DatabaseFile == "" {
			return errors.Wrap(ErrMissingField, "databasefile for sqlite store")
		}
	default:
		return errors.Wrapf(ErrInvalidValue, "storetype %q", cfg.StoreType)
	}
	if cfg.ResponseTimeout <= 0 {
		return errors.Wrapf(ErrInvalidValue, "responsetimeout %v", cfg.ResponseTimeout)
	}
	if cfg.RateLimit < 0 || (cfg.RateLimit > 0 && cfg.RateBurst <= 0) {
		return errors.Wrapf(ErrInvalidValue, "ratelimit %v with rateburst %d", cfg.RateLimit, cfg.RateBurst)
	}
	if cfg.CommAddr == "" {
		return errors.Wrap(ErrMissingField, "commaddr")
	}
	if cfg.IDProviderURL == "" {
		return errors.Wrap(ErrMissingField, "idproviderurl")
	}
	return nil
}

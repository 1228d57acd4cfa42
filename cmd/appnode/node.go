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
	"net"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hyperledger-labs/perun-appchannel"
	"github.com/hyperledger-labs/perun-appchannel/api/wsrpc"
	"github.com/hyperledger-labs/perun-appchannel/app"
	"github.com/hyperledger-labs/perun-appchannel/app/linkedtransfer"
	"github.com/hyperledger-labs/perun-appchannel/app/simpletransfer"
	"github.com/hyperledger-labs/perun-appchannel/comm/ws"
	"github.com/hyperledger-labs/perun-appchannel/identity"
	"github.com/hyperledger-labs/perun-appchannel/idprovider/local"
	"github.com/hyperledger-labs/perun-appchannel/lock"
	"github.com/hyperledger-labs/perun-appchannel/log"
	"github.com/hyperledger-labs/perun-appchannel/metrics"
	"github.com/hyperledger-labs/perun-appchannel/session"
	"github.com/hyperledger-labs/perun-appchannel/store"
)

const startTimeout = 30 * time.Second

// builtinApps maps the app names in the config to the built-in app
// definitions.
var builtinApps = map[string]func(common.Address) app.Definition{
	"simpletransfer": simpletransfer.Definition,
	"linkedtransfer": linkedtransfer.Definition,
}

// node bundles the components started for one user.
type node struct {
	log.Logger

	session   *session.Session
	transport *ws.Transport
	rpc       *wsrpc.Server
	metrics   *http.Server
	metricsLn net.Listener
}

// newNode wires up the components of the node as configured and starts
// them. On error, the components started so far are closed.
func newNode(cfg perun.NodeConfig) (_ *node, err error) {
	n := &node{Logger: log.NewLoggerWithField("node", cfg.CommAddr)}
	defer func() {
		if err != nil {
			n.close()
		}
	}()

	signer, err := newSigner(cfg)
	if err != nil {
		return nil, errors.WithMessage(err, "initializing signer")
	}
	ids, err := local.NewIDprovider(cfg.IDProviderURL)
	if err != nil {
		return nil, errors.WithMessage(err, "initializing id provider")
	}
	apps, err := newAppRegistry(cfg.Apps)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	collector, err := metrics.New(reg)
	if err != nil {
		return nil, errors.WithMessage(err, "initializing metrics")
	}

	st, err := store.Open(cfg.StoreType, cfg.DatabaseFile)
	if err != nil {
		return nil, errors.WithMessage(err, "opening store")
	}

	wsCfg := ws.DefaultConfig(cfg.CommAddr)
	wsCfg.RateLimit = cfg.RateLimit
	wsCfg.RateBurst = cfg.RateBurst
	n.transport, err = ws.Listen(signer.PublicIdentifier(), ids, wsCfg)
	if err != nil {
		st.Close() // nolint: errcheck, gosec
		return nil, errors.WithMessage(err, "starting transport")
	}

	sessionCfg := session.Config{
		Network:         cfg.Network,
		ResponseTimeout: cfg.ResponseTimeout,
		Apps:            apps,
		IDReader:        ids,
		Metrics:         collector,
	}
	s, apiErr := session.New(sessionCfg, signer, n.transport, st, lock.NewService())
	if apiErr != nil {
		n.transport.Close() // nolint: errcheck, gosec
		st.Close()          // nolint: errcheck, gosec
		return nil, apiErr
	}
	n.session = s

	ctx, cancel := context.WithTimeout(context.Background(), startTimeout)
	defer cancel()
	if apiErr := s.Start(ctx); apiErr != nil {
		return nil, apiErr
	}

	if n.rpc, err = wsrpc.Serve(s, cfg.RPCAddr); err != nil {
		return nil, errors.WithMessage(err, "starting json-rpc server")
	}

	if cfg.MetricsAddr != "" {
		if err = n.serveMetrics(cfg.MetricsAddr, reg); err != nil {
			return nil, err
		}
	}
	n.WithField("identifier", signer.PublicIdentifier()).Info("Node started")
	return n, nil
}

func newSigner(cfg perun.NodeConfig) (*identity.Signer, error) {
	if cfg.PrivateKey != "" {
		return identity.NewSignerFromHex(cfg.PrivateKey)
	}
	return identity.NewSignerFromKeystore(cfg.KeystorePath, cfg.SignerAddr, cfg.Password)
}

func newAppRegistry(apps map[string]common.Address) (*app.Registry, error) {
	r := app.NewRegistry()
	for name, appDefinition := range apps {
		definition, ok := builtinApps[name]
		if !ok {
			return nil, errors.Errorf("unknown app %q in config", name)
		}
		if err := r.Register(definition(appDefinition)); err != nil {
			return nil, errors.WithMessagef(err, "registering app %s", name)
		}
	}
	return r, nil
}

func (n *node) serveMetrics(addr string, g prometheus.Gatherer) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrap(err, "starting metrics listener")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(g))
	n.metricsLn = ln
	n.metrics = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := n.metrics.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			n.WithError(err).Error("Metrics server shutdown with error")
		}
	}()
	return nil
}

// rpcURL returns the url of the json-rpc endpoint.
func (n *node) rpcURL() string {
	return n.rpc.URL()
}

// metricsURL returns the url of the metrics endpoint, empty if disabled.
func (n *node) metricsURL() string {
	if n.metricsLn == nil {
		return ""
	}
	return "http://" + n.metricsLn.Addr().String() + "/metrics"
}

// close stops the api servers before the session, so that no request
// reaches a closed session. The session closes the transport and the store.
func (n *node) close() {
	if n.rpc != nil {
		if err := n.rpc.Close(); err != nil {
			n.WithError(err).Error("Closing json-rpc server")
		}
	}
	if n.metrics != nil {
		if err := n.metrics.Close(); err != nil {
			n.WithError(err).Error("Closing metrics server")
		}
	}
	if n.session != nil {
		if apiErr := n.session.Close(); apiErr != nil {
			n.WithError(apiErr).Error("Closing session")
		}
	}
}

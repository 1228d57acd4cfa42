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

// Package ws implements the transport between the nodes of two users over
// websocket connections.
//
// Each node listens for connections on its comm address and dials the comm
// address of a peer, as found in the ID provider, when it first sends to
// that peer. Envelopes are written only to dialed connections, accepted
// connections are only read from.
package ws

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/hyperledger-labs/perun-appchannel"
	"github.com/hyperledger-labs/perun-appchannel/log"
)

// Endpoint is the path on which the transport accepts connections.
const Endpoint = "/perun"

const inboxSize = 64

// Error type is used to define error constants for this package.
type Error string

// Error implements error interface.
func (e Error) Error() string {
	return string(e)
}

// Definition of error constants for this package.
const (
	ErrUnknownPeer Error = "peer not found in id provider"
	ErrClosed      Error = "transport closed"
)

// Config of the transport.
type Config struct {
	ListenAddr string

	// RateLimit is the number of envelopes per second accepted from each
	// sender, with bursts up to RateBurst. Zero disables the limit.
	RateLimit float64
	RateBurst int

	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	MaxMessageSize int64
}

// DefaultConfig returns the config with the timeouts and limits used by the node.
func DefaultConfig(listenAddr string) Config {
	return Config{
		ListenAddr:     listenAddr,
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     ((60 * time.Second) * 9) / 10, // ping period = (pongWait * 9)/10
		MaxMessageSize: 1 << 20,
	}
}

// Transport implements perun.Messenger over websocket connections.
type Transport struct {
	log.Logger

	identifier string
	ids        perun.IDReader
	cfg        Config
	srv        *http.Server
	addr       string
	dialer     *websocket.Dialer

	connsMtx sync.Mutex
	conns    map[string]*conn

	limitersMtx sync.Mutex
	limiters    map[string]*rate.Limiter

	inboxMtx sync.RWMutex
	closed   bool
	once     sync.Once
	done     chan struct{}
	inbox    chan perun.Envelope
}

type conn struct {
	ws       *websocket.Conn
	writeMtx sync.Mutex
}

// Listen starts accepting connections on cfg.ListenAddr for the user with the
// public identifier. Peers are resolved through ids.
func Listen(identifier string, ids perun.IDReader, cfg Config) (*Transport, error) {
	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return nil, errors.Wrap(err, "starting listener")
	}
	t := &Transport{
		Logger:     log.NewLoggerWithField("transport", ln.Addr().String()),
		identifier: identifier,
		ids:        ids,
		cfg:        cfg,
		addr:       ln.Addr().String(),
		dialer:     &websocket.Dialer{HandshakeTimeout: cfg.WriteWait},
		conns:      make(map[string]*conn),
		limiters:   make(map[string]*rate.Limiter),
		done:       make(chan struct{}),
		inbox:      make(chan perun.Envelope, inboxSize),
	}
	mux := http.NewServeMux()
	mux.HandleFunc(Endpoint, t.handleConn)
	t.srv = &http.Server{Handler: mux, ReadHeaderTimeout: cfg.WriteWait}

	go func() {
		err := t.srv.Serve(ln)
		// ErrServerClosed is returned when the server is shutdown by user intentionally.
		if errors.Is(err, http.ErrServerClosed) {
			t.Info("Listener shutdown successfully")
		} else {
			t.WithError(err).Error("Listener shutdown with error")
		}
	}()
	return t, nil
}

// Addr returns the address the transport listens on.
func (t *Transport) Addr() string { return t.addr }

func (t *Transport) handleConn(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Errors returned by Upgrade are due to issues in the incoming request.
		t.WithError(err).Error("Error in incoming request format")
		return
	}
	go t.readLoop(&conn{ws: ws}, "")
}

// Send writes the envelope to the connection with the peer in env.To,
// dialing the peer if there is none.
func (t *Transport) Send(ctx context.Context, env perun.Envelope) error {
	env.From = t.identifier
	data, err := json.Marshal(env)
	if err != nil {
		return errors.WithStack(err)
	}
	c, err := t.conn(ctx, env.To)
	if err != nil {
		return err
	}
	if err := c.write(websocket.TextMessage, data, t.cfg.WriteWait); err != nil {
		t.dropConn(env.To, c)
		return errors.Wrapf(err, "writing to %s", env.To)
	}
	return nil
}

func (t *Transport) conn(ctx context.Context, peer string) (*conn, error) {
	t.connsMtx.Lock()
	defer t.connsMtx.Unlock()
	select {
	case <-t.done:
		return nil, ErrClosed
	default:
	}
	if c, ok := t.conns[peer]; ok {
		return c, nil
	}

	p, ok := t.ids.ReadByIdentifier(peer)
	if !ok {
		return nil, errors.Wrap(ErrUnknownPeer, peer)
	}
	peerURL := url.URL{Scheme: "ws", Host: p.CommAddr, Path: Endpoint}
	ws, resp, err := t.dialer.DialContext(ctx, peerURL.String(), nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dialing %s at %s", p.Alias, p.CommAddr)
	}
	resp.Body.Close() // nolint: errcheck, gosec

	c := &conn{ws: ws}
	t.conns[peer] = c
	go t.readLoop(c, peer)
	go t.pingLoop(c, peer)
	return c, nil
}

func (t *Transport) dropConn(peer string, c *conn) {
	t.connsMtx.Lock()
	if t.conns[peer] == c {
		delete(t.conns, peer)
	}
	t.connsMtx.Unlock()
	c.ws.Close() // nolint: errcheck, gosec
}

// readLoop delivers the envelopes read from the connection until it fails.
// dialed is the peer for connections opened by this transport.
func (t *Transport) readLoop(c *conn, dialed string) {
	defer func() {
		if dialed != "" {
			t.dropConn(dialed, c)
		} else {
			c.ws.Close() // nolint: errcheck, gosec
		}
		t.Debug("Exiting read loop")
	}()

	c.ws.SetReadLimit(t.cfg.MaxMessageSize)
	extend := func(string) error { return c.ws.SetReadDeadline(time.Now().Add(t.cfg.PongWait)) }
	if err := extend(""); err != nil {
		t.WithError(err).Error("Error setting read deadline")
		return
	}
	c.ws.SetPongHandler(extend)
	c.ws.SetPingHandler(func(data string) error {
		if err := extend(data); err != nil {
			return err
		}
		return c.ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(t.cfg.WriteWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				t.WithError(err).Error("Connection closed with unexpected error")
			} else {
				t.WithError(err).Debug("Connection closed")
			}
			return
		}
		if err := extend(""); err != nil {
			return
		}
		var env perun.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.WithError(err).Error("Dropping malformed envelope")
			continue
		}
		if env.To != t.identifier {
			t.WithField("to", env.To).Error("Dropping envelope addressed to another user")
			continue
		}
		if !t.allow(env.From) {
			t.WithField("from", env.From).Warn("Dropping envelope, rate limit exceeded")
			continue
		}
		if !t.deliver(env) {
			return
		}
	}
}

func (t *Transport) pingLoop(c *conn, peer string) {
	ticker := time.NewTicker(t.cfg.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil, t.cfg.WriteWait); err != nil {
				t.WithError(err).Debug("Error sending ping")
				t.dropConn(peer, c)
				return
			}
		case <-t.done:
			return
		}
	}
}

func (t *Transport) allow(sender string) bool {
	if t.cfg.RateLimit <= 0 {
		return true
	}
	t.limitersMtx.Lock()
	defer t.limitersMtx.Unlock()
	l, ok := t.limiters[sender]
	if !ok {
		burst := t.cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		l = rate.NewLimiter(rate.Limit(t.cfg.RateLimit), burst)
		t.limiters[sender] = l
	}
	return l.Allow()
}

func (t *Transport) deliver(env perun.Envelope) bool {
	t.inboxMtx.RLock()
	defer t.inboxMtx.RUnlock()
	if t.closed {
		return false
	}
	select {
	case t.inbox <- env:
		return true
	case <-t.done:
		return false
	}
}

// Inbox returns the envelopes received from all peers. It is closed when the
// transport is closed.
func (t *Transport) Inbox() <-chan perun.Envelope {
	return t.inbox
}

// Close stops the listener and closes all connections.
func (t *Transport) Close() error {
	var err error
	t.once.Do(func() {
		close(t.done)
		err = t.srv.Close()

		t.connsMtx.Lock()
		for peer, c := range t.conns {
			c.ws.Close() // nolint: errcheck, gosec
			delete(t.conns, peer)
		}
		t.connsMtx.Unlock()

		t.inboxMtx.Lock()
		t.closed = true
		close(t.inbox)
		t.inboxMtx.Unlock()
	})
	return errors.WithStack(err)
}

func (c *conn) write(messageType int, data []byte, writeWait time.Duration) error {
	c.writeMtx.Lock()
	defer c.writeMtx.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, data)
}

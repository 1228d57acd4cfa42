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

package wsrpc

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/hyperledger-labs/perun-appchannel"
	"github.com/hyperledger-labs/perun-appchannel/log"
	"github.com/hyperledger-labs/perun-appchannel/session"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 1 << 20
)

// SessionAPI is the part of a session served by the server.
type SessionAPI interface {
	Call(ctx context.Context, method string, params json.RawMessage) (interface{}, perun.APIError)
	On(name perun.EventName, handler func(session.Event)) *session.Subscription
	Off(*session.Subscription)
}

// Server serves a session to the connected clients.
type Server struct {
	log.Logger

	api      SessionAPI
	srv      *http.Server
	addr     string
	upgrader websocket.Upgrader

	mtx    sync.Mutex
	conns  map[*serverConn]struct{}
	closed bool
}

// serverConn is a connection of one client. Requests are served
// concurrently, subscriptions end with the connection.
type serverConn struct {
	log.Logger
	api SessionAPI

	ws       *websocket.Conn
	writeMtx sync.Mutex

	subsMtx sync.Mutex
	subs    map[string]*session.Subscription

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Serve starts serving the session on listenAddr.
func Serve(api SessionAPI, listenAddr string) (*Server, error) {
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, errors.Wrap(err, "starting listener")
	}
	s := &Server{
		Logger: log.NewLoggerWithField("rpc-server", ln.Addr().String()),
		api:    api,
		addr:   ln.Addr().String(),
		conns:  make(map[*serverConn]struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc(Endpoint, s.handleConn)
	s.srv = &http.Server{Handler: mux, ReadHeaderTimeout: writeWait}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.WithError(err).Error("Serving rpc")
		}
	}()
	s.Infof("Serving session api at ws://%s%s", s.addr, Endpoint)
	return s, nil
}

// Addr returns the address the server listens on.
func (s *Server) Addr() string {
	return s.addr
}

// URL returns the url clients dial.
func (s *Server) URL() string {
	return "ws://" + s.addr + Endpoint
}

// Close stops the server and closes all connections.
func (s *Server) Close() error {
	s.mtx.Lock()
	if s.closed {
		s.mtx.Unlock()
		return nil
	}
	s.closed = true
	conns := make([]*serverConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mtx.Unlock()

	err := s.srv.Close()
	for _, c := range conns {
		c.ws.Close() // nolint: errcheck
	}
	return errors.Wrap(err, "closing rpc server")
}

func (s *Server) handleConn(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.WithError(err).Warn("Upgrading connection")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &serverConn{
		Logger: log.NewDerivedLoggerWithField(s.Logger, "client", r.RemoteAddr),
		api:    s.api,
		ws:     ws,
		subs:   make(map[string]*session.Subscription),
		ctx:    ctx,
		cancel: cancel,
	}
	s.mtx.Lock()
	if s.closed {
		s.mtx.Unlock()
		cancel()
		ws.Close() // nolint: errcheck
		return
	}
	s.conns[c] = struct{}{}
	s.mtx.Unlock()

	c.serve()

	s.mtx.Lock()
	delete(s.conns, c)
	s.mtx.Unlock()
}

// serve reads requests until the connection fails.
func (c *serverConn) serve() {
	defer c.shutdown()
	c.ws.SetReadLimit(maxMessageSize)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.WithError(err).Debug("Reading request")
			}
			return
		}
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			c.reply(nil, nil, &RPCError{Code: CodeParseError, Message: err.Error()})
			continue
		}
		if req.JSONRPC != Version || req.Method == "" {
			c.reply(req.ID, nil, &RPCError{Code: CodeInvalidRequest, Message: "invalid request"})
			continue
		}

		switch req.Method {
		case MethodSubscribe:
			c.subscribe(req)
		case MethodUnsubscribe:
			c.unsubscribe(req)
		default:
			c.wg.Add(1)
			go c.call(req)
		}
	}
}

func (c *serverConn) call(req Request) {
	defer c.wg.Done()
	result, apiErr := c.api.Call(c.ctx, req.Method, req.Params)
	if apiErr != nil {
		c.reply(req.ID, nil, fromAPIError(apiErr))
		return
	}
	c.reply(req.ID, result, nil)
}

func (c *serverConn) subscribe(req Request) {
	var params SubscribeParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Subscription == "" || params.Event == "" {
		c.reply(req.ID, nil, fromAPIError(perun.NewAPIErrInvalidArgument(
			errors.New("subscription and event are required"), "params", string(req.Params))))
		return
	}
	c.subsMtx.Lock()
	defer c.subsMtx.Unlock()
	if _, ok := c.subs[params.Subscription]; ok {
		c.reply(req.ID, nil, fromAPIError(perun.NewAPIErrResourceExists("subscription", params.Subscription)))
		return
	}
	id := params.Subscription
	c.subs[id] = c.api.On(params.Event, func(e session.Event) { c.notify(id, e) })
	c.reply(req.ID, struct{}{}, nil)
}

func (c *serverConn) unsubscribe(req Request) {
	var params UnsubscribeParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		c.reply(req.ID, nil, fromAPIError(perun.NewAPIErrInvalidArgument(err, "params", string(req.Params))))
		return
	}
	c.subsMtx.Lock()
	sub, ok := c.subs[params.Subscription]
	delete(c.subs, params.Subscription)
	c.subsMtx.Unlock()
	if !ok {
		c.reply(req.ID, nil, fromAPIError(perun.NewAPIErrResourceNotFound("subscription", params.Subscription)))
		return
	}
	c.api.Off(sub)
	c.reply(req.ID, struct{}{}, nil)
}

func (c *serverConn) notify(subscription string, e session.Event) {
	data, err := json.Marshal(e.Data)
	if err != nil {
		c.WithError(err).Error("Encoding event")
		return
	}
	params, err := json.Marshal(EventParams{
		Subscription: subscription,
		Event:        Event{Name: e.Name, From: e.From, Data: data},
	})
	if err != nil {
		c.WithError(err).Error("Encoding event")
		return
	}
	c.write(Response{JSONRPC: Version, Method: MethodEvent, Params: params})
}

// reply answers the request. Requests without id are not answered, unless
// the request could not be parsed.
func (c *serverConn) reply(id *uint64, result interface{}, rpcErr *RPCError) {
	if id == nil && rpcErr == nil {
		return
	}
	resp := Response{JSONRPC: Version, ID: id, Error: rpcErr}
	if rpcErr == nil {
		raw, err := json.Marshal(result)
		if err != nil {
			apiErr := perun.NewAPIErrUnknownInternal(errors.Wrap(err, "encoding result"))
			resp.Error = fromAPIError(apiErr)
		} else {
			resp.Result = raw
		}
	}
	c.write(resp)
}

func (c *serverConn) write(resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		c.WithError(err).Error("Encoding response")
		return
	}
	c.writeMtx.Lock()
	defer c.writeMtx.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait)) // nolint: errcheck
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		c.WithError(err).Debug("Writing response")
	}
}

// shutdown removes the subscriptions and waits for the requests in
// progress.
func (c *serverConn) shutdown() {
	c.subsMtx.Lock()
	for id, sub := range c.subs {
		c.api.Off(sub)
		delete(c.subs, id)
	}
	c.subsMtx.Unlock()
	c.cancel()
	c.wg.Wait()
	c.ws.Close() // nolint: errcheck
}

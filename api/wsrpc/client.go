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
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/hyperledger-labs/perun-appchannel"
	"github.com/hyperledger-labs/perun-appchannel/log"
)

const notificationsSize = 64

// Client calls the methods of a session served by a Server.
type Client struct {
	log.Logger

	ws       *websocket.Conn
	writeMtx sync.Mutex
	nextID   atomic.Uint64

	mtx      sync.Mutex
	pending  map[uint64]chan Response
	handlers map[string]func(Event)
	closed   bool

	notifications chan EventParams
	done          chan struct{}
	once          sync.Once
}

// Dial connects to the server at url, as returned by Server.URL.
func Dial(ctx context.Context, url string) (*Client, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "dialing rpc server")
	}
	c := &Client{
		Logger:        log.NewLoggerWithField("rpc-client", url),
		ws:            ws,
		pending:       make(map[uint64]chan Response),
		handlers:      make(map[string]func(Event)),
		notifications: make(chan EventParams, notificationsSize),
		done:          make(chan struct{}),
	}
	go c.readLoop()
	go c.dispatch()
	return c, nil
}

// Call calls the method and decodes its result into result, which may be
// nil. Errors of the session are returned with their code and additional
// info, failures of the connection as ErrUnknownInternal.
func (c *Client) Call(ctx context.Context, method string, params, result interface{}) perun.APIError {
	raw, err := json.Marshal(params)
	if err != nil {
		return perun.NewAPIErrInvalidArgument(errors.Wrap(err, "encoding params"), "params", method)
	}
	id := c.nextID.Add(1)
	reply := make(chan Response, 1)
	c.mtx.Lock()
	if c.closed {
		c.mtx.Unlock()
		return perun.NewAPIErrUnknownInternal(ErrClosed)
	}
	c.pending[id] = reply
	c.mtx.Unlock()
	defer func() {
		c.mtx.Lock()
		delete(c.pending, id)
		c.mtx.Unlock()
	}()

	if err := c.write(Request{JSONRPC: Version, ID: &id, Method: method, Params: raw}); err != nil {
		return perun.NewAPIErrUnknownInternal(err)
	}
	var resp Response
	select {
	case resp = <-reply:
	case <-c.done:
		return perun.NewAPIErrUnknownInternal(ErrClosed)
	case <-ctx.Done():
		return perun.NewAPIErrUnknownInternal(errors.Wrap(ctx.Err(), method))
	}
	if resp.Error != nil {
		return toAPIError(resp.Error)
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Result, result); err != nil {
		return perun.NewAPIErrUnknownInternal(errors.Wrap(err, "decoding result"))
	}
	return nil
}

// Subscribe calls the handler for every event with the name until the
// subscription is removed. Handlers of a client are called sequentially.
func (c *Client) Subscribe(ctx context.Context, name perun.EventName, handler func(Event)) (string, perun.APIError) {
	id := uuid.NewString()
	c.mtx.Lock()
	c.handlers[id] = handler
	c.mtx.Unlock()
	if apiErr := c.Call(ctx, MethodSubscribe, SubscribeParams{Subscription: id, Event: name}, nil); apiErr != nil {
		c.removeHandler(id)
		return "", apiErr
	}
	return id, nil
}

// Unsubscribe removes the subscription.
func (c *Client) Unsubscribe(ctx context.Context, subscription string) perun.APIError {
	c.removeHandler(subscription)
	return c.Call(ctx, MethodUnsubscribe, UnsubscribeParams{Subscription: subscription}, nil)
}

func (c *Client) removeHandler(id string) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	delete(c.handlers, id)
}

// Close closes the connection. Calls in progress fail with ErrClosed.
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		c.writeMtx.Lock()
		c.ws.SetWriteDeadline(time.Now().Add(writeWait)) // nolint: errcheck
		_ = c.ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMtx.Unlock()
		err = c.ws.Close()
	})
	return errors.Wrap(err, "closing rpc client")
}

func (c *Client) write(req Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return errors.Wrap(err, "encoding request")
	}
	c.writeMtx.Lock()
	defer c.writeMtx.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait)) // nolint: errcheck
	return errors.Wrap(c.ws.WriteMessage(websocket.TextMessage, data), "writing request")
}

func (c *Client) readLoop() {
	defer func() {
		c.mtx.Lock()
		c.closed = true
		c.mtx.Unlock()
		close(c.done)
		close(c.notifications)
		c.ws.Close() // nolint: errcheck
	}()
	c.ws.SetReadLimit(maxMessageSize)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			c.WithError(err).Warn("Dropping malformed response")
			continue
		}
		if resp.ID == nil {
			c.handleNotification(resp)
			continue
		}
		c.mtx.Lock()
		reply, ok := c.pending[*resp.ID]
		c.mtx.Unlock()
		if ok {
			reply <- resp
		}
	}
}

func (c *Client) handleNotification(resp Response) {
	if resp.Method != MethodEvent {
		if resp.Error != nil {
			c.WithError(resp.Error).Warn("Received error without request id")
		}
		return
	}
	var params EventParams
	if err := json.Unmarshal(resp.Params, &params); err != nil {
		c.WithError(err).Warn("Dropping malformed event")
		return
	}
	c.notifications <- params
}

// dispatch calls the handlers of the events in order.
func (c *Client) dispatch() {
	for n := range c.notifications {
		c.mtx.Lock()
		handler, ok := c.handlers[n.Subscription]
		c.mtx.Unlock()
		if ok {
			handler(n.Event)
		}
	}
}

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

package wsrpc_test

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/phayes/freeport"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hyperledger-labs/perun-appchannel"
	"github.com/hyperledger-labs/perun-appchannel/api/wsrpc"
	"github.com/hyperledger-labs/perun-appchannel/session"
)

// sessionAPI is a mock of wsrpc.SessionAPI. The mock is not embedded, as
// its On method would collide with SessionAPI.On.
type sessionAPI struct {
	calls mock.Mock
}

func (m *sessionAPI) Call(ctx context.Context, method string, params json.RawMessage) (
	interface{}, perun.APIError) {
	args := m.calls.Called(ctx, method, params)
	var apiErr perun.APIError
	if a := args.Get(1); a != nil {
		apiErr = a.(perun.APIError)
	}
	return args.Get(0), apiErr
}

func (m *sessionAPI) On(name perun.EventName, handler func(session.Event)) *session.Subscription {
	return m.calls.Called(name, handler).Get(0).(*session.Subscription)
}

func (m *sessionAPI) Off(sub *session.Subscription) {
	m.calls.Called(sub)
}

func newServer(t *testing.T, api wsrpc.SessionAPI) (*wsrpc.Server, *wsrpc.Client) {
	t.Helper()
	port, err := freeport.GetFreePort()
	require.NoError(t, err)
	srv, err := wsrpc.Serve(api, "127.0.0.1:"+strconv.Itoa(port))
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() }) // nolint: errcheck

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	client, err := wsrpc.Dial(ctx, srv.URL())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() }) // nolint: errcheck
	return srv, client
}

func Test_Client_Call(t *testing.T) {
	ctx := context.Background()
	api := &sessionAPI{}
	_, client := newServer(t, api)

	t.Run("happy", func(t *testing.T) {
		params := json.RawMessage(`{"multisigAddress":"0x0000000000000000000000000000000000000001"}`)
		api.calls.On("Call", mock.Anything, session.MethodGetAppInstances, params).
			Return(map[string]string{"answer": "42"}, nil).Once()
		var result map[string]string
		require.Nil(t, client.Call(ctx, session.MethodGetAppInstances, params, &result))
		assert.Equal(t, "42", result["answer"])
	})
	t.Run("api_error", func(t *testing.T) {
		want := perun.NewAPIErrResourceNotFound(session.ResTypeChannel, "0x01")
		api.calls.On("Call", mock.Anything, session.MethodGetStateChannel, mock.Anything).
			Return(nil, want).Once()
		apiErr := client.Call(ctx, session.MethodGetStateChannel, struct{}{}, nil)
		require.NotNil(t, apiErr)
		assert.Equal(t, perun.ErrResourceNotFound, apiErr.Code())
		assert.Equal(t, perun.ClientError, apiErr.Category())
		assert.Equal(t, want.Message(), apiErr.Message())
		assert.Equal(t, want.AddInfo(), apiErr.AddInfo())
	})
	t.Run("ctx_done", func(t *testing.T) {
		api.calls.On("Call", mock.Anything, session.MethodSync, mock.Anything).
			Run(func(mock.Arguments) { time.Sleep(200 * time.Millisecond) }).
			Return(struct{}{}, nil).Once()
		shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		apiErr := client.Call(shortCtx, session.MethodSync, struct{}{}, nil)
		require.NotNil(t, apiErr)
		assert.Equal(t, perun.ErrUnknownInternal, apiErr.Code())
	})
}

func Test_Client_Subscribe(t *testing.T) {
	ctx := context.Background()
	api := &sessionAPI{}
	_, client := newServer(t, api)

	sub := &session.Subscription{}
	handlers := make(chan func(session.Event), 1)
	api.calls.On("On", perun.EventInstall, mock.Anything).
		Run(func(args mock.Arguments) { handlers <- args.Get(1).(func(session.Event)) }).
		Return(sub).Once()
	api.calls.On("Off", sub).Return().Once()

	events := make(chan wsrpc.Event, 1)
	id, apiErr := client.Subscribe(ctx, perun.EventInstall, func(e wsrpc.Event) { events <- e })
	require.Nil(t, apiErr)

	handler := <-handlers
	handler(session.Event{Name: perun.EventInstall, From: "alice", Data: map[string]int{"seq": 1}})
	select {
	case e := <-events:
		assert.Equal(t, perun.EventInstall, e.Name)
		assert.Equal(t, "alice", e.From)
		assert.JSONEq(t, `{"seq":1}`, string(e.Data))
	case <-time.After(time.Second):
		t.Fatal("no event")
	}

	require.Nil(t, client.Unsubscribe(ctx, id))
	api.calls.AssertExpectations(t)

	t.Run("err_unknown_subscription", func(t *testing.T) {
		apiErr := client.Unsubscribe(ctx, id)
		require.NotNil(t, apiErr)
		assert.Equal(t, perun.ErrResourceNotFound, apiErr.Code())
	})
	t.Run("err_missing_event", func(t *testing.T) {
		_, apiErr := client.Subscribe(ctx, "", func(wsrpc.Event) {})
		require.NotNil(t, apiErr)
		assert.Equal(t, perun.ErrInvalidArgument, apiErr.Code())
	})
}

func Test_Server_InvalidRequests(t *testing.T) {
	srv, _ := newServer(t, &sessionAPI{})
	ws, _, err := websocket.DefaultDialer.Dial(srv.URL(), nil)
	require.NoError(t, err)
	defer ws.Close() // nolint: errcheck

	tests := []struct {
		name    string
		request string
		code    int
	}{
		{"parse_error", `{"jsonrpc":`, wsrpc.CodeParseError},
		{"wrong_version", `{"jsonrpc":"1.0","id":1,"method":"chan_sync"}`, wsrpc.CodeInvalidRequest},
		{"no_method", `{"jsonrpc":"2.0","id":2}`, wsrpc.CodeInvalidRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(tc.request)))
			var resp wsrpc.Response
			require.NoError(t, ws.ReadJSON(&resp))
			require.NotNil(t, resp.Error)
			assert.Equal(t, tc.code, resp.Error.Code)
		})
	}
}

func Test_Client_Closed(t *testing.T) {
	srv, client := newServer(t, &sessionAPI{})
	require.NoError(t, srv.Close())

	assert.Eventually(t, func() bool {
		apiErr := client.Call(context.Background(), session.MethodSync, struct{}{}, nil)
		return apiErr != nil && errors.Is(apiErr, wsrpc.ErrClosed)
	}, time.Second, 10*time.Millisecond)
}

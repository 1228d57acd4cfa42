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

// Package wsrpc serves the methods of a session as JSON-RPC 2.0 over a
// websocket connection and provides the matching client.
//
// Besides the methods of the session, the server provides chan_subscribe
// and chan_unsubscribe. Events of a subscription are pushed to the client
// as chan_event notifications. The client chooses the subscription id, so
// that it can route notifications arriving before the response.
package wsrpc

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"

	"github.com/hyperledger-labs/perun-appchannel"
)

// Endpoint is the path on which the server accepts connections.
const Endpoint = "/rpc"

// Version of the JSON-RPC protocol.
const Version = "2.0"

// Methods handled by the server itself.
const (
	MethodSubscribe   = "chan_subscribe"
	MethodUnsubscribe = "chan_unsubscribe"
	MethodEvent       = "chan_event"
)

// Codes of the errors that occur before a request reaches the session.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
)

// Error type is used to define error constants for this package.
type Error string

// Error implements error interface.
func (e Error) Error() string {
	return string(e)
}

// Definition of error constants for this package.
const (
	ErrClosed              Error = "connection closed"
	ErrSubscriptionExists  Error = "subscription exists"
	ErrUnknownSubscription Error = "unknown subscription"
)

type (
	// Request is a JSON-RPC request. Requests without an id are not
	// answered.
	Request struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      *uint64         `json:"id,omitempty"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params,omitempty"`
	}

	// Response is a JSON-RPC response or, if ID is nil and Method is set, a
	// notification.
	Response struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      *uint64         `json:"id,omitempty"`
		Method  string          `json:"method,omitempty"`
		Params  json.RawMessage `json:"params,omitempty"`
		Result  json.RawMessage `json:"result,omitempty"`
		Error   *RPCError       `json:"error,omitempty"`
	}

	// RPCError is the error object of a response. Errors of the session
	// carry the error code of the APIError and its category and additional
	// info in Data.
	RPCError struct {
		Code    int        `json:"code"`
		Message string     `json:"message"`
		Data    *ErrorData `json:"data,omitempty"`
	}

	// ErrorData holds the fields of an APIError not covered by RPCError.
	ErrorData struct {
		Category perun.ErrorCategory `json:"category"`
		AddInfo  json.RawMessage     `json:"addInfo,omitempty"`
	}

	// SubscribeParams of chan_subscribe.
	SubscribeParams struct {
		Subscription string          `json:"subscription"`
		Event        perun.EventName `json:"event"`
	}

	// UnsubscribeParams of chan_unsubscribe.
	UnsubscribeParams struct {
		Subscription string `json:"subscription"`
	}

	// EventParams of a chan_event notification.
	EventParams struct {
		Subscription string `json:"subscription"`
		Event        Event  `json:"event"`
	}

	// Event as it is received by the client.
	Event struct {
		Name perun.EventName `json:"type"`
		From string          `json:"from"`
		Data json.RawMessage `json:"data"`
	}
)

// Error implements error interface.
func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// fromAPIError converts the error of the session to its wire form.
func fromAPIError(apiErr perun.APIError) *RPCError {
	rpcErr := &RPCError{
		Code:    int(apiErr.Code()),
		Message: apiErr.Message(),
		Data:    &ErrorData{Category: apiErr.Category()},
	}
	if info := apiErr.AddInfo(); info != nil {
		if raw, err := json.Marshal(info); err == nil {
			rpcErr.Data.AddInfo = raw
		}
	}
	return rpcErr
}

// toAPIError converts the wire form back to an APIError. The additional
// info is decoded into the type defined for the error code.
func toAPIError(rpcErr *RPCError) perun.APIError {
	if rpcErr.Data == nil {
		return perun.NewAPIErr(perun.ClientError, perun.ErrInvalidArgument, rpcErr, nil)
	}
	code := perun.ErrorCode(rpcErr.Code)
	return perun.NewAPIErr(rpcErr.Data.Category, code, errors.New(rpcErr.Message),
		addInfoOf(code, rpcErr.Data.AddInfo))
}

func addInfoOf(code perun.ErrorCode, raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	var info interface{}
	switch code {
	case perun.ErrPeerRequestTimedOut:
		info = &perun.ErrInfoPeerRequestTimedOut{}
	case perun.ErrPeerRejected:
		info = &perun.ErrInfoPeerRejected{}
	case perun.ErrStateDiverged:
		info = &perun.ErrInfoStateDiverged{}
	case perun.ErrResourceNotFound:
		info = &perun.ErrInfoResourceNotFound{}
	case perun.ErrResourceExists:
		info = &perun.ErrInfoResourceExists{}
	case perun.ErrInvalidArgument:
		info = &perun.ErrInfoInvalidArgument{}
	case perun.ErrInvalidConfig:
		info = &perun.ErrInfoInvalidConfig{}
	case perun.ErrProtocolAborted:
		info = &perun.ErrInfoProtocolAborted{}
	default:
		return raw
	}
	if err := json.Unmarshal(raw, info); err != nil {
		return raw
	}
	return deref(info)
}

func deref(info interface{}) interface{} {
	switch v := info.(type) {
	case *perun.ErrInfoPeerRequestTimedOut:
		return *v
	case *perun.ErrInfoPeerRejected:
		return *v
	case *perun.ErrInfoStateDiverged:
		return *v
	case *perun.ErrInfoResourceNotFound:
		return *v
	case *perun.ErrInfoResourceExists:
		return *v
	case *perun.ErrInfoInvalidArgument:
		return *v
	case *perun.ErrInfoInvalidConfig:
		return *v
	case *perun.ErrInfoProtocolAborted:
		return *v
	}
	return info
}

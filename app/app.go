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

// Package app defines the interface to the logic of the apps installed in
// channels and a registry of the apps a node can run.
//
// App logic works on abi encoded states and actions only. The helpers in
// this package convert from and to the json form stored in app instances.
package app

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/hyperledger-labs/perun-appchannel/abiencoding"
	"github.com/hyperledger-labs/perun-appchannel/channel"
)

// Error type is used to define error constants for this package.
type Error string

// Error implements error interface.
func (e Error) Error() string {
	return string(e)
}

// Definition of error constants for this package.
const (
	ErrUnknownApp       Error = "app definition not registered"
	ErrAppRegistered    Error = "app definition already registered"
	ErrActionNotAllowed Error = "action not allowed"
)

// Logic computes state transitions and outcomes of an app.
type Logic interface {
	// ApplyAction returns the state after applying the action.
	ApplyAction(encodedState, encodedAction []byte) ([]byte, error)
	// ComputeOutcome returns the outcome of the state, encoded as expected
	// by the interpreter of the app's outcome type.
	ComputeOutcome(encodedState []byte) ([]byte, error)
}

// Definition describes an app the node can run.
type Definition struct {
	Name          string
	AppDefinition common.Address
	Encodings     channel.AbiEncodings
	OutcomeType   channel.OutcomeType
	Logic         Logic
}

// Registry holds the app definitions known to a node, keyed by the address
// of the app definition contract. It is safe for concurrent use.
type Registry struct {
	mutex sync.RWMutex
	apps  map[common.Address]Definition
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{apps: make(map[common.Address]Definition)}
}

// Register adds the definition. An app definition can be registered once.
func (r *Registry) Register(d Definition) error {
	if d.Logic == nil {
		return errors.New("app logic is required")
	}
	if err := d.OutcomeType.Valid(); err != nil {
		return err
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if _, ok := r.apps[d.AppDefinition]; ok {
		return errors.Wrapf(ErrAppRegistered, "%s", d.AppDefinition.Hex())
	}
	r.apps[d.AppDefinition] = d
	return nil
}

// Definition returns the definition registered for the address.
func (r *Registry) Definition(appDefinition common.Address) (Definition, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	d, ok := r.apps[appDefinition]
	if !ok {
		return Definition{}, errors.Wrapf(ErrUnknownApp, "%s", appDefinition.Hex())
	}
	return d, nil
}

// Logic returns the logic registered for the address.
func (r *Registry) Logic(appDefinition common.Address) (Logic, error) {
	d, err := r.Definition(appDefinition)
	return d.Logic, err
}

// Definitions returns all definitions, sorted by name.
func (r *Registry) Definitions() []Definition {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	defs := make([]Definition, 0, len(r.apps))
	for _, d := range r.apps {
		defs = append(defs, d)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// ApplyAction applies the action, given in json, to the latest state of the
// app and returns the new state in json.
func ApplyAction(logic Logic, app *channel.AppInstance, action json.RawMessage) (json.RawMessage, error) {
	encodings := app.AbiEncodings()
	if encodings.ActionEncoding == "" {
		return nil, channel.ErrNoActionEncoding
	}
	encodedAction, err := abiencoding.Encode(encodings.ActionEncoding, action)
	if err != nil {
		return nil, errors.WithMessage(err, "encoding action")
	}
	encodedState, err := app.EncodedLatestState()
	if err != nil {
		return nil, err
	}
	newState, err := logic.ApplyAction(encodedState, encodedAction)
	if err != nil {
		return nil, errors.WithMessage(err, "applying action")
	}
	decoded, err := abiencoding.Decode(encodings.StateEncoding, newState)
	return decoded, errors.WithMessage(err, "decoding new state")
}

// ComputeOutcome returns the encoded outcome of the latest state of the app.
// If action is not empty, it is applied first.
func ComputeOutcome(logic Logic, app *channel.AppInstance, action json.RawMessage) ([]byte, error) {
	encodedState, err := app.EncodedLatestState()
	if err != nil {
		return nil, err
	}
	if len(action) != 0 {
		state, err := ApplyAction(logic, app, action)
		if err != nil {
			return nil, err
		}
		if encodedState, err = abiencoding.Encode(app.AbiEncodings().StateEncoding, state); err != nil {
			return nil, err
		}
	}
	outcome, err := logic.ComputeOutcome(encodedState)
	return outcome, errors.WithMessage(err, "computing outcome")
}

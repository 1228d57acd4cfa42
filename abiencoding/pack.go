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

package abiencoding

import (
	"encoding/json"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// Pack abi encodes go values (as used by the abi package) for the given list
// of type strings. It is the counterpart of solidity's abi.encode.
func Pack(types []string, values ...interface{}) ([]byte, error) {
	if len(types) != len(values) {
		return nil, errors.Errorf("got %d values for %d types", len(values), len(types))
	}
	args := make(abi.Arguments, len(types))
	for i, encoding := range types {
		t, err := ParseType(encoding)
		if err != nil {
			return nil, err
		}
		args[i] = abi.Argument{Type: t}
	}
	data, err := args.Pack(values...)
	return data, errors.Wrap(err, "packing values")
}

// Unpack is the inverse of Pack. Values are returned in the go types used
// by the abi package.
func Unpack(types []string, data []byte) ([]interface{}, error) {
	args := make(abi.Arguments, len(types))
	for i, encoding := range types {
		t, err := ParseType(encoding)
		if err != nil {
			return nil, err
		}
		args[i] = abi.Argument{Type: t}
	}
	values, err := args.Unpack(data)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidValue, err.Error())
	}
	return values, nil
}

// EncodeCall returns the calldata for calling method with the arguments.
// Each argument is given in its json form (anything json.Marshal accepts that
// yields the canonical shape of the type), so tuples can be passed as structs
// with json tags named after the tuple components.
func EncodeCall(method string, types []string, values ...interface{}) ([]byte, error) {
	if len(types) != len(values) {
		return nil, errors.Errorf("got %d values for %d types", len(values), len(types))
	}
	args := make(abi.Arguments, len(types))
	goValues := make([]interface{}, len(types))
	signatures := make([]string, len(types))
	for i, encoding := range types {
		t, err := ParseType(encoding)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(values[i])
		if err != nil {
			return nil, errors.WithStack(err)
		}
		generic, err := decodeGeneric(raw)
		if err != nil {
			return nil, err
		}
		var v reflect.Value
		if v, err = toGo(t, generic); err != nil {
			return nil, errors.WithMessagef(err, "argument %d of %s", i, method)
		}
		args[i] = abi.Argument{Type: t}
		goValues[i] = v.Interface()
		signatures[i] = t.String()
	}
	packed, err := args.Pack(goValues...)
	if err != nil {
		return nil, errors.Wrap(err, "packing call arguments")
	}
	selector := crypto.Keccak256([]byte(method + "(" + strings.Join(signatures, ",") + ")"))[:4]
	return append(selector, packed...), nil
}

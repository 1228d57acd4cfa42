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

// Package abiencoding converts between ABI encoded bytes and the canonical
// JSON form used for app states and actions.
//
// An encoding is described by a single human readable type string, for
// example "tuple(address to, uint256 amount)[2]". Tuple components are
// optionally named; unnamed components get positional names (arg0, arg1, ...).
package abiencoding

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/pkg/errors"
)

// Error type is used to define error constants for this package.
type Error string

// Error implements error interface.
func (e Error) Error() string {
	return string(e)
}

// Definition of error constants for this package.
const (
	ErrInvalidEncoding Error = "invalid abi encoding"
	ErrInvalidValue    Error = "value does not match abi encoding"
)

// typeCache holds the parsed types, as app encodings repeat a lot.
var typeCache sync.Map

// ParseType parses the human readable type string into an ABI type.
func ParseType(encoding string) (abi.Type, error) {
	if cached, ok := typeCache.Load(encoding); ok {
		return cached.(abi.Type), nil //nolint: forcetypeassert
	}
	m, err := parseArgument(encoding, 0)
	if err != nil {
		return abi.Type{}, errors.WithMessage(err, encoding)
	}
	t, err := abi.NewType(m.Type, "", m.Components)
	if err != nil {
		return abi.Type{}, errors.Wrap(ErrInvalidEncoding, err.Error())
	}
	typeCache.Store(encoding, t)
	return t, nil
}

// parseArgument parses "<type> [name]", where type is either an elementary
// type or a tuple, optionally followed by array suffixes.
func parseArgument(s string, position int) (abi.ArgumentMarshaling, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return abi.ArgumentMarshaling{}, errors.Wrap(ErrInvalidEncoding, "empty type")
	}

	var m abi.ArgumentMarshaling
	rest := s
	if strings.HasPrefix(s, "tuple(") {
		end, err := matchingParen(s, len("tuple"))
		if err != nil {
			return abi.ArgumentMarshaling{}, err
		}
		components, err := splitTopLevel(s[len("tuple("):end])
		if err != nil {
			return abi.ArgumentMarshaling{}, err
		}
		for i, c := range components {
			cm, err := parseArgument(c, i)
			if err != nil {
				return abi.ArgumentMarshaling{}, err
			}
			m.Components = append(m.Components, cm)
		}
		m.Type = "tuple"
		rest = s[end+1:]
	} else {
		fields := strings.Fields(s)
		m.Type = normalizeElementary(fields[0])
		rest = strings.TrimPrefix(s, fields[0])
	}

	// Array suffixes directly follow the type.
	for strings.HasPrefix(rest, "[") {
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return abi.ArgumentMarshaling{}, errors.Wrap(ErrInvalidEncoding, "unterminated array suffix")
		}
		m.Type += rest[:end+1]
		rest = rest[end+1:]
	}

	name := strings.TrimSpace(rest)
	if strings.ContainsAny(name, " \t(),[]") {
		return abi.ArgumentMarshaling{}, errors.Wrapf(ErrInvalidEncoding, "invalid name %q", name)
	}
	if name == "" {
		name = fmt.Sprintf("arg%d", position)
	}
	m.Name = name
	return m, nil
}

// normalizeElementary expands the solidity aliases uint and int.
func normalizeElementary(t string) string {
	base, suffix := t, ""
	if i := strings.IndexByte(t, '['); i >= 0 {
		base, suffix = t[:i], t[i:]
	}
	switch base {
	case "uint", "int":
		return base + "256" + suffix
	}
	return t
}

func matchingParen(s string, open int) (int, error) {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i, nil
			}
		}
	}
	return 0, errors.Wrap(ErrInvalidEncoding, "unbalanced parenthesis")
}

func splitTopLevel(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, errors.Wrap(ErrInvalidEncoding, "tuple without components")
	}
	var parts []string
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, errors.Wrap(ErrInvalidEncoding, "unbalanced parenthesis")
	}
	return append(parts, s[start:]), nil
}

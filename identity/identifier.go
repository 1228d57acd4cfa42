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

// Package identity provides the public identifiers of channel participants,
// the signer for protocol digests and signature recovery.
//
// A public identifier is the base58 encoded compressed secp256k1 public key
// with the IdentifierPrefix. The signer address of a participant is the
// ethereum address derived from the same key.
package identity

import (
	"crypto/ecdsa"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
)

// IdentifierPrefix is prepended to every public identifier.
const IdentifierPrefix = "indra"

// Error type is used to define error constants for this package.
type Error string

// Error implements error interface.
func (e Error) Error() string {
	return string(e)
}

// Definition of error constants for this package.
const (
	ErrInvalidIdentifier Error = "invalid public identifier"
	ErrInvalidSignature  Error = "invalid signature"
	ErrSignerMismatch    Error = "signature not from expected signer"
)

// PublicIdentifierFromPublicKey returns the public identifier for the key.
func PublicIdentifierFromPublicKey(pub *ecdsa.PublicKey) string {
	return IdentifierPrefix + base58.Encode(crypto.CompressPubkey(pub))
}

// PublicKeyFromIdentifier decodes the public key from the identifier.
func PublicKeyFromIdentifier(identifier string) (*ecdsa.PublicKey, error) {
	if !strings.HasPrefix(identifier, IdentifierPrefix) {
		return nil, errors.Wrapf(ErrInvalidIdentifier, "missing prefix in %q", identifier)
	}
	compressed, err := base58.Decode(strings.TrimPrefix(identifier, IdentifierPrefix))
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidIdentifier, "decoding %q: %v", identifier, err)
	}
	pub, err := crypto.DecompressPubkey(compressed)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidIdentifier, "decompressing key of %q: %v", identifier, err)
	}
	return pub, nil
}

// SignerAddressFromIdentifier returns the ethereum address of the key behind
// the identifier.
func SignerAddressFromIdentifier(identifier string) (common.Address, error) {
	pub, err := PublicKeyFromIdentifier(identifier)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// SignerAddresses derives the signer addresses for a list of identifiers,
// preserving the order.
func SignerAddresses(identifiers ...string) ([]common.Address, error) {
	addrs := make([]common.Address, len(identifiers))
	for i, id := range identifiers {
		addr, err := SignerAddressFromIdentifier(id)
		if err != nil {
			return nil, err
		}
		addrs[i] = addr
	}
	return addrs, nil
}

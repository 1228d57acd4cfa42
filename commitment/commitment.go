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

// Package commitment builds the commitments both users of a channel sign and
// the transactions that redeem them on chain.
//
// A commitment accepts signatures only through AddSignatures, which recovers
// the signers and orders the signatures as the participants of the
// commitment.
package commitment

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"

	"github.com/hyperledger-labs/perun-appchannel/abiencoding"
	"github.com/hyperledger-labs/perun-appchannel/identity"
)

// Error type is used to define error constants for this package.
type Error string

// Error implements error interface.
func (e Error) Error() string {
	return string(e)
}

// Definition of error constants for this package.
const (
	ErrNotSigned      Error = "commitment is not signed by both participants"
	ErrSignerMismatch Error = "signers do not match the participants"
	ErrInvalidJSON    Error = "invalid commitment json"
)

// Prefixes of the digests, they keep the digest of one kind of commitment
// from being valid for another.
const (
	targetMultisig uint8 = 0
	targetSetState uint8 = 1
)

// Operation is the kind of call the multisig makes.
type Operation uint8

// Operations supported by the multisig.
const (
	Call         Operation = 0
	DelegateCall Operation = 1
)

// MinimalTransaction is a transaction ready to be sent to the chain.
type MinimalTransaction struct {
	To    common.Address        `json:"to"`
	Value abiencoding.BigNumber `json:"value"`
	Data  hexutil.Bytes         `json:"data"`
}

// orderSignatures recovers the signers of a and b and returns the
// signatures in the order of the participants.
func orderSignatures(participants [2]common.Address, digest common.Hash, a, b []byte) ([2][]byte, error) {
	signerA, err := identity.RecoverAddress(digest, a)
	if err != nil {
		return [2][]byte{}, err
	}
	signerB, err := identity.RecoverAddress(digest, b)
	if err != nil {
		return [2][]byte{}, err
	}
	switch {
	case signerA == participants[0] && signerB == participants[1]:
		return [2][]byte{copyBytes(a), copyBytes(b)}, nil
	case signerA == participants[1] && signerB == participants[0]:
		return [2][]byte{copyBytes(b), copyBytes(a)}, nil
	}
	return [2][]byte{}, errors.Wrapf(ErrSignerMismatch, "recovered %s, %s; want %s, %s",
		signerA.Hex(), signerB.Hex(), participants[0].Hex(), participants[1].Hex())
}

func verifySignatures(participants [2]common.Address, digest common.Hash, sigs [2][]byte) error {
	if !isSigned(sigs) {
		return ErrNotSigned
	}
	for i := range participants {
		if err := identity.VerifySignature(participants[i], digest, sigs[i]); err != nil {
			return errors.Wrap(ErrSignerMismatch, err.Error())
		}
	}
	return nil
}

func isSigned(sigs [2][]byte) bool {
	return len(sigs[0]) != 0 && len(sigs[1]) != 0
}

func hexSignatures(sigs [2][]byte) []hexutil.Bytes {
	if !isSigned(sigs) {
		return nil
	}
	return []hexutil.Bytes{sigs[0], sigs[1]}
}

// addSignaturesFromJSON applies the signatures of a decoded commitment, an
// unsigned commitment has none.
func addSignaturesFromJSON(sigs []hexutil.Bytes, add func(a, b []byte) error) error {
	switch len(sigs) {
	case 0:
		return nil
	case 2:
		return add(sigs[0], sigs[1])
	}
	return errors.Wrapf(ErrInvalidJSON, "expected 2 signatures, got %d", len(sigs))
}

func copyBytes(b []byte) []byte {
	return append([]byte(nil), b...)
}

func bigOrZero(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(x)
}

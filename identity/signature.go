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

package identity

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// SignatureLength is the length of a signature in [R | S | V] format.
const SignatureLength = 65

// RecoverAddress returns the address of the key that created the signature
// over the digest. V may be 0/1 or 27/28.
func RecoverAddress(digest common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != SignatureLength {
		return common.Address{}, errors.Wrapf(ErrInvalidSignature, "length is %d, not 65 bytes", len(sig))
	}
	normalized := make([]byte, SignatureLength)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27 // Transform yellow paper V from 27/28 to 0/1
	}
	if normalized[64] > 1 {
		return common.Address{}, errors.Wrap(ErrInvalidSignature, "V is not 27 or 28")
	}

	pub, err := crypto.SigToPub(digest.Bytes(), normalized)
	if err != nil {
		return common.Address{}, errors.Wrap(ErrInvalidSignature, err.Error())
	}

	// Retrieve uncompressed public key and validate integrity of the signature.
	if !crypto.VerifySignature(crypto.FromECDSAPub(pub), digest.Bytes(), normalized[:64]) {
		return common.Address{}, errors.Wrap(ErrInvalidSignature, "signature does not verify")
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifySignature checks that the signature over the digest was created by
// the expected address.
func VerifySignature(expected common.Address, digest common.Hash, sig []byte) error {
	signer, err := RecoverAddress(digest, sig)
	if err != nil {
		return err
	}
	if signer != expected {
		return errors.Wrapf(ErrSignerMismatch, "recovered %s, expected %s", signer.Hex(), expected.Hex())
	}
	return nil
}

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
	"crypto/ecdsa"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// Standard encryption parameters should be uses for real keystores. Using these parameters will
// cause the decryption to use 256MB of RAM and takes approx 1s on a modern processor.
//
// Weak encryption parameters should be used for test keystores.
const (
	StandardScryptN = keystore.StandardScryptN
	StandardScryptP = keystore.StandardScryptP
	WeakScryptN     = 2
	WeakScryptP     = 1
)

// Signer holds the private key of a channel participant and signs protocol
// digests with it.
type Signer struct {
	key        *ecdsa.PrivateKey
	address    common.Address
	identifier string
}

// NewSigner returns a signer for the given key.
func NewSigner(key *ecdsa.PrivateKey) *Signer {
	return &Signer{
		key:        key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
		identifier: PublicIdentifierFromPublicKey(&key.PublicKey),
	}
}

// NewSignerFromHex returns a signer for the hex encoded private key.
func NewSignerFromHex(hexKey string) (*Signer, error) {
	key, err := crypto.HexToECDSA(trimHexPrefix(hexKey))
	if err != nil {
		return nil, errors.Wrap(err, "parsing private key")
	}
	return NewSigner(key), nil
}

// NewRandomSigner returns a signer with a freshly generated key.
func NewRandomSigner() (*Signer, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, errors.Wrap(err, "generating key")
	}
	return NewSigner(key), nil
}

// NewSignerFromKeystore loads the key for the address from the ethereum
// keystore directory and decrypts it with the password.
func NewSignerFromKeystore(keystorePath, address, password string) (*Signer, error) {
	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		return nil, errors.Wrap(err, "initializing signer, cannot find keystore directory")
	}
	if !common.IsHexAddress(address) {
		return nil, errors.Errorf("invalid signer address %q", address)
	}
	ks := keystore.NewKeyStore(filepath.Clean(keystorePath), StandardScryptN, StandardScryptP)
	acc, err := ks.Find(accounts.Account{Address: common.HexToAddress(address)})
	if err != nil {
		return nil, errors.Wrap(err, "finding account in keystore")
	}
	keyJSON, err := os.ReadFile(acc.URL.Path)
	if err != nil {
		return nil, errors.Wrap(err, "reading key file")
	}
	key, err := keystore.DecryptKey(keyJSON, password)
	if err != nil {
		return nil, errors.Wrap(err, "decrypting key")
	}
	return NewSigner(key.PrivateKey), nil
}

// StoreKey encrypts the key into a new file in the keystore directory and
// returns the account address. Weak scrypt parameters are used when weak is
// true, which is intended only for tests and demo setups.
func StoreKey(keystorePath string, key *ecdsa.PrivateKey, password string, weak bool) (common.Address, error) {
	n, p := StandardScryptN, StandardScryptP
	if weak {
		n, p = WeakScryptN, WeakScryptP
	}
	ks := keystore.NewKeyStore(filepath.Clean(keystorePath), n, p)
	acc, err := ks.ImportECDSA(key, password)
	if err != nil {
		return common.Address{}, errors.Wrap(err, "importing key into keystore")
	}
	return acc.Address, nil
}

// PublicIdentifier returns the public identifier of the signer.
func (s *Signer) PublicIdentifier() string { return s.identifier }

// Address returns the ethereum address of the signer.
func (s *Signer) Address() common.Address { return s.address }

// SignDigest signs the digest. Signature will be in [R | S | V] format with last byte V = 27/28.
func (s *Signer) SignDigest(digest common.Hash) ([]byte, error) {
	sig, err := crypto.Sign(digest.Bytes(), s.key)
	if err != nil {
		return nil, errors.Wrap(err, "signing digest")
	}
	sig[64] += 27 // Transform V from 0/1 to 27/28 according to the yellow paper
	return sig, nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

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

package commitment

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	solsha3 "github.com/miguelmota/go-solidity-sha3"

	"github.com/hyperledger-labs/perun-appchannel/abiencoding"
)

// multisigTransaction is a transaction executed by the multisig once both
// owners signed it.
type multisigTransaction struct {
	multisigAddress common.Address
	multisigOwners  [2]common.Address
	to              common.Address
	value           *big.Int
	data            []byte
	operation       Operation
	signatures      [2][]byte
}

// MultisigAddress returns the address of the multisig executing the transaction.
func (t *multisigTransaction) MultisigAddress() common.Address { return t.multisigAddress }

// MultisigOwners returns the signers in the order of the signatures.
func (t *multisigTransaction) MultisigOwners() [2]common.Address { return t.multisigOwners }

// Transaction returns the transaction the multisig executes.
func (t *multisigTransaction) Transaction() MinimalTransaction {
	return MinimalTransaction{To: t.to, Value: abiencoding.NewBigNumber(t.value), Data: copyBytes(t.data)}
}

// Operation returns whether the multisig calls or delegatecalls.
func (t *multisigTransaction) Operation() Operation { return t.operation }

// HashToSign returns keccak256(solidityPack(uint8 0, multisig, to, value,
// keccak256(data), uint8 operation)).
func (t *multisigTransaction) HashToSign() common.Hash {
	return common.BytesToHash(solsha3.SoliditySHA3(
		solsha3.Uint8(targetMultisig),
		solsha3.Address(t.multisigAddress),
		solsha3.Address(t.to),
		solsha3.Uint256(t.value),
		solsha3.Bytes32(crypto.Keccak256(t.data)),
		solsha3.Uint8(uint8(t.operation)),
	))
}

// AddSignatures sets the signatures of both owners, in any order.
func (t *multisigTransaction) AddSignatures(a, b []byte) error {
	sigs, err := orderSignatures(t.multisigOwners, t.HashToSign(), a, b)
	if err != nil {
		return err
	}
	t.signatures = sigs
	return nil
}

// Signed reports whether both signatures are present.
func (t *multisigTransaction) Signed() bool { return isSigned(t.signatures) }

// Signatures returns the signatures in the order of the owners.
func (t *multisigTransaction) Signatures() [2][]byte {
	return [2][]byte{copyBytes(t.signatures[0]), copyBytes(t.signatures[1])}
}

// SignedTransaction verifies the signatures and returns the call to
// execTransaction on the multisig.
func (t *multisigTransaction) SignedTransaction() (MinimalTransaction, error) {
	if err := verifySignatures(t.multisigOwners, t.HashToSign(), t.signatures); err != nil {
		return MinimalTransaction{}, err
	}
	data, err := abiencoding.EncodeCall("execTransaction",
		[]string{"address", "uint256", "bytes", "uint8", "bytes[]"},
		t.to, t.value, hexutil.Bytes(t.data), uint8(t.operation), hexSignatures(t.signatures))
	if err != nil {
		return MinimalTransaction{}, err
	}
	return MinimalTransaction{To: t.multisigAddress, Value: abiencoding.NewBigNumberFromUint64(0), Data: data}, nil
}

// multisigJSON holds the fields shared by the serialized forms of the
// multisig commitments.
type multisigJSON struct {
	MultisigAddress common.Address    `json:"multisigAddress"`
	MultisigOwners  [2]common.Address `json:"multisigOwners"`
	Signatures      []hexutil.Bytes   `json:"signatures,omitempty"`
}

func (t *multisigTransaction) multisigJSON() multisigJSON {
	return multisigJSON{
		MultisigAddress: t.multisigAddress,
		MultisigOwners:  t.multisigOwners,
		Signatures:      hexSignatures(t.signatures),
	}
}

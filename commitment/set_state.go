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
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	solsha3 "github.com/miguelmota/go-solidity-sha3"
	"github.com/pkg/errors"

	"github.com/hyperledger-labs/perun-appchannel/abiencoding"
	"github.com/hyperledger-labs/perun-appchannel/channel"
)

// ABI types of the arguments of ChallengeRegistry.setState.
const (
	appIdentityType = "tuple(address multisigAddress, uint256 channelNonce, address[] participants, " +
		"address appDefinition, uint256 defaultTimeout)"
	signedAppChallengeUpdateType = "tuple(bytes32 appStateHash, uint256 versionNumber, uint256 timeout, " +
		"bytes[] signatures)"
)

// SetStateCommitment commits to a version of the state of an app. Redeemed
// by ChallengeRegistry.setState.
type SetStateCommitment struct {
	challengeRegistry common.Address
	appIdentity       channel.AppIdentity
	appIdentityHash   common.Hash
	appStateHash      common.Hash
	versionNumber     uint64
	stateTimeout      *big.Int
	signatures        [2][]byte
}

// NewSetStateCommitment returns an unsigned commitment to the latest state
// of the app.
func NewSetStateCommitment(challengeRegistry common.Address, app *channel.AppInstance) (*SetStateCommitment, error) {
	stateHash, err := app.StateHash()
	if err != nil {
		return nil, err
	}
	return &SetStateCommitment{
		challengeRegistry: challengeRegistry,
		appIdentity:       app.Identity(),
		appIdentityHash:   app.IdentityHash(),
		appStateHash:      stateHash,
		versionNumber:     app.LatestVersionNumber(),
		stateTimeout:      app.StateTimeout(),
	}, nil
}

// AppIdentityHash returns the identity hash of the app.
func (c *SetStateCommitment) AppIdentityHash() common.Hash { return c.appIdentityHash }

// AppStateHash returns the hash of the committed state.
func (c *SetStateCommitment) AppStateHash() common.Hash { return c.appStateHash }

// VersionNumber returns the committed version.
func (c *SetStateCommitment) VersionNumber() uint64 { return c.versionNumber }

// StateTimeout returns the timeout of the committed state.
func (c *SetStateCommitment) StateTimeout() *big.Int { return new(big.Int).Set(c.stateTimeout) }

// Participants returns the signers in the order of the signatures.
func (c *SetStateCommitment) Participants() [2]common.Address { return c.appIdentity.Participants }

// HashToSign returns keccak256(solidityPack(uint8 1, identityHash, version,
// timeout, stateHash)).
func (c *SetStateCommitment) HashToSign() common.Hash {
	return common.BytesToHash(solsha3.SoliditySHA3(
		solsha3.Uint8(targetSetState),
		solsha3.Bytes32(c.appIdentityHash.Bytes()),
		solsha3.Uint256(new(big.Int).SetUint64(c.versionNumber)),
		solsha3.Uint256(c.stateTimeout),
		solsha3.Bytes32(c.appStateHash.Bytes()),
	))
}

// AddSignatures sets the signatures of both participants, in any order.
func (c *SetStateCommitment) AddSignatures(a, b []byte) error {
	sigs, err := orderSignatures(c.appIdentity.Participants, c.HashToSign(), a, b)
	if err != nil {
		return err
	}
	c.signatures = sigs
	return nil
}

// Signed reports whether both signatures are present.
func (c *SetStateCommitment) Signed() bool { return isSigned(c.signatures) }

// Signatures returns the signatures in the order of the participants.
func (c *SetStateCommitment) Signatures() [2][]byte {
	return [2][]byte{copyBytes(c.signatures[0]), copyBytes(c.signatures[1])}
}

// SignedTransaction verifies the signatures and returns the call to
// ChallengeRegistry.setState.
func (c *SetStateCommitment) SignedTransaction() (MinimalTransaction, error) {
	if err := verifySignatures(c.appIdentity.Participants, c.HashToSign(), c.signatures); err != nil {
		return MinimalTransaction{}, err
	}
	update := struct {
		AppStateHash  common.Hash     `json:"appStateHash"`
		VersionNumber *big.Int        `json:"versionNumber"`
		Timeout       *big.Int        `json:"timeout"`
		Signatures    []hexutil.Bytes `json:"signatures"`
	}{
		AppStateHash:  c.appStateHash,
		VersionNumber: new(big.Int).SetUint64(c.versionNumber),
		Timeout:       c.stateTimeout,
		Signatures:    hexSignatures(c.signatures),
	}
	data, err := abiencoding.EncodeCall("setState",
		[]string{appIdentityType, signedAppChallengeUpdateType}, c.appIdentity, update)
	if err != nil {
		return MinimalTransaction{}, err
	}
	return MinimalTransaction{To: c.challengeRegistry, Value: abiencoding.NewBigNumberFromUint64(0), Data: data}, nil
}

// SetStateCommitmentJSON is the serialized form of a SetStateCommitment.
type SetStateCommitmentJSON struct {
	ChallengeRegistryAddress common.Address        `json:"challengeRegistryAddress"`
	AppIdentity              channel.AppIdentity   `json:"appIdentity"`
	AppIdentityHash          common.Hash           `json:"appIdentityHash"`
	AppStateHash             common.Hash           `json:"appStateHash"`
	VersionNumber            uint64                `json:"versionNumber"`
	StateTimeout             abiencoding.BigNumber `json:"stateTimeout"`
	Signatures               []hexutil.Bytes       `json:"signatures,omitempty"`
}

// JSON returns the serialized form.
func (c *SetStateCommitment) JSON() SetStateCommitmentJSON {
	return SetStateCommitmentJSON{
		ChallengeRegistryAddress: c.challengeRegistry,
		AppIdentity:              c.appIdentity,
		AppIdentityHash:          c.appIdentityHash,
		AppStateHash:             c.appStateHash,
		VersionNumber:            c.versionNumber,
		StateTimeout:             abiencoding.NewBigNumber(c.stateTimeout),
		Signatures:               hexSignatures(c.signatures),
	}
}

// MarshalJSON implements json.Marshaler.
func (c *SetStateCommitment) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.JSON())
}

// UnmarshalJSON implements json.Unmarshaler. The identity hash is recomputed
// and the signatures are verified.
func (c *SetStateCommitment) UnmarshalJSON(data []byte) error {
	var j SetStateCommitmentJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return errors.Wrap(ErrInvalidJSON, err.Error())
	}
	hash, err := j.AppIdentity.Hash()
	if err != nil {
		return err
	}
	if hash != j.AppIdentityHash {
		return errors.Wrapf(ErrInvalidJSON, "identity hash %s does not match app identity", j.AppIdentityHash.Hex())
	}
	decoded := SetStateCommitment{
		challengeRegistry: j.ChallengeRegistryAddress,
		appIdentity:       j.AppIdentity,
		appIdentityHash:   j.AppIdentityHash,
		appStateHash:      j.AppStateHash,
		versionNumber:     j.VersionNumber,
		stateTimeout:      j.StateTimeout.Int(),
	}
	if err := addSignaturesFromJSON(j.Signatures, decoded.AddSignatures); err != nil {
		return err
	}
	*c = decoded
	return nil
}

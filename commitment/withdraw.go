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
	"github.com/pkg/errors"

	"github.com/hyperledger-labs/perun-appchannel/abiencoding"
	"github.com/hyperledger-labs/perun-appchannel/channel"
)

// AssetKind selects how a withdrawal moves the asset out of the multisig.
type AssetKind int

// Asset kinds.
const (
	AssetNative AssetKind = iota // value transfer to the recipient.
	AssetERC20                   // call to transfer on the token contract.
)

// String implements fmt.Stringer.
func (k AssetKind) String() string {
	return [...]string{"native", "erc20"}[k]
}

// WithdrawCommitment lets the multisig pay an amount of one asset to a
// recipient.
type WithdrawCommitment struct {
	multisigTransaction

	kind      AssetKind
	assetID   common.Address
	recipient common.Address
	amount    *big.Int
}

// NewWithdrawCommitment returns the unsigned withdrawal. The zero asset id
// is the native asset, any other is an ERC20 token.
func NewWithdrawCommitment(multisig common.Address, owners [2]common.Address, recipient, assetID common.Address,
	amount *big.Int) (*WithdrawCommitment, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, errors.Errorf("withdraw amount must be positive, got %v", amount)
	}
	c := &WithdrawCommitment{
		multisigTransaction: multisigTransaction{
			multisigAddress: multisig,
			multisigOwners:  owners,
			operation:       Call,
		},
		assetID:   assetID,
		recipient: recipient,
		amount:    new(big.Int).Set(amount),
	}
	if assetID == channel.NativeAssetID {
		c.kind = AssetNative
		c.to, c.value = recipient, new(big.Int).Set(amount)
		return c, nil
	}
	data, err := abiencoding.EncodeCall("transfer", []string{"address", "uint256"}, recipient, amount)
	if err != nil {
		return nil, err
	}
	c.kind = AssetERC20
	c.to, c.value, c.data = assetID, new(big.Int), data
	return c, nil
}

// Kind returns the asset kind.
func (c *WithdrawCommitment) Kind() AssetKind { return c.kind }

// AssetID returns the asset withdrawn.
func (c *WithdrawCommitment) AssetID() common.Address { return c.assetID }

// Recipient returns the address receiving the amount.
func (c *WithdrawCommitment) Recipient() common.Address { return c.recipient }

// Amount returns the amount withdrawn.
func (c *WithdrawCommitment) Amount() *big.Int { return bigOrZero(c.amount) }

// WithdrawCommitmentJSON is the serialized form of a WithdrawCommitment.
type WithdrawCommitmentJSON struct {
	multisigJSON
	AssetID   common.Address        `json:"assetId"`
	Recipient common.Address        `json:"recipient"`
	Amount    abiencoding.BigNumber `json:"amount"`
}

// JSON returns the serialized form.
func (c *WithdrawCommitment) JSON() WithdrawCommitmentJSON {
	return WithdrawCommitmentJSON{
		multisigJSON: c.multisigJSON(),
		AssetID:      c.assetID,
		Recipient:    c.recipient,
		Amount:       abiencoding.NewBigNumber(c.amount),
	}
}

// MarshalJSON implements json.Marshaler.
func (c *WithdrawCommitment) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.JSON())
}

// UnmarshalJSON implements json.Unmarshaler. The signatures are verified.
func (c *WithdrawCommitment) UnmarshalJSON(data []byte) error {
	var j WithdrawCommitmentJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return errors.Wrap(ErrInvalidJSON, err.Error())
	}
	decoded, err := NewWithdrawCommitment(j.MultisigAddress, j.MultisigOwners, j.Recipient, j.AssetID, j.Amount.Int())
	if err != nil {
		return err
	}
	if err := addSignaturesFromJSON(j.Signatures, decoded.AddSignatures); err != nil {
		return err
	}
	*c = *decoded
	return nil
}

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
	"fmt"
	"math/big"
	"strings"

	"github.com/pkg/errors"
)

// BigNumber is the json wrapper for big integers: {"_hex":"0x..","_isBigNumber":true}.
//
// Hex digits are lower case and always of even length, so that equal values
// serialize to equal bytes.
type BigNumber struct {
	v *big.Int
}

type bigNumberJSON struct {
	Hex         string `json:"_hex"`
	IsBigNumber bool   `json:"_isBigNumber"`
}

// NewBigNumber returns a BigNumber holding a copy of x. Nil is treated as zero.
func NewBigNumber(x *big.Int) BigNumber {
	if x == nil {
		return BigNumber{v: new(big.Int)}
	}
	return BigNumber{v: new(big.Int).Set(x)}
}

// NewBigNumberFromUint64 returns a BigNumber holding x.
func NewBigNumberFromUint64(x uint64) BigNumber {
	return BigNumber{v: new(big.Int).SetUint64(x)}
}

// Int returns a copy of the value.
func (b BigNumber) Int() *big.Int {
	if b.v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(b.v)
}

// Hex returns the even length hex representation with 0x prefix.
func (b BigNumber) Hex() string {
	return toEvenHex(b.Int())
}

func (b BigNumber) String() string {
	return b.Int().String()
}

// MarshalJSON implements json.Marshaler.
func (b BigNumber) MarshalJSON() ([]byte, error) {
	return json.Marshal(bigNumberJSON{Hex: b.Hex(), IsBigNumber: true})
}

// UnmarshalJSON implements json.Unmarshaler. Apart from the wrapper object, a
// json number, a decimal string or a 0x prefixed hex string are accepted.
func (b *BigNumber) UnmarshalJSON(data []byte) error {
	var raw interface{}
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return errors.WithStack(err)
	}
	v, err := parseBigInt(raw)
	if err != nil {
		return err
	}
	b.v = v
	return nil
}

// parseBigInt parses the value from its generic json form.
func parseBigInt(raw interface{}) (*big.Int, error) {
	switch v := raw.(type) {
	case json.Number:
		return parseBigIntString(v.String())
	case string:
		return parseBigIntString(v)
	case map[string]interface{}:
		hex, ok := v["_hex"].(string)
		if !ok {
			return nil, errors.Wrap(ErrInvalidValue, "big number object without _hex field")
		}
		return parseBigIntString(hex)
	case float64:
		return parseBigIntString(fmt.Sprintf("%.0f", v))
	}
	return nil, errors.Wrapf(ErrInvalidValue, "cannot parse %v as integer", raw)
}

func parseBigIntString(s string) (*big.Int, error) {
	neg := strings.HasPrefix(s, "-")
	digits := strings.TrimPrefix(s, "-")
	base := 10
	if strings.HasPrefix(digits, "0x") || strings.HasPrefix(digits, "0X") {
		digits, base = digits[2:], 16
	}
	v, ok := new(big.Int).SetString(digits, base)
	if !ok || digits == "" {
		return nil, errors.Wrapf(ErrInvalidValue, "cannot parse %q as integer", s)
	}
	if neg {
		v.Neg(v)
	}
	return v, nil
}

func toEvenHex(x *big.Int) string {
	abs := new(big.Int).Abs(x).Text(16)
	if len(abs)%2 == 1 {
		abs = "0" + abs
	}
	if x.Sign() < 0 {
		return "-0x" + abs
	}
	return "0x" + abs
}

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
	"bytes"
	"encoding/json"
	"math/big"
	"reflect"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// Encode packs the json value according to the encoding.
func Encode(encoding string, value json.RawMessage) ([]byte, error) {
	t, err := ParseType(encoding)
	if err != nil {
		return nil, err
	}
	generic, err := decodeGeneric(value)
	if err != nil {
		return nil, err
	}
	v, err := toGo(t, generic)
	if err != nil {
		return nil, errors.WithMessage(err, encoding)
	}
	data, err := abi.Arguments{{Type: t}}.Pack(v.Interface())
	return data, errors.Wrap(err, "packing value")
}

// Decode unpacks the data according to the encoding and returns the
// canonical json form.
func Decode(encoding string, data []byte) (json.RawMessage, error) {
	t, err := ParseType(encoding)
	if err != nil {
		return nil, err
	}
	values, err := abi.Arguments{{Type: t}}.Unpack(data)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidValue, err.Error())
	}
	if len(values) != 1 {
		return nil, errors.Wrapf(ErrInvalidValue, "unpacked %d values, expected 1", len(values))
	}
	generic, err := fromGo(t, reflect.ValueOf(values[0]))
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(generic)
	return out, errors.WithStack(err)
}

// Canonicalize returns the canonical json form of the value. The value is
// encoded and decoded again, so it fails for values not matching the
// encoding.
func Canonicalize(encoding string, value json.RawMessage) (json.RawMessage, error) {
	data, err := Encode(encoding, value)
	if err != nil {
		return nil, err
	}
	return Decode(encoding, data)
}

// HashState returns keccak256 over the abi encoded value.
func HashState(encoding string, value json.RawMessage) (common.Hash, error) {
	data, err := Encode(encoding, value)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(data), nil
}

func decodeGeneric(value json.RawMessage) (interface{}, error) {
	var generic interface{}
	dec := json.NewDecoder(bytes.NewReader(value))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, errors.Wrap(ErrInvalidValue, err.Error())
	}
	return generic, nil
}

// toGo converts the generic json value into a value of the go type used by
// the abi package for t.
func toGo(t abi.Type, raw interface{}) (reflect.Value, error) {
	switch t.T {
	case abi.IntTy, abi.UintTy:
		x, err := parseBigInt(raw)
		if err != nil {
			return reflect.Value{}, err
		}
		return intValue(t, x)

	case abi.BoolTy:
		b, ok := raw.(bool)
		if !ok {
			return reflect.Value{}, errors.Wrapf(ErrInvalidValue, "expected bool, got %v", raw)
		}
		return reflect.ValueOf(b), nil

	case abi.StringTy:
		s, ok := raw.(string)
		if !ok {
			return reflect.Value{}, errors.Wrapf(ErrInvalidValue, "expected string, got %v", raw)
		}
		return reflect.ValueOf(s), nil

	case abi.AddressTy:
		s, ok := raw.(string)
		if !ok || !common.IsHexAddress(s) {
			return reflect.Value{}, errors.Wrapf(ErrInvalidValue, "expected address, got %v", raw)
		}
		return reflect.ValueOf(common.HexToAddress(s)), nil

	case abi.FixedBytesTy:
		b, err := hexBytes(raw)
		if err != nil {
			return reflect.Value{}, err
		}
		if len(b) != t.Size {
			return reflect.Value{}, errors.Wrapf(ErrInvalidValue, "expected %d bytes, got %d", t.Size, len(b))
		}
		v := reflect.New(t.GetType()).Elem()
		reflect.Copy(v, reflect.ValueOf(b))
		return v, nil

	case abi.BytesTy:
		b, err := hexBytes(raw)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(b), nil

	case abi.SliceTy, abi.ArrayTy:
		items, ok := raw.([]interface{})
		if !ok {
			return reflect.Value{}, errors.Wrapf(ErrInvalidValue, "expected array, got %v", raw)
		}
		var v reflect.Value
		if t.T == abi.SliceTy {
			v = reflect.MakeSlice(t.GetType(), len(items), len(items))
		} else {
			if len(items) != t.Size {
				return reflect.Value{}, errors.Wrapf(ErrInvalidValue, "expected %d items, got %d", t.Size, len(items))
			}
			v = reflect.New(t.GetType()).Elem()
		}
		for i, item := range items {
			elem, err := toGo(*t.Elem, item)
			if err != nil {
				return reflect.Value{}, errors.WithMessagef(err, "index %d", i)
			}
			v.Index(i).Set(elem)
		}
		return v, nil

	case abi.TupleTy:
		return tupleToGo(t, raw)
	}
	return reflect.Value{}, errors.Wrapf(ErrInvalidEncoding, "unsupported type %s", t.String())
}

// tupleToGo accepts an object keyed by component names or a positional array.
func tupleToGo(t abi.Type, raw interface{}) (reflect.Value, error) {
	v := reflect.New(t.GetType()).Elem()
	switch obj := raw.(type) {
	case map[string]interface{}:
		if len(obj) != len(t.TupleElems) {
			return reflect.Value{}, errors.Wrapf(ErrInvalidValue, "expected %d fields, got %d", len(t.TupleElems), len(obj))
		}
		for i, elem := range t.TupleElems {
			name := t.TupleRawNames[i]
			field, ok := obj[name]
			if !ok {
				return reflect.Value{}, errors.Wrapf(ErrInvalidValue, "missing field %s", name)
			}
			fv, err := toGo(*elem, field)
			if err != nil {
				return reflect.Value{}, errors.WithMessage(err, name)
			}
			v.Field(i).Set(fv)
		}
	case []interface{}:
		if len(obj) != len(t.TupleElems) {
			return reflect.Value{}, errors.Wrapf(ErrInvalidValue, "expected %d fields, got %d", len(t.TupleElems), len(obj))
		}
		for i, elem := range t.TupleElems {
			fv, err := toGo(*elem, obj[i])
			if err != nil {
				return reflect.Value{}, errors.WithMessage(err, t.TupleRawNames[i])
			}
			v.Field(i).Set(fv)
		}
	default:
		return reflect.Value{}, errors.Wrapf(ErrInvalidValue, "expected object, got %v", raw)
	}
	return v, nil
}

// intValue converts x to the native integer kind for types up to 64 bits
// and to *big.Int otherwise.
func intValue(t abi.Type, x *big.Int) (reflect.Value, error) {
	if x.Sign() < 0 && t.T == abi.UintTy {
		return reflect.Value{}, errors.Wrapf(ErrInvalidValue, "negative value %s for %s", x, t.String())
	}
	if x.BitLen() > t.Size {
		return reflect.Value{}, errors.Wrapf(ErrInvalidValue, "value %s overflows %s", x, t.String())
	}
	goType := t.GetType()
	if goType == reflect.TypeOf(&big.Int{}) {
		return reflect.ValueOf(new(big.Int).Set(x)), nil
	}
	v := reflect.New(goType).Elem()
	switch goType.Kind() {
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		v.SetUint(x.Uint64())
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if !x.IsInt64() || v.OverflowInt(x.Int64()) {
			return reflect.Value{}, errors.Wrapf(ErrInvalidValue, "value %s overflows %s", x, t.String())
		}
		v.SetInt(x.Int64())
	default:
		return reflect.Value{}, errors.Wrapf(ErrInvalidEncoding, "unexpected go kind %s", goType.Kind())
	}
	return v, nil
}

func hexBytes(raw interface{}) ([]byte, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, errors.Wrapf(ErrInvalidValue, "expected hex string, got %v", raw)
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidValue, err.Error())
	}
	return b, nil
}

// fromGo converts an unpacked value into its canonical generic json form.
func fromGo(t abi.Type, v reflect.Value) (interface{}, error) {
	switch t.T {
	case abi.IntTy, abi.UintTy:
		switch x := v.Interface().(type) {
		case *big.Int:
			return NewBigNumber(x), nil
		}
		switch v.Kind() {
		case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return NewBigNumber(new(big.Int).SetUint64(v.Uint())), nil
		case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return NewBigNumber(big.NewInt(v.Int())), nil
		}

	case abi.BoolTy, abi.StringTy:
		return v.Interface(), nil

	case abi.AddressTy:
		addr, ok := v.Interface().(common.Address)
		if ok {
			return addr.Hex(), nil
		}

	case abi.FixedBytesTy:
		b := make([]byte, v.Len())
		reflect.Copy(reflect.ValueOf(b), v)
		return hexutil.Encode(b), nil

	case abi.BytesTy:
		return hexutil.Encode(v.Bytes()), nil

	case abi.SliceTy, abi.ArrayTy:
		items := make([]interface{}, v.Len())
		for i := range items {
			item, err := fromGo(*t.Elem, v.Index(i))
			if err != nil {
				return nil, err
			}
			items[i] = item
		}
		return items, nil

	case abi.TupleTy:
		obj := make(map[string]interface{}, len(t.TupleElems))
		for i, elem := range t.TupleElems {
			field, err := fromGo(*elem, v.Field(i))
			if err != nil {
				return nil, err
			}
			obj[t.TupleRawNames[i]] = field
		}
		return obj, nil
	}
	return nil, errors.Wrapf(ErrInvalidEncoding, "cannot convert %s from %s", t.String(), v.Type())
}

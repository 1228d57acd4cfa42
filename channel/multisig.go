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

package channel

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Creation code of a minimal proxy (EIP-1167) delegating to a master copy:
// prefix ++ master copy address ++ suffix.
var (
	proxyInitCodePrefix = common.FromHex("0x3d602d80600a3d3981f3363d3d373d3d3d363d73")
	proxyInitCodeSuffix = common.FromHex("0x5af43d82803e903d91602b57fd5bf3")
)

// MultisigAddress returns the CREATE2 address at which the proxy factory
// deploys the multisig of the owners.
func MultisigAddress(addresses CriticalAddresses, owners [2]common.Address) common.Address {
	salt := crypto.Keccak256Hash(
		common.LeftPadBytes(owners[0].Bytes(), 32),
		common.LeftPadBytes(owners[1].Bytes(), 32))

	initCode := make([]byte, 0, len(proxyInitCodePrefix)+common.AddressLength+len(proxyInitCodeSuffix))
	initCode = append(initCode, proxyInitCodePrefix...)
	initCode = append(initCode, addresses.MultisigMastercopy.Bytes()...)
	initCode = append(initCode, proxyInitCodeSuffix...)

	return crypto.CreateAddress2(addresses.ProxyFactory, salt, crypto.Keccak256(initCode))
}

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

package session

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/hyperledger-labs/perun-appchannel"
	"github.com/hyperledger-labs/perun-appchannel/abiencoding"
	"github.com/hyperledger-labs/perun-appchannel/app"
	"github.com/hyperledger-labs/perun-appchannel/channel"
	"github.com/hyperledger-labs/perun-appchannel/identity"
	"github.com/hyperledger-labs/perun-appchannel/lock"
	"github.com/hyperledger-labs/perun-appchannel/protocol"
)

// Error type is used to define error constants for this package.
type Error string

// Error implements error interface.
func (e Error) Error() string {
	return string(e)
}

// Definition of error constants for this package.
const (
	// For failed pre-condition.
	ErrSessionClosed     Error = "action not allowed on a closed session"
	ErrSessionNotStarted Error = "session not started"
	ErrReplyPending      Error = "a reply is already awaited for the process"
	ErrUnknownMethod     Error = "unknown method"

	// For invalid config.
	ErrNoAppRegistry Error = "app registry is required"
	ErrNoTimeout     Error = "response timeout must be positive"
)

// Enumeration of valid resource types for used in ResourceNotFound and
// ResourceExists errors.
const (
	ResTypeChannel     perun.ResourceType = "channel"
	ResTypeApp         perun.ResourceType = "app"
	ResTypePeerID      perun.ResourceType = "peerID"
	ResTypeWithdrawal  perun.ResourceType = "withdrawal"
	ResTypeAppRegistry perun.ResourceType = "appDefinition"
)

// Enumeration of valid argument names for using in InvalidArgument error.
const (
	ArgNameParams          perun.ArgumentName = "params"
	ArgNameCounterparty    perun.ArgumentName = "counterparty"
	ArgNameAppIdentityHash perun.ArgumentName = "appIdentityHash"
	ArgNameMultisigAddress perun.ArgumentName = "multisigAddress"
	ArgNameAmount          perun.ArgumentName = "amount"
)

// runRef names what a protocol run acts on, for annotating its errors.
type runRef struct {
	protocol     perun.ProtocolName
	counterparty string
	multisig     common.Address
	app          common.Hash
}

// toAPIError inspects the error of a protocol run, constructs an
// appropriate APIError and returns it.
//
// Passed error must be non-nil.
func (s *Session) toAPIError(err error, ref runRef) perun.APIError {
	var apiErr perun.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	switch {
	case errors.Is(err, protocol.ErrTimeout), errors.Is(err, lock.ErrNotAcquired):
		return perun.NewAPIErrPeerRequestTimedOut(err, ref.counterparty, s.timeoutCfg.response.String())

	case errors.Is(err, protocol.ErrCounterparty):
		return perun.NewAPIErrPeerRejected(err, ref.counterparty, err.Error())

	case errors.Is(err, protocol.ErrDivergedState):
		return perun.NewAPIErrStateDiverged(err, ref.multisig.Hex())

	case errors.Is(err, channel.ErrUnknownApp):
		return perun.NewAPIErrResourceNotFound(ResTypeApp, ref.app.Hex())

	case errors.Is(err, perun.ErrRecordNotFound):
		return perun.NewAPIErrResourceNotFound(ResTypeChannel, ref.multisig.Hex())

	case errors.Is(err, app.ErrUnknownApp):
		return perun.NewAPIErrResourceNotFound(ResTypeAppRegistry, errors.Cause(err).Error())

	case errors.Is(err, protocol.ErrChannelExists):
		return perun.NewAPIErrResourceExists(ResTypeChannel, ref.multisig.Hex())

	case errors.Is(err, protocol.ErrValidationFailed), errors.Is(err, protocol.ErrValidationTimedOut),
		errors.Is(err, protocol.ErrInvalidParams), errors.Is(err, protocol.ErrInsufficientFunds),
		errors.Is(err, channel.ErrNegativeBalance), errors.Is(err, channel.ErrInvalidVersion),
		errors.Is(err, channel.ErrNoActionEncoding), errors.Is(err, channel.ErrUnsupportedOutcomeType),
		errors.Is(err, app.ErrActionNotAllowed), errors.Is(err, identity.ErrInvalidIdentifier),
		errors.Is(err, abiencoding.ErrInvalidEncoding), errors.Is(err, abiencoding.ErrInvalidValue):
		return perun.NewAPIErrInvalidArgument(err, ArgNameParams, string(ref.protocol))

	case errors.Is(err, protocol.ErrInvalidMessage), errors.Is(err, protocol.ErrSyncFailed):
		return perun.NewAPIErrProtocolAborted(err, string(ref.protocol), "")
	}
	return perun.NewAPIErrUnknownInternal(err)
}

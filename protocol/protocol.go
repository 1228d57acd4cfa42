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

// Package protocol runs the protocols between the two users of a channel.
//
// Each protocol is a sequence of instructions executed by a Runner. An
// instruction names one of a closed set of opcodes; the effects of the
// opcodes (signing, sending, persisting) are provided by the caller as
// Handlers. Only the validation opcode can be customized, via Register.
//
// Persisting instructions are the last instructions of a step, so a failed
// protocol never leaves a partial update behind.
package protocol

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hyperledger-labs/perun-appchannel"
	"github.com/hyperledger-labs/perun-appchannel/channel"
	"github.com/hyperledger-labs/perun-appchannel/commitment"
)

// Error type is used to define error constants for this package.
type Error string

// Error implements error interface.
func (e Error) Error() string {
	return string(e)
}

// Definition of error constants for this package.
const (
	ErrTimeout              Error = "timed out waiting for response"
	ErrValidationTimedOut   Error = "validation timed out"
	ErrValidationFailed     Error = "validation failed"
	ErrCounterparty         Error = "counterparty aborted protocol"
	ErrDivergedState        Error = "channel state diverged from counterparty"
	ErrOpcodeNotRegistrable Error = "opcode does not accept a handler"
	ErrValidatorRegistered  Error = "validator already registered"
	ErrUnknownProtocol      Error = "unknown protocol"
	ErrInvalidMessage       Error = "invalid protocol message"
	ErrInvalidParams        Error = "invalid protocol params"
	ErrInsufficientFunds    Error = "insufficient free balance"
	ErrChannelExists        Error = "channel exists"
	ErrSyncFailed           Error = "sync could not reconcile channel"
)

// taggedError is an error of this package with the error that caused it.
// errors.Is matches both.
type taggedError struct {
	tag   Error
	cause error
}

func tag(t Error, cause error) error {
	return &taggedError{tag: t, cause: cause}
}

func (e *taggedError) Error() string { return string(e.tag) + ": " + e.cause.Error() }

func (e *taggedError) Is(target error) bool { return target == e.tag }

func (e *taggedError) Unwrap() error { return e.cause }

// Opcode identifies the kind of an instruction.
type Opcode int

// Opcodes of the protocol instructions.
const (
	OpSign Opcode = iota
	OpValidate
	IOSend
	IOSendAndWait
	PersistStateChannel
	PersistAppInstance
)

// String implements fmt.Stringer.
func (o Opcode) String() string {
	return [...]string{
		"OP_SIGN",
		"OP_VALIDATE",
		"IO_SEND",
		"IO_SEND_AND_WAIT",
		"PERSIST_STATE_CHANNEL",
		"PERSIST_APP_INSTANCE",
	}[o]
}

// PersistAppInstanceKind selects the change PersistAppInstance writes.
type PersistAppInstanceKind int

// Kinds of PersistAppInstance.
const (
	CreateProposal PersistAppInstanceKind = iota
	RemoveProposal
	CreateInstance
	UpdateInstance
	RemoveInstance
)

// String implements fmt.Stringer.
func (k PersistAppInstanceKind) String() string {
	return [...]string{"createProposal", "removeProposal", "createInstance", "updateInstance", "removeInstance"}[k]
}

// Role is the side of the protocol a user runs.
type Role int

// Roles in a protocol.
const (
	Initiator Role = iota
	Responder
)

// String implements fmt.Stringer.
func (r Role) String() string {
	return [...]string{"initiator", "responder"}[r]
}

// ValidationContext is passed to the validator. AppInstance is the app the
// protocol creates or changes, nil for setup and sync.
type ValidationContext struct {
	StateChannel *channel.StateChannel
	Params       interface{}
	Role         Role
	AppInstance  *channel.AppInstance
}

// Validator accepts or rejects a protocol step. Returning an error aborts
// the protocol with that error.
type Validator func(ctx context.Context, protocol perun.ProtocolName, vc ValidationContext) error

type (
	// SignHandler signs the digest with the key of the user.
	SignHandler func(digest common.Hash) ([]byte, error)

	// SendHandler delivers the message to the counterparty.
	SendHandler func(ctx context.Context, msg perun.ProtocolMessage) error

	// SendAndWaitHandler delivers the message and returns the reply with the
	// same process id. It must return when ctx is done.
	SendAndWaitHandler func(ctx context.Context, msg perun.ProtocolMessage) (perun.ProtocolMessage, error)

	// PersistStateChannelHandler writes the channel and the commitments.
	PersistStateChannelHandler func(ctx context.Context, ch *channel.StateChannel, c perun.Commitments) error

	// PersistAppInstanceHandler writes the change of one app in the channel.
	PersistAppInstanceHandler func(ctx context.Context, kind PersistAppInstanceKind, ch *channel.StateChannel,
		app *channel.AppInstance, c perun.Commitments) error
)

// Handlers implement the effects of the opcodes.
type Handlers struct {
	Sign                SignHandler
	Send                SendHandler
	SendAndWait         SendAndWaitHandler
	PersistStateChannel PersistStateChannelHandler
	PersistAppInstance  PersistAppInstanceHandler
}

// Instruction is one step of a protocol.
type Instruction interface {
	Opcode() Opcode
}

type (
	// Sign produces the user's signature on Digest.
	Sign struct{ Digest common.Hash }

	// Validate runs the validator.
	Validate struct{ Context ValidationContext }

	// Send sends Message without waiting.
	Send struct{ Message perun.ProtocolMessage }

	// SendAndWait sends Message and waits for the reply.
	SendAndWait struct{ Message perun.ProtocolMessage }

	// PersistChannel writes the channel.
	PersistChannel struct {
		StateChannel *channel.StateChannel
		Commitments  perun.Commitments
	}

	// PersistApp writes the change of one app.
	PersistApp struct {
		Kind         PersistAppInstanceKind
		StateChannel *channel.StateChannel
		AppInstance  *channel.AppInstance
		Commitments  perun.Commitments
	}
)

// Opcode implements Instruction.
func (Sign) Opcode() Opcode { return OpSign }

// Opcode implements Instruction.
func (Validate) Opcode() Opcode { return OpValidate }

// Opcode implements Instruction.
func (Send) Opcode() Opcode { return IOSend }

// Opcode implements Instruction.
func (SendAndWait) Opcode() Opcode { return IOSendAndWait }

// Opcode implements Instruction.
func (PersistChannel) Opcode() Opcode { return PersistStateChannel }

// Opcode implements Instruction.
func (PersistApp) Opcode() Opcode { return PersistAppInstance }

// Reader gives read access to the persisted channels and commitments.
type Reader interface {
	GetStateChannel(_ context.Context, multisig common.Address) (*channel.StateChannel, error)
	GetSetStateCommitment(_ context.Context, identityHash common.Hash) (*commitment.SetStateCommitment, error)
	GetConditionalTransactionCommitment(_ context.Context, identityHash common.Hash) (
		*commitment.ConditionalTransactionCommitment, error)
}

// Result is the outcome of a successful protocol run.
type Result struct {
	Protocol     perun.ProtocolName
	ProcessID    string
	Role         Role
	Counterparty string
	StateChannel *channel.StateChannel
	// AppInstance is the app created, changed or removed.
	AppInstance *channel.AppInstance
	// Rejected is set when an uninstall removed a proposal.
	Rejected bool
}

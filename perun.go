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

// Package perun defines the types shared by the packages of the app channel
// node: the messages exchanged between nodes, the interfaces of the
// collaborators a session is built from and the errors returned by its API.
package perun

import (
	"context"
	"encoding/json"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hyperledger-labs/perun-appchannel/channel"
	"github.com/hyperledger-labs/perun-appchannel/commitment"
)

// Error type is used to define error constants for this package.
type Error string

// Error implements error interface.
func (e Error) Error() string {
	return string(e)
}

// ErrRecordNotFound is returned by a Store, when no record exists for the key.
const ErrRecordNotFound Error = "record not found"

// ProtocolName identifies one of the protocols run between two nodes.
type ProtocolName string

// Protocols run by the node.
const (
	SetupProtocol      ProtocolName = "setup"
	ProposeProtocol    ProtocolName = "propose"
	InstallProtocol    ProtocolName = "install"
	UpdateProtocol     ProtocolName = "update"
	TakeActionProtocol ProtocolName = "takeAction"
	UninstallProtocol  ProtocolName = "uninstall"
	SyncProtocol       ProtocolName = "sync"
)

// UnassignedSeqNo is the sequence number of every message that is a reply
// to a message the sender waits for.
const UnassignedSeqNo = -1

// EventName identifies an event emitted by a session.
type EventName string

// Events emitted by a session. Each event except EventProtocolMessage has a
// failed twin, see EventName.Failed.
const (
	EventChannelCreated  EventName = "CHANNEL_CREATED_EVENT"
	EventProposeInstall  EventName = "PROPOSE_INSTALL_EVENT"
	EventInstall         EventName = "INSTALL_EVENT"
	EventUpdateState     EventName = "UPDATE_STATE_EVENT"
	EventUninstall       EventName = "UNINSTALL_EVENT"
	EventRejectInstall   EventName = "REJECT_INSTALL_EVENT"
	EventSync            EventName = "SYNC_EVENT"
	EventProtocolMessage EventName = "PROTOCOL_MESSAGE_EVENT"
)

// Failed returns the name of the event emitted when the operation fails.
// Eg: INSTALL_EVENT -> INSTALL_FAILED_EVENT.
func (e EventName) Failed() EventName {
	return EventName(strings.TrimSuffix(string(e), "_EVENT") + "_FAILED_EVENT")
}

// ProtocolMessageType is the envelope type of all messages exchanged between
// the sessions of two nodes.
const ProtocolMessageType = string(EventProtocolMessage)

type (
	// ProtocolMessage is one step of a protocol run.
	//
	// Seq is 1 for the message starting a run on the responder and
	// UnassignedSeqNo for replies. Error is set only when the sender aborted
	// the run.
	ProtocolMessage struct {
		Protocol            ProtocolName    `json:"protocol"`
		ProcessID           string          `json:"processID"`
		Seq                 int             `json:"seq"`
		To                  string          `json:"to"`
		From                string          `json:"from"`
		Params              json.RawMessage `json:"params,omitempty"`
		CustomData          json.RawMessage `json:"customData,omitempty"`
		PrevMessageReceived *int64          `json:"prevMessageReceived,omitempty"`
		Error               string          `json:"error,omitempty"`
	}

	// Envelope is the unit handed to a Messenger.
	Envelope struct {
		Type string          `json:"type"`
		From string          `json:"from"`
		To   string          `json:"to"`
		Data ProtocolMessage `json:"data"`
	}
)

// Messenger delivers envelopes to the node with the public identifier in
// Envelope.To and receives the envelopes addressed to the own node.
type Messenger interface {
	Send(ctx context.Context, env Envelope) error
	Inbox() <-chan Envelope
	Close() error
}

// Commitments are the signed commitments persisted together with a channel.
type Commitments struct {
	SetState      []*commitment.SetStateCommitment
	ConditionalTx []*commitment.ConditionalTransactionCommitment
}

// Store persists channels and the commitments backing them.
//
// SaveStateChannel writes the channel and the commitments atomically.
// Set state and conditional transaction commitments are stored per app
// identity hash, a later save replaces the previous one. Getters return an
// error wrapping ErrRecordNotFound for unknown keys.
type Store interface {
	GetSchemaVersion(context.Context) (int, error)
	UpdateSchemaVersion(_ context.Context, version int) error

	GetAllStateChannels(context.Context) ([]*channel.StateChannel, error)
	GetStateChannel(_ context.Context, multisig common.Address) (*channel.StateChannel, error)
	GetStateChannelByAppIdentityHash(_ context.Context, identityHash common.Hash) (*channel.StateChannel, error)
	SaveStateChannel(_ context.Context, ch *channel.StateChannel, c Commitments) error
	// RemoveAppProposal is idempotent.
	RemoveAppProposal(_ context.Context, multisig common.Address, identityHash common.Hash) error

	GetSetStateCommitment(_ context.Context, identityHash common.Hash) (*commitment.SetStateCommitment, error)
	GetConditionalTransactionCommitment(_ context.Context, identityHash common.Hash) (
		*commitment.ConditionalTransactionCommitment, error)
	SaveWithdrawCommitment(_ context.Context, multisig common.Address, c *commitment.WithdrawCommitment) error
	GetWithdrawCommitment(_ context.Context, multisig common.Address) (*commitment.WithdrawCommitment, error)

	Close() error
}

// LockService provides mutual exclusion by name. The returned release
// function must be called exactly once.
type LockService interface {
	Acquire(ctx context.Context, name string) (release func(), _ error)
}

// Signer signs digests with the key behind its public identifier.
type Signer interface {
	PublicIdentifier() string
	Address() common.Address
	SignDigest(digest common.Hash) ([]byte, error)
}

// PeerID represents any participant in the off-chain network that the user wants to transact with.
type PeerID struct {
	// Name assigned by user for referring to this peer in API requests to the node.
	// It is unique within a session on the node.
	Alias string `yaml:"alias"`

	// Public identifier of the peer, it also encodes the signing key.
	PublicIdentifier string `yaml:"public_identifier"`

	CommAddr string `yaml:"comm_address"`
	CommType string `yaml:"comm_type"`
}

// OwnAlias is the alias for the entry of the user's own PeerID details.
// It will be used when translating addresses in incoming messages / proposals to aliases.
const OwnAlias = "self"

// IDReader represents a read only ID Provider.
type IDReader interface {
	ReadByAlias(alias string) (p PeerID, contains bool)
	ReadByIdentifier(identifier string) (p PeerID, contains bool)
}

// IDProvider represents a functionality to access peer IDs of the user.
type IDProvider interface {
	IDReader
	Write(alias string, p PeerID) error
	Delete(alias string) error
	UpdateStorage() error
}

// Currency represents a parser that can convert between string representation of an asset amount and
// its equivalent value in base units, as held in the free balance, represented as a big integer.
type Currency interface {
	Parse(string) (*big.Int, error)
	Print(*big.Int) string
	Symbol() string
	Asset() common.Address
}

// CurrencyRegistry provides an interface to register and retrieve currency
// parsers.
type CurrencyRegistry interface {
	ROCurrencyRegistry
	Register(symbol string, asset common.Address, maxDecimals uint8) (Currency, error)
}

// ROCurrencyRegistry provides an interface to retrieve currency parsers.
type ROCurrencyRegistry interface {
	IsRegistered(symbol string) bool
	Currency(symbol string) Currency
	ByAsset(asset common.Address) Currency
	Symbols() []string
}

// NodeConfig represents the configurable parameters of an app channel node.
type NodeConfig struct {
	LogLevel string // LogLevel represents the log level for the node and all derived loggers.
	LogFile  string // LogFile represents the file to write logs. Empty string represents stdout.

	KeystorePath string // Directory containing the keystore file of the signer.
	SignerAddr   string // Address of the signing key in the keystore.
	Password     string // Password for unlocking the signing key.
	PrivateKey   string // Hex encoded signing key. If set, the keystore is not used. Only for dev setups.

	CommAddr      string // Listen address of the websocket transport between nodes.
	IDProviderURL string // Path to the yaml file of known peers.

	StoreType    string // Either "memory" or "sqlite".
	DatabaseFile string // Path to the sqlite database file.

	ResponseTimeout time.Duration // Timeout to wait for a response from the peer.
	RateLimit       float64       // Inbound messages per second accepted from each peer.
	RateBurst       int           // Burst size of the inbound rate limit.

	RPCAddr     string // Listen address of the json-rpc api.
	MetricsAddr string // Listen address of the metrics endpoint. Empty string disables it.

	Network channel.NetworkContext    // Addresses of the contracts the channels are bound to.
	Apps    map[string]common.Address // App definition address of each built-in app, by app name.
}

// APIError represents the newer version of error returned by node, session
// and channel APIs.
//
// Along with the error message, it also includes the category and code for
// the error and additional info as defined in the error code.
type APIError interface {
	Category() ErrorCategory
	Code() ErrorCode
	Message() string
	AddInfo() interface{}
	Error() string
}

// ErrorCategory represents the category of the error, which describes how the
// error should be handled by the client.
type ErrorCategory int

const (
	// ParticipantError is caused by one of the channel participants not acting
	// as per the perun protocol.
	//
	// To resolve this, the client should negotiate with the peer outside of
	// this system to act in accordance with the perun protocol.
	ParticipantError ErrorCategory = iota
	// ClientError is caused by the errors in the request from the client. It
	// could be errors in arguments or errors in configuration provided by the
	// client to access the external systems or errors in the state of
	// external systems not managed by the node.
	//
	// To resolve this, the client should provide valid arguments, provide
	// correct configuration to access the external systems or fix the
	// external systems; and then retry.
	ClientError
	// ProtocolFatalError is caused when the protocol run aborted in a state
	// from which the node cannot continue on its own. The channel may have to
	// be synced before it can be used again.
	ProtocolFatalError
	// InternalError is caused due to unintended behavior in the node software.
	//
	// To resolve this, the client should send the error report to the node
	// maintainers.
	InternalError
)

// String implements the stringer interface for ErrorCategory.
func (c ErrorCategory) String() string {
	return [...]string{
		"Participant",
		"Client",
		"Protocol Fatal",
		"Internal",
	}[c]
}

// ErrorCode is a numeric code assigned to identify the specific type of error.
// The keys in the additional field is fixed for each error code.
type ErrorCode int

// Error code definitions.
const (
	ErrPeerRequestTimedOut ErrorCode = 101
	ErrPeerRejected        ErrorCode = 102
	ErrStateDiverged       ErrorCode = 103
	ErrResourceNotFound    ErrorCode = 201
	ErrResourceExists      ErrorCode = 202
	ErrInvalidArgument     ErrorCode = 203
	ErrFailedPreCondition  ErrorCode = 204
	ErrInvalidConfig       ErrorCode = 205
	ErrProtocolAborted     ErrorCode = 301
	ErrUnknownInternal     ErrorCode = 401
)

type (
	// ErrInfoPeerRequestTimedOut represents the fields in the additional info for
	// ErrPeerRequestTimedOut.
	ErrInfoPeerRequestTimedOut struct {
		Peer    string
		Timeout string
	}

	// ErrInfoPeerRejected represents the fields in the additional info for
	// ErrPeerRejected.
	ErrInfoPeerRejected struct {
		Peer   string
		Reason string
	}

	// ErrInfoStateDiverged represents the fields in the additional info for
	// ErrStateDiverged.
	ErrInfoStateDiverged struct {
		MultisigAddress string
	}

	// ErrInfoResourceNotFound represents the fields in the additional info for
	// ErrResourceNotFound.
	ErrInfoResourceNotFound struct {
		Type string
		ID   string
	}

	// ErrInfoResourceExists represents the fields in the additional info for
	// ErrResourceExists.
	ErrInfoResourceExists struct {
		Type string
		ID   string
	}

	// ErrInfoInvalidArgument represents the fields in the additional info for
	// ErrInvalidArgument.
	ErrInfoInvalidArgument struct {
		Name        string
		Value       string
		Requirement string
	}

	// ErrInfoInvalidConfig represents the fields in the additional info for
	// ErrInvalidConfig.
	ErrInfoInvalidConfig struct {
		Name  string
		Value string
	}

	// ErrInfoProtocolAborted represents the fields in the additional info for
	// ErrProtocolAborted.
	ErrInfoProtocolAborted struct {
		Protocol  string
		ProcessID string
	}
)

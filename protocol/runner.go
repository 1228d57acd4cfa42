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

package protocol

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/hyperledger-labs/perun-appchannel"
	"github.com/hyperledger-labs/perun-appchannel/app"
	"github.com/hyperledger-labs/perun-appchannel/channel"
	"github.com/hyperledger-labs/perun-appchannel/log"
)

// Runner executes the protocols of one user. It is safe for concurrent use;
// callers must ensure only one protocol runs per channel at a time.
type Runner struct {
	log.Logger

	network    channel.NetworkContext
	identifier string
	apps       *app.Registry
	reader     Reader
	handlers   Handlers
	timeout    time.Duration

	mtx       sync.Mutex
	validator Validator
}

// NewRunner returns a runner for the user with the public identifier.
// The timeout bounds each validation and each wait for the counterparty.
func NewRunner(network channel.NetworkContext, identifier string, apps *app.Registry, reader Reader,
	handlers Handlers, timeout time.Duration) *Runner {
	return &Runner{
		Logger:     log.NewLoggerWithField("identifier", identifier),
		network:    network,
		identifier: identifier,
		apps:       apps,
		reader:     reader,
		handlers:   handlers,
		timeout:    timeout,
	}
}

// Identifier returns the public identifier of the user.
func (r *Runner) Identifier() string { return r.identifier }

// Timeout returns the bound on validations and waits.
func (r *Runner) Timeout() time.Duration { return r.timeout }

// Register sets the validator. Only OpValidate accepts a handler and it can
// be set only once.
func (r *Runner) Register(op Opcode, v Validator) error {
	if op != OpValidate {
		return errors.Wrap(ErrOpcodeNotRegistrable, op.String())
	}
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if r.validator != nil {
		return ErrValidatorRegistered
	}
	r.validator = v
	return nil
}

// RunInitiator runs the initiator side of the protocol named by params.
func (r *Runner) RunInitiator(ctx context.Context, params Params) (Result, error) {
	p := r.newProcess(params.Protocol(), uuid.NewString(), Initiator)
	p.Debug("Starting protocol")

	var res Result
	var err error
	switch params := params.(type) {
	case SetupParams:
		res, err = p.setupInitiator(ctx, params)
	case ProposeParams:
		res, err = p.proposeInitiator(ctx, params)
	case InstallParams:
		res, err = p.installInitiator(ctx, params)
	case UpdateParams, TakeActionParams:
		res, err = p.updateInitiator(ctx, params)
	case UninstallParams:
		res, err = p.uninstallInitiator(ctx, params)
	case SyncParams:
		res, err = p.syncInitiator(ctx, params)
	default:
		err = errors.Wrapf(ErrUnknownProtocol, "params of type %T", params)
	}
	return p.finish(ctx, res, err)
}

// RunResponder runs the responder side of the protocol started by msg.
func (r *Runner) RunResponder(ctx context.Context, msg perun.ProtocolMessage) (Result, error) {
	p := r.newProcess(msg.Protocol, msg.ProcessID, Responder)
	p.counterparty = msg.From
	p.received = time.Now()
	p.Debug("Responding to protocol")

	res, err := p.respond(ctx, msg)
	return p.finish(ctx, res, err)
}

func (p *process) respond(ctx context.Context, msg perun.ProtocolMessage) (Result, error) {
	if msg.To != p.runner.identifier {
		return Result{}, errors.Wrapf(ErrInvalidMessage, "addressed to %s", msg.To)
	}
	if msg.Seq != 1 {
		return Result{}, errors.Wrapf(ErrInvalidMessage, "first message has seq %d", msg.Seq)
	}
	params, err := DecodeParams(msg.Protocol, msg.Params)
	if err != nil {
		return Result{}, err
	}
	switch params := params.(type) {
	case SetupParams:
		return p.setupResponder(ctx, msg, params)
	case ProposeParams:
		return p.proposeResponder(ctx, msg, params)
	case InstallParams:
		return p.installResponder(ctx, msg, params)
	case UpdateParams, TakeActionParams:
		return p.updateResponder(ctx, msg, params)
	case UninstallParams:
		return p.uninstallResponder(ctx, msg, params)
	case SyncParams:
		return p.syncResponder(ctx, msg, params)
	}
	return Result{}, errors.Wrapf(ErrUnknownProtocol, "%q", string(msg.Protocol))
}

// process is one run of a protocol.
type process struct {
	log.Logger
	runner *Runner

	protocol     perun.ProtocolName
	processID    string
	role         Role
	counterparty string
	received     time.Time
	sent         bool
}

func (r *Runner) newProcess(protocol perun.ProtocolName, processID string, role Role) *process {
	return &process{
		Logger: r.WithFields(log.Fields{
			"protocol":   protocol,
			"process-id": processID,
			"role":       role.String(),
		}),
		runner:    r,
		protocol:  protocol,
		processID: processID,
		role:      role,
	}
}

// finish completes the result and, when the protocol failed, tells the
// counterparty unless it already knows.
func (p *process) finish(ctx context.Context, res Result, err error) (Result, error) {
	if err == nil {
		res.Protocol, res.ProcessID, res.Role, res.Counterparty = p.protocol, p.processID, p.role, p.counterparty
		p.Info("Protocol completed")
		return res, nil
	}
	p.WithError(err).Error("Protocol failed")

	notify := p.role == Responder || p.sent
	if errors.Is(err, ErrCounterparty) || errors.Is(err, ErrTimeout) || p.counterparty == "" {
		notify = false
	}
	if notify {
		msg := p.message(perun.UnassignedSeqNo, nil, nil)
		msg.Error = err.Error()
		if sendErr := p.runner.handlers.Send(ctx, msg); sendErr != nil {
			p.WithError(sendErr).Warn("Sending error reply")
		}
	}
	return Result{}, err
}

func (p *process) message(seq int, params json.RawMessage, data json.RawMessage) perun.ProtocolMessage {
	msg := perun.ProtocolMessage{
		Protocol:   p.protocol,
		ProcessID:  p.processID,
		Seq:        seq,
		To:         p.counterparty,
		From:       p.runner.identifier,
		Params:     params,
		CustomData: data,
	}
	if !p.received.IsZero() {
		received := p.received.UnixNano() / int64(time.Millisecond)
		msg.PrevMessageReceived = &received
	}
	return msg
}

// output holds what an instruction produced.
type output struct {
	signature []byte
	reply     perun.ProtocolMessage
}

func (p *process) exec(ctx context.Context, in Instruction) (output, error) {
	h := p.runner.handlers
	switch in := in.(type) {
	case Sign:
		sig, err := h.Sign(in.Digest)
		return output{signature: sig}, errors.WithMessage(err, "signing")

	case Validate:
		return output{}, p.runner.validate(ctx, p.protocol, in.Context)

	case Send:
		p.sent = true
		return output{}, errors.WithMessage(h.Send(ctx, in.Message), "sending message")

	case SendAndWait:
		p.sent = true
		reply, err := p.runner.sendAndWait(ctx, in.Message)
		if err == nil {
			p.received = time.Now()
		}
		return output{reply: reply}, err

	case PersistChannel:
		return output{}, errors.WithMessage(
			h.PersistStateChannel(ctx, in.StateChannel, in.Commitments), "persisting channel")

	case PersistApp:
		return output{}, errors.WithMessagef(
			h.PersistAppInstance(ctx, in.Kind, in.StateChannel, in.AppInstance, in.Commitments),
			"persisting app instance (%s)", in.Kind)
	}
	return output{}, errors.Errorf("unknown instruction %T", in)
}

func (r *Runner) validate(ctx context.Context, protocol perun.ProtocolName, vc ValidationContext) error {
	r.mtx.Lock()
	v := r.validator
	r.mtx.Unlock()
	if v == nil {
		return nil
	}

	vctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- v(vctx, protocol, vc) }()

	var err error
	select {
	case err = <-done:
		if err == nil {
			return nil
		}
	case <-vctx.Done():
	}
	switch {
	case ctx.Err() != nil:
		return errors.WithStack(ctx.Err())
	case vctx.Err() != nil:
		return errors.Wrapf(ErrValidationTimedOut, "%s protocol: after %v", protocol, r.timeout)
	}
	return errors.Wrap(ErrValidationFailed, err.Error())
}

func (r *Runner) sendAndWait(ctx context.Context, msg perun.ProtocolMessage) (perun.ProtocolMessage, error) {
	wctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	reply, err := r.handlers.SendAndWait(wctx, msg)
	if err != nil {
		if ctx.Err() == nil && wctx.Err() != nil {
			return reply, errors.Wrapf(ErrTimeout, "%s protocol: no response from %s after %g seconds",
				msg.Protocol, msg.To, r.timeout.Seconds())
		}
		return reply, errors.WithMessage(err, "sending message")
	}
	if reply.Error != "" {
		return reply, errors.Wrap(ErrCounterparty, reply.Error)
	}
	if reply.ProcessID != msg.ProcessID || reply.From != msg.To {
		return reply, errors.Wrapf(ErrInvalidMessage, "reply of process %s from %s", reply.ProcessID, reply.From)
	}
	return reply, nil
}

func (p *process) sign(ctx context.Context, digest common.Hash) ([]byte, error) {
	out, err := p.exec(ctx, Sign{Digest: digest})
	return out.signature, err
}

func (p *process) validate(ctx context.Context, ch *channel.StateChannel, params Params, app *channel.AppInstance) error {
	_, err := p.exec(ctx, Validate{Context: ValidationContext{
		StateChannel: ch,
		Params:       params,
		Role:         p.role,
		AppInstance:  app,
	}})
	return err
}

// send sends the step data without waiting. Seq is always unassigned, as
// only the first message of a run starts a protocol.
func (p *process) send(ctx context.Context, data interface{}) error {
	msg, err := p.encode(perun.UnassignedSeqNo, nil, data)
	if err != nil {
		return err
	}
	_, err = p.exec(ctx, Send{Message: msg})
	return err
}

// sendAndWait sends the step data and decodes the custom data of the reply
// into reply.
func (p *process) sendAndWait(ctx context.Context, seq int, params Params, data, reply interface{}) error {
	var rawParams json.RawMessage
	if params != nil {
		var err error
		if rawParams, err = json.Marshal(params); err != nil {
			return errors.WithStack(err)
		}
	}
	msg, err := p.encode(seq, rawParams, data)
	if err != nil {
		return err
	}
	out, err := p.exec(ctx, SendAndWait{Message: msg})
	if err != nil {
		return err
	}
	return decodeCustomData(out.reply, reply)
}

func (p *process) persistChannel(ctx context.Context, ch *channel.StateChannel, c perun.Commitments) error {
	_, err := p.exec(ctx, PersistChannel{StateChannel: ch, Commitments: c})
	return err
}

func (p *process) persistApp(ctx context.Context, kind PersistAppInstanceKind, ch *channel.StateChannel,
	app *channel.AppInstance, c perun.Commitments) error {
	_, err := p.exec(ctx, PersistApp{Kind: kind, StateChannel: ch, AppInstance: app, Commitments: c})
	return err
}

func (p *process) encode(seq int, params json.RawMessage, data interface{}) (perun.ProtocolMessage, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return perun.ProtocolMessage{}, errors.WithStack(err)
	}
	return p.message(seq, params, raw), nil
}

func decodeCustomData(msg perun.ProtocolMessage, v interface{}) error {
	if err := json.Unmarshal(msg.CustomData, v); err != nil {
		return errors.Wrapf(ErrInvalidMessage, "custom data: %v", err)
	}
	return nil
}

// loadChannel loads the channel the protocol runs on and sets the counterparty.
func (p *process) loadChannel(ctx context.Context, multisig common.Address) (*channel.StateChannel, error) {
	ch, err := p.runner.reader.GetStateChannel(ctx, multisig)
	if err != nil {
		return nil, errors.WithMessagef(err, "loading channel %s", multisig.Hex())
	}
	counterparty, err := ch.Counterparty(p.runner.identifier)
	if err != nil {
		return nil, err
	}
	if p.role == Responder && counterparty != p.counterparty {
		return nil, errors.Wrapf(ErrInvalidMessage, "%s is not a user of channel %s", p.counterparty, multisig.Hex())
	}
	p.counterparty = counterparty
	return ch, nil
}

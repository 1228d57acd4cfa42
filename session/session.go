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
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cskr/pubsub"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	psync "perun.network/go-perun/pkg/sync"

	"github.com/hyperledger-labs/perun-appchannel"
	"github.com/hyperledger-labs/perun-appchannel/app"
	"github.com/hyperledger-labs/perun-appchannel/channel"
	"github.com/hyperledger-labs/perun-appchannel/log"
	"github.com/hyperledger-labs/perun-appchannel/metrics"
	"github.com/hyperledger-labs/perun-appchannel/protocol"
)

type (
	// Config of a session.
	Config struct {
		Network         channel.NetworkContext
		ResponseTimeout time.Duration
		Apps            *app.Registry

		// IDReader resolves the aliases of peers in requests. Optional.
		IDReader perun.IDReader
		// Metrics records the protocol runs. Optional.
		Metrics *metrics.Collector
	}

	// Session provides a context for the user to interact with a node. It
	// binds the signer of the user to a protocol runner and serves the
	// requests of the user and the messages of the peers.
	Session struct {
		log.Logger
		psync.Mutex

		id         string
		isOpen     bool
		started    bool
		signer     perun.Signer
		messenger  perun.Messenger
		store      perun.Store
		locks      perun.LockService
		ids        perun.IDReader
		network    channel.NetworkContext
		metrics    *metrics.Collector
		timeoutCfg timeoutConfig

		runner  *protocol.Runner
		pending *pendingReplies

		events       *pubsub.PubSub
		eventsMtx    sync.RWMutex
		eventsClosed atomic.Bool
		subsMtx      sync.Mutex
		subs         map[*Subscription]struct{}

		syncingMtx sync.Mutex
		syncing    map[common.Address]bool

		// ctx is cancelled on Close, it bounds the responder runs and the
		// background syncs.
		ctx    context.Context
		cancel context.CancelFunc
		wg     sync.WaitGroup
	}
)

// New returns a session for the user of the signer. The session owns the
// messenger and the store and closes them on Close. It does not process
// messages until it is started.
func New(cfg Config, signer perun.Signer, messenger perun.Messenger, store perun.Store,
	locks perun.LockService) (*Session, perun.APIError) {
	if cfg.Apps == nil {
		return nil, perun.NewAPIErrInvalidConfig(ErrNoAppRegistry, "apps", "nil")
	}
	if cfg.ResponseTimeout <= 0 {
		return nil, perun.NewAPIErrInvalidConfig(ErrNoTimeout, "responseTimeout", cfg.ResponseTimeout.String())
	}

	sessionID := calcSessionID(signer.Address().Bytes())
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		Logger:     log.NewLoggerWithField("session-id", sessionID),
		id:         sessionID,
		isOpen:     true,
		signer:     signer,
		messenger:  messenger,
		store:      store,
		locks:      locks,
		ids:        cfg.IDReader,
		network:    cfg.Network,
		metrics:    cfg.Metrics,
		timeoutCfg: timeoutConfig{response: cfg.ResponseTimeout},
		pending:    newPendingReplies(),
		events:     pubsub.New(eventsCapacity),
		subs:       make(map[*Subscription]struct{}),
		syncing:    make(map[common.Address]bool),
		ctx:        ctx,
		cancel:     cancel,
	}
	s.runner = protocol.NewRunner(cfg.Network, signer.PublicIdentifier(), cfg.Apps, store, protocol.Handlers{
		Sign:                signer.SignDigest,
		Send:                s.send,
		SendAndWait:         s.sendAndWait,
		PersistStateChannel: store.SaveStateChannel,
		PersistAppInstance:  s.persistApp,
	}, cfg.ResponseTimeout)
	return s, nil
}

// calcSessionID calculates the sessionID as sha256 hash over the signer address of the user and
// the current UTC time.
//
// A time dependant parameter is required to ensure the same user is able to open multiple sessions
// with the same node and have unique session id for each.
func calcSessionID(signerAddr []byte) string {
	h := sha256.New()
	_, _ = h.Write(signerAddr)
	_, _ = h.Write([]byte(time.Now().UTC().String()))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// ID returns the id of the session.
func (s *Session) ID() string {
	return s.id
}

// Identifier returns the public identifier of the user.
func (s *Session) Identifier() string {
	return s.signer.PublicIdentifier()
}

// RegisterValidator sets the validator run before the user signs anything.
// It can be set only once.
func (s *Session) RegisterValidator(v protocol.Validator) error {
	return s.runner.Register(protocol.OpValidate, v)
}

// Start starts processing the messages of peers and syncs every persisted
// channel with its counterparty. Failed syncs are logged and reported as
// SYNC_FAILED_EVENT, they do not fail Start.
func (s *Session) Start(ctx context.Context) perun.APIError {
	s.WithField("method", "Start").Info("Received request")
	s.Lock()
	if !s.isOpen {
		s.Unlock()
		return perun.NewAPIErrFailedPreCondition(ErrSessionClosed)
	}
	if !s.started {
		s.started = true
		s.wg.Add(1)
		go s.handleInbox()
	}
	s.Unlock()

	chs, err := s.store.GetAllStateChannels(ctx)
	if err != nil {
		apiErr := perun.NewAPIErrUnknownInternal(errors.WithMessage(err, "restoring channels"))
		s.WithFields(perun.APIErrAsMap("Start", apiErr)).Error(apiErr.Message())
		return apiErr
	}
	for _, ch := range chs {
		s.Debugf("found channel in persistence: %s", ch.MultisigAddress().Hex())
		if _, apiErr := s.Sync(ctx, ch.MultisigAddress()); apiErr != nil {
			s.WithField("multisig", ch.MultisigAddress().Hex()).Warn("Channel not synced on start")
		}
	}
	return nil
}

// Close stops the session and closes the messenger and the store. Protocols
// in progress are aborted.
func (s *Session) Close() perun.APIError {
	s.WithField("method", "Close").Info("Received request")
	s.Lock()
	if !s.isOpen {
		s.Unlock()
		return perun.NewAPIErrFailedPreCondition(ErrSessionClosed)
	}
	s.isOpen = false
	s.Unlock()

	s.cancel()
	msgErr := s.messenger.Close()
	s.wg.Wait()
	s.closeEvents()
	storeErr := s.store.Close()

	if err := errors.WithMessage(msgErr, "closing messenger"); err != nil {
		return perun.NewAPIErrUnknownInternal(err)
	}
	if err := errors.WithMessage(storeErr, "closing store"); err != nil {
		return perun.NewAPIErrUnknownInternal(err)
	}
	return nil
}

func (s *Session) checkOpen() perun.APIError {
	s.Lock()
	defer s.Unlock()
	if !s.isOpen {
		return perun.NewAPIErrFailedPreCondition(ErrSessionClosed)
	}
	return nil
}

func (s *Session) send(ctx context.Context, msg perun.ProtocolMessage) error {
	return s.messenger.Send(ctx, perun.Envelope{
		Type: perun.ProtocolMessageType,
		From: msg.From,
		To:   msg.To,
		Data: msg,
	})
}

func (s *Session) sendAndWait(ctx context.Context, msg perun.ProtocolMessage) (perun.ProtocolMessage, error) {
	slot, err := s.pending.add(msg.ProcessID)
	if err != nil {
		return perun.ProtocolMessage{}, err
	}
	defer s.pending.remove(msg.ProcessID)

	if err := s.send(ctx, msg); err != nil {
		return perun.ProtocolMessage{}, err
	}
	select {
	case reply := <-slot:
		return reply, nil
	case <-ctx.Done():
		return perun.ProtocolMessage{}, errors.WithStack(ctx.Err())
	}
}

func (s *Session) persistApp(ctx context.Context, kind protocol.PersistAppInstanceKind, ch *channel.StateChannel,
	inst *channel.AppInstance, c perun.Commitments) error {
	if kind == protocol.RemoveProposal {
		return s.store.RemoveAppProposal(ctx, ch.MultisigAddress(), inst.IdentityHash())
	}
	return s.store.SaveStateChannel(ctx, ch, c)
}

// handleInbox processes the messages of peers until the messenger is closed.
// Unknown messages and replies no one waits for are dropped.
func (s *Session) handleInbox() {
	defer s.wg.Done()
	for env := range s.messenger.Inbox() {
		msg := env.Data
		logger := s.WithFields(log.Fields{"from": env.From, "protocol": msg.Protocol, "process-id": msg.ProcessID})
		if env.Type != perun.ProtocolMessageType {
			logger.WithField("type", env.Type).Warn("Dropping message of unknown type")
			s.metrics.DroppedMessage("unknown-type")
			continue
		}
		if env.From != msg.From {
			logger.WithField("sender", msg.From).Warn("Dropping message with mismatched sender")
			s.metrics.DroppedMessage("sender-mismatch")
			continue
		}
		s.emit(perun.EventProtocolMessage, msg.From, msg)

		switch msg.Seq {
		case 1:
			s.wg.Add(1)
			go s.respond(msg)
		case perun.UnassignedSeqNo:
			if !s.pending.resolve(msg) {
				logger.Warn("Dropping reply, no protocol waits for it")
				s.metrics.DroppedMessage("unmatched-reply")
			}
		default:
			logger.WithField("seq", msg.Seq).Warn("Dropping message with unexpected seq")
			s.metrics.DroppedMessage("unexpected-seq")
		}
	}
}

// respond runs the responder side of the protocol under the channel lock.
func (s *Session) respond(msg perun.ProtocolMessage) {
	defer s.wg.Done()
	params, err := protocol.DecodeParams(msg.Protocol, msg.Params)
	if err != nil {
		s.replyError(msg, err)
		return
	}
	multisig := params.Multisig()

	lctx, cancel := context.WithTimeout(s.ctx, s.timeoutCfg.responderLock())
	release, err := s.locks.Acquire(lctx, lockName(multisig))
	cancel()
	if err != nil {
		s.replyError(msg, errors.WithMessage(err, "channel busy"))
		return
	}
	res, err := s.runLocked(release, msg.Protocol, protocol.Responder, func() (protocol.Result, error) {
		return s.runner.RunResponder(s.ctx, msg)
	})

	if err != nil {
		s.emitFailed(eventName(msg.Protocol), msg.From, params, err)
		if errors.Is(err, protocol.ErrDivergedState) {
			s.syncInBackground(multisig)
		}
		return
	}
	s.emitResult(msg.From, res)
}

// replyError tells the initiator that the run could not be started.
func (s *Session) replyError(msg perun.ProtocolMessage, cause error) {
	s.WithError(cause).WithField("process-id", msg.ProcessID).Error("Rejecting protocol message")
	reply := perun.ProtocolMessage{
		Protocol:  msg.Protocol,
		ProcessID: msg.ProcessID,
		Seq:       perun.UnassignedSeqNo,
		To:        msg.From,
		From:      s.signer.PublicIdentifier(),
		Error:     cause.Error(),
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.timeoutCfg.response)
	defer cancel()
	if err := s.send(ctx, reply); err != nil {
		s.WithError(err).Warn("Sending error reply")
	}
}

// syncInBackground syncs the channel unless a background sync for it is
// already running.
func (s *Session) syncInBackground(multisig common.Address) {
	s.syncingMtx.Lock()
	if s.syncing[multisig] {
		s.syncingMtx.Unlock()
		return
	}
	s.syncing[multisig] = true
	s.syncingMtx.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.syncingMtx.Lock()
			delete(s.syncing, multisig)
			s.syncingMtx.Unlock()
		}()
		s.WithField("multisig", multisig.Hex()).Info("Syncing diverged channel")
		s.Sync(s.ctx, multisig) // nolint: errcheck	// Errors are logged and emitted as events.
	}()
}

// run runs the initiator side of the protocol under the channel lock and
// emits the result. A failure is reported with the failed twin of event.
func (s *Session) run(ctx context.Context, method string, event perun.EventName, params protocol.Params,
	ref runRef) (protocol.Result, perun.APIError) {
	ref.protocol = params.Protocol()
	ref.multisig = params.Multisig()
	own := s.signer.PublicIdentifier()

	var apiErr perun.APIError
	defer func() {
		if apiErr != nil {
			s.WithFields(perun.APIErrAsMap(method, apiErr)).Error(apiErr.Message())
		}
	}()
	if apiErr = s.checkOpen(); apiErr != nil {
		return protocol.Result{}, apiErr
	}

	lctx, cancel := context.WithTimeout(ctx, s.timeoutCfg.initiatorLock())
	release, err := s.locks.Acquire(lctx, lockName(params.Multisig()))
	cancel()
	if err != nil {
		s.emitFailed(event, own, params, err)
		apiErr = s.toAPIError(err, ref)
		return protocol.Result{}, apiErr
	}
	res, err := s.runLocked(release, params.Protocol(), protocol.Initiator, func() (protocol.Result, error) {
		return s.runner.RunInitiator(ctx, params)
	})

	if err != nil {
		s.emitFailed(event, own, params, err)
		apiErr = s.toAPIError(err, ref)
		return protocol.Result{}, apiErr
	}
	s.emitResult(own, res)
	return res, nil
}

// runLocked runs the protocol and releases the channel lock when it returns.
func (s *Session) runLocked(release func(), name perun.ProtocolName, role protocol.Role,
	run func() (protocol.Result, error)) (res protocol.Result, err error) {
	defer release()
	done := s.metrics.StartRun(string(name), role.String())
	defer func() { done(err) }()
	return run()
}

func lockName(multisig common.Address) string {
	return multisig.Hex()
}

// eventName returns the event reporting a run of the protocol.
func eventName(p perun.ProtocolName) perun.EventName {
	switch p {
	case perun.SetupProtocol:
		return perun.EventChannelCreated
	case perun.ProposeProtocol:
		return perun.EventProposeInstall
	case perun.InstallProtocol:
		return perun.EventInstall
	case perun.UpdateProtocol, perun.TakeActionProtocol:
		return perun.EventUpdateState
	case perun.UninstallProtocol:
		return perun.EventUninstall
	}
	return perun.EventSync
}

func (s *Session) emitResult(from string, res protocol.Result) {
	ch, inst := res.StateChannel, res.AppInstance
	switch res.Protocol {
	case perun.SetupProtocol:
		s.emit(perun.EventChannelCreated, from, CreateChannelEventData{
			MultisigAddress: ch.MultisigAddress(),
			Owners:          ch.MultisigOwners(),
			Counterparty:    res.Counterparty,
		})
	case perun.ProposeProtocol, perun.InstallProtocol, perun.UninstallProtocol:
		name := eventName(res.Protocol)
		if res.Rejected {
			name = perun.EventRejectInstall
		}
		s.emit(name, from, AppEventData{
			MultisigAddress: ch.MultisigAddress(),
			AppIdentityHash: inst.IdentityHash(),
			AppInstance:     inst,
		})
	case perun.UpdateProtocol, perun.TakeActionProtocol:
		s.emit(perun.EventUpdateState, from, UpdateStateEventData{
			AppIdentityHash: inst.IdentityHash(),
			NewState:        inst.LatestState(),
			VersionNumber:   inst.LatestVersionNumber(),
			Action:          inst.LatestAction(),
		})
	case perun.SyncProtocol:
		s.emit(perun.EventSync, from, SyncEventData{SyncedChannel: ch})
	}
}

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
	"encoding/json"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hyperledger-labs/perun-appchannel"
	"github.com/hyperledger-labs/perun-appchannel/channel"
)

// eventsCapacity is the buffer of each subscription.
const eventsCapacity = 16

// Event is emitted to the subscribers of a session.
type Event struct {
	Name perun.EventName `json:"type"`
	// From is the identifier of the user who started the protocol.
	From string      `json:"from"`
	Data interface{} `json:"data"`
}

type (
	// CreateChannelEventData is the data of a CHANNEL_CREATED_EVENT.
	CreateChannelEventData struct {
		MultisigAddress common.Address    `json:"multisigAddress"`
		Owners          [2]common.Address `json:"owners"`
		Counterparty    string            `json:"counterpartyIdentifier"`
	}

	// AppEventData is the data of the events about one app.
	AppEventData struct {
		MultisigAddress common.Address       `json:"multisigAddress"`
		AppIdentityHash common.Hash          `json:"appIdentityHash"`
		AppInstance     *channel.AppInstance `json:"appInstance,omitempty"`
	}

	// UpdateStateEventData is the data of an UPDATE_STATE_EVENT.
	UpdateStateEventData struct {
		AppIdentityHash common.Hash     `json:"appIdentityHash"`
		NewState        json.RawMessage `json:"newState"`
		VersionNumber   uint64          `json:"versionNumber"`
		Action          json.RawMessage `json:"action,omitempty"`
	}

	// SyncEventData is the data of a SYNC_EVENT.
	SyncEventData struct {
		SyncedChannel *channel.StateChannel `json:"syncedChannel"`
	}

	// FailedEventData is the data of every *_FAILED_EVENT.
	FailedEventData struct {
		Params interface{} `json:"params"`
		Error  string      `json:"error"`
	}
)

// Subscription is the handle of a handler registered with On or Once.
type Subscription struct {
	ch   chan interface{}
	off  chan struct{}
	once sync.Once
}

// On calls the handler for every event with the name until the subscription
// is removed with Off or OffAll. Handlers of one subscription are called
// sequentially.
func (s *Session) On(name perun.EventName, handler func(Event)) *Subscription {
	return s.subscribe(func() chan interface{} { return s.events.Sub(string(name)) }, handler)
}

// Once calls the handler for the next event with the name only.
func (s *Session) Once(name perun.EventName, handler func(Event)) *Subscription {
	return s.subscribe(func() chan interface{} { return s.events.SubOnce(string(name)) }, handler)
}

func (s *Session) subscribe(sub func() chan interface{}, handler func(Event)) *Subscription {
	subscr := &Subscription{off: make(chan struct{})}
	s.eventsMtx.RLock()
	defer s.eventsMtx.RUnlock()
	if s.eventsClosed.Load() {
		subscr.once.Do(func() { close(subscr.off) })
		return subscr
	}
	subscr.ch = sub()
	s.subsMtx.Lock()
	s.subs[subscr] = struct{}{}
	s.subsMtx.Unlock()

	go func() {
		defer s.forget(subscr)
		for msg := range subscr.ch {
			select {
			case <-subscr.off:
				continue
			default:
			}
			if ev, ok := msg.(Event); ok {
				handler(ev)
			}
		}
	}()
	return subscr
}

// Off removes the subscription. No handler call starts after Off returned.
// It may be called from within a handler.
func (s *Session) Off(subscr *Subscription) {
	subscr.once.Do(func() {
		close(subscr.off)
		if !s.eventsClosed.Load() {
			// Unsub blocks while the subscriber is not reading, which is
			// the case when called from its handler.
			go s.events.Unsub(subscr.ch)
		}
	})
}

// OffAll removes all subscriptions.
func (s *Session) OffAll() {
	s.subsMtx.Lock()
	subs := make([]*Subscription, 0, len(s.subs))
	for subscr := range s.subs {
		subs = append(subs, subscr)
	}
	s.subsMtx.Unlock()
	for _, subscr := range subs {
		s.Off(subscr)
	}
}

func (s *Session) forget(subscr *Subscription) {
	s.subsMtx.Lock()
	defer s.subsMtx.Unlock()
	delete(s.subs, subscr)
}

func (s *Session) emit(name perun.EventName, from string, data interface{}) {
	s.eventsMtx.RLock()
	defer s.eventsMtx.RUnlock()
	if s.eventsClosed.Load() {
		return
	}
	s.events.Pub(Event{Name: name, From: from, Data: data}, string(name))
}

func (s *Session) emitFailed(name perun.EventName, from string, params interface{}, err error) {
	s.emit(name.Failed(), from, FailedEventData{Params: params, Error: err.Error()})
}

func (s *Session) closeEvents() {
	s.eventsMtx.Lock()
	defer s.eventsMtx.Unlock()
	if s.eventsClosed.Swap(true) {
		return
	}
	s.events.Shutdown()
}

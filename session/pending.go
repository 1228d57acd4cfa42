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
	"sync"

	"github.com/pkg/errors"

	"github.com/hyperledger-labs/perun-appchannel"
)

// pendingReplies is the correlation table of the protocol runs waiting for
// a reply. Each process id has at most one slot, a slot receives at most
// one message.
type pendingReplies struct {
	mtx   sync.Mutex
	slots map[string]chan perun.ProtocolMessage
}

func newPendingReplies() *pendingReplies {
	return &pendingReplies{slots: make(map[string]chan perun.ProtocolMessage)}
}

// add opens the slot for the process. The caller must remove it once it
// stops waiting.
func (p *pendingReplies) add(processID string) (<-chan perun.ProtocolMessage, error) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	if _, ok := p.slots[processID]; ok {
		return nil, errors.Wrap(ErrReplyPending, processID)
	}
	slot := make(chan perun.ProtocolMessage, 1)
	p.slots[processID] = slot
	return slot, nil
}

func (p *pendingReplies) remove(processID string) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	delete(p.slots, processID)
}

// resolve hands the message to the slot of its process and closes the slot.
// It returns false if no one waits for the message.
func (p *pendingReplies) resolve(msg perun.ProtocolMessage) bool {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	slot, ok := p.slots[msg.ProcessID]
	if !ok {
		return false
	}
	delete(p.slots, msg.ProcessID)
	slot <- msg
	return true
}

func (p *pendingReplies) len() int {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return len(p.slots)
}

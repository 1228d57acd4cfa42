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

import "time"

// processingTime is to accommodate for computational and communications delays.
// This also includes the time spent waiting for a mutex.
var processingTime = 5 * time.Second

type timeoutConfig struct {
	response time.Duration
}

func (t timeoutConfig) initiatorLock() time.Duration {
	// The worst case path considered is that the lock is held by a responder
	// that is
	// 1. Validating the request from the peer.
	// 2. Sending its signatures and waiting for the final message.
	return 2*t.response + processingTime
}

func (t timeoutConfig) responderLock() time.Duration {
	// The initiator waits only for the response timeout, the reply would not
	// be accepted after that.
	return t.response
}

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

// Package session implements a session to which a user attaches his or her
// signing key. The user can then use the session to create channels with
// peers and to propose, install, update and uninstall apps in them.
//
// A session binds the signer, the messenger, the store and the lock service
// of the node to one protocol runner. Requests of the user start the
// initiator side of a protocol; messages from peers start the responder
// side. At most one protocol runs on a channel at a time. Data within a
// session is persisted while it runs, so that the channels are restored and
// synced with the peers when a session for the same user is started again.
package session

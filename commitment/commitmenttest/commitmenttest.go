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

// Package commitmenttest provides commitments signed by both users for tests.
package commitmenttest

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/hyperledger-labs/perun-appchannel/channel"
	"github.com/hyperledger-labs/perun-appchannel/commitment"
	"github.com/hyperledger-labs/perun-appchannel/identity"
)

// SignedSetState returns the set state commitment of the app, signed by both
// signers.
func SignedSetState(t *testing.T, network channel.NetworkContext, app *channel.AppInstance,
	a, b *identity.Signer) *commitment.SetStateCommitment {
	t.Helper()
	c, err := commitment.NewSetStateCommitment(network.ChallengeRegistry, app)
	require.NoError(t, err)
	require.NoError(t, c.AddSignatures(sign(t, a, c.HashToSign()), sign(t, b, c.HashToSign())))
	return c
}

// SignedConditionalTx returns the conditional transaction of the app
// installed in ch, signed by both signers.
func SignedConditionalTx(t *testing.T, network channel.NetworkContext, ch *channel.StateChannel,
	app *channel.AppInstance, a, b *identity.Signer) *commitment.ConditionalTransactionCommitment {
	t.Helper()
	c, err := commitment.NewConditionalTransactionCommitment(network, ch, app)
	require.NoError(t, err)
	require.NoError(t, c.AddSignatures(sign(t, a, c.HashToSign()), sign(t, b, c.HashToSign())))
	return c
}

func sign(t *testing.T, s *identity.Signer, digest common.Hash) []byte {
	t.Helper()
	sig, err := s.SignDigest(digest)
	require.NoError(t, err)
	return sig
}

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

package local_test

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperledger-labs/perun-appchannel"
	"github.com/hyperledger-labs/perun-appchannel/identity"
	"github.com/hyperledger-labs/perun-appchannel/idprovider/idprovidertest"
	"github.com/hyperledger-labs/perun-appchannel/idprovider/local"
)

func newPeer(t *testing.T, alias string) perun.PeerID {
	t.Helper()
	s, err := identity.NewRandomSigner()
	require.NoError(t, err)
	return perun.PeerID{
		Alias:            alias,
		PublicIdentifier: s.PublicIdentifier(),
		CommAddr:         "127.0.0.1:5751",
		CommType:         "websocket",
	}
}

func Test_IDProvider(t *testing.T) {
	alice, bob := newPeer(t, "alice"), newPeer(t, "bob")
	idp, err := local.NewIDprovider(idprovidertest.NewIDProviderT(t, alice))
	require.NoError(t, err)

	t.Run("read", func(t *testing.T) {
		got, ok := idp.ReadByAlias("alice")
		require.True(t, ok)
		assert.True(t, local.PeerEqual(alice, got))

		got, ok = idp.ReadByIdentifier(alice.PublicIdentifier)
		require.True(t, ok)
		assert.Equal(t, "alice", got.Alias)

		_, ok = idp.ReadByIdentifier(bob.PublicIdentifier)
		assert.False(t, ok)
	})

	t.Run("write_delete", func(t *testing.T) {
		require.NoError(t, idp.Write("bob", bob))
		got, ok := idp.ReadByIdentifier(bob.PublicIdentifier)
		require.True(t, ok)
		assert.Equal(t, "bob", got.Alias)

		require.NoError(t, idp.Delete("bob"))
		_, ok = idp.ReadByIdentifier(bob.PublicIdentifier)
		assert.False(t, ok)
	})

	t.Run("err_write", func(t *testing.T) {
		err := idp.Write("alice", alice)
		assert.True(t, errors.Is(err, local.ErrPeerIDAlreadyRegistered))

		err = idp.Write("alice", bob)
		assert.True(t, errors.Is(err, local.ErrPeerAliasAlreadyUsed))

		invalid := bob
		invalid.PublicIdentifier = "not-an-identifier"
		err = idp.Write("carol", invalid)
		assert.True(t, errors.Is(err, local.ErrParsingIdentifier))
	})

	t.Run("err_delete_unknown", func(t *testing.T) {
		assert.True(t, errors.Is(idp.Delete("carol"), local.ErrPeerNotFound))
	})
}

func Test_IDProvider_UpdateStorage(t *testing.T) {
	alice, bob := newPeer(t, "alice"), newPeer(t, "bob")
	file := idprovidertest.NewIDProviderT(t, alice)
	idp, err := local.NewIDprovider(file)
	require.NoError(t, err)
	require.NoError(t, idp.Write("bob", bob))
	require.NoError(t, idp.UpdateStorage())

	reloaded, err := local.NewIDprovider(file)
	require.NoError(t, err)
	got, ok := reloaded.ReadByIdentifier(bob.PublicIdentifier)
	require.True(t, ok)
	assert.True(t, local.PeerEqual(bob, got))
}

func Test_NewIDProvider_InvalidIdentifier(t *testing.T) {
	invalid := perun.PeerID{Alias: "alice", PublicIdentifier: "xyz"}
	_, err := local.NewIDprovider(idprovidertest.NewIDProviderT(t, invalid))
	assert.True(t, errors.Is(err, local.ErrParsingIdentifier))
}

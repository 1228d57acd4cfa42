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

package dsstore_test

import (
	"context"
	"testing"

	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/query"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperledger-labs/perun-appchannel"
	"github.com/hyperledger-labs/perun-appchannel/channel/channeltest"
	"github.com/hyperledger-labs/perun-appchannel/store/dsstore"
	"github.com/hyperledger-labs/perun-appchannel/store/storetest"
)

func Test_Store(t *testing.T) {
	storetest.Run(t, func(t *testing.T) perun.Store {
		return dsstore.NewInMemory()
	})
}

func Test_Store_Namespace(t *testing.T) {
	ctx := context.Background()
	ds := dssync.MutexWrap(datastore.NewMapDatastore())
	s := dsstore.New(ds)

	a, b := channeltest.NewSigners(t)
	ch := channeltest.NewSetupChannel(t, a, b)
	require.NoError(t, s.SaveStateChannel(ctx, ch, perun.Commitments{}))

	results, err := ds.Query(ctx, query.Query{KeysOnly: true})
	require.NoError(t, err)
	entries, err := results.Rest()
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	for _, e := range entries {
		assert.True(t, datastore.NewKey(dsstore.Prefix).IsAncestorOf(datastore.NewKey(e.Key)), e.Key)
	}

	// A second store on the same datastore reads the records.
	got, err := dsstore.New(ds).GetStateChannel(ctx, ch.MultisigAddress())
	require.NoError(t, err)
	assert.Equal(t, ch.MultisigAddress(), got.MultisigAddress())
}

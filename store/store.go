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

// Package store selects the perun.Store implementation configured for the
// node.
package store

import (
	"github.com/pkg/errors"

	"github.com/hyperledger-labs/perun-appchannel"
	"github.com/hyperledger-labs/perun-appchannel/store/dsstore"
	"github.com/hyperledger-labs/perun-appchannel/store/sqlstore"
)

// Supported store types.
const (
	TypeMemory = "memory"
	TypeSQLite = "sqlite"
)

// Open returns the store of the type. databaseFile is used only by sqlite.
func Open(storeType, databaseFile string) (perun.Store, error) {
	switch storeType {
	case TypeMemory, "":
		return dsstore.NewInMemory(), nil
	case TypeSQLite:
		if databaseFile == "" {
			return nil, errors.New("sqlite store requires a database file")
		}
		return sqlstore.Open(databaseFile)
	}
	return nil, errors.Errorf("unknown store type %q", storeType)
}

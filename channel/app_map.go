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

package channel

import "github.com/ethereum/go-ethereum/common"

// appMap is an insertion ordered, copy on write map of app instances.
type appMap struct {
	order []common.Hash
	apps  map[common.Hash]*AppInstance
}

func (m appMap) get(hash common.Hash) (*AppInstance, bool) {
	app, ok := m.apps[hash]
	return app, ok
}

func (m appMap) len() int { return len(m.order) }

func (m appMap) list() []*AppInstance {
	out := make([]*AppInstance, len(m.order))
	for i, h := range m.order {
		out[i] = m.apps[h]
	}
	return out
}

// with returns a map with the app inserted, or replaced in place if the
// identity hash is present.
func (m appMap) with(app *AppInstance) appMap {
	hash := app.IdentityHash()
	next := appMap{
		order: append([]common.Hash{}, m.order...),
		apps:  make(map[common.Hash]*AppInstance, len(m.apps)+1),
	}
	for h, a := range m.apps {
		next.apps[h] = a
	}
	if _, ok := m.apps[hash]; !ok {
		next.order = append(next.order, hash)
	}
	next.apps[hash] = app
	return next
}

func (m appMap) without(hash common.Hash) appMap {
	if _, ok := m.apps[hash]; !ok {
		return m
	}
	next := appMap{
		order: make([]common.Hash, 0, len(m.order)),
		apps:  make(map[common.Hash]*AppInstance, len(m.apps)),
	}
	for _, h := range m.order {
		if h != hash {
			next.order = append(next.order, h)
			next.apps[h] = m.apps[h]
		}
	}
	return next
}

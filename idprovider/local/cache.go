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

package local

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/hyperledger-labs/perun-appchannel"
	"github.com/hyperledger-labs/perun-appchannel/identity"
)

// Error type is used to define error constants for this package.
type Error string

// Error implements error interface.
func (e Error) Error() string {
	return string(e)
}

// Definition of error constants for this package.
const (
	ErrPeerIDAlreadyRegistered Error = "peer id already registered"
	ErrPeerAliasAlreadyUsed    Error = "peer alias already used by another peer id"
	ErrPeerNotFound            Error = "peer not found in id provider"
	ErrParsingIdentifier       Error = "parsing public identifier"
)

// idProviderCache represents a cached list of peer IDs indexed by both alias and public identifier.
// The methods defined over it are safe for concurrent access.
type idProviderCache struct {
	mutex             sync.RWMutex
	peerIDsByAlias    map[string]perun.PeerID // Stores a list of peer IDs indexed by Alias.
	aliasByIdentifier map[string]string       // Stores a list of alias, indexed by public identifier.
}

// newIDProviderCache returns a ID Provider cache created from the given map. It indexes the Peer IDs by both alias and
// public identifier. Each identifier must decode to a public key.
func newIDProviderCache(peerIDsByAlias map[string]perun.PeerID) (*idProviderCache, error) {
	aliasByIdentifier := make(map[string]string)
	for alias, peer := range peerIDsByAlias {
		if _, err := identity.PublicKeyFromIdentifier(peer.PublicIdentifier); err != nil {
			return nil, errors.Wrapf(ErrParsingIdentifier, "peer %s: %v", alias, err)
		}
		peer.Alias = alias
		peerIDsByAlias[alias] = peer
		aliasByIdentifier[peer.PublicIdentifier] = alias
	}
	return &idProviderCache{
		peerIDsByAlias:    peerIDsByAlias,
		aliasByIdentifier: aliasByIdentifier,
	}, nil
}

// ReadByAlias returns the peer ID corresponding to given alias from the cache.
func (c *idProviderCache) ReadByAlias(alias string) (_ perun.PeerID, isPresent bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.readByAlias(alias)
}

func (c *idProviderCache) readByAlias(alias string) (_ perun.PeerID, isPresent bool) {
	var p perun.PeerID
	p, isPresent = c.peerIDsByAlias[alias]
	return p, isPresent
}

// ReadByIdentifier returns the peer ID corresponding to given public identifier from the cache.
func (c *idProviderCache) ReadByIdentifier(identifier string) (_ perun.PeerID, isPresent bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	var alias string
	alias, isPresent = c.aliasByIdentifier[identifier]
	if !isPresent {
		return perun.PeerID{}, false
	}
	return c.readByAlias(alias)
}

// Write adds the peer ID to ID Provider cache. Returns an error if the alias is already used by same or different
// peer ID or if the public identifier of the peer ID cannot be decoded.
func (c *idProviderCache) Write(alias string, p perun.PeerID) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if oldPeerID, ok := c.peerIDsByAlias[alias]; ok {
		if PeerEqual(oldPeerID, p) {
			return ErrPeerIDAlreadyRegistered
		}
		return ErrPeerAliasAlreadyUsed
	}
	if _, err := identity.PublicKeyFromIdentifier(p.PublicIdentifier); err != nil {
		return errors.Wrap(ErrParsingIdentifier, err.Error())
	}
	p.Alias = alias
	c.peerIDsByAlias[alias] = p
	c.aliasByIdentifier[p.PublicIdentifier] = alias
	return nil
}

// Delete deletes the peer from ID Provider cache.
// Returns an error if peer corresponding to given alias is not found.
func (c *idProviderCache) Delete(alias string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	p, ok := c.peerIDsByAlias[alias]
	if !ok {
		return errors.Wrap(ErrPeerNotFound, alias)
	}
	delete(c.peerIDsByAlias, alias)
	delete(c.aliasByIdentifier, p.PublicIdentifier)
	return nil
}

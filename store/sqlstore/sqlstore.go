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

// Package sqlstore implements perun.Store on a SQLite database file.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite" // registers the sqlite driver

	"github.com/hyperledger-labs/perun-appchannel"
	"github.com/hyperledger-labs/perun-appchannel/channel"
	"github.com/hyperledger-labs/perun-appchannel/commitment"
)

const busyTimeoutMs = 5000

var schema = []string{
	`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS channels (multisig TEXT PRIMARY KEY, data BLOB NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS app_index (identity_hash TEXT PRIMARY KEY, multisig TEXT NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS set_state_commitments (identity_hash TEXT PRIMARY KEY, data BLOB NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS conditional_commitments (identity_hash TEXT PRIMARY KEY, data BLOB NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS withdraw_commitments (multisig TEXT PRIMARY KEY, data BLOB NOT NULL)`,
}

// Store is a perun.Store on SQLite.
type Store struct {
	db *sql.DB
}

var _ perun.Store = &Store{}

// Open opens or creates the database file and its tables.
func Open(file string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(file), 0o750); err != nil {
		return nil, errors.Wrap(err, "creating db directory")
	}
	db, err := sql.Open("sqlite", "file:"+filepath.Clean(file))
	if err != nil {
		return nil, errors.Wrap(err, "opening sqlite")
	}
	// One connection, so that transactions never wait on each other.
	db.SetMaxOpenConns(1)

	if err = db.Ping(); err != nil {
		db.Close() // nolint: errcheck, gosec
		return nil, errors.Wrap(err, "pinging sqlite")
	}
	if _, err = db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeoutMs)); err != nil {
		db.Close() // nolint: errcheck, gosec
		return nil, errors.Wrap(err, "setting busy timeout")
	}
	for _, stmt := range schema {
		if _, err = db.Exec(stmt); err != nil {
			db.Close() // nolint: errcheck, gosec
			return nil, errors.Wrap(err, "creating tables")
		}
	}
	return &Store{db: db}, nil
}

// GetSchemaVersion returns the schema version, 0 if never set.
func (s *Store) GetSchemaVersion(ctx context.Context) (int, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	} else if err != nil {
		return 0, errors.WithStack(err)
	}
	version, err := strconv.Atoi(value)
	return version, errors.WithStack(err)
}

// UpdateSchemaVersion sets the schema version.
func (s *Store) UpdateSchemaVersion(ctx context.Context, version int) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO meta (key, value) VALUES ('schema_version', ?)`,
		strconv.Itoa(version))
	return errors.WithStack(err)
}

// GetAllStateChannels returns all channels ordered by multisig address.
func (s *Store) GetAllStateChannels(ctx context.Context) ([]*channel.StateChannel, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT multisig, data FROM channels ORDER BY multisig`)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close() // nolint: errcheck

	var channels []*channel.StateChannel
	for rows.Next() {
		var multisig string
		var data []byte
		if err = rows.Scan(&multisig, &data); err != nil {
			return nil, errors.WithStack(err)
		}
		ch := &channel.StateChannel{}
		if err = json.Unmarshal(data, ch); err != nil {
			return nil, errors.WithMessagef(err, "decoding channel %s", multisig)
		}
		channels = append(channels, ch)
	}
	return channels, errors.WithStack(rows.Err())
}

// GetStateChannel returns the channel of the multisig.
func (s *Store) GetStateChannel(ctx context.Context, multisig common.Address) (*channel.StateChannel, error) {
	return s.getStateChannel(ctx, s.db, multisig)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (s *Store) getStateChannel(ctx context.Context, q queryer, multisig common.Address) (
	*channel.StateChannel, error) {
	ch := &channel.StateChannel{}
	err := get(ctx, q, `SELECT data FROM channels WHERE multisig = ?`, multisig.Hex(), ch)
	if err != nil {
		return nil, errors.WithMessagef(err, "channel %s", multisig.Hex())
	}
	return ch, nil
}

// GetStateChannelByAppIdentityHash returns the channel the app was ever
// proposed or installed in.
func (s *Store) GetStateChannelByAppIdentityHash(ctx context.Context, identityHash common.Hash) (
	*channel.StateChannel, error) {
	var multisig string
	err := s.db.QueryRowContext(ctx, `SELECT multisig FROM app_index WHERE identity_hash = ?`,
		identityHash.Hex()).Scan(&multisig)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(perun.ErrRecordNotFound, "app %s", identityHash.Hex())
	} else if err != nil {
		return nil, errors.WithStack(err)
	}
	return s.GetStateChannel(ctx, common.HexToAddress(multisig))
}

// SaveStateChannel writes the channel, the app index and the commitments in
// one transaction.
func (s *Store) SaveStateChannel(ctx context.Context, ch *channel.StateChannel, c perun.Commitments) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return save(ctx, tx, ch, c)
	})
}

func save(ctx context.Context, tx *sql.Tx, ch *channel.StateChannel, c perun.Commitments) error {
	multisig := ch.MultisigAddress().Hex()
	if err := put(ctx, tx, `INSERT OR REPLACE INTO channels (multisig, data) VALUES (?, ?)`, multisig, ch); err != nil {
		return err
	}
	apps := append(ch.ProposedAppInstances(), ch.AppInstances()...)
	if ch.HasFreeBalance() {
		apps = append(apps, ch.FreeBalanceAppInstance())
	}
	for _, app := range apps {
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO app_index (identity_hash, multisig) VALUES (?, ?)`,
			app.IdentityHash().Hex(), multisig); err != nil {
			return errors.WithStack(err)
		}
	}
	for _, sc := range c.SetState {
		if err := put(ctx, tx, `INSERT OR REPLACE INTO set_state_commitments (identity_hash, data) VALUES (?, ?)`,
			sc.AppIdentityHash().Hex(), sc); err != nil {
			return err
		}
	}
	for _, ct := range c.ConditionalTx {
		if err := put(ctx, tx, `INSERT OR REPLACE INTO conditional_commitments (identity_hash, data) VALUES (?, ?)`,
			ct.AppIdentityHash().Hex(), ct); err != nil {
			return err
		}
	}
	return nil
}

// RemoveAppProposal removes the proposal from the channel. Removing an
// unknown proposal is a no-op.
func (s *Store) RemoveAppProposal(ctx context.Context, multisig common.Address, identityHash common.Hash) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		ch, err := s.getStateChannel(ctx, tx, multisig)
		if err != nil {
			return err
		}
		if _, ok := ch.ProposedAppInstance(identityHash); !ok {
			return nil
		}
		return save(ctx, tx, ch.RemoveProposal(identityHash), perun.Commitments{})
	})
}

// GetSetStateCommitment returns the latest set state commitment of the app.
func (s *Store) GetSetStateCommitment(ctx context.Context, identityHash common.Hash) (
	*commitment.SetStateCommitment, error) {
	c := &commitment.SetStateCommitment{}
	err := get(ctx, s.db, `SELECT data FROM set_state_commitments WHERE identity_hash = ?`, identityHash.Hex(), c)
	if err != nil {
		return nil, errors.WithMessagef(err, "set state commitment %s", identityHash.Hex())
	}
	return c, nil
}

// GetConditionalTransactionCommitment returns the conditional transaction of
// the app.
func (s *Store) GetConditionalTransactionCommitment(ctx context.Context, identityHash common.Hash) (
	*commitment.ConditionalTransactionCommitment, error) {
	c := &commitment.ConditionalTransactionCommitment{}
	err := get(ctx, s.db, `SELECT data FROM conditional_commitments WHERE identity_hash = ?`, identityHash.Hex(), c)
	if err != nil {
		return nil, errors.WithMessagef(err, "conditional transaction commitment %s", identityHash.Hex())
	}
	return c, nil
}

// SaveWithdrawCommitment replaces the withdraw commitment of the multisig.
func (s *Store) SaveWithdrawCommitment(ctx context.Context, multisig common.Address,
	c *commitment.WithdrawCommitment) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return put(ctx, tx, `INSERT OR REPLACE INTO withdraw_commitments (multisig, data) VALUES (?, ?)`,
			multisig.Hex(), c)
	})
}

// GetWithdrawCommitment returns the withdraw commitment of the multisig.
func (s *Store) GetWithdrawCommitment(ctx context.Context, multisig common.Address) (
	*commitment.WithdrawCommitment, error) {
	c := &commitment.WithdrawCommitment{}
	err := get(ctx, s.db, `SELECT data FROM withdraw_commitments WHERE multisig = ?`, multisig.Hex(), c)
	if err != nil {
		return nil, errors.WithMessagef(err, "withdraw commitment %s", multisig.Hex())
	}
	return c, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return errors.WithStack(s.db.Close())
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WithStack(err)
	}
	if err = fn(tx); err != nil {
		tx.Rollback() // nolint: errcheck, gosec
		return err
	}
	return errors.WithStack(tx.Commit())
}

func put(ctx context.Context, tx *sql.Tx, stmt, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.WithStack(err)
	}
	_, err = tx.ExecContext(ctx, stmt, key, data)
	return errors.WithStack(err)
}

func get(ctx context.Context, q queryer, stmt, key string, v interface{}) error {
	var data []byte
	err := q.QueryRowContext(ctx, stmt, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return errors.WithStack(perun.ErrRecordNotFound)
	} else if err != nil {
		return errors.WithStack(err)
	}
	return errors.Wrap(json.Unmarshal(data, v), "decoding record")
}

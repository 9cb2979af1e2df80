/*
   openpgp-keychain - OpenPGP keyring construction and storage

   This program is free software: you can redistribute it and/or modify
   it under the terms of the GNU Affero General Public License as published by
   the Free Software Foundation, version 3.

   This program is distributed in the hope that it will be useful,
   but WITHOUT ANY WARRANTY; without even the implied warranty of
   MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
   GNU Affero General Public License for more details.

   You should have received a copy of the GNU Affero General Public License
   along with this program.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package keydb persists keyrings decomposed into relational rows on
// SQLite, with replace-all-rows semantics and cascading deletes.
package keydb

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/tharinduwijewardane/openpgp-keychain/openpgp"
)

var ErrKeyringNotFound = errors.New("keyring not found")

// IsNotFound reports whether err means the requested keyring does not
// exist.
func IsNotFound(err error) bool {
	return errors.Cause(err) == ErrKeyringNotFound
}

const fetchCacheSize = 256

// Store keeps keyring aggregates in a SQLite database. Mutations run in
// one transaction under a store-level mutex, so a concurrent reader never
// observes a partially replaced aggregate.
type Store struct {
	*sqlx.DB

	mu    sync.Mutex
	cache *lru.Cache
}

// Dial opens or creates the keyring database at path. Foreign key
// enforcement is switched on for every connection through the DSN.
func Dial(path string) (*Store, error) {
	db, err := sqlx.Connect("sqlite3", fmt.Sprintf("file:%s?_foreign_keys=on", path))
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open keyring database %q", path)
	}
	cache, err := lru.New(fetchCacheSize)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	st := &Store{DB: db, cache: cache}
	err = st.createTables()
	if err != nil {
		db.Close()
		return nil, err
	}
	registerMetrics()
	return st, nil
}

func (st *Store) createTables() error {
	for _, crSQL := range createTablesSQL {
		_, err := st.Exec(crSQL)
		if err != nil {
			return errors.Wrapf(err, "cannot create table, query: %s", crSQL)
		}
	}
	return nil
}

// Replace stores the freshly decomposed aggregate for masterKeyID inside
// one transaction: existing key, user ID and certification rows are
// deleted and reinserted, and the encoded blobs are written. A nil secret
// keyring leaves any existing keyrings_secret row in place.
func (st *Store) Replace(masterKeyID int64, secret *openpgp.SecretKeyring, pubkey *openpgp.PrimaryKey) error {
	if pubkey.MasterKeyID() != masterKeyID {
		return errors.Errorf("master key id mismatch: %d != %d", pubkey.MasterKeyID(), masterKeyID)
	}
	if secret != nil && secret.MasterKeyID() != masterKeyID {
		return errors.Errorf("secret keyring master key id mismatch: %d != %d", secret.MasterKeyID(), masterKeyID)
	}

	pubBlob, err := pubkey.Encode()
	if err != nil {
		return err
	}
	var secBlob []byte
	if secret != nil {
		secBlob, err = secret.Encode()
		if err != nil {
			return err
		}
	}
	keys, uids, certs := decompose(pubkey)

	st.mu.Lock()
	defer st.mu.Unlock()
	defer recordReplaceDuration(time.Now())

	tx, err := st.Beginx()
	if err != nil {
		return errors.WithStack(err)
	}
	err = st.replaceTx(tx, masterKeyID, pubBlob, secBlob, keys, uids, certs)
	if err != nil {
		tx.Rollback()
		return err
	}
	err = tx.Commit()
	if err != nil {
		return errors.WithStack(err)
	}
	st.cache.Remove(masterKeyID)
	metrics.replaced.Inc()
	return nil
}

func (st *Store) replaceTx(tx *sqlx.Tx, masterKeyID int64, pubBlob, secBlob []byte, keys []keyRow, uids []userIDRow, certs []certRow) error {
	// Upsert rather than REPLACE INTO: REPLACE deletes the existing row
	// first, which would cascade away the secret keyring.
	_, err := tx.Exec(`INSERT INTO keyrings_public (master_key_id, key_ring_data) VALUES (?, ?)
ON CONFLICT (master_key_id) DO UPDATE SET key_ring_data = excluded.key_ring_data`,
		masterKeyID, pubBlob)
	if err != nil {
		return errors.WithStack(err)
	}
	for _, delSQL := range []string{
		"DELETE FROM certs WHERE master_key_id = ?",
		"DELETE FROM user_ids WHERE master_key_id = ?",
		"DELETE FROM keys WHERE master_key_id = ?",
	} {
		_, err = tx.Exec(delSQL, masterKeyID)
		if err != nil {
			return errors.WithStack(err)
		}
	}
	if secBlob != nil {
		_, err = tx.Exec(`INSERT INTO keyrings_secret (master_key_id, key_ring_data) VALUES (?, ?)
ON CONFLICT (master_key_id) DO UPDATE SET key_ring_data = excluded.key_ring_data`,
			masterKeyID, secBlob)
		if err != nil {
			return errors.WithStack(err)
		}
	}
	for _, row := range keys {
		_, err = tx.NamedExec(`INSERT INTO keys
(master_key_id, rank, key_id, key_size, algorithm, fingerprint, can_certify, can_sign, can_encrypt, is_revoked, creation, expiry)
VALUES (:master_key_id, :rank, :key_id, :key_size, :algorithm, :fingerprint, :can_certify, :can_sign, :can_encrypt, :is_revoked, :creation, :expiry)`, row)
		if err != nil {
			return errors.WithStack(err)
		}
	}
	for _, row := range uids {
		_, err = tx.NamedExec(`INSERT INTO user_ids
(master_key_id, user_id, is_primary, is_revoked, rank)
VALUES (:master_key_id, :user_id, :is_primary, :is_revoked, :rank)`, row)
		if err != nil {
			return errors.WithStack(err)
		}
	}
	for _, row := range certs {
		_, err = tx.NamedExec(`INSERT INTO certs
(master_key_id, rank, key_id_certifier, type, verified, creation, data)
VALUES (:master_key_id, :rank, :key_id_certifier, :type, :verified, :creation, :data)`, row)
		if err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

// ReplaceSecret rewrites only the secret keyring blob for masterKeyID.
// The public aggregate must already exist.
func (st *Store) ReplaceSecret(masterKeyID int64, secret *openpgp.SecretKeyring) error {
	if secret.MasterKeyID() != masterKeyID {
		return errors.Errorf("secret keyring master key id mismatch: %d != %d", secret.MasterKeyID(), masterKeyID)
	}
	blob, err := secret.Encode()
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	var exists int
	err = st.Get(&exists, "SELECT COUNT(*) FROM keyrings_public WHERE master_key_id = ?", masterKeyID)
	if err != nil {
		return errors.WithStack(err)
	}
	if exists == 0 {
		return errors.Wrapf(ErrKeyringNotFound, "%016x", uint64(masterKeyID))
	}
	_, err = st.Exec(`INSERT INTO keyrings_secret (master_key_id, key_ring_data) VALUES (?, ?)
ON CONFLICT (master_key_id) DO UPDATE SET key_ring_data = excluded.key_ring_data`,
		masterKeyID, blob)
	if err != nil {
		return errors.WithStack(err)
	}
	metrics.replaced.Inc()
	return nil
}

// Fetch returns the parsed public keyring stored under masterKeyID.
// Every call decodes a fresh aggregate; the cache holds encoded blobs,
// never parsed keyrings, so mutations on a returned keyring stay
// invisible until the caller persists them through Replace.
func (st *Store) Fetch(masterKeyID int64) (*openpgp.PrimaryKey, error) {
	if cached, ok := st.cache.Get(masterKeyID); ok {
		metrics.cacheHits.Inc()
		return openpgp.DecodePublic(cached.([]byte))
	}
	var blob []byte
	err := st.Get(&blob, "SELECT key_ring_data FROM keyrings_public WHERE master_key_id = ?", masterKeyID)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(ErrKeyringNotFound, "%016x", uint64(masterKeyID))
	} else if err != nil {
		return nil, errors.WithStack(err)
	}
	pubkey, err := openpgp.DecodePublic(blob)
	if err != nil {
		return nil, err
	}
	st.cache.Add(masterKeyID, blob)
	metrics.fetched.Inc()
	return pubkey, nil
}

// FetchSecret returns the parsed secret keyring stored under masterKeyID.
func (st *Store) FetchSecret(masterKeyID int64) (*openpgp.SecretKeyring, error) {
	var blob []byte
	err := st.Get(&blob, "SELECT key_ring_data FROM keyrings_secret WHERE master_key_id = ?", masterKeyID)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(ErrKeyringNotFound, "%016x", uint64(masterKeyID))
	} else if err != nil {
		return nil, errors.WithStack(err)
	}
	secret, err := openpgp.ParseSecretKeyring(blob)
	if err != nil {
		return nil, err
	}
	metrics.fetched.Inc()
	return secret, nil
}

// Delete removes the keyring aggregate; cascading foreign keys remove all
// dependent rows including the secret keyring.
func (st *Store) Delete(masterKeyID int64) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	result, err := st.Exec("DELETE FROM keyrings_public WHERE master_key_id = ?", masterKeyID)
	if err != nil {
		return errors.WithStack(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return errors.WithStack(err)
	}
	if n == 0 {
		return errors.Wrapf(ErrKeyringNotFound, "%016x", uint64(masterKeyID))
	}
	st.cache.Remove(masterKeyID)
	metrics.deleted.Inc()
	return nil
}

// Truncate destroys every stored keyring. Used by the one-shot legacy
// migration only.
func (st *Store) Truncate() error {
	st.mu.Lock()
	defer st.mu.Unlock()

	_, err := st.Exec("DELETE FROM keyrings_public")
	if err != nil {
		return errors.WithStack(err)
	}
	st.cache.Purge()
	return nil
}

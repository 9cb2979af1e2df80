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

package keydb

import (
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// Summary is the flattened listing projection of one stored keyring.
type Summary struct {
	MasterKeyID   int64          `db:"master_key_id"`
	Fingerprint   []byte         `db:"fingerprint"`
	PrimaryUserID sql.NullString `db:"user_id"`
	IsRevoked     bool           `db:"is_revoked"`
	Expiry        sql.NullInt64  `db:"expiry"`
	HasSecret     bool           `db:"has_secret"`
	Verified      bool           `db:"verified"`
}

// Expired reports whether the keyring's master key has expired as of t.
func (s *Summary) Expired(t time.Time) bool {
	return s.Expiry.Valid && s.Expiry.Int64 <= t.Unix()
}

const summariesSQL = `
SELECT p.master_key_id AS master_key_id,
	k.fingerprint AS fingerprint,
	u.user_id AS user_id,
	COALESCE(k.is_revoked, 0) AS is_revoked,
	k.expiry AS expiry,
	(s.master_key_id IS NOT NULL) AS has_secret,
	EXISTS (SELECT 1 FROM certs c
		WHERE c.master_key_id = p.master_key_id AND c.verified = 1) AS verified
FROM keyrings_public p
LEFT JOIN keys k ON k.master_key_id = p.master_key_id AND k.rank = 0
LEFT JOIN user_ids u ON u.master_key_id = p.master_key_id AND u.rank = 0
LEFT JOIN keyrings_secret s ON s.master_key_id = p.master_key_id`

// SummaryIter lazily walks summary rows. It is finite and restartable by
// calling Summaries again.
type SummaryIter struct {
	rows *sqlx.Rows
	err  error
}

// Summaries queries listing projections for all stored keyrings, ordered
// by insertion. A non-empty filter restricts the result to primary user
// IDs containing it, ordered by user ID instead.
func (st *Store) Summaries(filter string) (*SummaryIter, error) {
	var rows *sqlx.Rows
	var err error
	if filter != "" {
		rows, err = st.Queryx(summariesSQL+
			" WHERE u.user_id LIKE '%' || ? || '%' ORDER BY u.user_id", filter)
	} else {
		rows, err = st.Queryx(summariesSQL + " ORDER BY p.seq")
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &SummaryIter{rows: rows}, nil
}

// Next returns the next summary, or false when the sequence is exhausted
// or failed. Check Err after a false return.
func (it *SummaryIter) Next() (*Summary, bool) {
	if !it.rows.Next() {
		it.err = it.rows.Err()
		return nil, false
	}
	var summary Summary
	err := it.rows.StructScan(&summary)
	if err != nil {
		it.err = errors.WithStack(err)
		return nil, false
	}
	return &summary, true
}

func (it *SummaryIter) Err() error {
	return it.err
}

func (it *SummaryIter) Close() error {
	return it.rows.Close()
}

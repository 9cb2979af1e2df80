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

// The keyrings_public row is the root of the aggregate; every dependent
// relation cascades from it. seq carries the insertion order for
// listings: master_key_id as INTEGER PRIMARY KEY would alias the rowid
// and order listings by key id instead.
var createTablesSQL = []string{
	`CREATE TABLE IF NOT EXISTS keyrings_public (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	master_key_id INTEGER NOT NULL UNIQUE,
	key_ring_data BLOB
)`,
	`CREATE TABLE IF NOT EXISTS keyrings_secret (
	master_key_id INTEGER PRIMARY KEY,
	key_ring_data BLOB,
	FOREIGN KEY (master_key_id) REFERENCES keyrings_public (master_key_id) ON DELETE CASCADE
)`,
	`CREATE TABLE IF NOT EXISTS keys (
	master_key_id INTEGER NOT NULL,
	rank INTEGER NOT NULL,
	key_id INTEGER NOT NULL,
	key_size INTEGER,
	algorithm INTEGER,
	fingerprint BLOB,
	can_certify INTEGER,
	can_sign INTEGER,
	can_encrypt INTEGER,
	is_revoked INTEGER,
	creation INTEGER,
	expiry INTEGER,
	PRIMARY KEY (master_key_id, rank),
	FOREIGN KEY (master_key_id) REFERENCES keyrings_public (master_key_id) ON DELETE CASCADE
)`,
	`CREATE TABLE IF NOT EXISTS user_ids (
	master_key_id INTEGER NOT NULL,
	user_id TEXT NOT NULL,
	is_primary INTEGER,
	is_revoked INTEGER,
	rank INTEGER NOT NULL,
	PRIMARY KEY (master_key_id, user_id),
	UNIQUE (master_key_id, rank),
	FOREIGN KEY (master_key_id) REFERENCES keyrings_public (master_key_id) ON DELETE CASCADE
)`,
	`CREATE TABLE IF NOT EXISTS certs (
	master_key_id INTEGER NOT NULL,
	rank INTEGER NOT NULL,
	key_id_certifier INTEGER NOT NULL,
	type INTEGER,
	verified INTEGER,
	creation INTEGER,
	data BLOB,
	PRIMARY KEY (master_key_id, rank, key_id_certifier),
	FOREIGN KEY (master_key_id) REFERENCES keyrings_public (master_key_id) ON DELETE CASCADE,
	FOREIGN KEY (master_key_id, rank) REFERENCES user_ids (master_key_id, rank) ON DELETE CASCADE
)`,
}

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

package keyimport

import (
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Migrator performs the one-time destructive import of a legacy keyring
// database. Construct it once at process start and share it by reference;
// the second and every later Run is a no-op regardless of which
// coordinator instance asks.
type Migrator struct {
	mu   sync.Mutex
	done bool
}

func NewMigrator() *Migrator {
	return &Migrator{}
}

// Run truncates every stored keyring and imports the legacy blobs in
// their place. Returns false without touching the store when a migration
// already ran in this process.
func (m *Migrator) Run(co *Coordinator, blobs [][]byte) (Summary, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done {
		log.Warn("legacy migration already ran, skipping")
		return Summary{}, false, nil
	}
	m.done = true

	err := co.store.Truncate()
	if err != nil {
		return Summary{}, true, errors.WithMessage(err, "cannot truncate keyring store")
	}
	summary := co.ImportBatch(blobs)
	log.Infof("legacy migration imported %d keyrings, %d failed", summary.Imported, summary.Failed)
	return summary, true, nil
}

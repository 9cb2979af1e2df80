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

// Package keyimport drives ordered, best-effort bulk import of keyring
// blobs into the store.
package keyimport

import (
	log "github.com/sirupsen/logrus"

	"github.com/tharinduwijewardane/openpgp-keychain/openpgp"
)

// Storage is the persistence surface the coordinator writes through.
type Storage interface {
	Replace(masterKeyID int64, secret *openpgp.SecretKeyring, pub *openpgp.PrimaryKey) error
	Truncate() error
}

// Summary counts the outcome of one import batch.
type Summary struct {
	Imported int
	Failed   int
}

type Coordinator struct {
	store Storage
}

func NewCoordinator(store Storage) *Coordinator {
	return &Coordinator{store: store}
}

// ImportBatch decodes and persists each blob. Secret keyrings and public
// keyrings with a secret counterpart in the batch are persisted first, so
// the user's own certifier keys are in place before public-only material
// that may reference them. A malformed blob is logged and skipped; it
// never aborts the batch.
func (co *Coordinator) ImportBatch(blobs [][]byte) Summary {
	var summary Summary
	var items []*openpgp.Decoded
	secretIDs := map[int64]bool{}

	for i, blob := range blobs {
		decoded, err := openpgp.Decode(blob)
		if err != nil {
			log.Warnf("cannot decode import item %d: %v", i, err)
			summary.Failed++
			continue
		}
		if decoded.Secret != nil {
			secretIDs[decoded.Secret.MasterKeyID()] = true
		}
		items = append(items, decoded)
	}

	firstPass := func(item *openpgp.Decoded) bool {
		if item.Secret != nil {
			return true
		}
		return secretIDs[item.Public.MasterKeyID()]
	}
	for _, pass := range []bool{true, false} {
		for _, item := range items {
			if firstPass(item) != pass {
				continue
			}
			if err := co.importItem(item); err != nil {
				log.Warnf("cannot import keyring: %v", err)
				summary.Failed++
			} else {
				summary.Imported++
			}
		}
	}
	return summary
}

func (co *Coordinator) importItem(item *openpgp.Decoded) error {
	if item.Secret != nil {
		// Derive the public image so the aggregate root exists even when
		// the batch carries no public counterpart.
		pubkey, err := item.Secret.PublicImage()
		if err != nil {
			return err
		}
		err = openpgp.DropDuplicates(pubkey)
		if err != nil {
			return err
		}
		return co.store.Replace(item.Secret.MasterKeyID(), item.Secret, pubkey)
	}
	err := openpgp.DropDuplicates(item.Public)
	if err != nil {
		return err
	}
	return co.store.Replace(item.Public.MasterKeyID(), nil, item.Public)
}

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

// Package hkp defines the abstract keyserver request/response contract.
// Only armored text crosses this boundary; network transport is the
// implementer's concern.
package hkp

import (
	"io"
	"strings"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/pkg/errors"

	"github.com/tharinduwijewardane/openpgp-keychain/keydb"
	"github.com/tharinduwijewardane/openpgp-keychain/keyimport"
	"github.com/tharinduwijewardane/openpgp-keychain/openpgp"
)

var (
	ErrKeyNotFound       = errors.New("key not found")
	ErrTooManyResponses  = errors.New("too many responses")
	ErrInsufficientQuery = errors.New("insufficient query")
)

// IsNotFound reports whether err means the keyserver has no matching key.
func IsNotFound(err error) bool {
	return errors.Cause(err) == ErrKeyNotFound
}

// IndexEntry is one candidate returned by a keyserver search.
type IndexEntry struct {
	KeyIDHex  string
	Algorithm int
	BitLen    int
	Creation  time.Time
	Expiry    time.Time
	Revoked   bool
	UserIDs   []string
}

// KeyServer is the keyserver collaborator. Implementations wrap transport
// failures; Search additionally fails with ErrTooManyResponses or
// ErrInsufficientQuery, and Get with ErrKeyNotFound.
type KeyServer interface {
	Search(query string) ([]IndexEntry, error)
	Get(keyIDHex string) (string, error)
	Add(armored string) error
}

// ReceiveKey fetches a key from the keyserver and imports it into the
// local store.
func ReceiveKey(ks KeyServer, co *keyimport.Coordinator, keyIDHex string) (keyimport.Summary, error) {
	armored, err := ks.Get(keyIDHex)
	if err != nil {
		return keyimport.Summary{}, err
	}
	blob, err := dearmor(armored)
	if err != nil {
		return keyimport.Summary{}, err
	}
	return co.ImportBatch([][]byte{blob}), nil
}

// UploadKey sends a stored public keyring to the keyserver.
func UploadKey(ks KeyServer, store *keydb.Store, masterKeyID int64) error {
	pubkey, err := store.Fetch(masterKeyID)
	if err != nil {
		return err
	}
	armored, err := pubkey.EncodeArmored()
	if err != nil {
		return err
	}
	return ks.Add(armored)
}

func dearmor(armored string) ([]byte, error) {
	block, err := armor.Decode(strings.NewReader(armored))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	buf, err := io.ReadAll(block.Body)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return buf, nil
}

// Index builds a search index entry from a parsed public keyring, in the
// shape keyservers present in machine-readable listings.
func Index(pubkey *openpgp.PrimaryKey) IndexEntry {
	entry := IndexEntry{
		KeyIDHex:  pubkey.KeyIDString(),
		Algorithm: pubkey.Algorithm,
		BitLen:    pubkey.BitLen,
		Creation:  pubkey.Creation,
	}
	keySelfSigs, _ := pubkey.SigInfo()
	if _, ok := keySelfSigs.RevokedSince(); ok {
		entry.Revoked = true
	}
	for _, uid := range pubkey.UserIDs {
		selfSigs, _ := uid.SigInfo(pubkey)
		if expiry, ok := selfSigs.ExpiresAt(); ok && entry.Expiry.IsZero() {
			entry.Expiry = expiry
		}
		entry.UserIDs = append(entry.UserIDs, uid.Keywords)
	}
	return entry
}

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
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tharinduwijewardane/openpgp-keychain/openpgp"
)

type fakeStore struct {
	replaced  []int64
	secrets   map[int64]bool
	truncated int
}

func newFakeStore() *fakeStore {
	return &fakeStore{secrets: map[int64]bool{}}
}

func (f *fakeStore) Replace(masterKeyID int64, secret *openpgp.SecretKeyring, pub *openpgp.PrimaryKey) error {
	f.replaced = append(f.replaced, masterKeyID)
	if secret != nil {
		f.secrets[masterKeyID] = true
	}
	return nil
}

func (f *fakeStore) Truncate() error {
	f.truncated++
	f.replaced = nil
	f.secrets = map[int64]bool{}
	return nil
}

// makeBlobs returns the public and secret wire form of a fresh keyring.
func makeBlobs(t *testing.T, identity string) (public, secret []byte, masterKeyID int64) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	creation := time.Unix(1136214245, 0)
	priv := packet.NewRSAPrivateKey(creation, rsaKey)
	uid := &packet.UserId{Id: identity}
	sig := &packet.Signature{
		Version:      4,
		SigType:      packet.SigTypePositiveCert,
		PubKeyAlgo:   packet.PubKeyAlgoRSA,
		Hash:         crypto.SHA256,
		CreationTime: creation,
		IssuerKeyId:  &priv.PublicKey.KeyId,
	}
	require.NoError(t, sig.SignUserId(uid.Id, &priv.PublicKey, priv, nil))

	var pub, sec bytes.Buffer
	require.NoError(t, priv.PublicKey.Serialize(&pub))
	require.NoError(t, uid.Serialize(&pub))
	require.NoError(t, sig.Serialize(&pub))
	require.NoError(t, priv.Serialize(&sec))
	require.NoError(t, uid.Serialize(&sec))
	require.NoError(t, sig.Serialize(&sec))
	return pub.Bytes(), sec.Bytes(), int64(priv.PublicKey.KeyId)
}

func TestImportTwoPassOrder(t *testing.T) {
	store := newFakeStore()
	co := NewCoordinator(store)

	pubA, secA, idA := makeBlobs(t, "alice <alice@example.com>")
	pubB, _, idB := makeBlobs(t, "bob <bob@example.com>")

	// Public-only B comes first in the batch, but A's secret-bearing
	// items must be persisted before it.
	summary := co.ImportBatch([][]byte{pubB, secA, pubA})
	assert.Equal(t, 3, summary.Imported)
	assert.Equal(t, 0, summary.Failed)
	require.Len(t, store.replaced, 3)
	assert.Equal(t, idB, store.replaced[2])
	assert.ElementsMatch(t, []int64{idA, idA}, store.replaced[:2])
	assert.True(t, store.secrets[idA])
}

func TestImportSecretOnlyDerivesPublic(t *testing.T) {
	store := newFakeStore()
	co := NewCoordinator(store)

	_, sec, id := makeBlobs(t, "carol <carol@example.com>")
	summary := co.ImportBatch([][]byte{sec})
	assert.Equal(t, 1, summary.Imported)
	require.Len(t, store.replaced, 1)
	assert.Equal(t, id, store.replaced[0])
	assert.True(t, store.secrets[id])
}

func TestImportMalformedSkipped(t *testing.T) {
	store := newFakeStore()
	co := NewCoordinator(store)

	pub, _, _ := makeBlobs(t, "dave <dave@example.com>")
	summary := co.ImportBatch([][]byte{{0x00, 0x01, 0x02}, pub})
	assert.Equal(t, 1, summary.Imported)
	assert.Equal(t, 1, summary.Failed)
	assert.Len(t, store.replaced, 1)
}

func TestMigratorRunsOnce(t *testing.T) {
	store := newFakeStore()
	co := NewCoordinator(store)
	migrator := NewMigrator()

	pub, _, _ := makeBlobs(t, "erin <erin@example.com>")
	summary, ran, err := migrator.Run(co, [][]byte{pub})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 1, summary.Imported)
	assert.Equal(t, 1, store.truncated)

	_, ran, err = migrator.Run(co, [][]byte{pub})
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Equal(t, 1, store.truncated)
}

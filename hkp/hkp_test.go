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

package hkp

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"path/filepath"
	"testing"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tharinduwijewardane/openpgp-keychain/keydb"
	"github.com/tharinduwijewardane/openpgp-keychain/keyimport"
	"github.com/tharinduwijewardane/openpgp-keychain/openpgp"
)

type fakeKeyServer struct {
	armored string
	added   []string
}

func (f *fakeKeyServer) Search(query string) ([]IndexEntry, error) {
	if len(query) < 2 {
		return nil, ErrInsufficientQuery
	}
	return nil, nil
}

func (f *fakeKeyServer) Get(keyIDHex string) (string, error) {
	if f.armored == "" {
		return "", ErrKeyNotFound
	}
	return f.armored, nil
}

func (f *fakeKeyServer) Add(armored string) error {
	f.added = append(f.added, armored)
	return nil
}

func makePublicKey(t *testing.T, identity string) *openpgp.PrimaryKey {
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

	var buf bytes.Buffer
	require.NoError(t, priv.PublicKey.Serialize(&buf))
	require.NoError(t, uid.Serialize(&buf))
	require.NoError(t, sig.Serialize(&buf))
	pubkey, err := openpgp.DecodePublic(buf.Bytes())
	require.NoError(t, err)
	return pubkey
}

func dialStore(t *testing.T) *keydb.Store {
	store, err := keydb.Dial(filepath.Join(t.TempDir(), "keychain.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestUploadKey(t *testing.T) {
	store := dialStore(t)
	pubkey := makePublicKey(t, "alice <alice@example.com>")
	require.NoError(t, store.Replace(pubkey.MasterKeyID(), nil, pubkey))

	ks := &fakeKeyServer{}
	require.NoError(t, UploadKey(ks, store, pubkey.MasterKeyID()))
	require.Len(t, ks.added, 1)

	blob, err := dearmor(ks.added[0])
	require.NoError(t, err)
	got, err := openpgp.DecodePublic(blob)
	require.NoError(t, err)
	assert.Equal(t, pubkey.KeyID, got.KeyID)
}

func TestUploadKeyNotStored(t *testing.T) {
	store := dialStore(t)
	err := UploadKey(&fakeKeyServer{}, store, 42)
	assert.True(t, keydb.IsNotFound(err))
}

func TestReceiveKey(t *testing.T) {
	store := dialStore(t)
	pubkey := makePublicKey(t, "bob <bob@example.com>")
	armored, err := pubkey.EncodeArmored()
	require.NoError(t, err)

	ks := &fakeKeyServer{armored: armored}
	summary, err := ReceiveKey(ks, keyimport.NewCoordinator(store), pubkey.KeyIDString())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Imported)

	got, err := store.Fetch(pubkey.MasterKeyID())
	require.NoError(t, err)
	assert.Equal(t, pubkey.KeyID, got.KeyID)
}

func TestReceiveKeyNotFound(t *testing.T) {
	store := dialStore(t)
	_, err := ReceiveKey(&fakeKeyServer{}, keyimport.NewCoordinator(store), "cafebabe")
	assert.True(t, IsNotFound(err))
}

func TestIndexEntry(t *testing.T) {
	pubkey := makePublicKey(t, "carol <carol@example.com>")
	entry := Index(pubkey)
	assert.Equal(t, pubkey.KeyIDString(), entry.KeyIDHex)
	assert.Equal(t, []string{"carol <carol@example.com>"}, entry.UserIDs)
	assert.False(t, entry.Revoked)
	assert.True(t, entry.Expiry.IsZero())
}

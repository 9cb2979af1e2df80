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
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"path/filepath"
	stdtesting "testing"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp/packet"
	gc "gopkg.in/check.v1"

	"github.com/tharinduwijewardane/openpgp-keychain/openpgp"
)

func Test(t *stdtesting.T) { gc.TestingT(t) }

type StoreSuite struct {
	store *Store
}

var _ = gc.Suite(&StoreSuite{})

func (s *StoreSuite) SetUpTest(c *gc.C) {
	store, err := Dial(filepath.Join(c.MkDir(), "keychain.db"))
	c.Assert(err, gc.IsNil)
	s.store = store
}

func (s *StoreSuite) TearDownTest(c *gc.C) {
	if s.store != nil {
		s.store.Close()
	}
}

// makeKeyring generates a keyring pair with the given identities; the
// first identity gets the flag-bearing self-certification.
func makeKeyring(c *gc.C, identities ...string) (*openpgp.SecretKeyring, *openpgp.PrimaryKey) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 1024)
	c.Assert(err, gc.IsNil)
	creation := time.Unix(1136214245, 0)
	priv := packet.NewRSAPrivateKey(creation, rsaKey)

	var pub, sec bytes.Buffer
	c.Assert(priv.PublicKey.Serialize(&pub), gc.IsNil)
	c.Assert(priv.Serialize(&sec), gc.IsNil)

	for i, id := range identities {
		uid := &packet.UserId{Id: id}
		primary := i == 0
		sig := &packet.Signature{
			Version:      4,
			SigType:      packet.SigTypePositiveCert,
			PubKeyAlgo:   packet.PubKeyAlgoRSA,
			Hash:         crypto.SHA256,
			CreationTime: creation,
			IssuerKeyId:  &priv.PublicKey.KeyId,
			IsPrimaryId:  &primary,
		}
		if primary {
			sig.FlagsValid = true
			sig.FlagCertify = true
			sig.FlagSign = true
		}
		c.Assert(sig.SignUserId(uid.Id, &priv.PublicKey, priv, nil), gc.IsNil)
		for _, buf := range []*bytes.Buffer{&pub, &sec} {
			c.Assert(uid.Serialize(buf), gc.IsNil)
			c.Assert(sig.Serialize(buf), gc.IsNil)
		}
	}

	pubkey, err := openpgp.DecodePublic(pub.Bytes())
	c.Assert(err, gc.IsNil)
	secret, err := openpgp.ParseSecretKeyring(sec.Bytes())
	c.Assert(err, gc.IsNil)
	return secret, pubkey
}

func (s *StoreSuite) count(c *gc.C, query string, args ...interface{}) int {
	var n int
	c.Assert(s.store.Get(&n, query, args...), gc.IsNil)
	return n
}

func (s *StoreSuite) TestReplaceFetchRoundTrip(c *gc.C) {
	secret, pubkey := makeKeyring(c, "alice <alice@example.com>")
	id := pubkey.MasterKeyID()

	c.Assert(s.store.Replace(id, secret, pubkey), gc.IsNil)

	got, err := s.store.Fetch(id)
	c.Assert(err, gc.IsNil)
	c.Assert(got.KeyID, gc.Equals, pubkey.KeyID)
	c.Assert(got.UserIDs, gc.HasLen, 1)

	gotSecret, err := s.store.FetchSecret(id)
	c.Assert(err, gc.IsNil)
	c.Assert(gotSecret.MasterKeyID(), gc.Equals, id)

	c.Assert(s.count(c, "SELECT COUNT(*) FROM keys WHERE master_key_id = ?", id), gc.Equals, 1)
	c.Assert(s.count(c, "SELECT COUNT(*) FROM user_ids WHERE master_key_id = ?", id), gc.Equals, 1)
	c.Assert(s.count(c, "SELECT COUNT(*) FROM certs WHERE master_key_id = ?", id), gc.Equals, 1)
}

func (s *StoreSuite) TestFetchNotFound(c *gc.C) {
	_, err := s.store.Fetch(42)
	c.Assert(IsNotFound(err), gc.Equals, true)
	_, err = s.store.FetchSecret(42)
	c.Assert(IsNotFound(err), gc.Equals, true)
}

func (s *StoreSuite) TestFetchReturnsFreshAggregate(c *gc.C) {
	secret, pubkey := makeKeyring(c, "eve <eve@example.com>")
	id := pubkey.MasterKeyID()
	c.Assert(s.store.Replace(id, secret, pubkey), gc.IsNil)

	got, err := s.store.Fetch(id)
	c.Assert(err, gc.IsNil)
	before := len(got.UserIDs[0].Signatures)

	// Mutating a fetched keyring must stay invisible to later fetches
	// until the caller persists it through Replace.
	got.UserIDs[0].Signatures = append(got.UserIDs[0].Signatures, got.UserIDs[0].Signatures[0])

	again, err := s.store.Fetch(id)
	c.Assert(err, gc.IsNil)
	c.Assert(again.UserIDs[0].Signatures, gc.HasLen, before)
}

func (s *StoreSuite) TestReplaceShrinksIdentities(c *gc.C) {
	secret, pubkey := makeKeyring(c, "alice <alice@example.com>", "alice <alice@work.example>")
	id := pubkey.MasterKeyID()
	c.Assert(s.store.Replace(id, secret, pubkey), gc.IsNil)
	c.Assert(s.count(c, "SELECT COUNT(*) FROM user_ids WHERE master_key_id = ?", id), gc.Equals, 2)

	// Rebuild the aggregate with only the primary identity left.
	pubkey.UserIDs = pubkey.UserIDs[:1]
	c.Assert(s.store.Replace(id, nil, pubkey), gc.IsNil)
	c.Assert(s.count(c, "SELECT COUNT(*) FROM user_ids WHERE master_key_id = ?", id), gc.Equals, 1)
	c.Assert(s.count(c, "SELECT COUNT(*) FROM certs WHERE master_key_id = ? AND rank > 0", id), gc.Equals, 0)
}

func (s *StoreSuite) TestReplaceNilSecretPreservesSecret(c *gc.C) {
	secret, pubkey := makeKeyring(c, "bob <bob@example.com>")
	id := pubkey.MasterKeyID()
	c.Assert(s.store.Replace(id, secret, pubkey), gc.IsNil)

	c.Assert(s.store.Replace(id, nil, pubkey), gc.IsNil)
	_, err := s.store.FetchSecret(id)
	c.Assert(err, gc.IsNil)
}

func (s *StoreSuite) TestDeleteCascades(c *gc.C) {
	secret, pubkey := makeKeyring(c, "carol <carol@example.com>")
	id := pubkey.MasterKeyID()
	c.Assert(s.store.Replace(id, secret, pubkey), gc.IsNil)

	c.Assert(s.store.Delete(id), gc.IsNil)
	for _, table := range []string{"keyrings_public", "keyrings_secret", "keys", "user_ids", "certs"} {
		c.Assert(s.count(c, "SELECT COUNT(*) FROM "+table+" WHERE master_key_id = ?", id), gc.Equals, 0,
			gc.Commentf("table %s", table))
	}
	c.Assert(IsNotFound(s.store.Delete(id)), gc.Equals, true)
}

func (s *StoreSuite) TestSummaries(c *gc.C) {
	secret1, pubkey1 := makeKeyring(c, "alice <alice@example.com>")
	_, pubkey2 := makeKeyring(c, "bob <bob@example.com>")
	c.Assert(s.store.Replace(pubkey1.MasterKeyID(), secret1, pubkey1), gc.IsNil)
	c.Assert(s.store.Replace(pubkey2.MasterKeyID(), nil, pubkey2), gc.IsNil)

	iter, err := s.store.Summaries("")
	c.Assert(err, gc.IsNil)
	defer iter.Close()
	var got []*Summary
	for {
		summary, ok := iter.Next()
		if !ok {
			break
		}
		got = append(got, summary)
	}
	c.Assert(iter.Err(), gc.IsNil)
	c.Assert(got, gc.HasLen, 2)
	// Insertion order.
	c.Assert(got[0].MasterKeyID, gc.Equals, pubkey1.MasterKeyID())
	c.Assert(got[0].HasSecret, gc.Equals, true)
	c.Assert(got[0].Verified, gc.Equals, true)
	c.Assert(got[0].PrimaryUserID.String, gc.Equals, "alice <alice@example.com>")
	c.Assert(got[1].HasSecret, gc.Equals, false)

	iter, err = s.store.Summaries("bob")
	c.Assert(err, gc.IsNil)
	defer iter.Close()
	summary, ok := iter.Next()
	c.Assert(ok, gc.Equals, true)
	c.Assert(summary.MasterKeyID, gc.Equals, pubkey2.MasterKeyID())
	_, ok = iter.Next()
	c.Assert(ok, gc.Equals, false)
}

func (s *StoreSuite) TestSummariesInsertionOrder(c *gc.C) {
	_, first := makeKeyring(c, "first <first@example.com>")
	_, second := makeKeyring(c, "second <second@example.com>")
	// Make key id order disagree with insertion order, so an ordering by
	// master key id would fail.
	if first.MasterKeyID() < second.MasterKeyID() {
		first, second = second, first
	}
	c.Assert(s.store.Replace(first.MasterKeyID(), nil, first), gc.IsNil)
	c.Assert(s.store.Replace(second.MasterKeyID(), nil, second), gc.IsNil)

	iter, err := s.store.Summaries("")
	c.Assert(err, gc.IsNil)
	defer iter.Close()
	var ids []int64
	for {
		summary, ok := iter.Next()
		if !ok {
			break
		}
		ids = append(ids, summary.MasterKeyID)
	}
	c.Assert(iter.Err(), gc.IsNil)
	c.Assert(ids, gc.DeepEquals, []int64{first.MasterKeyID(), second.MasterKeyID()})
}

func (s *StoreSuite) TestTruncate(c *gc.C) {
	secret, pubkey := makeKeyring(c, "dave <dave@example.com>")
	c.Assert(s.store.Replace(pubkey.MasterKeyID(), secret, pubkey), gc.IsNil)
	c.Assert(s.store.Truncate(), gc.IsNil)
	c.Assert(s.count(c, "SELECT COUNT(*) FROM keyrings_public"), gc.Equals, 0)
	c.Assert(s.count(c, "SELECT COUNT(*) FROM keyrings_secret"), gc.Equals, 0)
}

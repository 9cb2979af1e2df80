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

package openpgp

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	stdtesting "testing"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp/packet"
	gc "gopkg.in/check.v1"
)

func Test(t *stdtesting.T) { gc.TestingT(t) }

type PacketSuite struct{}

var _ = gc.Suite(&PacketSuite{})

// testKey is a freshly generated keyring with one user ID and a positive
// self-certification, in both wire forms.
type testKey struct {
	priv   *packet.PrivateKey
	uid    *packet.UserId
	public []byte
	secret []byte
}

func mustTestKey(c *gc.C, identity string) *testKey {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 1024)
	c.Assert(err, gc.IsNil)
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
	err = sig.SignUserId(uid.Id, &priv.PublicKey, priv, nil)
	c.Assert(err, gc.IsNil)

	var pub bytes.Buffer
	c.Assert(priv.PublicKey.Serialize(&pub), gc.IsNil)
	c.Assert(uid.Serialize(&pub), gc.IsNil)
	c.Assert(sig.Serialize(&pub), gc.IsNil)

	var sec bytes.Buffer
	c.Assert(priv.Serialize(&sec), gc.IsNil)
	c.Assert(uid.Serialize(&sec), gc.IsNil)
	c.Assert(sig.Serialize(&sec), gc.IsNil)

	return &testKey{priv: priv, uid: uid, public: pub.Bytes(), secret: sec.Bytes()}
}

func (s *PacketSuite) TestPublicRoundTrip(c *gc.C) {
	tk := mustTestKey(c, "alice <alice@example.com>")

	key, err := DecodePublic(tk.public)
	c.Assert(err, gc.IsNil)
	c.Assert(key.KeyID, gc.Equals, tk.priv.PublicKey.KeyId)
	c.Assert(key.MasterKeyID(), gc.Equals, int64(tk.priv.PublicKey.KeyId))
	c.Assert(key.UserIDs, gc.HasLen, 1)
	c.Assert(key.UserIDs[0].Keywords, gc.Equals, "alice <alice@example.com>")
	c.Assert(key.UserIDs[0].Signatures, gc.HasLen, 1)

	out, err := key.Encode()
	c.Assert(err, gc.IsNil)
	c.Assert(bytes.Equal(out, tk.public), gc.Equals, true)
}

func (s *PacketSuite) TestDecodeClassifiesSecret(c *gc.C) {
	tk := mustTestKey(c, "bob <bob@example.com>")

	d, err := Decode(tk.secret)
	c.Assert(err, gc.IsNil)
	c.Assert(d.Public, gc.IsNil)
	c.Assert(d.Secret, gc.NotNil)
	c.Assert(d.Secret.MasterKeyID(), gc.Equals, int64(tk.priv.PublicKey.KeyId))
	c.Assert(d.Secret.Keys, gc.HasLen, 1)
	c.Assert(d.Secret.Keys[0].Encrypted, gc.Equals, false)

	out, err := d.Secret.Encode()
	c.Assert(err, gc.IsNil)
	c.Assert(bytes.Equal(out, tk.secret), gc.Equals, true)
}

func (s *PacketSuite) TestPublicImage(c *gc.C) {
	tk := mustTestKey(c, "carol <carol@example.com>")

	skr, err := ParseSecretKeyring(tk.secret)
	c.Assert(err, gc.IsNil)
	pubkey, err := skr.PublicImage()
	c.Assert(err, gc.IsNil)
	c.Assert(pubkey.KeyID, gc.Equals, tk.priv.PublicKey.KeyId)
	c.Assert(pubkey.UserIDs, gc.HasLen, 1)

	selfSigs, otherSigs := pubkey.UserIDs[0].SigInfo(pubkey)
	c.Assert(otherSigs, gc.HasLen, 0)
	c.Assert(selfSigs.Errors, gc.HasLen, 0)
	c.Assert(selfSigs.Certifications, gc.HasLen, 1)
	c.Assert(selfSigs.Valid(), gc.Equals, true)
}

func (s *PacketSuite) TestSelfSigVerifies(c *gc.C) {
	tk := mustTestKey(c, "dave <dave@example.com>")

	key, err := DecodePublic(tk.public)
	c.Assert(err, gc.IsNil)
	uid := key.UserIDs[0]
	err = key.verifyUserIDSelfSig(uid, uid.Signatures[0])
	c.Assert(err, gc.IsNil)
}

func (s *PacketSuite) TestForeignSigIsOther(c *gc.C) {
	tk := mustTestKey(c, "erin <erin@example.com>")
	signer := mustTestKey(c, "frank <frank@example.com>")

	key, err := DecodePublic(tk.public)
	c.Assert(err, gc.IsNil)
	uid := key.UserIDs[0]

	sig := &packet.Signature{
		Version:      4,
		SigType:      packet.SigTypeGenericCert,
		PubKeyAlgo:   packet.PubKeyAlgoRSA,
		Hash:         crypto.SHA256,
		CreationTime: time.Unix(1136214300, 0),
		IssuerKeyId:  &signer.priv.PublicKey.KeyId,
	}
	err = sig.SignUserId(tk.uid.Id, &tk.priv.PublicKey, signer.priv, nil)
	c.Assert(err, gc.IsNil)
	modelSig, err := NewSignature(sig, key.Creation, key.UUID, uid.UUID)
	c.Assert(err, gc.IsNil)
	uid.Signatures = append(uid.Signatures, modelSig)

	selfSigs, otherSigs := uid.SigInfo(key)
	c.Assert(selfSigs.Certifications, gc.HasLen, 1)
	c.Assert(otherSigs, gc.HasLen, 1)
	c.Assert(otherSigs[0].IssuerKeyID, gc.Equals, signer.priv.PublicKey.KeyId)

	issuer, err := DecodePublic(signer.public)
	c.Assert(err, gc.IsNil)
	err = key.VerifyUserIDSig(uid, issuer, otherSigs[0])
	c.Assert(err, gc.IsNil)
}

func (s *PacketSuite) TestDropDuplicates(c *gc.C) {
	tk := mustTestKey(c, "grace <grace@example.com>")

	key, err := DecodePublic(tk.public)
	c.Assert(err, gc.IsNil)

	// Graft a second copy of the user ID packet onto the keyring.
	ops, err := readOpaquePackets(bytes.NewBuffer(tk.public))
	c.Assert(err, gc.IsNil)
	dup, err := ParseUserID(ops[1], key.UUID)
	c.Assert(err, gc.IsNil)
	key.UserIDs = append(key.UserIDs, dup)
	c.Assert(key.UserIDs, gc.HasLen, 2)

	c.Assert(DropDuplicates(key), gc.IsNil)
	c.Assert(key.UserIDs, gc.HasLen, 1)
}

func (s *PacketSuite) TestDecodeEmpty(c *gc.C) {
	_, err := Decode(nil)
	c.Assert(err, gc.NotNil)
}

func (s *PacketSuite) TestDecodeLeadingSignature(c *gc.C) {
	tk := mustTestKey(c, "heidi <heidi@example.com>")
	ops, err := readOpaquePackets(bytes.NewBuffer(tk.public))
	c.Assert(err, gc.IsNil)
	var buf bytes.Buffer
	c.Assert(ops[2].Serialize(&buf), gc.IsNil)
	_, err = Decode(buf.Bytes())
	c.Assert(err, gc.NotNil)
}

func (s *PacketSuite) TestArmorRoundTrip(c *gc.C) {
	tk := mustTestKey(c, "ivan <ivan@example.com>")
	key, err := DecodePublic(tk.public)
	c.Assert(err, gc.IsNil)

	armored, err := key.EncodeArmored()
	c.Assert(err, gc.IsNil)
	d, err := DecodeArmored(bytes.NewBufferString(armored))
	c.Assert(err, gc.IsNil)
	c.Assert(d.Public, gc.NotNil)
	c.Assert(d.Public.KeyID, gc.Equals, key.KeyID)
}

func (s *PacketSuite) TestCleanUtf8(c *gc.C) {
	c.Assert(cleanUtf8("plain"), gc.Equals, "plain")
	c.Assert(cleanUtf8("tab\there"), gc.Equals, "tabhere")
	c.Assert(cleanUtf8(string([]byte{0xff, 0xfe, 'o', 'k'})), gc.Equals, "??ok")
}

func (s *PacketSuite) TestAlgorithmName(c *gc.C) {
	c.Assert(AlgorithmName(1), gc.Equals, "rsa")
	c.Assert(AlgorithmName(16), gc.Equals, "elgE")
	c.Assert(AlgorithmName(17), gc.Equals, "dsa")
	c.Assert(AlgorithmName(99), gc.Equals, "unk(#99)")
}

func (s *PacketSuite) TestQualifiedFingerprint(c *gc.C) {
	tk := mustTestKey(c, "judy <judy@example.com>")
	key, err := DecodePublic(tk.public)
	c.Assert(err, gc.IsNil)
	c.Assert(key.QualifiedFingerprint(), gc.Equals,
		"rsa1024/"+hex.EncodeToString(key.Fingerprint))
}

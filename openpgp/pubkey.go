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
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/pkg/errors"
)

type PublicKey struct {
	Packet

	// Fingerprint stores the key fingerprint bytes.
	Fingerprint []byte

	// KeyID stores the 64-bit OpenPGP key ID.
	KeyID uint64

	// Creation stores the timestamp when the public key was created.
	Creation time.Time

	// Algorithm stores the algorithm type of the public key.
	Algorithm int

	// BitLen stores the bit length of the public key.
	BitLen int

	Signatures []*Signature
	Others     []*Packet
}

func AlgorithmName(code int) string {
	switch code {
	case 1:
		return "rsa"
	case 2:
		return "rsaE"
	case 3:
		return "rsaS"
	case 16:
		return "elgE"
	case 17:
		return "dsa"
	case 18:
		return "ecdh"
	case 19:
		return "ecdsa"
	case 22:
		return "eddsa"
	default:
		return fmt.Sprintf("unk(#%d)", code)
	}
}

func (pk *PublicKey) QualifiedFingerprint() string {
	return fmt.Sprintf("%s%d/%s", AlgorithmName(pk.Algorithm), pk.BitLen, hex.EncodeToString(pk.Fingerprint))
}

func (pk *PublicKey) KeyIDString() string {
	return fmt.Sprintf("%016x", pk.KeyID)
}

// appendSignature implements signable.
func (pk *PublicKey) appendSignature(sig *Signature) {
	pk.Signatures = append(pk.Signatures, sig)
}

func (pkp *PublicKey) publicKeyPacket() (*packet.PublicKey, error) {
	op, err := pkp.opaquePacket()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	p, err := op.Parse()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	pk, ok := p.(*packet.PublicKey)
	if !ok {
		return nil, errors.Errorf("expected public key packet, got %T", p)
	}
	return pk, nil
}

// PublicKeyPacket parses the raw key material packet.
func (pkp *PublicKey) PublicKeyPacket() (*packet.PublicKey, error) {
	return pkp.publicKeyPacket()
}

func (pkp *PublicKey) parse(op *packet.OpaquePacket, subkey bool) error {
	p, err := op.Parse()
	if err != nil {
		return errors.WithStack(err)
	}

	if pk, ok := p.(*packet.PublicKey); ok {
		if pk.IsSubkey != subkey {
			return ErrInvalidPacketType
		}
		return pkp.setPublicKey(pk)
	}

	return errors.WithStack(ErrInvalidPacketType)
}

func (pkp *PublicKey) setPublicKey(pk *packet.PublicKey) error {
	bitLen, err := pk.BitLength()
	if err != nil {
		return errors.WithStack(err)
	}
	pkp.Fingerprint = append([]byte(nil), pk.Fingerprint...)
	pkp.KeyID = pk.KeyId
	pkp.UUID = hex.EncodeToString(pkp.Fingerprint)
	pkp.Creation = pk.CreationTime
	pkp.Algorithm = int(pk.PubKeyAlgo)
	pkp.BitLen = int(bitLen)
	pkp.Parsed = true
	return nil
}

// setUnsupported records an opaque fingerprint for key packets that cannot
// be parsed, so the material survives a decode/encode round-trip.
func (pkp *PublicKey) setUnsupported(op *packet.OpaquePacket) {
	h := make([]byte, 8)
	binary.BigEndian.PutUint64(h, uint64(len(op.Contents)))
	pkp.Fingerprint = append(h, op.Contents...)
	if len(pkp.Fingerprint) > 20 {
		pkp.Fingerprint = pkp.Fingerprint[:20]
	}
	pkp.UUID = hex.EncodeToString(pkp.Fingerprint)
}

type PrimaryKey struct {
	PublicKey

	SubKeys []*SubKey
	UserIDs []*UserID
}

// MasterKeyID returns the signed 64-bit master key id under which the
// keyring aggregate is stored.
func (pubkey *PrimaryKey) MasterKeyID() int64 {
	return int64(pubkey.KeyID)
}

// contents implements the packetNode interface for top-level public keys.
func (pubkey *PrimaryKey) contents() []packetNode {
	result := []packetNode{pubkey}
	for _, sig := range pubkey.Signatures {
		result = append(result, sig.contents()...)
	}
	for _, uid := range pubkey.UserIDs {
		result = append(result, uid.contents()...)
	}
	for _, subkey := range pubkey.SubKeys {
		result = append(result, subkey.contents()...)
	}
	for _, other := range pubkey.Others {
		result = append(result, other.contents()...)
	}
	return result
}

func (*PrimaryKey) removeDuplicate(parent packetNode, dup packetNode) error {
	return errors.New("cannot remove a duplicate primary pubkey")
}

func ParsePrimaryKey(op *packet.OpaquePacket) (*PrimaryKey, error) {
	var buf bytes.Buffer
	var err error

	if err = op.Serialize(&buf); err != nil {
		return nil, errors.WithStack(err)
	}
	pubkey := &PrimaryKey{
		PublicKey: PublicKey{
			Packet: Packet{
				Tag:    op.Tag,
				Packet: buf.Bytes(),
			},
		},
	}

	// Attempt to parse the opaque packet into a public key type.
	parseErr := pubkey.parse(op, false)
	if parseErr != nil {
		pubkey.setUnsupported(op)
	} else {
		pubkey.Parsed = true
	}

	return pubkey, nil
}

func (pubkey *PrimaryKey) setPublicKey(pk *packet.PublicKey) error {
	if pk.IsSubkey {
		return errors.Wrap(ErrInvalidPacketType, "expected primary public key packet, got sub-key")
	}
	return pubkey.PublicKey.setPublicKey(pk)
}

// UserID returns the user ID node matching the given identity string, or nil.
func (pubkey *PrimaryKey) UserID(id string) *UserID {
	for _, uid := range pubkey.UserIDs {
		if uid.Keywords == id {
			return uid
		}
	}
	return nil
}

// SigInfo partitions the primary key's direct signatures into verified
// self-signatures and all other signatures.
func (pubkey *PrimaryKey) SigInfo() (*SelfSigs, []*Signature) {
	selfSigs := &SelfSigs{target: pubkey}
	var otherSigs []*Signature
	for _, sig := range pubkey.Signatures {
		// Skip non-self-certifications.
		if sig.IssuerKeyID != pubkey.KeyID {
			otherSigs = append(otherSigs, sig)
			continue
		}
		checkSig := &CheckSig{
			PrimaryKey: pubkey,
			Signature:  sig,
			Error:      pubkey.verifyPublicKeySelfSig(&pubkey.PublicKey, sig),
		}
		if checkSig.Error != nil {
			selfSigs.Errors = append(selfSigs.Errors, checkSig)
			continue
		}
		switch sig.SigType {
		case 0x20: // packet.SigTypeKeyRevocation
			selfSigs.Revocations = append(selfSigs.Revocations, checkSig)
		case 0x1f: // packet.SigTypeDirectSignature
			selfSigs.Certifications = append(selfSigs.Certifications, checkSig)
			if !sig.Expiration.IsZero() {
				selfSigs.Expirations = append(selfSigs.Expirations, checkSig)
			}
		}
	}
	selfSigs.resolve()
	return selfSigs, otherSigs
}

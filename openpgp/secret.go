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
	"encoding/hex"
	"io"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/pkg/errors"
)

// SecretKey is one secret key packet within a secret keyring.
type SecretKey struct {
	Packet

	Fingerprint []byte
	KeyID       uint64
	Creation    time.Time
	Algorithm   int
	Encrypted   bool
	IsSubkey    bool
}

// SecretKeyring holds the ordered packets of a secret keyring. Secret key
// packets are indexed in Keys; every other packet rides along verbatim so
// that Encode round-trips byte for byte.
type SecretKeyring struct {
	Packets []*Packet
	Keys    []*SecretKey
}

const skeyTag = "{skey}"

// MasterKey returns the leading secret key packet.
func (skr *SecretKeyring) MasterKey() *SecretKey {
	return skr.Keys[0]
}

// MasterKeyID returns the signed 64-bit master key id under which the
// keyring aggregate is stored.
func (skr *SecretKeyring) MasterKeyID() int64 {
	return int64(skr.Keys[0].KeyID)
}

func parseSecretKeyring(ops []*packet.OpaquePacket) (*SecretKeyring, error) {
	if len(ops) == 0 || ops[0].Tag != 5 {
		return nil, errors.Wrap(ErrInvalidPacketType, "expected a leading secret key packet")
	}
	skr := &SecretKeyring{}
	var masterUUID string
	for i, op := range ops {
		var buf bytes.Buffer
		if err := op.Serialize(&buf); err != nil {
			return nil, errors.WithStack(err)
		}
		switch op.Tag {
		case 5, 7: //packet.PacketTypePrivateKey, packet.PacketTypePrivateSubkey
			if i > 0 && op.Tag == 5 {
				return nil, errors.New("multiple secret keyrings in blob")
			}
			skey := &SecretKey{
				Packet: Packet{
					Tag:    op.Tag,
					Packet: buf.Bytes(),
				},
			}
			p, err := op.Parse()
			if err == nil {
				pk, ok := p.(*packet.PrivateKey)
				if !ok {
					err = errors.WithStack(ErrInvalidPacketType)
				} else {
					skey.Fingerprint = append([]byte(nil), pk.Fingerprint...)
					skey.KeyID = pk.KeyId
					skey.Creation = pk.CreationTime
					skey.Algorithm = int(pk.PubKeyAlgo)
					skey.Encrypted = pk.Encrypted
					skey.IsSubkey = op.Tag == 7
					skey.UUID = hex.EncodeToString(skey.Fingerprint)
					skey.Parsed = true
				}
			}
			if !skey.Parsed {
				if op.Tag == 5 {
					return nil, errors.Wrap(err, "unreadable master secret key packet")
				}
				skey.UUID = scopedDigest([]string{masterUUID}, skeyTag, buf.Bytes())
			}
			if op.Tag == 5 {
				masterUUID = skey.UUID
			}
			skr.Keys = append(skr.Keys, skey)
			skr.Packets = append(skr.Packets, &skey.Packet)
		default:
			pkt := &Packet{
				UUID:   scopedDigest([]string{masterUUID}, packetTag, buf.Bytes()),
				Tag:    op.Tag,
				Packet: buf.Bytes(),
			}
			skr.Packets = append(skr.Packets, pkt)
		}
	}
	return skr, nil
}

// ParseSecretKeyring parses a binary secret keyring blob.
func ParseSecretKeyring(buf []byte) (*SecretKeyring, error) {
	ops, err := readOpaquePackets(bytes.NewBuffer(buf))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return parseSecretKeyring(ops)
}

// Encode serializes the secret keyring to its binary wire form.
func (skr *SecretKeyring) Encode() ([]byte, error) {
	var buf bytes.Buffer
	for _, pkt := range skr.Packets {
		_, err := buf.Write(pkt.Packet)
		if err != nil {
			return nil, errors.WithStack(err)
		}
	}
	return buf.Bytes(), nil
}

// EncodeArmored serializes the secret keyring as armored text.
func (skr *SecretKeyring) EncodeArmored() (string, error) {
	var buf bytes.Buffer
	armw, err := armor.Encode(&buf, PrivateKeyType, nil)
	if err != nil {
		return "", errors.WithStack(err)
	}
	for _, pkt := range skr.Packets {
		_, err = armw.Write(pkt.Packet)
		if err != nil {
			return "", errors.WithStack(err)
		}
	}
	err = armw.Close()
	if err != nil {
		return "", errors.WithStack(err)
	}
	return buf.String(), nil
}

// privateKeyPacket parses the raw secret key packet.
func (skey *SecretKey) privateKeyPacket() (*packet.PrivateKey, error) {
	op, err := skey.opaquePacket()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	p, err := op.Parse()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	pk, ok := p.(*packet.PrivateKey)
	if !ok {
		return nil, errors.Errorf("expected secret key packet, got %T", p)
	}
	return pk, nil
}

// UnlockedKey parses and decrypts the secret key packet. An empty
// passphrase unlocks unprotected key material only.
func (skey *SecretKey) UnlockedKey(passphrase []byte) (*packet.PrivateKey, error) {
	pk, err := skey.privateKeyPacket()
	if err != nil {
		return nil, err
	}
	if pk.Encrypted {
		err = pk.Decrypt(passphrase)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot unlock secret key %016x", skey.KeyID)
		}
	}
	return pk, nil
}

// MutateKeys parses each secret key packet, applies f, and re-serializes
// the mutated key back into the keyring. Used for passphrase changes.
func (skr *SecretKeyring) MutateKeys(f func(*packet.PrivateKey) error) error {
	for _, skey := range skr.Keys {
		if !skey.Parsed {
			continue
		}
		pk, err := skey.privateKeyPacket()
		if err != nil {
			return err
		}
		err = f(pk)
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		err = pk.Serialize(&buf)
		if err != nil {
			return errors.WithStack(err)
		}
		skey.Packet.Packet = buf.Bytes()
		skey.Encrypted = pk.Encrypted
	}
	return nil
}

// PublicImage derives the public keyring that corresponds to this secret
// keyring. Secret key packets are rewritten as their public counterparts
// and every other packet is carried over verbatim.
func (skr *SecretKeyring) PublicImage() (*PrimaryKey, error) {
	var buf bytes.Buffer
	for _, pkt := range skr.Packets {
		switch pkt.Tag {
		case 5, 7:
			op, err := newOpaquePacket(pkt.Packet)
			if err != nil {
				return nil, errors.WithStack(err)
			}
			p, err := op.Parse()
			if err != nil {
				return nil, errors.WithStack(err)
			}
			pk, ok := p.(*packet.PrivateKey)
			if !ok {
				return nil, errors.WithStack(ErrInvalidPacketType)
			}
			err = pk.PublicKey.Serialize(&buf)
			if err != nil {
				return nil, errors.WithStack(err)
			}
		default:
			_, err := buf.Write(pkt.Packet)
			if err != nil {
				return nil, errors.WithStack(err)
			}
		}
	}
	return DecodePublic(buf.Bytes())
}

// DecodeSecretArmored decodes a single armored secret keyring block.
func DecodeSecretArmored(r io.Reader) (*SecretKeyring, error) {
	block, err := armor.Decode(r)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	buf, err := io.ReadAll(block.Body)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return ParseSecretKeyring(buf)
}

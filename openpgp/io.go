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
	"io"

	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/pkg/errors"

	log "github.com/sirupsen/logrus"
)

// Armor block types exchanged with keyservers and on export.
const (
	PublicKeyType  = "PGP PUBLIC KEY BLOCK"
	PrivateKeyType = "PGP PRIVATE KEY BLOCK"
)

var ErrEmptyKeyring = errors.New("keyring contains no key material")

// Decoded is the result of classifying an opaque keyring blob.
// Exactly one of Public or Secret is set.
type Decoded struct {
	Public *PrimaryKey
	Secret *SecretKeyring
}

// Decode parses a binary keyring blob into either a public keyring or a
// secret keyring, depending on the leading key packet.
func Decode(buf []byte) (*Decoded, error) {
	ops, err := readOpaquePackets(bytes.NewBuffer(buf))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if len(ops) == 0 {
		return nil, errors.WithStack(ErrEmptyKeyring)
	}
	switch ops[0].Tag {
	case 6: //packet.PacketTypePublicKey
		pubkey, err := parsePublicKeyring(ops)
		if err != nil {
			return nil, err
		}
		return &Decoded{Public: pubkey}, nil
	case 5: //packet.PacketTypePrivateKey
		skr, err := parseSecretKeyring(ops)
		if err != nil {
			return nil, err
		}
		return &Decoded{Secret: skr}, nil
	}
	return nil, errors.Wrapf(ErrInvalidPacketType, "unexpected leading packet tag %d", ops[0].Tag)
}

// DecodePublic parses a binary public keyring blob.
func DecodePublic(buf []byte) (*PrimaryKey, error) {
	d, err := Decode(buf)
	if err != nil {
		return nil, err
	}
	if d.Public == nil {
		return nil, errors.Wrap(ErrInvalidPacketType, "expected a public keyring")
	}
	return d.Public, nil
}

// DecodeArmored decodes a single armored keyring block.
func DecodeArmored(r io.Reader) (*Decoded, error) {
	block, err := armor.Decode(r)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	buf, err := io.ReadAll(block.Body)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return Decode(buf)
}

func readOpaquePackets(r io.Reader) ([]*packet.OpaquePacket, error) {
	var result []*packet.OpaquePacket
	or := packet.NewOpaqueReader(r)
	for {
		op, err := or.Next()
		if err == io.EOF {
			return result, nil
		} else if err != nil {
			return nil, errors.WithStack(err)
		}
		result = append(result, op)
	}
}

// parsePublicKeyring assembles the packet tree for one public keyring. The
// raw bytes of every packet are preserved, including unsupported material,
// so that Encode round-trips byte for byte.
func parsePublicKeyring(ops []*packet.OpaquePacket) (*PrimaryKey, error) {
	var pubkey *PrimaryKey
	var signablePacket signable
	sigCreation := func() *PublicKey {
		switch s := signablePacket.(type) {
		case *PrimaryKey:
			return &s.PublicKey
		case *SubKey:
			return &s.PublicKey
		}
		return &pubkey.PublicKey
	}
	for _, opkt := range ops {
		var badPacket *packet.OpaquePacket
		if opkt.Tag == 6 { //packet.PacketTypePublicKey
			if pubkey != nil {
				return nil, errors.New("multiple public keys in keyring")
			}
			pk, err := ParsePrimaryKey(opkt)
			if err != nil {
				return nil, errors.Wrap(err, "invalid public key packet")
			}
			pubkey = pk
			signablePacket = pubkey
		} else if pubkey != nil {
			switch opkt.Tag {
			case 14: //packet.PacketTypePublicSubkey
				signablePacket = nil
				subkey, err := ParseSubKey(opkt)
				if err != nil {
					log.Debugf("unreadable subkey packet: %v", err)
					badPacket = opkt
				} else {
					pubkey.SubKeys = append(pubkey.SubKeys, subkey)
					signablePacket = subkey
				}
			case 13: //packet.PacketTypeUserId
				signablePacket = nil
				uid, err := ParseUserID(opkt, pubkey.UUID)
				if err != nil {
					log.Debugf("unreadable user id packet: %v", err)
					badPacket = opkt
				} else {
					pubkey.UserIDs = append(pubkey.UserIDs, uid)
					signablePacket = uid
				}
			case 2: //packet.PacketTypeSignature
				if signablePacket == nil {
					log.Debugf("signature out of context")
					badPacket = opkt
				} else {
					sig, err := ParseSignature(opkt, sigCreation().Creation, pubkey.UUID, signablePacket.uuid())
					if err != nil {
						log.Debugf("unreadable signature packet: %v", err)
						badPacket = opkt
					} else {
						signablePacket.appendSignature(sig)
					}
				}
			default:
				badPacket = opkt
			}

			if badPacket != nil {
				var badParent string
				if signablePacket != nil {
					badParent = signablePacket.uuid()
				} else {
					badParent = pubkey.uuid()
				}
				other, err := ParseOther(badPacket, badParent)
				if err != nil {
					return nil, errors.WithStack(err)
				}
				pubkey.Others = append(pubkey.Others, other)
			}
		}
	}
	if pubkey == nil {
		return nil, errors.New("primary public key not found")
	}
	return pubkey, nil
}

func WritePackets(w io.Writer, key *PrimaryKey) error {
	for _, node := range key.contents() {
		op, err := newOpaquePacket(node.packet().Packet)
		if err != nil {
			return errors.WithStack(err)
		}
		err = op.Serialize(w)
		if err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

// Encode serializes the public keyring to its binary wire form.
func (pubkey *PrimaryKey) Encode() ([]byte, error) {
	var buf bytes.Buffer
	err := WritePackets(&buf, pubkey)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func WriteArmoredPackets(w io.Writer, roots []*PrimaryKey) error {
	armw, err := armor.Encode(w, PublicKeyType, nil)
	if err != nil {
		return errors.WithStack(err)
	}
	defer armw.Close()
	for _, node := range roots {
		err = WritePackets(armw, node)
		if err != nil {
			return err
		}
	}
	return nil
}

// EncodeArmored serializes the public keyring as armored text.
func (pubkey *PrimaryKey) EncodeArmored() (string, error) {
	var buf bytes.Buffer
	err := WriteArmoredPackets(&buf, []*PrimaryKey{pubkey})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// DropDuplicates removes duplicate packets anywhere in the keyring tree.
func DropDuplicates(key *PrimaryKey) error {
	return dedup(key, nil)
}

func dedup(root packetNode, handleDuplicate func(primary, duplicate packetNode)) error {
	nodes := map[string]packetNode{}

	for _, node := range root.contents() {
		uuid := node.uuid() + "_" + scopedDigest(nil, "", node.packet().Packet)
		primary, ok := nodes[uuid]
		if ok {
			err := primary.removeDuplicate(root, node)
			if err != nil {
				return errors.WithStack(err)
			}

			err = dedup(primary, nil)
			if err != nil {
				return err
			}

			if handleDuplicate != nil {
				handleDuplicate(primary, node)
			}
		} else {
			nodes[uuid] = node
		}
	}
	return nil
}

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
	"time"

	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/pkg/errors"
)

type Signature struct {
	Packet

	SigType     int
	IssuerKeyID uint64
	Creation    time.Time
	Expiration  time.Time
	Primary     bool

	// Key usage flags carried in the hashed subpackets, if any.
	FlagsValid  bool
	FlagCertify bool
	FlagSign    bool
	FlagEncrypt bool
}

const sigTag = "{sig}"

// contents implements the packetNode interface for default unclassified packets.
func (sig *Signature) contents() []packetNode {
	return []packetNode{sig}
}

func (sig *Signature) removeDuplicate(parent packetNode, dup packetNode) error {
	dupSig, ok := dup.(*Signature)
	if !ok {
		return errors.Errorf("invalid packet duplicate: %+v", dup)
	}
	switch ppkt := parent.(type) {
	case *PrimaryKey:
		ppkt.Signatures = sigSlice(ppkt.Signatures).without(dupSig)
	case *SubKey:
		ppkt.Signatures = sigSlice(ppkt.Signatures).without(dupSig)
	case *UserID:
		ppkt.Signatures = sigSlice(ppkt.Signatures).without(dupSig)
	}
	return nil
}

type sigSlice []*Signature

func (ss sigSlice) without(target *Signature) []*Signature {
	var result []*Signature
	for _, sig := range ss {
		if sig != target {
			result = append(result, sig)
		}
	}
	return result
}

func ParseSignature(op *packet.OpaquePacket, keyCreationTime time.Time, pubkeyUUID, scopedUUID string) (*Signature, error) {
	var buf bytes.Buffer
	var err error

	if err = op.Serialize(&buf); err != nil {
		return nil, errors.WithStack(err)
	}
	sig := &Signature{
		Packet: Packet{
			UUID:   scopedDigest([]string{pubkeyUUID, scopedUUID}, sigTag, buf.Bytes()),
			Tag:    op.Tag,
			Packet: buf.Bytes(),
		},
	}

	err = sig.parse(op, keyCreationTime)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	sig.Parsed = true
	return sig, nil
}

func (sig *Signature) parse(op *packet.OpaquePacket, keyCreationTime time.Time) error {
	p, err := op.Parse()
	if err != nil {
		return errors.WithStack(err)
	}

	s, ok := p.(*packet.Signature)
	if !ok {
		return errors.WithStack(ErrInvalidPacketType)
	}
	return sig.setSignature(s, keyCreationTime)
}

func (sig *Signature) setSignature(s *packet.Signature, keyCreationTime time.Time) error {
	if s.IssuerKeyId == nil {
		return errors.New("missing issuer key ID")
	}
	sig.Creation = s.CreationTime
	sig.SigType = int(s.SigType)
	sig.IssuerKeyID = *s.IssuerKeyId

	// Expiration time
	if s.SigLifetimeSecs != nil && *s.SigLifetimeSecs > 0 {
		sig.Expiration = s.CreationTime.Add(
			time.Duration(*s.SigLifetimeSecs) * time.Second)
	} else if s.KeyLifetimeSecs != nil && *s.KeyLifetimeSecs > 0 {
		sig.Expiration = keyCreationTime.Add(
			time.Duration(*s.KeyLifetimeSecs) * time.Second)
	}

	// Primary indicator
	sig.Primary = s.IsPrimaryId != nil && *s.IsPrimaryId

	// Usage flags
	sig.FlagsValid = s.FlagsValid
	if s.FlagsValid {
		sig.FlagCertify = s.FlagCertify
		sig.FlagSign = s.FlagSign
		sig.FlagEncrypt = s.FlagEncryptCommunications || s.FlagEncryptStorage
	}

	return nil
}

func (sig *Signature) signaturePacket() (*packet.Signature, error) {
	op, err := sig.opaquePacket()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	p, err := op.Parse()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	s, ok := p.(*packet.Signature)
	if !ok {
		return nil, errors.Errorf("expected signature packet, got %T", p)
	}
	return s, nil
}

// NewSignature wraps a freshly generated signature packet into the opaque
// model, scoping its UUID under the given parents.
func NewSignature(s *packet.Signature, keyCreationTime time.Time, pubkeyUUID, scopedUUID string) (*Signature, error) {
	var buf bytes.Buffer
	if err := s.Serialize(&buf); err != nil {
		return nil, errors.WithStack(err)
	}
	op, err := newOpaquePacket(buf.Bytes())
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return ParseSignature(op, keyCreationTime, pubkeyUUID, scopedUUID)
}

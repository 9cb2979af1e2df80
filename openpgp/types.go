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

// Package `openpgp` models keyrings as trees of opaque OpenPGP packets. It
// supports decoding, encoding and non-authoritative verification of key
// material and certifications while preserving packet bytes verbatim.
//
// import "github.com/tharinduwijewardane/openpgp-keychain/openpgp"
//
package openpgp

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/pkg/errors"
	"gopkg.in/basen.v1"
)

var ErrInvalidPacketType error = fmt.Errorf("Invalid packet type")

type Packet struct {

	// UUID is a universally unique identifier string for this packet. Not
	// necessarily a standard UUID format though.
	UUID string

	// Tag indicates the OpenPGP packet tag type.
	Tag uint8

	// Parsed indicates whether the packet was parsed into a supported
	// structure, or carried along as opaque unsupported material.
	Parsed bool

	// Packet contains the raw packet bytes.
	Packet []byte
}

const packetTag = "{other}"

func ParseOther(op *packet.OpaquePacket, parentID string) (*Packet, error) {
	var buf bytes.Buffer
	err := op.Serialize(&buf)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return &Packet{
		UUID:   scopedDigest([]string{parentID}, packetTag, buf.Bytes()),
		Tag:    op.Tag,
		Packet: buf.Bytes(),
		Parsed: false,
	}, nil
}

// packetNode defines a tree-like hierarchy by which OpenPGP packets can be
// usefully traversed.
type packetNode interface {
	contents() []packetNode
	packet() *Packet
	removeDuplicate(parent packetNode, target packetNode) error
	uuid() string
}

type signable interface {
	appendSignature(*Signature)

	packetNode
}

// packet implements the packetNode interface.
func (p *Packet) packet() *Packet {
	return p
}

// contents implements the packetNode interface for default unclassified packets.
func (p *Packet) contents() []packetNode {
	return []packetNode{p}
}

func (p *Packet) uuid() string {
	return p.UUID
}

func (p *Packet) removeDuplicate(parent packetNode, dup packetNode) error {
	dupPacket, ok := dup.(*Packet)
	if !ok {
		return errors.Errorf("invalid packet duplicate: %+v", dup)
	}
	switch ppkt := parent.(type) {
	case *PrimaryKey:
		ppkt.Others = packetSlice(ppkt.Others).without(dupPacket)
	case *SubKey:
		ppkt.Others = packetSlice(ppkt.Others).without(dupPacket)
	case *UserID:
		ppkt.Others = packetSlice(ppkt.Others).without(dupPacket)
	}
	return nil
}

func (p *Packet) opaquePacket() (*packet.OpaquePacket, error) {
	return newOpaquePacket(p.Packet)
}

type packetSlice []*Packet

func (ps packetSlice) without(target *Packet) []*Packet {
	var result []*Packet
	for _, packet := range ps {
		if packet != target {
			result = append(result, packet)
		}
	}
	return result
}

func newOpaquePacket(buf []byte) (*packet.OpaquePacket, error) {
	r := packet.NewOpaqueReader(bytes.NewBuffer(buf))
	return r.Next()
}

func scopedDigest(parents []string, tag string, packet []byte) string {
	h := sha256.New()
	for i := range parents {
		h.Write([]byte(parents[i]))
		h.Write([]byte(tag))
	}
	h.Write(packet)
	return basen.Base58.EncodeToString(h.Sum(nil))
}

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
	"github.com/pkg/errors"
)

func (pubkey *PrimaryKey) verifyPublicKeySelfSig(signed *PublicKey, sig *Signature) error {
	pk, err := pubkey.publicKeyPacket()
	if err != nil {
		return errors.WithStack(err)
	}
	s, err := sig.signaturePacket()
	if err != nil {
		return errors.WithStack(err)
	}
	signedPk, err := signed.publicKeyPacket()
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(pk.VerifyKeySignature(signedPk, s))
}

func (pubkey *PrimaryKey) verifyUserIDSelfSig(uid *UserID, sig *Signature) error {
	u, err := uid.userIDPacket()
	if err != nil {
		return errors.WithStack(err)
	}
	pk, err := pubkey.publicKeyPacket()
	if err != nil {
		return errors.WithStack(err)
	}
	s, err := sig.signaturePacket()
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(pk.VerifyUserIdSignature(u.Id, pk, s))
}

// VerifyUserIDSig checks a certification made by an issuer key other than
// the certified keyring's own master key.
func (pubkey *PrimaryKey) VerifyUserIDSig(uid *UserID, issuer *PrimaryKey, sig *Signature) error {
	u, err := uid.userIDPacket()
	if err != nil {
		return errors.WithStack(err)
	}
	signedPk, err := pubkey.publicKeyPacket()
	if err != nil {
		return errors.WithStack(err)
	}
	issuerPk, err := issuer.publicKeyPacket()
	if err != nil {
		return errors.WithStack(err)
	}
	s, err := sig.signaturePacket()
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(issuerPk.VerifyUserIdSignature(u.Id, signedPk, s))
}

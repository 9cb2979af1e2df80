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

package keyop

import (
	"context"
	"crypto"

	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/pkg/errors"

	"github.com/tharinduwijewardane/openpgp-keychain/keydb"
	"github.com/tharinduwijewardane/openpgp-keychain/openpgp"
)

// Certify signs the requested identities on a stored public keyring with
// the certifier's master key, appending one generic certification per
// identity. Certifications accumulate; repeating a certification yields
// two retained signatures. The mutated keyring is returned but not
// persisted.
func (e *Engine) Certify(ctx context.Context, certifierMasterKeyID, targetMasterKeyID int64, identities []string, passphrase []byte) (*openpgp.PrimaryKey, error) {
	if len(identities) == 0 {
		return nil, errors.WithStack(ErrNoUserIDs)
	}

	secret, err := e.store.FetchSecret(certifierMasterKeyID)
	if err != nil {
		if keydb.IsNotFound(err) {
			return nil, errors.Wrapf(ErrCertifierNotFound, "%016x", uint64(certifierMasterKeyID))
		}
		return nil, err
	}
	masterKey := secret.MasterKey()
	if !canCertifyAlgorithm(masterKey.Algorithm) {
		return nil, errors.Wrapf(ErrCertifierNotFound, "%016x cannot certify", uint64(certifierMasterKeyID))
	}
	priv, err := masterKey.UnlockedKey(passphrase)
	if err != nil {
		return nil, errors.Wrapf(ErrBadPassphrase, "certifier key %016x", uint64(certifierMasterKeyID))
	}

	target, err := e.store.Fetch(targetMasterKeyID)
	if err != nil {
		return nil, err
	}
	targetPk, err := target.PublicKeyPacket()
	if err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, errors.WithStack(ctx.Err())
	default:
	}

	matched := 0
	for _, id := range identities {
		uid := target.UserID(id)
		if uid == nil {
			continue
		}
		u, err := uid.UserIDPacket()
		if err != nil {
			return nil, err
		}
		// Minimal certification: no hashed subpackets beyond creation
		// time and issuer.
		sig := &packet.Signature{
			Version:      4,
			SigType:      packet.SigTypeGenericCert,
			PubKeyAlgo:   priv.PubKeyAlgo,
			Hash:         crypto.SHA256,
			CreationTime: e.now(),
			IssuerKeyId:  &priv.KeyId,
		}
		err = sig.SignUserId(u.Id, targetPk, priv, e.config())
		if err != nil {
			return nil, errors.WithStack(err)
		}
		modelSig, err := openpgp.NewSignature(sig, target.Creation, target.UUID, uid.UUID)
		if err != nil {
			return nil, err
		}
		uid.Signatures = append(uid.Signatures, modelSig)
		matched++
	}
	if matched == 0 {
		return nil, errors.WithStack(ErrIdentityNotFound)
	}
	return target, nil
}

func canCertifyAlgorithm(algorithm int) bool {
	switch algorithm {
	case 16, 18: // ElGamal, ECDH: encryption only
		return false
	}
	return true
}

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

	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/pkg/errors"

	"github.com/tharinduwijewardane/openpgp-keychain/openpgp"
)

// ChangePassphrase re-encrypts the secret keyring's private material under
// newPassphrase and persists the result. Public certification bytes are
// never touched. The given keyring is left unmodified; on any failure the
// stored keyring is untouched as well.
func (e *Engine) ChangePassphrase(ctx context.Context, secret *openpgp.SecretKeyring, oldPassphrase, newPassphrase []byte) (*openpgp.SecretKeyring, error) {
	// Work on a reparsed copy so the caller's keyring survives failure.
	buf, err := secret.Encode()
	if err != nil {
		return nil, err
	}
	next, err := openpgp.ParseSecretKeyring(buf)
	if err != nil {
		return nil, err
	}

	err = next.MutateKeys(func(pk *packet.PrivateKey) error {
		if pk.Encrypted {
			if err := pk.Decrypt(oldPassphrase); err != nil {
				return errors.Wrapf(ErrBadPassphrase, "key %016x", pk.KeyId)
			}
		}
		if len(newPassphrase) > 0 {
			return errors.WithStack(pk.Encrypt(newPassphrase))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, errors.WithStack(ctx.Err())
	default:
	}

	err = e.store.ReplaceSecret(next.MasterKeyID(), next)
	if err != nil {
		return nil, err
	}
	return next, nil
}

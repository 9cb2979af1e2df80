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
	"github.com/pkg/errors"
)

var (
	// Validation failures. These are raised before any key material is
	// touched and leave no persisted state.
	ErrUnknownAlgorithm       = errors.New("unknown key algorithm")
	ErrKeySizeTooSmall        = errors.New("key size must be at least 512 bits")
	ErrUnsupportedKeySize     = errors.New("no parameters available for requested key size")
	ErrElGamalCertify         = errors.New("ElGamal keys cannot certify")
	ErrNoUserIDs              = errors.New("at least one user ID is required")
	ErrNoKeys                 = errors.New("at least one key is required")
	ErrMismatchedParams       = errors.New("usage and expiry must be given per key")
	ErrExpiryNotAfterCreation = errors.New("expiry must be at least one day after key creation")

	// Crypto failures.
	ErrBadPassphrase = errors.New("passphrase does not unlock the secret key")

	// Certification failures.
	ErrCertifierNotFound = errors.New("certifier secret key not found or cannot certify")
	ErrIdentityNotFound  = errors.New("no requested identity present on the target key")
)

var validationErrs = []error{
	ErrUnknownAlgorithm,
	ErrKeySizeTooSmall,
	ErrUnsupportedKeySize,
	ErrElGamalCertify,
	ErrNoUserIDs,
	ErrNoKeys,
	ErrMismatchedParams,
	ErrExpiryNotAfterCreation,
}

// IsValidation reports whether err was caused by rejected input, as
// opposed to a crypto or storage failure.
func IsValidation(err error) bool {
	cause := errors.Cause(err)
	for _, v := range validationErrs {
		if cause == v {
			return true
		}
	}
	return false
}

// IsCrypto reports whether err was caused by a failure to unlock or sign
// with secret key material.
func IsCrypto(err error) bool {
	return errors.Cause(err) == ErrBadPassphrase
}

// IsNotFound reports whether err identifies a missing certifier, target
// key, or target identity.
func IsNotFound(err error) bool {
	cause := errors.Cause(err)
	return cause == ErrCertifierNotFound || cause == ErrIdentityNotFound
}

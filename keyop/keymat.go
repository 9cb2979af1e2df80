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
	"crypto/dsa"
	"crypto/rand"
	"crypto/rsa"
	"math/big"

	"github.com/ProtonMail/go-crypto/openpgp/elgamal"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/pkg/errors"
)

// Algorithm selects the asymmetric algorithm for fresh key material.
type Algorithm int

const (
	RSA Algorithm = iota
	DSA
	ElGamal
)

// CreateKeyMaterial generates a fresh asymmetric key pair. ElGamal keys
// cannot certify, so requesting one as certification-capable is rejected.
func (e *Engine) CreateKeyMaterial(algorithm Algorithm, bits int, canCertify bool) (*packet.PrivateKey, error) {
	if bits < 512 {
		return nil, errors.WithStack(ErrKeySizeTooSmall)
	}
	creation := e.now()
	switch algorithm {
	case RSA:
		key, err := rsa.GenerateKey(e.rand, bits)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		return packet.NewRSAPrivateKey(creation, key), nil
	case DSA:
		sizes, err := dsaSizes(bits)
		if err != nil {
			return nil, err
		}
		var params dsa.Parameters
		err = dsa.GenerateParameters(&params, e.rand, sizes)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		key := &dsa.PrivateKey{}
		key.Parameters = params
		err = dsa.GenerateKey(key, e.rand)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		return packet.NewDSAPrivateKey(creation, key), nil
	case ElGamal:
		if canCertify {
			return nil, errors.WithStack(ErrElGamalCertify)
		}
		key, err := e.elgamalKey(bits)
		if err != nil {
			return nil, err
		}
		return packet.NewElGamalPrivateKey(creation, key), nil
	}
	return nil, errors.WithStack(ErrUnknownAlgorithm)
}

func dsaSizes(bits int) (dsa.ParameterSizes, error) {
	switch {
	case bits <= 1024:
		return dsa.L1024N160, nil
	case bits <= 2048:
		return dsa.L2048N256, nil
	case bits <= 3072:
		return dsa.L3072N256, nil
	}
	return 0, errors.WithStack(ErrUnsupportedKeySize)
}

// elgamalKey generates an ElGamal key over a fixed well-known group with
// generator 2.
func (e *Engine) elgamalKey(bits int) (*elgamal.PrivateKey, error) {
	p, err := elgamalPrime(bits)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	g := big.NewInt(2)

	// x in [2, p-2]
	max := new(big.Int).Sub(p, big.NewInt(3))
	x, err := rand.Int(e.rand, max)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	x.Add(x, big.NewInt(2))

	key := &elgamal.PrivateKey{
		PublicKey: elgamal.PublicKey{
			G: g,
			P: p,
			Y: new(big.Int).Exp(g, x, p),
		},
		X: x,
	}
	return key, nil
}

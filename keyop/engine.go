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

// Package keyop builds, rebuilds and certifies OpenPGP keyrings. All
// operations are synchronous and side-effect free until the final
// persistence call.
package keyop

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"io"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/pkg/errors"

	"github.com/tharinduwijewardane/openpgp-keychain/openpgp"
)

// Usage is the set of operations a key is certified for.
type Usage int

const (
	CanCertify Usage = 1 << iota
	CanSign
	CanEncrypt
)

// ProgressFunc receives build progress. It is optional and never required
// for correctness.
type ProgressFunc func(stage string, percent int)

// Storage is the persistence surface the engine writes through.
type Storage interface {
	Fetch(masterKeyID int64) (*openpgp.PrimaryKey, error)
	FetchSecret(masterKeyID int64) (*openpgp.SecretKeyring, error)
	Replace(masterKeyID int64, secret *openpgp.SecretKeyring, pub *openpgp.PrimaryKey) error
	ReplaceSecret(masterKeyID int64, secret *openpgp.SecretKeyring) error
}

type Engine struct {
	store Storage

	now  func() time.Time
	rand io.Reader
}

func NewEngine(store Storage) *Engine {
	return &Engine{
		store: store,
		now:   time.Now,
		rand:  rand.Reader,
	}
}

func (e *Engine) config() *packet.Config {
	return &packet.Config{
		DefaultHash: crypto.SHA256,
		Rand:        e.rand,
		Time:        e.now,
	}
}

// Preferred algorithms advertised in the primary self-certification.
var (
	preferredSymmetric   = []uint8{9, 8, 7, 3, 2} // AES256, AES192, AES128, CAST5, 3DES
	preferredHash        = []uint8{2, 8, 3}       // SHA1, SHA256, RIPEMD160
	preferredCompression = []uint8{2, 3, 1}       // ZLIB, BZIP2, ZIP
)

// BuildParams describes a whole-keyring build or rebuild. Index 0 of
// UserIDs is the primary identity; index 0 of Keys is the master key.
// Usage and Expiry are given per key; a nil expiry means "never".
type BuildParams struct {
	UserIDs []string
	Keys    []*packet.PrivateKey
	Usage   []Usage
	Expiry  []*time.Time

	// Prior is the previously stored public keyring when rebuilding,
	// carrying self-certifications and third-party certifications that
	// survive the rebuild.
	Prior *openpgp.PrimaryKey

	OldPassphrase []byte
	NewPassphrase []byte

	Progress ProgressFunc
}

func (p *BuildParams) report(stage string, percent int) {
	if p.Progress != nil {
		p.Progress(stage, percent)
	}
}

func (p *BuildParams) validate() error {
	if len(p.UserIDs) == 0 {
		return errors.WithStack(ErrNoUserIDs)
	}
	if len(p.Keys) == 0 {
		return errors.WithStack(ErrNoKeys)
	}
	if len(p.Usage) != len(p.Keys) || len(p.Expiry) != len(p.Keys) {
		return errors.WithStack(ErrMismatchedParams)
	}
	return nil
}

// keyLifetime computes the key expiration subpacket value as a whole-day
// difference between expiry and creation, which must be strictly positive.
// A nil expiry means the key never expires.
func keyLifetime(creation time.Time, expiry *time.Time) (*uint32, error) {
	if expiry == nil {
		return nil, nil
	}
	days := expiry.Unix()/86400 - creation.Unix()/86400
	if days <= 0 {
		return nil, errors.WithStack(ErrExpiryNotAfterCreation)
	}
	secs := uint32(days) * 86400
	return &secs, nil
}

// BuildKeyring assembles a secret/public keyring pair from raw key
// material, self-certifies every requested identity, cross-certifies
// signing subkeys, re-attaches surviving certifications from the prior
// keyring, and persists the pair atomically. Cancellation via ctx is
// honored up to the persistence call.
func (e *Engine) BuildKeyring(ctx context.Context, params BuildParams) (*openpgp.SecretKeyring, *openpgp.PrimaryKey, error) {
	params.report("validate", 0)
	if err := params.validate(); err != nil {
		return nil, nil, err
	}

	params.report("unlock", 10)
	master := params.Keys[0]
	master.IsSubkey = false
	if master.Encrypted {
		if err := master.Decrypt(params.OldPassphrase); err != nil {
			return nil, nil, errors.Wrapf(ErrBadPassphrase, "master key %016x", master.KeyId)
		}
	}
	masterLifetime, err := keyLifetime(master.CreationTime, params.Expiry[0])
	if err != nil {
		return nil, nil, err
	}

	params.report("certify", 30)
	var certBuf bytes.Buffer
	for i, id := range params.UserIDs {
		uidPkt := &packet.UserId{Id: id}
		if err := uidPkt.Serialize(&certBuf); err != nil {
			return nil, nil, errors.WithStack(err)
		}
		if i == 0 {
			// The primary identity gets the one live self-certification
			// carrying the keyring's hashed subpackets.
			sig, err := e.primaryCert(master, id, params.Usage[0], masterLifetime)
			if err != nil {
				return nil, nil, err
			}
			if err := sig.Serialize(&certBuf); err != nil {
				return nil, nil, errors.WithStack(err)
			}
		} else if prior := priorSelfCert(params.Prior, master.KeyId, id); prior != nil {
			// Re-attach the first prior self-certification for the
			// identity; later duplicates are dropped.
			if _, err := certBuf.Write(prior.Packet.Packet); err != nil {
				return nil, nil, errors.WithStack(err)
			}
		} else {
			sig, err := e.plainCert(master, id)
			if err != nil {
				return nil, nil, err
			}
			if err := sig.Serialize(&certBuf); err != nil {
				return nil, nil, errors.WithStack(err)
			}
		}
		// Third-party certifications survive the rebuild untouched.
		for _, sig := range priorOtherCerts(params.Prior, master.KeyId, id) {
			if _, err := certBuf.Write(sig.Packet.Packet); err != nil {
				return nil, nil, errors.WithStack(err)
			}
		}
	}

	params.report("subkeys", 60)
	var bindings []*packet.Signature
	for i := 1; i < len(params.Keys); i++ {
		sub := params.Keys[i]
		sub.IsSubkey = true
		if sub.Encrypted {
			if err := sub.Decrypt(params.OldPassphrase); err != nil {
				return nil, nil, errors.Wrapf(ErrBadPassphrase, "subkey %016x", sub.KeyId)
			}
		}
		bind, err := e.bindSubKey(master, sub, params.Usage[i], params.Expiry[i])
		if err != nil {
			return nil, nil, err
		}
		bindings = append(bindings, bind)
	}

	params.report("assemble", 80)
	if len(params.NewPassphrase) > 0 {
		for _, key := range params.Keys {
			if err := key.Encrypt(params.NewPassphrase); err != nil {
				return nil, nil, errors.WithStack(err)
			}
		}
	}

	var sec, pub bytes.Buffer
	if err := master.Serialize(&sec); err != nil {
		return nil, nil, errors.WithStack(err)
	}
	if err := master.PublicKey.Serialize(&pub); err != nil {
		return nil, nil, errors.WithStack(err)
	}
	if _, err := sec.Write(certBuf.Bytes()); err != nil {
		return nil, nil, errors.WithStack(err)
	}
	if _, err := pub.Write(certBuf.Bytes()); err != nil {
		return nil, nil, errors.WithStack(err)
	}
	for i, bind := range bindings {
		sub := params.Keys[i+1]
		if err := sub.Serialize(&sec); err != nil {
			return nil, nil, errors.WithStack(err)
		}
		if err := bind.Serialize(&sec); err != nil {
			return nil, nil, errors.WithStack(err)
		}
		if err := sub.PublicKey.Serialize(&pub); err != nil {
			return nil, nil, errors.WithStack(err)
		}
		if err := bind.Serialize(&pub); err != nil {
			return nil, nil, errors.WithStack(err)
		}
	}

	secret, err := openpgp.ParseSecretKeyring(sec.Bytes())
	if err != nil {
		return nil, nil, err
	}
	public, err := openpgp.DecodePublic(pub.Bytes())
	if err != nil {
		return nil, nil, err
	}

	select {
	case <-ctx.Done():
		return nil, nil, errors.WithStack(ctx.Err())
	default:
	}

	params.report("persist", 90)
	err = e.store.Replace(public.MasterKeyID(), secret, public)
	if err != nil {
		return nil, nil, err
	}
	params.report("done", 100)
	return secret, public, nil
}

// primaryCert builds the full self-certification for the primary identity,
// with usage flags, preferred algorithms and the expiration subpacket.
func (e *Engine) primaryCert(master *packet.PrivateKey, id string, usage Usage, lifetime *uint32) (*packet.Signature, error) {
	primary := true
	sig := &packet.Signature{
		Version:              4,
		SigType:              packet.SigTypePositiveCert,
		PubKeyAlgo:           master.PubKeyAlgo,
		Hash:                 crypto.SHA256,
		CreationTime:         e.now(),
		IssuerKeyId:          &master.KeyId,
		IsPrimaryId:          &primary,
		FlagsValid:           true,
		FlagCertify:          true,
		FlagSign:             true,
		PreferredSymmetric:   preferredSymmetric,
		PreferredHash:        preferredHash,
		PreferredCompression: preferredCompression,
		KeyLifetimeSecs:      lifetime,
	}
	if usage&CanEncrypt != 0 {
		sig.FlagEncryptCommunications = true
		sig.FlagEncryptStorage = true
	}
	err := sig.SignUserId(id, &master.PublicKey, master, e.config())
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return sig, nil
}

// plainCert builds a minimal positive self-certification for a secondary
// identity that carries no prior one.
func (e *Engine) plainCert(master *packet.PrivateKey, id string) (*packet.Signature, error) {
	sig := &packet.Signature{
		Version:      4,
		SigType:      packet.SigTypePositiveCert,
		PubKeyAlgo:   master.PubKeyAlgo,
		Hash:         crypto.SHA256,
		CreationTime: e.now(),
		IssuerKeyId:  &master.KeyId,
	}
	err := sig.SignUserId(id, &master.PublicKey, master, e.config())
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return sig, nil
}

// bindSubKey builds the subkey binding signature. Sign-capable subkeys get
// an embedded primary-key binding signature made with the subkey's own
// private key, sharing one creation timestamp with the outer signature.
func (e *Engine) bindSubKey(master, sub *packet.PrivateKey, usage Usage, expiry *time.Time) (*packet.Signature, error) {
	lifetime, err := keyLifetime(sub.CreationTime, expiry)
	if err != nil {
		return nil, err
	}
	creation := e.now()
	bind := &packet.Signature{
		Version:         4,
		SigType:         packet.SigTypeSubkeyBinding,
		PubKeyAlgo:      master.PubKeyAlgo,
		Hash:            crypto.SHA256,
		CreationTime:    creation,
		IssuerKeyId:     &master.KeyId,
		FlagsValid:      true,
		KeyLifetimeSecs: lifetime,
	}
	if usage&CanSign != 0 {
		bind.FlagSign = true
		embedded := &packet.Signature{
			Version:      4,
			SigType:      packet.SigTypePrimaryKeyBinding,
			PubKeyAlgo:   sub.PubKeyAlgo,
			Hash:         crypto.SHA256,
			CreationTime: creation,
			IssuerKeyId:  &sub.KeyId,
		}
		err = embedded.CrossSignKey(&sub.PublicKey, &master.PublicKey, sub, e.config())
		if err != nil {
			return nil, errors.WithStack(err)
		}
		bind.EmbeddedSignature = embedded
	}
	if usage&CanEncrypt != 0 {
		bind.FlagEncryptCommunications = true
		bind.FlagEncryptStorage = true
	}
	err = bind.SignKey(&sub.PublicKey, master, e.config())
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return bind, nil
}

// priorSelfCert returns the first self-certification the prior keyring
// carries for the given identity, or nil.
func priorSelfCert(prior *openpgp.PrimaryKey, masterKeyID uint64, id string) *openpgp.Signature {
	if prior == nil {
		return nil
	}
	uid := prior.UserID(id)
	if uid == nil {
		return nil
	}
	for _, sig := range uid.Signatures {
		if sig.IssuerKeyID == masterKeyID && sig.SigType >= 0x10 && sig.SigType <= 0x13 {
			return sig
		}
	}
	return nil
}

// priorOtherCerts returns every certification on the prior keyring's
// matching identity that was not made by the master key itself.
func priorOtherCerts(prior *openpgp.PrimaryKey, masterKeyID uint64, id string) []*openpgp.Signature {
	if prior == nil {
		return nil
	}
	uid := prior.UserID(id)
	if uid == nil {
		return nil
	}
	var result []*openpgp.Signature
	for _, sig := range uid.Signatures {
		if sig.IssuerKeyID != masterKeyID {
			result = append(result, sig)
		}
	}
	return result
}

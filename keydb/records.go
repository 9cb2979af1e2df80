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

package keydb

import (
	"database/sql"

	"github.com/tharinduwijewardane/openpgp-keychain/openpgp"
)

type keyRow struct {
	MasterKeyID int64         `db:"master_key_id"`
	Rank        int           `db:"rank"`
	KeyID       int64         `db:"key_id"`
	KeySize     int           `db:"key_size"`
	Algorithm   int           `db:"algorithm"`
	Fingerprint []byte        `db:"fingerprint"`
	CanCertify  bool          `db:"can_certify"`
	CanSign     bool          `db:"can_sign"`
	CanEncrypt  bool          `db:"can_encrypt"`
	IsRevoked   bool          `db:"is_revoked"`
	Creation    int64         `db:"creation"`
	Expiry      sql.NullInt64 `db:"expiry"`
}

type userIDRow struct {
	MasterKeyID int64  `db:"master_key_id"`
	UserID      string `db:"user_id"`
	IsPrimary   bool   `db:"is_primary"`
	IsRevoked   bool   `db:"is_revoked"`
	Rank        int    `db:"rank"`
}

type certRow struct {
	MasterKeyID int64  `db:"master_key_id"`
	Rank        int    `db:"rank"`
	Certifier   int64  `db:"key_id_certifier"`
	Type        int    `db:"type"`
	Verified    bool   `db:"verified"`
	Creation    int64  `db:"creation"`
	Data        []byte `db:"data"`
}

// decompose flattens a public keyring into its relational rows. Rank 0 in
// keys is the master key; rank 0 in user_ids is the primary identity.
func decompose(pubkey *openpgp.PrimaryKey) ([]keyRow, []userIDRow, []certRow) {
	masterKeyID := pubkey.MasterKeyID()

	keys := []keyRow{masterKeyRow(pubkey)}
	for i, subkey := range pubkey.SubKeys {
		keys = append(keys, subKeyRow(pubkey, subkey, i+1))
	}

	var uids []userIDRow
	var certs []certRow
	for rank, uid := range orderUserIDs(pubkey) {
		selfSigs, otherSigs := uid.SigInfo(pubkey)
		uids = append(uids, userIDRow{
			MasterKeyID: masterKeyID,
			UserID:      uid.Keywords,
			IsPrimary:   rank == 0,
			IsRevoked:   len(selfSigs.Revocations) > 0,
			Rank:        rank,
		})

		// One cert row per (identity, certifier): later signatures by
		// the same certifier supersede earlier rows, while the keyring
		// blob retains every signature.
		byCertifier := map[int64]certRow{}
		for _, checkSig := range selfSigs.Certifications {
			sig := checkSig.Signature
			addCertRow(byCertifier, masterKeyID, rank, sig, true)
		}
		for _, sig := range otherSigs {
			if sig.SigType < 0x10 || sig.SigType > 0x13 {
				continue
			}
			addCertRow(byCertifier, masterKeyID, rank, sig, false)
		}
		for _, row := range byCertifier {
			certs = append(certs, row)
		}
	}

	return keys, uids, certs
}

func addCertRow(byCertifier map[int64]certRow, masterKeyID int64, rank int, sig *openpgp.Signature, verified bool) {
	certifier := int64(sig.IssuerKeyID)
	prev, ok := byCertifier[certifier]
	if ok && prev.Creation >= sig.Creation.Unix() {
		return
	}
	byCertifier[certifier] = certRow{
		MasterKeyID: masterKeyID,
		Rank:        rank,
		Certifier:   certifier,
		Type:        sig.SigType,
		Verified:    verified,
		Creation:    sig.Creation.Unix(),
		Data:        sig.Packet.Packet,
	}
}

// orderUserIDs returns the keyring's identities with the resolved primary
// identity moved to the front.
func orderUserIDs(pubkey *openpgp.PrimaryKey) []*openpgp.UserID {
	primary := -1
	for i, uid := range pubkey.UserIDs {
		selfSigs, _ := uid.SigInfo(pubkey)
		if _, ok := selfSigs.PrimarySince(); ok {
			primary = i
			break
		}
	}
	if primary <= 0 {
		return pubkey.UserIDs
	}
	result := []*openpgp.UserID{pubkey.UserIDs[primary]}
	for i, uid := range pubkey.UserIDs {
		if i != primary {
			result = append(result, uid)
		}
	}
	return result
}

func masterKeyRow(pubkey *openpgp.PrimaryKey) keyRow {
	row := keyRow{
		MasterKeyID: pubkey.MasterKeyID(),
		Rank:        0,
		KeyID:       int64(pubkey.KeyID),
		KeySize:     pubkey.BitLen,
		Algorithm:   pubkey.Algorithm,
		Fingerprint: pubkey.Fingerprint,
		Creation:    pubkey.Creation.Unix(),
		// Without a key-flags subpacket the master key retains its
		// algorithm's full capabilities.
		CanCertify: true,
		CanSign:    true,
	}

	keySelfSigs, _ := pubkey.SigInfo()
	row.IsRevoked = len(keySelfSigs.Revocations) > 0

	// Usage flags and expiry for the master key live on the user ID
	// self-certifications.
	for _, uid := range pubkey.UserIDs {
		selfSigs, _ := uid.SigInfo(pubkey)
		for _, checkSig := range selfSigs.Certifications {
			sig := checkSig.Signature
			if sig.FlagsValid {
				row.CanCertify = sig.FlagCertify
				row.CanSign = sig.FlagSign
				row.CanEncrypt = sig.FlagEncrypt
				break
			}
		}
		if expiry, ok := selfSigs.ExpiresAt(); ok && !row.Expiry.Valid {
			row.Expiry = sql.NullInt64{Int64: expiry.Unix(), Valid: true}
		}
	}
	return row
}

func subKeyRow(pubkey *openpgp.PrimaryKey, subkey *openpgp.SubKey, rank int) keyRow {
	row := keyRow{
		MasterKeyID: pubkey.MasterKeyID(),
		Rank:        rank,
		KeyID:       int64(subkey.KeyID),
		KeySize:     subkey.BitLen,
		Algorithm:   subkey.Algorithm,
		Fingerprint: subkey.Fingerprint,
		Creation:    subkey.Creation.Unix(),
	}

	selfSigs, _ := subkey.SigInfo(pubkey)
	row.IsRevoked = len(selfSigs.Revocations) > 0
	for _, checkSig := range selfSigs.Certifications {
		sig := checkSig.Signature
		if sig.FlagsValid {
			row.CanCertify = sig.FlagCertify
			row.CanSign = sig.FlagSign
			row.CanEncrypt = sig.FlagEncrypt
			break
		}
	}
	if expiry, ok := selfSigs.ExpiresAt(); ok {
		row.Expiry = sql.NullInt64{Int64: expiry.Unix(), Valid: true}
	}
	return row
}

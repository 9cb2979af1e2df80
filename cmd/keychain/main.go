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

package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
	log "github.com/sirupsen/logrus"
	"golang.org/x/term"

	"github.com/tharinduwijewardane/openpgp-keychain/keydb"
	"github.com/tharinduwijewardane/openpgp-keychain/keyimport"
	"github.com/tharinduwijewardane/openpgp-keychain/keyop"
	"github.com/tharinduwijewardane/openpgp-keychain/metrics"
)

var configFile = flag.String("config", "", "config file")

func usage() {
	fmt.Fprintf(os.Stderr, `usage: %s [-config FILE] COMMAND [ARGS]

commands:
  gen                generate a new keyring
  certify            certify identities on a stored key
  change-passphrase  re-encrypt a secret keyring
  import             import keyring files
  legacy-import      destructive one-time import of a legacy keyring set
  list               list stored keyrings
  export             write a stored keyring as armored text
  delete             delete a stored keyring
`, os.Args[0])
	os.Exit(2)
}

func die(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		os.Exit(1)
	}
	os.Exit(0)
}

func main() {
	flag.Parse()

	settings := DefaultSettings()
	if *configFile != "" {
		conf, err := os.ReadFile(*configFile)
		if err != nil {
			die(err)
		}
		parsed, err := ParseSettings(string(conf))
		if err != nil {
			die(err)
		}
		settings = *parsed
	}
	if err := setupLogging(&settings); err != nil {
		die(err)
	}

	args := flag.Args()
	if len(args) == 0 {
		usage()
	}

	store, err := keydb.Dial(settings.DBPath)
	if err != nil {
		die(err)
	}
	defer store.Close()

	if settings.Metrics != nil {
		m := metrics.NewMetrics(settings.Metrics)
		m.Start()
		defer m.Stop()
	}

	engine := keyop.NewEngine(store)
	coordinator := keyimport.NewCoordinator(store)
	migrator := keyimport.NewMigrator()

	switch args[0] {
	case "gen":
		err = cmdGen(engine, args[1:])
	case "certify":
		err = cmdCertify(engine, store, args[1:])
	case "change-passphrase":
		err = cmdChangePassphrase(engine, store, args[1:])
	case "import":
		err = cmdImport(coordinator, args[1:])
	case "legacy-import":
		err = cmdLegacyImport(coordinator, migrator, args[1:])
	case "list":
		err = cmdList(store, args[1:])
	case "export":
		err = cmdExport(store, args[1:])
	case "delete":
		err = cmdDelete(store, args[1:])
	default:
		usage()
	}
	die(err)
}

func setupLogging(settings *Settings) error {
	if settings.LogFile != "" {
		f, err := os.OpenFile(settings.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		log.SetOutput(f)
	}
	level, err := log.ParseLevel(strings.ToLower(settings.LogLevel))
	if err != nil {
		return err
	}
	log.SetLevel(level)
	return nil
}

// uidList collects repeated -uid flags; the first one is the primary
// identity.
type uidList []string

func (u *uidList) String() string {
	return strings.Join(*u, ", ")
}

func (u *uidList) Set(value string) error {
	*u = append(*u, value)
	return nil
}

func promptPassphrase(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	passphrase, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	return passphrase, err
}

func parseKeyID(s string) (int64, error) {
	id, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid key id %q", s)
	}
	return int64(id), nil
}

func logProgress(stage string, percent int) {
	log.Infof("%s (%d%%)", stage, percent)
}

func cmdGen(engine *keyop.Engine, args []string) error {
	fs := flag.NewFlagSet("gen", flag.ExitOnError)
	var uids uidList
	fs.Var(&uids, "uid", "user identity, repeatable; first is primary")
	algorithm := fs.String("algorithm", "rsa", "master key algorithm: rsa or dsa")
	bits := fs.Int("bits", 2048, "master key size in bits")
	encryptSubkey := fs.Bool("encrypt-subkey", true, "attach an encryption subkey")
	expiryDays := fs.Int("expiry-days", 0, "days until expiry, 0 for never")
	fs.Parse(args)
	if len(uids) == 0 {
		return fmt.Errorf("at least one -uid is required")
	}

	passphrase, err := promptPassphrase("New passphrase: ")
	if err != nil {
		return err
	}
	confirm, err := promptPassphrase("Repeat passphrase: ")
	if err != nil {
		return err
	}
	if string(passphrase) != string(confirm) {
		return fmt.Errorf("passphrases do not match")
	}

	var masterAlgorithm keyop.Algorithm
	switch *algorithm {
	case "rsa":
		masterAlgorithm = keyop.RSA
	case "dsa":
		masterAlgorithm = keyop.DSA
	default:
		return fmt.Errorf("unsupported master key algorithm %q", *algorithm)
	}

	log.Infof("generating %s-%d master key", *algorithm, *bits)
	master, err := engine.CreateKeyMaterial(masterAlgorithm, *bits, true)
	if err != nil {
		return err
	}
	keys := []*packet.PrivateKey{master}
	usage := []keyop.Usage{keyop.CanCertify | keyop.CanSign}
	if *encryptSubkey {
		log.Info("generating encryption subkey")
		sub, err := engine.CreateKeyMaterial(keyop.RSA, *bits, false)
		if err != nil {
			return err
		}
		keys = append(keys, sub)
		usage = append(usage, keyop.CanEncrypt)
	}
	expiry := make([]*time.Time, len(keys))
	if *expiryDays > 0 {
		at := time.Now().AddDate(0, 0, *expiryDays)
		for i := range expiry {
			expiry[i] = &at
		}
	}

	_, public, err := engine.BuildKeyring(context.Background(), keyop.BuildParams{
		UserIDs:       uids,
		Keys:          keys,
		Usage:         usage,
		Expiry:        expiry,
		NewPassphrase: passphrase,
		Progress:      logProgress,
	})
	if err != nil {
		return err
	}
	fmt.Printf("generated keyring %s\n", public.QualifiedFingerprint())
	return nil
}

func cmdCertify(engine *keyop.Engine, store *keydb.Store, args []string) error {
	fs := flag.NewFlagSet("certify", flag.ExitOnError)
	certifier := fs.String("certifier", "", "certifier master key id (hex)")
	target := fs.String("target", "", "target master key id (hex)")
	var uids uidList
	fs.Var(&uids, "uid", "identity to certify, repeatable")
	fs.Parse(args)

	certifierID, err := parseKeyID(*certifier)
	if err != nil {
		return err
	}
	targetID, err := parseKeyID(*target)
	if err != nil {
		return err
	}
	passphrase, err := promptPassphrase("Certifier passphrase: ")
	if err != nil {
		return err
	}

	mutated, err := engine.Certify(context.Background(), certifierID, targetID, uids, passphrase)
	if err != nil {
		return err
	}
	err = store.Replace(mutated.MasterKeyID(), nil, mutated)
	if err != nil {
		return err
	}
	fmt.Printf("certified %s\n", mutated.KeyIDString())
	return nil
}

func cmdChangePassphrase(engine *keyop.Engine, store *keydb.Store, args []string) error {
	fs := flag.NewFlagSet("change-passphrase", flag.ExitOnError)
	key := fs.String("key", "", "master key id (hex)")
	fs.Parse(args)

	masterKeyID, err := parseKeyID(*key)
	if err != nil {
		return err
	}
	secret, err := store.FetchSecret(masterKeyID)
	if err != nil {
		return err
	}
	oldPassphrase, err := promptPassphrase("Current passphrase: ")
	if err != nil {
		return err
	}
	newPassphrase, err := promptPassphrase("New passphrase: ")
	if err != nil {
		return err
	}

	_, err = engine.ChangePassphrase(context.Background(), secret, oldPassphrase, newPassphrase)
	if err != nil {
		return err
	}
	fmt.Println("passphrase changed")
	return nil
}

func dearmorBlob(buf []byte) ([]byte, error) {
	block, err := armor.Decode(bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	return io.ReadAll(block.Body)
}

func readBlobs(paths []string) ([][]byte, error) {
	var blobs [][]byte
	for _, path := range paths {
		buf, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if strings.HasPrefix(strings.TrimSpace(string(buf)), "-----BEGIN") {
			blob, err := dearmorBlob(buf)
			if err != nil {
				return nil, fmt.Errorf("%s: %v", path, err)
			}
			buf = blob
		}
		blobs = append(blobs, buf)
	}
	return blobs, nil
}

func cmdImport(coordinator *keyimport.Coordinator, args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() == 0 {
		return fmt.Errorf("at least one keyring file is required")
	}
	blobs, err := readBlobs(fs.Args())
	if err != nil {
		return err
	}
	summary := coordinator.ImportBatch(blobs)
	fmt.Printf("imported %d keyrings, %d failed\n", summary.Imported, summary.Failed)
	return nil
}

func cmdLegacyImport(coordinator *keyimport.Coordinator, migrator *keyimport.Migrator, args []string) error {
	fs := flag.NewFlagSet("legacy-import", flag.ExitOnError)
	force := fs.Bool("yes", false, "confirm destruction of all stored keyrings")
	fs.Parse(args)
	if !*force {
		return fmt.Errorf("legacy-import destroys all stored keyrings; re-run with -yes")
	}
	blobs, err := readBlobs(fs.Args())
	if err != nil {
		return err
	}
	summary, ran, err := migrator.Run(coordinator, blobs)
	if err != nil {
		return err
	}
	if !ran {
		return fmt.Errorf("legacy migration already ran")
	}
	fmt.Printf("imported %d keyrings, %d failed\n", summary.Imported, summary.Failed)
	return nil
}

func cmdList(store *keydb.Store, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	filter := fs.String("filter", "", "match primary user IDs containing this string")
	fs.Parse(args)

	iter, err := store.Summaries(*filter)
	if err != nil {
		return err
	}
	defer iter.Close()
	now := time.Now()
	for {
		summary, ok := iter.Next()
		if !ok {
			break
		}
		var status []string
		if summary.HasSecret {
			status = append(status, "secret")
		}
		if summary.IsRevoked {
			status = append(status, "revoked")
		}
		if summary.Expired(now) {
			status = append(status, "expired")
		}
		if summary.Verified {
			status = append(status, "verified")
		}
		fmt.Printf("%016x  %-40s  %s\n", uint64(summary.MasterKeyID),
			summary.PrimaryUserID.String, strings.Join(status, ","))
	}
	return iter.Err()
}

func cmdExport(store *keydb.Store, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	key := fs.String("key", "", "master key id (hex)")
	secret := fs.Bool("secret", false, "export the secret keyring")
	fs.Parse(args)

	masterKeyID, err := parseKeyID(*key)
	if err != nil {
		return err
	}
	var armored string
	if *secret {
		keyring, err := store.FetchSecret(masterKeyID)
		if err != nil {
			return err
		}
		armored, err = keyring.EncodeArmored()
		if err != nil {
			return err
		}
	} else {
		keyring, err := store.Fetch(masterKeyID)
		if err != nil {
			return err
		}
		armored, err = keyring.EncodeArmored()
		if err != nil {
			return err
		}
	}
	fmt.Println(armored)
	return nil
}

func cmdDelete(store *keydb.Store, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	key := fs.String("key", "", "master key id (hex)")
	fs.Parse(args)

	masterKeyID, err := parseKeyID(*key)
	if err != nil {
		return err
	}
	err = store.Delete(masterKeyID)
	if err != nil {
		return err
	}
	fmt.Printf("deleted %016x\n", uint64(masterKeyID))
	return nil
}

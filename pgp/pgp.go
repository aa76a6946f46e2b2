// Package pgp resolves recipients against an OpenPGP public keyring and
// encrypts digests to them.
package pgp

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"

	"github.com/dhcgn/mbox-digest/model"
)

const (
	// MessageType is the armor block type of the encrypted digest.
	MessageType = "PGP MESSAGE"

	pubringFile = "pubring.gpg"
	keyboxFile  = "pubring.kbx"
)

var (
	// ErrKeyNotFound is returned by Lookup when no key matches the term.
	ErrKeyNotFound       = errors.New("public key not found")
	// ErrKeyboxUnsupported is returned for a directory holding only a keybox.
	ErrKeyboxUnsupported = errors.New("keybox keyring is not supported, export it with gpg --export")
)

// Keyring holds the public keys of a keyring directory in load order.
type Keyring struct {
	entities openpgp.EntityList
	keys     []model.Key
}

// OpenKeyring loads pubring.gpg and then every *.asc file of home, sorted by
// name. A directory with none of them but a pubring.kbx is rejected with
// ErrKeyboxUnsupported.
func OpenKeyring(home string, logger *slog.Logger) (*Keyring, error) {
	files, err := keyringFiles(home)
	if err != nil {
		return nil, err
	}

	if len(files) == 0 {
		kbx := filepath.Join(home, keyboxFile)
		if _, err := os.Stat(kbx); err == nil {
			return nil, fmt.Errorf("%s: %w", kbx, ErrKeyboxUnsupported)
		}
	}

	var entities openpgp.EntityList
	for _, file := range files {
		el, err := readKeyFile(file)
		if err != nil {
			return nil, fmt.Errorf("read keyring %s: %w", file, err)
		}
		if logger != nil {
			logger.Debug("keyring file loaded", "file", file, "keys", len(el))
		}
		entities = append(entities, el...)
	}

	return NewKeyring(entities), nil
}

// NewKeyring wraps already parsed entities.
func NewKeyring(entities openpgp.EntityList) *Keyring {
	keys := make([]model.Key, 0, len(entities))
	for _, e := range entities {
		keys = append(keys, keyOf(e))
	}
	return &Keyring{entities: entities, keys: keys}
}

// Keys returns the keyring records in load order.
func (k *Keyring) Keys() []model.Key {
	out := make([]model.Key, len(k.keys))
	copy(out, k.keys)
	return out
}

// Lookup returns the first key matching term, see FindKey.
func (k *Keyring) Lookup(term string) (model.Key, error) {
	key, ok := FindKey(k.keys, term)
	if !ok {
		return model.Key{}, fmt.Errorf("%s: %w", term, ErrKeyNotFound)
	}
	return key, nil
}

// FindKey returns the first key whose space-joined user ids or key id
// contain term, ignoring case. There is no preference between several
// matches other than their order.
func FindKey(keys []model.Key, term string) (model.Key, bool) {
	needle := strings.ToLower(term)
	if needle == "" {
		return model.Key{}, false
	}
	for _, key := range keys {
		if strings.Contains(strings.ToLower(strings.Join(key.UIDs, " ")), needle) ||
			strings.Contains(strings.ToLower(key.KeyID), needle) {
			return key, true
		}
	}
	return model.Key{}, false
}

// Encrypt encrypts plaintext to the single key keyID and returns it armored.
// Nothing is signed.
func (k *Keyring) Encrypt(plaintext, keyID string) (string, error) {
	entity := k.entity(keyID)
	if entity == nil {
		return "", fmt.Errorf("%s: %w", keyID, ErrKeyNotFound)
	}

	var out bytes.Buffer
	armored, err := armor.Encode(&out, MessageType, nil)
	if err != nil {
		return "", fmt.Errorf("armor.Encode: %w", err)
	}

	w, err := openpgp.Encrypt(armored, []*openpgp.Entity{entity}, nil, nil, nil)
	if err != nil {
		return "", fmt.Errorf("openpgp.Encrypt: %w", err)
	}
	if _, err := w.Write([]byte(plaintext)); err != nil {
		return "", fmt.Errorf("write plaintext: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close encrypter: %w", err)
	}
	if err := armored.Close(); err != nil {
		return "", fmt.Errorf("close armor: %w", err)
	}

	// armor output ends without a newline
	out.WriteByte('\n')
	return out.String(), nil
}

func (k *Keyring) entity(keyID string) *openpgp.Entity {
	for _, e := range k.entities {
		if strings.EqualFold(keyIDOf(e), keyID) {
			return e
		}
	}
	return nil
}

func keyOf(e *openpgp.Entity) model.Key {
	uids := make([]string, 0, len(e.Identities))
	for name := range e.Identities {
		uids = append(uids, name)
	}
	sort.Strings(uids)
	return model.Key{KeyID: keyIDOf(e), UIDs: uids}
}

func keyIDOf(e *openpgp.Entity) string {
	return fmt.Sprintf("%016X", e.PrimaryKey.KeyId)
}

func keyringFiles(home string) ([]string, error) {
	var files []string

	pubring := filepath.Join(home, pubringFile)
	info, err := os.Stat(pubring)
	switch {
	case err == nil && info.Mode().IsRegular():
		files = append(files, pubring)
	case err != nil && !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("stat %s: %w", pubring, err)
	}

	armored, err := filepath.Glob(filepath.Join(home, "*.asc"))
	if err != nil {
		return nil, fmt.Errorf("glob armored keys: %w", err)
	}
	sort.Strings(armored)

	return append(files, armored...), nil
}

func readKeyFile(path string) (openpgp.EntityList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("-----BEGIN PGP")) {
		return openpgp.ReadArmoredKeyRing(bytes.NewReader(data))
	}
	return openpgp.ReadKeyRing(bytes.NewReader(data))
}

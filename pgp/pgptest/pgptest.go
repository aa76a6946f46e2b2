// Package pgptest generates throwaway keys and keyring directories for tests.
package pgptest

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/stretchr/testify/require"
)

// NewEntity creates an Ed25519/Curve25519 key pair, which is fast enough to
// generate per test.
func NewEntity(t testing.TB, name, email string) *openpgp.Entity {
	t.Helper()

	e, err := openpgp.NewEntity(name, "", email, &packet.Config{Algorithm: packet.PubKeyAlgoEdDSA})
	require.NoError(t, err)
	return e
}

// WritePubring writes the public parts of entities to dir/pubring.gpg.
func WritePubring(t testing.TB, dir string, entities ...*openpgp.Entity) {
	t.Helper()

	file, err := os.Create(filepath.Join(dir, "pubring.gpg"))
	require.NoError(t, err)
	defer file.Close()

	for _, e := range entities {
		require.NoError(t, e.Serialize(file))
	}
}

// WriteArmored writes the public part of e as an armored key file.
func WriteArmored(t testing.TB, path string, e *openpgp.Entity) {
	t.Helper()

	file, err := os.Create(path)
	require.NoError(t, err)
	defer file.Close()

	w, err := armor.Encode(file, openpgp.PublicKeyType, nil)
	require.NoError(t, err)
	require.NoError(t, e.Serialize(w))
	require.NoError(t, w.Close())
}

// KeyID returns the long key id of e as the keyring reports it.
func KeyID(e *openpgp.Entity) string {
	return fmt.Sprintf("%016X", e.PrimaryKey.KeyId)
}

// Decrypt decrypts an armored message with the private keys of entities.
func Decrypt(t testing.TB, armored string, entities ...*openpgp.Entity) string {
	t.Helper()

	block, err := armor.Decode(strings.NewReader(armored))
	require.NoError(t, err)
	require.Equal(t, "PGP MESSAGE", block.Type)

	md, err := openpgp.ReadMessage(block.Body, openpgp.EntityList(entities), nil, nil)
	require.NoError(t, err)

	plaintext, err := io.ReadAll(md.UnverifiedBody)
	require.NoError(t, err)
	return string(plaintext)
}

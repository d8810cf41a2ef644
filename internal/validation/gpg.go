// gpg.go validates ASCII-armored OpenPGP public keys and verifies the
// detached signatures (.asc files) that may accompany uploaded release
// artifacts.
package validation

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
)

const (
	pgpKeyBeginMarker = "-----BEGIN PGP PUBLIC KEY BLOCK-----"
	pgpKeyEndMarker   = "-----END PGP PUBLIC KEY BLOCK-----"
)

// readKeyring parses one armored public key block into a keyring.
func readKeyring(armored string) (openpgp.EntityList, error) {
	return openpgp.ReadArmoredKeyRing(strings.NewReader(armored))
}

// ParseGPGPublicKey reports whether the string is a usable ASCII-armored
// OpenPGP public key.
func ParseGPGPublicKey(keyArmored string) error {
	switch {
	case keyArmored == "":
		return errors.New("GPG public key cannot be empty")
	case !strings.Contains(keyArmored, pgpKeyBeginMarker):
		return errors.New("invalid GPG public key: missing BEGIN marker")
	case !strings.Contains(keyArmored, pgpKeyEndMarker):
		return errors.New("invalid GPG public key: missing END marker")
	}

	if _, err := readKeyring(keyArmored); err != nil {
		return fmt.Errorf("failed to parse GPG public key: %w", err)
	}
	return nil
}

// NormalizeGPGKey converts line endings to Unix form, trims surrounding
// whitespace, and guarantees a trailing newline.
func NormalizeGPGKey(key string) string {
	key = strings.TrimSpace(strings.ReplaceAll(key, "\r\n", "\n"))
	return key + "\n"
}

// SplitArmoredKeys splits a file of concatenated armored public keys into
// individual normalized blocks. Text outside BEGIN/END markers (comments,
// blank lines) is dropped.
func SplitArmoredKeys(content string) []string {
	var keys []string
	for {
		begin := strings.Index(content, pgpKeyBeginMarker)
		if begin < 0 {
			return keys
		}
		rest := content[begin:]
		end := strings.Index(rest, pgpKeyEndMarker)
		if end < 0 {
			return keys
		}
		end += len(pgpKeyEndMarker)
		keys = append(keys, NormalizeGPGKey(rest[:end]))
		content = rest[end:]
	}
}

// decodeSignature unwraps an ASCII-armored detached signature. Raw binary
// signatures pass through untouched; twine emits armored .asc files but the
// API accepts either.
func decodeSignature(signature []byte) ([]byte, error) {
	block, err := armor.Decode(bytes.NewReader(signature))
	if err != nil {
		return signature, nil
	}
	decoded, err := io.ReadAll(block.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read armored signature: %w", err)
	}
	return decoded, nil
}

// VerifySignature checks a detached signature over data against a single
// armored public key.
func VerifySignature(publicKeyArmored string, data, signature []byte) error {
	switch {
	case publicKeyArmored == "":
		return errors.New("public key cannot be empty")
	case len(data) == 0:
		return errors.New("data to verify cannot be empty")
	case len(signature) == 0:
		return errors.New("signature cannot be empty")
	}

	keyring, err := readKeyring(publicKeyArmored)
	if err != nil {
		return fmt.Errorf("failed to parse public key: %w", err)
	}

	sig, err := decodeSignature(signature)
	if err != nil {
		return err
	}

	if _, err := openpgp.CheckDetachedSignature(keyring, bytes.NewReader(data), bytes.NewReader(sig), nil); err != nil {
		return fmt.Errorf("signature verification failed: %w", err)
	}
	return nil
}

// SignatureVerification is the outcome of trying a signature against the
// trusted key set.
type SignatureVerification struct {
	Verified       bool
	KeyID          string
	KeyFingerprint string
	Error          error
}

// VerifyWithAny tries the detached signature against each trusted public key
// in turn and reports which key matched. Keys are tried in configuration
// order; the first match wins.
func VerifyWithAny(publicKeys []string, data, signature []byte) *SignatureVerification {
	switch {
	case len(data) == 0:
		return &SignatureVerification{Error: errors.New("data to verify is empty")}
	case len(signature) == 0:
		return &SignatureVerification{Error: errors.New("signature content is empty")}
	case len(publicKeys) == 0:
		return &SignatureVerification{Error: errors.New("no public keys provided")}
	}

	var lastErr error
	for _, key := range publicKeys {
		if key == "" {
			continue
		}
		if err := VerifySignature(key, data, signature); err != nil {
			lastErr = err
			continue
		}

		result := &SignatureVerification{Verified: true}
		if keyring, err := readKeyring(key); err == nil && len(keyring) > 0 {
			result.KeyID = fmt.Sprintf("%X", keyring[0].PrimaryKey.KeyId)
			result.KeyFingerprint = fmt.Sprintf("%X", keyring[0].PrimaryKey.Fingerprint)
		}
		return result
	}

	err := errors.New("signature verification failed with all provided keys")
	if lastErr != nil {
		err = fmt.Errorf("signature verification failed with all provided keys: %w", lastErr)
	}
	return &SignatureVerification{Error: err}
}

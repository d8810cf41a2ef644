// Package checksum provides content digest utilities for artifact integrity
// verification. Every uploaded distribution gets a SHA-256 digest computed at
// ingest time and re-verified when the artifact is read back; an MD5 digest is
// kept alongside for older client tooling that still reports it. Keeping this
// logic in a dedicated package applies consistent hashing behaviour across the
// upload, index, and storage layers without duplicating crypto wiring
// throughout the codebase.
package checksum

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
)

// CalculateSHA256 calculates the SHA-256 digest of data from a reader.
func CalculateSHA256(reader io.Reader) (string, error) {
	hasher := sha256.New()

	if _, err := io.Copy(hasher, reader); err != nil {
		return "", fmt.Errorf("failed to calculate checksum: %w", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// SHA256Bytes returns the hex SHA-256 digest of an in-memory payload.
func SHA256Bytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// MD5Bytes returns the hex MD5 digest of an in-memory payload. MD5 is served
// for legacy client compatibility only; integrity decisions use SHA-256.
func MD5Bytes(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// VerifySHA256 verifies that the digest of data matches the expected digest.
func VerifySHA256(reader io.Reader, expectedChecksum string) (bool, error) {
	actualChecksum, err := CalculateSHA256(reader)
	if err != nil {
		return false, err
	}

	return actualChecksum == expectedChecksum, nil
}

// TeeSHA256 wraps r so that all bytes read through it feed a SHA-256 hasher.
// Call Sum after the stream is fully consumed to get the hex digest. Download
// handlers use this to re-verify integrity while streaming to the client.
func TeeSHA256(r io.Reader) *TeeHasher {
	h := sha256.New()
	return &TeeHasher{Reader: io.TeeReader(r, h), h: h}
}

// TeeHasher is an io.Reader that hashes everything read through it.
type TeeHasher struct {
	io.Reader
	h hash.Hash
}

// Sum returns the hex digest of the bytes read so far.
func (t *TeeHasher) Sum() string {
	return hex.EncodeToString(t.h.Sum(nil))
}

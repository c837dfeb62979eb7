// Package hasher computes and verifies the SHA-256 digest of a downloaded
// file, generalized from bodaay's verifySHA256 (which streamed a file
// through crypto/sha256 and compared with strings.EqualFold). Comparison
// here uses crypto/subtle to avoid a timing side-channel on the digest
// comparison, since an expected digest may originate from an
// attacker-influenced task list.
package hasher

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// SumFile streams path through SHA-256 and returns the lowercase hex
// digest.
func SumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open for hashing: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Equal compares two hex digests in constant time, case-insensitively.
func Equal(a, b string) bool {
	da, err1 := hex.DecodeString(a)
	db, err2 := hex.DecodeString(b)
	if err1 != nil || err2 != nil || len(da) != len(db) {
		return false
	}
	return subtle.ConstantTimeCompare(da, db) == 1
}

// Verify hashes path and compares it against expectedHex. A mismatch
// returns ok=false with the actual digest for logging.
func Verify(path, expectedHex string) (ok bool, actual string, err error) {
	actual, err = SumFile(path)
	if err != nil {
		return false, "", err
	}
	return Equal(actual, expectedHex), actual, nil
}

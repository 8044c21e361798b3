// Package hashutil provides shared SHA-256 fingerprinting helpers used by
// the artifact downloader and the deploy/verify pipeline.
package hashutil

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	ferrors "github.com/ruminasu/fsdecrypt/internal/errors"
)

// SumReader returns the lowercase hex SHA-256 digest of everything read
// from r.
func SumReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", ferrors.NewFileError("hash", "", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SumBytes returns the lowercase hex SHA-256 digest of b.
func SumBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// SumFile returns the lowercase hex SHA-256 digest of the file at path.
// A missing file is reported through the returned error, not a sentinel
// zero value, so callers can distinguish "absent" from "empty".
func SumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", ferrors.NewFileError("open", path, err)
	}
	defer f.Close()
	return SumReader(f)
}

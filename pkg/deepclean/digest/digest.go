// Package digest computes content digests for files and byte slices.
// SHA-256 is the fingerprint recorded in plans and proof manifests.
// BLAKE3 is kept alongside in the local run history for fast re-checks.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/zeebo/blake3"

	"github.com/jamesainslie/deepclean/pkg/deepclean/types"
)

const bufSize = 32 * 1024

// SHA256File returns the hex SHA-256 of the file at path.
func SHA256File(path string) (string, error) {
	return hashFile(path, sha256.New())
}

// BLAKE3File returns the hex BLAKE3-256 of the file at path.
func BLAKE3File(path string) (string, error) {
	return hashFile(path, blake3.New())
}

// SHA256Bytes returns the hex SHA-256 of data.
func SHA256Bytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func hashFile(path string, h hash.Hash) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, bufSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Meta stats and hashes the file at path.
func Meta(path string) (*types.FileMeta, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	sum, err := SHA256File(path)
	if err != nil {
		return nil, err
	}
	return &types.FileMeta{
		Size:    info.Size(),
		ModTime: info.ModTime().UTC(),
		SHA256:  sum,
	}, nil
}

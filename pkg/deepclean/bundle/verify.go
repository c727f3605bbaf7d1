package bundle

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/jamesainslie/deepclean/pkg/deepclean/types"
)

// ErrHashMismatch is returned when an archive does not match its recorded hash.
var ErrHashMismatch = errors.New("bundle hash mismatch")

// Verification is the outcome of checking an archive against a hash.
type Verification struct {
	Path     string `json:"path" yaml:"path"`
	Expected string `json:"expected" yaml:"expected"`
	Actual   string `json:"actual" yaml:"actual"`
	Match    bool   `json:"match" yaml:"match"`

	// RunID and PlanHash come from the manifest packaged in the archive.
	RunID    string `json:"runId,omitempty" yaml:"runId,omitempty"`
	PlanHash string `json:"planHash,omitempty" yaml:"planHash,omitempty"`
}

// Verify recomputes the SHA-256 of the archive at path and compares it to
// expected. A mismatch is reported both in the result and as
// ErrHashMismatch.
func Verify(path, expected string) (*Verification, error) {
	actual, err := HashFile(path)
	if err != nil {
		return nil, fmt.Errorf("hashing bundle: %w", err)
	}

	v := &Verification{
		Path:     path,
		Expected: strings.ToLower(strings.TrimSpace(expected)),
		Actual:   actual,
	}
	v.Match = v.Expected == actual

	if m, err := ReadArchiveManifest(path); err == nil {
		v.RunID = m.RunID
		v.PlanHash = m.PlanHash
	}

	if !v.Match {
		return v, fmt.Errorf("%w: expected %s, got %s", ErrHashMismatch, v.Expected, actual)
	}
	return v, nil
}

// ReadArchiveManifest decodes the manifest packaged inside a bundle. Its
// bundleSha256 is always empty.
func ReadArchiveManifest(path string) (*types.ProofManifest, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening bundle: %w", err)
	}
	defer func() { _ = r.Close() }()

	for _, f := range r.File {
		if f.Name != ManifestFile {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", ManifestFile, err)
		}
		data, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", ManifestFile, err)
		}
		var m types.ProofManifest
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", ManifestFile, err)
		}
		return &m, nil
	}
	return nil, fmt.Errorf("%s not found in %s", ManifestFile, path)
}

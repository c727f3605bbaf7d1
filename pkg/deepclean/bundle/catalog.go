package bundle

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jamesainslie/deepclean/pkg/deepclean/types"
)

// Entry summarizes a sealed bundle found on disk.
type Entry struct {
	RunID        string    `json:"runId" yaml:"runId"`
	EndTimestamp time.Time `json:"endTimestamp" yaml:"endTimestamp"`
	RootPath     string    `json:"rootPath" yaml:"rootPath"`
	DryRun       bool      `json:"dryRun" yaml:"dryRun"`
	Complete     bool      `json:"complete" yaml:"complete"`
	Summary      string    `json:"summary" yaml:"summary"`
	BundleSHA256 string    `json:"bundleSha256" yaml:"bundleSha256"`
	BundlePath   string    `json:"bundlePath" yaml:"bundlePath"`
	ManifestPath string    `json:"manifestPath" yaml:"manifestPath"`
}

// ReadManifest decodes a standalone manifest file.
func ReadManifest(path string) (*types.ProofManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var m types.ProofManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding manifest %s: %w", path, err)
	}
	return &m, nil
}

// List returns the bundles in proofsDir, newest first, by reading their
// standalone manifests. Unreadable manifests are skipped. A missing
// directory yields no entries.
func List(proofsDir string) ([]Entry, error) {
	dirEntries, err := os.ReadDir(proofsDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading proofs directory: %w", err)
	}

	var entries []Entry
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || !strings.HasPrefix(name, NamePrefix) || !strings.HasSuffix(name, ManifestSuffix) {
			continue
		}
		path := filepath.Join(proofsDir, name)
		m, err := ReadManifest(path)
		if err != nil {
			continue
		}
		entries = append(entries, Entry{
			RunID:        m.RunID,
			EndTimestamp: m.EndTimestamp,
			RootPath:     m.RootPath,
			DryRun:       m.DryRun,
			Complete:     m.Complete,
			Summary:      m.Summary,
			BundleSHA256: m.BundleSHA256,
			BundlePath:   filepath.Join(proofsDir, Name(m.RunID)+".zip"),
			ManifestPath: path,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].EndTimestamp.After(entries[j].EndTimestamp)
	})
	return entries, nil
}

// Find returns the bundle for runID in proofsDir.
func Find(proofsDir, runID string) (*Entry, error) {
	path := filepath.Join(proofsDir, Name(runID)+ManifestSuffix)
	m, err := ReadManifest(path)
	if err != nil {
		return nil, err
	}
	return &Entry{
		RunID:        m.RunID,
		EndTimestamp: m.EndTimestamp,
		RootPath:     m.RootPath,
		DryRun:       m.DryRun,
		Complete:     m.Complete,
		Summary:      m.Summary,
		BundleSHA256: m.BundleSHA256,
		BundlePath:   filepath.Join(proofsDir, Name(m.RunID)+".zip"),
		ManifestPath: path,
	}, nil
}

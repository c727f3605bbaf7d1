// Package bundle seals a run into a content-addressed proof bundle.
//
// Sealing is a two-phase commitment. The manifest is first written with an
// empty bundleSha256 next to the run log, tree snapshots, a readable diff
// and an NDJSON action log. That directory is packaged into a zip whose
// SHA-256 becomes the bundle hash. Only afterwards is the hash patched into
// the staging copy of the manifest and written to a standalone manifest
// beside the archive. The archive is never rebuilt, so the patched copies
// are informational; verifiers trust only the digest of the archive bytes.
package bundle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"

	"github.com/jamesainslie/deepclean/pkg/deepclean/clock"
	"github.com/jamesainslie/deepclean/pkg/deepclean/digest"
	"github.com/jamesainslie/deepclean/pkg/deepclean/logging"
	"github.com/jamesainslie/deepclean/pkg/deepclean/types"
)

// File names inside a bundle.
const (
	ManifestFile   = "manifest.json"
	LogFile        = "output.log"
	TreeBeforeFile = "file-tree-before.txt"
	TreeAfterFile  = "file-tree-after.txt"
	TreeDiffFile   = "tree_diff.txt"
	ActionsFile    = "actions.jsonl"
)

// NamePrefix starts every bundle, staging directory and standalone
// manifest name.
const NamePrefix = "deepclean-proof-"

// ManifestSuffix ends every standalone manifest name.
const ManifestSuffix = "-manifest.json"

// Options configures a Builder.
type Options struct {
	Clock  clock.Clock
	Logger logging.Logger

	// Version is recorded as the deepclean tool version.
	Version string
}

// Builder assembles manifests and seals bundles.
type Builder struct {
	clock   clock.Clock
	logger  logging.Logger
	version string
}

// New creates a Builder.
func New(opts Options) *Builder {
	b := &Builder{
		clock:   opts.Clock,
		logger:  logging.OrDiscard(opts.Logger),
		version: opts.Version,
	}
	if b.clock == nil {
		b.clock = clock.Real{}
	}
	if b.version == "" {
		b.version = "dev"
	}
	return b
}

// Bundle is a sealed proof bundle.
type Bundle struct {
	// Path is the zip archive.
	Path string `json:"path" yaml:"path"`

	// SHA256 is the hex digest of the archive bytes.
	SHA256 string `json:"sha256" yaml:"sha256"`

	// ManifestPath is the standalone manifest written beside the archive.
	ManifestPath string `json:"manifestPath" yaml:"manifestPath"`

	// StagingDir holds the unpacked bundle contents.
	StagingDir string `json:"stagingDir" yaml:"stagingDir"`

	// Manifest carries the final bundle hash.
	Manifest *types.ProofManifest `json:"-" yaml:"-"`
}

// BuildManifest assembles the manifest for a run. The end timestamp comes
// from the builder's clock. A run whose results do not cover every planned
// action is marked incomplete and its summary says so.
func (b *Builder) BuildManifest(plan *types.ActionPlan, results []types.ActionResult, root string, before, after []string) *types.ProofManifest {
	if results == nil {
		results = []types.ActionResult{}
	}
	if before == nil {
		before = []string{}
	}
	if after == nil {
		after = []string{}
	}

	summary := fmt.Sprintf("%d/%d actions succeeded", types.CountSucceeded(results), len(results))
	complete := len(results) == len(plan.Actions)
	if !complete {
		summary += fmt.Sprintf(" (partial run: %d of %d actions attempted)", len(results), len(plan.Actions))
	}

	planned := plan.Actions
	if planned == nil {
		planned = []types.PlannedAction{}
	}

	return &types.ProofManifest{
		RunID:          plan.RunID,
		StartTimestamp: plan.Timestamp,
		EndTimestamp:   b.clock.Now(),
		PolicyVersion:  plan.PolicyVersion,
		PolicyHash:     plan.PolicyHash,
		PlanHash:       plan.PlanHash,
		RootPath:       root,
		DryRun:         plan.DryRun,
		Complete:       complete,
		Environment: types.Environment{
			OS:           runtime.GOOS + "-" + runtime.GOARCH,
			GoVersion:    runtime.Version(),
			ToolVersions: map[string]string{"deepclean": b.version},
		},
		PlannedActions:  planned,
		ExecutedActions: results,
		FileTreeBefore:  before,
		FileTreeAfter:   after,
		BundleSHA256:    "",
		Summary:         summary,
	}
}

// Name returns the bundle base name for a run id.
func Name(runID string) string {
	return NamePrefix + runID
}

// Create seals manifest into proofsDir. The manifest passed in is not
// modified; the returned Bundle carries a copy with the final hash.
// Any failure is fatal and no bundle is returned.
func (b *Builder) Create(ctx context.Context, manifest *types.ProofManifest, proofsDir, logText string) (*Bundle, error) {
	name := Name(manifest.RunID)
	stagingDir := filepath.Join(proofsDir, name)
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}

	sealed := *manifest
	sealed.BundleSHA256 = ""

	// phase one: contents with an empty bundle hash
	files, err := bundleFiles(&sealed, logText)
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		if err := writeAtomic(filepath.Join(stagingDir, f.name), f.data); err != nil {
			return nil, fmt.Errorf("writing %s: %w", f.name, err)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	zipPath := filepath.Join(proofsDir, name+".zip")
	if err := writeZip(zipPath, files, &sealed); err != nil {
		return nil, fmt.Errorf("packaging bundle: %w", err)
	}

	sum, err := HashFile(zipPath)
	if err != nil {
		return nil, fmt.Errorf("hashing bundle: %w", err)
	}

	// phase two: record the hash outside the archive
	sealed.BundleSHA256 = sum
	patched, err := encodeManifest(&sealed)
	if err != nil {
		return nil, err
	}
	if err := writeAtomic(filepath.Join(stagingDir, ManifestFile), patched); err != nil {
		return nil, fmt.Errorf("patching staging manifest: %w", err)
	}
	manifestPath := filepath.Join(proofsDir, name+ManifestSuffix)
	if err := writeAtomic(manifestPath, patched); err != nil {
		return nil, fmt.Errorf("writing standalone manifest: %w", err)
	}

	b.logger.Info("sealed proof bundle", "run_id", manifest.RunID, "path", zipPath, "sha256", sum)

	return &Bundle{
		Path:         zipPath,
		SHA256:       sum,
		ManifestPath: manifestPath,
		StagingDir:   stagingDir,
		Manifest:     &sealed,
	}, nil
}

// HashFile returns the hex SHA-256 of the file at path. It is the bundle
// hash when path is a sealed archive.
func HashFile(path string) (string, error) {
	return digest.SHA256File(path)
}

type bundleFile struct {
	name string
	data []byte
}

// bundleFiles renders the staging contents in archive order.
func bundleFiles(m *types.ProofManifest, logText string) ([]bundleFile, error) {
	manifestJSON, err := encodeManifest(m)
	if err != nil {
		return nil, err
	}

	var actions bytes.Buffer
	for i, r := range m.ExecutedActions {
		line, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("encoding action %s: %w", r.ActionID, err)
		}
		if i > 0 {
			actions.WriteByte('\n')
		}
		actions.Write(line)
	}

	files := []bundleFile{
		{name: ManifestFile, data: manifestJSON},
		{name: TreeBeforeFile, data: []byte(strings.Join(m.FileTreeBefore, "\n"))},
		{name: TreeAfterFile, data: []byte(strings.Join(m.FileTreeAfter, "\n"))},
		{name: TreeDiffFile, data: []byte(TreeDiff(m.ExecutedActions))},
		{name: ActionsFile, data: actions.Bytes()},
	}
	if logText != "" {
		files = append(files, bundleFile{name: LogFile, data: []byte(logText)})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].name < files[j].name })
	return files, nil
}

// TreeDiff renders one line per executed action:
// "[TYPE] source -> target", "DONE" when there is no target, or
// "FAILED: <error>" for failed actions.
func TreeDiff(results []types.ActionResult) string {
	lines := make([]string, len(results))
	for i, r := range results {
		var outcome string
		switch {
		case !r.Success:
			msg := r.Error
			if msg == "" {
				msg = r.Reason
			}
			outcome = "FAILED: " + msg
		case r.TargetPath != "":
			outcome = r.TargetPath
		default:
			outcome = "DONE"
		}
		lines[i] = fmt.Sprintf("[%s] %s -> %s", strings.ToUpper(string(r.Type)), r.SourcePath, outcome)
	}
	return strings.Join(lines, "\n")
}

func encodeManifest(m *types.ProofManifest) ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}
	return data, nil
}

// writeZip packages files into a deflate zip. Entries are sorted and
// stamped with the manifest end time so identical contents produce
// identical archives.
func writeZip(path string, files []bundleFile, m *types.ProofManifest) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".deepclean-bundle-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	zw := zip.NewWriter(tmp)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})

	modified := m.EndTimestamp.UTC()
	for _, f := range files {
		hdr := &zip.FileHeader{
			Name:     f.name,
			Method:   zip.Deflate,
			Modified: modified,
		}
		hdr.SetMode(0o644)
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		if _, err := w.Write(f.data); err != nil {
			return err
		}
	}

	if err = zw.Close(); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// writeAtomic writes data via a temp file and rename.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".deepclean-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

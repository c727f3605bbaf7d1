package bundle

import (
	"encoding/json"
	"fmt"
	"os"
)

// AnchorRequest is what an external anchoring service needs to publish a
// bundle: the archive, its hash, and the fingerprints it commits to.
// Uploading and ledger writes happen outside deepclean.
type AnchorRequest struct {
	BundlePath        string `json:"bundlePath" yaml:"bundlePath"`
	BundleHash        string `json:"bundleHash" yaml:"bundleHash"`
	RunID             string `json:"runId" yaml:"runId"`
	PolicyFingerprint string `json:"policyFingerprint" yaml:"policyFingerprint"`
	PlanFingerprint   string `json:"planFingerprint" yaml:"planFingerprint"`
	Summary           string `json:"summary" yaml:"summary"`
}

// AnchorRequest builds the anchoring handoff for b.
func (b *Bundle) AnchorRequest() AnchorRequest {
	return AnchorRequest{
		BundlePath:        b.Path,
		BundleHash:        b.SHA256,
		RunID:             b.Manifest.RunID,
		PolicyFingerprint: b.Manifest.PolicyHash,
		PlanFingerprint:   b.Manifest.PlanHash,
		Summary:           b.Manifest.Summary,
	}
}

// WriteAnchorRequest saves req to path as indented JSON.
func WriteAnchorRequest(path string, req AnchorRequest) error {
	data, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding anchor request: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing anchor request: %w", err)
	}
	return nil
}

// Package policy loads the versioned rule set that drives planning and
// computes its fingerprint.
package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jamesainslie/deepclean/pkg/deepclean/logging"
	"github.com/jamesainslie/deepclean/pkg/deepclean/types"
)

// DefaultVersion is the version string of the built-in policy.
const DefaultVersion = "1.0.0"

// Rules is the rule set of a policy. Field order is part of the
// fingerprint and must not change.
type Rules struct {
	NeverDelete                  bool     `json:"neverDelete" yaml:"neverDelete"`
	MaxFileSizeMB                float64  `json:"maxFileSizeMB" yaml:"maxFileSizeMB"`
	QuarantineDoubleExtensions   bool     `json:"quarantineDoubleExtensions" yaml:"quarantineDoubleExtensions"`
	QuarantineLargeExecutablesMB float64  `json:"quarantineLargeExecutablesMB" yaml:"quarantineLargeExecutablesMB"`
	DedupeByContentHash          bool     `json:"dedupeByContentHash" yaml:"dedupeByContentHash"`
	RenameWithDatePrefix         bool     `json:"renameWithDatePrefix" yaml:"renameWithDatePrefix"`
	AutoUnzipArchives            bool     `json:"autoUnzipArchives" yaml:"autoUnzipArchives"`
	SkipOnBattery                bool     `json:"skipOnBattery" yaml:"skipOnBattery"`
	SkipPatterns                 []string `json:"skipPatterns" yaml:"skipPatterns"`
}

// Policy is a versioned rule set.
type Policy struct {
	Version string `json:"version" yaml:"version"`
	Rules   Rules  `json:"rules" yaml:"rules"`
}

// Default returns the built-in policy.
func Default() *Policy {
	return &Policy{
		Version: DefaultVersion,
		Rules: Rules{
			NeverDelete:                  true,
			MaxFileSizeMB:                500,
			QuarantineDoubleExtensions:   true,
			QuarantineLargeExecutablesMB: 50,
			DedupeByContentHash:          true,
			RenameWithDatePrefix:         true,
			AutoUnzipArchives:            true,
			SkipOnBattery:                false,
			SkipPatterns:                 []string{"node_modules", ".git", ".deepclean-"},
		},
	}
}

// Load reads the policy at path. An empty, missing or unreadable path
// yields the default policy; so does a file that fails to parse, which is
// logged as a warning. Parsed files are returned as-is without validation.
// Files ending in .yaml or .yml are decoded as YAML, everything else as JSON.
func Load(path string, logger logging.Logger) *Policy {
	logger = logging.OrDiscard(logger)

	if path == "" {
		logger.Debug("no policy file given, using defaults")
		return Default()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Debug("policy file not readable, using defaults", "path", path, "error", err)
		return Default()
	}

	p := &Policy{}
	if isYAML(path) {
		err = yaml.Unmarshal(data, p)
	} else {
		err = json.Unmarshal(data, p)
	}
	if err != nil {
		logger.Warn("policy file could not be parsed, using defaults", "path", path, "error", err)
		return Default()
	}

	logger.Debug("loaded policy", "path", path, "version", p.Version)
	return p
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Canonical returns the serialization the fingerprint is computed over:
// compact JSON with keys in declaration order.
func (p *Policy) Canonical() ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("serializing policy: %w", err)
	}
	return data, nil
}

// Fingerprint returns the hex SHA-256 of the canonical serialization.
func Fingerprint(p *Policy) (string, error) {
	data, err := p.Canonical()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// IsAllowed reports whether kind is in allowed.
func IsAllowed(kind types.ActionKind, allowed []types.ActionKind) bool {
	for _, a := range allowed {
		if a == kind {
			return true
		}
	}
	return false
}

// Write saves p to path as indented JSON, or YAML for .yaml/.yml paths.
func Write(path string, p *Policy) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(p)
	} else {
		data, err = json.MarshalIndent(p, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("encoding policy: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating policy directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing policy: %w", err)
	}
	return nil
}

// Package classifier assigns a semantic category to files and flags
// suspicious ones. Every function here is pure.
package classifier

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/jamesainslie/deepclean/pkg/deepclean/types"
)

var extensionMap = map[string]types.Category{
	// archives
	".zip": types.CategoryArchive, ".tar": types.CategoryArchive, ".gz": types.CategoryArchive,
	".tgz": types.CategoryArchive, ".rar": types.CategoryArchive, ".7z": types.CategoryArchive,
	".bz2": types.CategoryArchive, ".xz": types.CategoryArchive,

	// media
	".jpg": types.CategoryMedia, ".jpeg": types.CategoryMedia, ".png": types.CategoryMedia,
	".gif": types.CategoryMedia, ".bmp": types.CategoryMedia, ".svg": types.CategoryMedia,
	".webp": types.CategoryMedia, ".ico": types.CategoryMedia, ".mp4": types.CategoryMedia,
	".mkv": types.CategoryMedia, ".avi": types.CategoryMedia, ".mov": types.CategoryMedia,
	".mp3": types.CategoryMedia, ".wav": types.CategoryMedia, ".flac": types.CategoryMedia,
	".ogg": types.CategoryMedia,

	// code and structured config
	".ts": types.CategoryCode, ".js": types.CategoryCode, ".tsx": types.CategoryCode,
	".jsx": types.CategoryCode, ".py": types.CategoryCode, ".rs": types.CategoryCode,
	".go": types.CategoryCode, ".java": types.CategoryCode, ".c": types.CategoryCode,
	".cpp": types.CategoryCode, ".h": types.CategoryCode, ".cs": types.CategoryCode,
	".rb": types.CategoryCode, ".php": types.CategoryCode, ".swift": types.CategoryCode,
	".kt": types.CategoryCode, ".json": types.CategoryCode, ".yaml": types.CategoryCode,
	".yml": types.CategoryCode, ".toml": types.CategoryCode, ".xml": types.CategoryCode,
	".html": types.CategoryCode, ".css": types.CategoryCode, ".scss": types.CategoryCode,
	".sh": types.CategoryCode, ".bash": types.CategoryCode, ".ps1": types.CategoryCode,
	".bat": types.CategoryCode,

	// documents
	".pdf": types.CategoryDocument, ".doc": types.CategoryDocument, ".docx": types.CategoryDocument,
	".xls": types.CategoryDocument, ".xlsx": types.CategoryDocument, ".ppt": types.CategoryDocument,
	".pptx": types.CategoryDocument, ".txt": types.CategoryDocument, ".md": types.CategoryDocument,
	".rtf": types.CategoryDocument, ".csv": types.CategoryDocument, ".odt": types.CategoryDocument,

	// executables
	".exe": types.CategoryExecutable, ".msi": types.CategoryExecutable, ".dmg": types.CategoryExecutable,
	".app": types.CategoryExecutable, ".deb": types.CategoryExecutable, ".rpm": types.CategoryExecutable,
	".appimage": types.CategoryExecutable,
}

// executableExts are checked against the large-executable threshold.
// .appimage is classified as executable but never flagged for size.
var executableExts = map[string]bool{
	".exe": true, ".msi": true, ".dmg": true, ".app": true, ".deb": true, ".rpm": true,
}

var doubleExtension = regexp.MustCompile(`(?i)\.\w+\.(exe|bat|cmd|scr|pif|com|msi|js|vbs|wsf|ps1)$`)

// Suspicion is the outcome of IsSuspicious.
type Suspicion struct {
	Suspicious bool
	Reason     string
}

// Ext returns the lower-cased extension of path's base name. A leading dot
// does not start an extension, so ".bashrc" has none.
func Ext(path string) string {
	base := filepath.Base(path)
	idx := strings.LastIndexByte(base, '.')
	if idx <= 0 {
		return ""
	}
	return strings.ToLower(base[idx:])
}

// Classify returns the category for path based on its extension.
func Classify(path string) types.Category {
	if c, ok := extensionMap[Ext(path)]; ok {
		return c
	}
	return types.CategoryUnknown
}

// IsSuspicious reports whether a file looks dangerous. A double extension
// ending in a runnable type is checked first; otherwise executables larger
// than maxExecutableMB are flagged.
func IsSuspicious(path string, sizeBytes int64, maxExecutableMB float64) Suspicion {
	name := filepath.Base(path)
	if doubleExtension.MatchString(name) {
		return Suspicion{Suspicious: true, Reason: "Double extension detected: " + name}
	}

	limit := maxExecutableMB * float64(types.MiB)
	if executableExts[Ext(path)] && float64(sizeBytes) > limit {
		sizeMB := float64(sizeBytes) / float64(types.MiB)
		return Suspicion{
			Suspicious: true,
			Reason:     fmt.Sprintf("Large executable: %.1fMB > %sMB limit", sizeMB, formatLimit(maxExecutableMB)),
		}
	}

	return Suspicion{}
}

// formatLimit prints whole thresholds without a fractional part.
func formatLimit(mb float64) string {
	if mb == float64(int64(mb)) {
		return fmt.Sprintf("%d", int64(mb))
	}
	return fmt.Sprintf("%g", mb)
}

// ShouldSkip reports whether path contains any of patterns after
// normalizing separators to forward slashes. Matching is plain substring
// containment.
func ShouldSkip(path string, patterns []string) bool {
	normalized := strings.ReplaceAll(path, `\`, "/")
	for _, p := range patterns {
		if p == "" {
			continue
		}
		if strings.Contains(normalized, p) {
			return true
		}
	}
	return false
}

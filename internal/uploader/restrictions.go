package uploader

import (
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ondrasimku/filepicker-go/internal/domain"
)

const (
	RuleMaxNumberOfFiles = "maxNumberOfFiles"
	RuleMaxFileSize      = "maxFileSize"
	RuleAllowedFileTypes = "allowedFileTypes"
	RuleDuplicate        = "duplicate"
)

type RestrictionError struct {
	Rule    string
	File    string
	Message string
}

func (e *RestrictionError) Error() string {
	return "uploader: " + e.Message
}

// TypeAllowed matches a file against allow-list patterns: ".ext" matches the
// file extension, "type/*" a MIME family, anything else an exact MIME type.
// An empty list allows everything.
func TypeAllowed(patterns []string, name, mimeType string) bool {
	if len(patterns) == 0 {
		return true
	}

	mimeType = strings.ToLower(mimeType)
	ext := strings.ToLower(filepath.Ext(name))
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		switch {
		case p == "*" || p == "*/*":
			return true
		case strings.HasPrefix(p, "."):
			if ext == p {
				return true
			}
		case strings.HasSuffix(p, "/*"):
			if mimeType != "" && strings.HasPrefix(mimeType, strings.TrimSuffix(p, "*")) {
				return true
			}
		default:
			if mimeType == p {
				return true
			}
		}
	}
	return false
}

// detectType sniffs the MIME type of a file that arrived without one.
func detectType(f domain.RawFile) string {
	if f.Source == nil {
		return ""
	}
	rc, err := f.Source.Open()
	if err != nil {
		return ""
	}
	defer rc.Close()

	mt, err := mimetype.DetectReader(rc)
	if err != nil {
		return ""
	}
	base, _, _ := strings.Cut(mt.String(), ";")
	return base
}

package normalisers

import (
	"mime"
	"path/filepath"
	"strings"
)

// extensionTypes covers extensions the platform MIME table often lacks.
var extensionTypes = map[string]string{
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".txt":      "text/plain",
	".text":     "text/plain",
	".htm":      "text/html",
	".html":     "text/html",
	".xhtml":    "application/xhtml+xml",
	".tex":      "text/x-tex",
	".rst":      "text/x-rst",
}

// DetectMIMEType guesses a MIME type from a file name. Names without an
// extension are treated as plain text; unknown extensions yield
// application/octet-stream.
func DetectMIMEType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return "text/plain"
	}
	if t, ok := extensionTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return strings.TrimSpace(strings.SplitN(t, ";", 2)[0])
	}
	return "application/octet-stream"
}

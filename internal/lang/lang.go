// # internal/lang/lang.go
package lang

import (
	"path/filepath"
	"sort"
	"strings"
)

// Languages with a structural grammar. Anything else still flows through
// the weaker tiers under whatever name detection produced.
const (
	Go         = "go"
	Python     = "python"
	JavaScript = "javascript"
	TypeScript = "typescript"
	TSX        = "tsx"
	Rust       = "rust"
	Java       = "java"
	HTML       = "html"
	CSS        = "css"
	Unknown    = ""
)

var extensions = map[string]string{
	".go":   Go,
	".py":   Python,
	".pyi":  Python,
	".js":   JavaScript,
	".mjs":  JavaScript,
	".cjs":  JavaScript,
	".jsx":  JavaScript,
	".ts":   TypeScript,
	".tsx":  TSX,
	".rs":   Rust,
	".java": Java,
	".html": HTML,
	".htm":  HTML,
	".css":  CSS,

	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".cc":    "cpp",
	".hpp":   "cpp",
	".cs":    "csharp",
	".rb":    "ruby",
	".php":   "php",
	".kt":    "kotlin",
	".swift": "swift",
	".scala": "scala",
	".sh":    "shell",
	".bash":  "shell",
	".zsh":   "shell",
	".lua":   "lua",
	".pl":    "perl",
	".r":     "r",
	".sql":   "sql",
	".json":  "json",
	".yaml":  "yaml",
	".yml":   "yaml",
	".toml":  "toml",
	".md":    "markdown",
}

var filenames = map[string]string{
	"dockerfile": "dockerfile",
	"makefile":   "make",
	"rakefile":   "ruby",
	"gemfile":    "ruby",
	"justfile":   "just",
}

// Detect resolves a language name for a path, preferring an explicit hint
// from the collector. Empty means unknown.
func Detect(path, hint string) string {
	if hint != "" {
		return strings.ToLower(hint)
	}
	base := strings.ToLower(filepath.Base(path))
	if l, ok := filenames[base]; ok {
		return l
	}
	ext := strings.ToLower(filepath.Ext(path))
	if l, ok := extensions[ext]; ok {
		return l
	}
	return Unknown
}

// Structural reports whether a language has a grammar in the structural
// tier's table.
func Structural(language string) bool {
	switch language {
	case Go, Python, JavaScript, TypeScript, TSX, Rust, Java, HTML, CSS:
		return true
	}
	return false
}

// Known returns every language name the built-in tables can detect,
// sorted and without duplicates.
func Known() []string {
	seen := make(map[string]bool, len(extensions))
	for _, l := range extensions {
		seen[l] = true
	}
	for _, l := range filenames {
		seen[l] = true
	}
	out := make([]string, 0, len(seen))
	for l := range seen {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

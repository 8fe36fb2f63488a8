package streamproxy

import (
	"strings"
)

// maxFilenameLength bounds the Content-Disposition filename, extension
// included.
const maxFilenameLength = 120

// SanitizeFilename turns an untrusted title into a safe download filename.
// Path separators, control characters and header-breaking characters are
// dropped, the result is length-bounded, and a fallback is used when
// nothing survives.
func SanitizeFilename(title, extension string) string {
	var b strings.Builder
	for _, r := range title {
		switch {
		case r == '/' || r == '\\' || r == ':' || r == '*' || r == '?' || r == '"' || r == '<' || r == '>' || r == '|':
			// dropped
		case r < 0x20 || r == 0x7f:
			// dropped
		default:
			b.WriteRune(r)
		}
	}

	name := strings.TrimSpace(b.String())
	name = strings.Trim(name, ".")
	if name == "" {
		name = "download"
	}

	budget := maxFilenameLength - len(extension)
	if len(name) > budget {
		// Cut whole runes, never mid-sequence.
		runes := []rune(name)
		for len(runes) > 0 && len(string(runes)) > budget {
			runes = runes[:len(runes)-1]
		}
		name = strings.TrimSpace(string(runes))
		if name == "" {
			name = "download"
		}
	}

	return name + extension
}

package stream

import (
	"regexp"
	"strings"
)

// Replacement characters show up when a multi-byte UTF-8 sequence is split
// across provider chunk boundaries and each half decodes alone.
var replacementRuns = regexp.MustCompile("�{1,4}")

// Sanitize strips U+FFFD runs left behind by chunk-boundary decoding.
func Sanitize(text string) string {
	if !strings.ContainsRune(text, '�') {
		return text
	}
	return replacementRuns.ReplaceAllString(text, "")
}

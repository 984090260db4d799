package enrich

import (
	"regexp"
	"strings"
)

var (
	// (Note: ...) and [Note: ...] anywhere in the text
	inlineDisclaimer = regexp.MustCompile(`(?is)[\(\[]\s*(note|disclaimer|translator'?s? note)\s*:?[^\)\]]*[\)\]]`)
	// whole lines that only carry a disclaimer
	disclaimerLine = regexp.MustCompile(`(?i)^\s*(note|disclaimer|translator'?s? note|please note)\s*:`)
	// "Translation:" / "Here is the translation:" prefixes
	translationLead = regexp.MustCompile(`(?i)^\s*(here is the translation|translation|traduction)\s*:\s*`)
)

// SanitizeAIText removes the disclaimers and lead-ins chat models add around a translation.
func SanitizeAIText(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = inlineDisclaimer.ReplaceAllString(s, "")

	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if disclaimerLine.MatchString(line) {
			continue
		}
		line = translationLead.ReplaceAllString(line, "")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		kept = append(kept, line)
	}

	out := strings.TrimSpace(strings.Join(kept, "\n"))
	if len(out) >= 2 && strings.HasPrefix(out, `"`) && strings.HasSuffix(out, `"`) {
		out = strings.TrimSpace(out[1 : len(out)-1])
	}
	return out
}

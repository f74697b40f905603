package language

import (
	"fmt"
	"strings"

	xlanguage "golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// English words operators tend to type instead of codes.
var words = map[string]string{
	"english":    "en",
	"spanish":    "es",
	"french":     "fr",
	"german":     "de",
	"italian":    "it",
	"portuguese": "pt",
	"japanese":   "ja",
	"korean":     "ko",
	"chinese":    "zh",
	"russian":    "ru",
	"arabic":     "ar",
	"hindi":      "hi",
	"dutch":      "nl",
	"polish":     "pl",
	"swedish":    "sv",
	"danish":     "da",
	"norwegian":  "no",
	"finnish":    "fi",
}

// ISO 639-2/B codes that BCP 47 parsing does not resolve on its own.
var bibliographic = map[string]string{
	"fre": "fr",
	"ger": "de",
	"chi": "zh",
	"dut": "nl",
	"cze": "cs",
	"gre": "el",
}

// Normalize maps a language code, BCP 47 tag or English language name to its
// base ISO 639-1 code. Blank input normalizes to blank.
func Normalize(value string) (string, error) {
	code := strings.ToLower(strings.TrimSpace(value))
	if code == "" {
		return "", nil
	}
	if c, ok := words[code]; ok {
		return c, nil
	}
	if c, ok := bibliographic[code]; ok {
		return c, nil
	}
	tag, err := xlanguage.Parse(code)
	if err != nil {
		return "", fmt.Errorf("unknown language %q", value)
	}
	base, confidence := tag.Base()
	if confidence == xlanguage.No {
		return "", fmt.Errorf("unknown language %q", value)
	}
	return base.String(), nil
}

// DisplayName returns the English name of a language code, or the code itself
// when it cannot be resolved.
func DisplayName(code string) string {
	normalized, err := Normalize(code)
	if err != nil || normalized == "" {
		return code
	}
	tag, err := xlanguage.Parse(normalized)
	if err != nil {
		return code
	}
	if name := display.English.Languages().Name(tag); name != "" {
		return name
	}
	return code
}

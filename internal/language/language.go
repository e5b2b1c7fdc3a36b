// Package language maps phone calling codes to outreach message languages.
package language

import (
	"strings"

	"github.com/GeobookerMx/Geobooker3-sub001/internal/phone"
)

// Language is an ISO 639-1 code understood by the message composer.
type Language string

// Supported outreach languages.
const (
	Spanish Language = "es"
	English Language = "en"
)

// Default is used when a number's prefix is not recognized.
const Default = Spanish

var prefixes = []struct {
	prefix string
	lang   Language
}{
	{"+52", Spanish},
	{"+34", Spanish},
	{"+54", Spanish},
	{"+56", Spanish},
	{"+57", Spanish},
	{"+1", English},
	{"+44", English},
	{"+61", English},
}

// Detect returns the language implied by the calling code of phoneNumber.
// Raw input is normalized first; unknown prefixes fall back to Default.
func Detect(phoneNumber string) Language {
	normalized := phone.Normalize(phoneNumber)
	for _, p := range prefixes {
		if strings.HasPrefix(normalized, p.prefix) {
			return p.lang
		}
	}
	return Default
}

// Parse validates an explicit language override.
func Parse(s string) (Language, bool) {
	switch Language(strings.ToLower(strings.TrimSpace(s))) {
	case Spanish:
		return Spanish, true
	case English:
		return English, true
	default:
		return "", false
	}
}

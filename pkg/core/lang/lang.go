// Package lang interprets BCP-47 language tags used for reply language,
// voice selection and speech output.
package lang

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Base returns the lower-cased primary language subtag of code, e.g. "hi"
// for "hi-IN". Unparseable codes fall back to the text before the first
// separator.
func Base(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}
	if tag, err := language.Parse(code); err == nil {
		b, _ := tag.Base()
		return b.String()
	}
	if i := strings.IndexAny(code, "-_"); i >= 0 {
		code = code[:i]
	}
	return strings.ToLower(code)
}

// IsEnglish reports whether code's base language is English.
func IsEnglish(code string) bool {
	return Base(code) == "en"
}

// SameBase reports whether two codes share a primary language.
func SameBase(a, b string) bool {
	ba, bb := Base(a), Base(b)
	return ba != "" && ba == bb
}

// Normalize canonicalizes code ("en_us" becomes "en-US"). Unparseable codes
// are returned trimmed but otherwise unchanged.
func Normalize(code string) string {
	code = strings.TrimSpace(code)
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	return tag.String()
}

// DisplayName returns the English name of the language, e.g. "Hindi".
func DisplayName(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	base, _ := tag.Base()
	name := display.English.Languages().Name(language.Make(base.String()))
	if name == "" {
		return code
	}
	return name
}

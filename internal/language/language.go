package language

import (
	"strings"
	"unicode"

	xlang "golang.org/x/text/language"
	"golang.org/x/text/language/display"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// named lists the languages whose English names and endonyms are accepted as
// input ("Spanish", "español", "espanol").
var named = []string{
	"en", "es", "fr", "de", "it", "pt", "ja", "ko", "zh", "ru", "ar", "hi",
	"nl", "pl", "sv", "da", "no", "fi", "tr", "id", "uk", "cs", "el", "he", "vi",
}

// bibliographic maps ISO 639-2/B codes that x/text does not resolve.
var bibliographic = map[string]string{
	"fre": "fr", "ger": "de", "dut": "nl", "chi": "zh", "gre": "el", "cze": "cs",
}

var byName = buildNames()

func buildNames() map[string]string {
	out := map[string]string{"mandarin": "zh"}
	english := display.English.Languages()
	for _, code := range named {
		tag := xlang.Make(code)
		for _, name := range []string{english.Name(tag), display.Self.Name(tag)} {
			name = strings.ToLower(strings.TrimSpace(name))
			if name == "" {
				continue
			}
			out[name] = code
			out[foldAccents(name)] = code
		}
	}
	return out
}

func foldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return folded
}

// Normalize reduces a code, tag, or language name to its ISO 639-1 base
// ("pt-BR" -> "pt", "eng" -> "en", "French" -> "fr"). It reports false for
// input that is neither a known name nor a parseable BCP 47 tag.
func Normalize(code string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(code))
	if key == "" {
		return "", false
	}
	if c, ok := byName[key]; ok {
		return c, true
	}
	if c, ok := bibliographic[key]; ok {
		return c, true
	}
	tag, err := xlang.Parse(key)
	if err != nil {
		return "", false
	}
	base, confidence := tag.Base()
	if confidence == xlang.No || base.String() == "und" {
		return "", false
	}
	return base.String(), true
}

// Locale canonicalizes a BCP 47 locale ("fr-ca" -> "fr-CA"). Unparseable input
// is returned trimmed.
func Locale(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}
	tag, err := xlang.Parse(code)
	if err != nil {
		return code
	}
	return tag.String()
}

// Same reports whether two codes name the same base language.
func Same(a, b string) bool {
	na, okA := Normalize(a)
	nb, okB := Normalize(b)
	return okA && okB && na == nb
}

// DisplayName returns the English name of a language. Empty input yields
// "Unknown"; unrecognized input is echoed in upper case.
func DisplayName(code string) string {
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return "Unknown"
	}
	base, ok := Normalize(trimmed)
	if !ok {
		return strings.ToUpper(trimmed)
	}
	if name := display.English.Languages().Name(xlang.Make(base)); name != "" {
		return name
	}
	return strings.ToUpper(trimmed)
}

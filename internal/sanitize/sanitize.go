// Package sanitize cleans field values and field names before they are
// placed in a QueueItem's specific_content, since the RPA provider rejects
// HTML markup, control characters, and several punctuation characters in
// keys.
package sanitize

import (
	"html"
	"net/url"
	"regexp"
	"strings"
)

var (
	hrefPattern = regexp.MustCompile(`(?i)href\s*=\s*["']([^"']+)["']`)
	tagPattern  = regexp.MustCompile(`<[^>]*>`)
	hasTag      = regexp.MustCompile(`<[^<>]*>`)
	fieldKeyRun = regexp.MustCompile(`_+`)
	nonKeyChar  = regexp.MustCompile(`[^A-Za-z0-9_]`)
)

// fieldNameReplacer substitutes characters the RPA provider rejects in
// keys. Each rune maps independently, so the order of the pairs does not
// matter.
var fieldNameReplacer = strings.NewReplacer(
	"@", "_at_",
	".", "_dot_",
	"$", "_dollar_",
)

// Value sanitizes one string field value: extracts HTML href/inner text
// where present, decodes HTML entities (stripping any tags the decoding
// produces), percent-decodes URLs, and strips control characters below
// 0x20 (except tab/newline/CR).
//
// extractedURL is non-empty when the input contained an href attribute,
// letting callers store it as a sibling sub-field.
func Value(raw string) (value string, extractedURL string) {
	value = raw

	if hasTag.MatchString(value) {
		if m := hrefPattern.FindStringSubmatch(value); m != nil {
			extractedURL = decodeURL(html.UnescapeString(m[1]))
		}
		value = tagPattern.ReplaceAllString(value, "")
	}

	value = html.UnescapeString(value)
	if hasTag.MatchString(value) {
		value = tagPattern.ReplaceAllString(value, "")
	}

	if looksLikeURL(value) {
		value = decodeURL(value)
	}

	value = stripControlChars(value)
	return value, extractedURL
}

// FieldName sanitizes a field name so it matches [A-Za-z0-9_]+: replaces
// '@', '.', '$' with their word-form equivalents, replaces every other
// character outside that set with '_', and collapses runs of underscores
// produced by the substitution.
func FieldName(name string) string {
	replaced := fieldNameReplacer.Replace(name)
	replaced = nonKeyChar.ReplaceAllString(replaced, "_")
	return fieldKeyRun.ReplaceAllString(replaced, "_")
}

func looksLikeURL(s string) bool {
	if !strings.Contains(s, "%") {
		return false
	}
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https")
}

func decodeURL(s string) string {
	decoded, err := url.QueryUnescape(s)
	if err != nil {
		return s
	}
	return decoded
}

func stripControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 && r != '\t' && r != '\n' && r != '\r' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Fields sanitizes every value and key in a flat field map, returning a
// new map safe for inclusion in specific_content. A value that yields an
// extracted URL is stored under an additional "<key>_url" sub-field.
func Fields(fields map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(fields))
	for key, v := range fields {
		cleanKey := FieldName(key)
		switch s := v.(type) {
		case string:
			value, extractedURL := Value(s)
			out[cleanKey] = value
			if extractedURL != "" {
				out[FieldName(key+"_url")] = extractedURL
			}
		default:
			out[cleanKey] = v
		}
	}
	return out
}

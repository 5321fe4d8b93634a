// Package validate normalizes and checks user-supplied identifiers.
package validate

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	SlugMinLength = 2
	SlugMaxLength = 63
	NameMaxLength = 255
)

var (
	emailPattern   = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	slugPattern    = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)
	slugSeparators = regexp.MustCompile(`[^a-z0-9]+`)
)

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Email reports whether email, after trimming, looks like an address.
func Email(email string) bool {
	return emailPattern.MatchString(strings.TrimSpace(email))
}

// Slug reports whether s is an acceptable organization slug.
func Slug(s string) bool {
	return len(s) >= SlugMinLength && len(s) <= SlugMaxLength && slugPattern.MatchString(s)
}

// GenerateSlug derives a slug from a display name: accents are stripped,
// runs of anything outside [a-z0-9] collapse to one dash, and leading or
// trailing dashes are removed. The result may still fail Slug when the name
// has no usable characters.
func GenerateSlug(name string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}
	s := slugSeparators.ReplaceAllString(strings.ToLower(folded), "-")
	s = strings.Trim(s, "-")
	if len(s) > SlugMaxLength {
		s = strings.TrimRight(s[:SlugMaxLength], "-")
	}
	return s
}

// Name trims a display name and reports whether it is usable.
func Name(name string) (string, bool) {
	name = strings.TrimSpace(name)
	return name, name != "" && len(name) <= NameMaxLength
}

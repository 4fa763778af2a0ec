// Package matching implements identifier normalization, pairwise similarity
// scoring, and blocking keys for the candidate generator.
package matching

import (
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"

	"github.com/felineworks/resolve-engine/pkg/models"
)

// NormalizeIdentifier converts a raw identifier value into its canonical
// comparable form for the given type. Returns "" when the value carries no
// usable signal (too short, empty after stripping).
func NormalizeIdentifier(raw string, idType models.IdentifierType) string {
	switch idType {
	case models.IdentifierTypePhone:
		return NormalizePhone(raw)
	case models.IdentifierTypeEmail:
		return strings.ToLower(strings.TrimSpace(raw))
	case models.IdentifierTypeAddress:
		return normalizeText(raw)
	case models.IdentifierTypeMicrochip:
		return stripNonAlnum(strings.ToUpper(strings.TrimSpace(raw)))
	default:
		return normalizeText(raw)
	}
}

// NormalizePhone reduces a phone number to its digit-only form, stripping a
// leading US country code when present.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == 11 && digits[0] == '1' {
		digits = digits[1:]
	}
	if len(digits) < 7 {
		return ""
	}
	return digits
}

// NormalizeName case-folds a display name, collapses whitespace, and strips
// punctuation so fuzzy comparison sees only the letters.
func NormalizeName(name string) string {
	return normalizeText(name)
}

// NormalizeOrgName normalizes an organization name and singularizes its
// trailing token, so "Feral Cat Rescuers" and "feral cat rescuer" compare
// equal.
func NormalizeOrgName(name string) string {
	norm := normalizeText(name)
	tokens := strings.Fields(norm)
	if len(tokens) == 0 {
		return norm
	}
	tokens[len(tokens)-1] = inflection.Singular(tokens[len(tokens)-1])
	return strings.Join(tokens, " ")
}

// NormalizeDisplayName picks the name normalization for an entity kind.
func NormalizeDisplayName(name string, kind models.EntityKind) string {
	if kind == models.EntityKindOrganization {
		return NormalizeOrgName(name)
	}
	return NormalizeName(name)
}

func normalizeText(s string) string {
	var b strings.Builder
	prevSpace := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			prevSpace = false
		case unicode.IsSpace(r):
			if !prevSpace && b.Len() > 0 {
				b.WriteRune(' ')
				prevSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

func stripNonAlnum(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

package matching

import (
	"strings"

	"github.com/felineworks/resolve-engine/pkg/models"
)

// Result is the outcome of scoring one unordered entity pair.
type Result struct {
	Score             float64
	MatchType         models.MatchType
	MatchedIdentifier string
}

// Matched reports whether the pair produced any surfaceable signal.
func (r Result) Matched() bool {
	return r.MatchType != ""
}

// maxFuzzyScore caps the fuzzy_name band so identical display names still
// rank below a shared email or microchip.
const maxFuzzyScore = 0.99

// Scorer computes pairwise similarity between two entities' attributes.
// Scoring is a pure function of the inputs, so re-scoring the same pair is
// idempotent and candidate regeneration is safe.
type Scorer struct {
	thresholds Thresholds
}

// NewScorer creates a Scorer with the given thresholds.
func NewScorer(thresholds Thresholds) *Scorer {
	return &Scorer{thresholds: thresholds}
}

// Score evaluates the match signals in priority order and takes the maximum
// across them, never a sum: correlated weak signals must not compound into
// runaway confidence.
//
//  1. Any exact normalized-identifier match is terminal: exact_identifier, 1.0.
//  2. Fuzzy name similarity at or above the surfacing threshold plus at least
//     one corroborating signal (shared address, matching phone area code or
//     last four digits): fuzzy_name, score = name similarity.
//  3. Shared address with no name similarity: shared_address at a fixed
//     constant below the fuzzy band.
func (s *Scorer) Score(a, b *models.Entity, idsA, idsB []*models.Identifier) Result {
	if match, value := exactIdentifierMatch(idsA, idsB); match {
		return Result{Score: 1.0, MatchType: models.MatchTypeExactIdentifier, MatchedIdentifier: value}
	}

	nameA := NormalizeDisplayName(a.DisplayName, a.Kind)
	nameB := NormalizeDisplayName(b.DisplayName, b.Kind)
	sharedAddr, addrValue := sharedAddress(idsA, idsB)

	if len(nameA) >= s.thresholds.MinNameLength && len(nameB) >= s.thresholds.MinNameLength {
		similarity := JaroWinkler(nameA, nameB)
		if similarity >= s.thresholds.FuzzySurface && (sharedAddr || phoneCorroborates(idsA, idsB)) {
			// A name alone never scores 1.0; that is reserved for exact
			// identifier matches.
			if similarity > maxFuzzyScore {
				similarity = maxFuzzyScore
			}
			r := Result{Score: similarity, MatchType: models.MatchTypeFuzzyName}
			if sharedAddr {
				r.MatchedIdentifier = addrValue
			}
			return r
		}
	}

	if sharedAddr {
		return Result{
			Score:             s.thresholds.SharedAddressScore,
			MatchType:         models.MatchTypeSharedAddress,
			MatchedIdentifier: addrValue,
		}
	}

	return Result{}
}

// exactIdentifierMatch looks for any shared (type, normalized value) pair.
// Address identifiers are excluded here; a shared address is context, not
// identity.
func exactIdentifierMatch(idsA, idsB []*models.Identifier) (bool, string) {
	seen := make(map[string]string, len(idsA))
	for _, id := range idsA {
		if id.IDType == models.IdentifierTypeAddress || id.NormalizedValue == "" {
			continue
		}
		seen[string(id.IDType)+":"+id.NormalizedValue] = id.NormalizedValue
	}
	for _, id := range idsB {
		if id.IDType == models.IdentifierTypeAddress || id.NormalizedValue == "" {
			continue
		}
		if v, ok := seen[string(id.IDType)+":"+id.NormalizedValue]; ok {
			return true, v
		}
	}
	return false, ""
}

func sharedAddress(idsA, idsB []*models.Identifier) (bool, string) {
	seen := make(map[string]struct{})
	for _, id := range idsA {
		if id.IDType == models.IdentifierTypeAddress && id.NormalizedValue != "" {
			seen[id.NormalizedValue] = struct{}{}
		}
	}
	for _, id := range idsB {
		if id.IDType != models.IdentifierTypeAddress || id.NormalizedValue == "" {
			continue
		}
		if _, ok := seen[id.NormalizedValue]; ok {
			return true, id.NormalizedValue
		}
	}
	return false, ""
}

// phoneCorroborates reports a weak phone signal: same area code or same last
// four digits on any phone pair. Weak on purpose; it only ever corroborates
// an already-similar name.
func phoneCorroborates(idsA, idsB []*models.Identifier) bool {
	for _, a := range idsA {
		if a.IDType != models.IdentifierTypePhone || len(a.NormalizedValue) < 7 {
			continue
		}
		for _, b := range idsB {
			if b.IDType != models.IdentifierTypePhone || len(b.NormalizedValue) < 7 {
				continue
			}
			if a.NormalizedValue[:3] == b.NormalizedValue[:3] {
				return true
			}
			if a.NormalizedValue[len(a.NormalizedValue)-4:] == b.NormalizedValue[len(b.NormalizedValue)-4:] {
				return true
			}
		}
	}
	return false
}

// JaroWinkler calculates the Jaro-Winkler similarity between two strings,
// boosting the Jaro score for a common prefix. Returns a value between 0.0
// and 1.0.
func JaroWinkler(a, b string) float64 {
	if a == b {
		return 1.0
	}

	jaro := Jaro(a, b)

	prefixLen := 0
	maxPrefix := 4
	for i := 0; i < len(a) && i < len(b) && i < maxPrefix; i++ {
		if a[i] == b[i] {
			prefixLen++
		} else {
			break
		}
	}

	const scalingFactor = 0.1
	return jaro + float64(prefixLen)*scalingFactor*(1.0-jaro)
}

// Jaro calculates the Jaro similarity between two strings.
func Jaro(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	matchDist := maxInt(len(a), len(b))/2 - 1
	if matchDist < 0 {
		matchDist = 0
	}

	aMatches := make([]bool, len(a))
	bMatches := make([]bool, len(b))

	matches := 0
	transpositions := 0

	for i := 0; i < len(a); i++ {
		start := maxInt(0, i-matchDist)
		end := minInt(len(b), i+matchDist+1)

		for j := start; j < end; j++ {
			if bMatches[j] || a[i] != b[j] {
				continue
			}
			aMatches[i] = true
			bMatches[j] = true
			matches++
			break
		}
	}

	if matches == 0 {
		return 0.0
	}

	k := 0
	for i := 0; i < len(a); i++ {
		if !aMatches[i] {
			continue
		}
		for !bMatches[k] {
			k++
		}
		if a[i] != b[k] {
			transpositions++
		}
		k++
	}

	m := float64(matches)
	t := float64(transpositions) / 2

	return (m/float64(len(a)) + m/float64(len(b)) + (m-t)/m) / 3
}

// Soundex calculates the Soundex phonetic encoding of a string. Used as a
// blocking key so near-homophone names land in the same bucket.
func Soundex(str string) string {
	str = strings.ToUpper(strings.TrimSpace(str))
	if len(str) == 0 {
		return ""
	}

	result := string(str[0])
	prevCode := soundexCode(rune(str[0]))

	for i := 1; i < len(str) && len(result) < 4; i++ {
		char := rune(str[i])
		if char < 'A' || char > 'Z' {
			continue
		}
		code := soundexCode(char)
		if code != "0" && code != prevCode {
			result += code
		}
		prevCode = code
	}

	for len(result) < 4 {
		result += "0"
	}

	return result
}

func soundexCode(r rune) string {
	switch r {
	case 'B', 'F', 'P', 'V':
		return "1"
	case 'C', 'G', 'J', 'K', 'Q', 'S', 'X', 'Z':
		return "2"
	case 'D', 'T':
		return "3"
	case 'L':
		return "4"
	case 'M', 'N':
		return "5"
	case 'R':
		return "6"
	default:
		return "0"
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

package matching

import (
	"fmt"
	"math"
	"strings"

	"github.com/felineworks/resolve-engine/pkg/models"
)

// Blocking key prefixes keep bucket namespaces disjoint.
const (
	blockPrefixIdentifier = "id"
	blockPrefixPhonetic   = "ph"
	blockPrefixGeo        = "geo"
)

// identifierPrefixLen is how many leading characters of a normalized
// identifier value form its bucket.
const identifierPrefixLen = 4

// geoCellSize is the bucket edge in degrees for place coordinates, roughly
// a neighborhood at mid latitudes.
const geoCellSize = 0.01

// BlockKeys derives the blocking bucket keys for one entity. Pairwise
// scoring only happens within a bucket, which keeps the generator well under
// O(n²): entities that share no bucket are never compared.
func BlockKeys(entity *models.Entity, identifiers []*models.Identifier) []string {
	keys := make(map[string]struct{})

	for _, id := range identifiers {
		if id.NormalizedValue == "" || id.IDType == models.IdentifierTypeAddress {
			continue
		}
		prefix := id.NormalizedValue
		if len(prefix) > identifierPrefixLen {
			prefix = prefix[:identifierPrefixLen]
		}
		keys[fmt.Sprintf("%s:%s:%s", blockPrefixIdentifier, id.IDType, prefix)] = struct{}{}
	}

	// Address identifiers bucket on the full normalized value so the
	// shared-address signal is always reachable.
	for _, id := range identifiers {
		if id.IDType == models.IdentifierTypeAddress && id.NormalizedValue != "" {
			keys[fmt.Sprintf("%s:addr:%s", blockPrefixIdentifier, id.NormalizedValue)] = struct{}{}
		}
	}

	if key := phoneticKey(entity); key != "" {
		keys[key] = struct{}{}
	}

	if key := geoKey(entity); key != "" {
		keys[key] = struct{}{}
	}

	out := make([]string, 0, len(keys))
	for k := range keys {
		out = append(out, k)
	}
	return out
}

// phoneticKey buckets on the Soundex of the last name token, which survives
// the misspellings that dominate hand-entered intake forms.
func phoneticKey(entity *models.Entity) string {
	name := NormalizeDisplayName(entity.DisplayName, entity.Kind)
	tokens := strings.Fields(name)
	if len(tokens) == 0 {
		return ""
	}
	code := Soundex(tokens[len(tokens)-1])
	if code == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s:%s", blockPrefixPhonetic, entity.Kind, code)
}

// geoKey buckets places into fixed lat/lon cells when coordinates exist in
// the entity attributes.
func geoKey(entity *models.Entity) string {
	if entity.Kind != models.EntityKindPlace {
		return ""
	}
	lat, okLat := floatAttr(entity.Attributes, "lat")
	lon, okLon := floatAttr(entity.Attributes, "lon")
	if !okLat || !okLon {
		return ""
	}
	// Floor keeps cells half-open on both sides of zero; integer
	// truncation would make the cell straddling zero twice as wide.
	latCell := int(math.Floor(lat / geoCellSize))
	lonCell := int(math.Floor(lon / geoCellSize))
	return fmt.Sprintf("%s:%d:%d", blockPrefixGeo, latCell, lonCell)
}

func floatAttr(attrs map[string]any, key string) (float64, bool) {
	v, ok := attrs[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}

// Package matcher matches warning areas against monitored locations.
// Pure functions with no I/O.
package matcher

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"bmkg_alert/internal/bmkg"
	"bmkg_alert/internal/model"
)

// Result pairs a monitored location with how a warning matched it.
type Result struct {
	Location    model.Location
	Type        model.MatchType
	MatchedText string
}

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize lowercases s, trims surrounding whitespace, and strips
// diacritics, so "Wiradésa" compares equal to "wiradesa".
func Normalize(s string) string {
	out, _, err := transform.String(stripMarks, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.TrimSpace(out))
}

// Match compares a warning's affected areas against the monitored
// locations and returns one Result per matched location, in location
// order. Per location the subdistrict is tried against every area first;
// the district is a coarser fallback. Province-level matching is not
// attempted. Disabled locations never match.
func Match(areas []bmkg.Area, locations []model.Location) []Result {
	var results []Result
	for _, loc := range locations {
		if !loc.Enabled {
			continue
		}
		if res, ok := matchLocation(areas, loc); ok {
			results = append(results, res)
		}
	}
	return results
}

// TrialMatch reports whether a warning concerns a trial subscriber's
// location. Trial registrations carry names but no administrative codes,
// so the subdistrict is looked for in the warning description and the
// district in the area names.
func TrialMatch(w bmkg.Warning, t model.Trial) bool {
	if sub := Normalize(t.SubdistrictName); sub != "" && strings.Contains(Normalize(w.Description), sub) {
		return true
	}
	dist := Normalize(t.DistrictName)
	if dist == "" {
		return false
	}
	for _, area := range w.Areas {
		if strings.Contains(Normalize(area.Name), dist) {
			return true
		}
	}
	return false
}

func matchLocation(areas []bmkg.Area, loc model.Location) (Result, bool) {
	subdistrict := Normalize(loc.SubdistrictName)
	for _, area := range areas {
		if loc.SubdistrictCode != "" && area.Code == loc.SubdistrictCode {
			return Result{Location: loc, Type: model.MatchSubdistrict, MatchedText: loc.SubdistrictName}, true
		}
		if subdistrict != "" && Normalize(area.Name) == subdistrict {
			return Result{Location: loc, Type: model.MatchSubdistrict, MatchedText: loc.SubdistrictName}, true
		}
	}

	district := Normalize(loc.DistrictName)
	for _, area := range areas {
		if loc.DistrictCode != "" && area.Code == loc.DistrictCode {
			return Result{Location: loc, Type: model.MatchDistrictFallback, MatchedText: loc.DistrictName}, true
		}
		if district != "" && strings.Contains(Normalize(area.Name), district) {
			return Result{Location: loc, Type: model.MatchDistrictFallback, MatchedText: loc.DistrictName}, true
		}
	}

	return Result{}, false
}

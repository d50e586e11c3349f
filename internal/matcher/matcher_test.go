package matcher

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"bmkg_alert/internal/bmkg"
	"bmkg_alert/internal/model"
)

func makeLocation(id int64, subdistrict, district string) model.Location {
	return model.Location{
		ID:              id,
		ProvinceCode:    "33",
		ProvinceName:    "Jawa Tengah",
		DistrictCode:    "33.26",
		DistrictName:    district,
		SubdistrictCode: "33.26.09",
		SubdistrictName: subdistrict,
		Enabled:         true,
	}
}

func areas(names ...string) []bmkg.Area {
	out := make([]bmkg.Area, len(names))
	for i, n := range names {
		out[i] = bmkg.Area{Name: n}
	}
	return out
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "Wiradesa", want: "wiradesa"},
		{in: "WIRADESA", want: "wiradesa"},
		{in: "  Wiradesa ", want: "wiradesa"},
		{in: "Wiradésa", want: "wiradesa"},
		{in: "Kab. Pekalongan", want: "kab. pekalongan"},
		{in: "", want: ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSubdistrictMatch(t *testing.T) {
	tests := []struct {
		name     string
		areas    []bmkg.Area
		location model.Location
		want     int
		wantType model.MatchType
	}{
		{
			name:     "exact area name",
			areas:    areas("Wiradesa", "Tirto"),
			location: makeLocation(1, "Wiradesa", "Kab. Pekalongan"),
			want:     1,
			wantType: model.MatchSubdistrict,
		},
		{
			name:     "case insensitive",
			areas:    areas("WIRADESA"),
			location: makeLocation(1, "wiradesa", "Kab. Pekalongan"),
			want:     1,
			wantType: model.MatchSubdistrict,
		},
		{
			name:     "diacritics normalized",
			areas:    areas("Wiradésa"),
			location: makeLocation(1, "Wiradesa", "Kab. Pekalongan"),
			want:     1,
			wantType: model.MatchSubdistrict,
		},
		{
			name:     "no match",
			areas:    areas("Gambir", "Tanah Abang"),
			location: makeLocation(1, "Wiradesa", "Kab. Pekalongan"),
			want:     0,
		},
		{
			name:  "disabled location skipped",
			areas: areas("Wiradesa"),
			location: func() model.Location {
				loc := makeLocation(1, "Wiradesa", "Kab. Pekalongan")
				loc.Enabled = false
				return loc
			}(),
			want: 0,
		},
		{
			name:     "matched by administrative code",
			areas:    []bmkg.Area{{Name: "Some Renamed Area", Code: "33.26.09"}},
			location: makeLocation(1, "Wiradesa", "Kab. Pekalongan"),
			want:     1,
			wantType: model.MatchSubdistrict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := Match(tt.areas, []model.Location{tt.location})
			if len(results) != tt.want {
				t.Fatalf("expected %d results, got %d", tt.want, len(results))
			}
			if tt.want == 1 {
				if results[0].Type != tt.wantType {
					t.Errorf("expected match type %s, got %s", tt.wantType, results[0].Type)
				}
				if results[0].MatchedText != tt.location.SubdistrictName {
					t.Errorf("expected matched text %q, got %q", tt.location.SubdistrictName, results[0].MatchedText)
				}
			}
		})
	}
}

func TestDistrictFallback(t *testing.T) {
	loc := makeLocation(1, "Wiradesa", "Pekalongan")

	t.Run("district name within area name", func(t *testing.T) {
		results := Match(areas("Kab. Pekalongan"), []model.Location{loc})
		if len(results) != 1 {
			t.Fatalf("expected 1 result, got %d", len(results))
		}
		if results[0].Type != model.MatchDistrictFallback {
			t.Errorf("expected district-fallback, got %s", results[0].Type)
		}
		if results[0].MatchedText != "Pekalongan" {
			t.Errorf("expected matched text Pekalongan, got %q", results[0].MatchedText)
		}
	})

	t.Run("subdistrict takes priority", func(t *testing.T) {
		results := Match(areas("Kab. Pekalongan", "Wiradesa"), []model.Location{loc})
		if len(results) != 1 {
			t.Fatalf("expected 1 result, got %d", len(results))
		}
		if results[0].Type != model.MatchSubdistrict {
			t.Errorf("expected subdistrict priority, got %s", results[0].Type)
		}
	})

	t.Run("district by administrative code", func(t *testing.T) {
		results := Match([]bmkg.Area{{Name: "Pekalongan Raya", Code: "33.26"}}, []model.Location{loc})
		if len(results) != 1 {
			t.Fatalf("expected 1 result, got %d", len(results))
		}
		if results[0].Type != model.MatchDistrictFallback {
			t.Errorf("expected district-fallback, got %s", results[0].Type)
		}
	})

	t.Run("province level is not matched", func(t *testing.T) {
		results := Match(areas("Jawa Tengah"), []model.Location{loc})
		if len(results) != 0 {
			t.Fatalf("expected no province match, got %d", len(results))
		}
	})
}

func TestMatchMultipleLocations(t *testing.T) {
	warningAreas := areas("Wiradesa", "Tirto", "Buaran")

	locations := []model.Location{
		makeLocation(1, "Wiradesa", "Kab. Pekalongan"),
		makeLocation(2, "Tirto", "Kab. Pekalongan"),
		makeLocation(3, "Cibinong", "Kab. Bogor"),
	}

	results := Match(warningAreas, locations)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Location.ID != 1 || results[1].Location.ID != 2 {
		t.Errorf("expected locations 1 and 2 in order, got %d and %d",
			results[0].Location.ID, results[1].Location.ID)
	}
}

func TestMatchSingleResultPerLocation(t *testing.T) {
	// A location referenced by several areas in one warning still yields
	// one result.
	warningAreas := areas("Wiradesa", "Wiradesa", "Kab. Pekalongan")
	loc := makeLocation(1, "Wiradesa", "Pekalongan")

	results := Match(warningAreas, []model.Location{loc})
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
}

func TestMatchDeterministic(t *testing.T) {
	warningAreas := areas("Wiradesa", "Tirto", "Kab. Pekalongan")
	locations := []model.Location{
		makeLocation(1, "Wiradesa", "Pekalongan"),
		makeLocation(2, "Sragi", "Pekalongan"),
		makeLocation(3, "Gambir", "Jakarta Pusat"),
	}

	first := Match(warningAreas, locations)
	second := Match(warningAreas, locations)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("expected deterministic matching (-first +second):\n%s", diff)
	}
	if len(first) != 2 {
		t.Fatalf("expected 2 results, got %d", len(first))
	}
}

func TestTrialMatch(t *testing.T) {
	warning := bmkg.Warning{
		Description: "Waspada potensi hujan lebat di wilayah Wiradesa dan sekitarnya",
		Areas:       areas("Kab. Pekalongan", "Kota Pekalongan"),
	}

	tests := []struct {
		name  string
		trial model.Trial
		want  bool
	}{
		{
			name:  "subdistrict in description",
			trial: model.Trial{SubdistrictName: "Wiradesa", DistrictName: "Kab. Pekalongan"},
			want:  true,
		},
		{
			name:  "case insensitive description match",
			trial: model.Trial{SubdistrictName: "WIRADESA"},
			want:  true,
		},
		{
			name:  "district in area names",
			trial: model.Trial{SubdistrictName: "Sragi", DistrictName: "Pekalongan"},
			want:  true,
		},
		{
			name:  "no match",
			trial: model.Trial{SubdistrictName: "Gambir", DistrictName: "Jakarta Pusat"},
			want:  false,
		},
		{
			name:  "empty trial names",
			trial: model.Trial{},
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TrialMatch(warning, tt.trial); got != tt.want {
				t.Errorf("TrialMatch() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMatchEmptyInputs(t *testing.T) {
	if got := Match(nil, []model.Location{makeLocation(1, "Wiradesa", "Pekalongan")}); len(got) != 0 {
		t.Errorf("expected no results without areas, got %d", len(got))
	}
	if got := Match(areas("Wiradesa"), nil); len(got) != 0 {
		t.Errorf("expected no results without locations, got %d", len(got))
	}
}

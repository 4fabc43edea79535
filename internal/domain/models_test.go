package domain

import "testing"

func TestParseTimeRange(t *testing.T) {
	tests := []struct {
		input     string
		expected  TimeRange
		expectErr bool
	}{
		{input: "short_term", expected: RangeShortTerm},
		{input: "medium_term", expected: RangeMediumTerm},
		{input: "long_term", expected: RangeLongTerm},
		{input: "yearly", expectErr: true},
		{input: "", expectErr: true},
		{input: "Short_Term", expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			r, err := ParseTimeRange(tt.input)
			if tt.expectErr {
				if err == nil {
					t.Fatalf("expected an error for %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if r != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, r)
			}
		})
	}
}

func TestTimeRangeLabel(t *testing.T) {
	tests := []struct {
		r        TimeRange
		expected string
	}{
		{r: RangeShortTerm, expected: "Past Month"},
		{r: RangeMediumTerm, expected: "Past 6 Months"},
		{r: RangeLongTerm, expected: "All Time"},
	}

	for _, tt := range tests {
		if got := tt.r.Label(); got != tt.expected {
			t.Errorf("%s: expected %q, got %q", tt.r, tt.expected, got)
		}
	}
}

func TestTrackAccessors(t *testing.T) {
	track := Track{
		Name:        "One",
		Artists:     []string{"Artist A", "Artist B"},
		AlbumImages: []Image{{URL: "https://i.scdn.co/image/big"}, {URL: "https://i.scdn.co/image/small"}},
	}
	if got := track.PrimaryArtist(); got != "Artist A" {
		t.Errorf("expected first credited artist, got %q", got)
	}
	if got := track.ArtworkURL(); got != "https://i.scdn.co/image/big" {
		t.Errorf("expected primary image, got %q", got)
	}

	bare := Track{Name: "Untitled"}
	if got := bare.PrimaryArtist(); got != "Unknown Artist" {
		t.Errorf("expected fallback artist, got %q", got)
	}
	if got := bare.ArtworkURL(); got != "" {
		t.Errorf("expected empty artwork url, got %q", got)
	}
}

func TestArtistImageURL(t *testing.T) {
	artist := Artist{Name: "Radiohead", Images: []Image{{URL: "https://i.scdn.co/image/a"}}}
	if got := artist.ImageURL(); got != "https://i.scdn.co/image/a" {
		t.Errorf("expected primary image, got %q", got)
	}
	if got := (Artist{}).ImageURL(); got != "" {
		t.Errorf("expected empty image url, got %q", got)
	}
}

package domain

import "fmt"

// TimeRange identifies a listening-statistics time window
type TimeRange string

const (
	// RangeShortTerm covers roughly the past month
	RangeShortTerm TimeRange = "short_term"
	// RangeMediumTerm covers roughly the past six months
	RangeMediumTerm TimeRange = "medium_term"
	// RangeLongTerm covers the full listening history
	RangeLongTerm TimeRange = "long_term"
)

// ParseTimeRange validates a raw range identifier
func ParseTimeRange(s string) (TimeRange, error) {
	switch TimeRange(s) {
	case RangeShortTerm, RangeMediumTerm, RangeLongTerm:
		return TimeRange(s), nil
	}
	return "", fmt.Errorf("unknown time range: %q", s)
}

// Label returns the human-readable name of the range
func (t TimeRange) Label() string {
	switch t {
	case RangeShortTerm:
		return "Past Month"
	case RangeMediumTerm:
		return "Past 6 Months"
	case RangeLongTerm:
		return "All Time"
	}
	return string(t)
}

// Image is a remote artwork reference with its pixel dimensions
type Image struct {
	URL    string
	Width  int
	Height int
}

// Track describes a single track as returned by the listening-data provider
type Track struct {
	ID          string
	URI         string
	Name        string
	Artists     []string
	AlbumName   string
	AlbumImages []Image
	DurationMS  int
	PreviewURL  string
}

// ArtworkURL returns the primary album image, or empty if none is available
func (t Track) ArtworkURL() string {
	if len(t.AlbumImages) == 0 {
		return ""
	}
	return t.AlbumImages[0].URL
}

// PrimaryArtist returns the first credited artist name
func (t Track) PrimaryArtist() string {
	if len(t.Artists) == 0 {
		return "Unknown Artist"
	}
	return t.Artists[0]
}

// Artist describes a single artist as returned by the listening-data provider
type Artist struct {
	ID     string
	URI    string
	Name   string
	Images []Image
	Genres []string
}

// ImageURL returns the primary artist image, or empty if none is available
func (a Artist) ImageURL() string {
	if len(a.Images) == 0 {
		return ""
	}
	return a.Images[0].URL
}

// User is the authenticated listener's public profile
type User struct {
	ID          string
	DisplayName string
}

// PlayerSnapshot is the observable state of the controlled playback device.
// The coordinator is its only writer; subscribers receive copies.
type PlayerSnapshot struct {
	DeviceID     string
	IsReady      bool
	IsActive     bool
	CurrentTrack *Track
	IsPlaying    bool
	PositionMS   int
	DurationMS   int
}

// DeviceEventKind discriminates normalized device events
type DeviceEventKind string

const (
	// DeviceReady indicates a completed device handshake
	DeviceReady DeviceEventKind = "ready"
	// DeviceNotReady indicates the device went offline
	DeviceNotReady DeviceEventKind = "not_ready"
	// DeviceStateChanged carries an authoritative playback state update
	DeviceStateChanged DeviceEventKind = "state_changed"
	// DeviceError carries a vendor error notification
	DeviceError DeviceEventKind = "error"
)

// DeviceErrorKind classifies vendor error events
type DeviceErrorKind string

const (
	ErrorAuthentication DeviceErrorKind = "authentication"
	ErrorAccount        DeviceErrorKind = "account"
	ErrorInitialization DeviceErrorKind = "initialization"
	ErrorPlayback       DeviceErrorKind = "playback"
)

// DeviceEvent is a normalized event emitted by a playback device adapter.
// Vendor callback shapes never cross this boundary.
type DeviceEvent struct {
	Kind     DeviceEventKind
	DeviceID string

	// State fields, populated for DeviceStateChanged
	Track      *Track
	Paused     bool
	PositionMS int
	DurationMS int

	// Error fields, populated for DeviceError
	ErrorKind DeviceErrorKind
	Message   string
}

// ArtistInfo is the structured AI-generated artist panel payload
type ArtistInfo struct {
	Summary      string `json:"summary"`
	Background   string `json:"background"`
	Style        string `json:"style"`
	Achievements string `json:"achievements"`
	FunFact      string `json:"funFact"`
}

// CardRequest is the ephemeral input to a shareable-card render
type CardRequest struct {
	Tracks      []Track
	Artists     []Artist
	Range       TimeRange
	DisplayName string
}

// PreviewSnapshot is the observable state of the preview-only player
type PreviewSnapshot struct {
	TrackID     string
	IsPlaying   bool
	CurrentSec  float64
	DurationSec float64
}

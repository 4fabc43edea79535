package domain

import (
	"context"

	"golang.org/x/oauth2"
)

// Device abstracts the external playback endpoint (the vendor's Connect
// surface). Connect starts event delivery; commands are asynchronous and
// fallible. Implementations must translate vendor shapes into DeviceEvent.
type Device interface {
	// Connect begins the device handshake using the given credential.
	// Calling Connect while already connected is a no-op.
	Connect(ctx context.Context, token *oauth2.Token) error

	// Disconnect stops event delivery and releases the connection
	Disconnect(ctx context.Context) error

	// Events returns a read-only channel of normalized device events
	Events() <-chan DeviceEvent

	// TogglePlay flips the play/pause state on the device
	TogglePlay(ctx context.Context) error

	// Seek moves playback to the given position in milliseconds
	Seek(ctx context.Context, positionMS int) error

	// NextTrack skips forward in the device's queue
	NextTrack(ctx context.Context) error

	// PreviousTrack skips backward in the device's queue
	PreviousTrack(ctx context.Context) error

	// TransferPlayback moves the active playback session to the device
	TransferPlayback(ctx context.Context, deviceID string, play bool) error

	// PlayURIs starts playback of the given track URIs on the device
	PlayURIs(ctx context.Context, deviceID string, uris []string) error
}

// ImageResolver fetches remote artwork through the allow-listed proxy.
// Used by the card compositor to avoid tainting the drawing surface with
// arbitrary origins.
type ImageResolver interface {
	// Resolve returns the raw image bytes for the given URL
	Resolve(ctx context.Context, url string) ([]byte, error)

	// ResolveDataURL returns the image as an embeddable base64 data URL
	ResolveDataURL(ctx context.Context, url string) (string, error)
}

// StatsProvider supplies ranked listening data for the authenticated user
type StatsProvider interface {
	CurrentUser(ctx context.Context) (User, error)
	TopTracks(ctx context.Context, r TimeRange, limit int) ([]Track, error)
	TopArtists(ctx context.Context, r TimeRange, limit int) ([]Artist, error)
	RecentlyPlayed(ctx context.Context, limit int) ([]Track, error)
}

// ArtistInfoProvider returns the AI-generated artist panel for a name.
// The bool reports whether the payload was served from cache.
type ArtistInfoProvider interface {
	ArtistInfo(ctx context.Context, name string) (ArtistInfo, bool, error)
}

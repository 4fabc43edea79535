// Package spotify maps the vendor Web API listening-data surface into the
// domain StatsProvider. Vendor page and track shapes never leave this
// package.
package spotify

import (
	"context"
	"errors"
	"fmt"

	"github.com/melodyhq/melody/internal/domain"
	"github.com/zmb3/spotify/v2"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const defaultLimit = 10

// API is the slice of the vendor client the stats provider needs
type API interface {
	CurrentUser(ctx context.Context) (*spotify.PrivateUser, error)
	CurrentUsersTopTracks(ctx context.Context, opts ...spotify.RequestOption) (*spotify.FullTrackPage, error)
	CurrentUsersTopArtists(ctx context.Context, opts ...spotify.RequestOption) (*spotify.FullArtistPage, error)
	PlayerRecentlyPlayedOpt(ctx context.Context, opt *spotify.RecentlyPlayedOptions) ([]spotify.RecentlyPlayedItem, error)
}

// Factory builds an authenticated vendor client for a credential
type Factory func(token *oauth2.Token) API

// Stats implements domain.StatsProvider over the vendor Web API
type Stats struct {
	logger *zap.Logger
	api    API
}

// NewStats wraps an authenticated vendor client
func NewStats(logger *zap.Logger, api API) *Stats {
	return &Stats{logger: logger, api: api}
}

// CurrentUser returns the authenticated listener's profile
func (s *Stats) CurrentUser(ctx context.Context) (domain.User, error) {
	u, err := s.api.CurrentUser(ctx)
	if err != nil {
		return domain.User{}, fmt.Errorf("stats: current user: %w", err)
	}
	name := u.DisplayName
	if name == "" {
		name = u.ID
	}
	return domain.User{ID: u.ID, DisplayName: name}, nil
}

// TopTracks returns the user's most-played tracks for the range
func (s *Stats) TopTracks(ctx context.Context, r domain.TimeRange, limit int) ([]domain.Track, error) {
	rng, err := vendorRange(r)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultLimit
	}

	page, err := s.api.CurrentUsersTopTracks(ctx, spotify.Limit(limit), spotify.Timerange(rng))
	if err != nil {
		return nil, fmt.Errorf("stats: top tracks: %w", err)
	}

	tracks := make([]domain.Track, 0, len(page.Tracks))
	for i := range page.Tracks {
		tracks = append(tracks, trackToDomain(&page.Tracks[i]))
	}
	s.logger.Debug("Fetched top tracks",
		zap.String("range", string(r)), zap.Int("count", len(tracks)))
	return tracks, nil
}

// TopArtists returns the user's most-played artists for the range
func (s *Stats) TopArtists(ctx context.Context, r domain.TimeRange, limit int) ([]domain.Artist, error) {
	rng, err := vendorRange(r)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultLimit
	}

	page, err := s.api.CurrentUsersTopArtists(ctx, spotify.Limit(limit), spotify.Timerange(rng))
	if err != nil {
		return nil, fmt.Errorf("stats: top artists: %w", err)
	}

	artists := make([]domain.Artist, 0, len(page.Artists))
	for i := range page.Artists {
		artists = append(artists, artistToDomain(&page.Artists[i]))
	}
	s.logger.Debug("Fetched top artists",
		zap.String("range", string(r)), zap.Int("count", len(artists)))
	return artists, nil
}

// RecentlyPlayed returns the user's newest playback history entries
func (s *Stats) RecentlyPlayed(ctx context.Context, limit int) ([]domain.Track, error) {
	if limit <= 0 {
		limit = defaultLimit
	}

	items, err := s.api.PlayerRecentlyPlayedOpt(ctx, &spotify.RecentlyPlayedOptions{Limit: spotify.Numeric(limit)})
	if err != nil {
		return nil, fmt.Errorf("stats: recently played: %w", err)
	}

	tracks := make([]domain.Track, 0, len(items))
	for i := range items {
		tracks = append(tracks, simpleTrackToDomain(&items[i].Track))
	}
	return tracks, nil
}

func vendorRange(r domain.TimeRange) (spotify.Range, error) {
	switch r {
	case domain.RangeShortTerm:
		return spotify.ShortTermRange, nil
	case domain.RangeMediumTerm:
		return spotify.MediumTermRange, nil
	case domain.RangeLongTerm:
		return spotify.LongTermRange, nil
	}
	return "", errors.New("stats: unknown time range " + string(r))
}

func trackToDomain(t *spotify.FullTrack) domain.Track {
	track := simpleTrackToDomain(&t.SimpleTrack)
	track.AlbumName = t.Album.Name
	track.AlbumImages = imagesToDomain(t.Album.Images)
	return track
}

func simpleTrackToDomain(t *spotify.SimpleTrack) domain.Track {
	artists := make([]string, 0, len(t.Artists))
	for _, a := range t.Artists {
		artists = append(artists, a.Name)
	}
	return domain.Track{
		ID:          string(t.ID),
		URI:         string(t.URI),
		Name:        t.Name,
		Artists:     artists,
		AlbumName:   t.Album.Name,
		AlbumImages: imagesToDomain(t.Album.Images),
		DurationMS:  int(t.Duration),
		PreviewURL:  t.PreviewURL,
	}
}

func artistToDomain(a *spotify.FullArtist) domain.Artist {
	return domain.Artist{
		ID:     string(a.ID),
		URI:    string(a.URI),
		Name:   a.Name,
		Images: imagesToDomain(a.Images),
		Genres: a.Genres,
	}
}

func imagesToDomain(images []spotify.Image) []domain.Image {
	out := make([]domain.Image, 0, len(images))
	for _, img := range images {
		out = append(out, domain.Image{
			URL:    img.URL,
			Width:  int(img.Width),
			Height: int(img.Height),
		})
	}
	return out
}

var _ domain.StatsProvider = (*Stats)(nil)
var _ API = (*spotify.Client)(nil)

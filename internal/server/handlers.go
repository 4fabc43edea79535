package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/melodyhq/melody/internal/artistinfo"
	"github.com/melodyhq/melody/internal/auth"
	"github.com/melodyhq/melody/internal/domain"
	"github.com/melodyhq/melody/internal/fetcher"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	defaultListLimit = 10
	maxListLimit     = 50
)

type trackJSON struct {
	ID         string   `json:"id"`
	URI        string   `json:"uri"`
	Name       string   `json:"name"`
	Artists    []string `json:"artists"`
	Album      string   `json:"album"`
	AlbumArt   string   `json:"albumArt,omitempty"`
	DurationMS int      `json:"durationMs"`
	PreviewURL string   `json:"previewUrl,omitempty"`
}

type artistJSON struct {
	ID     string   `json:"id"`
	URI    string   `json:"uri"`
	Name   string   `json:"name"`
	Image  string   `json:"image,omitempty"`
	Genres []string `json:"genres,omitempty"`
}

func trackToJSON(t domain.Track) trackJSON {
	return trackJSON{
		ID:         t.ID,
		URI:        t.URI,
		Name:       t.Name,
		Artists:    t.Artists,
		Album:      t.AlbumName,
		AlbumArt:   t.ArtworkURL(),
		DurationMS: t.DurationMS,
		PreviewURL: t.PreviewURL,
	}
}

func artistToJSON(a domain.Artist) artistJSON {
	return artistJSON{
		ID:     a.ID,
		URI:    a.URI,
		Name:   a.Name,
		Image:  a.ImageURL(),
		Genres: a.Genres,
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLogin(c echo.Context) error {
	return c.Redirect(http.StatusFound, s.sessions.BeginLogin())
}

func (s *Server) handleCallback(c echo.Context) error {
	if denied := c.QueryParam("error"); denied != "" {
		s.logger.Warn("Consent denied", zap.String("error", denied))
		return c.Redirect(http.StatusFound, "/?error=access_denied")
	}

	state := c.QueryParam("state")
	sessionID, err := s.sessions.CompleteLogin(c.Request().Context(), state, c.Request())
	if errors.Is(err, auth.ErrStateMismatch) {
		return echo.NewHTTPError(http.StatusForbidden, "state mismatch")
	}
	if err != nil {
		s.logger.Error("Token exchange failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "token exchange failed")
	}

	c.SetCookie(&http.Cookie{
		Name:     auth.SessionCookie,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	if s.cfg.EnablePlayback && s.player != nil {
		if token, err := s.sessions.Token(sessionID); err == nil {
			// The coordinator owns its own lifetime, not this request
			s.player.Initialize(context.Background(), token)
		}
	}

	return c.Redirect(http.StatusFound, "/")
}

// token resolves the session cookie or fails the request with 401
func (s *Server) token(c echo.Context) (*oauth2.Token, error) {
	token, err := s.sessions.TokenFromRequest(c.Request())
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	return token, nil
}

func (s *Server) handleMe(c echo.Context) error {
	token, err := s.token(c)
	if err != nil {
		return err
	}

	user, err := s.stats(c.Request().Context(), token).CurrentUser(c.Request().Context())
	if err != nil {
		s.logger.Error("Profile fetch failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "profile fetch failed")
	}
	return c.JSON(http.StatusOK, map[string]string{
		"id":          user.ID,
		"displayName": user.DisplayName,
	})
}

func listParams(c echo.Context) (domain.TimeRange, int, error) {
	raw := c.QueryParam("range")
	if raw == "" {
		raw = string(domain.RangeShortTerm)
	}
	r, err := domain.ParseTimeRange(raw)
	if err != nil {
		return "", 0, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	limit := defaultListLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxListLimit {
			return "", 0, echo.NewHTTPError(http.StatusBadRequest, "limit must be 1..50")
		}
		limit = n
	}
	return r, limit, nil
}

func (s *Server) handleTopTracks(c echo.Context) error {
	token, err := s.token(c)
	if err != nil {
		return err
	}
	r, limit, err := listParams(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	tracks, err := s.stats(ctx, token).TopTracks(ctx, r, limit)
	if err != nil {
		s.logger.Error("Top tracks fetch failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "top tracks fetch failed")
	}

	out := make([]trackJSON, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, trackToJSON(t))
	}
	return c.JSON(http.StatusOK, map[string]any{"range": r, "tracks": out})
}

func (s *Server) handleTopArtists(c echo.Context) error {
	token, err := s.token(c)
	if err != nil {
		return err
	}
	r, limit, err := listParams(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	artists, err := s.stats(ctx, token).TopArtists(ctx, r, limit)
	if err != nil {
		s.logger.Error("Top artists fetch failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "top artists fetch failed")
	}

	out := make([]artistJSON, 0, len(artists))
	for _, a := range artists {
		out = append(out, artistToJSON(a))
	}
	return c.JSON(http.StatusOK, map[string]any{"range": r, "artists": out})
}

func (s *Server) handleRecentlyPlayed(c echo.Context) error {
	token, err := s.token(c)
	if err != nil {
		return err
	}

	limit := defaultListLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxListLimit {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be 1..50")
		}
		limit = n
	}

	ctx := c.Request().Context()
	tracks, err := s.stats(ctx, token).RecentlyPlayed(ctx, limit)
	if err != nil {
		s.logger.Error("Recently played fetch failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "recently played fetch failed")
	}

	out := make([]trackJSON, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, trackToJSON(t))
	}
	return c.JSON(http.StatusOK, map[string]any{"tracks": out})
}

func (s *Server) handleProxyImage(c echo.Context) error {
	rawURL := c.QueryParam("url")
	if rawURL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "url parameter required")
	}

	ctx := c.Request().Context()
	if c.QueryParam("format") == "base64" {
		dataURL, err := s.proxy.ResolveDataURL(ctx, rawURL)
		if err != nil {
			return proxyError(err)
		}
		c.Response().Header().Set("Cache-Control", "public, max-age=86400")
		return c.JSON(http.StatusOK, map[string]string{"dataUrl": dataURL})
	}

	data, err := s.proxy.Resolve(ctx, rawURL)
	if err != nil {
		return proxyError(err)
	}
	c.Response().Header().Set("Cache-Control", "public, max-age=86400")
	contentType := s.proxy.ContentType(rawURL)
	if contentType == "" {
		contentType = "image/jpeg"
	}
	return c.Blob(http.StatusOK, contentType, data)
}

func proxyError(err error) error {
	if errors.Is(err, fetcher.ErrHostNotAllowed) {
		return echo.NewHTTPError(http.StatusForbidden, "host not allowed")
	}
	return echo.NewHTTPError(http.StatusBadGateway, "image fetch failed")
}

func (s *Server) handleArtistInfo(c echo.Context) error {
	var req struct {
		ArtistName string `json:"artistName"`
	}
	if err := c.Bind(&req); err != nil || req.ArtistName == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "artistName required")
	}

	info, cached, err := s.artistInfo.ArtistInfo(c.Request().Context(), req.ArtistName)
	if errors.Is(err, artistinfo.ErrNoAPIKey) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "artist info not configured")
	}
	if err != nil {
		s.logger.Error("Artist info fetch failed",
			zap.String("artist", req.ArtistName), zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "artist info fetch failed")
	}

	return c.JSON(http.StatusOK, struct {
		domain.ArtistInfo
		Cached bool `json:"cached"`
	}{ArtistInfo: info, Cached: cached})
}

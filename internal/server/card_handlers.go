package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/melodyhq/melody/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Cards show the top five of each list
const cardItemCount = 5

func cardRange(c echo.Context) (domain.TimeRange, error) {
	r, err := domain.ParseTimeRange(c.Param("range"))
	if err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return r, nil
}

// handleCardRender gathers the user's top lists and renders the shareable
// card for the range. Repeat calls for an unchanged range hit the artifact
// cache inside the compositor.
func (s *Server) handleCardRender(c echo.Context) error {
	token, err := s.token(c)
	if err != nil {
		return err
	}
	r, err := cardRange(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	stats := s.stats(ctx, token)

	var (
		user    domain.User
		tracks  []domain.Track
		artists []domain.Artist
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		user, err = stats.CurrentUser(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		tracks, err = stats.TopTracks(gctx, r, cardItemCount)
		return err
	})
	g.Go(func() error {
		var err error
		artists, err = stats.TopArtists(gctx, r, cardItemCount)
		return err
	})
	if err := g.Wait(); err != nil {
		s.logger.Error("Card data fetch failed",
			zap.String("range", string(r)), zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "stats fetch failed")
	}

	artifact, err := s.cards.Render(ctx, domain.CardRequest{
		Tracks:      tracks,
		Artists:     artists,
		Range:       r,
		DisplayName: user.DisplayName,
	})
	if err != nil {
		s.logger.Error("Card render failed",
			zap.String("range", string(r)), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "card render failed")
	}

	return c.JSON(http.StatusOK, map[string]string{
		"filename": artifact.Filename(),
		"dataUrl":  artifact.DataURL(),
	})
}

func (s *Server) handleCardDownload(c echo.Context) error {
	r, err := cardRange(c)
	if err != nil {
		return err
	}

	artifact, ok := s.cards.Cached(r)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "card not rendered yet")
	}

	c.Response().Header().Set(echo.HeaderContentDisposition,
		`attachment; filename="`+artifact.Filename()+`"`)
	return c.Blob(http.StatusOK, "image/png", artifact.PNG)
}

func (s *Server) handleCardShare(c echo.Context) error {
	r, err := cardRange(c)
	if err != nil {
		return err
	}

	artifact, ok := s.cards.Cached(r)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "card not rendered yet")
	}

	target, err := s.deliverer.Deliver(c.Request().Context(), artifact)
	if err != nil {
		s.logger.Error("Card delivery failed",
			zap.String("range", string(r)), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "all delivery targets failed")
	}
	return c.JSON(http.StatusOK, map[string]string{"target": target})
}

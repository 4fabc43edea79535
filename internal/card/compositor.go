// Package card renders the shareable taste-summary image. The pipeline is
// strictly ordered: background, branding, artwork resolution, row
// composition, footer, PNG export. Artwork failures never abort a render;
// the affected row falls back to a deterministic placeholder.
package card

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"math/rand"
	"path/filepath"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/melodyhq/melody/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	maxItems            = 5
	defaultFetchTimeout = 10 * time.Second
	noiseSeed           = 0x6d656c // stable texture across renders
)

type faces struct {
	title       font.Face
	rangeLabel  font.Face
	section     font.Face
	rank        font.Face
	trackName   font.Face
	trackArtist font.Face
	artistName  font.Face
	footer      font.Face
}

// Compositor renders and caches card artifacts. At most one render is in
// flight per range label; duplicate requests share the same computation.
type Compositor struct {
	logger       *zap.Logger
	resolver     domain.ImageResolver
	assetsDir    string
	fetchTimeout time.Duration
	faces        faces

	mu        sync.RWMutex
	artifacts map[domain.TimeRange]*Artifact
	group     singleflight.Group
}

// NewCompositor creates a card compositor. It fails only if the embedded
// fonts cannot be parsed, which would make every render impossible.
func NewCompositor(logger *zap.Logger, resolver domain.ImageResolver, assetsDir string) (*Compositor, error) {
	f, err := loadFaces()
	if err != nil {
		return nil, fmt.Errorf("failed to prepare card fonts: %w", err)
	}
	return &Compositor{
		logger:       logger,
		resolver:     resolver,
		assetsDir:    assetsDir,
		fetchTimeout: defaultFetchTimeout,
		faces:        f,
		artifacts:    make(map[domain.TimeRange]*Artifact),
	}, nil
}

// Render produces the card artifact for the request. A cached artifact for
// the same range is returned as-is; callers supply new data via Invalidate
// when the underlying ranking changes.
func (c *Compositor) Render(ctx context.Context, req domain.CardRequest) (*Artifact, error) {
	if a, ok := c.Cached(req.Range); ok {
		return a, nil
	}

	v, err, _ := c.group.Do(string(req.Range), func() (interface{}, error) {
		if a, ok := c.Cached(req.Range); ok {
			return a, nil
		}

		// The render is shared with any duplicate callers, so it must not
		// die with the first requester. An abandoned render completes and
		// its artifact is simply discarded by the disconnected client.
		a, err := c.render(context.WithoutCancel(ctx), req)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.artifacts[req.Range] = a
		c.mu.Unlock()
		return a, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Artifact), nil
}

// Cached returns the artifact for a range if one has been rendered
func (c *Compositor) Cached(r domain.TimeRange) (*Artifact, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.artifacts[r]
	return a, ok
}

// Invalidate drops the cached artifact for a range
func (c *Compositor) Invalidate(r domain.TimeRange) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.artifacts, r)
}

func (c *Compositor) render(ctx context.Context, req domain.CardRequest) (*Artifact, error) {
	tracks := req.Tracks
	if len(tracks) > maxItems {
		tracks = tracks[:maxItems]
	}
	artists := req.Artists
	if len(artists) > maxItems {
		artists = artists[:maxItems]
	}

	c.logger.Info("Rendering card",
		zap.String("range", string(req.Range)),
		zap.Int("tracks", len(tracks)),
		zap.Int("artists", len(artists)))

	// Resolve artwork for both sections before any row is drawn. Each item
	// is isolated: a failed or timed-out fetch leaves a nil slot.
	trackArt := c.resolveArtwork(ctx, trackURLs(tracks))
	artistArt := c.resolveArtwork(ctx, artistURLs(artists))

	dc := gg.NewContext(cardWidth, cardHeight)

	c.paintBackground(dc)
	c.paintBranding(dc, req.Range)
	c.paintSection(dc, "Top Songs", tracksStartY)
	for i, t := range tracks {
		c.paintTrackRow(dc, i, t, trackArt[i])
	}
	c.paintSection(dc, "Top Artists", artistsStartY)
	for i, a := range artists {
		c.paintArtistRow(dc, i, a, artistArt[i])
	}
	if req.DisplayName != "" {
		c.paintFooter(dc, req.DisplayName)
	}

	buf := new(bytes.Buffer)
	if err := png.Encode(buf, dc.Image()); err != nil {
		return nil, fmt.Errorf("failed to encode card: %w", err)
	}

	return &Artifact{
		Range:     req.Range,
		PNG:       buf.Bytes(),
		CreatedAt: time.Now(),
	}, nil
}

func trackURLs(tracks []domain.Track) []string {
	urls := make([]string, len(tracks))
	for i, t := range tracks {
		urls[i] = t.ArtworkURL()
	}
	return urls
}

func artistURLs(artists []domain.Artist) []string {
	urls := make([]string, len(artists))
	for i, a := range artists {
		urls[i] = a.ImageURL()
	}
	return urls
}

// resolveArtwork fetches every URL concurrently through the proxy and
// returns a slot per item, nil where resolution failed.
func (c *Compositor) resolveArtwork(ctx context.Context, urls []string) []image.Image {
	images := make([]image.Image, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	for i, u := range urls {
		if u == "" {
			continue
		}
		i, u := i, u
		g.Go(func() error {
			fetchCtx, cancel := context.WithTimeout(gctx, c.fetchTimeout)
			defer cancel()

			data, err := c.resolver.Resolve(fetchCtx, u)
			if err != nil {
				c.logger.Warn("Artwork resolution failed, using placeholder",
					zap.Int("item", i), zap.Error(err))
				return nil
			}

			img, err := imaging.Decode(bytes.NewReader(data))
			if err != nil {
				c.logger.Warn("Artwork decode failed, using placeholder",
					zap.Int("item", i), zap.Error(err))
				return nil
			}

			images[i] = imaging.Fill(img, artworkSize, artworkSize, imaging.Center, imaging.Lanczos)
			return nil
		})
	}
	_ = g.Wait() // item errors never propagate

	return images
}

func (c *Compositor) paintBackground(dc *gg.Context) {
	grad := gg.NewLinearGradient(0, 0, cardWidth, cardHeight)
	grad.AddColorStop(0, hexColor("#1a1a2e"))
	grad.AddColorStop(0.5, hexColor("#16213e"))
	grad.AddColorStop(1, hexColor("#0f3460"))
	dc.SetFillStyle(grad)
	dc.DrawRectangle(0, 0, cardWidth, cardHeight)
	dc.Fill()

	// Subtle texture overlay. Seeded so repeated renders look identical.
	rng := rand.New(rand.NewSource(noiseSeed))
	dc.SetRGBA(1, 1, 1, 0.02)
	for x := 0; x < cardWidth; x += 4 {
		for y := 0; y < cardHeight; y += 4 {
			if rng.Float64() > 0.5 {
				dc.DrawRectangle(float64(x), float64(y), 2, 2)
			}
		}
	}
	dc.Fill()
}

func (c *Compositor) paintBranding(dc *gg.Context, r domain.TimeRange) {
	dc.SetRGBA(0, 0, 0, 0.3)
	dc.DrawRectangle(0, 0, cardWidth, headerHeight)
	dc.Fill()

	logoPath := filepath.Join(c.assetsDir, "melody.png")
	if logo, err := gg.LoadImage(logoPath); err != nil {
		c.logger.Warn("Could not load logo, rendering without it",
			zap.String("path", logoPath), zap.Error(err))
	} else {
		scaled := imaging.Resize(logo, logoSize, logoSize, imaging.Lanczos)
		dc.DrawImage(scaled, cardWidth/2-logoSize/2, 50)
	}

	dc.SetFontFace(c.faces.title)
	dc.SetHexColor("#FFFFFF")
	dc.DrawStringAnchored("Melody", cardWidth/2, 220, 0.5, 0)

	dc.SetFontFace(c.faces.rangeLabel)
	dc.SetHexColor("#1DB954")
	dc.DrawStringAnchored(r.Label(), cardWidth/2, 270, 0.5, 0)
}

func (c *Compositor) paintSection(dc *gg.Context, title string, startY float64) {
	dc.SetRGBA(1, 1, 1, 0.06)
	dc.DrawRoundedRectangle(sectionX, startY, cardWidth-2*sectionX, sectionHeight, sectionR)
	dc.Fill()

	dc.SetFontFace(c.faces.section)
	dc.SetHexColor("#FFFFFF")
	dc.DrawStringAnchored(title, cardWidth/2, startY+70, 0.5, 0)
}

func (c *Compositor) paintTrackRow(dc *gg.Context, i int, t domain.Track, art image.Image) {
	y := float64(tracksStartY+itemOffsetY) + float64(i*itemHeight)

	c.paintRowChrome(dc, i, y)
	c.paintArtwork(dc, i, y, art, trackPalette, drawNoteGlyph)

	dc.SetFontFace(c.faces.trackName)
	dc.SetHexColor("#FFFFFF")
	dc.DrawString(truncate(t.Name, trackTitleBudget), textX, y+35)

	dc.SetFontFace(c.faces.trackArtist)
	dc.SetHexColor("#B3B3B3")
	dc.DrawString(truncate(t.PrimaryArtist(), trackArtistBudget), textX, y+75)
}

func (c *Compositor) paintArtistRow(dc *gg.Context, i int, a domain.Artist, art image.Image) {
	y := float64(artistsStartY+itemOffsetY) + float64(i*itemHeight)

	c.paintRowChrome(dc, i, y)
	c.paintArtwork(dc, i, y, art, artistPalette, drawPersonGlyph)

	dc.SetFontFace(c.faces.artistName)
	dc.SetHexColor("#FFFFFF")
	dc.DrawString(truncate(a.Name, artistNameBudget), textX, y+artworkSize/2+18)
}

// paintRowChrome draws the alternating readability band and the rank index
func (c *Compositor) paintRowChrome(dc *gg.Context, i int, y float64) {
	if i%2 == 1 {
		dc.SetRGBA(1, 1, 1, 0.03)
		dc.DrawRectangle(60, y-10, cardWidth-120, itemHeight-20)
		dc.Fill()
	}

	dc.SetFontFace(c.faces.rank)
	dc.SetHexColor("#FFFFFF")
	dc.DrawStringAnchored(fmt.Sprintf("%d", i+1), rankX, y+artworkSize/2+16, 0.5, 0)
}

// paintArtwork draws the resolved image clipped to rounded corners, or the
// deterministic placeholder for the item index.
func (c *Compositor) paintArtwork(dc *gg.Context, i int, y float64, art image.Image, palette []string, glyph func(*gg.Context, float64, float64)) {
	if art != nil {
		dc.DrawRoundedRectangle(artworkX, y, artworkSize, artworkSize, cornerRadius)
		dc.Clip()
		dc.DrawImage(art, artworkX, int(y))
		dc.ResetClip()
		return
	}

	dc.SetHexColor(palette[i%len(palette)])
	dc.DrawRoundedRectangle(artworkX, y, artworkSize, artworkSize, cornerRadius)
	dc.Fill()
	glyph(dc, artworkX+artworkSize/2, y+artworkSize/2)
}

func (c *Compositor) paintFooter(dc *gg.Context, name string) {
	dc.SetFontFace(c.faces.footer)
	dc.SetRGBA(1, 1, 1, 0.6)
	dc.DrawStringAnchored(fmt.Sprintf("%s's Music Wrapped", name), cardWidth/2, cardHeight-60, 0.5, 0)
}

func loadFaces() (faces, error) {
	bold, err := opentype.Parse(gobold.TTF)
	if err != nil {
		return faces{}, fmt.Errorf("parse bold font: %w", err)
	}
	regular, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return faces{}, fmt.Errorf("parse regular font: %w", err)
	}

	newFace := func(f *opentype.Font, size float64) (font.Face, error) {
		return opentype.NewFace(f, &opentype.FaceOptions{
			Size:    size,
			DPI:     72,
			Hinting: font.HintingFull,
		})
	}

	var fs faces
	specs := []struct {
		dst  *font.Face
		src  *opentype.Font
		size float64
	}{
		{&fs.title, bold, 72},
		{&fs.rangeLabel, bold, 40},
		{&fs.section, bold, 58},
		{&fs.rank, bold, 48},
		{&fs.trackName, bold, 42},
		{&fs.trackArtist, regular, 34},
		{&fs.artistName, bold, 48},
		{&fs.footer, regular, 32},
	}
	for _, s := range specs {
		face, err := newFace(s.src, s.size)
		if err != nil {
			return faces{}, fmt.Errorf("build font face: %w", err)
		}
		*s.dst = face
	}
	return fs, nil
}

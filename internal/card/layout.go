package card

import (
	"image/color"

	"github.com/fogleman/gg"
)

// Card geometry. The surface is a fixed 9:16 story format; a different
// aspect ratio would be a separate render, not a resize.
const (
	cardWidth  = 1080
	cardHeight = 1920

	headerHeight = 300
	logoSize     = 100

	sectionX      = 40
	sectionHeight = 700
	tracksStartY  = 340
	artistsStartY = tracksStartY + sectionHeight + 40

	itemHeight  = 120
	itemOffsetY = 100
	rankX       = 100
	artworkX    = 140
	artworkSize = 70
	textX       = 250

	cornerRadius = 16
	sectionR     = 20
)

// Per-field character budgets for truncation
const (
	trackTitleBudget  = 22
	trackArtistBudget = 26
	artistNameBudget  = 20
)

// Placeholder palettes, indexed by item position
var (
	trackPalette  = []string{"#FF6B6B", "#4ECDC4", "#45B7D1", "#96CEB4", "#FFEAA7"}
	artistPalette = []string{"#FF9FF3", "#54A0FF", "#5F27CD", "#00D2D3", "#FF9F43"}
)

// truncate cuts s to its first budget runes with a trailing ellipsis.
// Strings at or under budget are returned verbatim.
func truncate(s string, budget int) string {
	runes := []rune(s)
	if len(runes) <= budget {
		return s
	}
	return string(runes[:budget]) + "..."
}

// hexColor parses a #RRGGBB string into an opaque color
func hexColor(s string) color.RGBA {
	var r, g, b uint8
	if len(s) == 7 && s[0] == '#' {
		r = hexByte(s[1], s[2])
		g = hexByte(s[3], s[4])
		b = hexByte(s[5], s[6])
	}
	return color.RGBA{R: r, G: g, B: b, A: 0xff}
}

func hexByte(hi, lo byte) uint8 {
	return hexNibble(hi)<<4 | hexNibble(lo)
}

func hexNibble(c byte) uint8 {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	}
	return 0
}

// drawNoteGlyph paints the track placeholder glyph centered on (x, y)
func drawNoteGlyph(dc *gg.Context, x, y float64) {
	dc.SetRGBA(1, 1, 1, 0.8)
	dc.DrawCircle(x-6, y+12, 8)
	dc.Fill()
	dc.SetLineWidth(4)
	dc.DrawLine(x+2, y+12, x+2, y-14)
	dc.Stroke()
	dc.DrawLine(x+2, y-14, x+14, y-10)
	dc.Stroke()
}

// drawPersonGlyph paints the artist placeholder glyph centered on (x, y)
func drawPersonGlyph(dc *gg.Context, x, y float64) {
	dc.SetRGBA(1, 1, 1, 0.8)
	dc.DrawCircle(x, y-8, 9)
	dc.Fill()
	dc.DrawArc(x, y+20, 16, gg.Radians(180), gg.Radians(360))
	dc.Fill()
}

// Package evidence renders the composite image kept as the record of a worksheet
// submission: the worksheet background with the student's work drawn over it.
package evidence

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"math"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/pavelanni/escuela/internal/model"
)

const (
	defaultWidth  = 800
	defaultHeight = 600
	markRadius    = 4

	// MaxSide bounds each side of the canvas in pixels.
	MaxSide = 4096
	// maxSourcePixels bounds backgrounds before they are decoded.
	maxSourcePixels = 25_000_000
)

var (
	markColor      = color.NRGBA{R: 220, G: 38, B: 38, A: 255}
	selectionColor = color.NRGBA{R: 37, G: 99, B: 235, A: 255}
	matchColor     = color.NRGBA{R: 22, G: 163, B: 74, A: 255}
	textColor      = color.NRGBA{R: 17, G: 24, B: 39, A: 255}
)

// Composite is a rendered evidence image.
type Composite struct {
	Image *image.NRGBA
	// Degraded is set when the background could not be used and the markings
	// were drawn on a blank canvas.
	Degraded bool
}

// Compose draws the student's work over background. A missing or undecodable
// background yields a blank canvas rather than an error.
func Compose(background []byte, ws *model.Worksheet, state model.WorksheetState) Composite {
	w, h, scale := canvasSize(state)

	var bg image.Image
	degraded := false
	if len(background) > 0 {
		img, err := decodeBounded(background)
		if err != nil {
			slog.Warn("evidence background unusable, drawing on blank canvas", "error", err)
			degraded = true
		} else {
			if state.ContainerWidth <= 0 || state.ContainerHeight <= 0 {
				w, h, scale = fit(img.Bounds().Dx(), img.Bounds().Dy())
			}
			bg = imaging.Resize(img, w, h, imaging.Lanczos)
		}
	}

	canvas := imaging.New(w, h, color.White)
	if bg != nil {
		canvas = imaging.Paste(canvas, bg, image.Pt(0, 0))
	}

	c := &painter{img: canvas, w: float64(w), h: float64(h), scale: scale}
	if ws != nil {
		c.drawZones(ws.Zones, state)
	}
	c.drawPlaced(state.Placed)
	for _, m := range state.StudentMarks {
		c.fillCircle(c.px(m.X), c.px(m.Y), markRadius, markColor)
	}
	return Composite{Image: canvas, Degraded: degraded}
}

// decodeBounded decodes an image after checking its declared size, so a small
// compressed upload cannot expand into an oversized bitmap.
func decodeBounded(data []byte) (image.Image, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > maxSourcePixels {
		return nil, fmt.Errorf("background is %dx%d, over the %d pixel limit", cfg.Width, cfg.Height, maxSourcePixels)
	}
	return imaging.Decode(bytes.NewReader(data))
}

// EncodePNG encodes the composite as PNG.
func EncodePNG(c Composite) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, c.Image, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode evidence png: %w", err)
	}
	return buf.Bytes(), nil
}

// DataURL wraps PNG bytes in a data URL.
func DataURL(png []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}

// canvasSize returns the canvas dimensions for state and the factor that maps
// container pixels onto the canvas.
func canvasSize(state model.WorksheetState) (int, int, float64) {
	if state.ContainerWidth >= 1 && state.ContainerHeight >= 1 {
		return fitFloat(state.ContainerWidth, state.ContainerHeight)
	}
	return defaultWidth, defaultHeight, 1
}

func fit(w, h int) (int, int, float64) {
	return fitFloat(float64(w), float64(h))
}

// fitFloat scales w×h down, keeping its aspect ratio, until both sides are at
// most MaxSide.
func fitFloat(w, h float64) (int, int, float64) {
	scale := math.Min(1, math.Min(MaxSide/w, MaxSide/h))
	return max(1, int(w*scale)), max(1, int(h*scale)), scale
}

type painter struct {
	img   *image.NRGBA
	w, h  float64
	scale float64
}

// px maps a container pixel coordinate onto the canvas.
func (p *painter) px(v float64) int {
	return int(v * p.scale)
}

// rect converts a percentage zone into a pixel rectangle.
func (p *painter) rect(z model.InteractiveZone) image.Rectangle {
	x0 := int(z.X / 100 * p.w)
	y0 := int(z.Y / 100 * p.h)
	x1 := int((z.X + z.Width) / 100 * p.w)
	y1 := int((z.Y + z.Height) / 100 * p.h)
	return image.Rect(x0, y0, x1, y1)
}

func (p *painter) drawZones(zones []model.InteractiveZone, state model.WorksheetState) {
	byID := make(map[string]image.Rectangle, len(zones))
	for _, z := range zones {
		byID[z.ID] = p.rect(z)
	}
	for _, id := range state.SelectedZoneIDs {
		if r, ok := byID[id]; ok {
			p.strokeRect(r, selectionColor)
			p.strokeRect(r.Inset(1), selectionColor)
		}
	}
	for _, z := range zones {
		if z.Type != model.ZoneTextInput {
			continue
		}
		if ans := state.TextAnswers[z.ID]; ans != "" {
			r := byID[z.ID]
			p.text(r.Min.X+2, r.Max.Y-3, ans, textColor)
		}
	}
	for _, pair := range state.MatchedPairs {
		a, okA := byID[pair.SourceID]
		b, okB := byID[pair.TargetID]
		if !okA || !okB {
			continue
		}
		ca, cb := center(a), center(b)
		p.line(ca.X, ca.Y, cb.X, cb.Y, matchColor)
	}
}

func (p *painter) drawPlaced(items []model.PlacedItem) {
	for _, it := range items {
		x, y := p.px(it.X), p.px(it.Y)
		r := image.Rect(x, y, x+60, y+30)
		p.strokeRect(r, textColor)
		p.text(r.Min.X+4, r.Min.Y+19, it.Content, textColor)
	}
}

func center(r image.Rectangle) image.Point {
	return image.Pt((r.Min.X+r.Max.X)/2, (r.Min.Y+r.Max.Y)/2)
}

func (p *painter) set(x, y int, c color.NRGBA) {
	if image.Pt(x, y).In(p.img.Rect) {
		p.img.SetNRGBA(x, y, c)
	}
}

func (p *painter) strokeRect(r image.Rectangle, c color.NRGBA) {
	for x := r.Min.X; x < r.Max.X; x++ {
		p.set(x, r.Min.Y, c)
		p.set(x, r.Max.Y-1, c)
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		p.set(r.Min.X, y, c)
		p.set(r.Max.X-1, y, c)
	}
}

func (p *painter) fillCircle(cx, cy, radius int, c color.NRGBA) {
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= radius*radius {
				p.set(cx+dx, cy+dy, c)
			}
		}
	}
}

// line draws a segment with Bresenham's algorithm.
func (p *painter) line(x0, y0, x1, y1 int, c color.NRGBA) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	for {
		p.set(x0, y0, c)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func (p *painter) text(x, y int, s string, c color.NRGBA) {
	d := &font.Drawer{
		Dst:  p.img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

package app

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"os"

	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/meridian-av/gnssd/internal/gnss"
)

const (
	dpi      = 72.0
	fontSize = 13.0

	plotMargin    = 40
	infoBarHeight = 40

	markerRadius = 4
	labelOffset  = 6
)

var (
	gridColor    = color.RGBA{R: 0xb0, G: 0xb0, B: 0xb0, A: 0xff}
	gpsColor     = color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff}
	glonassColor = color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 0xff}
	otherColor   = color.RGBA{R: 0x2c, G: 0xa0, B: 0x2c, A: 0xff}
)

// plotInfo feeds the info bar under the chart.
type plotInfo struct {
	Latitude   float64 // degrees
	Longitude  float64 // degrees
	Altitude   float64 // meters
	Week       int
	TOW        float64
	NavCount   int
	OrbitCount int
	CacheSize  string
}

type renderer struct {
	size      int
	face      font.Face
	closeFace func() error
}

// newRenderer prepares the chart renderer. With an empty font path the
// built-in bitmap face is used, so the tool works without any font files
// installed.
func newRenderer(size int, fontPath string) (*renderer, error) {
	r := &renderer{size: size, face: basicfont.Face7x13}
	if fontPath == "" {
		return r, nil
	}

	fontBytes, err := os.ReadFile(fontPath)
	if err != nil {
		return nil, fmt.Errorf("reading font: %w", err)
	}
	parsedFont, err := freetype.ParseFont(fontBytes)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}

	face := truetype.NewFace(parsedFont, &truetype.Options{
		Size:    fontSize,
		DPI:     dpi,
		Hinting: font.HintingFull,
	})
	r.face = face
	r.closeFace = face.Close
	return r, nil
}

func (r *renderer) Close() error {
	if r.closeFace != nil {
		return r.closeFace()
	}
	return nil
}

// Render draws the polar sky chart: elevation rings, compass directions,
// one marker per satellite and the info bar.
func (r *renderer) Render(view []SkySatellite, info plotInfo) *image.RGBA {
	fullWidth := r.size + 2*plotMargin
	fullHeight := r.size + 2*plotMargin + infoBarHeight
	img := image.NewRGBA(image.Rect(0, 0, fullWidth, fullHeight))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	cx := float64(plotMargin) + float64(r.size)/2
	cy := float64(plotMargin) + float64(r.size)/2
	radius := float64(r.size) / 2

	r.drawGrid(img, cx, cy, radius)
	r.drawCompass(img, cx, cy, radius)
	for _, sat := range view {
		r.drawSatellite(img, sat, cx, cy, radius)
	}
	r.drawInfoBar(img, len(view), info)

	return img
}

// drawGrid draws the horizon rim, the 30 and 60 degree elevation rings and
// the cardinal cross.
func (r *renderer) drawGrid(img *image.RGBA, cx, cy, radius float64) {
	drawHLine(img, int(cx-radius), int(cx+radius), int(cy), gridColor)
	drawVLine(img, int(cx), int(cy-radius), int(cy+radius), gridColor)

	for _, el := range []float64{30, 60} {
		ring := radius * (1 - el/90)
		drawCircle(img, cx, cy, ring, gridColor)
		r.drawText(img, fmt.Sprintf("%0.0f", el), int(cx)+4, int(cy-ring)+14)
	}
	drawCircle(img, cx, cy, radius, color.Black)
}

func (r *renderer) drawCompass(img *image.RGBA, cx, cy, radius float64) {
	r.drawTextCentered(img, "N", int(cx), int(cy-radius)-8)
	r.drawTextCentered(img, "S", int(cx), int(cy+radius)+18)
	r.drawText(img, "E", int(cx+radius)+8, int(cy)+5)

	w := font.MeasureString(r.face, "W").Round()
	r.drawText(img, "W", int(cx-radius)-8-w, int(cy)+5)
}

func (r *renderer) drawSatellite(img *image.RGBA, sat SkySatellite, cx, cy, radius float64) {
	x, y := polarProject(sat.Azimuth, sat.Elevation, cx, cy, radius)
	col := constellationColor(sat.ID.Constellation)

	fillDisc(img, int(x), int(y), markerRadius, col)
	if sat.Precise {
		// Ring marks satellites placed from a downloaded orbit product.
		drawCircle(img, x, y, markerRadius+2.5, col)
	}
	r.drawText(img, sat.ID.String(), int(x)+labelOffset, int(y)+markerRadius)
}

func (r *renderer) drawInfoBar(img *image.RGBA, plotted int, info plotInfo) {
	lineHeight := r.face.Metrics().Height.Round() + 2
	barTop := 2*plotMargin + r.size

	line1 := fmt.Sprintf("Receiver: %0.5f, %0.5f (alt %0.0f m)",
		info.Latitude, info.Longitude, info.Altitude)
	line2 := fmt.Sprintf("Week %d, TOW %0.0f s; satellites: %d (nav %d, orbit %d); cache %s",
		info.Week, info.TOW, plotted, info.NavCount, info.OrbitCount, info.CacheSize)

	r.drawText(img, line1, plotMargin, barTop+lineHeight)
	r.drawText(img, line2, plotMargin, barTop+2*lineHeight)
}

// drawText renders s with its baseline starting at (x, y).
func (r *renderer) drawText(img *image.RGBA, s string, x, y int) {
	d := font.Drawer{
		Dst:  img,
		Src:  image.Black,
		Face: r.face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

// drawTextCentered renders s horizontally centered on x.
func (r *renderer) drawTextCentered(img *image.RGBA, s string, x, y int) {
	w := font.MeasureString(r.face, s).Round()
	r.drawText(img, s, x-w/2, y)
}

func constellationColor(c gnss.Constellation) color.Color {
	switch c {
	case gnss.ConstellationGPS:
		return gpsColor
	case gnss.ConstellationGLONASS:
		return glonassColor
	default:
		return otherColor
	}
}

func drawCircle(img *image.RGBA, cx, cy, r float64, col color.Color) {
	steps := int(4 * math.Pi * r)
	if steps < 32 {
		steps = 32
	}
	for i := 0; i < steps; i++ {
		theta := 2 * math.Pi * float64(i) / float64(steps)
		img.Set(int(cx+r*math.Cos(theta)), int(cy+r*math.Sin(theta)), col)
	}
}

func fillDisc(img *image.RGBA, cx, cy, r int, col color.Color) {
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			if dx*dx+dy*dy <= r*r {
				img.Set(cx+dx, cy+dy, col)
			}
		}
	}
}

func drawHLine(img *image.RGBA, x0, x1, y int, col color.Color) {
	for x := x0; x <= x1; x++ {
		img.Set(x, y, col)
	}
}

func drawVLine(img *image.RGBA, x, y0, y1 int, col color.Color) {
	for y := y0; y <= y1; y++ {
		img.Set(x, y, col)
	}
}

package worker

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// RenderOptions describe one certificate to draw.
type RenderOptions struct {
	Title           string
	ParticipantName string
	EventTitle      string
	CompletionDate  string
	Body            string
	Background      string // hex, e.g. "#f5f0e8"
	Accent          string // hex, e.g. "#1f3a5f"
	Width           int
	Height          int
}

// baseW/baseH is the logical canvas the layout is computed on; the result is
// scaled to the requested output size afterwards.
const (
	baseW = 600
	baseH = 425
)

// RenderCertificate draws a certificate and returns it PNG-encoded.
func RenderCertificate(opts RenderOptions) ([]byte, error) {
	if opts.ParticipantName == "" {
		return nil, fmt.Errorf("participant name is required")
	}
	if opts.Title == "" {
		opts.Title = "Certificate of Attendance"
	}
	if opts.Width <= 0 {
		opts.Width = 1200
	}
	if opts.Height <= 0 {
		opts.Height = 850
	}

	bg := parseHexColor(opts.Background, color.RGBA{R: 245, G: 240, B: 232, A: 255})
	accent := parseHexColor(opts.Accent, color.RGBA{R: 31, G: 58, B: 95, A: 255})

	canvas := image.NewRGBA(image.Rect(0, 0, baseW, baseH))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: bg}, image.Point{}, draw.Src)
	drawBorder(canvas, accent, 6, 10)

	y := 90
	drawCentered(canvas, opts.Title, y, accent)
	y += 60
	drawCentered(canvas, "awarded to", y, accent)
	y += 40
	drawCentered(canvas, opts.ParticipantName, y, color.RGBA{A: 255})
	y += 24
	drawRule(canvas, accent, y, baseW/4)
	y += 40
	if opts.EventTitle != "" {
		drawCentered(canvas, "for attending "+opts.EventTitle, y, accent)
		y += 30
	}
	if opts.Body != "" {
		drawCentered(canvas, opts.Body, y, accent)
		y += 30
	}
	if opts.CompletionDate != "" {
		drawCentered(canvas, opts.CompletionDate, y, accent)
	}

	out := imaging.Resize(canvas, opts.Width, opts.Height, imaging.Lanczos)

	buf := &bytes.Buffer{}
	if err := imaging.Encode(buf, out, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode certificate: %w", err)
	}
	return buf.Bytes(), nil
}

func drawBorder(img *image.RGBA, c color.Color, thickness, inset int) {
	b := img.Bounds()
	for t := 0; t < thickness; t++ {
		for x := b.Min.X + inset; x < b.Max.X-inset; x++ {
			img.Set(x, b.Min.Y+inset+t, c)
			img.Set(x, b.Max.Y-1-inset-t, c)
		}
		for y := b.Min.Y + inset; y < b.Max.Y-inset; y++ {
			img.Set(b.Min.X+inset+t, y, c)
			img.Set(b.Max.X-1-inset-t, y, c)
		}
	}
}

func drawRule(img *image.RGBA, c color.Color, y, halfWidth int) {
	cx := img.Bounds().Dx() / 2
	for x := cx - halfWidth; x <= cx+halfWidth; x++ {
		img.Set(x, y, c)
		img.Set(x, y+1, c)
	}
}

func drawCentered(img *image.RGBA, text string, y int, c color.Color) {
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
	}
	width := d.MeasureString(text).Ceil()
	d.Dot = fixed.P((img.Bounds().Dx()-width)/2, y)
	d.DrawString(text)
}

// parseHexColor accepts "#rrggbb" (with or without the hash) and falls back
// to def on anything it cannot parse.
func parseHexColor(s string, def color.RGBA) color.RGBA {
	if len(s) > 0 && s[0] == '#' {
		s = s[1:]
	}
	if len(s) != 6 {
		return def
	}
	var r, g, b uint8
	if _, err := fmt.Sscanf(s, "%02x%02x%02x", &r, &g, &b); err != nil {
		return def
	}
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

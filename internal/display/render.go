package display

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/kitchenradio/kitchenradio-go/internal/models"
)

// Default size of the graphic display (SSD1322 OLED).
const (
	DefaultWidth  = 256
	DefaultHeight = 64
)

const (
	glyphWidth = 7
	lineHeight = 13
	barHeight  = 4
)

// Render draws the now-playing screen: header, title, artist and a volume
// bar along the bottom edge.
func Render(st models.Status, w, h int) *image.Gray {
	if w <= 0 {
		w = DefaultWidth
	}
	if h <= 0 {
		h = DefaultHeight
	}
	img := image.NewGray(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.Black, image.Point{}, draw.Src)

	cols := w / glyphWidth
	d := &font.Drawer{Dst: img, Src: image.White, Face: basicfont.Face7x13}
	line := func(row int, s string) {
		y := (row + 1) * lineHeight
		if y > h-barHeight {
			return
		}
		d.Dot = fixed.P(0, y-2)
		d.DrawString(Fit(s, cols, 0))
	}

	line(0, Header(st))
	e, ok := st.Active()
	if !st.Powered || !ok {
		return img
	}
	switch {
	case e.Track.Title != "":
		line(1, e.Track.Title)
		line(2, e.Track.Artist)
		line(3, e.Track.Album)
	case e.Source.DeviceName != "":
		line(1, e.Source.DeviceName)
	}
	if e.Volume != nil {
		drawBar(img, *e.Volume)
	}
	return img
}

func drawBar(img *image.Gray, volume int) {
	b := img.Bounds()
	fill := b.Dx() * models.ClampVolume(volume) / 100
	bar := image.Rect(0, b.Max.Y-barHeight, fill, b.Max.Y)
	draw.Draw(img, bar, &image.Uniform{C: color.Gray{Y: 0xff}}, image.Point{}, draw.Src)
}

// Package display turns a status snapshot into now-playing output: two text
// lines for a character LCD and a monochrome bitmap for graphic screens.
package display

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kitchenradio/kitchenradio-go/internal/models"
)

// LCDColumns is the width of the common 16x2 character LCD.
const LCDColumns = 16

// Lines renders status for a 16 column LCD.
func Lines(st models.Status) [2]string {
	return LinesWidth(st, LCDColumns, 0)
}

// LinesWidth renders status as two lines of at most cols runes. The second
// line scrolls by offset runes when it does not fit.
func LinesWidth(st models.Status, cols, offset int) [2]string {
	return [2]string{
		Fit(Header(st), cols, 0),
		Fit(Detail(st), cols, offset),
	}
}

// Header is the source line: the source label and its transport state.
func Header(st models.Status) string {
	if !st.Powered {
		return "Off"
	}
	if !st.ActiveSource.Valid() {
		return "No source"
	}
	label := st.ActiveSource.Label()
	if st.PairingMode {
		return label + " pairing"
	}
	e, ok := st.Active()
	if !ok || !e.Connected {
		return label + " offline"
	}
	if e.Volume != nil {
		return fmt.Sprintf("%s %s %d", label, stateMark(e.State), *e.Volume)
	}
	return label + " " + stateMark(e.State)
}

// Detail is the "artist - title" line, or the attached device when no
// track is known.
func Detail(st models.Status) string {
	e, ok := st.Active()
	if !st.Powered || !ok {
		return ""
	}
	t := e.Track
	switch {
	case t.Artist != "" && t.Title != "":
		return t.Artist + " - " + t.Title
	case t.Title != "":
		return t.Title
	case e.Source.HasDevice() && e.Source.DeviceName != "":
		return e.Source.DeviceName
	}
	return ""
}

func stateMark(s models.PlaybackState) string {
	switch s {
	case models.StatePlaying:
		return ">"
	case models.StatePaused:
		return "||"
	case models.StateStopped:
		return "[]"
	}
	return "?"
}

// Fit returns at most width runes of s. Text that is too long is shown as
// a window starting at offset, wrapping around with a gap so it can scroll.
func Fit(s string, width, offset int) string {
	if width <= 0 {
		return ""
	}
	n := utf8.RuneCountInString(s)
	if n <= width {
		return s
	}
	if offset <= 0 {
		r := []rune(s)
		return string(r[:width])
	}
	loop := []rune(s + "   ")
	start := offset % len(loop)
	var b strings.Builder
	for i := 0; i < width; i++ {
		b.WriteRune(loop[(start+i)%len(loop)])
	}
	return b.String()
}

package main

import (
	"bytes"
	"fmt"
	"log/slog"

	"go.bug.st/serial"
)

// LineWriter shows two lines of text.
type LineWriter interface {
	WriteLines(lines [2]string) error
}

// Serial LCD backpack commands (HD44780 instructions behind a 0xFE prefix).
const (
	lcdCommand = 0xFE
	lcdClear   = 0x01
	lcdLine1   = 0x80
	lcdLine2   = 0xC0
)

// LCD is a character LCD behind a serial backpack.
type LCD struct {
	port serial.Port
	cols int
}

// OpenLCD opens the serial port at baud, 8N1.
func OpenLCD(name string, baud int) (*LCD, error) {
	p, err := serial.Open(name, &serial.Mode{BaudRate: baud, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit})
	if err != nil {
		return nil, fmt.Errorf("serial open %s: %w", name, err)
	}
	l := &LCD{port: p, cols: 16}
	if _, err := p.Write([]byte{lcdCommand, lcdClear}); err != nil {
		p.Close()
		return nil, fmt.Errorf("serial clear: %w", err)
	}
	return l, nil
}

func (l *LCD) WriteLines(lines [2]string) error {
	_, err := l.port.Write(frame(lines, l.cols))
	return err
}

func (l *LCD) Close() error { return l.port.Close() }

// frame positions the cursor on each line and pads it to cols so stale
// characters are overwritten. Non-ASCII runes are shown as '?'.
func frame(lines [2]string, cols int) []byte {
	var b bytes.Buffer
	for i, pos := range []byte{lcdLine1, lcdLine2} {
		b.WriteByte(lcdCommand)
		b.WriteByte(pos)
		n := 0
		for _, r := range lines[i] {
			if n == cols {
				break
			}
			if r < 0x20 || r > 0x7e {
				r = '?'
			}
			b.WriteByte(byte(r))
			n++
		}
		for ; n < cols; n++ {
			b.WriteByte(' ')
		}
	}
	return b.Bytes()
}

type logWriter struct{}

func (logWriter) WriteLines(lines [2]string) error {
	slog.Info("display", "line1", lines[0], "line2", lines[1])
	return nil
}

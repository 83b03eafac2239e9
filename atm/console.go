package atm

import (
	"fmt"
	"io"
	"os"
)

// ConsoleWriter is the terminal's display. Tests substitute a capturing
// implementation.
type ConsoleWriter interface {
	WriteLine(text string)
}

type consoleWriter struct {
	w io.Writer
}

func NewConsoleWriter(w io.Writer) ConsoleWriter {
	if w == nil {
		w = os.Stdout
	}
	return &consoleWriter{w: w}
}

func (c *consoleWriter) WriteLine(text string) {
	fmt.Fprintln(c.w, text)
}

// Package corpus turns a token stream into fixed-width overlapping windows.
package corpus

import (
	"fmt"
	"os"
)

// Windows exposes every contiguous run of width tokens, one per start offset.
type Windows struct {
	tokens []int
	width  int
}

func NewWindows(tokens []int, width int) (*Windows, error) {
	if width < 1 {
		return nil, fmt.Errorf("window width must be positive, got %d", width)
	}
	return &Windows{tokens: tokens, width: width}, nil
}

// Len returns N - W, or 0 when the stream is shorter than a window.
func (w *Windows) Len() int {
	n := len(w.tokens) - w.width
	if n < 0 {
		return 0
	}
	return n
}

func (w *Windows) Width() int {
	return w.width
}

// At returns tokens[i : i+W]. The slice aliases the stream and has its
// capacity clipped, so appending to it never writes into a neighbour.
func (w *Windows) At(i int) []int {
	if i < 0 || i >= w.Len() {
		panic(fmt.Sprintf("corpus: window %d out of range [0, %d)", i, w.Len()))
	}
	return w.tokens[i : i+w.width : i+w.width]
}

// Load reads a corpus file wholesale.
func Load(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read corpus: %w", err)
	}
	return string(data), nil
}

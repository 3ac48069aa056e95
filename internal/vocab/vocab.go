// Package vocab maps a fixed character set to dense token indices and back.
package vocab

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Default is the reference alphabet: lowercase letters, period and space.
const Default = "abcdefghijklmnopqrstuvwxyz. "

var (
	ErrEmpty     = errors.New("vocabulary is empty")
	ErrDuplicate = errors.New("duplicate vocabulary symbol")
)

// Vocabulary is an immutable bijection between symbols and indices in [0, Size()).
type Vocabulary struct {
	toChar []rune
	toID   map[rune]int
}

func New(symbols string) (*Vocabulary, error) {
	if symbols == "" {
		return nil, ErrEmpty
	}

	v := &Vocabulary{toID: make(map[rune]int)}
	for _, r := range symbols {
		if _, exists := v.toID[r]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicate, r)
		}
		v.toID[r] = len(v.toChar)
		v.toChar = append(v.toChar, r)
	}
	return v, nil
}

func (v *Vocabulary) Size() int {
	return len(v.toChar)
}

func (v *Vocabulary) Symbols() string {
	return string(v.toChar)
}

// Encode lowercases text and maps every rune to its index. Runes outside the
// vocabulary are dropped without notice.
func (v *Vocabulary) Encode(text string) []int {
	text = cases.Lower(language.Und).String(text)

	ids := make([]int, 0, len(text))
	for _, r := range text {
		if id, exists := v.toID[r]; exists {
			ids = append(ids, id)
		}
	}
	return ids
}

// Decode panics if index is outside [0, Size()).
func (v *Vocabulary) Decode(index int) rune {
	if index < 0 || index >= len(v.toChar) {
		panic(fmt.Sprintf("vocab: index %d out of range [0, %d)", index, len(v.toChar)))
	}
	return v.toChar[index]
}

func (v *Vocabulary) DecodeAll(ids []int) string {
	var sb strings.Builder
	for _, id := range ids {
		sb.WriteRune(v.Decode(id))
	}
	return sb.String()
}

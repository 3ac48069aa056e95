package corpus

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestWindowsScenario(t *testing.T) {
	w, err := NewWindows([]int{0, 1, 0, 1, 2, 1, 0}, 4)
	if err != nil {
		t.Fatal(err)
	}

	want := [][]int{
		{0, 1, 0, 1},
		{1, 0, 1, 2},
		{0, 1, 2, 1},
	}
	if w.Len() != len(want) {
		t.Fatalf("Len() = %d, want %d", w.Len(), len(want))
	}
	for i, exp := range want {
		if got := w.At(i); !reflect.DeepEqual(got, exp) {
			t.Errorf("At(%d) = %v, want %v", i, got, exp)
		}
	}
}

func TestWindowsOverlap(t *testing.T) {
	tokens := make([]int, 50)
	for i := range tokens {
		tokens[i] = (i * 7) % 11
	}

	for _, width := range []int{1, 2, 5, 49} {
		w, err := NewWindows(tokens, width)
		if err != nil {
			t.Fatal(err)
		}
		if w.Len() != len(tokens)-width {
			t.Errorf("width %d: Len() = %d, want %d", width, w.Len(), len(tokens)-width)
		}
		for i := 0; i+1 < w.Len(); i++ {
			cur, next := w.At(i), w.At(i+1)
			shifted := append(append([]int{}, cur[1:]...), next[len(next)-1])
			if !reflect.DeepEqual(shifted, next) {
				t.Fatalf("width %d: window %d shifted = %v, window %d = %v", width, i, shifted, i+1, next)
			}
		}
	}
}

func TestWindowsShortStream(t *testing.T) {
	tests := []struct {
		n, width, want int
	}{
		{0, 3, 0},
		{3, 3, 0},
		{2, 3, 0},
		{4, 3, 1},
	}
	for _, tt := range tests {
		w, err := NewWindows(make([]int, tt.n), tt.width)
		if err != nil {
			t.Fatal(err)
		}
		if w.Len() != tt.want {
			t.Errorf("NewWindows(%d tokens, %d).Len() = %d, want %d", tt.n, tt.width, w.Len(), tt.want)
		}
	}

	if _, err := NewWindows([]int{1, 2}, 0); err == nil {
		t.Error("NewWindows with width 0 returned nil error")
	}
}

func TestWindowsOutOfRange(t *testing.T) {
	w, err := NewWindows([]int{0, 1, 2, 3}, 2)
	if err != nil {
		t.Fatal(err)
	}
	for _, i := range []int{-1, 2, 10} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("At(%d) did not panic", i)
				}
			}()
			w.At(i)
		}()
	}
}

func TestWindowsAppendIsolated(t *testing.T) {
	tokens := []int{0, 1, 2, 3, 4}
	w, err := NewWindows(tokens, 2)
	if err != nil {
		t.Fatal(err)
	}
	_ = append(w.At(0), 9)
	if tokens[2] != 2 {
		t.Errorf("append through window modified stream: %v", tokens)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.txt")
	if err := os.WriteFile(path, []byte("Hello there.\n"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != "Hello there.\n" {
		t.Errorf("Load = %q", got)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Error("Load of missing file returned nil error")
	}
}

// Package generate produces text from a trained model by greedy
// autoregressive decoding.
package generate

import (
	"fmt"
	"strings"

	"gorgonia.org/tensor"

	"charlstm/internal/lstm"
	"charlstm/internal/onehot"
	"charlstm/internal/vocab"
)

type Generator struct {
	model *lstm.Model
	vocab *vocab.Vocabulary
}

func New(model *lstm.Model, v *vocab.Vocabulary) (*Generator, error) {
	if model.Config().VocabSize != v.Size() {
		return nil, fmt.Errorf("model vocab size %d does not match vocabulary size %d", model.Config().VocabSize, v.Size())
	}
	return &Generator{model: model, vocab: v}, nil
}

// Generate appends n greedily chosen characters to primer. The whole primer
// is fed on the first step from a zero state; every later step feeds only the
// previously chosen character and continues from the returned state.
func (g *Generator) Generate(primer string, n int) (string, error) {
	input := g.vocab.Encode(primer)
	if len(input) == 0 && n > 0 {
		return "", fmt.Errorf("primer %q has no characters in the vocabulary", primer)
	}

	var out strings.Builder
	out.WriteString(primer)

	var state lstm.State
	fresh := true
	for i := 0; i < n; i++ {
		x, err := onehot.Rows([][]int{input}, g.vocab.Size())
		if err != nil {
			return "", fmt.Errorf("step %d: %w", i, err)
		}

		if fresh {
			state = g.model.ZeroState(1)
			fresh = false
		}

		var logits *tensor.Dense
		logits, state, err = g.model.Forward(x, state, lstm.Eval)
		if err != nil {
			return "", fmt.Errorf("step %d: %w", i, err)
		}

		next := lastArgmax(logits)
		out.WriteRune(g.vocab.Decode(next))
		input = []int{next}
	}
	return out.String(), nil
}

// lastArgmax returns the index of the largest logit at the final step of a
// (1 x steps x vocab) tensor. Ties go to the lowest index.
func lastArgmax(logits *tensor.Dense) int {
	s := logits.Shape()
	steps, V := s[1], s[2]
	data := logits.Data().([]float64)
	last := data[(steps-1)*V : steps*V]

	best := 0
	for i, v := range last {
		if v > last[best] {
			best = i
		}
	}
	return best
}

// Package train fits an LSTM language model to windowed character data with
// teacher forcing and Adam.
package train

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
	"gorgonia.org/gorgonia"

	"charlstm/internal/corpus"
	"charlstm/internal/lstm"
	"charlstm/internal/onehot"
)

var ErrNonFinite = errors.New("non-finite loss")

type Config struct {
	Epochs       int
	BatchSize    int
	LearningRate float64
	Seed         int64
}

func (c Config) validate() error {
	switch {
	case c.Epochs < 1:
		return fmt.Errorf("epochs must be positive, got %d", c.Epochs)
	case c.BatchSize < 1:
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	case c.LearningRate <= 0:
		return fmt.Errorf("learning rate must be positive, got %v", c.LearningRate)
	}
	return nil
}

type Trainer struct {
	cfg    Config
	model  *lstm.Model
	solver gorgonia.Solver
	rng    *rand.Rand
	log    zerolog.Logger
}

func New(model *lstm.Model, cfg Config, logger zerolog.Logger) (*Trainer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Trainer{
		cfg:    cfg,
		model:  model,
		solver: gorgonia.NewAdamSolver(gorgonia.WithLearnRate(cfg.LearningRate)),
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		log:    logger,
	}, nil
}

// Run trains for the configured number of epochs and returns the mean loss
// of each epoch. Any failure aborts the whole run.
func (t *Trainer) Run(windows *corpus.Windows) ([]float64, error) {
	if windows.Width() < 2 {
		return nil, fmt.Errorf("window width must be at least 2 for next-token targets, got %d", windows.Width())
	}
	if windows.Len() == 0 {
		return nil, fmt.Errorf("corpus too short: no windows of width %d", windows.Width())
	}

	t.log.Info().
		Int("windows", windows.Len()).
		Int("width", windows.Width()).
		Int("epochs", t.cfg.Epochs).
		Int("batch_size", t.cfg.BatchSize).
		Msg("Starting training")

	losses := make([]float64, 0, t.cfg.Epochs)
	for epoch := 0; epoch < t.cfg.Epochs; epoch++ {
		start := time.Now()
		loss, batches, err := t.Epoch(windows)
		if err != nil {
			return nil, fmt.Errorf("epoch %d: %w", epoch, err)
		}
		losses = append(losses, loss)

		t.log.Info().
			Int("epoch", epoch).
			Float64("loss", loss).
			Int("batches", batches).
			Dur("elapsed", time.Since(start)).
			Msg("Epoch complete")
	}
	return losses, nil
}

// Epoch makes one pass over a fresh permutation of the windows and returns
// the mean batch loss and the number of batches.
func (t *Trainer) Epoch(windows *corpus.Windows) (float64, int, error) {
	batches := Batches(t.rng.Perm(windows.Len()), t.cfg.BatchSize)

	var sum float64
	for i, idx := range batches {
		rows := make([][]int, len(idx))
		for j, k := range idx {
			rows[j] = windows.At(k)
		}

		loss, err := t.Step(rows)
		if err != nil {
			return 0, 0, fmt.Errorf("batch %d: %w", i, err)
		}
		t.log.Debug().Int("batch", i).Float64("loss", loss).Msg("Batch")
		sum += loss
	}
	return sum / float64(len(batches)), len(batches), nil
}

// Step performs one teacher-forced update on a batch of windows: each
// window minus its last token is the input, minus its first token the target.
func (t *Trainer) Step(windows [][]int) (float64, error) {
	inputs := make([][]int, len(windows))
	targets := make([][]int, len(windows))
	for i, w := range windows {
		inputs[i] = w[:len(w)-1]
		targets[i] = w[1:]
	}

	V := t.model.Config().VocabSize
	x, err := onehot.Rows(inputs, V)
	if err != nil {
		return 0, fmt.Errorf("encode inputs: %w", err)
	}
	y, err := onehot.Rows(targets, V)
	if err != nil {
		return 0, fmt.Errorf("encode targets: %w", err)
	}

	t.model.ZeroGrad()
	loss, err := t.model.Backward(x, y)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return 0, fmt.Errorf("%w: %v", ErrNonFinite, loss)
	}

	if err := t.solver.Step(t.model.Learnables()); err != nil {
		return 0, fmt.Errorf("optimizer step: %w", err)
	}
	return loss, nil
}

// Batches partitions perm into consecutive groups of size; the last group
// may be short.
func Batches(perm []int, size int) [][]int {
	var batches [][]int
	for i := 0; i < len(perm); i += size {
		j := i + size
		if j > len(perm) {
			j = len(perm)
		}
		batches = append(batches, perm[i:j])
	}
	return batches
}

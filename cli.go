package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"

	"charlstm/internal/checkpoint"
	"charlstm/internal/config"
	"charlstm/internal/corpus"
	"charlstm/internal/generate"
	"charlstm/internal/lossplot"
	"charlstm/internal/lstm"
	"charlstm/internal/train"
	"charlstm/internal/vocab"
)

func newModel(cfg *config.Config, v *vocab.Vocabulary) (*lstm.Model, error) {
	return lstm.New(lstm.Config{
		VocabSize:  v.Size(),
		HiddenSize: cfg.HiddenSize,
		Layers:     cfg.Layers,
		Dropout:    cfg.Dropout,
		Seed:       cfg.Seed,
	})
}

// fit encodes text, trains a fresh model on its windows and returns the
// model with its per-epoch losses.
func fit(cfg *config.Config, v *vocab.Vocabulary, text string) (*lstm.Model, []float64, error) {
	tokens := v.Encode(text)
	log.Info().
		Int("characters", len(text)).
		Int("tokens", len(tokens)).
		Int("vocab_size", v.Size()).
		Msg("Corpus encoded")

	windows, err := corpus.NewWindows(tokens, cfg.Window)
	if err != nil {
		return nil, nil, err
	}

	model, err := newModel(cfg, v)
	if err != nil {
		return nil, nil, fmt.Errorf("build model: %w", err)
	}

	trainer, err := train.New(model, train.Config{
		Epochs:       cfg.Epochs,
		BatchSize:    cfg.BatchSize,
		LearningRate: cfg.LearningRate,
		Seed:         cfg.Seed,
	}, log.Logger)
	if err != nil {
		return nil, nil, err
	}

	losses, err := trainer.Run(windows)
	if err != nil {
		return nil, nil, fmt.Errorf("training failed: %w", err)
	}
	return model, losses, nil
}

func runTrain(cfg *config.Config) error {
	v, err := vocab.New(cfg.Vocabulary)
	if err != nil {
		return err
	}

	log.Info().Str("corpus", cfg.Corpus).Msg("Loading corpus...")
	text, err := corpus.Load(cfg.Corpus)
	if err != nil {
		return err
	}

	model, losses, err := fit(cfg, v, text)
	if err != nil {
		return err
	}

	if err := checkpoint.Save(cfg.Checkpoint, &checkpoint.Checkpoint{Params: model.Params(), Losses: losses}); err != nil {
		return err
	}
	log.Info().
		Str("checkpoint", cfg.Checkpoint).
		Float64("final_loss", losses[len(losses)-1]).
		Msg("Checkpoint saved")

	if cfg.GenLength > 0 && len(v.Encode(cfg.Primer)) > 0 {
		g, err := generate.New(model, v)
		if err != nil {
			return err
		}
		sample, err := g.Generate(cfg.Primer, min(cfg.GenLength, 80))
		if err != nil {
			return err
		}
		log.Info().Str("sample", sample).Msg("Sample generation")
	}
	return nil
}

func loadModel(cfg *config.Config) (*lstm.Model, *vocab.Vocabulary, *checkpoint.Checkpoint, error) {
	v, err := vocab.New(cfg.Vocabulary)
	if err != nil {
		return nil, nil, nil, err
	}
	ckpt, err := checkpoint.Load(cfg.Checkpoint)
	if err != nil {
		return nil, nil, nil, err
	}
	model, err := newModel(cfg, v)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := model.Load(ckpt.Params); err != nil {
		return nil, nil, nil, fmt.Errorf("load %s: %w", cfg.Checkpoint, err)
	}
	return model, v, ckpt, nil
}

func runGenerate(cfg *config.Config) error {
	model, v, ckpt, err := loadModel(cfg)
	if err != nil {
		return err
	}
	log.Debug().
		Str("checkpoint", cfg.Checkpoint).
		Int("epochs", len(ckpt.Losses)).
		Msg("Checkpoint loaded")

	g, err := generate.New(model, v)
	if err != nil {
		return err
	}

	if cfg.Primer != "-" {
		out, err := g.Generate(cfg.Primer, cfg.GenLength)
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	}

	return generateLines(g, v, os.Stdin, os.Stdout, cfg.GenLength)
}

// generateLines continues every line of in as a primer and writes one
// completion per line to out. Lines are used as typed, spaces included.
func generateLines(g *generate.Generator, v *vocab.Vocabulary, in io.Reader, out io.Writer, n int) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		primer := scanner.Text()
		if len(v.Encode(primer)) == 0 {
			log.Warn().Str("primer", primer).Msg("Skipping primer with no vocabulary characters")
			continue
		}
		completion, err := g.Generate(primer, n)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, completion)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	return nil
}

func runPlot(cfg *config.Config) error {
	ckpt, err := checkpoint.Load(cfg.Checkpoint)
	if err != nil {
		return err
	}
	if err := lossplot.Save(ckpt.Losses, cfg.PlotOutput); err != nil {
		return err
	}
	log.Info().
		Int("epochs", len(ckpt.Losses)).
		Str("output", cfg.PlotOutput).
		Msg("Loss plot saved")
	return nil
}

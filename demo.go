package main

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"charlstm/internal/config"
	"charlstm/internal/generate"
	"charlstm/internal/vocab"
)

const demoCorpus = `the quick brown fox jumps over the lazy dog. the cat sat on the mat and purred contentedly. the sun is shining bright across the blue sky. birds are singing in the tall green trees. life is beautiful and full of wonder and joy. the ocean waves crash against the rocky shore with great force. mountains stand tall and proud in the distance. rivers flow gently through the peaceful valleys below. flowers bloom in spring with vibrant colors. winter brings snow and ice to the land. summer is warm and sunny and perfect for outdoor activities. autumn leaves fall gently to the ground in shades of red and gold. time moves forward always without stopping. love conquers all fears and doubts. hope lights the way through darkness. hard work pays off in the end. knowledge is power indeed and wisdom is precious. the story begins once upon a time in a land far away. words have meaning and power. language is the tool of communication and expression.`

// runDemo trains a small model on the built-in corpus and prints greedy
// completions for a few prefixes. Nothing is written to disk.
func runDemo(cfg *config.Config) error {
	demo := *cfg
	demo.Window = 16
	demo.HiddenSize = 32
	demo.BatchSize = 32
	demo.Epochs = 10
	demo.LearningRate = 0.01

	v, err := vocab.New(demo.Vocabulary)
	if err != nil {
		return err
	}

	model, losses, err := fit(&demo, v, demoCorpus)
	if err != nil {
		return err
	}
	log.Info().Float64("final_loss", losses[len(losses)-1]).Msg("Demo training complete")

	g, err := generate.New(model, v)
	if err != nil {
		return err
	}
	for _, prefix := range []string{"the", "and", "in", "to"} {
		out, err := g.Generate(prefix, 30)
		if err != nil {
			return err
		}
		fmt.Printf("%q -> %q\n", prefix, out)
	}
	return nil
}

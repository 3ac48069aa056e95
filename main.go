package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"charlstm/internal/config"
)

var commands = map[string]func(*config.Config) error{
	"train":    runTrain,
	"generate": runGenerate,
	"plot":     runPlot,
	"demo":     runDemo,
}

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	run, ok := commands[command]
	if !ok {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load(command, os.Args[2:])
	if errors.Is(err, config.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to parse configuration")
	}

	logFile, err := setupLogging(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to setup logging")
	}

	runErr := run(cfg)
	if runErr != nil {
		log.Error().Err(runErr).Str("command", command).Msg("Command failed")
	}
	if logFile != nil {
		logFile.Close()
	}
	if runErr != nil {
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "charlstm - character-level LSTM language model")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  charlstm train    --corpus FILE --checkpoint FILE [options]")
	fmt.Fprintln(os.Stderr, "  charlstm generate --checkpoint FILE --primer TEXT [options]")
	fmt.Fprintln(os.Stderr, "  charlstm plot     --checkpoint FILE --plot-output FILE")
	fmt.Fprintln(os.Stderr, "  charlstm demo")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  train     Train a model on a text corpus and write a checkpoint")
	fmt.Fprintln(os.Stderr, "  generate  Greedily continue a primer with a trained checkpoint")
	fmt.Fprintln(os.Stderr, "  plot      Plot the per-epoch training loss of a checkpoint")
	fmt.Fprintln(os.Stderr, "  demo      Train a small model on a built-in corpus and show completions")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Run 'charlstm COMMAND -h' for the options of a command.")
}

// setupLogging applies the configured level and, when a log file is set,
// redirects the global logger to it. The caller closes the returned file.
func setupLogging(cfg *config.Config) (*os.File, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		log.Logger = zerolog.New(f).With().Timestamp().Logger()
		return f, nil
	}

	return nil, nil
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"charlstm/internal/vocab"
)

// ErrHelp is returned when -h/--help was requested and usage has been printed.
var ErrHelp = errors.New("help requested")

type Config struct {
	Vocabulary   string  `mapstructure:"vocabulary"`
	Window       int     `mapstructure:"window"`
	BatchSize    int     `mapstructure:"batch_size"`
	Epochs       int     `mapstructure:"epochs"`
	HiddenSize   int     `mapstructure:"hidden_size"`
	Dropout      float64 `mapstructure:"dropout"`
	Layers       int     `mapstructure:"layers"`
	LearningRate float64 `mapstructure:"learning_rate"`
	Seed         int64   `mapstructure:"seed"`
	GenLength    int     `mapstructure:"gen_length"`
	Primer       string  `mapstructure:"primer"`
	Checkpoint   string  `mapstructure:"checkpoint"`
	Corpus       string  `mapstructure:"corpus"`
	PlotOutput   string  `mapstructure:"plot_output"`
	LogLevel     string  `mapstructure:"log_level"`
	LogFile      string  `mapstructure:"log_file"`
}

// flags maps a command-line flag to its viper key.
var flags = map[string]string{
	"vocabulary":    "vocabulary",
	"window":        "window",
	"batch-size":    "batch_size",
	"epochs":        "epochs",
	"hidden-size":   "hidden_size",
	"dropout":       "dropout",
	"layers":        "layers",
	"learning-rate": "learning_rate",
	"seed":          "seed",
	"gen-length":    "gen_length",
	"primer":        "primer",
	"checkpoint":    "checkpoint",
	"corpus":        "corpus",
	"plot-output":   "plot_output",
	"log-level":     "log_level",
	"log-file":      "log_file",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("vocabulary", vocab.Default)
	v.SetDefault("window", 50)
	v.SetDefault("batch_size", 64)
	v.SetDefault("epochs", 20)
	v.SetDefault("hidden_size", 128)
	v.SetDefault("dropout", 0.2)
	v.SetDefault("layers", 1)
	v.SetDefault("learning_rate", 0.001)
	v.SetDefault("seed", 1337)
	v.SetDefault("gen_length", 200)
	v.SetDefault("primer", "the ")
	v.SetDefault("checkpoint", "model.gob")
	v.SetDefault("corpus", "corpus.txt")
	v.SetDefault("plot_output", "loss.png")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
}

// Load resolves configuration for command from defaults, an optional config
// file, CHARLSTM_* environment variables and args, in increasing priority.
func Load(command string, args []string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	fs := pflag.NewFlagSet(command, pflag.ContinueOnError)
	configFile := fs.StringP("config", "c", "", "Path to config file")
	fs.String("vocabulary", "", "Ordered symbol set of the model")
	fs.IntP("window", "w", 0, "Window length in characters")
	fs.IntP("batch-size", "b", 0, "Windows per training batch")
	fs.IntP("epochs", "e", 0, "Training epochs")
	fs.Int("hidden-size", 0, "LSTM hidden units")
	fs.Float64("dropout", 0, "Dropout rate during training")
	fs.Int("layers", 0, "Recurrent layers (must be 1)")
	fs.Float64("learning-rate", 0, "Adam learning rate")
	fs.Int64("seed", 0, "Seed for shuffling and dropout")
	fs.IntP("gen-length", "n", 0, "Characters to generate")
	fs.StringP("primer", "p", "", "Priming text for generation ('-' reads lines from stdin)")
	fs.StringP("checkpoint", "m", "", "Checkpoint path")
	fs.String("corpus", "", "Training corpus path")
	fs.StringP("plot-output", "o", "", "Loss plot output path")
	fs.StringP("log-level", "l", "", "Log level (debug, info, warn, error)")
	fs.String("log-file", "", "Log file path")
	help := fs.BoolP("help", "h", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("failed to parse flags: %w", err)
	}
	if *help {
		fmt.Fprintf(os.Stderr, "Usage: charlstm %s [options]\n\nOptions:\n", command)
		fs.PrintDefaults()
		return nil, ErrHelp
	}

	for name, key := range flags {
		f := fs.Lookup(name)
		if !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return nil, err
		}
	}

	if *configFile != "" {
		v.SetConfigFile(*configFile)
	} else {
		v.SetConfigName("charlstm")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "charlstm"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.SetEnvPrefix("CHARLSTM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.Vocabulary == "":
		return fmt.Errorf("vocabulary must not be empty")
	case c.Window < 2:
		return fmt.Errorf("window must be at least 2, got %d", c.Window)
	case c.BatchSize < 1:
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	case c.Epochs < 1:
		return fmt.Errorf("epochs must be positive, got %d", c.Epochs)
	case c.HiddenSize < 1:
		return fmt.Errorf("hidden size must be positive, got %d", c.HiddenSize)
	case c.Dropout < 0 || c.Dropout >= 1:
		return fmt.Errorf("dropout must be in [0, 1), got %v", c.Dropout)
	case c.Layers != 1:
		return fmt.Errorf("only one recurrent layer is supported, got %d", c.Layers)
	case c.LearningRate <= 0:
		return fmt.Errorf("learning rate must be positive, got %v", c.LearningRate)
	case c.GenLength < 0:
		return fmt.Errorf("generation length must not be negative, got %d", c.GenLength)
	case c.Checkpoint == "":
		return fmt.Errorf("checkpoint path must not be empty")
	}
	return nil
}

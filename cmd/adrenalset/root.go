// Command adrenalset builds fixed-shape training arrays out of labeled CT
// adrenal gland videos.
//
// Settings are resolved in this order (highest first):
//  1. command-line flags
//  2. ADRENALSET_<SECTION>_<OPTION> environment variables
//  3. the config file: --config, ADRENALSET_CONFIG_FILE or ./adrenalset.yaml
//  4. built-in defaults
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/bdougie/adrenalset/internal/config"
	"github.com/bdougie/adrenalset/internal/extractor"
	"github.com/bdougie/adrenalset/internal/loader"
)

const (
	envPrefix     = "ADRENALSET"
	envConfigFile = "ADRENALSET_CONFIG_FILE"
	viperKey      = "viper-key"
)

// app carries state shared by all subcommands.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
	logger  *slog.Logger
	decoder extractor.Decoder
}

func newApp() *app {
	a := &app{v: viper.New(), decoder: &extractor.FFmpeg{}}
	config.SetDefaults(a.v)
	return a
}

func newRootCmd() *cobra.Command {
	return newApp().rootCmd()
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "adrenalset",
		Short: "Build CT adrenal video datasets",
		Long: `adrenalset turns labeled CT adrenal gland videos into numpy arrays
ready for training.

Videos live under data/<side>_adrenal/class_<a>_<b>_<c>/. Every video is
cropped, resized, converted to grayscale and sampled to a fixed number
of frames.

Quick Start:
  adrenalset scaffold          Create the labeled folder tree
  adrenalset build --qa        Build videos.npy, labels.npy and labels_names.npy
  adrenalset inspect           Print array shapes and class balance
  adrenalset qa                Write contact sheets and look for duplicates`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default is ./adrenalset.yaml, can also use ADRENALSET_CONFIG_FILE)")
	root.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	bindFlag(root.PersistentFlags(), "log-level", "log_level")

	root.AddCommand(
		newScaffoldCmd(a),
		newBuildCmd(a),
		newInspectCmd(a),
		newQACmd(a),
		newExtractCmd(a),
		newWatchCmd(a),
	)
	return root
}

// bindFlag marks a flag as the command-line source of a config key.
func bindFlag(fs *pflag.FlagSet, name, key string) {
	if err := fs.SetAnnotation(name, viperKey, []string{key}); err != nil {
		panic(err)
	}
}

func (a *app) init(cmd *cobra.Command) error {
	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if key, ok := f.Annotations[viperKey]; ok && bindErr == nil {
			bindErr = a.v.BindPFlag(key[0], f)
		}
	})
	if bindErr != nil {
		return bindErr
	}

	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
	} else if path := os.Getenv(envConfigFile); path != "" {
		a.v.SetConfigFile(path)
	} else {
		a.v.AddConfigPath(".")
		a.v.SetConfigType("yaml")
		a.v.SetConfigName(config.FileName)
	}

	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	a.v.AutomaticEnv()

	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg

	a.logger, err = newLogger(cmd.ErrOrStderr(), cfg.LogLevel)
	if err != nil {
		return err
	}
	if used := a.v.ConfigFileUsed(); used != "" {
		a.logger.Debug("using config file", "path", used)
	}
	return nil
}

func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return slog.New(
		tint.NewHandler(w, &tint.Options{
			Level:      lvl,
			TimeFormat: "15:04:05",
		}),
	), nil
}

func (a *app) loaderOptions() loader.Options {
	c := a.cfg.Loader
	return loader.Options{
		Frames:     c.Frames,
		Width:      c.Width,
		Height:     c.Height,
		Crop:       c.CropRect(),
		Extensions: c.Extensions,
		Workers:    c.Workers,
	}
}

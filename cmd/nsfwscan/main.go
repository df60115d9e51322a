package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/keagan/nsfwscan/internal/ai"
	"github.com/keagan/nsfwscan/internal/config"
	"github.com/keagan/nsfwscan/internal/ffmpeg"
	"github.com/keagan/nsfwscan/internal/gui"
	"github.com/keagan/nsfwscan/internal/logging"
	"github.com/keagan/nsfwscan/internal/pipeline"
	"github.com/keagan/nsfwscan/internal/server"
	"github.com/keagan/nsfwscan/internal/video"
	"github.com/keagan/nsfwscan/pkg/util"
)

var (
	cfgFile string
	verbose bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "nsfwscan",
	Short:        "nsfwscan - NSFW image and video classifier",
	Long:         "Classifies uploaded images with an image model and samples videos at a fixed period to reach a single NSFW/SFW verdict.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			logging.Init(verbose, false)
			return err
		}

		logging.Init(verbose, cfg.Log.JSON)

		ctx := config.WithConfig(cmd.Context(), cfg)
		cmd.SetContext(ctx)

		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	serveCmd.Flags().Bool("preload", true, "load the model before accepting requests")
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(guiCmd)
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}

// newClassifier defers loading the ONNX session until first use
func newClassifier(cfg *config.Config) *ai.LazyClassifier {
	c := cfg.Classifier
	return ai.NewLazyClassifier(func() (ai.Classifier, error) {
		return ai.NewONNXClassifier(logging.NewLogger(), ai.ONNXConfig{
			ModelPath:   c.ModelPath,
			LibraryPath: c.LibraryPath,
			InputName:   c.InputName,
			OutputName:  c.OutputName,
			InputSize:   c.InputSize,
			Labels:      c.Labels,
			Mean:        c.Mean,
			Std:         c.Std,
		})
	})
}

// newOpener binds video decoding to ffmpeg. Without ffmpeg on PATH every
// video fails as an internal error while images keep working.
func newOpener(cfg *config.Config) video.OpenFunc {
	exec, err := ffmpeg.New(logging.NewLogger(), ffmpeg.Options{
		FFmpegPath:  cfg.FFmpeg.FFmpegPath,
		FFprobePath: cfg.FFmpeg.FFprobePath,
		Threads:     cfg.FFmpeg.Threads,
	})
	if err != nil {
		logging.WithComponent("cli").Warn().Err(err).Msg("video analysis disabled")
		return func(ctx context.Context, path string) (video.Stream, error) {
			return nil, err
		}
	}
	return video.FFmpegOpener(exec, ffmpeg.FrameOptions{MaxDuration: cfg.Video.MaxDuration})
}

func newPipeline(cfg *config.Config) (*pipeline.Pipeline, *ai.LazyClassifier) {
	classifier := newClassifier(cfg)
	return pipeline.New(logging.NewLogger(), cfg, classifier, newOpener(cfg)), classifier
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the upload page and the /analyze endpoint",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		if err := util.EnsureDir(cfg.Server.TempDir); err != nil {
			return fmt.Errorf("temp dir: %w", err)
		}

		pipe, classifier := newPipeline(cfg)
		defer pipe.Close()

		if preload, _ := cmd.Flags().GetBool("preload"); preload {
			if err := classifier.Load(); err != nil {
				return fmt.Errorf("load model: %w", err)
			}
		}

		srv := server.New(logging.NewLogger(), cfg.Server, pipe)
		if err := srv.Serve(cmd.Context()); err != nil {
			return err
		}

		log.Info().Msg("server stopped")
		return nil
	},
}

var classifyCmd = &cobra.Command{
	Use:   "classify [image or video]",
	Short: "Classify a single file and print the result as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		pipe, _ := newPipeline(cfg)
		defer pipe.Close()

		res, err := pipe.AnalyzeFile(cmd.Context(), args[0])
		if err != nil {
			pe := pipeline.AsError(err)
			logging.WithComponent("cli").Error().Err(err).Str("kind", string(pe.Kind)).Str("input", args[0]).Msg("classification failed")
			return errors.New(pe.Detail)
		}

		out, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

var guiCmd = &cobra.Command{
	Use:   "gui",
	Short: "Open the desktop image detector",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		pipe, classifier := newPipeline(cfg)
		defer pipe.Close()

		policy := video.Policy{
			PositiveLabels: cfg.Video.PositiveLabels,
			Threshold:      cfg.Video.Threshold,
		}
		gui.Run(logging.NewLogger(), pipe, classifier, policy)
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Config management commands",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(cfg)
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write the default configuration to a file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "config.yaml"
		if len(args) == 1 {
			path = args[0]
		}

		force, _ := cmd.Flags().GetBool("force")
		if util.FileExists(path) && !force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}

		if err := config.Default().Save(path); err != nil {
			return err
		}

		log.Info().Str("path", path).Msg("config written")
		return nil
	},
}

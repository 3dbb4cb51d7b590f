package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"asr-call-monitor/internal/app"
	"asr-call-monitor/internal/config"
	"asr-call-monitor/internal/pipeline"
	"asr-call-monitor/internal/service/audio"
)

var (
	envFile     string
	pace        bool
	maxDuration time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "callmonitor",
	Short:         "Stream call audio to a recognizer and extract a call record",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var monitorCmd = &cobra.Command{
	Use:   "monitor [file.wav|-]",
	Short: "Transcribe a call and keep its call record up to date",
	Long: `Streams a WAV file, or raw 16-bit mono PCM from stdin when the argument
is "-" or omitted, and prints the call record after every extraction.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup()
		if err != nil {
			return err
		}
		return serve(cmd.Context(), a, func(ctx context.Context) error {
			res, record, err := a.RunMonitor(ctx, source(a, args))
			printJSON(map[string]any{
				"reason":     res.Reason,
				"durationMs": res.Duration.Milliseconds(),
				"record":     record.Render(),
			})
			return err
		})
	},
}

var transcribeCmd = &cobra.Command{
	Use:   "transcribe <file.wav|->",
	Short: "Only transcribe, printing each utterance as it completes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup()
		if err != nil {
			return err
		}
		return serve(cmd.Context(), a, func(ctx context.Context) error {
			res, _, err := a.RunTranscribe(ctx, source(a, args), func(line string) {
				fmt.Println(line)
			})
			log.Info().Str("reason", res.Reason).Dur("duration", res.Duration).Msg("Transcription finished")
			return err
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	rootCmd.PersistentFlags().BoolVar(&pace, "pace", false, "replay files in real time")
	rootCmd.PersistentFlags().DurationVar(&maxDuration, "max-duration", 0, "stop reading stdin after this much audio")
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(transcribeCmd)
}

func setup() (*app.Application, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}
	cfg := config.Load()
	if pace {
		cfg.Audio.PaceRealtime = true
	}
	if maxDuration > 0 {
		cfg.Audio.MaxDuration = maxDuration
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return app.New(cfg), nil
}

func source(a *app.Application, args []string) pipeline.Source {
	if len(args) == 0 || args[0] == "-" {
		return &audio.ReaderSource{R: os.Stdin, Format: a.AudioFormat(), MaxDuration: a.Cfg.Audio.MaxDuration}
	}
	return &audio.WAVSource{Path: args[0], Format: a.AudioFormat(), Pace: a.Cfg.Audio.PaceRealtime}
}

// serve starts the servers, runs fn until it returns or a signal arrives,
// then shuts everything down.
func serve(parent context.Context, a *app.Application, fn func(ctx context.Context) error) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Start(); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.Shutdown(shutdownCtx)
	}()
	return fn(ctx)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Error().Err(err).Msg("callmonitor failed")
		os.Exit(1)
	}
}

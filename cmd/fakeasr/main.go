package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"asr-call-monitor/internal/config"
	"asr-call-monitor/internal/observability/logging"
	"asr-call-monitor/internal/service/stt/mock"
)

var (
	addr               string
	framesPerUtterance int
	rejectCode         int
	dropAfterFrames    int
	insecure           bool
)

var rootCmd = &cobra.Command{
	Use:   "fakeasr",
	Short: "Local websocket recognizer that replays a scripted call",
	Long: `Serves /asr/v2/{appid} with the same handshake and event format as the
hosted recognizer. Signatures are verified with ASR_SECRET_KEY unless
--insecure is set.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := config.LoadDotEnv(); err != nil {
			return err
		}
		cfg := config.Load()
		logging.Init(logging.Config{Level: cfg.Observability.LogLevel, Format: cfg.Observability.LogFormat})

		srv := mock.NewServer(cfg.ASR.SecretKey)
		if insecure {
			srv.SecretKey = ""
		}
		srv.FramesPerUtterance = framesPerUtterance
		srv.RejectCode = rejectCode
		srv.DropAfterFrames = dropAfterFrames

		r := chi.NewRouter()
		r.Use(middleware.RealIP)
		r.Use(middleware.Recoverer)
		r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("ok"))
		})
		r.Handle("/asr/v2/{appid}", srv)

		httpServer := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = httpServer.Shutdown(shutdownCtx)
		}()

		log.Info().
			Str("addr", addr).
			Bool("verifySignature", srv.SecretKey != "").
			Int("framesPerUtterance", srv.FramesPerUtterance).
			Msg("Fake recognizer listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		stats := srv.Stats()
		log.Info().
			Int("sessions", stats.Sessions).
			Int("frames", stats.Frames).
			Int("bytes", stats.Bytes).
			Msg("Fake recognizer stopped")
		return nil
	},
}

func init() {
	rootCmd.Flags().StringVar(&addr, "addr", ":8765", "listen address")
	rootCmd.Flags().IntVar(&framesPerUtterance, "frames-per-utterance", 25, "audio frames between scripted utterances, 0 holds them until end of stream")
	rootCmd.Flags().IntVar(&rejectCode, "reject-code", 0, "reject every handshake with this code")
	rootCmd.Flags().IntVar(&dropAfterFrames, "drop-after-frames", 0, "close the connection without a final event after this many frames")
	rootCmd.Flags().BoolVar(&insecure, "insecure", false, "skip signature verification")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Error().Err(err).Msg("fakeasr failed")
		os.Exit(1)
	}
}

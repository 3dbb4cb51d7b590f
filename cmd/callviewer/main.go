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
	"golang.org/x/sync/errgroup"

	"asr-call-monitor/internal/config"
	"asr-call-monitor/internal/observability/logging"
	"asr-call-monitor/internal/viewer"
)

var (
	addr  string
	since time.Duration
)

const page = `<!doctype html>
<html>
<head><meta charset="utf-8"><title>Call monitor</title>
<style>
body { font-family: sans-serif; margin: 2em; }
#record { background: #f4f4f4; padding: 1em; white-space: pre; }
.partial { color: #888; }
</style>
</head>
<body>
<h2>Call record</h2>
<div id="record">waiting...</div>
<h2>Transcript</h2>
<div id="partial" class="partial"></div>
<ol id="lines"></ol>
<script>
const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
ws.onmessage = (msg) => {
  const ev = JSON.parse(msg.data);
  const p = ev.payload;
  if (ev.eventType === "call.transcript.partial") {
    document.getElementById("partial").textContent = p.text;
  } else if (ev.eventType === "call.transcript.utterance") {
    document.getElementById("partial").textContent = "";
    const li = document.createElement("li");
    li.textContent = p.text;
    document.getElementById("lines").appendChild(li);
  } else if (ev.eventType === "call.record.updated") {
    document.getElementById("record").textContent =
      "Caller: " + p.callerName + "\nLocation: " + p.location +
      "\nCategory: " + p.caseCategory + "\nDescription: " + p.description;
  }
};
</script>
</body>
</html>
`

var rootCmd = &cobra.Command{
	Use:          "callviewer",
	Short:        "Show published transcripts and call records in a browser",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := config.LoadDotEnv(); err != nil {
			return err
		}
		cfg := config.Load()
		logging.Init(logging.Config{Level: cfg.Observability.LogLevel, Format: cfg.Observability.LogFormat})
		if len(cfg.Kafka.Brokers) == 0 {
			return errors.New("KAFKA_BROKERS is required")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		hub := viewer.NewHub(logging.WithComponent("viewer-hub"))
		g, gctx := errgroup.WithContext(ctx)
		for _, topic := range []string{cfg.Kafka.TopicPartial, cfg.Kafka.TopicUtterance, cfg.Kafka.TopicCallRecord} {
			reader, err := viewer.NewReader(ctx, cfg.Kafka.Brokers, topic, since)
			if err != nil {
				return err
			}
			defer reader.Close()
			topic := topic
			g.Go(func() error {
				return viewer.Consume(gctx, reader, topic, hub, logging.WithComponent("viewer-consumer"), time.Second)
			})
		}

		r := chi.NewRouter()
		r.Use(middleware.Recoverer)
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(page))
		})
		r.Handle("/ws", hub)
		server := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
		g.Go(func() error {
			log.Info().
				Str("addr", addr).
				Strs("brokers", cfg.Kafka.Brokers).
				Msg("Call viewer listening")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		return g.Wait()
	},
}

func init() {
	rootCmd.Flags().StringVar(&addr, "addr", ":8081", "HTTP listen address")
	rootCmd.Flags().DurationVar(&since, "since", time.Hour, "replay messages newer than this on start")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Error().Err(err).Msg("callviewer failed")
		os.Exit(1)
	}
}

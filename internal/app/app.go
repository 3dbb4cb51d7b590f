package app

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	grpcapi "asr-call-monitor/internal/api/grpc"
	"asr-call-monitor/internal/config"
	"asr-call-monitor/internal/events"
	httpapi "asr-call-monitor/internal/http"
	"asr-call-monitor/internal/observability"
	"asr-call-monitor/internal/observability/logging"
	"asr-call-monitor/internal/observability/metrics"
	"asr-call-monitor/internal/pipeline"
	"asr-call-monitor/internal/queue"
	"asr-call-monitor/internal/service/audio"
	"asr-call-monitor/internal/service/llm/gemini"
	"asr-call-monitor/internal/service/llm/openai"
	"asr-call-monitor/internal/service/monitor"
	"asr-call-monitor/internal/service/session"
	"asr-call-monitor/internal/service/stt"
	"asr-call-monitor/internal/service/stt/google"
	"asr-call-monitor/internal/service/stt/tencent"
)

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Configuration
	Metrics     *metrics.Metrics
	Publisher   *events.Publisher
	Records     *monitor.Store

	obs    *observability.Server
	grpc   *grpcapi.Server
	active atomic.Pointer[session.Lifecycle]
}

// New constructs a new Application from the provided configuration.
func New(cfg *config.Configuration) *Application {
	logging.Init(logging.Config{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
	})

	a := &Application{
		Cfg:     cfg,
		Logger:  logging.WithComponent("application"),
		Metrics: metrics.DefaultMetrics,
		Records: monitor.NewStore(),
	}
	a.Publisher = events.New(&events.Config{
		Enabled:         cfg.Kafka.Enabled,
		Brokers:         cfg.Kafka.Brokers,
		TopicPartial:    cfg.Kafka.TopicPartial,
		TopicUtterance:  cfg.Kafka.TopicUtterance,
		TopicCallRecord: cfg.Kafka.TopicCallRecord,
		Principal:       cfg.Kafka.Principal,
	}, events.WithMetrics(a.Metrics), events.WithLogger(logging.WithComponent("publisher")))

	a.Logger.Info().
		Str("sttProvider", cfg.STT.Provider).
		Str("extractor", cfg.Extractor.Provider).
		Msg("Call monitor application created")
	return a
}

// Start brings up the observability and health servers.
func (a *Application) Start() error {
	a.StartupTime = time.Now().UTC()

	if addr := a.Cfg.Service.MetricsAddr; addr != "" {
		a.obs = observability.NewServer(addr, httpapi.NewRouter(httpapi.Deps{
			Readiness: a,
			Records:   a.Records,
		}))
		a.obs.Start()
	}
	if port := a.Cfg.Service.GRPCPort; port != "" {
		a.grpc = grpcapi.New(a.Metrics)
		if err := a.grpc.Listen(port); err != nil {
			return err
		}
	}

	a.Logger.Info().
		Time("startupTime", a.StartupTime).
		Msg("Call monitor starting")
	return nil
}

// Shutdown performs a best-effort cleanup before process exit.
func (a *Application) Shutdown(ctx context.Context) {
	a.Logger.Info().Msg("Call monitor shutting down")
	if a.grpc != nil {
		a.grpc.Stop()
	}
	if a.obs != nil {
		if err := a.obs.Shutdown(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("Observability server shutdown")
		}
	}
	if err := a.Publisher.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Publisher close")
	}
}

// Ready reports whether a session currently holds an authenticated connection.
func (a *Application) Ready() bool {
	l := a.active.Load()
	return l != nil && l.IsActive()
}

// AudioFormat is the frame format every source must produce.
func (a *Application) AudioFormat() audio.Format {
	return audio.Format{SampleRateHz: a.Cfg.Audio.SampleRateHz, FrameMs: a.Cfg.Audio.FrameMs}
}

// RunMonitor streams src through the recognizer into the call record monitor.
func (a *Application) RunMonitor(ctx context.Context, src pipeline.Source) (pipeline.Result, monitor.CallRecord, error) {
	extractor, closeExtractor, err := a.NewExtractor(ctx)
	if err != nil {
		return pipeline.Result{}, monitor.CallRecord{}, err
	}
	defer closeExtractor()

	id := session.NewID()
	utterances := queue.New[string](a.Cfg.Audio.QueueSize)
	mon := monitor.New(monitor.Config{
		Cooldown:   a.Cfg.Extractor.Cooldown,
		MaxLatency: a.Cfg.Extractor.MaxLatency,
		Timeout:    a.Cfg.Extractor.Timeout,
	}, utterances, extractor, monitor.MultiSink{
		monitor.LogSink{Logger: logging.WithSession("call-record", id)},
		a.Records,
		a.Publisher,
	}, monitor.WithMetrics(a.Metrics), monitor.WithSessionID(id))

	res, err := a.run(ctx, id, src, utterances, mon)
	return res, mon.Record(), err
}

// RunTranscribe streams src through the recognizer and collects the transcript.
func (a *Application) RunTranscribe(ctx context.Context, src pipeline.Source, onLine func(string)) (pipeline.Result, string, error) {
	id := session.NewID()
	utterances := queue.New[string](a.Cfg.Audio.QueueSize)
	transcript := pipeline.NewTranscript(utterances)
	transcript.OnLine = onLine

	res, err := a.run(ctx, id, src, utterances, transcript)
	return res, transcript.Text(), err
}

func (a *Application) run(ctx context.Context, id string, src pipeline.Source, utterances *queue.FIFO[string], consumer pipeline.Consumer) (pipeline.Result, error) {
	if t := a.Cfg.Service.SessionTimeout; t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	defer a.Publisher.Forget(id)

	frames := queue.New[stt.Frame](a.Cfg.Audio.QueueSize)
	transcriber, lifecycle, closeClient, err := a.newTranscriber(ctx, id, frames, utterances)
	if err != nil {
		return pipeline.Result{Reason: stt.ReasonTransport}, err
	}
	defer closeClient()

	a.active.Store(lifecycle)
	defer a.active.CompareAndSwap(lifecycle, nil)

	logger := logging.WithSession("pipeline", id)
	p := &pipeline.Pipeline{
		Source:     src,
		Frames:     frames,
		Session:    &tracked{Transcriber: transcriber, app: a},
		Utterances: utterances,
		Consumer:   consumer,
		Logger:     &logger,
	}
	return p.Run(ctx)
}

// NewExtractor builds the configured extraction backend and its cleanup.
func (a *Application) NewExtractor(ctx context.Context) (monitor.Extractor, func() error, error) {
	cfg := a.Cfg.Extractor
	switch cfg.Provider {
	case openai.Name:
		return openai.New(openai.Config{BaseURL: cfg.BaseURL, APIKey: cfg.APIKey, Model: cfg.Model}), func() error { return nil }, nil
	case gemini.Name:
		ex, err := gemini.New(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, nil, err
		}
		return ex, ex.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown extractor provider %q", cfg.Provider)
	}
}

func (a *Application) newTranscriber(ctx context.Context, id string, frames *queue.FIFO[stt.Frame], utterances *queue.FIFO[string]) (stt.Transcriber, *session.Lifecycle, func() error, error) {
	hook := a.Publisher.Hook(id)
	noop := func() error { return nil }

	switch a.Cfg.STT.Provider {
	case tencent.Provider:
		c := a.Cfg.ASR
		signer := tencent.NewSigner(
			tencent.Credentials{AppID: c.AppID, SecretID: c.SecretID, SecretKey: c.SecretKey},
			tencent.Options{
				Scheme:          c.Scheme,
				Host:            c.Host,
				EngineModelType: c.EngineModelType,
				NeedVAD:         c.NeedVAD,
				VoiceFormat:     c.VoiceFormat,
				TTL:             c.SignatureTTL,
			},
		)
		s := tencent.New(tencent.Config{VADSilenceMs: c.VADSilenceMs, HandshakeTimeout: c.HandshakeTimeout},
			signer, frames, utterances,
			tencent.WithSessionID(id),
			tencent.WithMetrics(a.Metrics),
			tencent.WithEventHook(hook),
		)
		return s, s.Lifecycle(), noop, nil

	case google.Provider:
		open, closeClient, err := google.NewOpener(ctx)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("speech client: %w", err)
		}
		cfg := google.DefaultConfig()
		cfg.LanguageCode = a.Cfg.STT.LanguageCode
		cfg.SampleRateHz = a.Cfg.Audio.SampleRateHz
		s := google.New(cfg, open, frames, utterances,
			google.WithSessionID(id),
			google.WithMetrics(a.Metrics),
			google.WithEventHook(hook),
		)
		return s, s.Lifecycle(), closeClient, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown STT provider %q", a.Cfg.STT.Provider)
	}
}

// tracked mirrors the session's connection state into gRPC health.
type tracked struct {
	stt.Transcriber
	app *Application
}

func (t *tracked) Connect(ctx context.Context) error {
	err := t.Transcriber.Connect(ctx)
	if err == nil && t.app.grpc != nil {
		t.app.grpc.SetServing(true)
	}
	return err
}

func (t *tracked) Close() error {
	if t.app.grpc != nil {
		t.app.grpc.SetServing(false)
	}
	return t.Transcriber.Close()
}

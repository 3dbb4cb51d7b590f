// Package pipeline runs an audio source, a recognizer session and an
// utterance consumer as one unit.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"asr-call-monitor/internal/observability/logging"
	"asr-call-monitor/internal/queue"
	"asr-call-monitor/internal/service/stt"
)

// Source produces audio frames followed by the end-of-input marker.
type Source interface {
	Run(ctx context.Context, out *queue.FIFO[stt.Frame]) error
}

// Consumer handles utterances until its context is cancelled or the FIFO
// is closed. It must acknowledge every item it takes.
type Consumer interface {
	Run(ctx context.Context) error
}

// Result describes how a run ended.
type Result struct {
	Reason   string
	Duration time.Duration
}

// Pipeline wires a source into a session and the session into a consumer
// through the two FIFOs the caller created them with.
type Pipeline struct {
	Source     Source
	Frames     *queue.FIFO[stt.Frame]
	Session    stt.Transcriber
	Utterances *queue.FIFO[string]
	Consumer   Consumer
	Logger     *zerolog.Logger
}

// Run connects the session, then streams until the source, sender and
// receiver have all returned. The session is then closed, the utterance
// FIFO drained and the consumer cancelled.
//
// The returned error is the streaming error if any, otherwise the
// consumer's error. Cancellation of the consumer by Run is not an error.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	logger := logging.WithComponent("pipeline")
	if p.Logger != nil {
		logger = *p.Logger
	}
	start := time.Now()
	result := func(err error) Result {
		return Result{Reason: stt.Reason(err), Duration: time.Since(start)}
	}

	if err := p.Session.Connect(ctx); err != nil {
		_ = p.Session.Close()
		logger.Error().Err(err).Msg("Session failed to connect")
		return result(err), err
	}

	consumerCtx, cancelConsumer := context.WithCancel(ctx)
	defer cancelConsumer()
	consumerDone := make(chan error, 1)
	go func() {
		consumerDone <- p.Consumer.Run(consumerCtx)
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.Source.Run(gctx, p.Frames) })
	g.Go(func() error { return p.Session.RunSender(gctx) })
	g.Go(func() error { return p.Session.RunReceiver(gctx) })
	streamErr := g.Wait()
	_ = p.Session.Close()

	if streamErr != nil {
		logger.Warn().Err(streamErr).Str("reason", stt.Reason(streamErr)).Msg("Streaming ended with error")
	}

	// Let the consumer finish what the session handed over before stopping it.
	var consumerErr error
	consumerFinished := false
	drainCtx, cancelDrain := context.WithCancel(ctx)
	drained := make(chan error, 1)
	go func() { drained <- p.Utterances.Join(drainCtx) }()
	select {
	case err := <-drained:
		if err != nil {
			logger.Warn().Err(err).Int("pending", p.Utterances.Unfinished()).Msg("Stopped waiting for utterances to drain")
		}
	case consumerErr = <-consumerDone:
		consumerFinished = true
	}
	cancelDrain()

	cancelConsumer()
	if !consumerFinished {
		consumerErr = <-consumerDone
	}
	if errors.Is(consumerErr, context.Canceled) {
		consumerErr = nil
	}
	if consumerErr != nil {
		logger.Error().Err(consumerErr).Msg("Consumer failed")
	}

	err := streamErr
	if err == nil {
		err = consumerErr
	}
	res := result(streamErr)
	logger.Info().
		Str("reason", res.Reason).
		Dur("duration", res.Duration).
		Msg("Pipeline finished")
	return res, err
}

// Package dispatcher drives the worker from the external work queue until the
// queue drains or the process is told to stop.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/review-harvester/internal/harvest"
	"github.com/JakeFAU/review-harvester/internal/metrics"
)

// Processor handles one unit and reports the outcome.
type Processor interface {
	Process(ctx context.Context, unitID string, itemCap int) harvest.OutcomeEvent
}

// Config controls the polling loop.
type Config struct {
	ItemCap      int
	Wait         time.Duration
	UnitDelayMin time.Duration
	UnitDelayMax time.Duration
	DrainRecheck time.Duration
	ErrorPause   time.Duration
	// MaxUnits stops the loop after that many units; zero means no limit.
	MaxUnits int
}

// DefaultConfig mirrors the production pacing.
func DefaultConfig() Config {
	return Config{
		ItemCap:      10000,
		Wait:         20 * time.Second,
		UnitDelayMin: 25 * time.Second,
		UnitDelayMax: 35 * time.Second,
		DrainRecheck: 30 * time.Second,
		ErrorPause:   10 * time.Second,
	}
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithSinks registers outcome sinks notified after every unit.
func WithSinks(sinks ...harvest.OutcomeSink) Option {
	return func(d *Dispatcher) {
		d.sinks = append(d.sinks, sinks...)
	}
}

// WithRandSource replaces the jitter source (tests).
func WithRandSource(source func() float64) Option {
	return func(d *Dispatcher) {
		d.rand = source
	}
}

// Dispatcher polls the queue one message at a time.
type Dispatcher struct {
	queue     harvest.Queue
	processor Processor
	sleeper   harvest.Sleeper
	sinks     []harvest.OutcomeSink
	cfg       Config
	rand      func() float64
	logger    *zap.Logger
}

// New creates a Dispatcher.
func New(queue harvest.Queue, processor Processor, sleeper harvest.Sleeper, cfg Config, logger *zap.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		queue:     queue,
		processor: processor,
		sleeper:   sleeper,
		cfg:       cfg,
		rand:      rand.Float64,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run polls until the queue is drained (nil), MaxUnits is reached (nil) or
// ctx is canceled (ctx.Err()). A unit already being processed is finished
// before cancellation is honored.
func (d *Dispatcher) Run(ctx context.Context) error {
	processed := 0
	for {
		if err := ctx.Err(); err != nil {
			d.logger.Info("dispatcher stopping", zap.Int("processed", processed))
			return err
		}
		if d.cfg.MaxUnits > 0 && processed >= d.cfg.MaxUnits {
			d.logger.Info("unit limit reached", zap.Int("processed", processed))
			return nil
		}

		msgs, err := d.queue.Receive(ctx, 1, d.cfg.Wait)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			metrics.ObserveQueuePoll("error")
			d.logger.Error("queue receive failed", zap.Error(err))
			if err := d.pause(ctx, d.cfg.ErrorPause); err != nil {
				return err
			}
			continue
		}

		if len(msgs) == 0 {
			metrics.ObserveQueuePoll("empty")
			drained, err := d.drained(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				d.logger.Error("queue counts failed", zap.Error(err))
				if err := d.pause(ctx, d.cfg.ErrorPause); err != nil {
					return err
				}
				continue
			}
			if drained {
				d.logger.Info("queue drained; exiting", zap.Int("processed", processed))
				return nil
			}
			if err := d.pause(ctx, d.cfg.DrainRecheck); err != nil {
				return err
			}
			continue
		}

		metrics.ObserveQueuePoll("hit")
		handled, err := d.handleRecovered(ctx, msgs[0])
		if handled {
			processed++
		}
		if err != nil {
			d.logger.Error("message handling failed", zap.Error(err))
			if err := d.pause(ctx, d.cfg.ErrorPause); err != nil {
				return err
			}
			continue
		}
		if !handled || (d.cfg.MaxUnits > 0 && processed >= d.cfg.MaxUnits) {
			continue
		}
		if err := d.pause(ctx, d.unitDelay()); err != nil {
			return err
		}
	}
}

// handle processes one message. It reports whether a unit was processed.
func (d *Dispatcher) handle(ctx context.Context, msg harvest.Message) (bool, error) {
	unitID := strings.TrimSpace(msg.Body)
	if err := harvest.ValidateUnit(unitID); err != nil {
		d.logger.Error("dropping unusable message", zap.String("body", msg.Body), zap.Error(err))
		if err := d.queue.Delete(ctx, msg.ReceiptHandle); err != nil {
			return false, fmt.Errorf("delete unusable message: %w", err)
		}
		return false, nil
	}

	// The unit runs to completion even if a shutdown signal arrives meanwhile.
	unitCtx := context.WithoutCancel(ctx)
	event := d.processor.Process(unitCtx, unitID, d.cfg.ItemCap)

	var errs []error
	if event.Outcome.Acknowledge() {
		if err := d.queue.Delete(unitCtx, msg.ReceiptHandle); err != nil {
			errs = append(errs, fmt.Errorf("acknowledge %s: %w", unitID, err))
		}
	} else {
		d.logger.Debug("leaving message for redelivery", zap.String("unit_id", unitID), zap.String("outcome", string(event.Outcome)))
	}

	for _, sink := range d.sinks {
		if err := recordOutcome(unitCtx, sink, event); err != nil {
			d.logger.Warn("outcome sink failed", zap.String("unit_id", unitID), zap.Error(err))
		}
	}
	return true, errors.Join(errs...)
}

// handleRecovered turns a panic while handling msg into an error so the loop
// pauses and keeps polling. The message is left for redelivery.
func (d *Dispatcher) handleRecovered(ctx context.Context, msg harvest.Message) (handled bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic while handling message",
				zap.String("body", msg.Body),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			handled, err = false, fmt.Errorf("panic handling message: %v", r)
		}
	}()
	return d.handle(ctx, msg)
}

func recordOutcome(ctx context.Context, sink harvest.OutcomeSink, event harvest.OutcomeEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panic: %v", r)
		}
	}()
	return sink.RecordOutcome(ctx, event)
}

// drained reports whether nothing is visible and nothing is in flight.
// Messages held by other workers keep this worker polling.
func (d *Dispatcher) drained(ctx context.Context) (bool, error) {
	visible, inFlight, err := d.queue.Counts(ctx)
	if err != nil {
		return false, fmt.Errorf("queue counts: %w", err)
	}
	d.logger.Debug("queue empty on poll", zap.Int("visible", visible), zap.Int("in_flight", inFlight))
	return visible == 0 && inFlight == 0, nil
}

func (d *Dispatcher) unitDelay() time.Duration {
	lo, hi := d.cfg.UnitDelayMin, d.cfg.UnitDelayMax
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(d.rand()*float64(hi-lo))
}

func (d *Dispatcher) pause(ctx context.Context, delay time.Duration) error {
	if err := d.sleeper.Sleep(ctx, delay); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// PublisherSink adapts a topic publisher into an outcome sink.
type PublisherSink struct {
	Publisher harvest.Publisher
	Topic     string
}

// RecordOutcome publishes the event to the configured topic.
func (s PublisherSink) RecordOutcome(ctx context.Context, event harvest.OutcomeEvent) error {
	if _, err := s.Publisher.Publish(ctx, s.Topic, event); err != nil {
		return fmt.Errorf("publish outcome: %w", err)
	}
	return nil
}

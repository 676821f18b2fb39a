// Package recorder moves samples and lifecycle events off the fan-out path
// into persistence and export sinks.
package recorder

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"bustrack/internal/metrics"
)

// Sink receives batches of records. Write should honour ctx.
type Sink interface {
	Name() string
	Write(ctx context.Context, batch []Record) error
}

type Options struct {
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
	// MaxAttempts per sink per batch; a batch that still fails is dropped.
	MaxAttempts  int
	WriteTimeout time.Duration
	// RetryBase is the first retry delay; it doubles per attempt.
	RetryBase time.Duration
}

// Recorder buffers records in a bounded queue and flushes them to every sink
// in batches, either when BatchSize is reached or every FlushInterval.
type Recorder struct {
	opts  Options
	sinks []Sink
	log   logrus.FieldLogger

	queue chan Record
	stop  chan struct{}
	done  chan struct{}
	once  sync.Once
}

func New(opts Options, log logrus.FieldLogger, sinks ...Sink) *Recorder {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 4096
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = 200 * time.Millisecond
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Recorder{
		opts:  opts,
		sinks: sinks,
		log:   log.WithField("component", "recorder"),
		queue: make(chan Record, opts.QueueSize),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Record enqueues rec without blocking. It reports false when the queue is full.
func (r *Recorder) Record(rec Record) bool {
	select {
	case r.queue <- rec:
		return true
	default:
		metrics.RecorderDropped.Inc()
		r.log.WithField("kind", rec.Kind()).Warn("recorder queue full, record dropped")
		return false
	}
}

// Start runs the flush loop until Stop is called or ctx is cancelled.
func (r *Recorder) Start(ctx context.Context) {
	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.opts.FlushInterval)
		defer ticker.Stop()
		batch := make([]Record, 0, r.opts.BatchSize)
		for {
			select {
			case rec := <-r.queue:
				batch = append(batch, rec)
				if len(batch) >= r.opts.BatchSize {
					r.flush(ctx, batch)
					batch = batch[:0]
				}
			case <-ticker.C:
				if len(batch) > 0 {
					r.flush(ctx, batch)
					batch = batch[:0]
				}
			case <-r.stop:
				r.flush(context.WithoutCancel(ctx), r.drain(batch))
				return
			case <-ctx.Done():
				r.flush(context.WithoutCancel(ctx), r.drain(batch))
				return
			}
		}
	}()
}

// Stop flushes what is queued and waits for the loop to exit or ctx to end.
func (r *Recorder) Stop(ctx context.Context) error {
	r.once.Do(func() { close(r.stop) })
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) drain(batch []Record) []Record {
	for {
		select {
		case rec := <-r.queue:
			batch = append(batch, rec)
		default:
			return batch
		}
	}
}

func (r *Recorder) flush(ctx context.Context, batch []Record) {
	if len(batch) == 0 {
		return
	}
	for _, s := range r.sinks {
		r.writeSink(ctx, s, batch)
	}
}

func (r *Recorder) writeSink(ctx context.Context, s Sink, batch []Record) {
	name := s.Name()
	var err error
	for attempt := 0; attempt < r.opts.MaxAttempts; attempt++ {
		if attempt > 0 && !sleepCtx(ctx, nextBackoff(r.opts.RetryBase, attempt-1)) {
			break
		}
		wctx, cancel := context.WithTimeout(ctx, r.opts.WriteTimeout)
		start := time.Now()
		err = s.Write(wctx, batch)
		cancel()
		metrics.RecorderLatency.WithLabelValues(name).Observe(float64(time.Since(start).Milliseconds()))
		if err == nil {
			metrics.RecorderRecords.WithLabelValues(name, "ok").Add(float64(len(batch)))
			return
		}
		r.log.WithError(err).WithFields(logrus.Fields{"sink": name, "attempt": attempt + 1, "records": len(batch)}).Debug("sink write failed")
	}
	metrics.RecorderRecords.WithLabelValues(name, "failed").Add(float64(len(batch)))
	r.log.WithError(err).WithFields(logrus.Fields{"sink": name, "records": len(batch)}).Warn("sink batch dropped")
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func nextBackoff(base time.Duration, attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 10 {
		attempts = 10
	}
	d := base * time.Duration(1<<attempts)
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

package compress

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog/log"
)

var (
	// ErrPoolFull is returned when the job queue has no free slot
	ErrPoolFull = errors.New("compression pool full")

	// ErrPoolClosed is returned after Close
	ErrPoolClosed = errors.New("compression pool closed")
)

// PoolConfig holds compression pool configuration
type PoolConfig struct {
	// Workers is the number of compressing goroutines
	Workers int
	// QueueSize is the number of jobs that may wait for a worker
	QueueSize int
	// Level is the gzip level (default: gzip.DefaultCompression).
	// Zero (gzip.NoCompression) also selects the default.
	Level int
}

// DefaultPoolConfig returns the default pool configuration
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Workers:   4,
		QueueSize: 256,
		Level:     gzip.DefaultCompression,
	}
}

// Result is the outcome of one compression job
type Result struct {
	Data     []byte
	Err      error
	Duration time.Duration
}

type job struct {
	data   []byte
	done   func(Result)
	queued time.Time
}

// Pool compresses bodies on a fixed set of workers.
// Submit never blocks: a full queue is reported as ErrPoolFull.
type Pool struct {
	jobs   chan job
	config PoolConfig

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool starts a pool, filling zero config fields with defaults
func NewPool(config PoolConfig) *Pool {
	defaults := DefaultPoolConfig()
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.Level == 0 {
		config.Level = defaults.Level
	}

	p := &Pool{
		jobs:   make(chan job, config.QueueSize),
		config: config,
	}
	for i := 0; i < config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

// Config returns the effective configuration
func (p *Pool) Config() PoolConfig {
	return p.config
}

// Submit queues data for compression; done is called from a worker
func (p *Pool) Submit(data []byte, done func(Result)) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		Compressions.WithLabelValues("closed").Inc()
		return ErrPoolClosed
	}

	select {
	case p.jobs <- job{data: data, done: done, queued: time.Now()}:
		CompressionQueueDepth.Inc()
		return nil
	default:
		Compressions.WithLabelValues("full").Inc()
		return ErrPoolFull
	}
}

// Compress submits data and waits for the result or ctx cancellation
func (p *Pool) Compress(ctx context.Context, data []byte) ([]byte, error) {
	resultCh := make(chan Result, 1)
	if err := p.Submit(data, func(r Result) { resultCh <- r }); err != nil {
		return nil, err
	}

	select {
	case r := <-resultCh:
		return r.Data, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting jobs and waits for queued jobs to finish
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
}

// worker processes jobs from the queue
func (p *Pool) worker(workerID int) {
	defer p.wg.Done()
	processed := 0

	for j := range p.jobs {
		CompressionQueueDepth.Dec()

		start := time.Now()
		data, err := Gzip(j.data, p.config.Level)
		elapsed := time.Since(start)
		CompressionDuration.Observe(elapsed.Seconds())

		if err != nil {
			Compressions.WithLabelValues("error").Inc()
			log.Warn().
				Err(err).
				Int("worker_id", workerID).
				Int("bytes", len(j.data)).
				Msg("Compression failed")
		} else {
			Compressions.WithLabelValues("ok").Inc()
		}

		j.done(Result{Data: data, Err: err, Duration: elapsed})
		processed++
	}

	if processed > 0 {
		log.Debug().
			Int("worker_id", workerID).
			Int("jobs_processed", processed).
			Msg("Compression worker stopped")
	}
}

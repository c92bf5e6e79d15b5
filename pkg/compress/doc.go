// Package compress provides gzip helpers and a bounded compression worker pool.
//
// Response bodies are compressed once per cache fill and the gzip variant
// is stored next to the raw body, so clients that send
// "Accept-Encoding: gzip" are served without per-request compression.
//
// Example usage:
//
//	pool := compress.NewPool(compress.DefaultPoolConfig())
//	defer pool.Close()
//
//	gz, err := pool.Compress(ctx, body)
//	if err != nil {
//		// serve the raw body only
//	}
//
// The pool:
//   - Runs a fixed number of workers (default 4)
//   - Rejects jobs with ErrPoolFull when its queue is full
//   - Rejects jobs with ErrPoolClosed after Close
//   - Drains queued jobs on Close
package compress

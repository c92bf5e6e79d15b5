// Package shield caches GET responses and coalesces concurrent duplicate
// requests in front of a slow downstream handler.
//
// For a request matching a rule the engine either serves a fresh cached
// response, queues the request behind the key's current leader, rejects
// it when that queue is full, or makes it the leader that runs the
// downstream handler. The leader's outcome is fanned out to every queued
// request; successful 2xx responses with a body are cached for the
// rule's max age.
//
// Example usage:
//
//	engine, err := shield.New(shield.Config{
//		Rules: []rules.Rule{rules.MustPattern(`^/chatting`)},
//	})
//	if err != nil {
//		return err
//	}
//	defer engine.Close()
//
//	http.Handle("/", engine.Middleware(appHandler))
//
// Every response written by the HTTP glue carries an X-Shield header:
//   - hit: served from the cache
//   - through: the leader
//   - queue: a waiter that received the leader's outcome
//   - refuse: rejected with 503 because the queue was full
//
// A leader that produces no outcome within the rule's wait timeout
// settles with ErrTimeout (504). Anything the downstream handler emits
// afterwards is discarded.
package shield

package store

import (
	"context"
	"time"

	"gopkg.in/op/go-logging.v1"
)

// DefaultDebounce is how long the Writer waits after the last change.
const DefaultDebounce = 2 * time.Second

// Writer batches change notifications into debounced saves. A failed save is
// logged and retried on the next change; it never reaches the caller.
type Writer struct {
	db       *DB
	debounce time.Duration
	log      *logging.Logger
	notify   chan struct{}

	// OnFailure, if set, is called after every failed save.
	OnFailure func()
}

// NewWriter returns a Writer saving into db.
func NewWriter(db *DB, debounce time.Duration, log *logging.Logger) *Writer {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Writer{
		db:       db,
		debounce: debounce,
		log:      log,
		notify:   make(chan struct{}, 1),
	}
}

// Notify marks the state dirty. It never blocks.
func (w *Writer) Notify() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

// Run saves source() once no change was notified for the debounce period.
// When ctx is done it flushes once more and returns.
func (w *Writer) Run(ctx context.Context, source func() Record) {
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	dirty := false

	for {
		select {
		case <-w.notify:
			dirty = true
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)

		case <-timer.C:
			if dirty {
				w.Flush(source())
				dirty = false
			}

		case <-ctx.Done():
			w.Flush(source())
			w.log.Debug("State writer stopped")
			return
		}
	}
}

// Flush saves rec now and reports whether it succeeded.
func (w *Writer) Flush(rec Record) bool {
	if err := w.db.Save(rec); err != nil {
		w.log.Warningf("Failed to persist state: %v", err)
		if w.OnFailure != nil {
			w.OnFailure()
		}
		return false
	}
	w.log.Debugf("Persisted %d blocked tokens", len(rec.Snapshot.Blocklist))
	return true
}

package worker

import (
	"time"

	"github.com/vfsio/workerkit/internal/protocol/wire"
)

// ListEntry queues one directory entry for delivery. Entries are batched:
// a flush goes out when the batch reaches the size threshold or, on the
// next append, when the batch has been sitting longer than the age
// threshold. The final partial batch is flushed by the terminal signal,
// so every queued entry is delivered exactly once whether the listing
// finishes or errors.
func (w *Worker) ListEntry(e wire.Entry) error {
	if len(w.pending) == 0 {
		w.batchStart = time.Now()
	}
	w.pending = append(w.pending, e)

	if len(w.pending) >= w.batchSize || time.Since(w.batchStart) >= w.batchMaxAge {
		return w.flushEntries()
	}
	return nil
}

// ListEntries queues a slice of entries, flushing per the same thresholds.
func (w *Worker) ListEntries(entries []wire.Entry) error {
	for _, e := range entries {
		if err := w.ListEntry(e); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) flushEntries() error {
	if len(w.pending) == 0 {
		return nil
	}
	payload, err := wire.EncodeEntryList(w.pending)
	if err != nil {
		return err
	}
	w.pending = w.pending[:0]
	return w.send(wire.MsgListEntries, payload)
}

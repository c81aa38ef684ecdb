package worker

import (
	"fmt"

	"github.com/vfsio/workerkit/internal/protocol/wire"
)

// Signal emitters. Each writes one worker message on the channel. Send
// failures mean the job side is gone; the engine surfaces them out of the
// dispatch loop, so emitters panic-free propagate them as errors where a
// handler could react and log-and-drop where it could not.

func (w *Worker) send(cmd wire.Cmd, payload []byte) error {
	if err := w.conn.Send(cmd, payload); err != nil {
		return fmt.Errorf("send %s: %w", cmd, err)
	}
	return nil
}

func (w *Worker) sendMarshal(cmd wire.Cmd, v any) error {
	payload, err := wire.Marshal(v)
	if err != nil {
		return err
	}
	return w.send(cmd, payload)
}

// Data streams one chunk of content to the job. An empty chunk marks end
// of stream for a get; for streaming reads it answers one read request.
func (w *Worker) Data(chunk []byte) error {
	return w.send(wire.MsgData, chunk)
}

// DataReq asks the job for the next chunk of upload content. Handlers use
// ReadData, which pairs this with the answer receive.
func (w *Worker) DataReq() error {
	return w.send(wire.MsgDataReq, nil)
}

// Finished reports successful completion of the current command. The final
// partial entry batch and any accumulated outgoing metadata are flushed
// first so they arrive before the terminal signal.
//
// The engine tracks finalization: a handler that already called Finished
// or Error makes a second terminal signal a no-op, preserving the
// exactly-one terminal invariant.
func (w *Worker) Finished() error {
	if w.finalized {
		w.log.Warn("duplicate terminal signal dropped", "cmd", w.curCmd.String())
		return nil
	}
	if err := w.flushEntries(); err != nil {
		return err
	}
	if err := w.flushOutgoingMetaData(); err != nil {
		return err
	}
	w.finalized = true
	return w.send(wire.MsgFinished, nil)
}

// Error reports failure of the current command and is terminal for it.
// The final partial entry batch is still flushed (the listing seen so far
// is valid); accumulated outgoing metadata is discarded unsent.
func (w *Worker) Error(code wire.ErrorCode, text string) error {
	if w.finalized {
		w.log.Warn("duplicate terminal signal dropped", "cmd", w.curCmd.String())
		return nil
	}
	if err := w.flushEntries(); err != nil {
		return err
	}
	w.outgoing = make(map[string]string)
	w.finalized = true
	return w.sendMarshal(wire.MsgError, wire.ErrorArgs{Code: int32(code), Text: text})
}

// sendConnected reports that a persistent connection is established. The
// engine emits it after a successful OpenConnection.
func (w *Worker) sendConnected() error {
	return w.send(wire.MsgConnected, nil)
}

// StatEntry delivers the single entry answering a stat.
func (w *Worker) StatEntry(e wire.Entry) error {
	payload, err := wire.EncodeEntry(e)
	if err != nil {
		return err
	}
	return w.send(wire.MsgStatEntry, payload)
}

// Opened confirms a streaming open. The handler reports the mimetype and
// total size before calling it; the engine then runs the streaming
// sub-loop until the session closes.
func (w *Worker) Opened() error {
	w.streaming = true
	return w.send(wire.MsgOpened, nil)
}

// Written acknowledges bytes consumed by a streaming write.
func (w *Worker) Written(n uint64) error {
	return w.sendMarshal(wire.MsgWritten, struct{ N uint64 }{n})
}

// SendWorkerStatus answers a status request with the worker's instance id,
// host and connection flag.
func (w *Worker) SendWorkerStatus(host string, connected bool) error {
	return w.sendMarshal(wire.MsgWorkerStatus, wire.StatusArgs{
		ID:        w.id,
		Host:      host,
		Connected: connected,
	})
}

// CanResume announces byte-range support during a get. Offset zero means
// ranges are supported in general; non-zero confirms resumption at that
// offset. Fire-and-forget, no answer expected.
func (w *Worker) CanResume(offset uint64) error {
	return w.sendMarshal(wire.MsgCanResume, wire.ResumeOfferArgs{Offset: offset})
}

// NeedSubURLData asks the job to fetch the nested resource of a layered
// URL (an archive inside another scheme, say) and feed its content back
// as data commands.
func (w *Worker) NeedSubURLData() error {
	return w.send(wire.MsgNeedSubURLData, nil)
}

// TotalSize reports the expected size of the transfer.
func (w *Worker) TotalSize(n uint64) error {
	return w.sendMarshal(wire.InfTotalSize, struct{ N uint64 }{n})
}

// ProcessedSize reports cumulative progress.
func (w *Worker) ProcessedSize(n uint64) error {
	return w.sendMarshal(wire.InfProcessedSize, struct{ N uint64 }{n})
}

// Position reports the stream position after a seek.
func (w *Worker) Position(offset uint64) error {
	return w.sendMarshal(wire.InfPosition, struct{ N uint64 }{offset})
}

// Truncated reports the stream length after a truncate.
func (w *Worker) Truncated(length uint64) error {
	return w.sendMarshal(wire.InfTruncated, struct{ N uint64 }{length})
}

// Speed reports the transfer rate in bytes per second.
func (w *Worker) Speed(bytesPerSecond uint64) error {
	return w.sendMarshal(wire.InfSpeed, struct{ N uint64 }{bytesPerSecond})
}

// Redirection tells the job to reissue the operation against another URL.
func (w *Worker) Redirection(u string) error {
	return w.sendMarshal(wire.InfRedirection, wire.URLArgs{URL: u})
}

// MimeType reports the content type of the transfer. Must precede the
// first data chunk of a get.
func (w *Worker) MimeType(mt string) error {
	return w.sendMarshal(wire.InfMimeType, struct{ S string }{mt})
}

// ErrorPage marks the following content as an error document rather than
// the requested resource.
func (w *Worker) ErrorPage() error {
	return w.send(wire.InfErrorPage, nil)
}

// Warning forwards a non-fatal diagnostic to the user.
func (w *Worker) Warning(msg string) error {
	return w.sendMarshal(wire.InfWarning, struct{ S string }{msg})
}

// InfoMessage forwards a transient progress message to the user.
func (w *Worker) InfoMessage(msg string) error {
	return w.sendMarshal(wire.InfInfoMessage, struct{ S string }{msg})
}

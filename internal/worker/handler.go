package worker

import (
	"context"
	"errors"
	"net/url"
	"time"
)

// ErrUnsupported is returned by handler methods for operations the scheme
// does not implement. The engine reports it as an unsupported-action error
// with a message naming the protocol and the command.
var ErrUnsupported = errors.New("unsupported action")

// Handler is the per-scheme operation surface. The dispatch loop maps each
// job command onto exactly one method; a method either drives the exchange
// itself through the engine's signal and sync-request primitives and
// returns nil, or returns an error which the engine converts into the
// terminal error signal. Either way each dispatched operation terminates
// with exactly one of finished or error.
//
// Long-running methods must poll Worker.WasKilled at chunk or entry
// boundaries and return promptly once it reports true.
type Handler interface {
	// SetHost records a change of host, port or credentials. Called before
	// any operation that depends on them; not a dispatched operation, so
	// no terminal signal follows.
	SetHost(w *Worker, host string, port uint32, user, pass string)

	// OpenConnection switches the worker to connection-oriented mode. On
	// nil return the engine emits the connected signal. A lost connection
	// afterwards must surface as ErrConnectionBroken, not a silent
	// reconnect.
	OpenConnection(ctx context.Context, w *Worker) error

	// CloseConnection drops back to connectionless mode. No terminal
	// signal follows.
	CloseConnection(ctx context.Context, w *Worker)

	Get(ctx context.Context, w *Worker, u *url.URL) error
	Put(ctx context.Context, w *Worker, u *url.URL, permissions int32, flags uint32) error
	Stat(ctx context.Context, w *Worker, u *url.URL) error
	Mimetype(ctx context.Context, w *Worker, u *url.URL) error
	ListDir(ctx context.Context, w *Worker, u *url.URL) error
	Mkdir(ctx context.Context, w *Worker, u *url.URL, permissions int32) error

	// Rename must detect an existing destination itself and report
	// ErrFileAlreadyExists or ErrDirAlreadyExists unless the overwrite
	// flag is set; the job does no stat beforehand.
	Rename(ctx context.Context, w *Worker, src, dest *url.URL, flags uint32) error
	Symlink(ctx context.Context, w *Worker, target string, dest *url.URL, flags uint32) error
	Chmod(ctx context.Context, w *Worker, u *url.URL, permissions int32) error
	Chown(ctx context.Context, w *Worker, u *url.URL, owner, group string) error
	SetModificationTime(ctx context.Context, w *Worker, u *url.URL, mtime time.Time) error

	// Copy has the same destination-collision contract as Rename.
	Copy(ctx context.Context, w *Worker, src, dest *url.URL, permissions int32, flags uint32) error

	// Del removes a file or directory. Deleting a non-empty directory
	// must fail unless the "recurse" metadata key is true.
	Del(ctx context.Context, w *Worker, u *url.URL, isFile bool) error
	SetLinkDest(ctx context.Context, w *Worker, u *url.URL, target string) error

	// Special handles scheme-private commands; the payload layout is
	// owned by the scheme.
	Special(ctx context.Context, w *Worker, data []byte) error
	MultiGet(ctx context.Context, w *Worker, data []byte) error

	// Open starts a streaming session. On success the handler calls
	// w.Opened and the engine enters a restricted sub-loop that only
	// dispatches Read, Write, Seek, Truncate and Close until the session
	// ends.
	Open(ctx context.Context, w *Worker, u *url.URL, mode uint32) error
	Read(ctx context.Context, w *Worker, size uint64) error
	Write(ctx context.Context, w *Worker, data []byte) error
	Seek(ctx context.Context, w *Worker, offset uint64) error
	Truncate(ctx context.Context, w *Worker, length uint64) error
	Close(ctx context.Context, w *Worker) error

	FreeSpace(ctx context.Context, w *Worker, u *url.URL) error

	// Status reports the worker's state; the default sends the current
	// host and connection flag.
	Status(w *Worker)

	// ReparseConfiguration is called when the job side changed settings
	// (proxies and the like). No terminal signal follows.
	ReparseConfiguration(w *Worker)
}

// UnsupportedBase implements Handler with every operation unsupported.
// Scheme workers embed it and override what they actually provide, which
// keeps the default behavior (unsupported-action error, then finished
// bookkeeping) in one place.
type UnsupportedBase struct{}

func (UnsupportedBase) SetHost(*Worker, string, uint32, string, string) {}

func (UnsupportedBase) OpenConnection(context.Context, *Worker) error { return ErrUnsupported }
func (UnsupportedBase) CloseConnection(context.Context, *Worker)      {}

func (UnsupportedBase) Get(context.Context, *Worker, *url.URL) error { return ErrUnsupported }
func (UnsupportedBase) Put(context.Context, *Worker, *url.URL, int32, uint32) error {
	return ErrUnsupported
}
func (UnsupportedBase) Stat(context.Context, *Worker, *url.URL) error     { return ErrUnsupported }
func (UnsupportedBase) Mimetype(context.Context, *Worker, *url.URL) error { return ErrUnsupported }
func (UnsupportedBase) ListDir(context.Context, *Worker, *url.URL) error  { return ErrUnsupported }
func (UnsupportedBase) Mkdir(context.Context, *Worker, *url.URL, int32) error {
	return ErrUnsupported
}
func (UnsupportedBase) Rename(context.Context, *Worker, *url.URL, *url.URL, uint32) error {
	return ErrUnsupported
}
func (UnsupportedBase) Symlink(context.Context, *Worker, string, *url.URL, uint32) error {
	return ErrUnsupported
}
func (UnsupportedBase) Chmod(context.Context, *Worker, *url.URL, int32) error {
	return ErrUnsupported
}
func (UnsupportedBase) Chown(context.Context, *Worker, *url.URL, string, string) error {
	return ErrUnsupported
}
func (UnsupportedBase) SetModificationTime(context.Context, *Worker, *url.URL, time.Time) error {
	return ErrUnsupported
}
func (UnsupportedBase) Copy(context.Context, *Worker, *url.URL, *url.URL, int32, uint32) error {
	return ErrUnsupported
}
func (UnsupportedBase) Del(context.Context, *Worker, *url.URL, bool) error { return ErrUnsupported }
func (UnsupportedBase) SetLinkDest(context.Context, *Worker, *url.URL, string) error {
	return ErrUnsupported
}
func (UnsupportedBase) Special(context.Context, *Worker, []byte) error  { return ErrUnsupported }
func (UnsupportedBase) MultiGet(context.Context, *Worker, []byte) error { return ErrUnsupported }
func (UnsupportedBase) Open(context.Context, *Worker, *url.URL, uint32) error {
	return ErrUnsupported
}
func (UnsupportedBase) Read(context.Context, *Worker, uint64) error     { return ErrUnsupported }
func (UnsupportedBase) Write(context.Context, *Worker, []byte) error    { return ErrUnsupported }
func (UnsupportedBase) Seek(context.Context, *Worker, uint64) error     { return ErrUnsupported }
func (UnsupportedBase) Truncate(context.Context, *Worker, uint64) error { return ErrUnsupported }
func (UnsupportedBase) Close(context.Context, *Worker) error            { return ErrUnsupported }
func (UnsupportedBase) FreeSpace(context.Context, *Worker, *url.URL) error {
	return ErrUnsupported
}

func (UnsupportedBase) Status(w *Worker) {
	w.SendWorkerStatus(w.Host(), w.Connected())
}

func (UnsupportedBase) ReparseConfiguration(*Worker) {}

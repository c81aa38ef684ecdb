// Package worker implements the worker-side engine of the job/worker
// protocol: the dispatch loop that executes one filesystem operation at a
// time, the signal emitters back to the job, the sync-request primitives
// used by handlers to pull decisions and data out of the job mid-command,
// and the metadata and entry-batching machinery the protocol requires.
//
// The engine is strictly sequential. One command is in flight at a time,
// handlers run to completion on the engine's goroutine, and the only
// nested blocking is the narrow receive inside the sync-request
// primitives. Shared state therefore needs no locking beyond the kill
// flag, which is set from a signal handler.
package worker

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vfsio/workerkit/internal/protocol/wire"
)

// State of the dispatch loop, mostly useful for logging and tests.
type State int

const (
	StateIdle State = iota
	StateDispatching
	StateAwaitingReply
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDispatching:
		return "dispatching"
	case StateAwaitingReply:
		return "awaiting-reply"
	case StateShuttingDown:
		return "shutting-down"
	default:
		return "unknown"
	}
}

// Default entry batching thresholds: a batch is flushed once it holds
// batchSize entries or once batchMaxAge has passed since its first entry.
// One message per entry is too chatty for big directories; holding
// everything delays first paint and risks unbounded memory.
const (
	defaultBatchSize   = 200
	defaultBatchMaxAge = 300 * time.Millisecond
)

// Options configures a Worker.
type Options struct {
	// Protocol is the scheme this worker serves ("file", "s3", ...).
	// Used in unsupported-action messages and status reports.
	Protocol string

	// Handler is the scheme's operation surface.
	Handler Handler

	// Broker answers authentication requests. Optional; without one the
	// auth primitives fail with ErrCannotAuthenticate.
	Broker CredentialBroker

	// Logger receives engine diagnostics. Defaults to slog.Default().
	Logger *slog.Logger

	// Config seeds the worker's configuration map, typically from the
	// daemon's own configuration. The job's config push replaces it.
	Config map[string]string

	// BatchSize and BatchMaxAge tune entry batching; zero means default.
	BatchSize   int
	BatchMaxAge time.Duration
}

// Worker is the protocol engine bound to one job connection. It is not
// safe for concurrent use; everything runs on the goroutine that calls
// Run, except SetKillFlag which may be called from anywhere.
type Worker struct {
	proto   string
	id      string
	conn    *wire.Conn
	log     *slog.Logger
	handler Handler
	broker  CredentialBroker

	state State

	host string
	port uint32
	user string
	pass string

	connected bool // openConnection succeeded

	incoming map[string]string // metadata from the job, merged per push
	outgoing map[string]string // metadata to the job, flushed at checkpoints
	config   map[string]string // config pushed by the job

	killed atomic.Bool

	// Per-command bookkeeping: the command being dispatched and whether
	// its terminal signal went out already.
	curCmd    wire.Cmd
	finalized bool

	// Entry batching.
	pending     []wire.Entry
	batchStart  time.Time
	batchSize   int
	batchMaxAge time.Duration

	// One-shot special-command timer, armed only while idle.
	specialArmed bool
	specialAt    time.Time
	specialData  []byte

	// Streaming session flag, set by Opened and cleared when the
	// streaming sub-loop exits.
	streaming bool
}

// New builds a worker engine over an established connection.
func New(conn *wire.Conn, opts Options) *Worker {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	batchMaxAge := opts.BatchMaxAge
	if batchMaxAge <= 0 {
		batchMaxAge = defaultBatchMaxAge
	}
	cfg := make(map[string]string, len(opts.Config))
	for k, v := range opts.Config {
		cfg[k] = v
	}

	return &Worker{
		proto:       opts.Protocol,
		id:          uuid.NewString(),
		conn:        conn,
		log:         log.With("protocol", opts.Protocol),
		handler:     opts.Handler,
		broker:      opts.Broker,
		incoming:    make(map[string]string),
		outgoing:    make(map[string]string),
		config:      cfg,
		batchSize:   batchSize,
		batchMaxAge: batchMaxAge,
	}
}

// ID returns the worker instance identifier included in status reports.
func (w *Worker) ID() string { return w.id }

// Protocol returns the scheme this worker serves.
func (w *Worker) Protocol() string { return w.proto }

// Host returns the host from the last setHost.
func (w *Worker) Host() string { return w.host }

// Port returns the port from the last setHost.
func (w *Worker) Port() uint32 { return w.port }

// User returns the user from the last setHost.
func (w *Worker) User() string { return w.user }

// Password returns the password from the last setHost.
func (w *Worker) Password() string { return w.pass }

// Connected reports whether an openConnection succeeded and was not
// closed since.
func (w *Worker) Connected() bool { return w.connected }

// State returns the dispatch loop state.
func (w *Worker) State() State { return w.state }

// SetKillFlag marks the worker as killed. Safe to call from a signal
// handler. Handlers observe it through WasKilled; nothing is interrupted
// forcibly.
func (w *Worker) SetKillFlag() {
	w.killed.Store(true)
}

// WasKilled reports whether the kill flag is set. Long-running handlers
// must poll this at chunk and entry boundaries and return as soon as it
// turns true, so teardown runs cleanly.
func (w *Worker) WasKilled() bool {
	return w.killed.Load()
}

// Reattach binds a pooled worker to a different job. Connection state
// (host, credentials, open network connection) is preserved; per-command
// metadata is discarded so the next job cannot observe the previous one's
// keys.
func (w *Worker) Reattach(conn *wire.Conn) {
	w.conn = conn
	w.incoming = make(map[string]string)
	w.outgoing = make(map[string]string)
	w.finalized = false
	w.pending = nil
	w.state = StateIdle
}

// Close releases per-process grants. The connection is owned by the
// caller of New and closed there.
func (w *Worker) Close() {
	clearTemporaryAuthorizations()
}

// Temporary privilege grants live for the rest of the worker process, not
// for a single command, so they sit in process scope.
var (
	tempAuthMu      sync.Mutex
	tempAuthActions []string
)

// AddTemporaryAuthorization records that action may be performed without a
// further privilege prompt for the remainder of this worker's life.
func (w *Worker) AddTemporaryAuthorization(action string) {
	tempAuthMu.Lock()
	defer tempAuthMu.Unlock()
	tempAuthActions = append(tempAuthActions, action)
}

// HasTemporaryAuthorization reports whether action was granted earlier in
// this worker's life.
func (w *Worker) HasTemporaryAuthorization(action string) bool {
	tempAuthMu.Lock()
	defer tempAuthMu.Unlock()
	for _, a := range tempAuthActions {
		if a == action {
			return true
		}
	}
	return false
}

func clearTemporaryAuthorizations() {
	tempAuthMu.Lock()
	defer tempAuthMu.Unlock()
	tempAuthActions = nil
}

// SetTimeoutSpecialCommand arms the one-shot idle timer: once seconds have
// passed with the worker idle, the engine dispatches a special command
// carrying data as if the job had sent it. At most one timer is pending;
// arming replaces the previous one and a negative timeout cancels it.
func (w *Worker) SetTimeoutSpecialCommand(seconds int, data []byte) {
	if seconds < 0 {
		w.specialArmed = false
		w.specialData = nil
		return
	}
	w.specialArmed = true
	w.specialAt = time.Now().Add(time.Duration(seconds) * time.Second)
	w.specialData = data
}

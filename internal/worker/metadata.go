package worker

import (
	"strconv"
	"time"

	"github.com/vfsio/workerkit/internal/protocol/wire"
)

// Incoming metadata is pushed by the job ahead of a command and merged
// into the incoming map; outgoing metadata accumulates in the worker until
// a flush point. The two directions never mix.

// MetaData returns the value of an incoming metadata key and whether it
// was set.
func (w *Worker) MetaData(key string) (string, bool) {
	v, ok := w.incoming[key]
	return v, ok
}

// HasMetaData reports whether an incoming metadata key is set.
func (w *Worker) HasMetaData(key string) bool {
	_, ok := w.incoming[key]
	return ok
}

// AllMetaData returns a copy of the incoming metadata map.
func (w *Worker) AllMetaData() map[string]string {
	m := make(map[string]string, len(w.incoming))
	for k, v := range w.incoming {
		m[k] = v
	}
	return m
}

// SetMetaData stages an outgoing metadata key. Nothing is transmitted
// until SendMetaData, SendAndKeepMetaData or Finished.
func (w *Worker) SetMetaData(key, value string) {
	w.outgoing[key] = value
}

// SendMetaData transmits the accumulated outgoing metadata and clears it.
func (w *Worker) SendMetaData() error {
	return w.sendMetaData(false)
}

// SendAndKeepMetaData transmits the accumulated outgoing metadata but
// keeps it staged, so later flushes resend it. Used for keys that must
// survive several flush points within one command.
func (w *Worker) SendAndKeepMetaData() error {
	return w.sendMetaData(true)
}

func (w *Worker) sendMetaData(keep bool) error {
	payload, err := wire.EncodeMetaData(w.outgoing)
	if err != nil {
		return err
	}
	if err := w.send(wire.InfMetaData, payload); err != nil {
		return err
	}
	if !keep {
		w.outgoing = make(map[string]string)
	}
	return nil
}

// flushOutgoingMetaData sends staged metadata before a terminal finished,
// clearing it. A no-op when nothing is staged.
func (w *Worker) flushOutgoingMetaData() error {
	if len(w.outgoing) == 0 {
		return nil
	}
	return w.sendMetaData(false)
}

// Configuration lookups check per-command metadata first, then the pushed
// configuration map, then fall back to the default. Metadata wins so a
// single job can override settings without touching global configuration.

// ConfigValueString resolves a string setting.
func (w *Worker) ConfigValueString(key, def string) string {
	if v, ok := w.incoming[key]; ok {
		return v
	}
	if v, ok := w.config[key]; ok {
		return v
	}
	return def
}

// ConfigValueBool resolves a boolean setting. Unparseable values fall back
// to the default.
func (w *Worker) ConfigValueBool(key string, def bool) bool {
	v := w.ConfigValueString(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// ConfigValueInt resolves an integer setting.
func (w *Worker) ConfigValueInt(key string, def int) int {
	v := w.ConfigValueString(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// StatDetails selects which fields a stat or listing should fill in.
// Skipping expensive groups (owner lookups, mime sniffing) matters for
// large listings.
type StatDetails uint32

const (
	StatBasic StatDetails = 1 << iota // name, type, size, mtime, access bits
	StatUser                          // owner and group names
	StatTime                          // access time on top of mtime
	StatResolveSymlink                // follow the link instead of describing it
	StatACL
	StatInode // inode and device numbers
	StatMimeType
	StatRecursiveSize
)

const (
	StatNoDetails      StatDetails = 0
	StatDefaultDetails             = StatBasic | StatUser | StatTime | StatACL
)

// RequestedStatDetails resolves the detail flags for the current command
// from incoming metadata. The flag form under "statDetails" wins; the
// legacy integer level under "details" is translated here and nowhere
// else.
func (w *Worker) RequestedStatDetails() StatDetails {
	if v, ok := w.incoming["statDetails"]; ok {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			return StatDetails(n)
		}
	}
	if v, ok := w.incoming["details"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			switch {
			case n <= 0:
				return StatBasic
			case n == 1:
				return StatDefaultDetails
			default:
				return StatDefaultDetails | StatInode | StatMimeType
			}
		}
	}
	return StatDefaultDetails
}

// Timeout defaults. Jobs override them per command through metadata or
// globally through the configuration push.
const (
	DefaultConnectTimeout      = 20 * time.Second
	DefaultProxyConnectTimeout = 10 * time.Second
	DefaultResponseTimeout     = 600 * time.Second
	DefaultReadTimeout         = 15 * time.Second
)

func (w *Worker) timeoutValue(key string, def time.Duration) time.Duration {
	secs := w.ConfigValueInt(key, 0)
	if secs <= 0 {
		return def
	}
	return time.Duration(secs) * time.Second
}

// ConnectTimeout is the bound on establishing a server connection.
func (w *Worker) ConnectTimeout() time.Duration {
	return w.timeoutValue("ConnectTimeout", DefaultConnectTimeout)
}

// ProxyConnectTimeout is the bound on establishing a proxy connection.
func (w *Worker) ProxyConnectTimeout() time.Duration {
	return w.timeoutValue("ProxyConnectTimeout", DefaultProxyConnectTimeout)
}

// ResponseTimeout is the bound on waiting for a first server response, and
// on the narrow receives of the sync-request primitives.
func (w *Worker) ResponseTimeout() time.Duration {
	return w.timeoutValue("ResponseTimeout", DefaultResponseTimeout)
}

// ReadTimeout is the bound on subsequent reads within a transfer.
func (w *Worker) ReadTimeout() time.Duration {
	return w.timeoutValue("ReadTimeout", DefaultReadTimeout)
}

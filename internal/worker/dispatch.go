package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/vfsio/workerkit/internal/protocol/wire"
)

// Run drives the dispatch loop until the job closes the channel, the kill
// flag is observed, or a fatal protocol or transport error occurs. Clean
// shutdown returns nil.
func (w *Worker) Run(ctx context.Context) error {
	defer func() {
		w.state = StateShuttingDown
		w.handler.CloseConnection(ctx, w)
		w.connected = false
		clearTemporaryAuthorizations()
	}()

	for {
		if w.WasKilled() {
			w.log.Info("kill flag observed, shutting down")
			return nil
		}

		cmd, payload, special, err := w.receiveIdle()
		if err != nil {
			if errors.Is(err, io.EOF) {
				w.log.Debug("channel closed by job side")
				return nil
			}
			return err
		}

		if special {
			data := w.specialData
			w.specialArmed = false
			w.specialData = nil
			if err := w.dispatchOp(ctx, wire.CmdSpecial, data); err != nil {
				return err
			}
			continue
		}

		if err := w.dispatch(ctx, cmd, payload); err != nil {
			return err
		}
	}
}

// receiveIdle blocks for the next command. With the special timer armed
// the wait is bounded by the timer deadline; expiry reports special=true
// and the engine synthesizes the command.
func (w *Worker) receiveIdle() (wire.Cmd, []byte, bool, error) {
	w.state = StateIdle

	if w.specialArmed {
		if err := w.conn.SetReadDeadline(w.specialAt); err != nil {
			return 0, nil, false, err
		}
		defer w.conn.SetReadDeadline(time.Time{})
	}

	cmd, payload, err := w.conn.Receive()
	if err != nil {
		if w.specialArmed && wire.IsTimeout(err) {
			return 0, nil, true, nil
		}
		return 0, nil, false, err
	}
	return cmd, payload, false, nil
}

// dispatch routes one received command. Control commands are handled
// inline with no terminal signal; operations go through dispatchOp which
// enforces the exactly-one terminal invariant.
func (w *Worker) dispatch(ctx context.Context, cmd wire.Cmd, payload []byte) error {
	if !wire.IsJobCmd(cmd) {
		return &wire.ProtocolError{Cmd: cmd, Reason: "not a job command"}
	}

	switch cmd {
	case wire.CmdNone:
		return nil

	case wire.CmdHost:
		var args wire.HostArgs
		if err := wire.Unmarshal(payload, &args); err != nil {
			return err
		}
		w.host, w.port, w.user, w.pass = args.Host, args.Port, args.User, args.Pass
		w.handler.SetHost(w, args.Host, args.Port, args.User, args.Pass)
		return nil

	case wire.CmdMetaData:
		// A top-level push carries the complete metadata for the next
		// command and replaces the map; merging is only for pushes
		// absorbed mid-command.
		m, err := wire.DecodeMetaData(payload)
		if err != nil {
			return err
		}
		w.incoming = m
		return nil

	case wire.CmdConfig:
		m, err := wire.DecodeMetaData(payload)
		if err != nil {
			return err
		}
		w.config = m
		return nil

	case wire.CmdReparseConfig:
		w.handler.ReparseConfiguration(w)
		return nil

	case wire.CmdWorkerStatus:
		w.handler.Status(w)
		return nil

	case wire.CmdConnect:
		// Succeeds with connected, not finished; failure is terminal as
		// usual.
		w.beginOp(cmd)
		defer func() { w.incoming = make(map[string]string) }()
		if err := w.handler.OpenConnection(ctx, w); err != nil {
			return w.finishOp(err)
		}
		w.connected = true
		return w.sendConnected()

	case wire.CmdDisconnect:
		w.handler.CloseConnection(ctx, w)
		w.connected = false
		return nil
	}

	return w.dispatchOp(ctx, cmd, payload)
}

func (w *Worker) beginOp(cmd wire.Cmd) {
	w.state = StateDispatching
	w.curCmd = cmd
	w.finalized = false
	w.log.Debug("dispatching", "cmd", cmd.String())
}

// dispatchOp runs one operation handler and guarantees its terminal
// signal.
func (w *Worker) dispatchOp(ctx context.Context, cmd wire.Cmd, payload []byte) error {
	w.beginOp(cmd)

	// Incoming metadata is scoped to the command it was pushed for. The
	// next dispatch starts clean, so a key like "recurse" cannot leak
	// into an unrelated later command.
	defer func() { w.incoming = make(map[string]string) }()

	err := w.invoke(ctx, cmd, payload)

	if w.WasKilled() && !w.finalized {
		return w.finishOp(wire.NewError(wire.ErrAborted, cmd.String()))
	}

	if ferr := w.finishOp(err); ferr != nil {
		return ferr
	}

	// A successful open hands the channel to the streaming sub-loop; the
	// session's terminal signal comes from close or a streaming error.
	if cmd == wire.CmdOpen && w.streaming {
		return w.streamLoop(ctx)
	}
	return nil
}

// finishOp converts a handler's return into the terminal signal. Protocol
// and transport failures are fatal and propagate; everything else is
// reported to the job and the loop continues.
func (w *Worker) finishOp(err error) error {
	if err == nil {
		if w.finalized || w.streaming {
			return nil
		}
		return w.Finished()
	}

	var perr *wire.ProtocolError
	if errors.As(err, &perr) {
		return perr
	}
	if errors.Is(err, io.EOF) || wire.IsTimeout(err) {
		return err
	}

	if w.finalized {
		w.log.Warn("handler returned error after terminal signal", "cmd", w.curCmd.String(), "err", err)
		return nil
	}

	var werr *wire.Error
	switch {
	case errors.Is(err, ErrUnsupported):
		return w.Error(wire.ErrUnsupportedAction,
			fmt.Sprintf("%s does not support %s", w.proto, w.curCmd))
	case errors.As(err, &werr):
		return w.Error(werr.Code, werr.Text)
	default:
		w.log.Error("operation failed", "cmd", w.curCmd.String(), "err", err)
		return w.Error(wire.ErrInternal, err.Error())
	}
}

// invoke decodes the payload for cmd and calls the handler method.
func (w *Worker) invoke(ctx context.Context, cmd wire.Cmd, payload []byte) error {
	switch cmd {
	case wire.CmdGet:
		u, err := w.parseURLArgs(payload)
		if err != nil {
			return err
		}
		return w.handler.Get(ctx, w, u)

	case wire.CmdPut:
		var args wire.PutArgs
		if err := wire.Unmarshal(payload, &args); err != nil {
			return err
		}
		u, err := w.parseURL(args.URL)
		if err != nil {
			return err
		}
		return w.handler.Put(ctx, w, u, args.Permissions, args.Flags)

	case wire.CmdStat:
		u, err := w.parseURLArgs(payload)
		if err != nil {
			return err
		}
		return w.handler.Stat(ctx, w, u)

	case wire.CmdMimetype:
		u, err := w.parseURLArgs(payload)
		if err != nil {
			return err
		}
		return w.handler.Mimetype(ctx, w, u)

	case wire.CmdListDir:
		u, err := w.parseURLArgs(payload)
		if err != nil {
			return err
		}
		return w.handler.ListDir(ctx, w, u)

	case wire.CmdMkdir:
		var args wire.MkdirArgs
		if err := wire.Unmarshal(payload, &args); err != nil {
			return err
		}
		u, err := w.parseURL(args.URL)
		if err != nil {
			return err
		}
		return w.handler.Mkdir(ctx, w, u, args.Permissions)

	case wire.CmdRename:
		var args wire.RenameArgs
		if err := wire.Unmarshal(payload, &args); err != nil {
			return err
		}
		src, err := w.parseURL(args.Src)
		if err != nil {
			return err
		}
		dest, err := w.parseURL(args.Dest)
		if err != nil {
			return err
		}
		return w.handler.Rename(ctx, w, src, dest, args.Flags)

	case wire.CmdCopy:
		var args wire.CopyArgs
		if err := wire.Unmarshal(payload, &args); err != nil {
			return err
		}
		src, err := w.parseURL(args.Src)
		if err != nil {
			return err
		}
		dest, err := w.parseURL(args.Dest)
		if err != nil {
			return err
		}
		return w.handler.Copy(ctx, w, src, dest, args.Permissions, args.Flags)

	case wire.CmdSymlink:
		var args wire.SymlinkArgs
		if err := wire.Unmarshal(payload, &args); err != nil {
			return err
		}
		dest, err := w.parseURL(args.Dest)
		if err != nil {
			return err
		}
		return w.handler.Symlink(ctx, w, args.Target, dest, args.Flags)

	case wire.CmdChmod:
		var args wire.ChmodArgs
		if err := wire.Unmarshal(payload, &args); err != nil {
			return err
		}
		u, err := w.parseURL(args.URL)
		if err != nil {
			return err
		}
		return w.handler.Chmod(ctx, w, u, args.Permissions)

	case wire.CmdChown:
		var args wire.ChownArgs
		if err := wire.Unmarshal(payload, &args); err != nil {
			return err
		}
		u, err := w.parseURL(args.URL)
		if err != nil {
			return err
		}
		return w.handler.Chown(ctx, w, u, args.Owner, args.Group)

	case wire.CmdSetModificationTime:
		var args wire.SetModTimeArgs
		if err := wire.Unmarshal(payload, &args); err != nil {
			return err
		}
		u, err := w.parseURL(args.URL)
		if err != nil {
			return err
		}
		return w.handler.SetModificationTime(ctx, w, u, time.Unix(args.Mtime, 0))

	case wire.CmdDel:
		var args wire.DelArgs
		if err := wire.Unmarshal(payload, &args); err != nil {
			return err
		}
		u, err := w.parseURL(args.URL)
		if err != nil {
			return err
		}
		return w.handler.Del(ctx, w, u, args.IsFile)

	case wire.CmdSetLinkDest:
		var args wire.SetLinkDestArgs
		if err := wire.Unmarshal(payload, &args); err != nil {
			return err
		}
		u, err := w.parseURL(args.URL)
		if err != nil {
			return err
		}
		return w.handler.SetLinkDest(ctx, w, u, args.Target)

	case wire.CmdSpecial:
		return w.handler.Special(ctx, w, payload)

	case wire.CmdMultiGet:
		return w.handler.MultiGet(ctx, w, payload)

	case wire.CmdOpen:
		var args wire.OpenArgs
		if err := wire.Unmarshal(payload, &args); err != nil {
			return err
		}
		u, err := w.parseURL(args.URL)
		if err != nil {
			return err
		}
		return w.handler.Open(ctx, w, u, args.Mode)

	case wire.CmdFreeSpace:
		u, err := w.parseURLArgs(payload)
		if err != nil {
			return err
		}
		return w.handler.FreeSpace(ctx, w, u)

	case wire.CmdSubURL:
		return ErrUnsupported

	default:
		return &wire.ProtocolError{Cmd: cmd, Reason: "command not valid outside a streaming session"}
	}
}

// streamLoop dispatches the restricted command set of an open streaming
// session. Read, write, seek and truncate answer with their own messages
// rather than finished; the session's single terminal signal is the
// finished emitted when close succeeds, or the error that ends it early.
func (w *Worker) streamLoop(ctx context.Context) error {
	defer func() { w.streaming = false }()

	for {
		if w.WasKilled() {
			return w.streamEnd(wire.NewError(wire.ErrAborted, "open"))
		}

		w.state = StateIdle
		cmd, payload, err := w.conn.Receive()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return io.EOF
			}
			return err
		}

		w.state = StateDispatching
		switch cmd {
		case wire.CmdNone:
			continue
		case wire.CmdMetaData:
			if err := w.mergeIncomingMetaData(payload); err != nil {
				return err
			}
			continue
		case wire.CmdWorkerStatus:
			w.handler.Status(w)
			continue

		case wire.CmdRead:
			var args wire.ReadArgs
			if err := wire.Unmarshal(payload, &args); err != nil {
				return err
			}
			if err := w.handler.Read(ctx, w, args.Size); err != nil {
				return w.streamEnd(err)
			}

		case wire.CmdWrite:
			if err := w.handler.Write(ctx, w, payload); err != nil {
				return w.streamEnd(err)
			}

		case wire.CmdSeek:
			var args wire.SeekArgs
			if err := wire.Unmarshal(payload, &args); err != nil {
				return err
			}
			if err := w.handler.Seek(ctx, w, args.Offset); err != nil {
				return w.streamEnd(err)
			}

		case wire.CmdTruncate:
			var args wire.TruncateArgs
			if err := wire.Unmarshal(payload, &args); err != nil {
				return err
			}
			if err := w.handler.Truncate(ctx, w, args.Length); err != nil {
				return w.streamEnd(err)
			}

		case wire.CmdClose:
			return w.streamEnd(w.handler.Close(ctx, w))

		default:
			return &wire.ProtocolError{Cmd: cmd, Reason: "command not valid inside a streaming session"}
		}
	}
}

// streamEnd emits the session's terminal signal and returns any fatal
// error. Callers return from the sub-loop afterwards regardless.
func (w *Worker) streamEnd(err error) error {
	w.streaming = false
	return w.finishOp(err)
}

func (w *Worker) parseURLArgs(payload []byte) (*url.URL, error) {
	var args wire.URLArgs
	if err := wire.Unmarshal(payload, &args); err != nil {
		return nil, err
	}
	return w.parseURL(args.URL)
}

func (w *Worker) parseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, wire.NewError(wire.ErrMalformedURL, raw)
	}
	return u, nil
}

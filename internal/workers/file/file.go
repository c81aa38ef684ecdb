// Package file implements the local filesystem scheme worker. URLs are
// interpreted as paths on the worker's own machine, which makes it both
// the reference handler implementation and the one the test suite runs
// end to end.
package file

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"net/url"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/vfsio/workerkit/internal/protocol/wire"
	"github.com/vfsio/workerkit/internal/ratelimiter"
	"github.com/vfsio/workerkit/internal/worker"
)

const chunkSize = 1024 * 1024

// Handler serves the file scheme. One instance backs one worker; the open
// streaming session holds its state here.
type Handler struct {
	worker.UnsupportedBase

	log *slog.Logger

	// Streaming session state, nil outside a session.
	stream *os.File
}

// New builds a file scheme handler.
func New(log *slog.Logger) *Handler {
	return &Handler{log: log.With("scheme", "file")}
}

func pathOf(u *url.URL) string {
	if u.Path != "" {
		return filepath.Clean(u.Path)
	}
	return filepath.Clean(u.Opaque)
}

// toWireError maps an OS error onto the fixed error vocabulary, with
// fallback as the code for errors that have no specific mapping.
func toWireError(err error, path string, fallback wire.ErrorCode) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return wire.NewError(wire.ErrDoesNotExist, path)
	case errors.Is(err, fs.ErrPermission):
		return wire.NewError(wire.ErrAccessDenied, path)
	case errors.Is(err, fs.ErrExist):
		return wire.NewError(wire.ErrFileAlreadyExists, path)
	default:
		return wire.NewError(fallback, path)
	}
}

func (h *Handler) Get(ctx context.Context, w *worker.Worker, u *url.URL) error {
	path := pathOf(u)

	f, err := os.Open(path)
	if err != nil {
		return toWireError(err, path, wire.ErrCannotOpenForReading)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return toWireError(err, path, wire.ErrCannotStat)
	}
	if fi.IsDir() {
		return wire.NewError(wire.ErrIsDirectory, path)
	}

	if err := w.MimeType(mimeTypeOf(path)); err != nil {
		return err
	}
	if err := w.TotalSize(uint64(fi.Size())); err != nil {
		return err
	}

	// A restarted transfer picks up where the previous one stopped. The
	// job passes the offset through "resume" ("range-start" is the older
	// spelling of the same key).
	offset := resumeOffset(w)
	if offset > 0 {
		if offset > fi.Size() {
			return wire.NewError(wire.ErrCannotResume, path)
		}
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return toWireError(err, path, wire.ErrCannotSeek)
		}
		if err := w.CanResume(uint64(offset)); err != nil {
			return err
		}
	}

	// The job can cap transfer bandwidth per command.
	throttle := ratelimiter.New(w.ConfigValueInt("speed-limit", 0))

	processed := uint64(offset)
	buf := make([]byte, chunkSize)
	for {
		if w.WasKilled() {
			return wire.NewError(wire.ErrAborted, path)
		}
		n, rerr := f.Read(buf)
		if n > 0 {
			if err := throttle.WaitN(ctx, n); err != nil {
				return wire.NewError(wire.ErrAborted, path)
			}
			if err := w.Data(buf[:n]); err != nil {
				return err
			}
			processed += uint64(n)
			if err := w.ProcessedSize(processed); err != nil {
				return err
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return toWireError(rerr, path, wire.ErrCannotRead)
		}
	}

	// Empty chunk marks end of stream.
	return w.Data(nil)
}

// resumeOffset reads the requested transfer start from the command's
// metadata. Zero means start from the beginning.
func resumeOffset(w *worker.Worker) int64 {
	for _, key := range []string{"resume", "range-start"} {
		if v, ok := w.MetaData(key); ok {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				return n
			}
		}
	}
	return 0
}

func mimeTypeOf(path string) string {
	if mt := mime.TypeByExtension(filepath.Ext(path)); mt != "" {
		return mt
	}
	return "application/octet-stream"
}

func (h *Handler) Put(ctx context.Context, w *worker.Worker, u *url.URL, permissions int32, flags uint32) error {
	path := pathOf(u)

	fi, statErr := os.Lstat(path)
	destExisted := statErr == nil
	if destExisted && flags&(wire.FlagOverwrite|wire.FlagResume) == 0 {
		if fi.IsDir() {
			return wire.NewError(wire.ErrDirAlreadyExists, path)
		}
		return wire.NewError(wire.ErrFileAlreadyExists, path)
	}

	openFlags := os.O_WRONLY | os.O_CREATE
	if flags&wire.FlagResume != 0 && destExisted {
		resume, err := w.OfferResume(uint64(fi.Size()))
		if err != nil {
			return err
		}
		if !resume {
			return wire.NewError(wire.ErrCannotResume, path)
		}
		openFlags |= os.O_APPEND
	} else {
		openFlags |= os.O_TRUNC
	}

	f, err := os.OpenFile(path, openFlags, 0o644)
	if err != nil {
		return toWireError(err, path, wire.ErrCannotOpenForWriting)
	}

	var written uint64
	for {
		if w.WasKilled() {
			f.Close()
			return wire.NewError(wire.ErrAborted, path)
		}
		chunk, err := w.ReadData()
		if err != nil {
			f.Close()
			return err
		}
		if len(chunk) == 0 {
			break
		}
		if _, err := f.Write(chunk); err != nil {
			f.Close()
			return toWireError(err, path, wire.ErrCannotWrite)
		}
		written += uint64(len(chunk))
		if err := w.ProcessedSize(written); err != nil {
			f.Close()
			return err
		}
	}

	if err := f.Close(); err != nil {
		return toWireError(err, path, wire.ErrCannotWrite)
	}

	// Requested permissions apply only to a destination this put created;
	// an overwritten file keeps the mode it had.
	if permissions >= 0 && !destExisted {
		if err := os.Chmod(path, os.FileMode(permissions)); err != nil {
			return toWireError(err, path, wire.ErrCannotChmod)
		}
	}

	if mtime, ok := w.MetaData("modified"); ok {
		if t, err := time.Parse(time.RFC3339, mtime); err == nil {
			_ = os.Chtimes(path, t, t)
		}
	}
	return nil
}

func (h *Handler) Stat(ctx context.Context, w *worker.Worker, u *url.URL) error {
	path := pathOf(u)
	entry, err := entryFor(path, filepath.Base(path), w.RequestedStatDetails())
	if err != nil {
		return err
	}
	if err := w.StatEntry(entry); err != nil {
		return err
	}
	return nil
}

func (h *Handler) Mimetype(ctx context.Context, w *worker.Worker, u *url.URL) error {
	path := pathOf(u)
	if _, err := os.Lstat(path); err != nil {
		return toWireError(err, path, wire.ErrCannotStat)
	}
	return w.MimeType(mimeTypeOf(path))
}

func (h *Handler) ListDir(ctx context.Context, w *worker.Worker, u *url.URL) error {
	path := pathOf(u)

	entries, err := os.ReadDir(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return wire.NewError(wire.ErrDoesNotExist, path)
		}
		return toWireError(err, path, wire.ErrCannotEnterDirectory)
	}

	details := w.RequestedStatDetails()
	for _, de := range entries {
		if w.WasKilled() {
			return wire.NewError(wire.ErrAborted, path)
		}
		entry, err := entryFor(filepath.Join(path, de.Name()), de.Name(), details)
		if err != nil {
			// The entry vanished between readdir and lstat.
			h.log.Debug("entry skipped during listing", "name", de.Name(), "err", err)
			continue
		}
		if err := w.ListEntry(entry); err != nil {
			return err
		}
	}
	return nil
}

func entryFor(path, name string, details worker.StatDetails) (wire.Entry, error) {
	var entry wire.Entry

	stat := os.Lstat
	if details&worker.StatResolveSymlink != 0 {
		stat = os.Stat
	}
	fi, err := stat(path)
	if err != nil {
		return entry, toWireError(err, path, wire.ErrCannotStat)
	}

	entry.SetString(wire.FieldName, name)
	entry.SetNumber(wire.FieldSize, fi.Size())
	entry.SetNumber(wire.FieldAccess, int64(fi.Mode().Perm()))
	entry.SetTime(wire.FieldModificationTime, fi.ModTime())

	switch {
	case fi.Mode()&fs.ModeSymlink != 0:
		entry.SetNumber(wire.FieldType, wire.TypeSymlink)
		if target, err := os.Readlink(path); err == nil {
			entry.SetString(wire.FieldLinkDest, target)
		}
	case fi.IsDir():
		entry.SetNumber(wire.FieldType, wire.TypeDirectory)
	default:
		entry.SetNumber(wire.FieldType, wire.TypeRegular)
	}

	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		if details&worker.StatInode != 0 {
			entry.SetNumber(wire.FieldInode, int64(st.Ino))
			entry.SetNumber(wire.FieldDeviceID, int64(st.Dev))
		}
		if details&worker.StatTime != 0 {
			entry.SetTime(wire.FieldAccessTime, time.Unix(st.Atim.Sec, st.Atim.Nsec))
		}
		if details&worker.StatUser != 0 {
			if u, err := user.LookupId(strconv.FormatUint(uint64(st.Uid), 10)); err == nil {
				entry.SetString(wire.FieldUser, u.Username)
			}
			if g, err := user.LookupGroupId(strconv.FormatUint(uint64(st.Gid), 10)); err == nil {
				entry.SetString(wire.FieldGroup, g.Name)
			}
		}
	}

	if details&worker.StatMimeType != 0 && !fi.IsDir() {
		entry.SetString(wire.FieldMimeType, mimeTypeOf(path))
	}

	entry.SetString(wire.FieldLocalPath, path)
	return entry, nil
}

func (h *Handler) Mkdir(ctx context.Context, w *worker.Worker, u *url.URL, permissions int32) error {
	path := pathOf(u)

	mode := os.FileMode(0o755)
	if permissions >= 0 {
		mode = os.FileMode(permissions)
	}
	if err := os.Mkdir(path, mode); err != nil {
		if errors.Is(err, fs.ErrExist) {
			if fi, serr := os.Lstat(path); serr == nil && fi.IsDir() {
				return wire.NewError(wire.ErrDirAlreadyExists, path)
			}
			return wire.NewError(wire.ErrFileAlreadyExists, path)
		}
		return toWireError(err, path, wire.ErrCannotMkdir)
	}
	// Mkdir applies the umask; make the requested mode stick.
	if permissions >= 0 {
		if err := os.Chmod(path, mode); err != nil {
			return toWireError(err, path, wire.ErrCannotChmod)
		}
	}
	return nil
}

// collision reports the already-exists error for dest, or nil when dest is
// absent. Rename and copy must do this themselves; the job does no stat
// beforehand.
func collision(dest string) error {
	fi, err := os.Lstat(dest)
	if err != nil {
		return nil
	}
	if fi.IsDir() {
		return wire.NewError(wire.ErrDirAlreadyExists, dest)
	}
	return wire.NewError(wire.ErrFileAlreadyExists, dest)
}

func (h *Handler) Rename(ctx context.Context, w *worker.Worker, src, dest *url.URL, flags uint32) error {
	srcPath, destPath := pathOf(src), pathOf(dest)

	if _, err := os.Lstat(srcPath); err != nil {
		return toWireError(err, srcPath, wire.ErrCannotRename)
	}
	if flags&wire.FlagOverwrite == 0 {
		if err := collision(destPath); err != nil {
			return err
		}
	}
	if err := os.Rename(srcPath, destPath); err != nil {
		return toWireError(err, srcPath, wire.ErrCannotRename)
	}
	return nil
}

func (h *Handler) Copy(ctx context.Context, w *worker.Worker, src, dest *url.URL, permissions int32, flags uint32) error {
	srcPath, destPath := pathOf(src), pathOf(dest)

	in, err := os.Open(srcPath)
	if err != nil {
		return toWireError(err, srcPath, wire.ErrCannotOpenForReading)
	}
	defer in.Close()

	fi, err := in.Stat()
	if err != nil {
		return toWireError(err, srcPath, wire.ErrCannotStat)
	}
	if fi.IsDir() {
		return wire.NewError(wire.ErrIsDirectory, srcPath)
	}

	if flags&wire.FlagOverwrite == 0 {
		if err := collision(destPath); err != nil {
			return err
		}
	}

	out, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return toWireError(err, destPath, wire.ErrCannotOpenForWriting)
	}

	if err := w.TotalSize(uint64(fi.Size())); err != nil {
		out.Close()
		return err
	}

	throttle := ratelimiter.New(w.ConfigValueInt("speed-limit", 0))

	var copied uint64
	buf := make([]byte, chunkSize)
	for {
		if w.WasKilled() {
			out.Close()
			return wire.NewError(wire.ErrAborted, srcPath)
		}
		n, rerr := in.Read(buf)
		if n > 0 {
			if err := throttle.WaitN(ctx, n); err != nil {
				out.Close()
				return wire.NewError(wire.ErrAborted, srcPath)
			}
			if _, werr := out.Write(buf[:n]); werr != nil {
				out.Close()
				return toWireError(werr, destPath, wire.ErrCannotWrite)
			}
			copied += uint64(n)
			if err := w.ProcessedSize(copied); err != nil {
				out.Close()
				return err
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			out.Close()
			return toWireError(rerr, srcPath, wire.ErrCannotRead)
		}
	}

	if err := out.Close(); err != nil {
		return toWireError(err, destPath, wire.ErrCannotWrite)
	}
	if permissions >= 0 {
		if err := os.Chmod(destPath, os.FileMode(permissions)); err != nil {
			return toWireError(err, destPath, wire.ErrCannotChmod)
		}
	}
	return nil
}

func (h *Handler) Symlink(ctx context.Context, w *worker.Worker, target string, dest *url.URL, flags uint32) error {
	destPath := pathOf(dest)

	err := os.Symlink(target, destPath)
	if err != nil && errors.Is(err, fs.ErrExist) && flags&wire.FlagOverwrite != 0 {
		if rerr := os.Remove(destPath); rerr != nil {
			return toWireError(rerr, destPath, wire.ErrCannotSymlink)
		}
		err = os.Symlink(target, destPath)
	}
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return collision(destPath)
		}
		return toWireError(err, destPath, wire.ErrCannotSymlink)
	}
	return nil
}

func (h *Handler) Chmod(ctx context.Context, w *worker.Worker, u *url.URL, permissions int32) error {
	path := pathOf(u)
	if err := os.Chmod(path, os.FileMode(permissions)); err != nil {
		return toWireError(err, path, wire.ErrCannotChmod)
	}
	return nil
}

func (h *Handler) Chown(ctx context.Context, w *worker.Worker, u *url.URL, owner, group string) error {
	path := pathOf(u)

	uid, gid := -1, -1
	if owner != "" {
		usr, err := user.Lookup(owner)
		if err != nil {
			return wire.NewError(wire.ErrCannotChown, path)
		}
		uid, _ = strconv.Atoi(usr.Uid)
	}
	if group != "" {
		grp, err := user.LookupGroup(group)
		if err != nil {
			return wire.NewError(wire.ErrCannotChown, path)
		}
		gid, _ = strconv.Atoi(grp.Gid)
	}
	if err := os.Chown(path, uid, gid); err != nil {
		return toWireError(err, path, wire.ErrCannotChown)
	}
	return nil
}

func (h *Handler) SetModificationTime(ctx context.Context, w *worker.Worker, u *url.URL, mtime time.Time) error {
	path := pathOf(u)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		return toWireError(err, path, wire.ErrCannotSetModTime)
	}
	return nil
}

func (h *Handler) Del(ctx context.Context, w *worker.Worker, u *url.URL, isFile bool) error {
	path := pathOf(u)

	if isFile {
		if err := os.Remove(path); err != nil {
			return h.delWithPrivilege(w, path, err)
		}
		return nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return toWireError(err, path, wire.ErrCannotDelete)
	}
	if len(entries) > 0 {
		// A populated directory is only removed when the job opted in.
		if !w.ConfigValueBool("recurse", false) {
			return wire.NewError(wire.ErrCannotDelete, path)
		}
		if err := os.RemoveAll(path); err != nil {
			return toWireError(err, path, wire.ErrCannotDelete)
		}
		return nil
	}
	if err := os.Remove(path); err != nil {
		return h.delWithPrivilege(w, path, err)
	}
	return nil
}

// delWithPrivilege retries a permission-denied removal once after the job
// approves a privilege request.
func (h *Handler) delWithPrivilege(w *worker.Worker, path string, err error) error {
	if !errors.Is(err, fs.ErrPermission) {
		return toWireError(err, path, wire.ErrCannotDelete)
	}
	status, perr := w.RequestPrivilegeOperation("delete " + path)
	if perr != nil {
		return perr
	}
	if status != worker.OperationAllowed {
		return wire.NewError(wire.ErrAccessDenied, path)
	}
	w.AddTemporaryAuthorization("delete " + path)
	if err := os.Remove(path); err != nil {
		return toWireError(err, path, wire.ErrCannotDelete)
	}
	return nil
}

func (h *Handler) SetLinkDest(ctx context.Context, w *worker.Worker, u *url.URL, target string) error {
	path := pathOf(u)

	fi, err := os.Lstat(path)
	if err != nil {
		return toWireError(err, path, wire.ErrCannotSymlink)
	}
	if fi.Mode()&fs.ModeSymlink == 0 {
		return wire.NewError(wire.ErrCannotSymlink, path)
	}
	if err := os.Remove(path); err != nil {
		return toWireError(err, path, wire.ErrCannotSymlink)
	}
	if err := os.Symlink(target, path); err != nil {
		return toWireError(err, path, wire.ErrCannotSymlink)
	}
	return nil
}

// Open mode bits, matching the conventional read/write/append/truncate
// request flags.
const (
	OpenRead     uint32 = 1 << 0
	OpenWrite    uint32 = 1 << 1
	OpenAppend   uint32 = 1 << 2
	OpenTruncate uint32 = 1 << 3
)

func (h *Handler) Open(ctx context.Context, w *worker.Worker, u *url.URL, mode uint32) error {
	path := pathOf(u)

	var flags int
	switch {
	case mode&OpenRead != 0 && mode&OpenWrite != 0:
		flags = os.O_RDWR
	case mode&OpenWrite != 0:
		flags = os.O_WRONLY
	default:
		flags = os.O_RDONLY
	}
	if mode&OpenWrite != 0 {
		flags |= os.O_CREATE
	}
	if mode&OpenAppend != 0 {
		flags |= os.O_APPEND
	}
	if mode&OpenTruncate != 0 {
		flags |= os.O_TRUNC
	}

	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return toWireError(err, path, wire.ErrCannotOpenForReading)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return toWireError(err, path, wire.ErrCannotStat)
	}

	if err := w.MimeType(mimeTypeOf(path)); err != nil {
		f.Close()
		return err
	}
	if err := w.TotalSize(uint64(fi.Size())); err != nil {
		f.Close()
		return err
	}

	h.stream = f
	return w.Opened()
}

func (h *Handler) Read(ctx context.Context, w *worker.Worker, size uint64) error {
	if h.stream == nil {
		return wire.NewError(wire.ErrCannotRead, "no open stream")
	}
	buf := make([]byte, size)
	n, err := h.stream.Read(buf)
	if n > 0 {
		if serr := w.Data(buf[:n]); serr != nil {
			return serr
		}
	}
	if err == io.EOF {
		return w.Data(nil)
	}
	if err != nil {
		return toWireError(err, h.stream.Name(), wire.ErrCannotRead)
	}
	return nil
}

func (h *Handler) Write(ctx context.Context, w *worker.Worker, data []byte) error {
	if h.stream == nil {
		return wire.NewError(wire.ErrCannotWrite, "no open stream")
	}
	n, err := h.stream.Write(data)
	if err != nil {
		return toWireError(err, h.stream.Name(), wire.ErrCannotWrite)
	}
	return w.Written(uint64(n))
}

func (h *Handler) Seek(ctx context.Context, w *worker.Worker, offset uint64) error {
	if h.stream == nil {
		return wire.NewError(wire.ErrCannotSeek, "no open stream")
	}
	pos, err := h.stream.Seek(int64(offset), io.SeekStart)
	if err != nil {
		return toWireError(err, h.stream.Name(), wire.ErrCannotSeek)
	}
	return w.Position(uint64(pos))
}

func (h *Handler) Truncate(ctx context.Context, w *worker.Worker, length uint64) error {
	if h.stream == nil {
		return wire.NewError(wire.ErrCannotTruncate, "no open stream")
	}
	if err := h.stream.Truncate(int64(length)); err != nil {
		return toWireError(err, h.stream.Name(), wire.ErrCannotTruncate)
	}
	return w.Truncated(length)
}

func (h *Handler) Close(ctx context.Context, w *worker.Worker) error {
	if h.stream == nil {
		return nil
	}
	err := h.stream.Close()
	h.stream = nil
	if err != nil {
		return wire.NewError(wire.ErrCannotWrite, err.Error())
	}
	return nil
}

func (h *Handler) FreeSpace(ctx context.Context, w *worker.Worker, u *url.URL) error {
	path := pathOf(u)

	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return toWireError(err, path, wire.ErrCannotStat)
	}
	w.SetMetaData("total", strconv.FormatUint(uint64(st.Blocks)*uint64(st.Bsize), 10))
	w.SetMetaData("available", strconv.FormatUint(uint64(st.Bavail)*uint64(st.Bsize), 10))
	return nil
}

// Package s3 implements an object storage scheme worker against Amazon S3
// or any S3-compatible endpoint. URLs take the form s3://bucket/key; the
// key namespace is presented as a directory tree using "/" as delimiter,
// with zero-byte keys ending in "/" standing in for directories.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/vfsio/workerkit/internal/protocol/wire"
	"github.com/vfsio/workerkit/internal/worker"
)

const chunkSize = 1024 * 1024

// Client is the subset of the S3 API the handler uses. *awss3.Client
// satisfies it; tests substitute an in-memory fake.
type Client interface {
	awss3.ListObjectsV2APIClient
	GetObject(ctx context.Context, in *awss3.GetObjectInput, opts ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *awss3.HeadObjectInput, opts ...func(*awss3.Options)) (*awss3.HeadObjectOutput, error)
	PutObject(ctx context.Context, in *awss3.PutObjectInput, opts ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
	CopyObject(ctx context.Context, in *awss3.CopyObjectInput, opts ...func(*awss3.Options)) (*awss3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, in *awss3.DeleteObjectInput, opts ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error)
}

// Handler serves the s3 scheme.
type Handler struct {
	worker.UnsupportedBase

	log    *slog.Logger
	client Client
}

// New builds an s3 scheme handler around a configured client.
func New(client Client, log *slog.Logger) *Handler {
	return &Handler{
		log:    log.With("scheme", "s3"),
		client: client,
	}
}

// split extracts bucket and key from an s3 URL. The bucket is the URL
// host; the key is the path without its leading slash.
func split(u *url.URL) (bucket, key string) {
	return u.Host, strings.TrimPrefix(u.Path, "/")
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

func isNotFound(err error) bool {
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noKey) || errors.As(err, &notFound)
}

func toWireError(err error, where string, fallback wire.ErrorCode) error {
	if isNotFound(err) {
		return wire.NewError(wire.ErrDoesNotExist, where)
	}
	return wire.NewError(fallback, where)
}

func (h *Handler) OpenConnection(ctx context.Context, w *worker.Worker) error {
	if h.client == nil {
		return wire.NewError(wire.ErrCannotLogin, "no s3 client configured")
	}
	return nil
}

func (h *Handler) Get(ctx context.Context, w *worker.Worker, u *url.URL) error {
	bucket, key := split(u)

	in := &awss3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	offset := resumeOffset(w)
	if offset > 0 {
		in.Range = aws.String(fmt.Sprintf("bytes=%d-", offset))
	}

	out, err := h.client.GetObject(ctx, in)
	if err != nil {
		return toWireError(err, u.String(), wire.ErrCannotOpenForReading)
	}
	defer out.Body.Close()

	if out.ContentType != nil {
		if err := w.MimeType(*out.ContentType); err != nil {
			return err
		}
	}
	if out.ContentLength != nil {
		// A ranged response reports the remaining length only.
		if err := w.TotalSize(uint64(offset) + uint64(*out.ContentLength)); err != nil {
			return err
		}
	}
	if offset > 0 {
		if err := w.CanResume(uint64(offset)); err != nil {
			return err
		}
	}

	processed := uint64(offset)
	buf := make([]byte, chunkSize)
	for {
		if w.WasKilled() {
			return wire.NewError(wire.ErrAborted, u.String())
		}
		n, rerr := out.Body.Read(buf)
		if n > 0 {
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
			return wire.NewError(wire.ErrCannotRead, u.String())
		}
	}
	return w.Data(nil)
}

func (h *Handler) Put(ctx context.Context, w *worker.Worker, u *url.URL, permissions int32, flags uint32) error {
	bucket, key := split(u)

	if flags&wire.FlagOverwrite == 0 {
		_, err := h.client.HeadObject(ctx, &awss3.HeadObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err == nil {
			return wire.NewError(wire.ErrFileAlreadyExists, u.String())
		}
		if !isNotFound(err) {
			return toWireError(err, u.String(), wire.ErrCannotStat)
		}
	}

	// Objects are immutable, so the upload content is staged in full
	// before a single put. Multipart would lift the memory bound; keys
	// served by this worker stay well below it in practice.
	var body bytes.Buffer
	for {
		if w.WasKilled() {
			return wire.NewError(wire.ErrAborted, u.String())
		}
		chunk, err := w.ReadData()
		if err != nil {
			return err
		}
		if len(chunk) == 0 {
			break
		}
		body.Write(chunk)
		if err := w.ProcessedSize(uint64(body.Len())); err != nil {
			return err
		}
	}

	_, err := h.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body.Bytes()),
	})
	if err != nil {
		return toWireError(err, u.String(), wire.ErrCannotWrite)
	}
	return nil
}

func (h *Handler) Stat(ctx context.Context, w *worker.Worker, u *url.URL) error {
	bucket, key := split(u)

	// Bucket root and directory markers stat as directories.
	if key == "" || strings.HasSuffix(key, "/") {
		var entry wire.Entry
		entry.SetString(wire.FieldName, path.Base(strings.TrimSuffix(key, "/")))
		entry.SetNumber(wire.FieldType, wire.TypeDirectory)
		return w.StatEntry(entry)
	}

	head, err := h.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			// A key prefix with children behaves as a directory even
			// without a marker object.
			if h.hasChildren(ctx, bucket, key+"/") {
				var entry wire.Entry
				entry.SetString(wire.FieldName, path.Base(key))
				entry.SetNumber(wire.FieldType, wire.TypeDirectory)
				return w.StatEntry(entry)
			}
			return wire.NewError(wire.ErrDoesNotExist, u.String())
		}
		return toWireError(err, u.String(), wire.ErrCannotStat)
	}

	var entry wire.Entry
	entry.SetString(wire.FieldName, path.Base(key))
	entry.SetNumber(wire.FieldType, wire.TypeRegular)
	if head.ContentLength != nil {
		entry.SetNumber(wire.FieldSize, *head.ContentLength)
	}
	if head.LastModified != nil {
		entry.SetTime(wire.FieldModificationTime, *head.LastModified)
	}
	if head.ContentType != nil {
		entry.SetString(wire.FieldMimeType, *head.ContentType)
	}
	return w.StatEntry(entry)
}

func (h *Handler) hasChildren(ctx context.Context, bucket, prefix string) bool {
	out, err := h.client.ListObjectsV2(ctx, &awss3.ListObjectsV2Input{
		Bucket:  aws.String(bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(1),
	})
	return err == nil && out.KeyCount != nil && *out.KeyCount > 0
}

func (h *Handler) Mimetype(ctx context.Context, w *worker.Worker, u *url.URL) error {
	bucket, key := split(u)

	head, err := h.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return toWireError(err, u.String(), wire.ErrCannotStat)
	}
	mt := "application/octet-stream"
	if head.ContentType != nil && *head.ContentType != "" {
		mt = *head.ContentType
	}
	return w.MimeType(mt)
}

func (h *Handler) ListDir(ctx context.Context, w *worker.Worker, u *url.URL) error {
	bucket, key := split(u)

	prefix := key
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	paginator := awss3.NewListObjectsV2Paginator(h.client, &awss3.ListObjectsV2Input{
		Bucket:    aws.String(bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})

	seen := false
	for paginator.HasMorePages() {
		if w.WasKilled() {
			return wire.NewError(wire.ErrAborted, u.String())
		}
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return toWireError(err, u.String(), wire.ErrCannotEnterDirectory)
		}

		for _, cp := range page.CommonPrefixes {
			seen = true
			name := path.Base(strings.TrimSuffix(aws.ToString(cp.Prefix), "/"))
			var entry wire.Entry
			entry.SetString(wire.FieldName, name)
			entry.SetNumber(wire.FieldType, wire.TypeDirectory)
			if err := w.ListEntry(entry); err != nil {
				return err
			}
		}
		for _, obj := range page.Contents {
			k := aws.ToString(obj.Key)
			if k == prefix {
				// The directory's own marker object.
				seen = true
				continue
			}
			seen = true
			var entry wire.Entry
			entry.SetString(wire.FieldName, path.Base(k))
			entry.SetNumber(wire.FieldType, wire.TypeRegular)
			if obj.Size != nil {
				entry.SetNumber(wire.FieldSize, *obj.Size)
			}
			if obj.LastModified != nil {
				entry.SetTime(wire.FieldModificationTime, *obj.LastModified)
			}
			if err := w.ListEntry(entry); err != nil {
				return err
			}
		}
	}

	if !seen && prefix != "" {
		return wire.NewError(wire.ErrDoesNotExist, u.String())
	}
	return nil
}

func (h *Handler) Mkdir(ctx context.Context, w *worker.Worker, u *url.URL, permissions int32) error {
	bucket, key := split(u)
	marker := strings.TrimSuffix(key, "/") + "/"

	if h.hasChildren(ctx, bucket, marker) {
		return wire.NewError(wire.ErrDirAlreadyExists, u.String())
	}

	_, err := h.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(marker),
		Body:   bytes.NewReader(nil),
	})
	if err != nil {
		return toWireError(err, u.String(), wire.ErrCannotMkdir)
	}
	return nil
}

func (h *Handler) Rename(ctx context.Context, w *worker.Worker, src, dest *url.URL, flags uint32) error {
	if err := h.Copy(ctx, w, src, dest, -1, flags); err != nil {
		return err
	}
	bucket, key := split(src)
	_, err := h.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return toWireError(err, src.String(), wire.ErrCannotRename)
	}
	return nil
}

func (h *Handler) Copy(ctx context.Context, w *worker.Worker, src, dest *url.URL, permissions int32, flags uint32) error {
	srcBucket, srcKey := split(src)
	destBucket, destKey := split(dest)

	if flags&wire.FlagOverwrite == 0 {
		_, err := h.client.HeadObject(ctx, &awss3.HeadObjectInput{
			Bucket: aws.String(destBucket),
			Key:    aws.String(destKey),
		})
		if err == nil {
			return wire.NewError(wire.ErrFileAlreadyExists, dest.String())
		}
		if !isNotFound(err) {
			return toWireError(err, dest.String(), wire.ErrCannotStat)
		}
	}

	_, err := h.client.CopyObject(ctx, &awss3.CopyObjectInput{
		Bucket:     aws.String(destBucket),
		Key:        aws.String(destKey),
		CopySource: aws.String(srcBucket + "/" + srcKey),
	})
	if err != nil {
		return toWireError(err, src.String(), wire.ErrCannotWrite)
	}
	return nil
}

func (h *Handler) Del(ctx context.Context, w *worker.Worker, u *url.URL, isFile bool) error {
	bucket, key := split(u)

	if isFile {
		// DeleteObject is idempotent; head first so a missing object is
		// reported rather than silently "deleted".
		_, err := h.client.HeadObject(ctx, &awss3.HeadObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return toWireError(err, u.String(), wire.ErrCannotDelete)
		}
		_, err = h.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return toWireError(err, u.String(), wire.ErrCannotDelete)
		}
		return nil
	}

	prefix := strings.TrimSuffix(key, "/") + "/"
	paginator := awss3.NewListObjectsV2Paginator(h.client, &awss3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})

	var keys []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return toWireError(err, u.String(), wire.ErrCannotDelete)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}

	if len(keys) == 0 {
		return wire.NewError(wire.ErrDoesNotExist, u.String())
	}

	// Anything beyond the marker object makes this a populated directory.
	populated := false
	for _, k := range keys {
		if k != prefix {
			populated = true
			break
		}
	}
	if populated && !w.ConfigValueBool("recurse", false) {
		return wire.NewError(wire.ErrCannotDelete, u.String())
	}

	for _, k := range keys {
		if w.WasKilled() {
			return wire.NewError(wire.ErrAborted, u.String())
		}
		_, err := h.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(k),
		})
		if err != nil {
			return toWireError(err, u.String(), wire.ErrCannotDelete)
		}
	}
	return nil
}

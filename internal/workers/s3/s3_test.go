package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vfsio/workerkit/internal/protocol/wire"
	"github.com/vfsio/workerkit/internal/worker"
)

func TestSplit(t *testing.T) {
	cases := []struct {
		name   string
		url    string
		bucket string
		key    string
	}{
		{"ObjectKey", "s3://media/photos/2024/beach.jpg", "media", "photos/2024/beach.jpg"},
		{"TopLevelKey", "s3://media/readme.txt", "media", "readme.txt"},
		{"BucketRoot", "s3://media/", "media", ""},
		{"BucketOnly", "s3://media", "media", ""},
		{"DirectoryMarker", "s3://media/photos/", "media", "photos/"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			u, err := url.Parse(tc.url)
			require.NoError(t, err)

			bucket, key := split(u)
			assert.Equal(t, tc.bucket, bucket)
			assert.Equal(t, tc.key, key)
		})
	}
}

func TestErrorMapping(t *testing.T) {
	t.Run("NoSuchKeyBecomesDoesNotExist", func(t *testing.T) {
		err := toWireError(&types.NoSuchKey{}, "s3://b/k", wire.ErrCannotOpenForReading)

		var werr *wire.Error
		require.ErrorAs(t, err, &werr)
		assert.Equal(t, wire.ErrDoesNotExist, werr.Code)
	})

	t.Run("NotFoundBecomesDoesNotExist", func(t *testing.T) {
		err := toWireError(&types.NotFound{}, "s3://b/k", wire.ErrCannotStat)

		var werr *wire.Error
		require.ErrorAs(t, err, &werr)
		assert.Equal(t, wire.ErrDoesNotExist, werr.Code)
	})

	t.Run("OtherErrorsKeepTheFallback", func(t *testing.T) {
		err := toWireError(errors.New("throttled"), "s3://b/k", wire.ErrCannotWrite)

		var werr *wire.Error
		require.ErrorAs(t, err, &werr)
		assert.Equal(t, wire.ErrCannotWrite, werr.Code)
	})
}

// ============================================================================
// In-memory S3 fake
// ============================================================================

// fakeClient implements Client over a key→body map. One bucket; the
// bucket name in requests is ignored.
type fakeClient struct {
	objects map[string][]byte
}

func newFakeClient(objects map[string][]byte) *fakeClient {
	if objects == nil {
		objects = make(map[string][]byte)
	}
	return &fakeClient{objects: objects}
}

func (c *fakeClient) HeadObject(_ context.Context, in *awss3.HeadObjectInput, _ ...func(*awss3.Options)) (*awss3.HeadObjectOutput, error) {
	body, ok := c.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &awss3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(body)))}, nil
}

func (c *fakeClient) GetObject(_ context.Context, in *awss3.GetObjectInput, _ ...func(*awss3.Options)) (*awss3.GetObjectOutput, error) {
	body, ok := c.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &awss3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: aws.Int64(int64(len(body))),
	}, nil
}

func (c *fakeClient) PutObject(_ context.Context, in *awss3.PutObjectInput, _ ...func(*awss3.Options)) (*awss3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	c.objects[aws.ToString(in.Key)] = body
	return &awss3.PutObjectOutput{}, nil
}

func (c *fakeClient) CopyObject(_ context.Context, in *awss3.CopyObjectInput, _ ...func(*awss3.Options)) (*awss3.CopyObjectOutput, error) {
	// CopySource is "bucket/key".
	_, srcKey, _ := strings.Cut(aws.ToString(in.CopySource), "/")
	body, ok := c.objects[srcKey]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	c.objects[aws.ToString(in.Key)] = body
	return &awss3.CopyObjectOutput{}, nil
}

func (c *fakeClient) DeleteObject(_ context.Context, in *awss3.DeleteObjectInput, _ ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error) {
	delete(c.objects, aws.ToString(in.Key))
	return &awss3.DeleteObjectOutput{}, nil
}

func (c *fakeClient) ListObjectsV2(_ context.Context, in *awss3.ListObjectsV2Input, _ ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error) {
	prefix := aws.ToString(in.Prefix)
	var contents []types.Object
	for k := range c.objects {
		if strings.HasPrefix(k, prefix) {
			contents = append(contents, types.Object{Key: aws.String(k)})
		}
	}
	return &awss3.ListObjectsV2Output{
		Contents:    contents,
		KeyCount:    aws.Int32(int32(len(contents))),
		IsTruncated: aws.Bool(false),
	}, nil
}

// ============================================================================
// Job-side test harness
// ============================================================================

// harness runs an s3 worker end to end over the fake client and speaks
// the job side of the channel.
type harness struct {
	t   *testing.T
	job *wire.Conn

	done   chan struct{}
	runErr error
}

func startS3Worker(t *testing.T, client *fakeClient) *harness {
	t.Helper()

	jobSide, workerSide := net.Pipe()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	w := worker.New(wire.NewConn(workerSide), worker.Options{
		Protocol: "s3",
		Handler:  New(client, log),
		Logger:   log,
	})

	h := &harness{
		t:    t,
		job:  wire.NewConn(jobSide),
		done: make(chan struct{}),
	}
	go func() {
		h.runErr = w.Run(context.Background())
		close(h.done)
	}()

	t.Cleanup(func() {
		h.job.Close()
		select {
		case <-h.done:
			assert.NoError(t, h.runErr)
		case <-time.After(2 * time.Second):
			t.Error("worker did not shut down")
		}
	})
	return h
}

func (h *harness) send(cmd wire.Cmd, v any) {
	h.t.Helper()
	var payload []byte
	if v != nil {
		var err error
		payload, err = wire.Marshal(v)
		require.NoError(h.t, err)
	}
	require.NoError(h.t, h.job.Send(cmd, payload))
}

func (h *harness) expect(want wire.Cmd) []byte {
	h.t.Helper()
	require.NoError(h.t, h.job.SetReadDeadline(time.Now().Add(2*time.Second)))
	cmd, payload, err := h.job.Receive()
	require.NoError(h.t, err)
	require.Equal(h.t, want, cmd, "expected %s, got %s", want, cmd)
	return payload
}

func (h *harness) expectError(code wire.ErrorCode) {
	h.t.Helper()
	payload := h.expect(wire.MsgError)
	var args wire.ErrorArgs
	require.NoError(h.t, wire.Unmarshal(payload, &args))
	assert.Equal(h.t, int32(code), args.Code)
}

func TestDel(t *testing.T) {
	t.Run("MissingObjectReportsDoesNotExist", func(t *testing.T) {
		// DeleteObject alone would report success for a key that was
		// never there.
		h := startS3Worker(t, newFakeClient(nil))
		h.send(wire.CmdDel, wire.DelArgs{URL: "s3://media/ghost.jpg", IsFile: true})
		h.expectError(wire.ErrDoesNotExist)
	})

	t.Run("RemovesExistingObject", func(t *testing.T) {
		client := newFakeClient(map[string][]byte{"photos/a.jpg": []byte("x")})

		h := startS3Worker(t, client)
		h.send(wire.CmdDel, wire.DelArgs{URL: "s3://media/photos/a.jpg", IsFile: true})
		h.expect(wire.MsgFinished)

		assert.Empty(t, client.objects)
	})

	t.Run("MissingDirectoryPrefixReportsDoesNotExist", func(t *testing.T) {
		h := startS3Worker(t, newFakeClient(nil))
		h.send(wire.CmdDel, wire.DelArgs{URL: "s3://media/no-such-dir"})
		h.expectError(wire.ErrDoesNotExist)
	})

	t.Run("PopulatedDirectoryNeedsRecurseOptIn", func(t *testing.T) {
		client := newFakeClient(map[string][]byte{
			"photos/":      nil,
			"photos/a.jpg": []byte("x"),
		})

		h := startS3Worker(t, client)
		h.send(wire.CmdDel, wire.DelArgs{URL: "s3://media/photos"})
		h.expectError(wire.ErrCannotDelete)
		assert.Contains(t, client.objects, "photos/a.jpg")

		meta, err := wire.EncodeMetaData(map[string]string{"recurse": "true"})
		require.NoError(t, err)
		require.NoError(t, h.job.Send(wire.CmdMetaData, meta))

		h.send(wire.CmdDel, wire.DelArgs{URL: "s3://media/photos"})
		h.expect(wire.MsgFinished)
		assert.Empty(t, client.objects)
	})
}

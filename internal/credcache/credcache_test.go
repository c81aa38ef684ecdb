package credcache

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vfsio/workerkit/internal/protocol/wire"
	"github.com/vfsio/workerkit/internal/worker"
)

func openTestBroker(t *testing.T, prompt PromptFunc) *Broker {
	t.Helper()
	b, err := Open(Options{
		Prompt: prompt,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestBroker(t *testing.T) {
	request := worker.AuthInfo{
		URL:    "ftp://files.example.com",
		Realm:  "downloads",
		Prompt: "Password for files.example.com",
	}

	t.Run("CacheThenCheckCachedRoundTrip", func(t *testing.T) {
		b := openTestBroker(t, nil)

		stored := request
		stored.Username = "alice"
		stored.Password = "s3cret"
		require.NoError(t, b.Cache(stored))

		found, ok := b.CheckCached(request)
		require.True(t, ok)
		assert.Equal(t, "alice", found.Username)
		assert.Equal(t, "s3cret", found.Password)
	})

	t.Run("CheckCachedMissReportsNotOk", func(t *testing.T) {
		b := openTestBroker(t, nil)

		_, ok := b.CheckCached(request)
		assert.False(t, ok)
	})

	t.Run("RealmsDoNotCollide", func(t *testing.T) {
		b := openTestBroker(t, nil)

		stored := request
		stored.Username = "alice"
		require.NoError(t, b.Cache(stored))

		other := request
		other.Realm = "uploads"
		_, ok := b.CheckCached(other)
		assert.False(t, ok)
	})

	t.Run("QueryPrefersCache", func(t *testing.T) {
		prompted := false
		b := openTestBroker(t, func(info worker.AuthInfo) (worker.AuthInfo, error) {
			prompted = true
			return info, nil
		})

		stored := request
		stored.Username = "cached-user"
		require.NoError(t, b.Cache(stored))

		got, err := b.QueryCredentials(request)
		require.NoError(t, err)
		assert.Equal(t, "cached-user", got.Username)
		assert.False(t, prompted)
	})

	t.Run("QueryFallsBackToPrompt", func(t *testing.T) {
		b := openTestBroker(t, func(info worker.AuthInfo) (worker.AuthInfo, error) {
			info.Username = "prompted-user"
			info.Password = "typed"
			return info, nil
		})

		got, err := b.QueryCredentials(request)
		require.NoError(t, err)
		assert.Equal(t, "prompted-user", got.Username)

		// Prompt results are not cached until verified.
		_, ok := b.CheckCached(request)
		assert.False(t, ok)
	})

	t.Run("QueryWithoutPromptFailsAuthentication", func(t *testing.T) {
		b := openTestBroker(t, nil)

		_, err := b.QueryCredentials(request)
		var werr *wire.Error
		require.ErrorAs(t, err, &werr)
		assert.Equal(t, wire.ErrCannotAuthenticate, werr.Code)
	})

	t.Run("RemoveDropsEntry", func(t *testing.T) {
		b := openTestBroker(t, nil)

		stored := request
		stored.Username = "alice"
		require.NoError(t, b.Cache(stored))
		require.NoError(t, b.Remove(request))

		_, ok := b.CheckCached(request)
		assert.False(t, ok)
	})

	t.Run("PersistsAcrossReopen", func(t *testing.T) {
		dir := t.TempDir()

		b, err := Open(Options{Path: dir})
		require.NoError(t, err)

		stored := request
		stored.Username = "alice"
		stored.KeepPassword = true
		require.NoError(t, b.Cache(stored))
		require.NoError(t, b.Close())

		reopened, err := Open(Options{Path: dir})
		require.NoError(t, err)
		defer reopened.Close()

		found, ok := reopened.CheckCached(request)
		require.True(t, ok)
		assert.Equal(t, "alice", found.Username)
	})
}

package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadMarshal(t *testing.T) {
	t.Run("RoundTripsHostArgs", func(t *testing.T) {
		original := HostArgs{Host: "files.example.com", Port: 2049, User: "alice", Pass: "secret"}

		data, err := Marshal(original)
		require.NoError(t, err)

		var decoded HostArgs
		require.NoError(t, Unmarshal(data, &decoded))
		assert.Equal(t, original, decoded)
	})

	t.Run("RoundTripsCopyArgsWithFlags", func(t *testing.T) {
		original := CopyArgs{
			Src:         "file:///src/a.txt",
			Dest:        "file:///dest/a.txt",
			Permissions: -1,
			Flags:       FlagOverwrite | FlagResume,
		}

		data, err := Marshal(original)
		require.NoError(t, err)

		var decoded CopyArgs
		require.NoError(t, Unmarshal(data, &decoded))
		assert.Equal(t, original, decoded)
		assert.NotZero(t, decoded.Flags&FlagOverwrite)
	})

	t.Run("TruncatedPayloadIsProtocolError", func(t *testing.T) {
		data, err := Marshal(HostArgs{Host: "h", Port: 1, User: "u", Pass: "p"})
		require.NoError(t, err)

		var decoded HostArgs
		err = Unmarshal(data[:len(data)-3], &decoded)

		var perr *ProtocolError
		require.ErrorAs(t, err, &perr)
	})
}

func TestMetaDataCodec(t *testing.T) {
	t.Run("RoundTripsMap", func(t *testing.T) {
		original := map[string]string{
			"recurse":         "true",
			"ResponseTimeout": "30",
			"accept":          "text/html",
		}

		data, err := EncodeMetaData(original)
		require.NoError(t, err)

		decoded, err := DecodeMetaData(data)
		require.NoError(t, err)
		assert.Equal(t, original, decoded)
	})

	t.Run("RoundTripsEmptyMap", func(t *testing.T) {
		data, err := EncodeMetaData(nil)
		require.NoError(t, err)

		decoded, err := DecodeMetaData(data)
		require.NoError(t, err)
		assert.Empty(t, decoded)
	})

	t.Run("EncodingIsDeterministic", func(t *testing.T) {
		m := map[string]string{"b": "2", "a": "1", "c": "3"}

		first, err := EncodeMetaData(m)
		require.NoError(t, err)
		second, err := EncodeMetaData(m)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("RejectsImplausibleCount", func(t *testing.T) {
		_, err := DecodeMetaData([]byte{0xFF, 0xFF, 0xFF, 0xFF})

		var perr *ProtocolError
		require.ErrorAs(t, err, &perr)
	})
}

package wire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryFields(t *testing.T) {
	t.Run("StoresAndRetrievesValues", func(t *testing.T) {
		var e Entry
		mtime := time.Unix(1700000000, 0)

		e.SetString(FieldName, "report.pdf")
		e.SetNumber(FieldSize, 4096)
		e.SetNumber(FieldType, TypeRegular)
		e.SetTime(FieldModificationTime, mtime)

		name, ok := e.String(FieldName)
		require.True(t, ok)
		assert.Equal(t, "report.pdf", name)

		size, ok := e.Number(FieldSize)
		require.True(t, ok)
		assert.Equal(t, int64(4096), size)

		got, ok := e.Time(FieldModificationTime)
		require.True(t, ok)
		assert.True(t, mtime.Equal(got))
	})

	t.Run("ReplacesValueForSameField", func(t *testing.T) {
		var e Entry
		e.SetNumber(FieldSize, 10)
		e.SetNumber(FieldSize, 20)

		assert.Equal(t, 1, e.Len())
		size, _ := e.Number(FieldSize)
		assert.Equal(t, int64(20), size)
	})

	t.Run("MissingFieldReportsNotOk", func(t *testing.T) {
		var e Entry

		_, ok := e.String(FieldLinkDest)
		assert.False(t, ok)
		_, ok = e.Number(FieldInode)
		assert.False(t, ok)
	})

	t.Run("PreservesInsertionOrder", func(t *testing.T) {
		var e Entry
		e.SetString(FieldName, "a")
		e.SetNumber(FieldType, TypeDirectory)
		e.SetNumber(FieldSize, 1)

		assert.Equal(t, []FieldID{FieldName, FieldType, FieldSize}, e.Fields())
	})
}

func TestEntryCodec(t *testing.T) {
	makeEntry := func(name string, size int64) Entry {
		var e Entry
		e.SetString(FieldName, name)
		e.SetNumber(FieldSize, size)
		e.SetNumber(FieldType, TypeRegular)
		e.SetNumber(FieldAccess, 0o644)
		return e
	}

	t.Run("RoundTripsSingleEntry", func(t *testing.T) {
		original := makeEntry("notes.txt", 123)
		original.SetString(FieldLinkDest, "target")

		data, err := EncodeEntry(original)
		require.NoError(t, err)

		decoded, err := DecodeEntry(data)
		require.NoError(t, err)
		assert.Equal(t, original, decoded)
	})

	t.Run("RoundTripsEntryList", func(t *testing.T) {
		original := []Entry{
			makeEntry("a.txt", 1),
			makeEntry("b.txt", 2),
			makeEntry("c.txt", 3),
		}

		data, err := EncodeEntryList(original)
		require.NoError(t, err)

		decoded, err := DecodeEntryList(data)
		require.NoError(t, err)
		assert.Equal(t, original, decoded)
	})

	t.Run("RoundTripsEmptyList", func(t *testing.T) {
		data, err := EncodeEntryList(nil)
		require.NoError(t, err)

		decoded, err := DecodeEntryList(data)
		require.NoError(t, err)
		assert.Empty(t, decoded)
	})

	t.Run("RejectsTruncatedData", func(t *testing.T) {
		data, err := EncodeEntry(makeEntry("x", 5))
		require.NoError(t, err)

		_, err = DecodeEntry(data[:len(data)-2])
		var perr *ProtocolError
		require.ErrorAs(t, err, &perr)
	})
}

package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	xdr "github.com/rasky/go-xdr/xdr2"
)

// FieldID tags one attribute of a directory or stat entry. The upper bits
// carry the value kind, the lower bits the attribute; the worker picks
// which fields it populates per call and consumers must tolerate missing
// ones.
type FieldID uint32

const (
	// Kind bits.
	FieldKindString FieldID = 0x01000000
	FieldKindNumber FieldID = 0x02000000
	FieldKindTime   FieldID = 0x04000000 | FieldKindNumber
)

const (
	FieldSize             FieldID = 1 | FieldKindNumber
	FieldUser             FieldID = 3 | FieldKindString
	FieldGroup            FieldID = 5 | FieldKindString
	FieldName             FieldID = 7 | FieldKindString
	FieldLocalPath        FieldID = 8 | FieldKindString
	FieldHidden           FieldID = 9 | FieldKindNumber
	FieldAccess           FieldID = 10 | FieldKindNumber
	FieldModificationTime FieldID = 11 | FieldKindTime
	FieldAccessTime       FieldID = 12 | FieldKindTime
	FieldCreationTime     FieldID = 13 | FieldKindTime
	FieldType             FieldID = 14 | FieldKindNumber
	FieldLinkDest         FieldID = 15 | FieldKindString
	FieldURL              FieldID = 16 | FieldKindString
	FieldMimeType         FieldID = 17 | FieldKindString
	FieldDeviceID         FieldID = 29 | FieldKindNumber
	FieldInode            FieldID = 30 | FieldKindNumber
)

// IsString reports whether the field carries a string value.
func (id FieldID) IsString() bool {
	return id&FieldKindString != 0
}

// Entry is one file-system-like object described as an ordered list of
// tagged fields.
type Entry struct {
	fields []entryField
}

type entryField struct {
	id  FieldID
	str string
	num int64
}

// SetString records a string-valued field, replacing a previous value for
// the same id.
func (e *Entry) SetString(id FieldID, v string) {
	e.set(entryField{id: id, str: v})
}

// SetNumber records an integer-valued field.
func (e *Entry) SetNumber(id FieldID, v int64) {
	e.set(entryField{id: id, num: v})
}

// SetTime records a time-valued field as unix seconds.
func (e *Entry) SetTime(id FieldID, t time.Time) {
	e.set(entryField{id: id, num: t.Unix()})
}

func (e *Entry) set(f entryField) {
	for i := range e.fields {
		if e.fields[i].id == f.id {
			e.fields[i] = f
			return
		}
	}
	e.fields = append(e.fields, f)
}

// String returns the value of a string field; ok is false when absent.
func (e *Entry) String(id FieldID) (string, bool) {
	for _, f := range e.fields {
		if f.id == id {
			return f.str, true
		}
	}
	return "", false
}

// Number returns the value of a numeric field; ok is false when absent.
func (e *Entry) Number(id FieldID) (int64, bool) {
	for _, f := range e.fields {
		if f.id == id {
			return f.num, true
		}
	}
	return 0, false
}

// Time returns the value of a time field.
func (e *Entry) Time(id FieldID) (time.Time, bool) {
	n, ok := e.Number(id)
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(n, 0), true
}

// Len returns the number of populated fields.
func (e *Entry) Len() int {
	return len(e.fields)
}

// Fields returns the populated field ids in insertion order.
func (e *Entry) Fields() []FieldID {
	ids := make([]FieldID, len(e.fields))
	for i, f := range e.fields {
		ids[i] = f.id
	}
	return ids
}

func (e *Entry) encode(buf *bytes.Buffer) error {
	if err := binary.Write(buf, binary.BigEndian, uint32(len(e.fields))); err != nil {
		return fmt.Errorf("write field count: %w", err)
	}
	for _, f := range e.fields {
		if err := binary.Write(buf, binary.BigEndian, uint32(f.id)); err != nil {
			return fmt.Errorf("write field id: %w", err)
		}
		if f.id.IsString() {
			if _, err := xdr.Marshal(buf, f.str); err != nil {
				return fmt.Errorf("write field string: %w", err)
			}
		} else {
			if err := binary.Write(buf, binary.BigEndian, f.num); err != nil {
				return fmt.Errorf("write field number: %w", err)
			}
		}
	}
	return nil
}

func decodeEntry(reader *bytes.Reader) (Entry, error) {
	var entry Entry

	var count uint32
	if err := binary.Read(reader, binary.BigEndian, &count); err != nil {
		return entry, &ProtocolError{Reason: fmt.Sprintf("read field count: %v", err)}
	}
	if count > MaxFrameSize/8 {
		return entry, &ProtocolError{Reason: fmt.Sprintf("field count %d implausible", count)}
	}

	for i := uint32(0); i < count; i++ {
		var rawID uint32
		if err := binary.Read(reader, binary.BigEndian, &rawID); err != nil {
			return entry, &ProtocolError{Reason: fmt.Sprintf("read field id: %v", err)}
		}
		id := FieldID(rawID)
		if id.IsString() {
			var s string
			if _, err := xdr.Unmarshal(reader, &s); err != nil {
				return entry, &ProtocolError{Reason: fmt.Sprintf("read field string: %v", err)}
			}
			entry.fields = append(entry.fields, entryField{id: id, str: s})
		} else {
			var n int64
			if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
				return entry, &ProtocolError{Reason: fmt.Sprintf("read field number: %v", err)}
			}
			entry.fields = append(entry.fields, entryField{id: id, num: n})
		}
	}
	return entry, nil
}

// EncodeEntry packs a single entry (the stat answer payload).
func EncodeEntry(e Entry) ([]byte, error) {
	var buf bytes.Buffer
	if err := e.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeEntry unpacks a single entry.
func DecodeEntry(data []byte) (Entry, error) {
	return decodeEntry(bytes.NewReader(data))
}

// EncodeEntryList packs a listing batch.
func EncodeEntryList(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, uint32(len(entries))); err != nil {
		return nil, fmt.Errorf("write entry count: %w", err)
	}
	for i := range entries {
		if err := entries[i].encode(&buf); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// DecodeEntryList unpacks a listing batch.
func DecodeEntryList(data []byte) ([]Entry, error) {
	reader := bytes.NewReader(data)

	var count uint32
	if err := binary.Read(reader, binary.BigEndian, &count); err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("read entry count: %v", err)}
	}
	if count > MaxFrameSize/8 {
		return nil, &ProtocolError{Reason: fmt.Sprintf("entry count %d implausible", count)}
	}

	entries := make([]Entry, 0, count)
	for i := uint32(0); i < count; i++ {
		entry, err := decodeEntry(reader)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Entry file types carried in FieldType, matching Unix mode type bits so
// a worker can store the raw mode's type portion directly.
const (
	TypeRegular   int64 = 0o100000
	TypeDirectory int64 = 0o040000
	TypeSymlink   int64 = 0o120000
)

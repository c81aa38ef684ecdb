package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	xdr "github.com/rasky/go-xdr/xdr2"
)

// Payloads are positional: each command's fields are packed in a fixed
// order with no self-describing schema, so a payload is only meaningful
// for the command it was framed with.
//
// Flat payloads are plain structs run through the XDR marshaler; the
// metadata map and entry lists have hand-rolled encoders below because
// their shapes fall outside what the marshaler expresses.

// Marshal packs a flat payload struct.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, v); err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return buf.Bytes(), nil
}

// Unmarshal unpacks data into a flat payload struct. Truncated input is a
// ProtocolError: the frame arrived whole, so a short payload means the two
// ends disagree about the command's field layout.
func Unmarshal(data []byte, v any) error {
	if _, err := xdr.Unmarshal(bytes.NewReader(data), v); err != nil {
		return &ProtocolError{Reason: fmt.Sprintf("unmarshal payload: %v", err)}
	}
	return nil
}

// HostArgs carries setHost: everything later commands depend on.
type HostArgs struct {
	Host string
	Port uint32
	User string
	Pass string
}

// URLArgs is the single-URL payload shared by get, stat, mimetype,
// listDir, openConnection-free operations.
type URLArgs struct {
	URL string
}

type PutArgs struct {
	URL         string
	Permissions int32 // -1 leaves permissions alone
	Flags       uint32
}

type MkdirArgs struct {
	URL         string
	Permissions int32
}

type RenameArgs struct {
	Src   string
	Dest  string
	Flags uint32
}

type CopyArgs struct {
	Src         string
	Dest        string
	Permissions int32
	Flags       uint32
}

type SymlinkArgs struct {
	Target string
	Dest   string
	Flags  uint32
}

type ChmodArgs struct {
	URL         string
	Permissions int32
}

type ChownArgs struct {
	URL   string
	Owner string
	Group string
}

type SetModTimeArgs struct {
	URL   string
	Mtime int64 // unix seconds
}

type DelArgs struct {
	URL    string
	IsFile bool
}

type SetLinkDestArgs struct {
	URL    string
	Target string
}

type OpenArgs struct {
	URL  string
	Mode uint32
}

type ReadArgs struct {
	Size uint64
}

type SeekArgs struct {
	Offset uint64
}

type TruncateArgs struct {
	Length uint64
}

// Operation flags carried by put, rename, symlink, copy.
const (
	FlagOverwrite uint32 = 1 << 0
	FlagResume    uint32 = 1 << 1
)

// ErrorArgs is the error message payload.
type ErrorArgs struct {
	Code int32
	Text string
}

// StatusArgs is the worker status report: instance id, current host and
// whether a network connection actually exists.
type StatusArgs struct {
	ID        string
	Host      string
	Connected bool
}

// MessageBoxArgs is the messageBox request payload.
type MessageBoxArgs struct {
	Type             int32
	Text             string
	Caption          string
	ButtonYes        string
	ButtonNo         string
	DontAskAgainName string
}

type MessageBoxAnswerArgs struct {
	Button int32
}

type ResumeOfferArgs struct {
	Offset uint64
}

type ResumeAnswerArgs struct {
	CanResume bool
}

type PrivilegeRequestArgs struct {
	Details string
}

type PrivilegeAnswerArgs struct {
	Status int32
}

// HostInfoArgs answers a host lookup request.
type HostInfoArgs struct {
	Hostname  string
	Addresses []string
	ErrorCode int32
}

// EncodeMetaData packs a string map as count + sorted key/value pairs.
// Sorted so encoding is deterministic for a given map.
func EncodeMetaData(m map[string]string) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, uint32(len(keys))); err != nil {
		return nil, fmt.Errorf("write count: %w", err)
	}
	for _, k := range keys {
		if _, err := xdr.Marshal(&buf, k); err != nil {
			return nil, fmt.Errorf("write key: %w", err)
		}
		if _, err := xdr.Marshal(&buf, m[k]); err != nil {
			return nil, fmt.Errorf("write value: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// DecodeMetaData unpacks a string map.
func DecodeMetaData(data []byte) (map[string]string, error) {
	reader := bytes.NewReader(data)

	var count uint32
	if err := binary.Read(reader, binary.BigEndian, &count); err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("read metadata count: %v", err)}
	}
	if count > MaxFrameSize/8 {
		return nil, &ProtocolError{Reason: fmt.Sprintf("metadata count %d implausible", count)}
	}

	m := make(map[string]string, count)
	for i := uint32(0); i < count; i++ {
		var k, v string
		if _, err := xdr.Unmarshal(reader, &k); err != nil {
			return nil, &ProtocolError{Reason: fmt.Sprintf("read metadata key: %v", err)}
		}
		if _, err := xdr.Unmarshal(reader, &v); err != nil {
			return nil, &ProtocolError{Reason: fmt.Sprintf("read metadata value: %v", err)}
		}
		m[k] = v
	}
	return m, nil
}

package eventlog

import "encoding/binary"

// Header carries the event fields that are not part of the payload blob.
// Encoding: varint idLen | id | varint typeLen | type | varint reasonLen |
// reason | publishedMs(8B BE). Reason is empty outside dead-letter logs.
type Header struct {
	ID          string
	Type        string
	Reason      string
	PublishedMs int64
}

// EncodeHeader serializes h into its binary form.
func EncodeHeader(h Header) []byte {
	out := make([]byte, 0, len(h.ID)+len(h.Type)+len(h.Reason)+16)
	out = appendVarStr(out, h.ID)
	out = appendVarStr(out, h.Type)
	out = appendVarStr(out, h.Reason)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(h.PublishedMs))
	return append(out, b[:]...)
}

// DecodeHeader parses the binary header form.
func DecodeHeader(b []byte) (Header, error) {
	var h Header
	var ok bool
	if h.ID, b, ok = takeVarStr(b); !ok {
		return Header{}, ErrCorruptRecord
	}
	if h.Type, b, ok = takeVarStr(b); !ok {
		return Header{}, ErrCorruptRecord
	}
	if h.Reason, b, ok = takeVarStr(b); !ok {
		return Header{}, ErrCorruptRecord
	}
	if len(b) < 8 {
		return Header{}, ErrCorruptRecord
	}
	h.PublishedMs = int64(binary.BigEndian.Uint64(b[:8]))
	return h, nil
}

func appendVarStr(dst []byte, s string) []byte {
	var tmp [10]byte
	n := binary.PutUvarint(tmp[:], uint64(len(s)))
	dst = append(dst, tmp[:n]...)
	return append(dst, s...)
}

func takeVarStr(b []byte) (string, []byte, bool) {
	l, n := binary.Uvarint(b)
	// Compare unsigned before converting: a huge length would wrap int(l)
	// negative and slip past a signed bounds check.
	if n <= 0 || l > uint64(len(b)-n) {
		return "", nil, false
	}
	return string(b[n : n+int(l)]), b[n+int(l):], true
}

package eventlog

import (
	"encoding/binary"
	"errors"
	"hash/crc32"

	"github.com/golang/snappy"
)

// Record encoding:
//
//	flags(1B) | varint headerLen | header | payload | crc32c(header|payload)
//
// The checksum covers the stored bytes, so a compressed payload is checked
// before decompression.

const (
	flagSnappyPayload = 1 << 0

	// Payloads below this size are stored raw; snappy overhead is not worth it.
	compressThreshold = 512
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

var ErrCorruptRecord = errors.New("eventlog: corrupt record")

// EncodeRecord serializes header and payload into a single value. Large
// payloads are snappy-compressed when compress is enabled.
func EncodeRecord(header, payload []byte, compress bool) []byte {
	var flags byte
	stored := payload
	if compress && len(payload) >= compressThreshold {
		if c := snappy.Encode(nil, payload); len(c) < len(payload) {
			stored = c
			flags |= flagSnappyPayload
		}
	}

	out := make([]byte, 0, 1+10+len(header)+len(stored)+4)
	out = append(out, flags)
	var tmp [10]byte
	n := binary.PutUvarint(tmp[:], uint64(len(header)))
	out = append(out, tmp[:n]...)
	out = append(out, header...)
	out = append(out, stored...)

	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, stored)
	var crcb [4]byte
	binary.BigEndian.PutUint32(crcb[:], crc)
	out = append(out, crcb[:]...)
	return out
}

// Decoded is the result of DecodeRecord. Header and Payload are copies owned
// by the caller.
type Decoded struct {
	Header  []byte
	Payload []byte
}

// DecodeRecord verifies the checksum and returns the header and payload,
// decompressing the payload when needed.
func DecodeRecord(b []byte) (Decoded, error) {
	if len(b) < 1+1+4 {
		return Decoded{}, ErrCorruptRecord
	}
	flags := b[0]
	rest := b[1:]
	hlen, n := binary.Uvarint(rest)
	if n <= 0 || n+int(hlen)+4 > len(rest) {
		return Decoded{}, ErrCorruptRecord
	}
	header := rest[n : n+int(hlen)]
	stored := rest[n+int(hlen) : len(rest)-4]
	expect := binary.BigEndian.Uint32(rest[len(rest)-4:])
	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, stored)
	if crc != expect {
		return Decoded{}, ErrCorruptRecord
	}

	payload := append([]byte(nil), stored...)
	if flags&flagSnappyPayload != 0 {
		var err error
		payload, err = snappy.Decode(nil, stored)
		if err != nil {
			return Decoded{}, ErrCorruptRecord
		}
	}
	return Decoded{Header: append([]byte(nil), header...), Payload: payload}, nil
}

package eventlog

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/tidalhq/tidal/internal/event"
	"github.com/tidalhq/tidal/internal/fault"
)

// Cursor is an opaque replay position. The token binds the scope and topic it
// was issued against, so a cursor can never be replayed into another log.
type Cursor struct {
	Ref event.Ref
	Seq uint64
}

// Token encoding: varint tenantLen|tenant|varint projectLen|project|
// varint topicLen|topic|seq(8B BE)|crc32c. The checksum rejects tampered or
// truncated tokens before any field is trusted.

// Token serializes the cursor into its opaque form. Transports encode it
// further (base64) at the edge.
func (c Cursor) Token() []byte {
	out := make([]byte, 0, len(c.Ref.Scope.Tenant)+len(c.Ref.Scope.Project)+len(c.Ref.Topic)+24)
	out = appendVarStr(out, c.Ref.Scope.Tenant)
	out = appendVarStr(out, c.Ref.Scope.Project)
	out = appendVarStr(out, c.Ref.Topic)
	out = appendBE8(out, c.Seq)
	var crcb [4]byte
	binary.BigEndian.PutUint32(crcb[:], crc32.Checksum(out, castagnoli))
	return append(out, crcb[:]...)
}

// ParseCursor decodes and verifies a cursor token.
func ParseCursor(tok []byte) (Cursor, error) {
	if len(tok) < 8+4+3 {
		return Cursor{}, fault.New(fault.ValidationFailed, "cursor token too short")
	}
	body, crcb := tok[:len(tok)-4], tok[len(tok)-4:]
	if crc32.Checksum(body, castagnoli) != binary.BigEndian.Uint32(crcb) {
		return Cursor{}, fault.New(fault.ValidationFailed, "cursor token checksum mismatch")
	}
	var c Cursor
	var ok bool
	if c.Ref.Scope.Tenant, body, ok = takeVarStr(body); !ok {
		return Cursor{}, fault.New(fault.ValidationFailed, "malformed cursor token")
	}
	if c.Ref.Scope.Project, body, ok = takeVarStr(body); !ok {
		return Cursor{}, fault.New(fault.ValidationFailed, "malformed cursor token")
	}
	if c.Ref.Topic, body, ok = takeVarStr(body); !ok {
		return Cursor{}, fault.New(fault.ValidationFailed, "malformed cursor token")
	}
	if len(body) != 8 {
		return Cursor{}, fault.New(fault.ValidationFailed, "malformed cursor token")
	}
	c.Seq = binary.BigEndian.Uint64(body)
	return c, nil
}

// Bind checks that the cursor was issued for ref. A topic or scope mismatch
// is a validation failure, not an expiry.
func (c Cursor) Bind(ref event.Ref) error {
	if c.Ref != ref {
		return fault.New(fault.ValidationFailed,
			"cursor issued for %s, not %s", c.Ref, ref).
			WithScope(ref.Scope.Tenant, ref.Scope.Project, ref.Topic)
	}
	return nil
}

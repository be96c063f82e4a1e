package eventlog

import (
	"encoding/binary"

	"github.com/tidalhq/tidal/internal/event"
)

// Keyspace helpers for Pebble keys.
//
// Layout (byte-wise, lexicographically sortable):
//   - t/{tenant}/{project}/g/{topic}\x00m            (log metadata: lastSeq, approx bytes)
//   - t/{tenant}/{project}/g/{topic}\x00r            (retention policy record)
//   - t/{tenant}/{project}/g/{topic}\x00e{seq_be8}   (entries)
//
// Tenant and project names never contain '/'. Topics may (the dead-letter
// convention is "dlq/<topic>"), so the topic is terminated with a 0x00 byte,
// which valid topics never contain. That keeps one topic's entry range from
// swallowing another topic's keys.

const (
	kindMeta      = 'm'
	kindRetention = 'r'
	kindEntry     = 'e'
)

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

func keyTopicPrefix(ref event.Ref) []byte {
	k := make([]byte, 0, len(ref.Scope.Tenant)+len(ref.Scope.Project)+len(ref.Topic)+16)
	k = append(k, "t/"...)
	k = append(k, ref.Scope.Tenant...)
	k = append(k, '/')
	k = append(k, ref.Scope.Project...)
	k = append(k, "/g/"...)
	k = append(k, ref.Topic...)
	k = append(k, 0x00)
	return k
}

// KeyMeta builds the per-topic metadata key.
func KeyMeta(ref event.Ref) []byte {
	return append(keyTopicPrefix(ref), kindMeta)
}

// KeyRetention builds the per-topic retention policy key.
func KeyRetention(ref event.Ref) []byte {
	return append(keyTopicPrefix(ref), kindRetention)
}

// KeyEntry builds the entry key with a big-endian sequence for proper ordering.
func KeyEntry(ref event.Ref, seq uint64) []byte {
	k := append(keyTopicPrefix(ref), kindEntry)
	return appendBE8(k, seq)
}

// EntryBounds returns the [low, high) iterator bounds covering every entry of
// one topic log.
func EntryBounds(ref event.Ref) (low, high []byte) {
	low = KeyEntry(ref, 0)
	high = KeyEntry(ref, ^uint64(0))
	high = append(high, 0x00)
	return low, high
}

// SeqFromEntryKey recovers the sequence number from an entry key.
func SeqFromEntryKey(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[len(key)-8:])
}

// KeyTenantPrefix returns the prefix covering every key a tenant owns. Used
// for storage accounting and tenant teardown.
func KeyTenantPrefix(tenant string) []byte {
	k := make([]byte, 0, len(tenant)+4)
	k = append(k, "t/"...)
	k = append(k, tenant...)
	k = append(k, '/')
	return k
}

// Package eventlog implements Tidal's durable append-only log store.
//
// # Overview
//
// Every (tenant, project, topic) triple owns one ordered log persisted in
// Pebble. Keys are lexicographically ordered for efficient range scans:
//   - t/{tenant}/{project}/g/{topic}\x00m            (metadata: lastSeq, earliest, bytes)
//   - t/{tenant}/{project}/g/{topic}\x00r            (retention policy record)
//   - t/{tenant}/{project}/g/{topic}\x00e{seq_be8}   (entries)
//
// Records are stored as: flags(1B) | varint headerLen | header | payload |
// crc32c(header|payload). Large payloads are snappy-compressed (flag bit 0).
//
// Sequence numbers start at 1 and are gapless per log: appends to the same
// log are serialized by a per-log mutex while different logs proceed in
// parallel, and each append commits entries plus metadata in one atomic
// batch.
//
// API surface (internal)
//
//	store := NewStore(db, Options{Compress: true})
//	seq, ts, _ := store.Append(ctx, ref, AppendRecord{Header: h, Payload: p})
//
//	// Replay strictly after a cursor position; expired cursors fail with
//	// fault.CursorExpired carrying the earliest retained offset.
//	events, err := store.ReadAfter(ref, cursor.Seq, 100)
//
//	// Blocking wait/notify for live dispatch.
//	l, _ := store.Log(ref)
//	woke := l.WaitForAppend(ctx, 200*time.Millisecond)
//	_ = woke
//
// # Retention
//
// Retention runs as a periodic compactor outside this package: TrimBoundary
// computes the first sequence to keep under the policy (age and byte budget,
// whichever bites first), and TruncateBefore drops everything below it with a
// single range tombstone. The boundary never splits an unexpired entry out of
// the log.
package eventlog

package eventlog

import (
	"context"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestProperty_AppendSeqs(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	// Any mix of batch sizes yields the contiguous sequence 1..N, and a
	// full read returns it back in order.
	properties.Property("batched appends stay gapless and ordered", prop.ForAll(
		func(batches []int) bool {
			db := newTestDB(t)
			l, err := OpenLog(db, testRef("orders"), false, 0)
			if err != nil {
				return false
			}

			want := uint64(0)
			for bi, n := range batches {
				recs := make([]AppendRecord, n)
				for i := range recs {
					recs[i] = rec(fmt.Sprintf("b%d-%d", bi, i), "x")
				}
				seqs, err := l.Append(context.Background(), recs)
				if err != nil {
					return false
				}
				for _, s := range seqs {
					want++
					if s != want {
						return false
					}
				}
			}

			items, err := l.Read(ReadOptions{From: 1, Limit: int(want) + 1})
			if err != nil || uint64(len(items)) != want {
				return false
			}
			for i, it := range items {
				if it.Seq != uint64(i+1) {
					return false
				}
			}
			return l.LastSeq() == want
		},
		gen.SliceOfN(4, gen.IntRange(1, 12)),
	))

	properties.TestingRun(t)
}

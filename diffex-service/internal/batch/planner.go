// Package batch partitions a (result-sets × genes) lookup into batches that
// keep every backing-store IN list under the configured size.
package batch

import (
	"sort"

	"github.com/weiawesome/diffex/diffex-service/internal/domain"
)

const (
	// DefaultResultSetBatchSize caps the result-set ids in one query.
	DefaultResultSetBatchSize = 500
	// DefaultGeneBatchSize caps the genes whose probes go into one query.
	DefaultGeneBatchSize = 200
)

// Limits are the batch-size ceilings. Non-positive values use the defaults.
type Limits struct {
	ResultSetBatchSize int `mapstructure:"result_set_batch_size"`
	GeneBatchSize      int `mapstructure:"gene_batch_size"`
}

// DefaultLimits returns the default ceilings.
func DefaultLimits() Limits {
	return Limits{
		ResultSetBatchSize: DefaultResultSetBatchSize,
		GeneBatchSize:      DefaultGeneBatchSize,
	}
}

func (l Limits) normalized() Limits {
	if l.ResultSetBatchSize <= 0 {
		l.ResultSetBatchSize = DefaultResultSetBatchSize
	}
	if l.GeneBatchSize <= 0 {
		l.GeneBatchSize = DefaultGeneBatchSize
	}
	return l
}

// Plan is the partition of a request. Every (result-set, gene) pair of the
// request lies in exactly one ResultSetBatches[i] × GeneBatches[j] cell.
type Plan struct {
	ResultSetBatches [][]domain.ResultSetID
	GeneBatches      [][]domain.GeneID

	// ByResultSet is true when result-sets outnumber genes and the
	// result-set dimension is the primary one.
	ByResultSet        bool
	ResultSetBatchSize int
	GeneBatchSize      int
}

// New plans batches for the given ids. Duplicate ids are collapsed and the
// ids are sorted so the same request always yields the same plan.
//
// The larger dimension is the primary one and keeps its full ceiling.
func New(resultSets []domain.ResultSetID, genes []domain.GeneID, limits Limits) Plan {
	limits = limits.normalized()
	rs := uniqueSorted(resultSets)
	gs := uniqueSorted(genes)

	p := Plan{ByResultSet: len(rs) > len(gs)}
	p.ResultSetBatchSize = min(limits.ResultSetBatchSize, len(rs))
	p.GeneBatchSize = min(limits.GeneBatchSize, len(gs))

	p.ResultSetBatches = chunk(rs, p.ResultSetBatchSize)
	p.GeneBatches = chunk(gs, p.GeneBatchSize)
	return p
}

// Cells returns the number of (result-set batch, gene batch) cells, which
// is also the number of tuple queries the plan can issue.
func (p Plan) Cells() int {
	return len(p.ResultSetBatches) * len(p.GeneBatches)
}

func chunk[T any](items []T, size int) [][]T {
	if len(items) == 0 || size <= 0 {
		return nil
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end:end])
	}
	return out
}

type id interface {
	~int64
}

func uniqueSorted[T id](ids []T) []T {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[T]struct{}, len(ids))
	out := make([]T, 0, len(ids))
	for _, v := range ids {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// UniqueSorted returns the distinct ids in ascending order.
func UniqueSorted[T id](ids []T) []T {
	return uniqueSorted(ids)
}

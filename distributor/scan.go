package distributor

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/google/uuid"

	"github.com/contentstore/bucketdb"
	apierrors "github.com/contentstore/bucketdb/errors"
	"github.com/contentstore/bucketdb/metrics"
)

// Scan walks the live database in chunks so that no long-lived view is
// held while writers stream in: each chunk observes the then-current
// committed state and the next chunk resumes at the key directly after
// it. Chunks are dispatched to the scan pool as they are collected.
func (d *distributor) Scan(ctx context.Context, fn func(e bucketdb.Entry) bool) error {
	if atomic.LoadInt32(&d.closed) == 1 {
		return apierrors.ErrDistributorClosed
	}

	span, ctx := trace.StartSpanFromContextWithTraceID(ctx, "scan", uuid.New().String())
	metrics.Scans.Inc()

	var (
		wg      sync.WaitGroup
		stopped int32
		fromKey uint64
		visited int
	)
	for {
		if err := ctx.Err(); err != nil {
			wg.Wait()
			span.Warnf("scan aborted after %d buckets: %s", visited, err)
			return err
		}

		chunk := make([]bucketdb.Entry, 0, d.cfg.ScanChunkSize)
		d.db.ForEach(fromKey, func(e bucketdb.Entry) bool {
			chunk = append(chunk, e)
			return len(chunk) < d.cfg.ScanChunkSize
		})
		if len(chunk) == 0 {
			break
		}
		visited += len(chunk)
		fromKey = chunk[len(chunk)-1].Key() + 1

		batch := chunk
		wg.Add(1)
		d.scanPool.Run(func() {
			defer wg.Done()
			for _, e := range batch {
				if atomic.LoadInt32(&stopped) == 1 {
					return
				}
				if !fn(e) {
					atomic.StoreInt32(&stopped, 1)
					return
				}
			}
		})

		if len(chunk) < d.cfg.ScanChunkSize || atomic.LoadInt32(&stopped) == 1 {
			break
		}
	}
	wg.Wait()

	span.Infof("scan visited %d buckets", visited)
	return nil
}

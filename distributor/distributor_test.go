package distributor

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/contentstore/bucketdb"
	apierrors "github.com/contentstore/bucketdb/errors"
	"github.com/contentstore/bucketdb/proto"
)

func newTestDistributor(t *testing.T, cfg *Config) Distributor {
	if cfg == nil {
		cfg = &Config{}
	}
	d, err := NewDistributor(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(d.Close)
	return d
}

func report(id proto.BucketID, state uint32) BucketReport {
	return BucketReport{BucketID: id, Checksum: 0x123, DocCount: state, TotalSize: state}
}

func TestApplyReportMergesPerNode(t *testing.T) {
	d := newTestDistributor(t, &Config{TrustedNodes: []uint32{1}})
	ctx := context.Background()
	b := proto.NewBucketID(16, 16)

	require.NoError(t, d.ApplyReport(ctx, &ReportArgs{
		NodeID:  1,
		Buckets: []BucketReport{report(b, 100)},
	}))
	require.NoError(t, d.ApplyReport(ctx, &ReportArgs{
		NodeID:  2,
		Buckets: []BucketReport{report(b, 100)},
	}))

	e := d.DB().Get(b)
	require.True(t, e.Valid())
	require.Equal(t, 2, e.Info.NodeCount())

	c, ok := e.Info.GetNode(1)
	require.True(t, ok)
	require.True(t, c.Trusted)
	c, ok = e.Info.GetNode(2)
	require.True(t, ok)
	require.False(t, c.Trusted)

	// a later report from the same node supersedes the earlier one
	require.NoError(t, d.ApplyReport(ctx, &ReportArgs{
		NodeID:  2,
		Buckets: []BucketReport{report(b, 250)},
	}))
	e = d.DB().Get(b)
	require.Equal(t, 2, e.Info.NodeCount())
	c, _ = e.Info.GetNode(2)
	require.Equal(t, uint32(250), c.DocCount)
}

func TestPauseGatesMutationOnly(t *testing.T) {
	d := newTestDistributor(t, nil)
	ctx := context.Background()
	b := proto.NewBucketID(16, 16)

	require.NoError(t, d.ApplyReport(ctx, &ReportArgs{NodeID: 1, Buckets: []BucketReport{report(b, 1)}}))

	resume, err := d.Pause(ctx)
	require.NoError(t, err)

	err = d.ApplyReport(ctx, &ReportArgs{NodeID: 2, Buckets: []BucketReport{report(b, 2)}})
	require.Equal(t, apierrors.ErrDistributorPaused, err)
	require.Equal(t, apierrors.ErrDistributorPaused, d.Split(ctx, b))

	// queries are unaffected while paused
	require.True(t, d.DB().Get(b).Valid())

	// pauses nest: both resumes must run before mutation continues
	resume2, err := d.Pause(ctx)
	require.NoError(t, err)
	resume()
	resume() // releasing a token twice is a no-op
	require.Equal(t, apierrors.ErrDistributorPaused,
		d.ApplyReport(ctx, &ReportArgs{NodeID: 2, Buckets: []BucketReport{report(b, 2)}}))
	resume2()

	require.NoError(t, d.ApplyReport(ctx, &ReportArgs{NodeID: 2, Buckets: []BucketReport{report(b, 2)}}))
	require.Equal(t, 2, d.DB().Get(b).Info.NodeCount())
}

func TestRemoveNode(t *testing.T) {
	d := newTestDistributor(t, nil)
	ctx := context.Background()
	shared := proto.NewBucketID(16, 1)
	only2 := proto.NewBucketID(16, 2)

	require.NoError(t, d.ApplyReport(ctx, &ReportArgs{NodeID: 1, Buckets: []BucketReport{report(shared, 1)}}))
	require.NoError(t, d.ApplyReport(ctx, &ReportArgs{NodeID: 2, Buckets: []BucketReport{report(shared, 1), report(only2, 1)}}))

	require.NoError(t, d.RemoveNode(ctx, 2))

	e := d.DB().Get(shared)
	require.True(t, e.Valid())
	require.Equal(t, 1, e.Info.NodeCount())
	require.False(t, e.Info.HasNode(2))

	// buckets left with no copies are dropped entirely
	require.False(t, d.DB().Get(only2).Valid())
}

func TestSplitAndJoin(t *testing.T) {
	d := newTestDistributor(t, nil)
	ctx := context.Background()
	b := proto.NewBucketID(16, 16)

	require.Equal(t, apierrors.ErrBucketDoesNotExist, d.Split(ctx, b))

	require.NoError(t, d.ApplyReport(ctx, &ReportArgs{NodeID: 1, Buckets: []BucketReport{report(b, 7)}}))
	require.NoError(t, d.Split(ctx, b))

	require.False(t, d.DB().Get(b).Valid())
	for _, child := range []proto.BucketID{b.Child(0), b.Child(1)} {
		e := d.DB().Get(child)
		require.True(t, e.Valid())
		require.True(t, e.Info.HasNode(1))
	}

	// a node reports fresher state for one child while split
	require.NoError(t, d.ApplyReport(ctx, &ReportArgs{NodeID: 2, Buckets: []BucketReport{report(b.Child(1), 9)}}))

	require.NoError(t, d.Join(ctx, b))
	e := d.DB().Get(b)
	require.True(t, e.Valid())
	require.True(t, e.Info.HasNode(1))
	require.True(t, e.Info.HasNode(2))
	require.False(t, d.DB().Get(b.Child(0)).Valid())
	require.False(t, d.DB().Get(b.Child(1)).Valid())
	require.Equal(t, 1, d.DB().Len())

	require.Equal(t, apierrors.ErrBucketDoesNotExist, d.Join(ctx, proto.NewBucketID(16, 17)))
}

func TestSplitAtMaxDepth(t *testing.T) {
	d := newTestDistributor(t, nil)
	ctx := context.Background()
	b := proto.NewBucketID(proto.MaxUsedBits, 3)

	require.NoError(t, d.ApplyReport(ctx, &ReportArgs{NodeID: 1, Buckets: []BucketReport{report(b, 1)}}))
	require.Equal(t, apierrors.ErrBucketNotSplittable, d.Split(ctx, b))
}

func TestScanVisitsEverything(t *testing.T) {
	d := newTestDistributor(t, &Config{ScanChunkSize: 10, ScanPoolSize: 2})
	ctx := context.Background()

	var buckets []BucketReport
	for i := 0; i < 25; i++ {
		buckets = append(buckets, report(proto.NewBucketID(32, uint64(i)), uint32(i)))
	}
	require.NoError(t, d.ApplyReport(ctx, &ReportArgs{NodeID: 1, Buckets: buckets}))

	var mu sync.Mutex
	seen := make(map[proto.BucketID]struct{})
	require.NoError(t, d.Scan(ctx, func(e bucketdb.Entry) bool {
		mu.Lock()
		seen[e.BucketID] = struct{}{}
		mu.Unlock()
		return true
	}))
	require.Len(t, seen, 25)
}

func TestScanStops(t *testing.T) {
	d := newTestDistributor(t, &Config{ScanChunkSize: 5, ScanPoolSize: 1})
	ctx := context.Background()

	var buckets []BucketReport
	for i := 0; i < 40; i++ {
		buckets = append(buckets, report(proto.NewBucketID(32, uint64(i)), uint32(i)))
	}
	require.NoError(t, d.ApplyReport(ctx, &ReportArgs{NodeID: 1, Buckets: buckets}))

	var mu sync.Mutex
	visited := 0
	require.NoError(t, d.Scan(ctx, func(e bucketdb.Entry) bool {
		mu.Lock()
		visited++
		mu.Unlock()
		return false
	}))
	require.Less(t, visited, 40)
}

func TestScanCanceledContext(t *testing.T) {
	d := newTestDistributor(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := d.Scan(ctx, func(e bucketdb.Entry) bool { return true })
	require.Equal(t, context.Canceled, err)
}

func TestClosedDistributorRejectsOperations(t *testing.T) {
	d := newTestDistributor(t, nil)
	ctx := context.Background()
	d.Close()

	err := d.ApplyReport(ctx, &ReportArgs{NodeID: 1})
	require.Equal(t, apierrors.ErrDistributorClosed, err)
	_, err = d.Pause(ctx)
	require.Equal(t, apierrors.ErrDistributorClosed, err)
	require.Equal(t, apierrors.ErrDistributorClosed, d.Scan(ctx, nil))
}

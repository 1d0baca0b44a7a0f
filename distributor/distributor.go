// Copyright 2023 The BucketDB Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package distributor

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/errors"
	"github.com/cubefs/cubefs/blobstore/util/taskpool"
	"github.com/google/uuid"

	"github.com/contentstore/bucketdb"
	apierrors "github.com/contentstore/bucketdb/errors"
	"github.com/contentstore/bucketdb/proto"
)

const (
	defaultScanChunkSize = 1000
	defaultScanPoolSize  = 4
)

// BucketReport is one storage node's observation for one bucket.
type BucketReport struct {
	BucketID  proto.BucketID
	Checksum  uint32
	DocCount  uint32
	TotalSize uint32
}

// ReportArgs carries a batch of bucket observations from a single node.
type ReportArgs struct {
	NodeID  uint32
	Buckets []BucketReport
}

// Distributor owns the bucket database for its lifetime and is the single
// logical writer stream into it. Readers may query the database directly
// through DB(), live or via read guards.
type Distributor interface {
	// ApplyReport merges a node's bucket observations into the database,
	// last-writer-wins per node.
	ApplyReport(ctx context.Context, args *ReportArgs) error
	// RemoveNode drops nodeID's copies from every bucket; buckets left
	// without copies are removed.
	RemoveNode(ctx context.Context, nodeID uint32) error
	// Split moves a bucket's state one split level down, to its two
	// children.
	Split(ctx context.Context, id proto.BucketID) error
	// Join collapses the subtree below id (in-flight splits included)
	// into a single entry at id.
	Join(ctx context.Context, id proto.BucketID) error
	// Pause gates the writer stream for a maintenance window. Mutations
	// fail with ErrDistributorPaused until the returned resume func is
	// called. Queries are unaffected. Pauses nest.
	Pause(ctx context.Context) (resume func(), err error)
	// Scan walks the whole database in key order in fixed-size chunks,
	// dispatching each chunk to the scan pool. fn may run concurrently
	// for different chunks; returning false stops the scan.
	Scan(ctx context.Context, fn func(e bucketdb.Entry) bool) error
	// DB exposes the owned database for queries.
	DB() bucketdb.Database
	Close()
}

type Config struct {
	TrustedNodes  []uint32        `json:"trusted_nodes"`
	ScanChunkSize int             `json:"scan_chunk_size"`
	ScanPoolSize  int             `json:"scan_pool_size"`
	DB            bucketdb.Config `json:"db"`
}

type distributor struct {
	cfg *Config
	db  bucketdb.Database

	scanPool taskpool.TaskPool

	writeMu sync.Mutex
	paused  int32
	closed  int32
}

func NewDistributor(ctx context.Context, cfg *Config) (Distributor, error) {
	span := trace.SpanFromContextSafe(ctx)

	if cfg.ScanChunkSize <= 0 {
		cfg.ScanChunkSize = defaultScanChunkSize
	}
	if cfg.ScanPoolSize <= 0 {
		cfg.ScanPoolSize = defaultScanPoolSize
	}

	db, err := bucketdb.New(cfg.DB)
	if err != nil {
		return nil, errors.Info(err, "new bucket database failed")
	}
	span.Infof("bucket database ready, engine[%s]", cfg.DB.Engine)

	return &distributor{
		cfg:      cfg,
		db:       db,
		scanPool: taskpool.New(cfg.ScanPoolSize, cfg.ScanPoolSize),
	}, nil
}

func (d *distributor) ApplyReport(ctx context.Context, args *ReportArgs) error {
	span := trace.SpanFromContextSafe(ctx)

	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	if err := d.writable(); err != nil {
		return err
	}

	span.Debugf("apply report from node[%d], buckets[%d]", args.NodeID, len(args.Buckets))
	for _, report := range args.Buckets {
		entry := d.db.Get(report.BucketID)
		info := entry.Info
		info.AddNode(proto.BucketCopy{
			NodeID:    args.NodeID,
			Checksum:  report.Checksum,
			DocCount:  report.DocCount,
			TotalSize: report.TotalSize,
		}, d.cfg.TrustedNodes)
		d.db.Update(bucketdb.NewEntry(report.BucketID, info))
	}
	return nil
}

func (d *distributor) RemoveNode(ctx context.Context, nodeID uint32) error {
	span := trace.SpanFromContextSafe(ctx)

	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	if err := d.writable(); err != nil {
		return err
	}

	removed, emptied := 0, 0
	d.db.ForEach(0, func(e bucketdb.Entry) bool {
		if !e.Info.RemoveNode(nodeID) {
			return true
		}
		removed++
		if e.Info.NodeCount() == 0 {
			d.db.Remove(e.BucketID)
			emptied++
			return true
		}
		d.db.Update(e)
		return true
	})
	span.Infof("node[%d] removed from %d buckets, %d buckets dropped", nodeID, removed, emptied)
	return nil
}

func (d *distributor) Split(ctx context.Context, id proto.BucketID) error {
	span := trace.SpanFromContextSafe(ctx)

	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	if err := d.writable(); err != nil {
		return err
	}

	entry := d.db.Get(id)
	if !entry.Valid() {
		return apierrors.ErrBucketDoesNotExist
	}
	if id.UsedBits() >= proto.MaxUsedBits {
		return apierrors.ErrBucketNotSplittable
	}

	// Both children inherit the parent's copies; the authoritative
	// per-node counts arrive with the next report round.
	d.db.Update(bucketdb.NewEntry(id.Child(0), entry.Info.Clone()))
	d.db.Update(bucketdb.NewEntry(id.Child(1), entry.Info.Clone()))
	d.db.Remove(id)

	span.Infof("split %s into %s and %s", id, id.Child(0), id.Child(1))
	return nil
}

func (d *distributor) Join(ctx context.Context, id proto.BucketID) error {
	span := trace.SpanFromContextSafe(ctx)

	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	if err := d.writable(); err != nil {
		return err
	}

	var merged proto.BucketInfo
	joined := 0
	for _, e := range d.db.FindAll(id) {
		if !id.Contains(e.BucketID) {
			// ancestor of id: not part of the subtree being collapsed
			continue
		}
		merged = merged.Merge(e.Info)
		d.db.Remove(e.BucketID)
		joined++
	}
	if joined == 0 {
		return apierrors.ErrBucketDoesNotExist
	}
	d.db.Update(bucketdb.NewEntry(id, merged))

	span.Infof("joined %d buckets into %s", joined, id)
	return nil
}

func (d *distributor) Pause(ctx context.Context) (func(), error) {
	span := trace.SpanFromContextSafe(ctx)
	if atomic.LoadInt32(&d.closed) == 1 {
		return nil, apierrors.ErrDistributorClosed
	}

	token := uuid.New().String()
	atomic.AddInt32(&d.paused, 1)
	span.Infof("mutation paused, token[%s]", token)

	var once sync.Once
	return func() {
		once.Do(func() {
			atomic.AddInt32(&d.paused, -1)
			span.Infof("mutation resumed, token[%s]", token)
		})
	}, nil
}

func (d *distributor) DB() bucketdb.Database {
	return d.db
}

func (d *distributor) Close() {
	if !atomic.CompareAndSwapInt32(&d.closed, 0, 1) {
		return
	}
	d.scanPool.Close()
}

func (d *distributor) writable() error {
	if atomic.LoadInt32(&d.closed) == 1 {
		return apierrors.ErrDistributorClosed
	}
	if atomic.LoadInt32(&d.paused) > 0 {
		return apierrors.ErrDistributorPaused
	}
	return nil
}

/*
 *
 * Copyright 2023 BucketDB authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

/*

# BucketDB: the distributor's bucket index for a content-storage cluster

BucketDB is the in-memory index a distributor uses to route documents,
detect under- and over-replication, and drive bucket splitting and joining.
It maps hierarchically-structured bucket identifiers to replica-placement
metadata and is rebuilt from cluster-wide bucket reports on restart; it has
no stable storage of its own.

## Data Model

  - BucketID, a 64-bit hierarchical key: a split depth (0..58) plus that
    many split bits. A bucket's descendants occupy a contiguous interval in
    the canonical key order.

  - BucketCopy, one storage node's reported state for a bucket: checksum,
    document count, size, trust flag.

  - BucketInfo, the ordered per-node set of copies for a bucket, merged
    last-writer-wins per node.

  - Entry, the (BucketID, BucketInfo) pair used for every mutation and
    query result. Absence is a value: the invalid zero Entry.

## Concurrency

One logical writer stream, any number of readers. The default engine keeps
entries in an immutable B-tree: writers copy the root-to-leaf path they
touch and atomically publish a new root, so readers never block and a read
guard is an O(1) capture of the then-current version. Long-running
distributor passes iterate a guard while writes keep streaming in;
superseded tree versions are reclaimed once the last guard referencing them
is gone. A second engine backs the same contract with a mutex-guarded
copy-on-write tree clone, for single-threaded contexts.

## Building Blocks

* CubeFS blobstore util (log, trace, taskpool)
* Prometheus

*/

package bucketdb

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

package errors

import "errors"

// Lookups never return an error for an absent bucket: absence is a value,
// reported as an invalid Entry or an empty result. The sentinels below
// cover contract and lifecycle surfaces only.
var (
	ErrUnknownEngine = errors.New("unknown database engine")

	ErrBucketDoesNotExist = errors.New("bucket does not exist")

	ErrDistributorPaused = errors.New("distributor is paused")
	ErrDistributorClosed = errors.New("distributor is closed")

	ErrBucketNotSplittable = errors.New("bucket is at max split depth")
)

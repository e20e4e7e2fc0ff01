// Copyright (c) QueryFlow Authors.
// Licensed under the MIT License.

/*
Package cache provides an in-process TTL cache with LRU eviction for
retrieval and synthesis results.

# Overview

Manager stores arbitrary values under string keys with a per-entry TTL.
Expired entries are reclaimed lazily on access, and when the entry count
reaches its capacity the least recently accessed entry is evicted. All
operations are safe for concurrent use.

# Core types

  - Manager: the cache itself, with Get/Set/Delete/Clear, glob-based
    InvalidatePattern, and a singleflight-backed GetOrCompute.
  - Stats: hit/miss/eviction/expiration counters and the current entry
    count.

# Key generation

GenerateCacheKey hashes a set of heterogeneous parts into a stable
hex-encoded key, so semantically equal inputs always map to the same
cache slot.
*/
package cache

// Package constants defines default configuration values shared across the
// antstore components: close-group sizing, store capacity, replication
// batching, and churn scan cadence.
package constants

import "time"

const (
	// CloseGroupSize is the number of peers forming the close group around
	// any address. Reads, writes and replication all reason about this set.
	CloseGroupSize = 8

	// MaxRecordsCount is the default maximum number of records a node-mode
	// store will hold before pruning.
	MaxRecordsCount = 2048

	// MaxValueBytes is the default maximum size of a single record value,
	// header included.
	MaxValueBytes = 1024 * 1024

	// MaxReplicationKeysPerRequest caps how many addresses are patched into
	// a single replicate event, to bound message size.
	MaxReplicationKeysPerRequest = 500

	// LocalScanInterval is the cadence of the churn controller's routing
	// table scan.
	LocalScanInterval = 10 * time.Second

	// NetworkScanInterval is the cadence of the churn controller's full
	// closest-peers network query.
	NetworkScanInterval = 60 * time.Second

	// MaxParallelFetch caps concurrent pull-replication fetches.
	MaxParallelFetch = 4

	// FetchFailedDuration is how long a pull fetch may stay in flight before
	// the holder is considered failed.
	FetchFailedDuration = 10 * time.Second
)

const (
	// RedisKeySetName is the name of the Redis set tracking persisted record
	// keys when the Redis persistence backend is used.
	RedisKeySetName = "antstore:records"
	// RedisDialTimeout is the timeout for the Redis dialer.
	RedisDialTimeout = 10 * time.Second
	// RedisClientReadTimeout is the read timeout for the Redis client.
	RedisClientReadTimeout = 30 * time.Second
	// RedisClientWriteTimeout is the write timeout for the Redis client.
	RedisClientWriteTimeout = 30 * time.Second
)

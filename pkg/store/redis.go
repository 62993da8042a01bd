package store

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/hyp3rd/ewrap"

	"github.com/maidsafe/antstore/internal/constants"
	"github.com/maidsafe/antstore/internal/sentinel"
)

// metricsKeySuffix is appended to the key set name to address the quoting
// metrics blob in Redis.
const metricsKeySuffix = ":metrics"

// RedisPersister stores record bytes in Redis, tracking the stored names in
// a set so listing never scans the keyspace.
type RedisPersister struct {
	rdb         *redis.Client
	keysSetName string
}

// NewRedisPersister wraps an existing Redis client.
func NewRedisPersister(rdb *redis.Client, keysSetName string) (*RedisPersister, error) {
	if rdb == nil {
		return nil, sentinel.ErrNilClient
	}

	if keysSetName == "" {
		keysSetName = constants.RedisKeySetName
	}

	return &RedisPersister{rdb: rdb, keysSetName: keysSetName}, nil
}

// Write stores data under name and registers the name in the key set.
func (r *RedisPersister) Write(ctx context.Context, name string, data []byte) error {
	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, name, "data", data)
	pipe.SAdd(ctx, r.keysSetName, name)

	_, err := pipe.Exec(ctx)
	if err != nil {
		return ewrap.Wrap(err, "writing record to redis")
	}

	return nil
}

// Read returns the data stored under name.
func (r *RedisPersister) Read(ctx context.Context, name string) ([]byte, error) {
	isMember, err := r.rdb.SIsMember(ctx, r.keysSetName, name).Result()
	if err != nil {
		return nil, ewrap.Wrap(err, "checking record membership")
	}

	if !isMember {
		return nil, sentinel.ErrNotFound
	}

	data, err := r.rdb.HGet(ctx, name, "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, sentinel.ErrNotFound
		}

		return nil, ewrap.Wrap(err, "reading record from redis")
	}

	return data, nil
}

// Delete removes the record and deregisters its name.
func (r *RedisPersister) Delete(ctx context.Context, name string) error {
	pipe := r.rdb.TxPipeline()
	pipe.Del(ctx, name)
	pipe.SRem(ctx, r.keysSetName, name)

	_, err := pipe.Exec(ctx)
	if err != nil {
		return ewrap.Wrap(err, "removing record from redis")
	}

	return nil
}

// List returns every stored record name.
func (r *RedisPersister) List(ctx context.Context) ([]string, error) {
	names, err := r.rdb.SMembers(ctx, r.keysSetName).Result()
	if err != nil {
		return nil, ewrap.Wrap(err, "listing record names")
	}

	return names, nil
}

// WriteMetrics persists the quoting metrics blob.
func (r *RedisPersister) WriteMetrics(ctx context.Context, data []byte) error {
	err := r.rdb.Set(ctx, r.keysSetName+metricsKeySuffix, data, 0).Err()
	if err != nil {
		return ewrap.Wrap(err, "writing quoting metrics to redis")
	}

	return nil
}

// ReadMetrics returns the persisted quoting metrics blob.
func (r *RedisPersister) ReadMetrics(ctx context.Context) ([]byte, error) {
	data, err := r.rdb.Get(ctx, r.keysSetName+metricsKeySuffix).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, sentinel.ErrNotFound
		}

		return nil, ewrap.Wrap(err, "reading quoting metrics from redis")
	}

	return data, nil
}

/*
Copyright 2026 The redact-go Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// This file provides a redis implementation of the item status store.

package redis

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"k8s.io/klog/v2"

	db_api "github.com/redact-client/redact-go/internal/database/api"
	uredis "github.com/redact-client/redact-go/internal/util/redis"
	"github.com/redact-client/redact-go/internal/util/logging"
)

const (
	keysPrefix        = "redact:run:"
	recordsKeySuffix  = ":items"
	statesKeySuffix   = ":states"
	countsKeySuffix   = ":counts"
	defaultTimeout    = 5 * time.Second
	DefaultRecordsTTL = 7 * 24 * time.Hour
)

var (
	//go:embed redis_status_set.lua
	statusSetLua         string
	redisScriptStatusSet = goredis.NewScript(statusSetLua)
)

type StatusStoreRedis struct {
	redisClient *goredis.Client
	timeout     time.Duration
	ttl         time.Duration
}

var _ db_api.StatusStore = (*StatusStoreRedis)(nil)

func NewStatusStoreRedis(ctx context.Context, conf *uredis.RedisClientConfig, ttl time.Duration) (*StatusStoreRedis, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := klog.FromContext(ctx)
	if conf == nil {
		err := fmt.Errorf("empty redis config")
		logger.Error(err, "NewStatusStoreRedis:")
		return nil, err
	}
	redisClient, err := uredis.NewRedisClient(ctx, conf)
	if err != nil {
		return nil, err
	}
	timeout := conf.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	logger.Info("NewStatusStoreRedis: succeeded", "serviceName", conf.ServiceName, "ttl", ttl)
	return &StatusStoreRedis{
		redisClient: redisClient,
		timeout:     timeout,
		ttl:         ttl,
	}, nil
}

func (c *StatusStoreRedis) Close() (err error) {
	if c.redisClient != nil {
		err = c.redisClient.Close()
	}
	return err
}

func (c *StatusStoreRedis) SetItem(ctx context.Context, runID string, rec *db_api.ItemRecord) error {
	logger := klog.FromContext(ctx)
	if runID == "" {
		err := fmt.Errorf("empty run id")
		logger.Error(err, "SetItem:")
		return err
	}
	if err := rec.IsValid(); err != nil {
		logger.Error(err, "SetItem: record is invalid")
		return err
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	cctx, ccancel := context.WithTimeout(ctx, c.timeout)
	res, err := redisScriptStatusSet.Run(cctx, c.redisClient,
		[]string{recordsKey(runID), statesKey(runID), countsKey(runID)},
		rec.RelPath, string(data), rec.State, strconv.FormatInt(int64(c.ttl/time.Second), 10)).Text()
	ccancel()
	if err != nil {
		logger.Error(err, "SetItem: script failed", "item", rec.RelPath)
		return err
	}
	if len(res) > 0 {
		err = fmt.Errorf("%s", res)
		logger.Error(err, "SetItem: script failed", "item", rec.RelPath)
		return err
	}
	logger.V(logging.TRACE).Info("SetItem: succeeded", "runID", runID, "item", rec.RelPath, "state", rec.State)
	return nil
}

func (c *StatusStoreRedis) GetItems(ctx context.Context, runID string) ([]*db_api.ItemRecord, error) {
	logger := klog.FromContext(ctx)
	cctx, ccancel := context.WithTimeout(ctx, c.timeout)
	vals, err := c.redisClient.HGetAll(cctx, recordsKey(runID)).Result()
	ccancel()
	if err != nil {
		logger.Error(err, "GetItems: HGetAll failed")
		return nil, err
	}
	items := make([]*db_api.ItemRecord, 0, len(vals))
	for field, val := range vals {
		rec := &db_api.ItemRecord{}
		if err := json.Unmarshal([]byte(val), rec); err != nil {
			err = fmt.Errorf("corrupt record for %s: %w", field, err)
			logger.Error(err, "GetItems:")
			return nil, err
		}
		items = append(items, rec)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].RelPath < items[j].RelPath })
	return items, nil
}

func (c *StatusStoreRedis) Counts(ctx context.Context, runID string) (map[string]int64, error) {
	cctx, ccancel := context.WithTimeout(ctx, c.timeout)
	vals, err := c.redisClient.HGetAll(cctx, countsKey(runID)).Result()
	ccancel()
	if err != nil {
		klog.FromContext(ctx).Error(err, "Counts: HGetAll failed")
		return nil, err
	}
	counts := make(map[string]int64, len(vals))
	for state, val := range vals {
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt count for %s: %w", state, err)
		}
		if n != 0 {
			counts[state] = n
		}
	}
	return counts, nil
}

func recordsKey(runID string) string {
	return keysPrefix + runID + recordsKeySuffix
}

func statesKey(runID string) string {
	return keysPrefix + runID + statesKeySuffix
}

func countsKey(runID string) string {
	return keysPrefix + runID + countsKeySuffix
}

/*
Copyright 2026 The llm-d Authors

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

// Test for the redis client utilities.

package redis_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	gredis "github.com/redis/go-redis/v9"

	"github.com/redact-client/redact-go/internal/util/redis"
	utls "github.com/redact-client/redact-go/internal/util/tls"
)

func TestRedisClient(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Redis Client Suite")
}

var (
	redisUrl    string
	redisCaCert string
	minirds     *miniredis.Miniredis
)

func init() {
	redisUrl = os.Getenv("REDACT_TEST_REDIS_URL")
	redisCaCert = os.Getenv("REDACT_TEST_REDIS_CACERT_PATH")
}

var _ = BeforeSuite(func() {
	if redisUrl == "" {
		minirds = miniredis.RunT(GinkgoT())
		Expect(minirds).ToNot(BeNil())
		redisUrl = "redis://" + minirds.Addr()
	}
})

var _ = Describe("Redis Client", func() {
	var rds *gredis.Client
	var err error

	BeforeEach(func() {
		cfg := &redis.RedisClientConfig{
			Url:         redisUrl,
			ServiceName: "anonymize-folder",
		}
		if redisCaCert != "" {
			cfg.EnableTLS = true
			cfg.TLS = utls.Options{Certificates: utls.Certificates{CaCertFile: redisCaCert}}
		}
		rds, err = redis.NewRedisClient(context.Background(), cfg)
		Expect(err).To(BeNil())
	})

	AfterEach(func() {
		if rds != nil {
			rds.Close()
		}
	})

	It("should set, get and delete a key", func() {
		Expect(rds).NotTo(BeNil())
		_, err := rds.Set(context.Background(), "k1", "v1", -1).Result()
		Expect(err).To(BeNil())
		val, err := rds.Get(context.Background(), "k1").Result()
		Expect(err).To(BeNil())
		Expect(val).To(Equal("v1"))
		_, err = rds.Del(context.Background(), "k1").Result()
		Expect(err).To(BeNil())
	})

	It("should select the configured database", func(ctx context.Context) {
		if minirds == nil {
			Skip("needs the embedded redis")
		}
		rdsDb, err := redis.NewRedisClient(ctx, &redis.RedisClientConfig{
			Url:         redisUrl,
			DbIdx:       2,
			ServiceName: "anonymize-folder",
			Timeout:     time.Second,
		})
		Expect(err).To(BeNil())
		defer rdsDb.Close()

		Expect(rdsDb.Set(ctx, "run", "r-1", 0).Err()).To(Succeed())
		got, err := minirds.DB(2).Get("run")
		Expect(err).To(BeNil())
		Expect(got).To(Equal("r-1"))
		Expect(minirds.Exists("run")).To(BeFalse())
	})

	It("should reject a missing config or url", func() {
		_, err := redis.NewRedisClient(context.Background(), nil)
		Expect(err).To(HaveOccurred())
		_, err = redis.NewRedisClient(context.Background(), &redis.RedisClientConfig{})
		Expect(err).To(HaveOccurred())
	})

	It("should fail to create a redis client with invalid URL", func() {
		cfgInv := &redis.RedisClientConfig{
			Url:         "redis://invalid-url",
			ServiceName: "anonymize-folder",
		}
		rdsInv, errInv := redis.NewRedisClient(context.Background(), cfgInv)
		Expect(errInv).ToNot(BeNil())
		Expect(rdsInv).To(BeNil())
	})
})

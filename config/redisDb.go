package config

import (
	"context"
	"log"
	"os"
	"strings"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

var (
	rdb    *redis.Client
	locker *redislock.Client
)

func GetRedisDB() *redis.Client {
	return rdb
}

func GetRedisLock() *redislock.Client {
	return locker
}

// ConnectRedisWithRetry connects the optional redis client used for the
// per-business import lock. When REDIS_ADDRESS is unset the engine runs
// without cross-instance locking (single-instance deployments, tests).
func ConnectRedisWithRetry() {
	address := strings.TrimSpace(os.Getenv("REDIS_ADDRESS"))
	if address == "" {
		log.Printf("REDIS_ADDRESS not set; import locking disabled")
		return
	}

	client := redis.NewClient(&redis.Options{
		Addr: address,
	})

	var attempt int
	for {
		attempt++
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := client.Ping(ctx).Err()
		cancel()
		if err == nil {
			rdb = client
			locker = redislock.New(client)
			log.Printf("connected to redis (attempt=%d)", attempt)
			return
		}
		if attempt >= 10 {
			log.Printf("giving up on redis after %d attempts: %v; import locking disabled", attempt, err)
			return
		}
		log.Printf("failed to connect redis (attempt=%d): %v; retrying", attempt, err)
		time.Sleep(time.Second * time.Duration(minInt(attempt, 5)))
	}
}

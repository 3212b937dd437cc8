package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// Check is one named readiness probe.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Pinger is the slice of a pgx pool the readiness probe needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DBCheck probes the Postgres pool.
func DBCheck(pool Pinger) Check {
	return Check{Name: "postgres", Fn: func(ctx context.Context) error {
		if pool == nil {
			return fmt.Errorf("db not configured")
		}
		return pool.Ping(ctx)
	}}
}

// RedisCheck probes the queue's Redis backend.
func RedisCheck(rdb *redis.Client) Check {
	return Check{Name: "redis", Fn: func(ctx context.Context) error {
		if rdb == nil {
			return fmt.Errorf("redis not configured")
		}
		return rdb.Ping(ctx).Err()
	}}
}

// HealthChecker is implemented by adapters that can probe their backend.
type HealthChecker interface {
	Healthy(ctx context.Context) error
}

// StoreCheck probes the artifact store's bucket.
func StoreCheck(st HealthChecker) Check {
	return Check{Name: "minio", Fn: func(ctx context.Context) error {
		if st == nil {
			return fmt.Errorf("artifact store not configured")
		}
		return st.Healthy(ctx)
	}}
}

// ReadyzHandler runs every check with a short deadline and reports 503 when
// any dependency is down.
func ReadyzHandler(checks ...Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for _, c := range checks {
			if err := c.Fn(ctx); err != nil {
				status = http.StatusServiceUnavailable
				results[c.Name] = err.Error()
			} else {
				results[c.Name] = "ok"
			}
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{"checks": results})
	}
}

package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

type pinger func(ctx context.Context) error

func main() {
	timeout := 60 * time.Second
	if raw := os.Getenv("WAIT_FOR_STORE_TIMEOUT_SEC"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			fmt.Fprintf(os.Stderr, "invalid WAIT_FOR_STORE_TIMEOUT_SEC: %q\n", raw)
			os.Exit(2)
		}
		timeout = time.Duration(secs) * time.Second
	}

	waited := false
	if dsn := os.Getenv("TEST_POSTGRES_DSN"); dsn != "" {
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open postgres: %v\n", err)
			os.Exit(1)
		}
		defer db.Close()
		wait("postgres", db.PingContext, timeout)
		waited = true
	}
	if addr := os.Getenv("TEST_REDIS_ADDR"); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		defer rdb.Close()
		wait("redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() }, timeout)
		waited = true
	}
	if !waited {
		fmt.Fprintln(os.Stderr, "TEST_POSTGRES_DSN or TEST_REDIS_ADDR is required")
		os.Exit(2)
	}
}

func wait(name string, ping pinger, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := ping(ctx)
		cancel()
		if err == nil {
			fmt.Printf("%s ready\n", name)
			return
		}
		if time.Now().After(deadline) {
			fmt.Fprintf(os.Stderr, "%s not ready within %s: %v\n", name, timeout, err)
			os.Exit(1)
		}
		time.Sleep(2 * time.Second)
	}
}

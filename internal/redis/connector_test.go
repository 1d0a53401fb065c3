package redis

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/MrSnakeDoc/relaybridge/internal/logger"
)

func validOptions(addr string) Options {
	return Options{
		Addr:           addr,
		DialTimeout:    100 * time.Millisecond,
		ConnectTimeout: 300 * time.Millisecond,
		RetryInterval:  20 * time.Millisecond,
		MaxWait:        50 * time.Millisecond,
		PingTimeout:    100 * time.Millisecond,
		WarnThreshold:  1,
	}
}

func TestConnectRejectsInvalidOptions(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Options)
		want   string
	}{
		{"empty addr", func(o *Options) { o.Addr = "" }, "address is empty"},
		{"connect timeout", func(o *Options) { o.ConnectTimeout = 0 }, "ConnectTimeout"},
		{"retry interval", func(o *Options) { o.RetryInterval = 0 }, "RetryInterval"},
		{"max wait", func(o *Options) { o.MaxWait = -1 }, "MaxWait"},
		{"ping timeout", func(o *Options) { o.PingTimeout = 0 }, "PingTimeout"},
		{"warn threshold", func(o *Options) { o.WarnThreshold = -1 }, "WarnThreshold"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := validOptions("127.0.0.1:6379")
			tt.mutate(&opts)
			_, err := Connect(context.Background(), opts, logger.New("error", false))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestConnectGivesUpWhenUnreachable(t *testing.T) {
	// Grab a free port and release it so nothing is listening there.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	_ = l.Close()

	start := time.Now()
	client, err := Connect(context.Background(), validOptions(addr), logger.New("error", false))
	if err == nil {
		t.Fatal("expected connection error")
	}
	if client != nil {
		t.Fatal("client must be nil on failure")
	}
	if !strings.Contains(err.Error(), addr) {
		t.Errorf("error should name the address, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("gave up too late: %v", elapsed)
	}
}

func TestConnectHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	opts := validOptions("127.0.0.1:1")
	opts.ConnectTimeout = time.Minute
	if _, err := Connect(ctx, opts, logger.New("error", false)); err == nil {
		t.Fatal("expected error on cancelled context")
	}
}

package transport

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestKeepAliveConfigDefaults(t *testing.T) {
	config := DefaultKeepAliveConfig()

	if config.PingInterval != DefaultPingInterval {
		t.Errorf("PingInterval = %v, want %v", config.PingInterval, DefaultPingInterval)
	}
	if !config.Enabled() {
		t.Error("default config should be enabled")
	}

	// 15s * 2 + 5s
	if got := config.DetectionDelay(); got != 35*time.Second {
		t.Errorf("DetectionDelay = %v, want 35s", got)
	}

	if (KeepAliveConfig{PingInterval: -1}).Enabled() {
		t.Error("negative interval should disable keep-alive")
	}
	if got := (KeepAliveConfig{}).DetectionDelay(); got != 35*time.Second {
		t.Errorf("zero config DetectionDelay = %v, want defaults", got)
	}
}

func TestPingPayload(t *testing.T) {
	seq, ok := parsePongPayload(string(pingPayload(0xA1B2C3D4)))
	if !ok || seq != 0xA1B2C3D4 {
		t.Errorf("parsePongPayload = %x, %v", seq, ok)
	}
	if _, ok := parsePongPayload("abc"); ok {
		t.Error("short payload accepted")
	}
}

func TestKeepAlivePongsKeepLinkAlive(t *testing.T) {
	var ka *KeepAlive
	var pings atomic.Int32

	ka = NewKeepAlive(KeepAliveConfig{
		PingInterval:   20 * time.Millisecond,
		PongTimeout:    10 * time.Millisecond,
		MaxMissedPongs: 2,
	}, func(seq uint32) error {
		pings.Add(1)
		// Answer immediately, as a healthy controller would.
		ka.PongReceived(seq)
		return nil
	}, func(err error) {
		t.Errorf("link declared dead: %v", err)
	})

	ka.Start(context.Background())
	time.Sleep(120 * time.Millisecond)
	ka.Stop()

	if pings.Load() < 3 {
		t.Errorf("expected at least 3 pings, got %d", pings.Load())
	}
	stats := ka.Stats()
	if stats.MissedPongs != 0 {
		t.Errorf("MissedPongs = %d, want 0", stats.MissedPongs)
	}
	if stats.LastPong.IsZero() {
		t.Error("LastPong not recorded")
	}
}

func TestKeepAliveTimeout(t *testing.T) {
	dead := make(chan error, 1)

	ka := NewKeepAlive(KeepAliveConfig{
		PingInterval:   20 * time.Millisecond,
		PongTimeout:    10 * time.Millisecond,
		MaxMissedPongs: 2,
	}, func(uint32) error {
		return nil
	}, func(err error) {
		dead <- err
	})

	ka.Start(context.Background())

	select {
	case err := <-dead:
		if !errors.Is(err, ErrKeepAliveTimeout) {
			t.Errorf("dead error = %v, want ErrKeepAliveTimeout", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout not detected")
	}

	if ka.Running() {
		t.Error("monitor still running after timeout")
	}
}

func TestKeepAlivePingFailure(t *testing.T) {
	writeErr := errors.New("broken pipe")
	dead := make(chan error, 1)

	ka := NewKeepAlive(DefaultKeepAliveConfig(), func(uint32) error {
		return writeErr
	}, func(err error) {
		dead <- err
	})
	ka.Start(context.Background())

	select {
	case err := <-dead:
		if !errors.Is(err, writeErr) {
			t.Errorf("dead error = %v, want %v", err, writeErr)
		}
	case <-time.After(time.Second):
		t.Fatal("ping failure not reported")
	}
}

func TestKeepAliveIgnoresStalePong(t *testing.T) {
	var ka *KeepAlive
	ka = NewKeepAlive(KeepAliveConfig{
		PingInterval:   time.Hour,
		PongTimeout:    time.Hour,
		MaxMissedPongs: 1,
	}, func(uint32) error { return nil }, nil)

	ka.Start(context.Background())
	defer ka.Stop()
	time.Sleep(10 * time.Millisecond)

	ka.PongReceived(42)
	time.Sleep(10 * time.Millisecond)

	if rtt := ka.Stats().RoundTrip; rtt != 0 {
		t.Errorf("RoundTrip = %v after mismatched pong, want 0", rtt)
	}

	ka.PongReceived(ka.Stats().Sequence)
	time.Sleep(10 * time.Millisecond)
	if ka.Stats().RoundTrip == 0 {
		t.Error("RoundTrip not recorded for matching pong")
	}
}

func TestKeepAliveStartStop(t *testing.T) {
	ka := NewKeepAlive(DefaultKeepAliveConfig(), func(uint32) error { return nil }, nil)

	if ka.Running() {
		t.Error("should not be running initially")
	}

	ka.Start(context.Background())
	ka.Start(context.Background())
	if !ka.Running() {
		t.Error("should be running after Start")
	}

	ka.Stop()
	ka.Stop()
	if ka.Running() {
		t.Error("should not be running after Stop")
	}
}

func TestKeepAliveContextCancel(t *testing.T) {
	var pings atomic.Int32

	ka := NewKeepAlive(KeepAliveConfig{
		PingInterval:   10 * time.Millisecond,
		PongTimeout:    time.Hour,
		MaxMissedPongs: 100,
	}, func(uint32) error {
		pings.Add(1)
		return nil
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	ka.Start(ctx)
	time.Sleep(35 * time.Millisecond)

	cancel()
	time.Sleep(20 * time.Millisecond)
	before := pings.Load()
	time.Sleep(40 * time.Millisecond)

	if after := pings.Load(); after != before {
		t.Errorf("pings continued after cancel: before=%d, after=%d", before, after)
	}
	if ka.Running() {
		t.Error("still running after context cancel")
	}
}

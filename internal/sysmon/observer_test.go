package sysmon

import (
	"context"
	"strings"
	"testing"
	"time"

	"pkt.systems/pslog"
)

func TestObserverCounters(t *testing.T) {
	obs := NewObserver(Config{Enabled: true, SampleInterval: 10 * time.Millisecond}, pslog.NoopLogger())

	obs.sample(time.Now())

	finishReq := obs.BeginRequest()
	finishCall := obs.BeginUpstreamCall()

	obs.sample(time.Now())
	snap, ok := obs.Latest()
	if !ok {
		t.Fatal("expected a snapshot")
	}
	if snap.RequestsInflight != 1 {
		t.Fatalf("expected request inflight 1, got %d", snap.RequestsInflight)
	}
	if snap.UpstreamInflight != 1 {
		t.Fatalf("expected upstream inflight 1, got %d", snap.UpstreamInflight)
	}

	finishReq()
	finishCall()

	obs.sample(time.Now())
	snap, _ = obs.Latest()
	if snap.RequestsInflight != 0 || snap.UpstreamInflight != 0 {
		t.Fatalf("expected zero inflight counts after closures, got %+v", snap)
	}
	if snap.Goroutines <= 0 {
		t.Fatalf("expected goroutine count, got %d", snap.Goroutines)
	}
}

func TestObserverStartStop(t *testing.T) {
	obs := NewObserver(Config{Enabled: true, SampleInterval: 10 * time.Millisecond}, pslog.NoopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	obs.Start(ctx)

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if _, ok := obs.Latest(); ok {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	obs.Wait()

	if _, ok := obs.Latest(); !ok {
		t.Fatal("expected at least one snapshot before shutdown")
	}
}

func TestObserverDisabled(t *testing.T) {
	obs := NewObserver(Config{Enabled: false}, pslog.NoopLogger())

	finishReq := obs.BeginRequest()
	finishCall := obs.BeginUpstreamCall()
	finishReq()
	finishCall()

	obs.Start(context.Background())
	obs.Wait()

	if obs.requestInflight.Load() != 0 || obs.upstreamInflight.Load() != 0 {
		t.Fatal("disabled observer should not count")
	}
}

func TestParseMeminfoUsesMemAvailable(t *testing.T) {
	const data = `MemTotal:       32768 kB
MemAvailable:   16384 kB
MemFree:         8192 kB
Buffers:          512 kB
Cached:          2048 kB
`
	mi, err := parseMeminfo(strings.NewReader(data))
	if err != nil {
		t.Fatalf("parseMeminfo returned error: %v", err)
	}
	if mi.totalBytes != 32768*1024 {
		t.Fatalf("expected total bytes %d, got %d", 32768*1024, mi.totalBytes)
	}
	if mi.availableBytes != 16384*1024 {
		t.Fatalf("expected available bytes %d, got %d", 16384*1024, mi.availableBytes)
	}
	if !mi.includesReclaimableData {
		t.Fatal("expected includesReclaimableData true when MemAvailable present")
	}
}

func TestParseMeminfoFallbackEstimation(t *testing.T) {
	const data = `MemTotal:       40960 kB
MemFree:         4096 kB
Buffers:         2048 kB
Cached:          8192 kB
SReclaimable:    1024 kB
Shmem:            512 kB
`
	mi, err := parseMeminfo(strings.NewReader(data))
	if err != nil {
		t.Fatalf("parseMeminfo returned error: %v", err)
	}
	expectedAvailable := uint64((4096 + 2048 + 8192 + 1024 - 512) * 1024)
	if mi.availableBytes != expectedAvailable {
		t.Fatalf("expected available bytes %d, got %d", expectedAvailable, mi.availableBytes)
	}
	if !mi.includesReclaimableData {
		t.Fatal("expected includesReclaimableData true when caches included")
	}
}

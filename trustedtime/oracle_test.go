package trustedtime

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nascentcore/license-engine/checkpoint"
	"github.com/nascentcore/license-engine/infrastructure/testutil"
)

func newTestOracle(t *testing.T, hosts []string, clockOffset time.Duration) *Oracle {
	t.Helper()

	store, err := checkpoint.NewStore(filepath.Join(t.TempDir(), "checkpoint"), make([]byte, 32), time.Second)
	if err != nil {
		t.Fatalf("checkpoint.NewStore() error = %v", err)
	}

	o, err := New(Config{
		Hosts:               hosts,
		ProbeTimeout:        500 * time.Millisecond,
		MaxClockSkew:        5 * time.Second,
		ReprobeInterval:     time.Hour,
		CheckpointTolerance: time.Second,
		Store:               store,
		EngineName:          "test",
		DisableTimedatectl:  true,
		probeNowForTests: func() time.Time {
			return time.Now().Add(clockOffset)
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return o
}

func TestNew_SucceedsWithAgreeingMajorityOfHosts(t *testing.T) {
	s1 := testutil.NewFakeNTPServer(t, time.Now)
	if s1 == nil {
		return
	}
	defer s1.Close()
	s2 := testutil.NewFakeNTPServer(t, time.Now)
	defer s2.Close()
	s3 := testutil.NewFakeNTPServer(t, time.Now)
	defer s3.Close()

	o := newTestOracle(t, []string{s1.Addr(), s2.Addr(), s3.Addr()}, 0)

	now, trusted := o.Now(context.Background())
	if !trusted {
		t.Fatal("Now() trusted = false, want true with three agreeing, reachable hosts")
	}
	if now.IsZero() {
		t.Fatal("Now() returned zero time")
	}
}

func TestNew_FailsWhenClockDivergesFromMajority(t *testing.T) {
	s1 := testutil.NewFakeNTPServer(t, time.Now)
	if s1 == nil {
		return
	}
	defer s1.Close()
	s2 := testutil.NewFakeNTPServer(t, time.Now)
	defer s2.Close()
	s3 := testutil.NewFakeNTPServer(t, time.Now)
	defer s3.Close()

	store, err := checkpoint.NewStore(filepath.Join(t.TempDir(), "checkpoint"), make([]byte, 32), time.Second)
	if err != nil {
		t.Fatalf("checkpoint.NewStore() error = %v", err)
	}

	_, err = New(Config{
		Hosts:               []string{s1.Addr(), s2.Addr(), s3.Addr()},
		ProbeTimeout:        500 * time.Millisecond,
		MaxClockSkew:        5 * time.Second,
		ReprobeInterval:     time.Hour,
		CheckpointTolerance: time.Second,
		Store:               store,
		EngineName:          "test",
		DisableTimedatectl:  true,
		probeNowForTests: func() time.Time {
			return time.Now().Add(1 * time.Hour)
		},
	})
	if err == nil {
		t.Fatal("New() error = nil, want SystemTimeTampered when local clock diverges from the NTP majority")
	}
}

func TestOracle_UntrustedWhenNoHostsConfigured(t *testing.T) {
	o := newTestOracle(t, nil, 0)

	_, trusted := o.Now(context.Background())
	if trusted {
		t.Fatal("Now() trusted = true, want false when no external sources were ever configured")
	}
}

func TestOracle_RatchetThenRespectsCheckpointFloor(t *testing.T) {
	s1 := testutil.NewFakeNTPServer(t, time.Now)
	if s1 == nil {
		return
	}
	defer s1.Close()
	s2 := testutil.NewFakeNTPServer(t, time.Now)
	defer s2.Close()

	o := newTestOracle(t, []string{s1.Addr(), s2.Addr()}, 0)

	now, trusted := o.Now(context.Background())
	if !trusted {
		t.Fatal("Now() trusted = false before ratchet, want true")
	}
	if err := o.Ratchet(now); err != nil {
		t.Fatalf("Ratchet() error = %v", err)
	}

	// Simulate rollback by asking validateTime about an instant well
	// before the just-sealed checkpoint.
	rolledBack := now.Add(-1 * time.Hour)
	if o.validateTime(context.Background(), rolledBack) {
		t.Fatal("validateTime() = true for an instant before the sealed checkpoint floor, want false")
	}
}

func TestMajorityCluster_RequiresStrictMajority(t *testing.T) {
	base := time.Now()
	samples := []externalSample{
		{host: "a", at: base, ok: true},
		{host: "b", at: base.Add(10 * time.Millisecond), ok: true},
		{host: "c", at: base.Add(1 * time.Hour), ok: true},
	}

	got, ok := majorityCluster(samples, time.Second)
	if !ok {
		t.Fatal("majorityCluster() ok = false, want true (2 of 3 agree)")
	}
	if got.Sub(base).Abs() > time.Second {
		t.Fatalf("majorityCluster() = %v, want close to %v", got, base)
	}
}

func TestMajorityCluster_NoMajorityReturnsFalse(t *testing.T) {
	base := time.Now()
	samples := []externalSample{
		{host: "a", at: base, ok: true},
		{host: "b", at: base.Add(1 * time.Hour), ok: true},
	}

	if _, ok := majorityCluster(samples, time.Second); ok {
		t.Fatal("majorityCluster() ok = true, want false when no cluster reaches a strict majority")
	}
}

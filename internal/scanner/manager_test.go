package scanner

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/hitushen/netsweep/internal/config"
	"github.com/hitushen/netsweep/internal/models"
	"github.com/hitushen/netsweep/internal/probe"
	"github.com/hitushen/netsweep/internal/realtime"
	"github.com/hitushen/netsweep/internal/store"
	"github.com/hitushen/netsweep/internal/targets"
)

func testScanConfig() config.Scan {
	return config.Scan{
		SweepConcurrency: 4,
		SweepTimeout:     10 * time.Millisecond,
		PortConcurrency:  4,
		PortTimeout:      10 * time.Millisecond,
		Liveness:         config.LivenessExec,
		PortProber:       config.PortProberConnect,
		Ports:            config.DefaultPorts,
	}
}

func newTestManager(t *testing.T, opts Options) (*Manager, *store.Store) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "scan.db"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	if opts.Scan.Ports == "" {
		opts.Scan = testScanConfig()
	}
	if opts.Workers == 0 {
		opts.Workers = 2
	}
	if opts.Liveness == nil {
		opts.Liveness = probe.LivenessFunc(func(context.Context, string, time.Duration) bool { return false })
	}
	if opts.Ports == nil {
		opts.Ports = acceptOnly()
	}
	if opts.FullScan == nil {
		opts.FullScan = func(context.Context, string, []int) ([]models.PortResult, error) { return nil, nil }
	}
	m, err := NewManager(st, realtime.NewBroker(), opts)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(m.Close)
	return m, st
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitIdle(t *testing.T, st *store.Store, hostID int64) {
	t.Helper()
	waitFor(t, "host scan to finish", func() bool {
		h, err := st.GetHost(context.Background(), hostID)
		return err == nil && !h.Scanning
	})
}

func TestManagerSweepPersistsAliveHosts(t *testing.T) {
	alive := map[string]bool{"10.0.0.3": true, "10.0.0.7": true}
	m, st := newTestManager(t, Options{
		Liveness: probe.LivenessFunc(func(_ context.Context, ip string, _ time.Duration) bool { return alive[ip] }),
	})

	id, err := m.ScheduleSweep(context.Background(), "10.0.0", "1-10")
	if err != nil {
		t.Fatalf("schedule sweep: %v", err)
	}
	var sw *models.Sweep
	waitFor(t, "sweep to complete", func() bool {
		sw, err = st.GetSweep(context.Background(), id)
		return err == nil && sw.Status == models.SweepStatusDone
	})
	if want := []string{"10.0.0.3", "10.0.0.7"}; !reflect.DeepEqual(sw.Hosts, want) {
		t.Fatalf("got hosts %v want %v", sw.Hosts, want)
	}
	if sw.RangeStart != 1 || sw.RangeEnd != 10 || sw.LiveCount != 2 {
		t.Fatalf("unexpected sweep %+v", sw)
	}
}

func TestManagerScheduleSweepInvalidRange(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	_, err := m.ScheduleSweep(context.Background(), "10.0.0", "0-300")
	var argErr *targets.ArgumentError
	if !errors.As(err, &argErr) {
		t.Fatalf("expected ArgumentError, got %v", err)
	}
}

func TestManagerProbeStoresOpenPorts(t *testing.T) {
	m, st := newTestManager(t, Options{Ports: acceptOnly(22, 443)})
	ctx := context.Background()
	hostID, err := st.CreateHost(ctx, "lab", "127.0.0.1")
	if err != nil {
		t.Fatalf("create host: %v", err)
	}

	if !m.ScheduleProbe(hostID, []int{22, 80, 443}) {
		t.Fatalf("schedule probe refused")
	}
	waitIdle(t, st, hostID)

	ports, err := st.ListPorts(ctx, hostID, "")
	if err != nil {
		t.Fatalf("list ports: %v", err)
	}
	if len(ports) != 2 || ports[0].Number != 22 || ports[1].Number != 443 {
		t.Fatalf("unexpected ports %+v", ports)
	}
	if ports[0].Service != "SSH" || ports[0].Status != models.PortStatusOpen {
		t.Fatalf("unexpected port %+v", ports[0])
	}
}

func TestManagerProbeMarksKnownPortClosed(t *testing.T) {
	m, st := newTestManager(t, Options{Ports: acceptOnly(22)})
	ctx := context.Background()
	hostID, _ := st.CreateHost(ctx, "lab", "127.0.0.1")
	if err := st.UpsertPort(ctx, hostID, 443, "HTTPS", models.PortStatusOpen, time.Now()); err != nil {
		t.Fatalf("seed port: %v", err)
	}

	if !m.ScheduleProbe(hostID, []int{22, 443}) {
		t.Fatalf("schedule probe refused")
	}
	waitIdle(t, st, hostID)

	closed, err := st.ListPorts(ctx, hostID, models.PortStatusClosed)
	if err != nil {
		t.Fatalf("list ports: %v", err)
	}
	if len(closed) != 1 || closed[0].Number != 443 {
		t.Fatalf("expected 443 closed, got %+v", closed)
	}
}

func TestManagerRefusesConcurrentScan(t *testing.T) {
	gate := make(chan struct{})
	blocking := probe.PortFunc(func(ctx context.Context, _ string, _ int, _ time.Duration) bool {
		select {
		case <-gate:
		case <-ctx.Done():
		}
		return false
	})
	m, st := newTestManager(t, Options{Ports: blocking})
	hostID, _ := st.CreateHost(context.Background(), "lab", "127.0.0.1")

	if !m.ScheduleProbe(hostID, []int{22}) {
		t.Fatalf("first schedule refused")
	}
	if m.ScheduleProbe(hostID, []int{22}) {
		t.Fatalf("second schedule must be refused while scanning")
	}
	if m.ScheduleFullRange(hostID) {
		t.Fatalf("full scan must be refused while scanning")
	}
	close(gate)
	waitIdle(t, st, hostID)
	if !m.ScheduleProbe(hostID, []int{22}) {
		t.Fatalf("schedule after finish refused")
	}
	waitIdle(t, st, hostID)
}

func TestManagerFullRangeScan(t *testing.T) {
	full := func(_ context.Context, address string, ports []int) ([]models.PortResult, error) {
		if address != "127.0.0.1" || ports != nil {
			t.Errorf("unexpected full scan args %q %v", address, ports)
		}
		return []models.PortResult{
			{Port: 22, Service: "SSH", State: models.PortStatusOpen},
			{Port: 8080, Service: "HTTP-Alt", State: models.PortStatusOpen},
		}, nil
	}
	m, st := newTestManager(t, Options{FullScan: full})
	ctx := context.Background()
	hostID, _ := st.CreateHost(ctx, "lab", "127.0.0.1")
	if err := st.UpsertPort(ctx, hostID, 443, "HTTPS", models.PortStatusOpen, time.Now()); err != nil {
		t.Fatalf("seed port: %v", err)
	}

	if !m.ScheduleFullRange(hostID) {
		t.Fatalf("schedule full scan refused")
	}
	waitIdle(t, st, hostID)

	open, _ := st.ListPorts(ctx, hostID, models.PortStatusOpen)
	if len(open) != 2 || open[0].Number != 22 || open[1].Number != 8080 {
		t.Fatalf("unexpected open ports %+v", open)
	}
	closed, _ := st.ListPorts(ctx, hostID, models.PortStatusClosed)
	if len(closed) != 1 || closed[0].Number != 443 {
		t.Fatalf("unexpected closed ports %+v", closed)
	}
}

func TestManagerPublishesEvents(t *testing.T) {
	st, err := store.New(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer st.Close()
	broker := realtime.NewBroker()
	events, cleanup := broker.Subscribe()
	defer cleanup()

	m, err := NewManager(st, broker, Options{
		Scan:     testScanConfig(),
		Workers:  1,
		Liveness: probe.LivenessFunc(func(context.Context, string, time.Duration) bool { return false }),
		Ports:    acceptOnly(),
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	defer m.Close()

	if _, err := m.ScheduleSweep(context.Background(), "10.9.9", "1-2"); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	seen := map[string]bool{}
	timeout := time.After(5 * time.Second)
	for !seen[realtime.EventSweepCompleted] {
		select {
		case msg := <-events:
			for _, typ := range []string{realtime.EventSweepStarted, realtime.EventSweepCompleted} {
				if bytes.Contains(msg, []byte(`"type":"`+typ+`"`)) {
					seen[typ] = true
				}
			}
		case <-timeout:
			t.Fatalf("timed out, saw %v", seen)
		}
	}
	if !seen[realtime.EventSweepStarted] {
		t.Fatalf("sweep_started not published")
	}
}

func TestManagerCloseRejectsNewJobs(t *testing.T) {
	m, st := newTestManager(t, Options{})
	hostID, _ := st.CreateHost(context.Background(), "lab", "127.0.0.1")
	m.Close()

	if m.ScheduleProbe(hostID, nil) {
		t.Fatalf("schedule after close must fail")
	}
	h, err := st.GetHost(context.Background(), hostID)
	if err != nil {
		t.Fatalf("get host: %v", err)
	}
	if h.Scanning {
		t.Fatalf("scanning flag left set after refused schedule")
	}
	if _, err := m.ScheduleSweep(context.Background(), "10.0.0", "1-2"); err == nil {
		t.Fatalf("sweep after close must fail")
	}
}

func TestManagerDefaultPorts(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	got := m.DefaultPorts()
	if len(got) != 11 || got[0] != 21 || got[len(got)-1] != 8443 {
		t.Fatalf("unexpected default ports %v", got)
	}
}

func waitEvent(t *testing.T, events <-chan []byte, typ string) []byte {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case msg := <-events:
			if bytes.Contains(msg, []byte(`"type":"`+typ+`"`)) {
				return msg
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

func TestManagerSweepDequeuedAfterCloseIsFinished(t *testing.T) {
	st, err := store.New(filepath.Join(t.TempDir(), "close.db"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer st.Close()
	broker := realtime.NewBroker()
	events, cleanup := broker.Subscribe()
	defer cleanup()

	m, err := NewManager(st, broker, Options{
		Scan:     testScanConfig(),
		Workers:  1,
		Liveness: probe.LivenessFunc(func(context.Context, string, time.Duration) bool { return true }),
		Ports:    acceptOnly(),
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	id, err := st.CreateSweep(context.Background(), "10.4.4", 1, 5)
	if err != nil {
		t.Fatalf("create sweep: %v", err)
	}
	m.Close()

	// 工作协程在取消之后才取到任务
	m.handleJob(scanJob{kind: jobSweep, sweepID: id})

	sw, err := st.GetSweep(context.Background(), id)
	if err != nil {
		t.Fatalf("get sweep: %v", err)
	}
	if sw.Status != models.SweepStatusFailed || sw.FinishedAt == nil {
		t.Fatalf("sweep left unfinished after close: %+v", sw)
	}
	msg := waitEvent(t, events, realtime.EventSweepCompleted)
	if !bytes.Contains(msg, []byte(`"success":false`)) {
		t.Fatalf("unexpected completion event %s", msg)
	}
}

func TestManagerMissingHostPublishesScanned(t *testing.T) {
	st, err := store.New(filepath.Join(t.TempDir(), "missing.db"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer st.Close()
	broker := realtime.NewBroker()
	events, cleanup := broker.Subscribe()
	defer cleanup()

	m, err := NewManager(st, broker, Options{Scan: testScanConfig(), Workers: 1, Ports: acceptOnly()})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	defer m.Close()

	m.handleJob(scanJob{kind: jobProbe, hostID: 4242})
	msg := waitEvent(t, events, realtime.EventHostScanned)
	if !bytes.Contains(msg, []byte(`"success":false`)) {
		t.Fatalf("unexpected scanned event %s", msg)
	}
}

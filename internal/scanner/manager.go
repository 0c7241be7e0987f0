package scanner

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/hitushen/netsweep/internal/config"
	"github.com/hitushen/netsweep/internal/models"
	"github.com/hitushen/netsweep/internal/probe"
	"github.com/hitushen/netsweep/internal/realtime"
	"github.com/hitushen/netsweep/internal/store"
	"github.com/hitushen/netsweep/internal/sweep"
	"github.com/hitushen/netsweep/internal/targets"
)

// FullScanFunc 对单个地址做全端口扫描，只返回开放端口。
type FullScanFunc func(ctx context.Context, address string, ports []int) ([]models.PortResult, error)

// Options 汇总 Manager 的依赖与参数；探测实现为空时按 Scan 中的名称构造。
type Options struct {
	Scan            config.Scan
	Workers         int
	FullScanTimeout time.Duration
	Liveness        probe.LivenessProber
	Ports           probe.PortProber
	FullScan        FullScanFunc
}

// Manager 负责协调后台扫描任务。
type Manager struct {
	store        *store.Store
	realtime     *realtime.Broker
	scan         config.Scan
	liveness     probe.LivenessProber
	prober       *Prober
	fullScan     FullScanFunc
	fullTimeout  time.Duration
	defaultPorts []int

	jobs         chan scanJob
	wg           sync.WaitGroup
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
	stopCh       chan struct{}
}

type jobKind int

const (
	jobSweep jobKind = iota
	jobProbe
	jobFull
)

type scanJob struct {
	kind    jobKind
	sweepID int64
	hostID  int64
	ports   []int
}

// NewManager 按照指定参数启动工作协程执行扫描。
func NewManager(st *store.Store, broker *realtime.Broker, opts Options) (*Manager, error) {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	defaultPorts, err := targets.ParsePorts(opts.Scan.Ports)
	if err != nil {
		return nil, fmt.Errorf("default ports: %w", err)
	}
	liveness := opts.Liveness
	if liveness == nil {
		if liveness, err = probe.NewLiveness(opts.Scan.Liveness); err != nil {
			return nil, err
		}
	}
	ports := opts.Ports
	if ports == nil {
		if ports, err = probe.NewPortProber(opts.Scan.PortProber); err != nil {
			return nil, err
		}
	}
	fullScan := opts.FullScan
	if fullScan == nil {
		timeout := opts.Scan.PortTimeout
		fullScan = func(ctx context.Context, address string, ports []int) ([]models.PortResult, error) {
			return NaabuScan(ctx, address, ports, NaabuOptions{Timeout: timeout})
		}
	}
	if opts.FullScanTimeout <= 0 {
		opts.FullScanTimeout = 10 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		store:        st,
		realtime:     broker,
		scan:         opts.Scan,
		liveness:     liveness,
		prober:       NewProber(ports, opts.Scan.PortConcurrency, opts.Scan.PortTimeout),
		fullScan:     fullScan,
		fullTimeout:  opts.FullScanTimeout,
		defaultPorts: defaultPorts,
		jobs:         make(chan scanJob, opts.Workers*8),
		ctx:          ctx,
		cancel:       cancel,
		stopCh:       make(chan struct{}),
	}
	for i := 0; i < opts.Workers; i++ {
		m.wg.Add(1)
		go m.worker()
	}
	return m, nil
}

// DefaultPorts 返回未指定端口时使用的候选端口。
func (m *Manager) DefaultPorts() []int {
	return append([]int(nil), m.defaultPorts...)
}

// ScheduleSweep 创建并排入一次网段存活扫描，返回扫描记录 ID。
func (m *Manager) ScheduleSweep(ctx context.Context, prefix, rangeSpec string) (int64, error) {
	rng, err := targets.ParseRange(prefix, rangeSpec)
	if err != nil {
		return 0, err
	}
	id, err := m.store.CreateSweep(ctx, rng.Prefix(), rng.Start(), rng.End())
	if err != nil {
		return 0, err
	}
	m.realtime.Publish(realtime.Event{
		Type:    realtime.EventSweepStarted,
		SweepID: id,
		Payload: map[string]interface{}{
			"range":   rng.String(),
			"started": time.Now().UTC(),
		},
	})
	if !m.enqueue(scanJob{kind: jobSweep, sweepID: id}) {
		_ = m.store.FinishSweep(context.Background(), id, nil, "scanner shutting down")
		return id, fmt.Errorf("scanner shutting down")
	}
	log.Printf("[scanner] enqueued sweep id=%d range=%s", id, rng)
	return id, nil
}

// ScheduleProbe 为主机排入一次候选端口探测，ports 为空时使用默认端口。
// 主机正在扫描时返回 false。
func (m *Manager) ScheduleProbe(hostID int64, ports []int) bool {
	if len(ports) == 0 {
		ports = m.DefaultPorts()
	}
	return m.scheduleHost(scanJob{kind: jobProbe, hostID: hostID, ports: ports})
}

// ScheduleFullRange 为主机排入 1-65535 全范围扫描。
func (m *Manager) ScheduleFullRange(hostID int64) bool {
	return m.scheduleHost(scanJob{kind: jobFull, hostID: hostID})
}

func (m *Manager) scheduleHost(job scanJob) bool {
	ok, err := m.store.BeginScan(context.Background(), job.hostID)
	if err != nil {
		log.Printf("[scanner] begin scan error host=%d err=%v", job.hostID, err)
		return false
	}
	if !ok {
		return false
	}
	m.realtime.Publish(realtime.Event{
		Type:   realtime.EventHostScanStarted,
		HostID: job.hostID,
		Payload: map[string]interface{}{
			"full":    job.kind == jobFull,
			"started": time.Now().UTC(),
		},
	})
	if !m.enqueue(job) {
		_ = m.store.EndScan(context.Background(), job.hostID)
		return false
	}
	return true
}

func (m *Manager) enqueue(job scanJob) bool {
	select {
	case <-m.stopCh:
		return false
	default:
	}
	select {
	case m.jobs <- job:
		return true
	case <-m.stopCh:
		return false
	}
}

// StartTicker 启动周期任务，定期对所有主机做默认端口探测。
func (m *Manager) StartTicker(interval time.Duration) {
	if interval <= 0 {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.probeAll()
			case <-m.stopCh:
				return
			}
		}
	}()
}

func (m *Manager) probeAll() {
	hosts, err := m.store.ListHosts(m.ctx)
	if err != nil {
		log.Printf("[scanner] list hosts error err=%v", err)
		return
	}
	for _, host := range hosts {
		m.ScheduleProbe(host.ID, nil)
	}
}

// Close 优雅停止所有扫描协程，未执行的任务会被标记为结束。
func (m *Manager) Close() {
	m.shutdownOnce.Do(func() {
		close(m.stopCh)
		m.cancel()
	})
	m.wg.Wait()
	for {
		select {
		case job := <-m.jobs:
			m.abandon(job)
		default:
			return
		}
	}
}

func (m *Manager) abandon(job scanJob) {
	ctx := context.Background()
	switch job.kind {
	case jobSweep:
		_ = m.store.FinishSweep(ctx, job.sweepID, nil, "scanner shutting down")
	default:
		_ = m.store.EndScan(ctx, job.hostID)
	}
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			return
		case job := <-m.jobs:
			m.handleJob(job)
		}
	}
}

func (m *Manager) handleJob(job scanJob) {
	if job.kind == jobSweep {
		m.runSweep(job.sweepID)
		return
	}

	host, err := m.store.GetHost(context.Background(), job.hostID)
	if err != nil {
		log.Printf("[scanner] load host error host=%d err=%v", job.hostID, err)
		_ = m.store.EndScan(context.Background(), job.hostID)
		m.realtime.Publish(realtime.Event{
			Type:   realtime.EventHostScanned,
			HostID: job.hostID,
			Payload: map[string]interface{}{
				"full":      job.kind == jobFull,
				"success":   false,
				"error":     err.Error(),
				"completed": time.Now().UTC(),
			},
		})
		return
	}

	var changed int
	var scanErr error
	if job.kind == jobFull {
		changed, scanErr = m.scanFullRange(host)
	} else {
		changed, scanErr = m.probeHost(host, job.ports)
	}
	if scanErr != nil {
		log.Printf("[scanner] scan failed host=%d err=%v", host.ID, scanErr)
	}
	if err := m.store.EndScan(context.Background(), host.ID); err != nil {
		log.Printf("[scanner] end scan error host=%d err=%v", host.ID, err)
	}
	payload := map[string]interface{}{
		"changed":   changed,
		"full":      job.kind == jobFull,
		"success":   scanErr == nil,
		"completed": time.Now().UTC(),
	}
	if scanErr != nil {
		payload["error"] = scanErr.Error()
	}
	m.realtime.Publish(realtime.Event{Type: realtime.EventHostScanned, HostID: host.ID, Payload: payload})
}

func (m *Manager) runSweep(id int64) {
	start := time.Now()
	// 记录的读写不随 m.ctx 取消，保证每个出队的巡检都落到终态
	bg := context.Background()
	sw, err := m.store.GetSweep(bg, id)
	if err != nil {
		log.Printf("[scanner] load sweep error id=%d err=%v", id, err)
		m.completeSweep(id, nil, err)
		return
	}
	rng, err := targets.NewRange(sw.Prefix, sw.RangeStart, sw.RangeEnd)
	if err != nil {
		m.completeSweep(id, nil, err)
		return
	}
	if err := m.store.StartSweep(bg, id); err != nil {
		log.Printf("[scanner] start sweep error id=%d err=%v", id, err)
	}

	sweeper := sweep.New(m.liveness, m.scan.SweepConcurrency, m.scan.SweepTimeout,
		sweep.WithObserver(func(l models.Liveness) {
			if !l.Alive {
				return
			}
			m.realtime.Publish(realtime.Event{
				Type:    realtime.EventSweepHostAlive,
				SweepID: id,
				Payload: map[string]interface{}{"address": l.Address},
			})
		}))
	alive, sweepErr := sweeper.Sweep(m.ctx, rng)
	m.completeSweep(id, alive, sweepErr)
	log.Printf("[scanner] completed sweep id=%d range=%s alive=%d duration=%s", id, rng, len(alive), time.Since(start).Truncate(time.Millisecond))
}

// completeSweep 写入巡检终态并发布 sweep_completed。
func (m *Manager) completeSweep(id int64, alive []string, sweepErr error) {
	errMsg := ""
	if sweepErr != nil {
		errMsg = sweepErr.Error()
	}
	if err := m.store.FinishSweep(context.Background(), id, alive, errMsg); err != nil {
		log.Printf("[scanner] finish sweep error id=%d err=%v", id, err)
	}
	payload := map[string]interface{}{
		"alive":     alive,
		"success":   sweepErr == nil,
		"completed": time.Now().UTC(),
	}
	if sweepErr != nil {
		payload["error"] = errMsg
	}
	m.realtime.Publish(realtime.Event{Type: realtime.EventSweepCompleted, SweepID: id, Payload: payload})
}

// probeHost 探测候选端口；开放端口总是写入，关闭端口只更新已记录的条目。
func (m *Manager) probeHost(host *models.Host, ports []int) (int, error) {
	report, err := m.prober.ProbePorts(m.ctx, host.Address, ports)
	if report == nil {
		return 0, err
	}
	existing, lerr := m.existingPorts(host.ID)
	if lerr != nil {
		return 0, lerr
	}

	checkedAt := time.Now().UTC()
	changed := 0
	for _, res := range report.Results {
		prev, known := existing[res.Port]
		if !res.Open() && !known {
			continue
		}
		if !known || prev.Status != res.State {
			changed++
		}
		if uerr := m.store.UpsertPort(context.Background(), host.ID, res.Port, res.Service, res.State, checkedAt); uerr != nil {
			log.Printf("[scanner] store port failed host=%d port=%d err=%v", host.ID, res.Port, uerr)
			continue
		}
		m.publishStatus(host.ID, res, checkedAt)
	}
	return changed, err
}

func (m *Manager) scanFullRange(host *models.Host) (int, error) {
	start := time.Now()
	log.Printf("[scanner] starting full scan host=%d addr=%s", host.ID, host.Address)

	existing, err := m.existingPorts(host.ID)
	if err != nil {
		return 0, err
	}

	scanCtx, cancel := context.WithTimeout(m.ctx, m.fullTimeout)
	defer cancel()
	results, err := m.fullScan(scanCtx, host.Address, nil)
	if err != nil {
		return 0, err
	}

	checkedAt := time.Now().UTC()
	changed := 0
	open := make([]int, 0, len(results))
	for _, res := range results {
		open = append(open, res.Port)
		if prev, ok := existing[res.Port]; !ok || prev.Status != models.PortStatusOpen {
			changed++
		}
		if err := m.store.UpsertPort(context.Background(), host.ID, res.Port, res.Service, models.PortStatusOpen, checkedAt); err != nil {
			log.Printf("[scanner] store port failed host=%d port=%d err=%v", host.ID, res.Port, err)
			continue
		}
		m.publishStatus(host.ID, res, checkedAt)
	}

	closed, err := m.store.MarkClosedExcept(context.Background(), host.ID, open, checkedAt)
	if err != nil {
		return changed, err
	}
	for _, num := range closed {
		changed++
		m.publishStatus(host.ID, models.PortResult{Port: num, Service: existing[num].Service, State: models.PortStatusClosed}, checkedAt)
	}

	log.Printf("[scanner] completed full scan host=%d open=%d duration=%s", host.ID, len(open), time.Since(start).Truncate(time.Millisecond))
	return changed, nil
}

func (m *Manager) existingPorts(hostID int64) (map[int]models.Port, error) {
	ports, err := m.store.ListPorts(context.Background(), hostID, "")
	if err != nil {
		return nil, err
	}
	out := make(map[int]models.Port, len(ports))
	for _, p := range ports {
		out[p.Number] = p
	}
	return out, nil
}

func (m *Manager) publishStatus(hostID int64, res models.PortResult, ts time.Time) {
	m.realtime.Publish(realtime.Event{
		Type:   realtime.EventPortStatus,
		HostID: hostID,
		Payload: map[string]interface{}{
			"port":        res.Port,
			"service":     res.Service,
			"status":      res.State,
			"lastChecked": ts,
		},
	})
}

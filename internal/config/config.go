package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultPorts 为未指定端口时使用的常见服务端口。
const DefaultPorts = "21,22,23,25,80,139,443,445,3389,8080,8443"

// 存活探测方式。
const (
	LivenessExec    = "exec"
	LivenessICMP    = "icmp"
	LivenessICMPUDP = "icmp-udp"
)

// 端口探测方式。
const (
	PortProberConnect = "connect"
	PortProberExec    = "exec"
)

// Scan 汇总 CLI 与服务端共用的扫描参数。
type Scan struct {
	SweepConcurrency int
	SweepTimeout     time.Duration
	PortConcurrency  int
	PortTimeout      time.Duration
	Liveness         string
	PortProber       string
	Ports            string
}

// Config 汇总服务运行时所需的全部配置。
type Config struct {
	Scan

	Addr            string
	AdminUser       string
	AdminPassword   string
	SessionKey      []byte
	CSRFKey         []byte
	DBPath          string
	JobWorkers      int
	FullScanTimeout time.Duration
	RescanInterval  time.Duration
}

// LoadScan 从环境变量读取扫描参数。
func LoadScan() (*Scan, error) {
	sc := &Scan{
		SweepConcurrency: intEnv("NETSWEEP_SWEEP_CONCURRENCY", 50),
		SweepTimeout:     durationEnv("NETSWEEP_SWEEP_TIMEOUT", 2*time.Second),
		PortConcurrency:  intEnv("NETSWEEP_PORT_CONCURRENCY", 100),
		PortTimeout:      durationEnv("NETSWEEP_PORT_TIMEOUT", 500*time.Millisecond),
		Liveness:         strings.ToLower(getenv("NETSWEEP_LIVENESS", LivenessExec)),
		PortProber:       strings.ToLower(getenv("NETSWEEP_PORT_PROBER", PortProberConnect)),
		Ports:            getenv("NETSWEEP_PORTS", DefaultPorts),
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return sc, nil
}

// Validate 校验扫描参数，CLI 覆盖环境变量后也会再次调用。
func (sc *Scan) Validate() error {
	if sc.SweepConcurrency <= 0 {
		return fmt.Errorf("sweep concurrency must be positive")
	}
	if sc.PortConcurrency <= 0 {
		return fmt.Errorf("port concurrency must be positive")
	}
	if sc.SweepTimeout <= 0 || sc.PortTimeout <= 0 {
		return fmt.Errorf("probe timeouts must be positive")
	}
	switch sc.Liveness {
	case LivenessExec, LivenessICMP, LivenessICMPUDP:
	default:
		return fmt.Errorf("unknown liveness method %q", sc.Liveness)
	}
	switch sc.PortProber {
	case PortProberConnect, PortProberExec:
	default:
		return fmt.Errorf("unknown port prober %q", sc.PortProber)
	}
	return nil
}

// Load 从环境变量构建服务端配置，并提供合理的默认值。
func Load() (*Config, error) {
	sc, err := LoadScan()
	if err != nil {
		return nil, err
	}
	cfg := &Config{
		Scan:            *sc,
		Addr:            getenv("NETSWEEP_HTTP_ADDR", ":8080"),
		AdminUser:       getenv("NETSWEEP_ADMIN_USER", "admin"),
		AdminPassword:   getenv("NETSWEEP_ADMIN_PASS", "admin123"),
		SessionKey:      []byte(getenv("NETSWEEP_SESSION_KEY", "0123456789abcdef0123456789abcdef")),
		CSRFKey:         []byte(getenv("NETSWEEP_CSRF_KEY", "abcdef0123456789abcdef0123456789")),
		DBPath:          getenv("NETSWEEP_DB_PATH", "data/netsweep.db"),
		JobWorkers:      intEnv("NETSWEEP_JOB_WORKERS", 2),
		FullScanTimeout: durationEnv("NETSWEEP_FULL_SCAN_TIMEOUT", 10*time.Minute),
		RescanInterval:  durationEnv("NETSWEEP_RESCAN_INTERVAL", 0),
	}

	if len(cfg.SessionKey) < 32 {
		return nil, fmt.Errorf("session key must be at least 32 bytes, got %d", len(cfg.SessionKey))
	}
	if len(cfg.CSRFKey) < 32 {
		return nil, fmt.Errorf("csrf key must be at least 32 bytes, got %d", len(cfg.CSRFKey))
	}
	if cfg.AdminUser == "" || cfg.AdminPassword == "" {
		return nil, fmt.Errorf("admin credentials must not be empty")
	}
	if cfg.JobWorkers <= 0 {
		return nil, fmt.Errorf("job workers must be positive")
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func intEnv(key string, fallback int) int {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return n
}

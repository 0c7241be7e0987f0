package models

import "time"

// User 表示已认证的账户信息。
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Liveness 是一次存活探测的结果。
type Liveness struct {
	Address string `json:"address"`
	Alive   bool   `json:"alive"`
}

// PortResult 描述单个目标端口的探测结论。
type PortResult struct {
	Port    int    `json:"port"`
	Service string `json:"service"`
	State   string `json:"state"`
}

// Open 报告该端口是否开放。
func (p PortResult) Open() bool {
	return p.State == PortStatusOpen
}

// Sweep 记录一次网段存活扫描。
type Sweep struct {
	ID         int64      `json:"id"`
	Prefix     string     `json:"prefix"`
	RangeStart int        `json:"rangeStart"`
	RangeEnd   int        `json:"rangeEnd"`
	Status     string     `json:"status"`
	LiveCount  int        `json:"liveCount"`
	Error      string     `json:"error,omitempty"`
	Hosts      []string   `json:"hosts,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// Host 表示被追踪端口的目标主机。
type Host struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	Scanning  bool      `json:"scanning"`
	OpenCount int       `json:"openCount"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Port 用于存储单个端口的最近一次探测结果。
type Port struct {
	ID          int64     `json:"id"`
	HostID      int64     `json:"hostId"`
	Number      int       `json:"number"`
	Service     string    `json:"service"`
	Status      string    `json:"status"`
	LastChecked time.Time `json:"lastChecked"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// PortStatus 定义端口状态枚举。
const (
	PortStatusUnknown = "unknown"
	PortStatusOpen    = "open"
	PortStatusClosed  = "closed"
)

// SweepStatus 定义扫描任务状态。
const (
	SweepStatusPending = "pending"
	SweepStatusRunning = "running"
	SweepStatusDone    = "done"
	SweepStatusFailed  = "failed"
)

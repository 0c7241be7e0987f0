package realtime

import (
	"encoding/json"
	"sync"
)

// 事件类型。
const (
	EventSweepStarted    = "sweep_started"
	EventSweepHostAlive  = "sweep_host_alive"
	EventSweepCompleted  = "sweep_completed"
	EventHostCreated     = "host_created"
	EventHostDeleted     = "host_deleted"
	EventHostScanStarted = "host_scan_started"
	EventHostScanned     = "host_scanned"
	EventPortStatus      = "port_status"
)

// Event 描述 SSE 推送时的消息载荷。
type Event struct {
	Type    string      `json:"type"`
	SweepID int64       `json:"sweepId,omitempty"`
	HostID  int64       `json:"hostId,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
}

// Broker 负责向实时订阅者（SSE 客户端）分发事件。
type Broker struct {
	mu      sync.RWMutex
	clients map[chan []byte]struct{}
	closed  bool
}

// NewBroker 创建一个新的 Broker 实例。
func NewBroker() *Broker {
	return &Broker{clients: make(map[chan []byte]struct{})}
}

// Subscribe 注册客户端通道并同时返回清理函数。Broker 关闭后返回已关闭的通道。
func (b *Broker) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, 8)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.clients[ch]; ok {
				delete(b.clients, ch)
				close(ch)
			}
		})
	}
	return ch, cleanup
}

// Publish 将事件广播给所有订阅者。
func (b *Broker) Publish(evt Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- data:
		default:
			// 如果订阅者处理过慢则丢弃消息，避免阻塞。
		}
	}
}

// Subscribers 返回当前订阅者数量。
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Close 关闭全部订阅通道，之后的 Publish 不再投递。
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.clients {
		delete(b.clients, ch)
		close(ch)
	}
}

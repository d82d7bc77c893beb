// Package notify delivers messages to open playground clients. Each client
// holds one subscription (an SSE stream in production); the cache agent only
// sees the Notify capability and never how messages are transported.
package notify

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// 消息类型。
const (
	KindResourceChanged  = "resource.changed"
	KindClientRegistered = "client.registered"
)

// Message 是发往客户端的消息体，序列化为 {"kind": ..., "url": ...}。
type Message struct {
	Kind     string `json:"kind"`
	URL      string `json:"url,omitempty"`
	ClientID string `json:"client_id,omitempty"`
}

// ResourceChanged 构造资源变更通知。
func ResourceChanged(url string) Message {
	return Message{Kind: KindResourceChanged, URL: url}
}

var (
	// ErrClientNotFound 表示目标客户端未连接。
	ErrClientNotFound = errors.New("client not found")
	// ErrClientBacklogged 表示客户端消息队列已满，本条消息被丢弃。
	ErrClientBacklogged = errors.New("client message queue full")
)

// ClientInfo 用于诊断输出。
type ClientInfo struct {
	ID          string    `json:"id"`
	Controller  string    `json:"controller,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
}

type subscriber struct {
	info ClientInfo
	ch   chan Message
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

// Hub 维护已连接客户端，并记录哪一代 agent 接管了它们。
type Hub struct {
	buffer int
	now    func() time.Time

	mu         sync.RWMutex
	clients    map[string]*subscriber
	controller string
}

// NewHub 创建客户端注册表，buffer 为每个客户端的待发送队列长度。
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{
		buffer:  buffer,
		now:     time.Now,
		clients: make(map[string]*subscriber),
	}
}

// Subscription 是单个客户端的消息流。
type Subscription struct {
	hub *Hub
	sub *subscriber
}

// ID 返回客户端标识。
func (s *Subscription) ID() string {
	return s.sub.info.ID
}

// Messages 在订阅关闭后被 close。
func (s *Subscription) Messages() <-chan Message {
	return s.sub.ch
}

// Close 注销订阅；同 ID 已被新连接替换时不影响新连接。
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	if current, ok := s.hub.clients[s.sub.info.ID]; ok && current == s.sub {
		delete(s.hub.clients, s.sub.info.ID)
	}
	s.hub.mu.Unlock()
	s.sub.close()
}

// Subscribe 注册客户端。同一 ID 重复连接时旧订阅被关闭（例如标签页刷新）。
// 若已有 agent 接管，新客户端直接归属该 agent。
func (h *Hub) Subscribe(id string) (*Subscription, error) {
	if id == "" {
		return nil, errors.New("client id required")
	}
	sub := &subscriber{
		ch: make(chan Message, h.buffer),
	}

	h.mu.Lock()
	sub.info = ClientInfo{ID: id, Controller: h.controller, ConnectedAt: h.now().UTC()}
	previous := h.clients[id]
	h.clients[id] = sub
	h.mu.Unlock()

	if previous != nil {
		previous.close()
	}
	return &Subscription{hub: h, sub: sub}, nil
}

// Notify 向指定客户端投递消息，不阻塞调用方。
func (h *Hub) Notify(ctx context.Context, clientID string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	sub, ok := h.clients[clientID]
	if !ok {
		return ErrClientNotFound
	}
	select {
	case sub.ch <- msg:
		return nil
	default:
		return ErrClientBacklogged
	}
}

// Claim 让 generation 接管当前所有已连接客户端，返回接管数量。
func (h *Hub) Claim(generation string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.controller = generation
	for _, sub := range h.clients {
		sub.info.Controller = generation
	}
	return len(h.clients)
}

// Clients 返回按 ID 排序的客户端快照。
func (h *Hub) Clients() []ClientInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	result := make([]ClientInfo, 0, len(h.clients))
	for _, sub := range h.clients {
		result = append(result, sub.info)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Close 关闭全部订阅，用于进程退出。
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*subscriber)
	h.mu.Unlock()
	for _, sub := range clients {
		sub.close()
	}
}

package worker

import (
	"context"
	"errors"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrClientNotFound 表示客户端不存在。
var ErrClientNotFound = errors.New("client not found")

// Client 表示一个打开的应用窗口。
type Client struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	Focused    bool      `json:"focused"`
	Controlled bool      `json:"controlled"`
	OpenedAt   time.Time `json:"openedAt"`
}

// Clients 是客户端注册表。
type Clients struct {
	mu      sync.RWMutex
	clients map[string]*Client
	claimed bool
	now     func() time.Time
}

// NewClients 创建空注册表。
func NewClients() *Clients {
	return &Clients{clients: make(map[string]*Client), now: time.Now}
}

// Open 登记一个新窗口，新窗口获得焦点。Claim 之后打开的窗口直接受控。
func (c *Clients) Open(rawURL string) Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.clients {
		existing.Focused = false
	}
	client := &Client{
		ID:         uuid.NewString(),
		URL:        rawURL,
		Focused:    true,
		Controlled: c.claimed,
		OpenedAt:   c.now(),
	}
	c.clients[client.ID] = client
	return *client
}

// OpenWindow 打开一个新窗口，等价于 Open。
func (c *Clients) OpenWindow(rawURL string) Client {
	return c.Open(rawURL)
}

// Close 移除客户端。
func (c *Clients) Close(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.clients[id]; !ok {
		return false
	}
	delete(c.clients, id)
	return true
}

// Focus 让指定客户端获得焦点。
func (c *Clients) Focus(id string) (Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	target, ok := c.clients[id]
	if !ok {
		return Client{}, ErrClientNotFound
	}
	for _, existing := range c.clients {
		existing.Focused = false
	}
	target.Focused = true
	return *target, nil
}

// Claim 接管全部已打开的客户端，返回数量。
func (c *Clients) Claim(context.Context) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.claimed = true
	for _, existing := range c.clients {
		existing.Controlled = true
	}
	return len(c.clients)
}

// MatchAll 按打开时间返回全部客户端。
func (c *Clients) MatchAll() []Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Client, 0, len(c.clients))
	for _, existing := range c.clients {
		out = append(out, *existing)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out
}

// FindByPath 返回第一个 URL 路径与 target 相同的客户端。
func (c *Clients) FindByPath(target string) (Client, bool) {
	for _, client := range c.MatchAll() {
		if clientPath(client.URL) == target {
			return client, true
		}
	}
	return Client{}, false
}

func clientPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.Path == "" {
		return "/"
	}
	return u.Path
}

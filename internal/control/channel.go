// Package control answers out-of-band management messages: clearing every
// cache store and reporting per-store entry counts. Each recognized message
// gets exactly one reply on its reply port; anything else is ignored.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-hub/internal/cache"
	"github.com/any-hub/offline-hub/internal/logging"
)

const (
	ActionClearCache    = "clearCache"
	ActionGetCacheStats = "getCacheStats"
)

// Message 是入站控制消息。Port 为回复端口，调用方应使用至少 1 的缓冲。
type Message struct {
	Action string
	Port   chan<- Reply
}

// Reply 是控制消息的回复。Stats 非 nil 时即使为空也会序列化为数组。
type Reply struct {
	Success bool        `json:"success"`
	Stats   []CacheStat `json:"stats,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// MarshalJSON 保证 getCacheStats 在没有任何缓存时回复 "stats": []。
func (r Reply) MarshalJSON() ([]byte, error) {
	type plain Reply
	if r.Stats != nil && len(r.Stats) == 0 {
		return json.Marshal(struct {
			plain
			Stats []CacheStat `json:"stats"`
		}{plain: plain(r), Stats: r.Stats})
	}
	return json.Marshal(plain(r))
}

// CacheStat 描述单个缓存的条目数。
type CacheStat struct {
	Name string `json:"name"`
	Size int    `json:"size"`
}

// Channel 处理控制消息。
type Channel struct {
	storage cache.Storage
	log     *logrus.Entry
}

// NewChannel 构造控制通道。
func NewChannel(storage cache.Storage, logger *logrus.Logger) *Channel {
	return &Channel{storage: storage, log: logging.Component(logger, "control")}
}

// Parse 从 JSON 负载中取出 action；无法识别的负载返回空字符串。
func Parse(payload []byte) string {
	var body struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return ""
	}
	return body.Action
}

// Recognized 判断 action 是否会产生回复。
func Recognized(action string) bool {
	return action == ActionClearCache || action == ActionGetCacheStats
}

// Handle 处理一条消息。识别的消息恰好回复一次；未知消息不回复，返回 false。
func (c *Channel) Handle(ctx context.Context, msg Message) bool {
	var reply Reply
	switch msg.Action {
	case ActionClearCache:
		reply = c.clearCache(ctx)
	case ActionGetCacheStats:
		reply = c.cacheStats(ctx)
	default:
		c.log.WithField("message_action", msg.Action).Debug("control_message_ignored")
		return false
	}
	if msg.Port != nil {
		msg.Port <- reply
	}
	return true
}

func (c *Channel) clearCache(ctx context.Context) Reply {
	names, err := c.storage.Names(ctx)
	if err != nil {
		return c.failure(ActionClearCache, fmt.Errorf("list caches: %w", err))
	}
	for _, name := range names {
		if _, err := c.storage.Delete(ctx, name); err != nil {
			return c.failure(ActionClearCache, fmt.Errorf("delete cache %s: %w", name, err))
		}
	}
	c.log.WithField("deleted", len(names)).Info("cache_cleared")
	return Reply{Success: true}
}

func (c *Channel) cacheStats(ctx context.Context) Reply {
	names, err := c.storage.Names(ctx)
	if err != nil {
		return c.failure(ActionGetCacheStats, fmt.Errorf("list caches: %w", err))
	}
	sort.Strings(names)
	stats := make([]CacheStat, 0, len(names))
	for _, name := range names {
		store, err := c.storage.Open(ctx, name)
		if err != nil {
			return c.failure(ActionGetCacheStats, fmt.Errorf("open cache %s: %w", name, err))
		}
		size, err := store.Len(ctx)
		if err != nil {
			return c.failure(ActionGetCacheStats, fmt.Errorf("count cache %s: %w", name, err))
		}
		stats = append(stats, CacheStat{Name: name, Size: size})
	}
	return Reply{Success: true, Stats: stats}
}

func (c *Channel) failure(action string, err error) Reply {
	c.log.WithError(err).WithField("message_action", action).Warn("control_message_failed")
	return Reply{Success: false, Error: err.Error()}
}

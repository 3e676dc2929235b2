package worker

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/any-hub/offline-hub/internal/config"
)

// NotificationAction 是通知上的操作按钮。
type NotificationAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// NotificationData 是通知携带的附加数据。
type NotificationData struct {
	DateOfArrival int64  `json:"dateOfArrival"`
	URL           string `json:"url"`
}

// Notification 是已展示的通知。
type Notification struct {
	ID                 string               `json:"id"`
	Title              string               `json:"title"`
	Body               string               `json:"body"`
	Icon               string               `json:"icon,omitempty"`
	Badge              string               `json:"badge,omitempty"`
	Vibrate            []int                `json:"vibrate,omitempty"`
	Tag                string               `json:"tag,omitempty"`
	RequireInteraction bool                 `json:"requireInteraction"`
	Data               NotificationData     `json:"data"`
	Actions            []NotificationAction `json:"actions"`
	ShownAt            time.Time            `json:"shownAt"`
}

// DefaultActions 是推送通知固定携带的两个操作。
var DefaultActions = []NotificationAction{
	{Action: "open", Title: "Open App"},
	{Action: "dismiss", Title: "Dismiss"},
}

// BuildNotification 按模板生成推送通知，payload 为空时使用默认正文。
func BuildNotification(tpl config.NotificationConfig, payload string, now time.Time) Notification {
	body := payload
	if body == "" {
		body = tpl.DefaultBody
	}
	target := tpl.URL
	if target == "" {
		target = "/"
	}
	return Notification{
		Title:              tpl.Title,
		Body:               body,
		Icon:               tpl.Icon,
		Badge:              tpl.Badge,
		Vibrate:            append([]int(nil), tpl.Vibrate...),
		Tag:                tpl.Tag,
		RequireInteraction: tpl.RequireInteraction,
		Data:               NotificationData{DateOfArrival: now.UnixMilli(), URL: target},
		Actions:            append([]NotificationAction(nil), DefaultActions...),
	}
}

// Notifications 记录当前展示中的通知。相同 tag 的新通知替换旧通知。
type Notifications struct {
	mu    sync.RWMutex
	items map[string]Notification
}

// NewNotifications 创建空的通知中心。
func NewNotifications() *Notifications {
	return &Notifications{items: make(map[string]Notification)}
}

// Show 展示通知并返回带 ID 的副本。
func (n *Notifications) Show(item Notification) Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	if item.Tag != "" {
		for id, existing := range n.items {
			if existing.Tag == item.Tag {
				delete(n.items, id)
			}
		}
	}
	item.ID = uuid.NewString()
	if item.ShownAt.IsZero() {
		item.ShownAt = time.Now()
	}
	n.items[item.ID] = item
	return item
}

// Close 关闭通知；不存在时返回 false。
func (n *Notifications) Close(id string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.items[id]; !ok {
		return false
	}
	delete(n.items, id)
	return true
}

// Get 查找通知。
func (n *Notifications) Get(id string) (Notification, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	item, ok := n.items[id]
	return item, ok
}

// List 按展示时间返回全部通知。
func (n *Notifications) List() []Notification {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]Notification, 0, len(n.items))
	for _, item := range n.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ShownAt.Equal(out[j].ShownAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ShownAt.Before(out[j].ShownAt)
	})
	return out
}

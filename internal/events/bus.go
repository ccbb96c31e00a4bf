// Package events carries cross-component signals such as "cache-invalidated".
// Publishers and subscribers only see the Bus interface, so the query cache and
// any external invalidation source can share one hub without global state, and
// tests can swap in a synchronous implementation.
package events

import (
	"time"

	"github.com/juju/pubsub/v2"
	"github.com/sirupsen/logrus"
)

// TopicCacheInvalidated 在任何组件认定服务端状态已经偏离缓存时广播。
const TopicCacheInvalidated = "cache-invalidated"

// Invalidation 是 cache-invalidated 事件的负载。
type Invalidation struct {
	Key       string `json:"key"`
	Timestamp int64  `json:"timestamp"`
}

// NewInvalidation 以当前时间（毫秒）构造事件。
func NewInvalidation(key string) Invalidation {
	return Invalidation{Key: key, Timestamp: time.Now().UnixMilli()}
}

// Handler 处理一条消息。
type Handler func(topic string, data interface{})

// Bus 是显式注入的发布/订阅接口。
type Bus interface {
	Publish(topic string, data interface{})
	Subscribe(topic string, handler Handler) (unsubscribe func())
}

// Hub 基于 juju/pubsub 的 SimpleHub 实现 Bus，消息按订阅者独立队列异步投递。
type Hub struct {
	hub *pubsub.SimpleHub
}

// NewHub 构造进程内事件总线。
func NewHub(logger *logrus.Logger) *Hub {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Hub{
		hub: pubsub.NewSimpleHub(&pubsub.SimpleHubConfig{
			Logger: logger.WithField("component", "events"),
		}),
	}
}

// Publish 广播消息，不等待订阅方处理完成。
func (h *Hub) Publish(topic string, data interface{}) {
	_ = h.hub.Publish(topic, data)
}

// Subscribe 订阅单个 topic，返回的函数用于取消订阅。
func (h *Hub) Subscribe(topic string, handler Handler) func() {
	return h.hub.Subscribe(topic, func(t string, data interface{}) {
		handler(t, data)
	})
}

// PublishInvalidation 是广播 cache-invalidated 的便捷函数。
func PublishInvalidation(bus Bus, key string) Invalidation {
	evt := NewInvalidation(key)
	bus.Publish(TopicCacheInvalidated, evt)
	return evt
}

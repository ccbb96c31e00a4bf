package events

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestHubDeliversInvalidation(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	hub := NewHub(logger)

	received := make(chan Invalidation, 1)
	unsubscribe := hub.Subscribe(TopicCacheInvalidated, func(topic string, data interface{}) {
		if evt, ok := data.(Invalidation); ok {
			received <- evt
		}
	})
	defer unsubscribe()

	sent := PublishInvalidation(hub, "parcel-list:sender")

	select {
	case evt := <-received:
		if evt.Key != "parcel-list:sender" {
			t.Fatalf("unexpected key %s", evt.Key)
		}
		if evt.Timestamp != sent.Timestamp || evt.Timestamp == 0 {
			t.Fatalf("timestamp mismatch: %d vs %d", evt.Timestamp, sent.Timestamp)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("订阅方未收到事件")
	}
}

func TestHubUnsubscribeStopsDelivery(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	hub := NewHub(logger)

	received := make(chan struct{}, 4)
	unsubscribe := hub.Subscribe(TopicCacheInvalidated, func(string, interface{}) {
		received <- struct{}{}
	})
	unsubscribe()

	hub.Publish(TopicCacheInvalidated, NewInvalidation("parcels"))

	select {
	case <-received:
		t.Fatalf("取消订阅后不应再收到事件")
	case <-time.After(100 * time.Millisecond):
	}
}

package routes

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/parcel-hub/parcel-hub/internal/events"
	"github.com/parcel-hub/parcel-hub/internal/querycache"
	"github.com/parcel-hub/parcel-hub/internal/tags"
)

// RegisterDiagnosticsRoutes 暴露 /-/ 前缀的诊断与控制接口。
func RegisterDiagnosticsRoutes(app *fiber.App, deps Deps) {
	if app == nil || deps.Cache == nil {
		return
	}

	app.Get("/-/cache", func(c fiber.Ctx) error {
		entries := deps.Cache.Entries()
		payload := fiber.Map{
			"entries": encodeEntries(entries),
			"tags":    deps.Cache.Index().Len(),
		}
		if deps.Poller != nil {
			payload["visible"] = deps.Poller.Visible()
		}
		return c.JSON(payload)
	})

	app.Post("/-/invalidate", func(c fiber.Ctx) error {
		var body struct {
			Key string `json:"key"`
		}
		if err := json.Unmarshal(c.Body(), &body); err != nil || strings.TrimSpace(body.Key) == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalidation_key_required"})
		}
		key := strings.TrimSpace(body.Key)
		if deps.Bus != nil {
			evt := events.PublishInvalidation(deps.Bus, key)
			return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"key": evt.Key, "timestamp": evt.Timestamp})
		}
		n := deps.Cache.HandleInvalidation(events.NewInvalidation(key))
		return c.JSON(fiber.Map{"key": key, "invalidated": n})
	})

	app.Post("/-/visibility", func(c fiber.Ctx) error {
		if deps.Poller == nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "poller_disabled"})
		}
		var body struct {
			Visible *bool `json:"visible"`
		}
		if err := json.Unmarshal(c.Body(), &body); err != nil || body.Visible == nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "visible_required"})
		}
		started := deps.Poller.VisibilityChanged(*body.Visible)
		return c.JSON(fiber.Map{"visible": *body.Visible, "refetched": started})
	})
}

type entryPayload struct {
	Key         string            `json:"key"`
	Operation   string            `json:"operation"`
	Status      querycache.Status `json:"status"`
	Stale       bool              `json:"stale"`
	Fetching    bool              `json:"fetching"`
	Subscribers int               `json:"subscribers"`
	Count       int               `json:"count"`
	TTLSeconds  int64             `json:"ttl_seconds"`
	FetchedAt   string            `json:"fetched_at,omitempty"`
	Tags        []tags.Tag        `json:"tags"`
}

func encodeEntries(entries []querycache.EntryInfo) []entryPayload {
	result := make([]entryPayload, 0, len(entries))
	for _, e := range entries {
		item := entryPayload{
			Key:         e.Key,
			Operation:   e.Operation,
			Status:      e.Status,
			Stale:       e.Stale,
			Fetching:    e.Fetching,
			Subscribers: e.Subscribers,
			Count:       e.Count,
			TTLSeconds:  int64(e.TTL / time.Second),
			Tags:        e.Tags,
		}
		if e.TTL < 0 {
			item.TTLSeconds = -1
		}
		if !e.FetchedAt.IsZero() {
			item.FetchedAt = e.FetchedAt.UTC().Format(time.RFC3339)
		}
		result = append(result, item)
	}
	return result
}

package routes

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/parcel-hub/parcel-hub/internal/events"
	"github.com/parcel-hub/parcel-hub/internal/mutation"
	"github.com/parcel-hub/parcel-hub/internal/operations"
	"github.com/parcel-hub/parcel-hub/internal/query"
	"github.com/parcel-hub/parcel-hub/internal/querycache"
	"github.com/parcel-hub/parcel-hub/internal/server"
	"github.com/parcel-hub/parcel-hub/internal/tags"
)

// Deps 汇总路由依赖。
type Deps struct {
	Cache     *querycache.Cache
	Mutations *mutation.Coordinator
	Bus       events.Bus
	Poller    *querycache.Poller
	Logger    *logrus.Logger
}

// queryResponse 是视图读取的响应体。
type queryResponse struct {
	Data       interface{}       `json:"data"`
	IsLoading  bool              `json:"isLoading"`
	IsFetching bool              `json:"isFetching"`
	Status     querycache.Status `json:"status"`
	Stale      bool              `json:"stale"`
	Error      *string           `json:"error"`
}

// RegisterParcelRoutes 暴露包裹列表、详情、汇总与变更接口。
func RegisterParcelRoutes(app *fiber.App, deps Deps) {
	if app == nil || deps.Cache == nil {
		return
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}

	app.Get("/parcels/:role", func(c fiber.Ctx) error {
		role, ok := roleParam(c)
		if !ok {
			return renderUnknownRole(c)
		}
		return readQuery(c, deps.Cache, operations.ListOwned(role))
	})

	app.Get("/parcels/:role/dashboard", func(c fiber.Ctx) error {
		role, ok := roleParam(c)
		if !ok {
			return renderUnknownRole(c)
		}
		return readQuery(c, deps.Cache, operations.DashboardOf(role))
	})

	app.Get("/parcels/:role/stats", func(c fiber.Ctx) error {
		role, ok := roleParam(c)
		if !ok {
			return renderUnknownRole(c)
		}
		return readQuery(c, deps.Cache, operations.StatsOf(role))
	})

	app.Get("/parcel/:id", func(c fiber.Ctx) error {
		id := strings.TrimSpace(c.Params("id"))
		if id == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "parcel_id_required"})
		}
		return readQuery(c, deps.Cache, operations.Single(id))
	})

	if deps.Mutations == nil {
		return
	}

	app.Patch("/parcels/cancel/:id", func(c fiber.Ctx) error {
		var body struct {
			Reason string `json:"reason"`
		}
		if len(c.Body()) > 0 {
			if err := json.Unmarshal(c.Body(), &body); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
			}
		}
		err := deps.Mutations.CancelParcel(requestContext(c), c.Params("id"), body.Reason)
		return renderMutation(c, deps.Logger, err)
	})

	app.Post("/parcels/:id/confirm", func(c fiber.Ctx) error {
		err := deps.Mutations.ConfirmDelivery(requestContext(c), c.Params("id"))
		return renderMutation(c, deps.Logger, err)
	})
}

// readQuery 以订阅方式读取一次：无数据时等待首次结果，有数据时立即返回（可能仍在后台刷新）。
func readQuery(c fiber.Ctx, cache *querycache.Cache, q query.LogicalQuery) error {
	ctx := requestContext(c)
	var snap querycache.Snapshot
	if c.Query("refresh") == "true" {
		var err error
		snap, err = cache.Refetch(ctx, q)
		if errors.Is(err, querycache.ErrUnknownOperation) {
			return fiber.NewError(fiber.StatusNotFound, err.Error())
		}
	} else {
		sub, err := cache.Subscribe(q)
		if err != nil {
			return err
		}
		snap = awaitData(ctx, sub)
		sub.Close()
	}
	return c.JSON(encodeSnapshot(snap))
}

func awaitData(ctx context.Context, sub *querycache.Subscription) querycache.Snapshot {
	snap := sub.Snapshot()
	for snap.IsLoading {
		select {
		case next, ok := <-sub.Updates():
			if !ok {
				return sub.Snapshot()
			}
			snap = next
		case <-ctx.Done():
			return sub.Snapshot()
		}
	}
	return snap
}

func encodeSnapshot(snap querycache.Snapshot) queryResponse {
	resp := queryResponse{
		IsLoading:  snap.IsLoading,
		IsFetching: snap.IsFetching,
		Status:     snap.Status,
		Stale:      snap.Stale,
	}
	switch {
	case snap.Data.Parcels != nil:
		resp.Data = snap.Data.Parcels
	case snap.Data.Parcel != nil:
		resp.Data = snap.Data.Parcel
	case snap.Data.Summary != nil:
		resp.Data = snap.Data.Summary
	}
	if snap.Err != nil {
		msg := snap.Err.Error()
		resp.Error = &msg
	}
	return resp
}

func renderMutation(c fiber.Ctx, logger *logrus.Logger, err error) error {
	if err == nil {
		return c.JSON(fiber.Map{"success": true})
	}
	var rejected *mutation.RejectedError
	if errors.As(err, &rejected) {
		status := rejected.Status
		if status < 400 || status > 599 {
			status = fiber.StatusBadRequest
		}
		return c.Status(status).JSON(fiber.Map{"success": false, "message": rejected.Error()})
	}
	logger.WithFields(logrus.Fields{
		"action":     "mutation",
		"request_id": server.RequestID(c),
	}).WithError(err).Warn("mutation_transport_failed")
	return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"success": false, "message": err.Error()})
}

func roleParam(c fiber.Ctx) (string, bool) {
	role := strings.ToLower(strings.TrimSpace(c.Params("role")))
	return role, tags.ValidRole(role)
}

func renderUnknownRole(c fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown_role"})
}

func requestContext(c fiber.Ctx) context.Context {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx
}

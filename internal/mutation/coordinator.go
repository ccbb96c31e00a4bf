// Package mutation runs parcel mutations with optimistic cache updates.
//
// Every mutation follows the same sequence: build a Patch, apply it to every
// cached entry tagged with the affected resource, issue the request, then
// either keep the patch and invalidate the related tags or revert it. There
// are no retries and no per-parcel locks.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/parcel-hub/parcel-hub/internal/logging"
	"github.com/parcel-hub/parcel-hub/internal/origin"
	"github.com/parcel-hub/parcel-hub/internal/parcel"
	"github.com/parcel-hub/parcel-hub/internal/tags"
)

// Kind 标识变更类型。
type Kind string

const (
	KindCancel          Kind = "cancel"
	KindConfirmDelivery Kind = "confirm-delivery"
)

// Outcome 是变更的最终状态。
type Outcome string

const (
	OutcomePending    Outcome = "pending"
	OutcomeCommitted  Outcome = "committed"
	OutcomeRolledBack Outcome = "rolledBack"
)

// API 是变更请求的上游接口。
type API interface {
	Cancel(ctx context.Context, id, reason string) error
	ConfirmDelivery(ctx context.Context, id string) error
}

// RejectedError 表示服务端拒绝了变更，Error 原样返回服务端消息。
type RejectedError struct {
	Kind     Kind
	ParcelID string
	Status   int
	Message  string
	Err      error
}

func (e *RejectedError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s %s rejected", e.Kind, e.ParcelID)
}

func (e *RejectedError) Unwrap() error { return e.Err }

// Pending 是一次进行中的变更，仅存活于一次请求往返。
type Pending struct {
	ID       string
	Kind     Kind
	TargetID string
	Outcome  Outcome
	Patch    *Patch
}

// Coordinator 串联乐观更新、请求与回滚。
type Coordinator struct {
	cache  Cache
	api    API
	logger *logrus.Logger
	// observe 在变更结束后被调用，测试用。
	observe func(Pending)
}

// New 构造协调器。
func New(cache Cache, api API, logger *logrus.Logger) *Coordinator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Coordinator{cache: cache, api: api, logger: logger}
}

// CancelParcel 取消寄件：先从发件人列表中移除，请求失败时恢复。
func (c *Coordinator) CancelParcel(ctx context.Context, id, reason string) error {
	pm := &Pending{
		ID:       uuid.NewString(),
		Kind:     KindCancel,
		TargetID: id,
		Patch:    removeParcel(id),
	}
	return c.execute(ctx, pm, tags.RoleSender, func(ctx context.Context) error {
		return c.api.Cancel(ctx, id, reason)
	})
}

// ConfirmDelivery 收件人确认送达：先将状态改为已送达，请求失败时恢复。
func (c *Coordinator) ConfirmDelivery(ctx context.Context, id string) error {
	pm := &Pending{
		ID:       uuid.NewString(),
		Kind:     KindConfirmDelivery,
		TargetID: id,
		Patch:    setStatus(id, parcel.StatusDelivered),
	}
	return c.execute(ctx, pm, tags.RoleReceiver, func(ctx context.Context) error {
		return c.api.ConfirmDelivery(ctx, id)
	})
}

func (c *Coordinator) execute(ctx context.Context, pm *Pending, role string, request func(context.Context) error) error {
	entry := c.logger.WithFields(logging.MutationFields(pm.ID, string(pm.Kind), pm.TargetID))
	pm.Outcome = OutcomePending
	started := time.Now()

	patched := pm.Patch.Apply(c.cache)
	entry.WithField("patched_entries", patched).Debug("mutation_optimistic_applied")

	err := request(ctx)
	elapsed := time.Since(started).Milliseconds()
	if err != nil {
		restored := pm.Patch.Revert(c.cache)
		pm.Outcome = OutcomeRolledBack
		entry.WithFields(logrus.Fields{
			"restored_entries": restored,
			"elapsed_ms":       elapsed,
		}).WithError(err).Warn("mutation_rolled_back")
		c.settled(*pm)
		return c.classify(pm, err)
	}

	pm.Patch.Commit(c.cache)
	pm.Outcome = OutcomeCommitted
	invalidated := c.cache.Invalidate([]tags.Tag{
		tags.ParcelTag(pm.TargetID),
		tags.ListTag(role),
		tags.DashboardTag(role),
		tags.StatsTag(role),
	})
	entry.WithFields(logrus.Fields{
		"invalidated_entries": invalidated,
		"elapsed_ms":          elapsed,
	}).Info("mutation_committed")
	c.settled(*pm)
	return nil
}

func (c *Coordinator) settled(pm Pending) {
	if c.observe != nil {
		c.observe(pm)
	}
}

// classify 将服务端拒绝包装为 RejectedError，其余错误附带上下文返回。
func (c *Coordinator) classify(pm *Pending, err error) error {
	var apiErr *origin.APIError
	if errors.As(err, &apiErr) {
		return &RejectedError{
			Kind:     pm.Kind,
			ParcelID: pm.TargetID,
			Status:   apiErr.Status,
			Message:  apiErr.Error(),
			Err:      err,
		}
	}
	return fmt.Errorf("%s parcel %s: %w", pm.Kind, pm.TargetID, err)
}

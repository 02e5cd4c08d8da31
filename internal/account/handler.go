// Package account tracks which game account each device uses and records
// the account lifecycle events raised by the receiver and the automatons.
package account

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/devicefleet/mitmcore/internal/domain"
	"github.com/devicefleet/mitmcore/internal/store"
)

// Handler is the account collaborator backed by SQLite. Safe for concurrent use.
type Handler struct {
	DB       *sql.DB
	Accounts *store.AccountRepo
	Devices  *store.DeviceRepo
	Audit    *store.AuditRepo
	Logger   *zap.Logger

	now func() time.Time
}

// NewHandler creates a Handler with all repos wired.
func NewHandler(db *sql.DB, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		DB:       db,
		Accounts: &store.AccountRepo{},
		Devices:  &store.DeviceRepo{},
		Audit:    &store.AuditRepo{},
		Logger:   logger,
		now:      time.Now,
	}
}

// DeviceByOrigin looks up a registered device.
func (h *Handler) DeviceByOrigin(ctx context.Context, origin string) (*domain.Device, error) {
	return h.Devices.GetByOrigin(ctx, h.DB, origin)
}

// GetAssignedUsername returns the username assigned to a device.
// ok is false when the device has no account.
func (h *Handler) GetAssignedUsername(ctx context.Context, deviceID int64) (string, bool, error) {
	if deviceID <= 0 {
		return "", false, nil
	}
	acc, err := h.Accounts.GetAssigned(ctx, h.DB, deviceID)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return acc.Username, acc.Username != "", nil
}

// SetLastSoftbanAction records where and when the device's account last spun a stop.
func (h *Handler) SetLastSoftbanAction(ctx context.Context, deviceID int64, loc domain.Location, at time.Time) error {
	if deviceID <= 0 {
		return domain.ErrNoAccountAssigned
	}
	return h.Accounts.SetSoftban(ctx, h.DB, deviceID, loc, at.Unix())
}

// MarkBurnt flags the device's account as unusable for the given reason.
func (h *Handler) MarkBurnt(ctx context.Context, deviceID int64, reason domain.BurnType) error {
	if deviceID <= 0 {
		return domain.ErrNoAccountAssigned
	}
	now := h.now()
	if err := h.Accounts.MarkBurnt(ctx, h.DB, deviceID, reason, now.Unix()); err != nil {
		return fmt.Errorf("mark burnt: %w", err)
	}
	h.Logger.Warn("Account marked burnt", zap.Int64("device_id", deviceID), zap.String("reason", string(reason)))
	h.record(ctx, deviceID, "burn", "warning", map[string]string{"reason": string(reason)}, now)
	return nil
}

// NotifyLogout releases the device's account.
func (h *Handler) NotifyLogout(ctx context.Context, deviceID int64) error {
	if deviceID <= 0 {
		return nil
	}
	now := h.now()
	if err := h.Accounts.Release(ctx, h.DB, deviceID, now.Unix()); err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return nil
		}
		return fmt.Errorf("notify logout: %w", err)
	}
	h.record(ctx, deviceID, "logout", "info", nil, now)
	return nil
}

// FetchAuthDetails makes sure the worker state carries a current account,
// assigning a free one when the device has none.
func (h *Handler) FetchAuthDetails(ctx context.Context, state *domain.WorkerState) error {
	if state.DeviceID <= 0 {
		state.ActiveAccount = nil
		return domain.ErrNoAccountAssigned
	}
	acc, err := h.Accounts.GetAssigned(ctx, h.DB, state.DeviceID)
	if errors.Is(err, domain.ErrAccountNotFound) {
		acc, err = h.Accounts.AssignFree(ctx, h.DB, state.DeviceID)
		if err == nil {
			h.record(ctx, state.DeviceID, "assign", "info", map[string]string{"username": acc.Username}, h.now())
		}
	}
	if err != nil {
		state.ActiveAccount = nil
		return fmt.Errorf("fetch auth details: %w", err)
	}
	state.ActiveAccount = acc
	return nil
}

func (h *Handler) record(ctx context.Context, deviceID int64, action, severity string, detail map[string]string, at time.Time) {
	origin := ""
	if dev, err := h.Devices.GetByID(ctx, h.DB, deviceID); err == nil {
		origin = dev.Origin
	}
	detailJSON := "{}"
	if detail != nil {
		if b, err := json.Marshal(detail); err == nil {
			detailJSON = string(b)
		}
	}
	err := h.Audit.Record(ctx, h.DB, store.AuditRecord{
		ID:         uuid.NewString(),
		Origin:     origin,
		Category:   "account",
		Actor:      "system",
		Action:     action,
		DetailJSON: detailJSON,
		Severity:   severity,
		CreatedAt:  at.Unix(),
	})
	if err != nil {
		h.Logger.Warn("Failed to record audit", zap.String("action", action), zap.Int64("device_id", deviceID), zap.Error(err))
	}
}

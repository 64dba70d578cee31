package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/fleetgazer/internal/engine"
	"github.com/langchou/fleetgazer/internal/models"
	"github.com/langchou/fleetgazer/internal/state"
)

// movingSpeedThreshold 在场状态机判定行驶中的速度下限 (km/h)
const movingSpeedThreshold = 1.0

// applyVehicleEvent 应用一条车辆事件（事件循环内）
func (e *Engine) applyVehicleEvent(ev *models.VehicleEvent) {
	updated, changed, err := e.store.ApplyEvent(ev)
	if err != nil {
		e.logger.Warn("Malformed vehicle event dropped",
			zap.String("kind", string(ev.Kind)),
			zap.Error(err))
		return
	}
	if !changed {
		return
	}

	e.dirty = true
	e.hub.BroadcastStateUpdate(updated)
	e.firePresence(ev)

	if e.history != nil && ev.Location != nil && updated.Location != nil &&
		*updated.Location == *ev.Location {
		e.appendHistory(updated, ev.Timestamp)
	}
}

// firePresence 把事件翻译成在场状态机事件
func (e *Engine) firePresence(ev *models.VehicleEvent) {
	machine := e.presence.GetOrCreate(ev.VehicleID)

	event := state.EventStop
	switch {
	case ev.Kind == models.KindOffline:
		event = state.EventOffline
	case ev.Speed != nil && *ev.Speed >= movingSpeedThreshold:
		event = state.EventMove
	}

	if err := machine.Fire(e.ctx, event); err != nil {
		e.logger.Warn("Presence transition failed",
			zap.String("vehicle_id", ev.VehicleID),
			zap.String("event", event),
			zap.Error(err))
	}
}

// appendHistory 异步落一条轨迹点，失败只记日志
func (e *Engine) appendHistory(s *models.VehicleState, timestampMillis int64) {
	point := &models.HistoryPoint{
		VehicleID:   s.VehicleID,
		Latitude:    s.Location.Lat,
		Longitude:   s.Location.Lng,
		Speed:       s.Speed,
		Temperature: s.Temperature,
		Fuel:        s.Fuel,
		RecordedAt:  time.UnixMilli(timestampMillis),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.history.Append(ctx, point); err != nil {
			e.logger.Warn("Failed to append history point",
				zap.String("vehicle_id", point.VehicleID),
				zap.Error(err))
		}
	}()
}

// applyAlert 应用一条上游告警（事件循环内）
func (e *Engine) applyAlert(alert *models.Alert) {
	if !e.ledger.ApplyAlert(alert) {
		return
	}
	e.logger.Info("Alert received",
		zap.String("alert_id", alert.ID),
		zap.String("vehicle_id", alert.VehicleID),
		zap.String("type", alert.Type),
		zap.String("level", alert.Level))
	e.hub.BroadcastAlert(alert)
}

// applyAcknowledgment 应用上游确认回执（事件循环内）
func (e *Engine) applyAcknowledgment(ack *models.Acknowledgment) {
	changed, err := e.ledger.ApplyAcknowledgment(ack)
	if err != nil {
		// 未知告警的回执只记日志，不是错误
		e.logger.Debug("Acknowledgment for unknown alert",
			zap.String("alert_id", ack.AlertID))
		return
	}
	if changed {
		if alert, ok := e.ledger.Get(ack.AlertID); ok {
			e.hub.BroadcastAlertAck(alert)
		}
	}
}

// Acknowledge 操作员确认告警
// 本地乐观置位 -> 上游提交 -> 权威回执合并；提交失败回滚本地状态。
// 在途期间到达的流回执与本流程互为幂等，收敛到同一终态
func (e *Engine) Acknowledge(ctx context.Context, alertID, by, note string) (*models.Alert, error) {
	optimistic, err := e.ledger.BeginAcknowledge(alertID, by, note, time.Now().UnixMilli())
	if err != nil {
		return nil, err
	}

	canonical, err := e.client.AcknowledgeAlert(ctx, alertID, by, note)
	if err != nil {
		if e.ledger.RollbackAcknowledge(alertID) {
			e.logger.Warn("Acknowledge rolled back",
				zap.String("alert_id", alertID),
				zap.Error(err))
		}
		return nil, fmt.Errorf("%w: %v", engine.ErrAckRejected, err)
	}

	changed, err := e.ledger.ApplyAcknowledgment(&models.Acknowledgment{
		AlertID:            canonical.ID,
		Acknowledged:       canonical.Acknowledged,
		AcknowledgedBy:     canonical.AcknowledgedBy,
		AcknowledgmentNote: canonical.AcknowledgmentNote,
		AcknowledgedAt:     canonical.AcknowledgedAt,
	})
	if err != nil && !errors.Is(err, engine.ErrAlertNotFound) {
		return nil, err
	}
	if changed {
		if alert, ok := e.ledger.Get(alertID); ok {
			e.hub.BroadcastAlertAck(alert)
		}
	}

	if alert, ok := e.ledger.Get(alertID); ok {
		return alert, nil
	}
	return optimistic, nil
}

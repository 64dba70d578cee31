package upstream

import (
	"encoding/json"
	"fmt"

	"github.com/langchou/fleetgazer/internal/models"
)

// 上游事件名集合
// 上游用多个历史事件名推送重叠的字段集，这里是唯一认识这些名字的地方，
// 归一化之后引擎只处理带标签的统一事件
const (
	eventTelemetry      = "vehicle:telemetry"
	eventLocation       = "vehicle:location"
	eventFullUpdate     = "vehicle_update"
	eventOffline        = "vehicle_offline"
	eventAlert          = "vehicle:alert"
	eventAlertTriggered = "alert_triggered"
	eventAlertAck       = "alert:acknowledged"
	eventZoneChanged    = "geofence:updated"
)

// envelope 上游消息信封
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type telemetryPayload struct {
	VehicleID   string   `json:"vehicleId"`
	Speed       *float64 `json:"speed"`
	Temperature *float64 `json:"temperature"`
	Fuel        *float64 `json:"fuel"`
	Timestamp   int64    `json:"timestamp"`
}

type locationPayload struct {
	VehicleID string   `json:"vehicleId"`
	Lat       *float64 `json:"lat"`
	Lng       *float64 `json:"lng"`
	Timestamp int64    `json:"timestamp"`
}

type fullUpdatePayload struct {
	VehicleID   string         `json:"vehicleId"`
	Location    *models.LatLng `json:"location"`
	Speed       *float64       `json:"speed"`
	Temperature *float64       `json:"temperature"`
	Fuel        *float64       `json:"fuel"`
	Timestamp   int64          `json:"timestamp"`
}

type offlinePayload struct {
	VehicleID string `json:"vehicleId"`
}

// Handlers 归一化后事件的回调集合，未设置的回调对应事件被丢弃
type Handlers struct {
	OnVehicleEvent   func(*models.VehicleEvent)
	OnAlert          func(*models.Alert)
	OnAcknowledgment func(*models.Acknowledgment)
	OnZoneChanged    func()
}

// decodeVehicleEvent 把一条上游车辆消息归一化为统一事件
// 缺少时间戳的事件以接收时刻补齐（nowMillis）
func decodeVehicleEvent(event string, data []byte, nowMillis int64) (*models.VehicleEvent, error) {
	switch event {
	case eventTelemetry:
		var p telemetryPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode telemetry: %w", err)
		}
		return &models.VehicleEvent{
			Kind:        models.KindTelemetry,
			VehicleID:   p.VehicleID,
			Speed:       p.Speed,
			Temperature: p.Temperature,
			Fuel:        p.Fuel,
			Timestamp:   orNow(p.Timestamp, nowMillis),
		}, nil

	case eventLocation:
		var p locationPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode location: %w", err)
		}
		ev := &models.VehicleEvent{
			Kind:      models.KindLocation,
			VehicleID: p.VehicleID,
			Timestamp: orNow(p.Timestamp, nowMillis),
		}
		if p.Lat != nil && p.Lng != nil {
			ev.Location = &models.LatLng{Lat: *p.Lat, Lng: *p.Lng}
		} else {
			return nil, fmt.Errorf("location event missing coordinates")
		}
		return ev, nil

	case eventFullUpdate:
		var p fullUpdatePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode full update: %w", err)
		}
		// 组合事件不带字段级时间戳，信封时间戳适用于全部携带字段
		return &models.VehicleEvent{
			Kind:        models.KindFull,
			VehicleID:   p.VehicleID,
			Location:    p.Location,
			Speed:       p.Speed,
			Temperature: p.Temperature,
			Fuel:        p.Fuel,
			Timestamp:   orNow(p.Timestamp, nowMillis),
		}, nil

	case eventOffline:
		var p offlinePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode offline: %w", err)
		}
		return &models.VehicleEvent{
			Kind:      models.KindOffline,
			VehicleID: p.VehicleID,
		}, nil
	}

	return nil, fmt.Errorf("unknown vehicle event %q", event)
}

func orNow(ts, nowMillis int64) int64 {
	if ts > 0 {
		return ts
	}
	return nowMillis
}

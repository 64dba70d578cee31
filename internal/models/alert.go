package models

import "strings"

// 告警级别
const (
	LevelHigh   = "high"
	LevelMedium = "medium"
	LevelLow    = "low"
)

// 告警类型
const (
	AlertOverspeed       = "overspeed"
	AlertLowFuel         = "low_fuel"
	AlertHighTemperature = "high_temperature"
	AlertGeofenceEntry   = "geofence_entry"
	AlertGeofenceExit    = "geofence_exit"
	AlertCrash           = "crash"
	AlertOffline         = "offline"
)

// 告警分类（由 type 推导，用于告警列表过滤）
const (
	CategoryGeofence = "geofence"
	CategoryHealth   = "health"
	CategorySafety   = "safety"
	CategoryOther    = "other"
)

// Alert 告警记录
type Alert struct {
	ID        string `json:"_id"`
	VehicleID string `json:"vehicleId"`
	Type      string `json:"type"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	CreatedAt int64  `json:"createdAt"` // unix 毫秒

	// 确认子状态：Acknowledged 一旦为 true 即单调，不会被回退
	Acknowledged       bool   `json:"acknowledged"`
	AcknowledgedBy     string `json:"acknowledgedBy,omitempty"`
	AcknowledgmentNote string `json:"acknowledgmentNote,omitempty"`
	AcknowledgedAt     int64  `json:"acknowledgedAt,omitempty"`
}

// CategoryOf 告警类型到分类的固定映射
// geofence 系列按前缀匹配，后端可能推送 geofence_entry/geofence_exit 等变体
func CategoryOf(alertType string) string {
	if strings.Contains(alertType, "geofence") {
		return CategoryGeofence
	}
	switch alertType {
	case AlertHighTemperature, AlertLowFuel:
		return CategoryHealth
	case AlertOverspeed, AlertCrash:
		return CategorySafety
	default:
		return CategoryOther
	}
}

package models

// EventKind 统一后的车辆增量事件类型
// 上游用多个事件名（vehicle:telemetry / vehicle:location / vehicle_update）
// 推送重叠字段集，传输层在入口处把它们归一化为带标签的统一补丁，
// 核心合并逻辑只有一条代码路径
type EventKind string

const (
	KindTelemetry EventKind = "telemetry" // 速度/油量/温度补丁
	KindLocation  EventKind = "location"  // 位置补丁
	KindFull      EventKind = "full"      // 组合补丁（位置+遥测）
	KindOffline   EventKind = "offline"   // 离线通知
)

// VehicleEvent 单车辆的部分更新
// 为 nil 的字段表示本次事件未携带该字段，合并时必须保留旧值
type VehicleEvent struct {
	Kind        EventKind
	VehicleID   string
	Location    *LatLng
	Speed       *float64
	Temperature *float64
	Fuel        *float64
	Timestamp   int64 // unix 毫秒
}

// Acknowledgment 告警确认事件/请求载荷
type Acknowledgment struct {
	AlertID            string `json:"_id"`
	Acknowledged       bool   `json:"acknowledged"`
	AcknowledgedBy     string `json:"acknowledgedBy"`
	AcknowledgmentNote string `json:"acknowledgmentNote,omitempty"`
	AcknowledgedAt     int64  `json:"acknowledgedAt"`
}

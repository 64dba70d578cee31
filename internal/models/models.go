package models

import "time"

// LatLng 经纬度坐标 (WGS84)
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// VehicleRecord 车辆注册信息（来自上游注册表）
type VehicleRecord struct {
	VehicleID string `json:"vehicleId"`
	Name      string `json:"name,omitempty"`
	Model     string `json:"model,omitempty"`
	PlateNo   string `json:"plateNo,omitempty"`
}

// TelemetryRecord 快照中的一行遥测数据
// 数值字段在首次遥测到达前未知，用指针表示缺失
type TelemetryRecord struct {
	VehicleID   string   `json:"vehicleId"`
	Location    *LatLng  `json:"location,omitempty"`
	Speed       *float64 `json:"speed,omitempty"`       // km/h
	Temperature *float64 `json:"temperature,omitempty"` // °C
	Fuel        *float64 `json:"fuel,omitempty"`        // %
	Timestamp   int64    `json:"timestamp"`             // unix 毫秒
}

// VehicleState 车辆当前规范状态
// LastUpdated 为所有已应用字段更新的最大时间戳
type VehicleState struct {
	VehicleID   string   `json:"vehicleId"`
	Name        string   `json:"name,omitempty"`
	Location    *LatLng  `json:"location,omitempty"`
	Speed       *float64 `json:"speed,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Fuel        *float64 `json:"fuel,omitempty"`
	Online      bool     `json:"online"`
	LastUpdated int64    `json:"lastUpdated"`
}

// Clone 返回状态副本（指针字段深拷贝，避免调用方修改内部状态）
func (s *VehicleState) Clone() *VehicleState {
	c := *s
	if s.Location != nil {
		loc := *s.Location
		c.Location = &loc
	}
	if s.Speed != nil {
		v := *s.Speed
		c.Speed = &v
	}
	if s.Temperature != nil {
		v := *s.Temperature
		c.Temperature = &v
	}
	if s.Fuel != nil {
		v := *s.Fuel
		c.Fuel = &v
	}
	return &c
}

// HistoryPoint 历史轨迹点（已接受的带位置更新的落库记录）
type HistoryPoint struct {
	ID          int64     `json:"id" db:"id"`
	VehicleID   string    `json:"vehicleId" db:"vehicle_id"`
	Latitude    float64   `json:"lat" db:"latitude"`
	Longitude   float64   `json:"lng" db:"longitude"`
	Speed       *float64  `json:"speed,omitempty" db:"speed"`
	Temperature *float64  `json:"temperature,omitempty" db:"temperature"`
	Fuel        *float64  `json:"fuel,omitempty" db:"fuel"`
	RecordedAt  time.Time `json:"recordedAt" db:"recorded_at"`
}

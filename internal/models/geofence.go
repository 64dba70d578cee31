package models

// 地理围栏类型，目前仅支持 circle
const (
	ZoneTypeCircle = "circle"
)

// Geofence 地理围栏区域定义
type Geofence struct {
	ID           string  `json:"_id"`
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	Center       LatLng  `json:"center"`
	Radius       float64 `json:"radius"` // 米
	Color        string  `json:"color"`
	Active       bool    `json:"active"`
	AlertOnEntry bool    `json:"alertOnEntry"`
	AlertOnExit  bool    `json:"alertOnExit"`
	Description  string  `json:"description,omitempty"`
}

// GeometryEquals 判断两个围栏的渲染几何是否一致
// center/radius/color 任一变化都需要重建几何
func (g *Geofence) GeometryEquals(other *Geofence) bool {
	return g.Center == other.Center &&
		g.Radius == other.Radius &&
		g.Color == other.Color
}

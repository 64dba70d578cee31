package geometry

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/langchou/fleetgazer/internal/models"
)

// DefaultSegments 圆环近似的默认分段数
const DefaultSegments = 64

// CircleRing 以等距圆柱近似生成圆形围栏的闭合环
// 每公里纬度按 111km 换算，经度按 111km*cos(lat) 随纬度收缩，
// 返回 segments+1 个点，首尾重合以构成闭合多边形
func CircleRing(center models.LatLng, radiusMeters float64, segments int) orb.Ring {
	if segments <= 0 {
		segments = DefaultSegments
	}

	radiusKm := radiusMeters / 1000.0
	latRad := center.Lat * math.Pi / 180.0

	// 每度经纬度对应的公里数
	kmPerDegLat := 111.0
	kmPerDegLng := 111.0 * math.Cos(latRad)

	ring := make(orb.Ring, 0, segments+1)
	for i := 0; i < segments; i++ {
		theta := float64(i) / float64(segments) * 2 * math.Pi
		dLat := radiusKm / kmPerDegLat * math.Cos(theta)
		dLng := radiusKm / kmPerDegLng * math.Sin(theta)
		ring = append(ring, orb.Point{center.Lng + dLng, center.Lat + dLat})
	}
	// 闭合点直接复用首点，sin(2π) 的浮点残差会让重新计算的终点偏离首点
	ring = append(ring, ring[0])

	return ring
}

// BuildZoneGeometry 为围栏生成渲染用的 GeoJSON Feature
// 仅支持 circle 类型，其他类型返回 nil 由调用方跳过
func BuildZoneGeometry(zone *models.Geofence, segments int) *geojson.Feature {
	if zone.Type != models.ZoneTypeCircle {
		return nil
	}

	ring := CircleRing(zone.Center, zone.Radius, segments)
	feature := geojson.NewFeature(orb.Polygon{ring})
	feature.ID = zone.ID
	feature.Properties = geojson.Properties{
		"zoneId": zone.ID,
		"name":   zone.Name,
		"color":  zone.Color,
	}

	return feature
}

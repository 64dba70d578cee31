package overlay

import (
	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"

	"github.com/langchou/fleetgazer/internal/geometry"
	"github.com/langchou/fleetgazer/internal/models"
)

// MarkerHandle 地图上单个车辆标记的句柄
type MarkerHandle interface {
	SetPosition(lng, lat float64)
	SetLabel(label string)
	SetOnline(online bool)
	Remove()
}

// Map 覆盖层渲染目标
// 生产实现把调用转译为下发给前端的渲染指令，测试用记录桩
type Map interface {
	AddMarker(vehicleID string, lng, lat float64, label string, online bool) MarkerHandle

	// 围栏按 source + layers 两级管理：
	// 添加时先 source 后 layers，移除时先 layers 后 source
	AddZoneSource(zoneID string, feature *geojson.Feature)
	AddZoneLayers(zoneID, color string)
	RemoveZoneLayers(zoneID string)
	RemoveZoneSource(zoneID string)
}

type renderedMarker struct {
	handle MarkerHandle
	lng    float64
	lat    float64
	label  string
	online bool
}

// Reconciler 把车辆状态与围栏列表对账到地图覆盖层
// 只对差异部分下发指令，输入不变时重复调用零开销（幂等）
type Reconciler struct {
	m        Map
	markers  map[string]*renderedMarker
	zones    map[string]*models.Geofence
	segments int
	logger   *zap.Logger
}

func NewReconciler(m Map, segments int, logger *zap.Logger) *Reconciler {
	if segments <= 0 {
		segments = geometry.DefaultSegments
	}
	return &Reconciler{
		m:        m,
		markers:  make(map[string]*renderedMarker),
		zones:    make(map[string]*models.Geofence),
		segments: segments,
		logger:   logger,
	}
}

// Reconcile 对账一轮：期望态为入参，已渲染态为内部记录
func (r *Reconciler) Reconcile(states []*models.VehicleState, zones []*models.Geofence) {
	r.reconcileMarkers(states)
	r.reconcileZones(zones)
}

// Reset 清空已渲染记录，下一轮对账全量重建（地图重新初始化后调用）
func (r *Reconciler) Reset() {
	r.markers = make(map[string]*renderedMarker)
	r.zones = make(map[string]*models.Geofence)
}

func (r *Reconciler) reconcileMarkers(states []*models.VehicleState) {
	desired := make(map[string]struct{}, len(states))

	for _, s := range states {
		if s.Location == nil {
			// 没有位置的车辆不上图
			continue
		}
		desired[s.VehicleID] = struct{}{}

		label := MarkerLabel(s)
		rm, ok := r.markers[s.VehicleID]
		if !ok {
			handle := r.m.AddMarker(s.VehicleID, s.Location.Lng, s.Location.Lat, label, s.Online)
			r.markers[s.VehicleID] = &renderedMarker{
				handle: handle,
				lng:    s.Location.Lng,
				lat:    s.Location.Lat,
				label:  label,
				online: s.Online,
			}
			continue
		}

		if rm.lng != s.Location.Lng || rm.lat != s.Location.Lat {
			rm.handle.SetPosition(s.Location.Lng, s.Location.Lat)
			rm.lng = s.Location.Lng
			rm.lat = s.Location.Lat
		}
		if rm.label != label {
			rm.handle.SetLabel(label)
			rm.label = label
		}
		if rm.online != s.Online {
			rm.handle.SetOnline(s.Online)
			rm.online = s.Online
		}
	}

	for id, rm := range r.markers {
		if _, ok := desired[id]; !ok {
			rm.handle.Remove()
			delete(r.markers, id)
		}
	}
}

func (r *Reconciler) reconcileZones(zones []*models.Geofence) {
	desired := make(map[string]*models.Geofence, len(zones))
	for _, z := range zones {
		if !z.Active {
			continue
		}
		desired[z.ID] = z
	}

	// 先撤掉不再需要的围栏，layers 先于 source 移除
	for id := range r.zones {
		if _, ok := desired[id]; !ok {
			r.removeZone(id)
		}
	}

	for id, z := range desired {
		rendered, ok := r.zones[id]
		if ok && rendered.GeometryEquals(z) {
			continue
		}
		if ok {
			// 几何变化只能重建，地图层不支持原地改形
			r.removeZone(id)
		}

		feature := geometry.BuildZoneGeometry(z, r.segments)
		if feature == nil {
			r.logger.Warn("Skipping zone with unsupported type",
				zap.String("zone_id", z.ID),
				zap.String("type", z.Type))
			continue
		}

		r.m.AddZoneSource(z.ID, feature)
		r.m.AddZoneLayers(z.ID, z.Color)

		c := *z
		r.zones[id] = &c
	}
}

func (r *Reconciler) removeZone(zoneID string) {
	r.m.RemoveZoneLayers(zoneID)
	r.m.RemoveZoneSource(zoneID)
	delete(r.zones, zoneID)
}

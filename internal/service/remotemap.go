package service

import (
	"github.com/paulmach/orb/geojson"

	"github.com/langchou/fleetgazer/internal/overlay"
	"github.com/langchou/fleetgazer/pkg/ws"
)

// 覆盖层指令操作码
const (
	opAddMarker        = "add_marker"
	opMoveMarker       = "move_marker"
	opLabelMarker      = "label_marker"
	opMarkerOnline     = "marker_online"
	opRemoveMarker     = "remove_marker"
	opAddZoneSource    = "add_zone_source"
	opAddZoneLayers    = "add_zone_layers"
	opRemoveZoneLayers = "remove_zone_layers"
	opRemoveZoneSource = "remove_zone_source"
)

// overlayInstruction 下发给仪表盘客户端的单条渲染指令
type overlayInstruction struct {
	Op        string           `json:"op"`
	VehicleID string           `json:"vehicleId,omitempty"`
	ZoneID    string           `json:"zoneId,omitempty"`
	Lng       float64          `json:"lng,omitempty"`
	Lat       float64          `json:"lat,omitempty"`
	Label     string           `json:"label,omitempty"`
	Online    *bool            `json:"online,omitempty"`
	Color     string           `json:"color,omitempty"`
	Feature   *geojson.Feature `json:"feature,omitempty"`
}

// RemoteMap 把覆盖层对账结果转译为 WebSocket 渲染指令
// 仪表盘客户端按指令维护自己的地图原语，服务端保持唯一事实
type RemoteMap struct {
	hub *ws.Hub
}

func NewRemoteMap(hub *ws.Hub) *RemoteMap {
	return &RemoteMap{hub: hub}
}

type remoteMarker struct {
	m         *RemoteMap
	vehicleID string
}

func (m *RemoteMap) AddMarker(vehicleID string, lng, lat float64, label string, online bool) overlay.MarkerHandle {
	m.hub.BroadcastOverlay(&overlayInstruction{
		Op:        opAddMarker,
		VehicleID: vehicleID,
		Lng:       lng,
		Lat:       lat,
		Label:     label,
		Online:    &online,
	})
	return &remoteMarker{m: m, vehicleID: vehicleID}
}

func (m *RemoteMap) AddZoneSource(zoneID string, feature *geojson.Feature) {
	m.hub.BroadcastOverlay(&overlayInstruction{
		Op:      opAddZoneSource,
		ZoneID:  zoneID,
		Feature: feature,
	})
}

func (m *RemoteMap) AddZoneLayers(zoneID, color string) {
	m.hub.BroadcastOverlay(&overlayInstruction{
		Op:     opAddZoneLayers,
		ZoneID: zoneID,
		Color:  color,
	})
}

func (m *RemoteMap) RemoveZoneLayers(zoneID string) {
	m.hub.BroadcastOverlay(&overlayInstruction{
		Op:     opRemoveZoneLayers,
		ZoneID: zoneID,
	})
}

func (m *RemoteMap) RemoveZoneSource(zoneID string) {
	m.hub.BroadcastOverlay(&overlayInstruction{
		Op:     opRemoveZoneSource,
		ZoneID: zoneID,
	})
}

func (h *remoteMarker) SetPosition(lng, lat float64) {
	h.m.hub.BroadcastOverlay(&overlayInstruction{
		Op:        opMoveMarker,
		VehicleID: h.vehicleID,
		Lng:       lng,
		Lat:       lat,
	})
}

func (h *remoteMarker) SetLabel(label string) {
	h.m.hub.BroadcastOverlay(&overlayInstruction{
		Op:        opLabelMarker,
		VehicleID: h.vehicleID,
		Label:     label,
	})
}

func (h *remoteMarker) SetOnline(online bool) {
	h.m.hub.BroadcastOverlay(&overlayInstruction{
		Op:        opMarkerOnline,
		VehicleID: h.vehicleID,
		Online:    &online,
	})
}

func (h *remoteMarker) Remove() {
	h.m.hub.BroadcastOverlay(&overlayInstruction{
		Op:        opRemoveMarker,
		VehicleID: h.vehicleID,
	})
}

package engine

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/langchou/fleetgazer/internal/models"
)

// ErrMissingVehicleID 事件缺少 vehicleId，无法归属
var ErrMissingVehicleID = errors.New("event missing vehicle id")

// fieldStamps 各字段最近一次被接受更新的时间戳（unix 毫秒）
// 字段级时间戳是乱序容忍的关键：同一事件里过期字段被丢弃，
// 新字段照常应用，互不影响
type fieldStamps struct {
	location    int64
	speed       int64
	temperature int64
	fuel        int64
}

type vehicleEntry struct {
	state  *models.VehicleState
	stamps fieldStamps
}

// Store 车辆状态存储
// 所有写入走单写者事件循环，读侧通过 RWMutex 并发安全
type Store struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]*vehicleEntry
	logger  *zap.Logger
}

func NewStore(logger *zap.Logger) *Store {
	return &Store{
		entries: make(map[string]*vehicleEntry),
		logger:  logger,
	}
}

// LoadSnapshot 用上游快照重建存储：注册表为主表左连接遥测表，
// 没有遥测的车辆也要出现（字段缺失），没有注册记录的遥测行丢弃
func (s *Store) LoadSnapshot(vehicles []models.VehicleRecord, telemetry []models.TelemetryRecord) {
	byVehicle := make(map[string]*models.TelemetryRecord, len(telemetry))
	for i := range telemetry {
		byVehicle[telemetry[i].VehicleID] = &telemetry[i]
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.order = s.order[:0]
	s.entries = make(map[string]*vehicleEntry, len(vehicles))

	for _, v := range vehicles {
		// 在线默认为 true，只有显式离线信号才置 false
		entry := &vehicleEntry{
			state: &models.VehicleState{
				VehicleID: v.VehicleID,
				Name:      v.Name,
				Online:    true,
			},
		}
		if t, ok := byVehicle[v.VehicleID]; ok {
			// 时间戳只记在快照实际携带的字段上，
			// 缺失字段保持零戳，后续任意时间戳的首个值都能落地
			if t.Location != nil {
				entry.state.Location = cloneLatLng(t.Location)
				entry.stamps.location = t.Timestamp
			}
			if t.Speed != nil {
				entry.state.Speed = cloneFloat(t.Speed)
				entry.stamps.speed = t.Timestamp
			}
			if t.Temperature != nil {
				entry.state.Temperature = cloneFloat(t.Temperature)
				entry.stamps.temperature = t.Timestamp
			}
			if t.Fuel != nil {
				entry.state.Fuel = cloneFloat(t.Fuel)
				entry.stamps.fuel = t.Timestamp
			}
			entry.state.LastUpdated = t.Timestamp
			delete(byVehicle, v.VehicleID)
		}
		s.order = append(s.order, v.VehicleID)
		s.entries[v.VehicleID] = entry
	}

	for id := range byVehicle {
		s.logger.Debug("Dropping telemetry for unregistered vehicle", zap.String("vehicle_id", id))
	}
}

// ApplyEvent 对单车辆应用部分更新，返回更新后的状态副本和是否有变化
// 每个携带字段独立比较时间戳：ts >= 字段现有时间戳才应用，
// 整个事件过期时仍会刷新在线标记（收到事件即说明车辆活着）
func (s *Store) ApplyEvent(ev *models.VehicleEvent) (*models.VehicleState, bool, error) {
	if ev.VehicleID == "" {
		return nil, false, ErrMissingVehicleID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.Kind == models.KindOffline {
		entry, ok := s.entries[ev.VehicleID]
		if !ok {
			s.logger.Debug("Offline event for unknown vehicle", zap.String("vehicle_id", ev.VehicleID))
			return nil, false, nil
		}
		changed := entry.state.Online
		entry.state.Online = false
		return entry.state.Clone(), changed, nil
	}

	entry, ok := s.entries[ev.VehicleID]
	if !ok {
		// 快照之后注册的新车辆，首个事件即登记
		entry = &vehicleEntry{state: &models.VehicleState{VehicleID: ev.VehicleID, Online: true}}
		s.order = append(s.order, ev.VehicleID)
		s.entries[ev.VehicleID] = entry
	}

	changed := false
	ts := ev.Timestamp

	if ev.Location != nil {
		if ts >= entry.stamps.location {
			entry.state.Location = cloneLatLng(ev.Location)
			entry.stamps.location = ts
			changed = true
		} else {
			s.logStale(ev.VehicleID, "location", ts, entry.stamps.location)
		}
	}
	if ev.Speed != nil && s.applyField(ev.VehicleID, "speed", &entry.state.Speed, ev.Speed, &entry.stamps.speed, ts) {
		changed = true
	}
	if ev.Temperature != nil && s.applyField(ev.VehicleID, "temperature", &entry.state.Temperature, ev.Temperature, &entry.stamps.temperature, ts) {
		changed = true
	}
	if ev.Fuel != nil && s.applyField(ev.VehicleID, "fuel", &entry.state.Fuel, ev.Fuel, &entry.stamps.fuel, ts) {
		changed = true
	}

	if !entry.state.Online {
		entry.state.Online = true
		changed = true
	}
	if changed && ts > entry.state.LastUpdated {
		entry.state.LastUpdated = ts
	}

	return entry.state.Clone(), changed, nil
}

// Get 按 ID 取状态副本
func (s *Store) Get(vehicleID string) (*models.VehicleState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[vehicleID]
	if !ok {
		return nil, false
	}
	return entry.state.Clone(), true
}

// Snapshot 按插入顺序返回全部状态副本
func (s *Store) Snapshot() []*models.VehicleState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	states := make([]*models.VehicleState, 0, len(s.order))
	for _, id := range s.order {
		states = append(states, s.entries[id].state.Clone())
	}
	return states
}

// RefreshRegistry 用最新注册表对账：
// 新注册车辆补入，已注销车辆移除，名称变化同步
// 返回移除的车辆 ID，调用方据此撤掉对应地图标记
func (s *Store) RefreshRegistry(vehicles []models.VehicleRecord) (removed []string) {
	registered := make(map[string]models.VehicleRecord, len(vehicles))
	for _, v := range vehicles {
		registered[v.VehicleID] = v
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.order[:0]
	for _, id := range s.order {
		if rec, ok := registered[id]; ok {
			s.entries[id].state.Name = rec.Name
			kept = append(kept, id)
			delete(registered, id)
		} else {
			delete(s.entries, id)
			removed = append(removed, id)
		}
	}
	s.order = kept

	for _, v := range vehicles {
		if _, ok := registered[v.VehicleID]; !ok {
			continue
		}
		s.order = append(s.order, v.VehicleID)
		s.entries[v.VehicleID] = &vehicleEntry{
			state: &models.VehicleState{VehicleID: v.VehicleID, Name: v.Name, Online: true},
		}
	}

	return removed
}

func (s *Store) applyField(vehicleID, field string, dst **float64, src *float64, stamp *int64, ts int64) bool {
	if ts < *stamp {
		s.logStale(vehicleID, field, ts, *stamp)
		return false
	}
	v := *src
	*dst = &v
	*stamp = ts
	return true
}

func (s *Store) logStale(vehicleID, field string, eventTS, fieldTS int64) {
	s.logger.Debug("Stale field dropped",
		zap.String("vehicle_id", vehicleID),
		zap.String("field", field),
		zap.Int64("event_ts", eventTS),
		zap.Int64("field_ts", fieldTS))
}

func cloneLatLng(p *models.LatLng) *models.LatLng {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

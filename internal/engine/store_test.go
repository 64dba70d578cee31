package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/langchou/fleetgazer/internal/models"
)

func f64(v float64) *float64 { return &v }

func newTestStore() *Store {
	return NewStore(zap.NewNop())
}

func TestLoadSnapshotLeftJoin(t *testing.T) {
	s := newTestStore()
	s.LoadSnapshot(
		[]models.VehicleRecord{
			{VehicleID: "v1", Name: "Truck 1"},
			{VehicleID: "v2", Name: "Truck 2"},
		},
		[]models.TelemetryRecord{
			{VehicleID: "v1", Location: &models.LatLng{Lat: 31, Lng: 121}, Speed: f64(42), Timestamp: 1000},
			{VehicleID: "ghost", Speed: f64(99), Timestamp: 1000},
		},
	)

	states := s.Snapshot()
	require.Len(t, states, 2)

	// 注册表顺序决定快照顺序
	assert.Equal(t, "v1", states[0].VehicleID)
	assert.Equal(t, "v2", states[1].VehicleID)

	// 有遥测的车辆字段齐全
	assert.True(t, states[0].Online)
	assert.Equal(t, 42.0, *states[0].Speed)
	assert.Equal(t, int64(1000), states[0].LastUpdated)

	// 无遥测的车辆也要出现，字段缺失，在线默认为 true
	assert.True(t, states[1].Online)
	assert.Nil(t, states[1].Location)
	assert.Nil(t, states[1].Speed)

	// 无注册记录的遥测行被丢弃
	_, ok := s.Get("ghost")
	assert.False(t, ok)
}

func TestApplyEventAutoRegister(t *testing.T) {
	s := newTestStore()

	state, changed, err := s.ApplyEvent(&models.VehicleEvent{
		Kind:      models.KindTelemetry,
		VehicleID: "v9",
		Speed:     f64(30),
		Timestamp: 500,
	})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "v9", state.VehicleID)
	assert.Equal(t, 30.0, *state.Speed)
	assert.True(t, state.Online)
}

func TestApplyEventPartialPatchKeepsOtherFields(t *testing.T) {
	s := newTestStore()

	_, _, err := s.ApplyEvent(&models.VehicleEvent{
		Kind: models.KindTelemetry, VehicleID: "v1",
		Speed: f64(50), Fuel: f64(80), Timestamp: 100,
	})
	require.NoError(t, err)

	state, changed, err := s.ApplyEvent(&models.VehicleEvent{
		Kind: models.KindLocation, VehicleID: "v1",
		Location: &models.LatLng{Lat: 31, Lng: 121}, Timestamp: 200,
	})
	require.NoError(t, err)
	assert.True(t, changed)

	// 位置补丁不得破坏已有遥测字段
	assert.Equal(t, 50.0, *state.Speed)
	assert.Equal(t, 80.0, *state.Fuel)
	assert.Equal(t, 31.0, state.Location.Lat)
	assert.Equal(t, int64(200), state.LastUpdated)
}

func TestApplyEventPerFieldTimestampGate(t *testing.T) {
	s := newTestStore()

	_, _, err := s.ApplyEvent(&models.VehicleEvent{
		Kind: models.KindLocation, VehicleID: "v1",
		Location: &models.LatLng{Lat: 31, Lng: 121}, Timestamp: 300,
	})
	require.NoError(t, err)

	// 乱序到达的事件：位置过期被丢弃，速度首次出现照常应用
	state, changed, err := s.ApplyEvent(&models.VehicleEvent{
		Kind: models.KindFull, VehicleID: "v1",
		Location:  &models.LatLng{Lat: 99, Lng: 99},
		Speed:     f64(60),
		Timestamp: 100,
	})
	require.NoError(t, err)
	assert.True(t, changed)

	assert.Equal(t, 31.0, state.Location.Lat)
	assert.Equal(t, 60.0, *state.Speed)
	// 过期事件不会回退 LastUpdated
	assert.Equal(t, int64(300), state.LastUpdated)
}

func TestApplyEventOlderTimestampOnUnstampedField(t *testing.T) {
	s := newTestStore()
	s.LoadSnapshot([]models.VehicleRecord{{VehicleID: "VEH-001"}}, nil)

	_, _, err := s.ApplyEvent(&models.VehicleEvent{
		Kind: models.KindTelemetry, VehicleID: "VEH-001",
		Speed: f64(48), Fuel: f64(72), Temperature: f64(36), Timestamp: 5000,
	})
	require.NoError(t, err)

	// 位置此前从未有过时间戳，更旧的事件也能为其建立首个值
	state, changed, err := s.ApplyEvent(&models.VehicleEvent{
		Kind: models.KindLocation, VehicleID: "VEH-001",
		Location: &models.LatLng{Lat: 31, Lng: 121}, Timestamp: 4000,
	})
	require.NoError(t, err)
	assert.True(t, changed)

	assert.Equal(t, 31.0, state.Location.Lat)
	assert.Equal(t, 48.0, *state.Speed)
	assert.Equal(t, 72.0, *state.Fuel)
	assert.Equal(t, 36.0, *state.Temperature)
	assert.Equal(t, int64(5000), state.LastUpdated)
}

func TestLoadSnapshotStampsOnlyCarriedFields(t *testing.T) {
	s := newTestStore()
	s.LoadSnapshot(
		[]models.VehicleRecord{{VehicleID: "v1"}},
		[]models.TelemetryRecord{{VehicleID: "v1", Speed: f64(40), Timestamp: 5000}},
	)

	// 快照只带了速度，位置字段零戳，旧事件可落地
	state, _, err := s.ApplyEvent(&models.VehicleEvent{
		Kind: models.KindLocation, VehicleID: "v1",
		Location: &models.LatLng{Lat: 31, Lng: 121}, Timestamp: 1000,
	})
	require.NoError(t, err)
	assert.NotNil(t, state.Location)

	// 已带时间戳的速度字段仍受门控
	state, _, err = s.ApplyEvent(&models.VehicleEvent{
		Kind: models.KindTelemetry, VehicleID: "v1", Speed: f64(1), Timestamp: 1000,
	})
	require.NoError(t, err)
	assert.Equal(t, 40.0, *state.Speed)
}

func TestApplyEventStaleFieldsLoggedAtDebug(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	s := NewStore(zap.New(core))

	_, _, err := s.ApplyEvent(&models.VehicleEvent{
		Kind: models.KindFull, VehicleID: "v1",
		Location:    &models.LatLng{Lat: 31, Lng: 121},
		Speed:       f64(50),
		Temperature: f64(30),
		Fuel:        f64(80),
		Timestamp:   200,
	})
	require.NoError(t, err)

	// 四个字段全部过期，每个都要在 debug 级别留痕
	_, _, err = s.ApplyEvent(&models.VehicleEvent{
		Kind: models.KindFull, VehicleID: "v1",
		Location:    &models.LatLng{Lat: 0, Lng: 0},
		Speed:       f64(1),
		Temperature: f64(1),
		Fuel:        f64(1),
		Timestamp:   100,
	})
	require.NoError(t, err)

	entries := logs.FilterMessage("Stale field dropped").All()
	require.Len(t, entries, 4)

	fields := make(map[string]bool)
	for _, entry := range entries {
		assert.Equal(t, zap.DebugLevel, entry.Level)
		fields[entry.ContextMap()["field"].(string)] = true
	}
	assert.Equal(t, map[string]bool{
		"location": true, "speed": true, "temperature": true, "fuel": true,
	}, fields)
}

func TestApplyEventEqualTimestampWins(t *testing.T) {
	s := newTestStore()

	_, _, err := s.ApplyEvent(&models.VehicleEvent{
		Kind: models.KindTelemetry, VehicleID: "v1", Speed: f64(10), Timestamp: 100,
	})
	require.NoError(t, err)

	// 相同时间戳按后到覆盖
	state, _, err := s.ApplyEvent(&models.VehicleEvent{
		Kind: models.KindTelemetry, VehicleID: "v1", Speed: f64(20), Timestamp: 100,
	})
	require.NoError(t, err)
	assert.Equal(t, 20.0, *state.Speed)
}

func TestApplyEventOffline(t *testing.T) {
	s := newTestStore()

	_, _, err := s.ApplyEvent(&models.VehicleEvent{
		Kind: models.KindTelemetry, VehicleID: "v1", Speed: f64(10), Timestamp: 100,
	})
	require.NoError(t, err)

	// 离线通知不做时间戳门控
	state, changed, err := s.ApplyEvent(&models.VehicleEvent{
		Kind: models.KindOffline, VehicleID: "v1",
	})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.False(t, state.Online)

	// 重复离线不算变化
	_, changed, err = s.ApplyEvent(&models.VehicleEvent{
		Kind: models.KindOffline, VehicleID: "v1",
	})
	require.NoError(t, err)
	assert.False(t, changed)

	// 后续任何事件都把车辆标回在线，即便字段全部过期
	state, changed, err = s.ApplyEvent(&models.VehicleEvent{
		Kind: models.KindTelemetry, VehicleID: "v1", Speed: f64(5), Timestamp: 50,
	})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, state.Online)
	assert.Equal(t, 10.0, *state.Speed)
}

func TestApplyEventOfflineUnknownVehicle(t *testing.T) {
	s := newTestStore()

	state, changed, err := s.ApplyEvent(&models.VehicleEvent{
		Kind: models.KindOffline, VehicleID: "nobody",
	})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Nil(t, state)
}

func TestApplyEventMissingVehicleID(t *testing.T) {
	s := newTestStore()

	_, _, err := s.ApplyEvent(&models.VehicleEvent{Kind: models.KindTelemetry, Timestamp: 100})
	assert.ErrorIs(t, err, ErrMissingVehicleID)
}

func TestSnapshotReturnsClones(t *testing.T) {
	s := newTestStore()
	_, _, err := s.ApplyEvent(&models.VehicleEvent{
		Kind: models.KindTelemetry, VehicleID: "v1", Speed: f64(10), Timestamp: 100,
	})
	require.NoError(t, err)

	states := s.Snapshot()
	*states[0].Speed = 999
	states[0].VehicleID = "mutated"

	fresh, ok := s.Get("v1")
	require.True(t, ok)
	assert.Equal(t, 10.0, *fresh.Speed)
}

func TestRefreshRegistry(t *testing.T) {
	s := newTestStore()
	s.LoadSnapshot(
		[]models.VehicleRecord{
			{VehicleID: "v1", Name: "Truck 1"},
			{VehicleID: "v2", Name: "Truck 2"},
		},
		nil,
	)

	removed := s.RefreshRegistry([]models.VehicleRecord{
		{VehicleID: "v2", Name: "Truck 2 renamed"},
		{VehicleID: "v3", Name: "Truck 3"},
	})

	assert.Equal(t, []string{"v1"}, removed)

	states := s.Snapshot()
	require.Len(t, states, 2)
	assert.Equal(t, "v2", states[0].VehicleID)
	assert.Equal(t, "Truck 2 renamed", states[0].Name)
	assert.Equal(t, "v3", states[1].VehicleID)
}

package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/fleetgazer/internal/api/upstream"
	"github.com/langchou/fleetgazer/internal/config"
	"github.com/langchou/fleetgazer/internal/engine"
	"github.com/langchou/fleetgazer/internal/models"
	"github.com/langchou/fleetgazer/internal/overlay"
	"github.com/langchou/fleetgazer/internal/repository"
	"github.com/langchou/fleetgazer/internal/state"
	"github.com/langchou/fleetgazer/pkg/ws"
)

// Engine 车队状态对账引擎
// 持有状态存储、告警账本、围栏列表和覆盖层对账器；
// 全部状态变更经由单写者事件循环串行化，上游回调只负责入队
type Engine struct {
	cfg    *config.Config
	logger *zap.Logger

	store      *engine.Store
	ledger     *engine.Ledger
	reconciler *overlay.Reconciler
	presence   *state.Manager
	hub        *ws.Hub
	client     *upstream.Client
	stream     *upstream.StreamClient
	history    *repository.HistoryRepository // 为 nil 时不落历史

	// zones 由事件循环写入；读接口并发访问，单独加锁
	zonesMu sync.RWMutex
	zones   []models.Geofence

	commands chan func()
	dirty    bool // 仅事件循环触碰

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New 创建引擎（不启动事件循环）
func New(
	cfg *config.Config,
	logger *zap.Logger,
	client *upstream.Client,
	stream *upstream.StreamClient,
	hub *ws.Hub,
	history *repository.HistoryRepository,
) *Engine {
	e := &Engine{
		cfg:      cfg,
		logger:   logger,
		store:    engine.NewStore(logger),
		ledger:   engine.NewLedger(logger),
		hub:      hub,
		client:   client,
		stream:   stream,
		history:  history,
		commands: make(chan func(), 1024),
		done:     make(chan struct{}),
	}

	e.reconciler = overlay.NewReconciler(NewRemoteMap(hub), 0, logger)
	e.presence = state.NewManager(e.onPresenceChange, logger)

	hub.SetInitDataProvider(e.initData)
	stream.SetHandlers(upstream.Handlers{
		OnVehicleEvent:   e.enqueueVehicleEvent,
		OnAlert:          e.enqueueAlert,
		OnAcknowledgment: e.enqueueAcknowledgment,
		OnZoneChanged:    e.enqueueZoneRefresh,
	})

	return e
}

// Bootstrap 拉取批量快照并完成首轮对账
// 失败时已加载的状态保持不变，调用方可重试
func (e *Engine) Bootstrap(ctx context.Context) error {
	vehicles, err := e.client.FetchVehicles(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	telemetry, err := e.client.FetchTelemetry(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	alerts, err := e.client.FetchAlerts(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	zones, err := e.client.FetchGeofences(ctx, false)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	e.store.LoadSnapshot(vehicles, telemetry)
	e.ledger.LoadSnapshot(alerts)
	e.setZones(zones)

	e.logger.Info("Snapshot loaded",
		zap.Int("vehicles", len(vehicles)),
		zap.Int("telemetry", len(telemetry)),
		zap.Int("alerts", len(alerts)),
		zap.Int("zones", len(zones)))

	return nil
}

// Start 启动事件循环、上游流和后台刷新
func (e *Engine) Start(ctx context.Context) {
	e.ctx, e.cancel = context.WithCancel(ctx)

	go e.run()
	e.stream.StartWithReconnect(e.ctx)
	go e.zoneRefreshLoop()
	go e.registryRefreshLoop()
}

// Stop 停止引擎：取消上游流，排空事件循环
// 返回后不再有任何状态变更
func (e *Engine) Stop() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	e.stream.Stop()
	<-e.done
}

// run 单写者事件循环
// store/ledger/reconciler 的所有变更只发生在这个 goroutine 上；
// 渲染合并：事件只置脏标记，按 RenderInterval 节拍统一对账
func (e *Engine) run() {
	defer close(e.done)

	ticker := time.NewTicker(e.cfg.RenderInterval)
	defer ticker.Stop()

	// 启动时把快照对账上图
	e.dirty = true
	e.reconcile()

	for {
		select {
		case <-e.ctx.Done():
			return
		case cmd := <-e.commands:
			cmd()
		case <-ticker.C:
			if e.dirty {
				e.reconcile()
			}
		}
	}
}

// enqueue 把一次状态变更排入事件循环；引擎停止后丢弃
func (e *Engine) enqueue(cmd func()) {
	select {
	case e.commands <- cmd:
	case <-e.ctx.Done():
	}
}

func (e *Engine) enqueueVehicleEvent(ev *models.VehicleEvent) {
	e.enqueue(func() { e.applyVehicleEvent(ev) })
}

func (e *Engine) enqueueAlert(alert *models.Alert) {
	e.enqueue(func() { e.applyAlert(alert) })
}

func (e *Engine) enqueueAcknowledgment(ack *models.Acknowledgment) {
	e.enqueue(func() { e.applyAcknowledgment(ack) })
}

func (e *Engine) enqueueZoneRefresh() {
	go e.refreshZones()
}

// initData 新仪表盘客户端的初始负载
func (e *Engine) initData() *ws.InitData {
	return &ws.InitData{
		Vehicles: e.store.Snapshot(),
		Alerts:   e.ledger.Snapshot(),
		Zones:    e.Zones(),
	}
}

// Vehicles 当前全部车辆状态（插入顺序）
func (e *Engine) Vehicles() []*models.VehicleState {
	return e.store.Snapshot()
}

// Alerts 过滤分页后的告警视图
func (e *Engine) Alerts(opts engine.FilterOptions, page, perPage int) ([]*models.Alert, int) {
	return e.ledger.FilteredView(opts, page, perPage)
}

// Zones 当前围栏列表副本
func (e *Engine) Zones() []models.Geofence {
	e.zonesMu.RLock()
	defer e.zonesMu.RUnlock()
	zones := make([]models.Geofence, len(e.zones))
	copy(zones, e.zones)
	return zones
}

// History 车辆历史轨迹查询，历史落库未启用时返回空列表
func (e *Engine) History(ctx context.Context, vehicleID string, from, to time.Time, limit int) ([]*models.HistoryPoint, error) {
	if e.history == nil {
		return []*models.HistoryPoint{}, nil
	}
	return e.history.ListByVehicle(ctx, vehicleID, from, to, limit)
}

// setZones 更新围栏列表（事件循环或启动阶段调用）
func (e *Engine) setZones(zones []models.Geofence) {
	e.zonesMu.Lock()
	e.zones = zones
	e.zonesMu.Unlock()
}

// onPresenceChange 在场状态机切换回调
func (e *Engine) onPresenceChange(vehicleID, from, to string) {
	e.hub.BroadcastPresence(map[string]string{
		"vehicleId": vehicleID,
		"from":      from,
		"to":        to,
	})
}

// zoneRefreshLoop 围栏兜底轮询
func (e *Engine) zoneRefreshLoop() {
	ticker := time.NewTicker(e.cfg.ZoneRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.refreshZones()
		}
	}
}

// refreshZones 拉取最新围栏列表后入队应用
func (e *Engine) refreshZones() {
	ctx, cancel := context.WithTimeout(e.ctx, 10*time.Second)
	defer cancel()

	zones, err := e.client.FetchGeofences(ctx, false)
	if err != nil {
		e.logger.Warn("Zone refresh failed", zap.Error(err))
		return
	}

	e.enqueue(func() {
		e.setZones(zones)
		e.dirty = true
	})
}

// registryRefreshLoop 注册表对账轮询：注销车辆从渲染集剪除
func (e *Engine) registryRefreshLoop() {
	ticker := time.NewTicker(e.cfg.RegistryRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(e.ctx, 10*time.Second)
			vehicles, err := e.client.FetchVehicles(ctx)
			cancel()
			if err != nil {
				e.logger.Warn("Registry refresh failed", zap.Error(err))
				continue
			}

			e.enqueue(func() {
				removed := e.store.RefreshRegistry(vehicles)
				for _, id := range removed {
					e.presence.Remove(id)
				}
				if len(removed) > 0 {
					e.logger.Info("Vehicles pruned from render set", zap.Strings("vehicle_ids", removed))
				}
				e.dirty = true
			})
		}
	}
}

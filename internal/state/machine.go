package state

import (
	"context"
	"errors"
	"sync"

	"github.com/looplab/fsm"
	"go.uber.org/zap"
)

// 车辆在场状态
const (
	StateOnline  = "online"
	StateMoving  = "moving"
	StateOffline = "offline"
)

// 在场状态机事件
const (
	EventMove    = "move"
	EventStop    = "stop"
	EventOffline = "offline"
)

// TransitionFunc 状态切换回调
type TransitionFunc func(vehicleID, from, to string)

// Machine 单车辆在场状态机
type Machine struct {
	mu        sync.Mutex
	vehicleID string
	fsm       *fsm.FSM
}

// NewMachine 创建在场状态机，初始 offline，首个事件把车辆拉到在线侧
func NewMachine(vehicleID string, onTransition TransitionFunc, logger *zap.Logger) *Machine {
	m := &Machine{vehicleID: vehicleID}

	m.fsm = fsm.NewFSM(
		StateOffline,
		fsm.Events{
			{Name: EventMove, Src: []string{StateOnline, StateOffline}, Dst: StateMoving},
			{Name: EventStop, Src: []string{StateMoving, StateOffline}, Dst: StateOnline},
			{Name: EventOffline, Src: []string{StateOnline, StateMoving}, Dst: StateOffline},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				logger.Debug("Vehicle presence changed",
					zap.String("vehicle_id", vehicleID),
					zap.String("from", e.Src),
					zap.String("to", e.Dst))
				if onTransition != nil {
					onTransition(vehicleID, e.Src, e.Dst)
				}
			},
		},
	)

	return m
}

// Fire 触发事件，无效或原地转移静默忽略
func (m *Machine) Fire(ctx context.Context, event string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.fsm.Event(ctx, event)
	if err == nil {
		return nil
	}

	var invalid fsm.InvalidEventError
	var noTransition fsm.NoTransitionError
	if errors.As(err, &invalid) || errors.As(err, &noTransition) {
		return nil
	}
	return err
}

// Current 当前在场状态
func (m *Machine) Current() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fsm.Current()
}

// Manager 管理全部车辆的在场状态机
type Manager struct {
	mu           sync.RWMutex
	machines     map[string]*Machine
	onTransition TransitionFunc
	logger       *zap.Logger
}

func NewManager(onTransition TransitionFunc, logger *zap.Logger) *Manager {
	return &Manager{
		machines:     make(map[string]*Machine),
		onTransition: onTransition,
		logger:       logger,
	}
}

// GetOrCreate 取车辆状态机，不存在则创建
func (mgr *Manager) GetOrCreate(vehicleID string) *Machine {
	mgr.mu.RLock()
	m, ok := mgr.machines[vehicleID]
	mgr.mu.RUnlock()
	if ok {
		return m
	}

	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	if m, ok := mgr.machines[vehicleID]; ok {
		return m
	}
	m = NewMachine(vehicleID, mgr.onTransition, mgr.logger)
	mgr.machines[vehicleID] = m
	return m
}

// Get 取车辆状态机
func (mgr *Manager) Get(vehicleID string) (*Machine, bool) {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	m, ok := mgr.machines[vehicleID]
	return m, ok
}

// Remove 车辆注销后移除状态机
func (mgr *Manager) Remove(vehicleID string) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	delete(mgr.machines, vehicleID)
}

// States 全部车辆的当前在场状态
func (mgr *Manager) States() map[string]string {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()

	states := make(map[string]string, len(mgr.machines))
	for id, m := range mgr.machines {
		states[id] = m.Current()
	}
	return states
}

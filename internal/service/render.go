package service

import "github.com/langchou/fleetgazer/internal/models"

// reconcile 把最新车辆状态与围栏列表对账到覆盖层（事件循环内）
// 对账器只下发差异指令，重复调用无副作用
func (e *Engine) reconcile() {
	states := e.store.Snapshot()

	zones := e.Zones()
	zonePtrs := make([]*models.Geofence, 0, len(zones))
	for i := range zones {
		zonePtrs = append(zonePtrs, &zones[i])
	}

	e.reconciler.Reconcile(states, zonePtrs)
	e.dirty = false
}

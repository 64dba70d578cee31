package engine

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/langchou/fleetgazer/internal/models"
)

var (
	// ErrAlertNotFound 账本中不存在该告警
	ErrAlertNotFound = errors.New("alert not found")
	// ErrAckRejected 上游拒绝了确认请求
	ErrAckRejected = errors.New("acknowledgment rejected by upstream")
)

type alertEntry struct {
	alert *models.Alert
	// pending 为 true 表示本地乐观确认尚未收到上游回执，
	// 回执到达前上游失败可回滚，回执到达后回滚变为空操作
	pending bool
}

// Ledger 告警账本，新告警在前
// Acknowledged 单调：一旦置位，任何事件都不能将其回退，
// 唯一例外是乐观确认在收到回执前遭上游拒绝时的回滚
type Ledger struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]*alertEntry
	logger  *zap.Logger
}

func NewLedger(logger *zap.Logger) *Ledger {
	return &Ledger{
		entries: make(map[string]*alertEntry),
		logger:  logger,
	}
}

// LoadSnapshot 用上游告警列表重建账本，列表顺序即账本顺序
func (l *Ledger) LoadSnapshot(alerts []models.Alert) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.order = l.order[:0]
	l.entries = make(map[string]*alertEntry, len(alerts))

	for i := range alerts {
		a := alerts[i]
		if _, ok := l.entries[a.ID]; ok {
			continue
		}
		l.order = append(l.order, a.ID)
		l.entries[a.ID] = &alertEntry{alert: &a}
	}
}

// ApplyAlert 追加新告警，按 ID 去重（重复推送返回 false）
func (l *Ledger) ApplyAlert(alert *models.Alert) bool {
	if alert.ID == "" {
		l.logger.Warn("Alert without id dropped", zap.String("type", alert.Type))
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.entries[alert.ID]; ok {
		return false
	}

	a := *alert
	l.order = append([]string{a.ID}, l.order...)
	l.entries[a.ID] = &alertEntry{alert: &a}
	return true
}

// ApplyAcknowledgment 合并上游确认事件
// 未确认 -> 确认照常应用；已确认的告警以先到者为准，
// 但待回执的乐观确认会被上游权威字段覆盖并解除 pending
func (l *Ledger) ApplyAcknowledgment(ack *models.Acknowledgment) (bool, error) {
	if !ack.Acknowledged {
		// 确认不可回退，忽略试图取消确认的事件
		return false, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[ack.AlertID]
	if !ok {
		return false, ErrAlertNotFound
	}

	a := entry.alert
	if a.Acknowledged && !entry.pending {
		// 重复回执，幂等
		return false, nil
	}

	changed := !a.Acknowledged ||
		a.AcknowledgedBy != ack.AcknowledgedBy ||
		a.AcknowledgmentNote != ack.AcknowledgmentNote ||
		a.AcknowledgedAt != ack.AcknowledgedAt

	a.Acknowledged = true
	a.AcknowledgedBy = ack.AcknowledgedBy
	a.AcknowledgmentNote = ack.AcknowledgmentNote
	a.AcknowledgedAt = ack.AcknowledgedAt
	entry.pending = false

	return changed, nil
}

// BeginAcknowledge 本地乐观确认，等待上游回执
// 已确认的告警直接返回当前状态（幂等）
func (l *Ledger) BeginAcknowledge(alertID, by, note string, at int64) (*models.Alert, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[alertID]
	if !ok {
		return nil, ErrAlertNotFound
	}

	a := entry.alert
	if a.Acknowledged {
		c := *a
		return &c, nil
	}

	a.Acknowledged = true
	a.AcknowledgedBy = by
	a.AcknowledgmentNote = note
	a.AcknowledgedAt = at
	entry.pending = true

	c := *a
	return &c, nil
}

// RollbackAcknowledge 上游拒绝后回滚乐观确认
// 回执已到达（pending 解除）时为空操作，不会吞掉权威确认
func (l *Ledger) RollbackAcknowledge(alertID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[alertID]
	if !ok || !entry.pending {
		return false
	}

	a := entry.alert
	a.Acknowledged = false
	a.AcknowledgedBy = ""
	a.AcknowledgmentNote = ""
	a.AcknowledgedAt = 0
	entry.pending = false
	return true
}

// Get 按 ID 取告警副本
func (l *Ledger) Get(alertID string) (*models.Alert, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entry, ok := l.entries[alertID]
	if !ok {
		return nil, false
	}
	c := *entry.alert
	return &c, true
}

// Snapshot 按账本顺序（新在前）返回全部告警副本
func (l *Ledger) Snapshot() []*models.Alert {
	l.mu.RLock()
	defer l.mu.RUnlock()

	alerts := make([]*models.Alert, 0, len(l.order))
	for _, id := range l.order {
		c := *l.entries[id].alert
		alerts = append(alerts, &c)
	}
	return alerts
}

// FilterOptions 告警列表过滤条件，零值字段不过滤
type FilterOptions struct {
	Status    string // acknowledged / unacknowledged
	VehicleID string
	Category  string
}

// FilteredView 过滤后分页，返回当前页和过滤后的总数
// page 从 1 开始，非法分页参数就地修正，越界页返回空列表
func (l *Ledger) FilteredView(opts FilterOptions, page, perPage int) ([]*models.Alert, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	matched := make([]*models.Alert, 0, len(l.order))
	for _, id := range l.order {
		a := l.entries[id].alert
		if opts.Status == "acknowledged" && !a.Acknowledged {
			continue
		}
		if opts.Status == "unacknowledged" && a.Acknowledged {
			continue
		}
		if opts.VehicleID != "" && a.VehicleID != opts.VehicleID {
			continue
		}
		if opts.Category != "" && models.CategoryOf(a.Type) != opts.Category {
			continue
		}
		c := *a
		matched = append(matched, &c)
	}

	total := len(matched)
	start := (page - 1) * perPage
	if start >= total {
		return []*models.Alert{}, total
	}
	end := start + perPage
	if end > total {
		end = total
	}
	return matched[start:end], total
}

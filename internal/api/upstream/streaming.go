package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/langchou/fleetgazer/internal/models"
)

// StreamClient 上游事件流 WebSocket 客户端
type StreamClient struct {
	logger   *zap.Logger
	url      string
	conn     *websocket.Conn
	handlers Handlers

	// nowMillis 事件缺少时间戳时的补齐时钟，测试可注入
	nowMillis func() int64

	mu          sync.RWMutex
	connected   bool
	stopCh      chan struct{}
	reconnectCh chan struct{}

	// 重连配置
	reconnectDelay    time.Duration
	maxReconnectDelay time.Duration
	currentDelay      time.Duration
}

// NewStreamClient 创建事件流客户端
func NewStreamClient(logger *zap.Logger, url string) *StreamClient {
	return &StreamClient{
		logger:            logger,
		url:               url,
		nowMillis:         func() int64 { return time.Now().UnixMilli() },
		stopCh:            make(chan struct{}),
		reconnectCh:       make(chan struct{}, 1),
		reconnectDelay:    1 * time.Second,
		maxReconnectDelay: 30 * time.Second,
		currentDelay:      1 * time.Second,
	}
}

// SetHandlers 设置事件回调
func (c *StreamClient) SetHandlers(handlers Handlers) {
	c.handlers = handlers
}

// Connect 建立连接并订阅全量车队事件
func (c *StreamClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial stream: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.currentDelay = c.reconnectDelay // 重置重连延迟
	c.mu.Unlock()

	if err := c.subscribe(); err != nil {
		c.Close()
		return fmt.Errorf("subscribe: %w", err)
	}

	c.logger.Info("Upstream stream connected", zap.String("url", c.url))

	go c.readLoop()

	return nil
}

// Close 关闭连接
func (c *StreamClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil
	}

	c.connected = false

	select {
	case <-c.stopCh:
		// 已经关闭
	default:
		close(c.stopCh)
	}

	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// IsConnected 检查连接状态
func (c *StreamClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// subscribe 发送订阅消息
func (c *StreamClient) subscribe() error {
	subscribeMsg := map[string]interface{}{
		"event": "subscribe",
		"data": map[string]interface{}{
			"topics": []string{"vehicles", "alerts", "geofences"},
		},
	}

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return fmt.Errorf("not connected")
	}

	return conn.WriteJSON(subscribeMsg)
}

// readLoop 消息读取循环
// stopCh/conn 在入口处一次性快照：重连路径会替换这两个字段，
// 本循环只服务创建它的那条连接
func (c *StreamClient) readLoop() {
	c.mu.RLock()
	conn := c.conn
	stopCh := c.stopCh
	c.mu.RUnlock()

	if conn == nil {
		return
	}

	defer func() {
		c.mu.Lock()
		wasConnected := c.connected
		c.connected = false
		c.mu.Unlock()

		if wasConnected {
			c.triggerReconnect()
		}
	}()

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.logger.Debug("Stream connection closed normally")
			} else {
				c.logger.Warn("Stream read error", zap.Error(err))
			}
			return
		}

		c.handleMessage(message)
	}
}

// handleMessage 归一化一条上游消息并分发给对应回调
func (c *StreamClient) handleMessage(message []byte) {
	var env envelope
	if err := json.Unmarshal(message, &env); err != nil {
		c.logger.Warn("Failed to parse stream message",
			zap.String("message", string(message)),
			zap.Error(err))
		return
	}

	switch env.Event {
	case eventTelemetry, eventLocation, eventFullUpdate, eventOffline:
		ev, err := decodeVehicleEvent(env.Event, env.Data, c.nowMillis())
		if err != nil {
			c.logger.Warn("Malformed vehicle event dropped",
				zap.String("event", env.Event),
				zap.Error(err))
			return
		}
		if c.handlers.OnVehicleEvent != nil {
			c.handlers.OnVehicleEvent(ev)
		}

	case eventAlert, eventAlertTriggered:
		var alert models.Alert
		if err := json.Unmarshal(env.Data, &alert); err != nil {
			c.logger.Warn("Malformed alert dropped",
				zap.String("event", env.Event),
				zap.Error(err))
			return
		}
		if alert.CreatedAt == 0 {
			alert.CreatedAt = c.nowMillis()
		}
		if c.handlers.OnAlert != nil {
			c.handlers.OnAlert(&alert)
		}

	case eventAlertAck:
		var ack models.Acknowledgment
		if err := json.Unmarshal(env.Data, &ack); err != nil {
			c.logger.Warn("Malformed acknowledgment dropped", zap.Error(err))
			return
		}
		if c.handlers.OnAcknowledgment != nil {
			c.handlers.OnAcknowledgment(&ack)
		}

	case eventZoneChanged:
		// 围栏变更只作为刷新触发器，最新列表走快照接口拉取
		if c.handlers.OnZoneChanged != nil {
			c.handlers.OnZoneChanged()
		}

	default:
		c.logger.Debug("Unknown stream event skipped", zap.String("event", env.Event))
	}
}

// triggerReconnect 触发重连
func (c *StreamClient) triggerReconnect() {
	select {
	case c.reconnectCh <- struct{}{}:
	default:
		// 已有重连请求排队
	}
}

// currentStop 加锁快照当前 stop channel，select 之前调用
func (c *StreamClient) currentStop() chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stopCh
}

// StartWithReconnect 启动并自动重连，指数退避 1s -> 30s
func (c *StreamClient) StartWithReconnect(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				c.Close()
				return
			case <-c.currentStop():
				return
			default:
			}

			if err := c.Connect(ctx); err != nil {
				c.logger.Warn("Stream connect failed, will retry",
					zap.Duration("delay", c.currentDelay),
					zap.Error(err))

				select {
				case <-ctx.Done():
					return
				case <-c.currentStop():
					return
				case <-time.After(c.currentDelay):
				}

				// 指数退避
				c.currentDelay *= 2
				if c.currentDelay > c.maxReconnectDelay {
					c.currentDelay = c.maxReconnectDelay
				}
				continue
			}

			select {
			case <-ctx.Done():
				c.Close()
				return
			case <-c.currentStop():
				return
			case <-c.reconnectCh:
				c.logger.Info("Reconnecting upstream stream")
				c.Close()
				c.mu.Lock()
				c.stopCh = make(chan struct{})
				c.mu.Unlock()
			}
		}
	}()
}

// Stop 停止客户端（包括重连循环）
func (c *StreamClient) Stop() {
	c.Close()
}

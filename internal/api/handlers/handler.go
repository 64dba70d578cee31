package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/langchou/fleetgazer/internal/engine"
	"github.com/langchou/fleetgazer/internal/models"
	"github.com/langchou/fleetgazer/internal/service"
	"github.com/langchou/fleetgazer/pkg/ws"
)

// Handler HTTP 处理器
type Handler struct {
	logger   *zap.Logger
	engine   *service.Engine
	wsHub    *ws.Hub
	upgrader websocket.Upgrader
}

// NewHandler 创建处理器
func NewHandler(logger *zap.Logger, e *service.Engine, wsHub *ws.Hub) *Handler {
	return &Handler{
		logger: logger,
		engine: e,
		wsHub:  wsHub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 开发环境允许所有来源
			},
		},
	}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	// API 路由
	api := r.Group("/api")
	{
		// 车辆
		api.GET("/vehicles", h.ListVehicles)

		// 告警
		api.GET("/alerts", h.ListAlerts)
		api.POST("/alerts/:id/acknowledge", h.AcknowledgeAlert)

		// 围栏
		api.GET("/geofences", h.ListGeofences)

		// 历史轨迹
		api.GET("/history/:vehicleId", h.GetHistory)
	}

	// WebSocket
	r.GET("/ws", h.HandleWebSocket)

	// 健康检查
	r.GET("/health", h.HealthCheck)
}

// ListVehicles 获取车辆状态列表
// 含没有位置的车辆（列表视图需要，地图侧自行忽略）
func (h *Handler) ListVehicles(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": h.engine.Vehicles()})
}

// ListAlerts 获取告警列表
// 查询参数: status=acknowledged|unacknowledged, vehicleId, category, page, per_page
func (h *Handler) ListAlerts(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	opts := engine.FilterOptions{
		Status:    c.Query("status"),
		VehicleID: c.Query("vehicleId"),
		Category:  c.Query("category"),
	}

	alerts, total := h.engine.Alerts(opts, page, perPage)

	c.JSON(http.StatusOK, gin.H{
		"data": alerts,
		"pagination": gin.H{
			"page":     page,
			"per_page": perPage,
			"total":    total,
		},
	})
}

type acknowledgeRequest struct {
	AcknowledgedBy     string `json:"acknowledgedBy" binding:"required"`
	AcknowledgmentNote string `json:"acknowledgmentNote"`
}

// AcknowledgeAlert 确认告警
func (h *Handler) AcknowledgeAlert(c *gin.Context) {
	alertID := c.Param("id")

	var req acknowledgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "acknowledgedBy is required"})
		return
	}

	alert, err := h.engine.Acknowledge(c.Request.Context(), alertID, req.AcknowledgedBy, req.AcknowledgmentNote)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrAlertNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Alert not found"})
		case errors.Is(err, engine.ErrAckRejected):
			h.logger.Warn("Acknowledge rejected by upstream",
				zap.String("alert_id", alertID),
				zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": "Acknowledgment rejected by upstream"})
		default:
			h.logger.Error("Failed to acknowledge alert", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to acknowledge alert"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": alert})
}

// ListGeofences 获取围栏列表，?active=true 时仅返回启用中的
func (h *Handler) ListGeofences(c *gin.Context) {
	zones := h.engine.Zones()

	if c.Query("active") == "true" {
		active := make([]models.Geofence, 0, len(zones))
		for _, z := range zones {
			if z.Active {
				active = append(active, z)
			}
		}
		zones = active
	}

	c.JSON(http.StatusOK, gin.H{"data": zones})
}

// GetHistory 获取车辆历史轨迹
// 查询参数: from/to (unix 毫秒), limit
func (h *Handler) GetHistory(c *gin.Context) {
	vehicleID := c.Param("vehicleId")

	var from, to time.Time
	if v, err := strconv.ParseInt(c.Query("from"), 10, 64); err == nil {
		from = time.UnixMilli(v)
	}
	if v, err := strconv.ParseInt(c.Query("to"), 10, 64); err == nil {
		to = time.UnixMilli(v)
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "1000"))

	points, err := h.engine.History(c.Request.Context(), vehicleID, from, to, limit)
	if err != nil {
		h.logger.Error("Failed to query history", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to query history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": points})
}

// HandleWebSocket WebSocket 处理
func (h *Handler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}

	client := ws.NewClient(h.wsHub, conn)
	client.Register()

	// 启动读写协程
	go client.ReadPump()
	go client.WritePump()
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"ws_clients": h.wsHub.ClientCount(),
	})
}

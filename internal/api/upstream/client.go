package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/fleetgazer/internal/models"
)

// Client 上游车队后端 REST 客户端
// 只负责一次性请求（批量快照、确认），不做内部重试
type Client struct {
	logger     *zap.Logger
	baseURL    string
	httpClient *http.Client
}

func NewClient(logger *zap.Logger, baseURL string) *Client {
	return &Client{
		logger:  logger,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// FetchVehicles 拉取车辆注册表
func (c *Client) FetchVehicles(ctx context.Context) ([]models.VehicleRecord, error) {
	var vehicles []models.VehicleRecord
	if err := c.getJSON(ctx, "/api/vehicles", &vehicles); err != nil {
		return nil, fmt.Errorf("fetch vehicles: %w", err)
	}
	return vehicles, nil
}

// FetchTelemetry 拉取各车辆最近一行遥测
func (c *Client) FetchTelemetry(ctx context.Context) ([]models.TelemetryRecord, error) {
	var telemetry []models.TelemetryRecord
	if err := c.getJSON(ctx, "/api/telemetry", &telemetry); err != nil {
		return nil, fmt.Errorf("fetch telemetry: %w", err)
	}
	return telemetry, nil
}

// FetchAlerts 拉取告警列表
func (c *Client) FetchAlerts(ctx context.Context) ([]models.Alert, error) {
	var alerts []models.Alert
	if err := c.getJSON(ctx, "/api/alerts", &alerts); err != nil {
		return nil, fmt.Errorf("fetch alerts: %w", err)
	}
	return alerts, nil
}

// FetchGeofences 拉取围栏列表，activeOnly 时仅取启用中的
func (c *Client) FetchGeofences(ctx context.Context, activeOnly bool) ([]models.Geofence, error) {
	path := "/api/geofences"
	if activeOnly {
		path += "?active=true"
	}
	var zones []models.Geofence
	if err := c.getJSON(ctx, path, &zones); err != nil {
		return nil, fmt.Errorf("fetch geofences: %w", err)
	}
	return zones, nil
}

// AcknowledgeAlert 向上游提交告警确认，返回权威告警记录
func (c *Client) AcknowledgeAlert(ctx context.Context, alertID, by, note string) (*models.Alert, error) {
	body, err := json.Marshal(map[string]string{
		"acknowledgedBy":     by,
		"acknowledgmentNote": note,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal acknowledge body: %w", err)
	}

	url := c.baseURL + "/api/alerts/" + alertID + "/acknowledge"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build acknowledge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("acknowledge alert %s: %w", alertID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn("Acknowledge rejected",
			zap.String("alert_id", alertID),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", data))
		return nil, fmt.Errorf("acknowledge alert %s: status %d", alertID, resp.StatusCode)
	}

	var payload struct {
		Data models.Alert `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode acknowledge response: %w", err)
	}
	return &payload.Data, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	var payload struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return json.Unmarshal(payload.Data, out)
}

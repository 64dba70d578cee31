package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/langchou/fleetgazer/internal/api/upstream"
	"github.com/langchou/fleetgazer/internal/config"
	"github.com/langchou/fleetgazer/internal/engine"
	"github.com/langchou/fleetgazer/internal/models"
	"github.com/langchou/fleetgazer/pkg/ws"
)

func newTestEngine(t *testing.T, upstreamHandler http.Handler) (*Engine, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(upstreamHandler)
	t.Cleanup(server.Close)

	logger := zap.NewNop()
	cfg := &config.Config{
		UpstreamBaseURL: server.URL,
		RenderInterval:  50 * time.Millisecond,
	}

	client := upstream.NewClient(logger, server.URL)
	stream := upstream.NewStreamClient(logger, "ws://unused")
	hub := ws.NewHub(logger)

	return New(cfg, logger, client, stream, hub, nil), server
}

func seedEngineLedger(e *Engine) {
	e.ledger.LoadSnapshot([]models.Alert{
		{ID: "a1", VehicleID: "v1", Type: models.AlertOverspeed, Level: models.LevelHigh, CreatedAt: 100},
	})
}

func ackResponse(t *testing.T, w http.ResponseWriter, alert models.Alert) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(map[string]interface{}{"data": alert})
	require.NoError(t, err)
}

func TestAcknowledgeMergesCanonicalEcho(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/alerts/a1/acknowledge", func(w http.ResponseWriter, r *http.Request) {
		ackResponse(t, w, models.Alert{
			ID: "a1", VehicleID: "v1", Type: models.AlertOverspeed,
			Acknowledged: true, AcknowledgedBy: "ops",
			AcknowledgmentNote: "checked", AcknowledgedAt: 777,
		})
	})

	e, _ := newTestEngine(t, mux)
	seedEngineLedger(e)

	alert, err := e.Acknowledge(context.Background(), "a1", "ops", "checked")
	require.NoError(t, err)

	// 权威回执的时间戳覆盖乐观值
	assert.True(t, alert.Acknowledged)
	assert.Equal(t, "ops", alert.AcknowledgedBy)
	assert.Equal(t, int64(777), alert.AcknowledgedAt)

	stored, ok := e.ledger.Get("a1")
	require.True(t, ok)
	assert.Equal(t, int64(777), stored.AcknowledgedAt)
}

func TestAcknowledgeRollbackOnUpstreamFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/alerts/a1/acknowledge", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	e, _ := newTestEngine(t, mux)
	seedEngineLedger(e)

	_, err := e.Acknowledge(context.Background(), "a1", "ops", "")
	assert.ErrorIs(t, err, engine.ErrAckRejected)

	// 失败的确认不在账本留下任何痕迹
	stored, ok := e.ledger.Get("a1")
	require.True(t, ok)
	assert.False(t, stored.Acknowledged)
	assert.Empty(t, stored.AcknowledgedBy)
}

func TestAcknowledgeUnknownAlert(t *testing.T) {
	e, _ := newTestEngine(t, http.NewServeMux())

	_, err := e.Acknowledge(context.Background(), "ghost", "ops", "")
	assert.ErrorIs(t, err, engine.ErrAlertNotFound)
}

func TestAcknowledgeRacingStreamEcho(t *testing.T) {
	var e *Engine
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/alerts/a1/acknowledge", func(w http.ResponseWriter, r *http.Request) {
		// 请求在途期间流回执先一步到达
		_, err := e.ledger.ApplyAcknowledgment(&models.Acknowledgment{
			AlertID: "a1", Acknowledged: true, AcknowledgedBy: "ops",
			AcknowledgmentNote: "checked", AcknowledgedAt: 777,
		})
		require.NoError(t, err)

		ackResponse(t, w, models.Alert{
			ID: "a1", VehicleID: "v1", Type: models.AlertOverspeed,
			Acknowledged: true, AcknowledgedBy: "ops",
			AcknowledgmentNote: "checked", AcknowledgedAt: 777,
		})
	})

	e, _ = newTestEngine(t, mux)
	seedEngineLedger(e)

	alert, err := e.Acknowledge(context.Background(), "a1", "ops", "checked")
	require.NoError(t, err)

	// 两条路径收敛到同一条确认记录，不重复不覆盖
	assert.True(t, alert.Acknowledged)
	assert.Equal(t, "ops", alert.AcknowledgedBy)
	assert.Equal(t, "checked", alert.AcknowledgmentNote)
	assert.Equal(t, int64(777), alert.AcknowledgedAt)
}

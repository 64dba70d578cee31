package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStreamClientReconnectsAfterDrop(t *testing.T) {
	var mu sync.Mutex
	conns := 0

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		conns++
		mu.Unlock()

		// 读掉订阅消息后立刻断开，逼客户端走重连路径
		conn.ReadMessage()
		conn.Close()
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	c := NewStreamClient(zap.NewNop(), url)
	c.reconnectDelay = 10 * time.Millisecond
	c.currentDelay = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.StartWithReconnect(ctx)

	// 断开后必须用新的 stop channel 重新建连（-race 下同时验证无数据竞争）
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return conns >= 2
	}, 3*time.Second, 20*time.Millisecond)

	c.Stop()
}

package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	ServerPort string
	Debug      bool

	// Database（为空时不落历史轨迹，引擎纯内存运行）
	DatabaseURL string

	// 上游车队后端
	UpstreamBaseURL   string
	UpstreamStreamURL string

	// 围栏列表刷新间隔（zone-changed 事件之外的兜底轮询）
	ZoneRefreshInterval time.Duration

	// 渲染合并窗口：事件风暴期间把多次状态变化合并为一次 reconcile
	RenderInterval time.Duration

	// 注册表刷新间隔（从渲染集中剪除已注销车辆）
	RegistryRefreshInterval time.Duration
}

func Load() (*Config, error) {
	// 尝试加载 .env 文件（可选）
	_ = godotenv.Load()

	cfg := &Config{
		ServerPort:              getEnv("PORT", "4000"),
		Debug:                   getEnvBool("DEBUG", false),
		DatabaseURL:             getEnv("DATABASE_URL", ""),
		UpstreamBaseURL:         getEnv("UPSTREAM_BASE_URL", "http://localhost:3000"),
		UpstreamStreamURL:       getEnv("UPSTREAM_STREAM_URL", "ws://localhost:3000/api/socket"),
		ZoneRefreshInterval:     getEnvDuration("ZONE_REFRESH_INTERVAL", 60*time.Second),
		RenderInterval:          getEnvDuration("RENDER_INTERVAL", 200*time.Millisecond),
		RegistryRefreshInterval: getEnvDuration("REGISTRY_REFRESH_INTERVAL", 5*time.Minute),
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return defaultValue
}

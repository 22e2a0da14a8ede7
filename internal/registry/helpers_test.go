package registry

import (
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/hewenyu/botsgarden/internal/config"
	"github.com/stretchr/testify/require"
)

// newTestRecord 创建测试用的服务记录
func newTestRecord(t *testing.T, name string) *Record {
	t.Helper()

	rec, err := NewHTTPEndpointRecord(Endpoint{
		Name:     name,
		Host:     "localhost",
		Port:     8080,
		Root:     "/api",
		Metadata: map[string]any{"kind": "botsgarden"},
	})
	require.NoError(t, err)
	return rec
}

// newMiniredisClient 创建基于miniredis的注册中心客户端
func newMiniredisClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()

	mini := miniredis.RunT(t)

	cfg := config.Default()
	cfg.Redis.Host = mini.Host()
	cfg.Redis.Port = mustPort(t, mini.Port())

	client, err := NewClientFromConfig(cfg, config.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return client, mini
}

func mustPort(t *testing.T, port string) int {
	t.Helper()

	p, err := strconv.Atoi(port)
	require.NoError(t, err, "端口格式错误: %s", port)
	return p
}

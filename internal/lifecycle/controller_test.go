package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hewenyu/botsgarden/internal/config"
	"github.com/hewenyu/botsgarden/internal/metrics"
	"github.com/hewenyu/botsgarden/internal/registry"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// newTestConfig 返回监听本地随机端口的配置
func newTestConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.HTTP.ListenAddress = "127.0.0.1"
	cfg.HTTP.Port = 0
	cfg.HTTP.WebRoot = t.TempDir()
	cfg.HTTP.ShutdownTimeout = 5 * time.Second
	cfg.Registry.Timeout = time.Second
	return cfg
}

func useMiniredis(t *testing.T, cfg *config.Config, mini *miniredis.Miniredis) {
	t.Helper()

	port, err := strconv.Atoi(mini.Port())
	require.NoError(t, err)
	cfg.Redis.Host = mini.Host()
	cfg.Redis.Port = port
}

func newObservedLogger() (config.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return config.NewZapLogger(zap.New(core)), logs
}

func waitStartup(t *testing.T, c *Controller) {
	t.Helper()

	select {
	case <-c.StartupDone():
	case <-time.After(5 * time.Second):
		t.Fatal("启动任务超时")
	}
}

func stopController(t *testing.T, c *Controller) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Stop(ctx))
}

func getPing(t *testing.T, addr string) (int, string) {
	t.Helper()

	resp, err := http.Get(fmt.Sprintf("http://%s/api/ping", addr))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var payload struct {
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(body, &payload))
	return resp.StatusCode, payload.Message
}

func TestControllerPublishesAndUnpublishes(t *testing.T) {
	mini := miniredis.RunT(t)
	cfg := newTestConfig(t)
	useMiniredis(t, cfg, mini)
	cfg.Service.Name = "svc"

	m := metrics.New("test")
	c := New(cfg, config.NewNopLogger(), WithMetrics(m))
	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, StateRunning, c.State())
	assert.NotEmpty(t, c.Addr())

	waitStartup(t, c)

	id := c.Record().Registration()
	require.NotEmpty(t, id, "注册中心可用时应发布成功")

	stored := mini.HGet(cfg.Redis.RecordsKey, id)
	require.NotEmpty(t, stored)

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(stored), &doc))
	assert.Equal(t, "svc", doc["name"])
	assert.Equal(t, id, doc["registration"])

	code, msg := getPing(t, c.Addr())
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "🏓 pong!", msg)

	stopController(t, c)
	assert.Equal(t, StateStopped, c.State())
	assert.Empty(t, mini.HGet(cfg.Redis.RecordsKey, id), "停止后记录应被删除")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RegistryOps.WithLabelValues("publish", metrics.ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RegistryOps.WithLabelValues("unpublish", metrics.ResultSuccess)))
}

func TestControllerServesWhenRegistryUnreachable(t *testing.T) {
	mini := miniredis.RunT(t)
	cfg := newTestConfig(t)
	useMiniredis(t, cfg, mini)
	mini.Close()

	logger, logs := newObservedLogger()
	c := New(cfg, logger)
	require.NoError(t, c.Start(context.Background()))
	waitStartup(t, c)

	assert.False(t, c.Record().IsRegistered())
	assert.Equal(t, StateRunning, c.State())

	code, msg := getPing(t, c.Addr())
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "🏓 pong!", msg)

	assert.Equal(t, 1, logs.FilterMessage("no record found").Len())

	stopController(t, c)
	assert.Equal(t, StateStopped, c.State())
	assert.Equal(t, 1, logs.FilterMessage("服务记录未注册，跳过注销").Len())
}

func TestControllerBindFailure(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	cfg := newTestConfig(t)
	cfg.Registry.Backend = config.BackendMemory
	cfg.HTTP.Port = busy.Addr().(*net.TCPAddr).Port

	c := New(cfg, config.NewNopLogger())
	err = c.Start(context.Background())
	require.ErrorIs(t, err, ErrStartup)
	assert.Equal(t, StateStopped, c.State())
	assert.Empty(t, c.Addr())

	// 启动失败后等待者不会被阻塞
	select {
	case <-c.StartupDone():
	default:
		t.Fatal("启动失败时StartupDone应已关闭")
	}
	assert.NoError(t, c.Stop(context.Background()))
}

func TestControllerInvalidConfig(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Service.Port = 0

	c := New(cfg, config.NewNopLogger())
	err := c.Start(context.Background())
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
	assert.Equal(t, StateStopped, c.State())
}

func TestControllerLogsPeers(t *testing.T) {
	logger, logs := newObservedLogger()

	backend := registry.NewMemoryBackend()
	client := registry.NewClient(backend, logger)

	peer, err := registry.NewHTTPEndpointRecord(registry.Endpoint{
		Name: "peer",
		Host: "peer-host",
		Port: 9000,
		Root: "/api",
	})
	require.NoError(t, err)
	_, err = client.Publish(context.Background(), peer)
	require.NoError(t, err)

	cfg := newTestConfig(t)
	cfg.Registry.Backend = config.BackendMemory
	m := metrics.New("test")

	c := New(cfg, logger, WithClient(client), WithMetrics(m))
	require.NoError(t, c.Start(context.Background()))
	waitStartup(t, c)

	// 本实例的记录可能先于查询写入，数量为1或2
	found := logs.FilterMessageSnippet("record(s) found").All()
	require.Len(t, found, 1)
	discovered := testutil.ToFloat64(m.DiscoveredRecords)
	assert.Contains(t, []float64{1, 2}, discovered)
	assert.Equal(t, fmt.Sprintf("%d record(s) found", int(discovered)), found[0].Message)

	peers := logs.FilterMessage("发现服务记录").All()
	require.Len(t, peers, int(discovered))
	var sawPeer bool
	for _, entry := range peers {
		if rec, ok := entry.ContextMap()["record"].(string); ok && json.Valid([]byte(rec)) {
			var doc map[string]any
			require.NoError(t, json.Unmarshal([]byte(rec), &doc))
			if doc["name"] == "peer" {
				sawPeer = true
			}
		}
	}
	assert.True(t, sawPeer, "日志中应包含其他实例的记录")

	stopController(t, c)
	assert.Equal(t, 1, backend.Len(), "只注销本实例的记录")
}

// slowScanBackend 遍历记录时一直阻塞到ctx取消，删除记录时检查ctx
type slowScanBackend struct {
	*registry.MemoryBackend
}

func (b slowScanBackend) Scan(ctx context.Context) registry.EntryIterator {
	return &blockingIterator{}
}

func (b slowScanBackend) Remove(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.MemoryBackend.Remove(ctx, id)
}

type blockingIterator struct {
	err error
}

func (it *blockingIterator) Next(ctx context.Context) bool {
	<-ctx.Done()
	it.err = ctx.Err()
	return false
}

func (it *blockingIterator) Entry() registry.Entry { return registry.Entry{} }
func (it *blockingIterator) Err() error            { return it.err }

func TestControllerStopUnpublishesWhileListIsSlow(t *testing.T) {
	backend := slowScanBackend{MemoryBackend: registry.NewMemoryBackend()}
	client := registry.NewClient(backend, config.NewNopLogger(), registry.WithTimeout(30*time.Second))

	cfg := newTestConfig(t)
	cfg.Registry.Backend = config.BackendMemory
	cfg.Registry.Timeout = 30 * time.Second

	c := New(cfg, config.NewNopLogger(), WithClient(client))
	require.NoError(t, c.Start(context.Background()))

	require.Eventually(t, func() bool {
		return c.Record().IsRegistered()
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, 1, backend.Len())

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, c.Stop(ctx))

	assert.Equal(t, 0, backend.Len(), "查询未完成时也应注销服务记录")
	assert.Equal(t, StateStopped, c.State())

	// 停止时取消查询，启动任务随之结束
	select {
	case <-c.StartupDone():
	case <-time.After(5 * time.Second):
		t.Fatal("停止后查询任务未结束")
	}
}

func TestControllerStopDuringFailedStart(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	cfg := newTestConfig(t)
	cfg.Registry.Backend = config.BackendMemory
	cfg.HTTP.Port = busy.Addr().(*net.TCPAddr).Port

	c := New(cfg, config.NewNopLogger())

	stopped := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		stopped <- c.Stop(ctx)
	}()

	// Stop可能先于或晚于Start执行，两种顺序都不能panic
	startErr := c.Start(context.Background())
	assert.ErrorIs(t, startErr, ErrStartup)

	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Stop未返回")
	}
	assert.Equal(t, StateStopped, c.State())
}

func TestControllerStopIsIdempotent(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Registry.Backend = config.BackendMemory

	c := New(cfg, config.NewNopLogger())
	require.NoError(t, c.Start(context.Background()))
	waitStartup(t, c)

	stopController(t, c)
	stopController(t, c)
	assert.Equal(t, StateStopped, c.State())

	err := c.Start(context.Background())
	assert.ErrorIs(t, err, ErrStartup, "停止后不能再次启动")
}

func TestControllerStopBeforeStart(t *testing.T) {
	c := New(newTestConfig(t), config.NewNopLogger())
	assert.NoError(t, c.Stop(context.Background()))
	assert.Equal(t, StateStopped, c.State())
}

func TestControllerRun(t *testing.T) {
	mini := miniredis.RunT(t)
	cfg := newTestConfig(t)
	useMiniredis(t, cfg, mini)

	c := New(cfg, config.NewNopLogger())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		select {
		case <-c.StartupDone():
			return c.Record() != nil && c.Record().IsRegistered()
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
	id := c.Record().Registration()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run未在关闭信号后返回")
	}

	assert.Equal(t, StateStopped, c.State())
	assert.Empty(t, mini.HGet(cfg.Redis.RecordsKey, id))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "Created", StateCreated.String())
	assert.Equal(t, "Publishing", StatePublishing.String())
	assert.Equal(t, "Stopped", StateStopped.String())
	assert.Equal(t, "State(42)", State(42).String())
}

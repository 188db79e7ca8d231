package rpcabsorber

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/rpc-absorber/internal/core"
	"github.com/rzpsarthak13/rpc-absorber/internal/ws"
)

func newSite(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("wsfunction") {
		case "core_webservice_get_site_info":
			_, _ = w.Write([]byte(`{"sitename":"Campus","userid":7}`))
		default:
			_, _ = w.Write([]byte(`{"exception":"moodle_exception","errorcode":"invalidtoken","message":"Invalid token"}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func testConfig(baseURL string) *Config {
	cfg := DefaultConfig()
	cfg.Store.Type = "memory"
	cfg.WS.BaseURL = baseURL
	cfg.WS.Token = "secret"
	cfg.WS.SiteID = "campus"
	cfg.Events.PollInterval = 10 * time.Millisecond
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "sqlite", cfg.Store.Type)
	assert.Equal(t, "memory", cfg.Events.QueueType)
	assert.Equal(t, 10, cfg.WS.QueueLimit)
	assert.Equal(t, 50*time.Millisecond, cfg.WS.QueueDelay)
	assert.Equal(t, 7*time.Minute, cfg.WS.Frequencies.Usually)
	assert.Equal(t, 12*time.Hour, cfg.WS.Frequencies.Rarely)
	assert.Equal(t, 1.5, cfg.WS.MeteredMultiplier)
	assert.Equal(t, 7*24*time.Hour, cfg.WS.BackgroundWindow)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absorber.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  type: memory
ws:
  site_id: campus
  base_url: https://campus.example.org
  queue_limit: 5
  frequencies:
    usually: 2m
tables:
  courses:
    strategy: lazy
    lazy_lifetime: 30s
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store.Type)
	assert.Equal(t, "campus", cfg.WS.SiteID)
	assert.Equal(t, 5, cfg.WS.QueueLimit)
	assert.Equal(t, 2*time.Minute, cfg.WS.Frequencies.Usually)
	assert.Equal(t, 20*time.Minute, cfg.WS.Frequencies.Often, "defaults are kept")
	assert.Equal(t, TableConfig{Strategy: "lazy", LazyLifetime: 30 * time.Second}, cfg.Tables["courses"])

	_, err = LoadConfig(filepath.Join(t.TempDir(), "absorber.toml"))
	assert.Error(t, err)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("RPC_ABSORBER_STORE_TYPE", "memory")
	t.Setenv("RPC_ABSORBER_WS_BASE_URL", "https://campus.example.org")
	t.Setenv("RPC_ABSORBER_WS_QUEUE_DELAY", "20ms")

	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store.Type)
	assert.Equal(t, "https://campus.example.org", cfg.WS.BaseURL)
	assert.Equal(t, 20*time.Millisecond, cfg.WS.QueueDelay)
}

func TestNewClientValidates(t *testing.T) {
	_, err := NewClient(nil)
	assert.Error(t, err)

	cfg := testConfig("https://campus.example.org")
	cfg.Store.Type = "oracle"
	_, err = NewClient(cfg)
	assert.Error(t, err)
}

func TestClientWithoutSiteIsOffline(t *testing.T) {
	c, err := NewClient(testConfig(""))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.WS().Read(context.Background(), "core_webservice_get_site_info", nil)
	assert.ErrorIs(t, err, core.ErrOffline)

	_, err = c.ListTables(context.Background())
	assert.Error(t, err, "the memory store has no catalog")
}

func TestClientDescribesSQLiteTables(t *testing.T) {
	cfg := testConfig("")
	cfg.Store.Type = "sqlite"
	cfg.Store.Path = filepath.Join(t.TempDir(), "absorber.db")
	c, err := NewClient(cfg)
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	names, err := c.ListTables(ctx)
	require.NoError(t, err)
	assert.Contains(t, names, ws.CacheTableName)

	sc, err := c.DescribeTable(ctx, ws.CacheTableName)
	require.NoError(t, err)
	assert.Equal(t, []string{"id"}, sc.PrimaryKeys)
	_, ok := sc.Column("last_modified")
	assert.True(t, ok)
}

func TestClientCallsAndCaches(t *testing.T) {
	srv, hits := newSite(t)
	c, err := NewClient(testConfig(srv.URL))
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	type siteInfo struct {
		SiteName string `json:"sitename"`
		UserID   int    `json:"userid"`
	}
	info, err := ws.Decode[siteInfo](c.WS().Read(ctx, "core_webservice_get_site_info", nil))
	require.NoError(t, err)
	assert.Equal(t, siteInfo{SiteName: "Campus", UserID: 7}, info)

	_, err = c.WS().Read(ctx, "core_webservice_get_site_info", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, hits.Load())

	c.SetOnline(false)
	_, err = c.WS().Read(ctx, "core_course_get_courses", nil)
	assert.ErrorIs(t, err, core.ErrOffline)
	assert.EqualValues(t, 1, hits.Load())
}

func TestClientDeliversSessionEvents(t *testing.T) {
	srv, _ := newSite(t)
	c, err := NewClient(testConfig(srv.URL))
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	var (
		mu  sync.Mutex
		got []*Event
	)
	unsubscribe := c.Subscribe(core.EventSessionExpired, func(_ context.Context, e *core.Event) error {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
		return nil
	})
	defer unsubscribe()
	require.NoError(t, c.Start(ctx))
	assert.True(t, c.IsRunning())
	assert.NotNil(t, c.Events())

	_, err = c.WS().Read(ctx, "core_course_get_courses", nil)
	var silent *ws.SilentError
	require.ErrorAs(t, err, &silent)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.Equal(t, "campus", got[0].SiteID)
	assert.Equal(t, "core_course_get_courses", got[0].Method)
	mu.Unlock()

	require.NoError(t, c.Stop())
	assert.False(t, c.IsRunning())
}

func TestClientTables(t *testing.T) {
	srv, _ := newSite(t)
	cfg := testConfig(srv.URL)
	cfg.Tables = map[string]TableConfig{"courses": {Strategy: "eager"}}
	c, err := NewClient(cfg)
	require.NoError(t, err)
	ctx := context.Background()

	sc := &Schema{
		TableName:   "courses",
		PrimaryKeys: []string{"id"},
		Columns: []Column{
			{Name: "id", Type: "INTEGER"},
			{Name: "fullname", Type: "TEXT", Nullable: true},
		},
	}
	courses, err := c.Table(ctx, "courses", sc)
	require.NoError(t, err)
	_, err = courses.Insert(ctx, Record{"id": 3, "fullname": "Physics"})
	require.NoError(t, err)

	r, err := courses.GetOneByPrimaryKey(ctx, Record{"id": 3})
	require.NoError(t, err)
	assert.Equal(t, "Physics", r["fullname"])

	require.NoError(t, c.CloseTable(ctx, "courses"))
	require.NoError(t, c.Close())

	_, err = c.Table(ctx, "courses", sc)
	assert.ErrorIs(t, err, core.ErrClosed)
	assert.ErrorIs(t, c.Start(ctx), core.ErrClosed)
}

package testutil

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	gormPostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/megayours/pfp-inventory/internal/api"
	"github.com/megayours/pfp-inventory/internal/chain"
	"github.com/megayours/pfp-inventory/internal/config"
	"github.com/megayours/pfp-inventory/internal/logging"
	"github.com/megayours/pfp-inventory/internal/metrics"
	"github.com/megayours/pfp-inventory/internal/repository"
	repoPostgres "github.com/megayours/pfp-inventory/internal/repository/postgres"
	"github.com/megayours/pfp-inventory/internal/service"
	"github.com/megayours/pfp-inventory/internal/upload"
	"github.com/megayours/pfp-inventory/internal/websocket"
)

// TestDB manages a testcontainers PostgreSQL instance
type TestDB struct {
	Container testcontainers.Container
	DB        *gorm.DB
	DSN       string
}

// NewTestDB creates a new PostgreSQL testcontainer and returns a migrated connection
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()

	ctx := context.Background()

	container, err := tcPostgres.Run(ctx,
		"postgres:15-alpine",
		tcPostgres.WithDatabase("test_pfp_inventory"),
		tcPostgres.WithUsername("test"),
		tcPostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	db, err := gorm.Open(gormPostgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to connect to database: %v", err)
	}

	if err := repoPostgres.Migrate(db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	testDB := &TestDB{
		Container: container,
		DB:        db,
		DSN:       dsn,
	}

	t.Cleanup(func() {
		testDB.Cleanup()
	})

	return testDB
}

// Cleanup terminates the container
func (tdb *TestDB) Cleanup() {
	if tdb.Container != nil {
		tdb.Container.Terminate(context.Background())
	}
}

// Truncate clears all tables for test isolation
func (tdb *TestDB) Truncate(t *testing.T) {
	t.Helper()

	for _, table := range []string{"login_keys", "tabs"} {
		if err := tdb.DB.Exec(fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)).Error; err != nil {
			t.Logf("warning: failed to truncate %s: %v", table, err)
		}
	}
}

// TestConfig returns a configuration pointing both chains at node.
func TestConfig(node *ChainNode) *config.Config {
	cfg := &config.Config{
		Port:                        "0",
		Environment:                 "test",
		JWTSecret:                   "test-jwt-secret-key-for-testing-only",
		TabTokenHours:               1,
		TabIdleTimeout:              time.Hour,
		WalletConnectProjectID:      "test",
		AlchemyID:                   "test",
		FailoverAttemptsPerEndpoint: 2,
		FailoverAttemptInterval:     time.Millisecond,
		SessionTTL:                  12 * time.Hour,
		QueryStale:                  time.Minute,
		SignTimeout:                 5 * time.Second,
		GatewayURL:                  "https://files.test",
		StorageBackend:              "filehub",
		ModelExtensions:             []string{".glb", ".fbx"},
	}
	if node != nil {
		cfg.NodeURLPool = []string{node.URL()}
		cfg.BlockchainRID = node.RID.String()
		cfg.HubBlockchainRID = node.RID.String()
	}
	return cfg
}

// TestServer holds all components for integration testing
type TestServer struct {
	Server   *httptest.Server
	DB       *TestDB
	Node     *ChainNode
	Repos    *repository.Repositories
	Services *service.Services
	Hub      *websocket.Hub
	Metrics  *metrics.Collector
	Config   *config.Config
}

// NewTestServer creates a complete gateway backed by a testcontainers database and a
// fake chain node.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()

	testDB := NewTestDB(t)
	node := NewChainNode(t)
	cfg := TestConfig(node)
	log := logging.NewNop()

	repos := repoPostgres.NewRepositories(testDB.DB)
	m := metrics.New("test")
	hub := websocket.NewHub(log, m)
	go hub.Run()

	services := service.NewServices(service.Options{
		Config:        cfg,
		Repos:         repos,
		Hub:           hub,
		Metrics:       m,
		Logger:        log,
		Store:         upload.NewFilehub(cfg.GatewayURL, 16),
		ClientOptions: []chain.Option{chain.WithStatusPollInterval(2 * time.Millisecond)},
	})
	router := api.NewRouter(services, hub, m, log)

	server := httptest.NewServer(router)

	ts := &TestServer{
		Server:   server,
		DB:       testDB,
		Node:     node,
		Repos:    repos,
		Services: services,
		Hub:      hub,
		Metrics:  m,
		Config:   cfg,
	}

	t.Cleanup(func() {
		server.Close()
		hub.Stop()
	})

	return ts
}

// BaseURL returns the test server's base URL
func (ts *TestServer) BaseURL() string {
	return ts.Server.URL
}

// APIURL returns the full API URL for a given path
func (ts *TestServer) APIURL(path string) string {
	return fmt.Sprintf("%s/api/v1%s", ts.Server.URL, path)
}

// WebSocketURL returns the WebSocket URL with token
func (ts *TestServer) WebSocketURL(token string) string {
	wsURL := "ws" + strings.TrimPrefix(ts.Server.URL, "http")
	return fmt.Sprintf("%s/api/v1/ws?token=%s", wsURL, token)
}

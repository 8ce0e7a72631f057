package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"binary-options-sim/internal/config"
	"binary-options-sim/internal/database"
	"binary-options-sim/internal/events"
	"binary-options-sim/internal/ledger"
	"binary-options-sim/internal/metrics"
	"binary-options-sim/internal/models"
	"binary-options-sim/internal/modes"
	"binary-options-sim/internal/reconcile"
	"binary-options-sim/internal/scheduler"
	"binary-options-sim/internal/settlement"
	"binary-options-sim/internal/store"
	"binary-options-sim/internal/trader"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testToken = "s3cret"

type flatOracle struct{}

func (flatOracle) Price(context.Context, string) (decimal.Decimal, error) {
	return decimal.NewFromInt(60000), nil
}

func newTestServer(t *testing.T) (*Server, *events.Bus) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	db, err := database.NewDatabase("file::memory:")
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	bus := events.NewBus(zap.NewNop())
	clock := scheduler.NewManualClock(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))

	balances := ledger.NewLedger(db, zap.NewNop(), bus, "USDT", decimal.NewFromInt(10000))
	trades := store.NewTradeStore(db, zap.NewNop())
	registry, err := modes.NewRegistry(ctx, db, zap.NewNop())
	require.NoError(t, err)
	profits, err := settlement.NewProfitTable(config.DefaultDurations)
	require.NoError(t, err)

	resolver := settlement.NewResolver(trades, balances, registry, flatOracle{}, settlement.PriceDirection{}, zap.NewNop(),
		settlement.WithPublisher(bus), settlement.WithMetrics(m), settlement.WithClock(clock.Now))
	sched, err := scheduler.New(clock, resolver, 2, zap.NewNop(), m)
	require.NoError(t, err)
	t.Cleanup(sched.Stop)

	engine := trader.NewEngine(zap.NewNop(), []string{"BTCUSDT"}, trader.Deps{
		Ledger:    balances,
		Trades:    trades,
		Modes:     registry,
		Scheduler: sched,
		Oracle:    flatOracle{},
		Profits:   profits,
		Publisher: bus,
		Metrics:   m,
		Clock:     clock,
	})
	sweeper := reconcile.NewSweeper(trades, resolver, sched, clock, time.Minute, m, zap.NewNop(),
		reconcile.WithOrphanRefunds(balances, time.Minute))

	return NewServer(engine, bus, sweeper, reg, config.Server{AdminToken: testToken}, zap.NewNop()), bus
}

func doJSON(t *testing.T, s *Server, method, path string, payload any, admin bool) (int, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(payload))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if admin {
		req.Header.Set(adminTokenHeader, testToken)
	}
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	return w.Code, w.Body.Bytes()
}

func decode[T any](t *testing.T, body []byte) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(body, &out), string(body))
	return out
}

func openBody(user, stake string, duration int) map[string]any {
	return map[string]any{
		"user_id":   user,
		"symbol":    "BTCUSDT",
		"direction": "up",
		"stake":     stake,
		"duration":  duration,
	}
}

func TestHealthAndMetrics(t *testing.T) {
	// Arrange
	s, _ := newTestServer(t)

	// Act
	code, body := doJSON(t, s, http.MethodGet, "/health", nil, false)

	// Assert
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	code, body = doJSON(t, s, http.MethodGet, "/metrics", nil, false)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "options_armed_timers")
}

func TestOpenTradeAndForceWin(t *testing.T) {
	// Arrange
	s, _ := newTestServer(t)

	// Act
	code, body := doJSON(t, s, http.MethodPost, "/api/trades", openBody("alice", "100", 30), false)

	// Assert
	require.Equal(t, http.StatusCreated, code, string(body))
	trade := decode[models.Trade](t, body)
	assert.Equal(t, models.StatusActive, trade.Status)
	assert.Equal(t, models.ResultPending, trade.Result)

	code, body = doJSON(t, s, http.MethodGet, "/api/users/alice/balances", nil, false)
	require.Equal(t, http.StatusOK, code)
	balances := decode[map[string]ledger.BalanceView](t, body)
	assert.True(t, decimal.NewFromInt(9900).Equal(balances["USDT"].Available))
	assert.True(t, balances["USDT"].Locked.IsZero())

	// Act
	code, body = doJSON(t, s, http.MethodPost, "/api/admin/trades/"+trade.ID+"/force", map[string]string{"outcome": "win"}, true)

	// Assert
	require.Equal(t, http.StatusOK, code, string(body))
	settled := decode[models.Trade](t, body)
	assert.Equal(t, models.ResultWin, settled.Result)
	assert.True(t, decimal.NewFromInt(10).Equal(settled.Profit))

	code, body = doJSON(t, s, http.MethodGet, "/api/users/alice/balances", nil, false)
	require.Equal(t, http.StatusOK, code)
	balances = decode[map[string]ledger.BalanceView](t, body)
	assert.True(t, decimal.NewFromInt(10010).Equal(balances["USDT"].Available))

	code, body = doJSON(t, s, http.MethodGet, "/api/trades?user_id=alice", nil, false)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decode[[]models.Trade](t, body), 1)

	code, body = doJSON(t, s, http.MethodGet, "/api/trades/"+trade.ID, nil, false)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, models.StatusCompleted, decode[models.Trade](t, body).Status)

	code, body = doJSON(t, s, http.MethodGet, "/api/users/alice/stats", nil, false)
	require.Equal(t, http.StatusOK, code)
	stats := decode[trader.Statistics](t, body)
	assert.Equal(t, int64(1), stats.AllTime.Wins)
}

func TestUserVisibleErrors(t *testing.T) {
	// Arrange
	s, _ := newTestServer(t)

	// Act & Assert
	code, body := doJSON(t, s, http.MethodPost, "/api/trades", openBody("alice", "20000", 30), false)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.JSONEq(t, `{"error":"insufficient balance"}`, string(body))

	code, body = doJSON(t, s, http.MethodPost, "/api/trades", openBody("alice", "50", 30), false)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, string(body), "below minimum")

	code, _ = doJSON(t, s, http.MethodPost, "/api/trades", map[string]any{"user_id": "alice"}, false)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = doJSON(t, s, http.MethodGet, "/api/trades/nope", nil, false)
	assert.Equal(t, http.StatusNotFound, code)
	assert.JSONEq(t, `{"error":"trade not found"}`, string(body))

	code, _ = doJSON(t, s, http.MethodGet, "/api/trades", nil, false)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = doJSON(t, s, http.MethodPost, "/api/admin/trades/nope/force", map[string]string{"outcome": "win"}, true)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = doJSON(t, s, http.MethodPost, "/api/admin/trades/nope/force", map[string]string{"outcome": "draw"}, true)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestAdminRequiresToken(t *testing.T) {
	// Arrange
	s, _ := newTestServer(t)

	// Act
	code, _ := doJSON(t, s, http.MethodPost, "/api/admin/users/bob/mode", map[string]string{"mode": "forced-win"}, false)

	// Assert
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = doJSON(t, s, http.MethodPost, "/api/admin/sweep", nil, false)
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = doJSON(t, s, http.MethodGet, "/api/admin/ws", nil, false)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestAdminModes(t *testing.T) {
	// Arrange
	s, _ := newTestServer(t)

	// Act
	code, body := doJSON(t, s, http.MethodPost, "/api/admin/users/bob/mode", map[string]string{"mode": "forced-lose"}, true)

	// Assert
	require.Equal(t, http.StatusOK, code, string(body))

	code, body = doJSON(t, s, http.MethodGet, "/api/admin/users/bob/mode", nil, true)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"user_id":"bob","mode":"forced-lose"}`, string(body))

	code, body = doJSON(t, s, http.MethodGet, "/api/admin/modes", nil, true)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"bob":"forced-lose"}`, string(body))

	code, _ = doJSON(t, s, http.MethodPost, "/api/admin/users/bob/mode", map[string]string{"mode": "always-win"}, true)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = doJSON(t, s, http.MethodDelete, "/api/admin/users/bob/mode", nil, true)
	require.Equal(t, http.StatusOK, code)
	code, body = doJSON(t, s, http.MethodGet, "/api/admin/users/bob/mode", nil, true)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"user_id":"bob","mode":"normal"}`, string(body))
}

func TestAdminDepositAndSweep(t *testing.T) {
	// Arrange
	s, _ := newTestServer(t)

	// Act
	code, body := doJSON(t, s, http.MethodPost, "/api/admin/users/carol/deposit", map[string]string{"amount": "250.5"}, true)

	// Assert
	require.Equal(t, http.StatusOK, code, string(body))
	resp := decode[struct {
		Available decimal.Decimal `json:"available"`
	}](t, body)
	assert.True(t, decimal.RequireFromString("10250.5").Equal(resp.Available))

	code, _ = doJSON(t, s, http.MethodPost, "/api/admin/users/carol/deposit", map[string]string{"amount": "-1"}, true)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = doJSON(t, s, http.MethodPost, "/api/admin/sweep", nil, true)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, reconcile.Report{}, decode[reconcile.Report](t, body))
}

func TestDurations(t *testing.T) {
	// Arrange
	s, _ := newTestServer(t)

	// Act
	code, body := doJSON(t, s, http.MethodGet, "/api/config/durations", nil, false)

	// Assert
	require.Equal(t, http.StatusOK, code)
	rates := decode[[]settlement.Rate](t, body)
	require.Len(t, rates, 4)
	assert.Equal(t, 30, rates[0].Seconds)
	assert.True(t, decimal.RequireFromString("0.1").Equal(rates[0].ProfitRate))
}

func dialStream(t *testing.T, srv *httptest.Server, path string, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWebsocketStreamsUserEvents(t *testing.T) {
	// Arrange
	s, bus := newTestServer(t)
	srv := httptest.NewServer(s.Router)
	defer srv.Close()
	conn := dialStream(t, srv, "/ws?user_id=alice", nil)
	require.Eventually(t, func() bool { return bus.Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	// Act: another user's activity must not reach alice.
	code, _ := doJSON(t, s, http.MethodPost, "/api/trades", openBody("mallory", "100", 30), false)
	require.Equal(t, http.StatusCreated, code)
	code, _ = doJSON(t, s, http.MethodPost, "/api/trades", openBody("alice", "100", 30), false)
	require.Equal(t, http.StatusCreated, code)

	// Assert
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got []events.Type
	for len(got) < 2 {
		var evt events.Event
		require.NoError(t, conn.ReadJSON(&evt))
		assert.Equal(t, "alice", evt.UserID)
		got = append(got, evt.Type)
	}
	assert.Equal(t, []events.Type{events.TypeBalanceUpdate, events.TypeTradeOpened}, got)
}

func TestWebsocketRequiresUserUnlessAdmin(t *testing.T) {
	// Arrange
	s, bus := newTestServer(t)
	srv := httptest.NewServer(s.Router)
	defer srv.Close()

	// Act
	code, body := doJSON(t, s, http.MethodGet, "/ws", nil, false)

	// Assert
	assert.Equal(t, http.StatusBadRequest, code)
	assert.JSONEq(t, `{"error":"user_id is required"}`, string(body))
	assert.Zero(t, bus.Subscribers())

	// Arrange
	header := http.Header{}
	header.Set(adminTokenHeader, testToken)
	conn := dialStream(t, srv, "/api/admin/ws", header)
	require.Eventually(t, func() bool { return bus.Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	// Act
	code, _ = doJSON(t, s, http.MethodPost, "/api/trades", openBody("mallory", "100", 30), false)
	require.Equal(t, http.StatusCreated, code)
	code, _ = doJSON(t, s, http.MethodPost, "/api/trades", openBody("alice", "100", 30), false)
	require.Equal(t, http.StatusCreated, code)

	// Assert
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	users := map[string]bool{}
	for i := 0; i < 4; i++ {
		var evt events.Event
		require.NoError(t, conn.ReadJSON(&evt))
		users[evt.UserID] = true
	}
	assert.Equal(t, map[string]bool{"alice": true, "mallory": true}, users)
}

func TestJournal(t *testing.T) {
	// Arrange
	s, _ := newTestServer(t)
	code, body := doJSON(t, s, http.MethodPost, "/api/trades", openBody("alice", "100", 30), false)
	require.Equal(t, http.StatusCreated, code, string(body))
	trade := decode[models.Trade](t, body)

	// Act
	code, body = doJSON(t, s, http.MethodGet, "/api/users/alice/journal?asset=usdt&limit=1", nil, false)

	// Assert
	require.Equal(t, http.StatusOK, code, string(body))
	entries := decode[[]models.LedgerEntry](t, body)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.StakeRef(trade.ID), entries[0].Ref)
	assert.Equal(t, models.EntryDebit, entries[0].Kind)
	assert.True(t, decimal.NewFromInt(100).Equal(entries[0].Amount))
	assert.True(t, decimal.NewFromInt(9900).Equal(entries[0].BalanceAfter))

	code, _ = doJSON(t, s, http.MethodGet, "/api/users/alice/journal?limit=zero", nil, false)
	assert.Equal(t, http.StatusBadRequest, code)
}

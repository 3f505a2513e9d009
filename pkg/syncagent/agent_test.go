package syncagent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gws "github.com/gorilla/websocket"
	"github.com/nsxzhou1114/bloodlink-api/internal/config"
	"github.com/nsxzhou1114/bloodlink-api/internal/dto"
	"github.com/nsxzhou1114/bloodlink-api/internal/model"
	"github.com/nsxzhou1114/bloodlink-api/internal/router"
	"github.com/nsxzhou1114/bloodlink-api/internal/service"
	"github.com/nsxzhou1114/bloodlink-api/internal/testutil"
	"github.com/nsxzhou1114/bloodlink-api/pkg/auth"
	"github.com/nsxzhou1114/bloodlink-api/pkg/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type testServer struct {
	store  *service.NotificationService
	hub    *websocket.Hub
	srv    *httptest.Server
	token  string
	userID uint

	mu  sync.Mutex
	now time.Time
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zaptest.NewLogger(t).Sugar()
	db := testutil.NewTestDB(t)
	user := testutil.CreateUser(t, db, "reader")

	ts := &testServer{userID: user.ID, now: time.Now().UTC()}
	ts.store = service.NewNotificationService(db, log, 5*time.Minute, time.Second).WithClock(ts.clock)
	ts.hub = websocket.NewHub(websocket.Config{}, log, nil)
	require.NoError(t, ts.hub.Start(context.Background()))
	t.Cleanup(ts.hub.Stop)

	tokens := auth.NewManager("secret", "bloodlink", time.Hour)
	tok, err := tokens.Generate(user.ID, "user")
	require.NoError(t, err)
	ts.token = tok

	cfg := &config.Config{}
	cfg.App.Mode = gin.TestMode
	cfg.Realtime.Path = "/api/ws"
	matcher := service.NewMatchEngine(service.NewGormDonorFinder(db), log, time.Second)
	delivery := service.NewDeliveryService(ts.store, matcher, ts.hub, nil, log, service.DeliveryOptions{})
	engine := router.New(&router.Deps{
		Config:        cfg,
		Logger:        log,
		Tokens:        tokens,
		Hub:           ts.hub,
		Notifications: ts.store,
		BloodRequests: service.NewBloodRequestService(db, log, delivery, time.Second),
		Comments:      service.NewCommentService(db, log, delivery, time.Second),
	})
	ts.srv = httptest.NewServer(engine)
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) clock() time.Time {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.now
}

func (ts *testServer) setClock(t time.Time) {
	ts.mu.Lock()
	ts.now = t
	ts.mu.Unlock()
}

func (ts *testServer) write(t *testing.T, at time.Time, redirect string) *model.Notification {
	t.Helper()
	ts.setClock(at)
	n, err := ts.store.Write(context.Background(), &service.NotificationInput{
		RecipientID:  ts.userID,
		Kind:         model.KindComment,
		Message:      "alice commented on your post",
		Verb:         "commented on your post",
		RedirectPath: redirect,
	})
	require.NoError(t, err)
	return n
}

func (ts *testServer) options(cursor CursorStore, sessions chan Transport) Options {
	return Options{
		BaseURL:           ts.srv.URL + "/api",
		WSURL:             "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/api/ws",
		Token:             ts.token,
		RecipientID:       ts.userID,
		ReconnectAttempts: 2,
		ReconnectDelay:    20 * time.Millisecond,
		PollInterval:      50 * time.Millisecond,
		Cursor:            cursor,
		OnSession: func(mode Transport) {
			select {
			case sessions <- mode:
			default:
			}
		},
	}
}

func runAgent(t *testing.T, opts Options) *Agent {
	t.Helper()
	agent, err := New(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- agent.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-errCh:
		case <-time.After(3 * time.Second):
			t.Error("agent did not stop")
		}
	})
	return agent
}

func waitSession(t *testing.T, sessions chan Transport) Transport {
	t.Helper()
	select {
	case mode := <-sessions:
		return mode
	case <-time.After(5 * time.Second):
		t.Fatal("no session established")
		return ""
	}
}

func TestAgentCatchUpAfterOfflinePeriod(t *testing.T) {
	ts := newTestServer(t)
	lastChecked := time.Now().UTC().Add(-30 * time.Minute)

	old := ts.write(t, lastChecked.Add(-time.Minute), "/posts/1")
	// 离线 10 分钟内发生的两条
	a := ts.write(t, lastChecked.Add(2*time.Minute), "/posts/2")
	b := ts.write(t, lastChecked.Add(7*time.Minute), "/posts/3")
	ts.setClock(time.Now().UTC())

	cursor := NewMemoryCursorStore(lastChecked)
	sessions := make(chan Transport, 4)
	opts := ts.options(cursor, sessions)
	opts.Transports = []Transport{TransportWebSocket}
	agent := runAgent(t, opts)

	assert.Equal(t, TransportWebSocket, waitSession(t, sessions))
	require.Equal(t, 2, agent.Cache().Len())
	_, okA := agent.Cache().Get(a.ID)
	_, okB := agent.Cache().Get(b.ID)
	assert.True(t, okA)
	assert.True(t, okB)
	assert.True(t, lastChecked.Equal(agent.LastCheckedAt()), "cursor must not move on catch-up")

	before := time.Now().UTC()
	page, err := agent.OpenFullList(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	assert.Equal(t, 3, agent.Cache().Len())
	_, okOld := agent.Cache().Get(old.ID)
	assert.True(t, okOld)

	saved, err := cursor.Load()
	require.NoError(t, err)
	assert.False(t, saved.Before(before))
	assert.Equal(t, saved, agent.LastCheckedAt())
}

func TestAgentDedupsLivePushAgainstCatchUp(t *testing.T) {
	ts := newTestServer(t)
	bucket := time.Now().UTC().Add(-10 * time.Minute)
	n := ts.write(t, bucket.Add(time.Minute), "/posts/9")

	sessions := make(chan Transport, 4)
	opts := ts.options(NewMemoryCursorStore(time.Time{}), sessions)
	opts.Transports = []Transport{TransportWebSocket}
	agent := runAgent(t, opts)
	waitSession(t, sessions)
	require.Equal(t, 1, agent.Cache().Len())

	// 等待房间加入完成后推送同一条通知
	require.Eventually(t, func() bool { return ts.hub.RoomSize(ts.userID) == 1 }, 2*time.Second, 10*time.Millisecond)
	v := agent.Cache().Version()
	_, err := ts.hub.Push(context.Background(), ts.userID, websocket.Event{
		Type: websocket.EventComment,
		Data: service.ToNotificationResponse(n),
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return agent.Cache().Version() > v }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, agent.Cache().Len())

	// 聚合后人数增加，同一ID更新而不是新增
	merged := ts.write(t, bucket.Add(2*time.Minute), "/posts/9")
	require.Equal(t, n.ID, merged.ID)
	v = agent.Cache().Version()
	_, err = ts.hub.Push(context.Background(), ts.userID, websocket.Event{
		Type: websocket.EventComment,
		Data: service.ToNotificationResponse(merged),
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return agent.Cache().Version() > v }, 2*time.Second, 10*time.Millisecond)
	got, ok := agent.Cache().Get(n.ID)
	require.True(t, ok)
	assert.Equal(t, 2, got.ActorCount)
	assert.Equal(t, 1, agent.Cache().Len())
}

func TestAgentDebouncesBroadcastPushes(t *testing.T) {
	ts := newTestServer(t)
	sessions := make(chan Transport, 4)
	opts := ts.options(NewMemoryCursorStore(time.Now().UTC()), sessions)
	opts.Transports = []Transport{TransportWebSocket}
	opts.DebounceWindow = 300 * time.Millisecond
	agent := runAgent(t, opts)
	waitSession(t, sessions)
	require.Eventually(t, func() bool { return ts.hub.RoomSize(ts.userID) == 1 }, 2*time.Second, 10*time.Millisecond)

	v := agent.Cache().Version()
	for i := 1; i <= 5; i++ {
		_, err := ts.hub.Push(context.Background(), ts.userID, websocket.Event{
			Type: websocket.EventBloodRequest,
			Data: dto.NotificationResponse{ID: uint(1000 + i), RecipientID: ts.userID, Kind: "resource_request", ActorCount: 1},
		})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return agent.Cache().Len() == 5 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, v+1, agent.Cache().Version())
}

func TestAgentDowngradesToPolling(t *testing.T) {
	ts := newTestServer(t)
	sessions := make(chan Transport, 4)
	opts := ts.options(NewMemoryCursorStore(time.Time{}), sessions)
	opts.WSURL = "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/no-such-endpoint"
	agent := runAgent(t, opts)

	assert.Equal(t, TransportPolling, waitSession(t, sessions))
	assert.Equal(t, TransportPolling, agent.Mode())

	n := ts.write(t, time.Now().UTC(), "/posts/5")
	require.Eventually(t, func() bool {
		_, ok := agent.Cache().Get(n.ID)
		return ok
	}, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, agent.MarkRead(context.Background(), n.ID))
	got, _ := agent.Cache().Get(n.ID)
	assert.True(t, got.IsRead)
}

func TestAgentGivesUpWhenNoTransportWorks(t *testing.T) {
	dead := httptest.NewServer(nil)
	url := dead.URL
	dead.Close()

	agent, err := New(Options{
		BaseURL:           url + "/api",
		WSURL:             "ws" + strings.TrimPrefix(url, "http") + "/api/ws",
		RecipientID:       1,
		ReconnectAttempts: 2,
		ReconnectDelay:    time.Millisecond,
	})
	require.NoError(t, err)
	assert.ErrorIs(t, agent.Run(context.Background()), ErrNoTransport)
	assert.Equal(t, Transport(""), agent.Mode())
}

// newFlappingServer 确认加入房间后立即断开连接，返回建连次数计数器
func newFlappingServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var dials atomic.Int32
	upgrader := gws.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws" {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		dials.Add(1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var msg websocket.InboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		_ = conn.WriteJSON(websocket.Envelope{
			Type: websocket.EventRoomJoined,
			Data: websocket.RoomInfo{Room: "user:1", Count: 1},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &dials
}

func flappingOptions(srv *httptest.Server) Options {
	return Options{
		BaseURL:     srv.URL + "/api",
		WSURL:       "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		RecipientID: 1,
		Transports:  []Transport{TransportWebSocket},
	}
}

func TestAgentDowngradesAfterRepeatedShortSessions(t *testing.T) {
	srv, dials := newFlappingServer(t)
	opts := flappingOptions(srv)
	opts.ReconnectAttempts = 3
	opts.ReconnectDelay = 100 * time.Millisecond

	agent, err := New(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	start := time.Now()
	assert.ErrorIs(t, agent.Run(ctx), ErrNoTransport)

	assert.Equal(t, int32(3), dials.Load())
	// 三次会话之间两次等待
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
}

func TestAgentWaitsBetweenReconnects(t *testing.T) {
	srv, dials := newFlappingServer(t)
	opts := flappingOptions(srv)
	opts.ReconnectAttempts = 100
	opts.ReconnectDelay = 200 * time.Millisecond

	agent, err := New(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.ErrorIs(t, agent.Run(ctx), context.DeadlineExceeded)

	n := dials.Load()
	assert.GreaterOrEqual(t, n, int32(2))
	assert.LessOrEqual(t, n, int32(6))
}

func TestNewRequiresRecipient(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

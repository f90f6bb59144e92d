package realtime_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"client-portal/internal/auth"
	"client-portal/internal/changefeed"
	"client-portal/internal/realtime"
	"client-portal/internal/server"
	"client-portal/internal/store"
	"github.com/cenkalti/backoff/v4"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type portal struct {
	srv    *httptest.Server
	store  *store.Store
	broker *changefeed.Broker
}

func newPortal(t *testing.T) *portal {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	broker := changefeed.NewBroker(changefeed.Options{Logger: logger})
	st, err := store.Open(filepath.Join(t.TempDir(), "portal.db"), store.Options{Sink: broker, Logger: logger})
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))

	svc := auth.NewService(st, auth.TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "test"},
		auth.Options{BcryptCost: bcrypt.MinCost, Logger: logger})
	router := server.NewRouter(server.Deps{
		Store:    st,
		Auth:     svc,
		Broker:   broker,
		Logger:   logger,
		Registry: prometheus.NewRegistry(),
	})
	srv := httptest.NewServer(router)

	t.Cleanup(func() {
		srv.Close()
		broker.Close()
		_ = st.Close()
	})
	return &portal{srv: srv, store: st, broker: broker}
}

// dropper hands out websocket dialers whose connections can be severed
// from the client side.
type dropper struct {
	mu    sync.Mutex
	conns []net.Conn
}

func (d *dropper) dialer() *websocket.Dialer {
	return &websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			var nd net.Dialer
			c, err := nd.DialContext(ctx, network, addr)
			if err == nil {
				d.mu.Lock()
				d.conns = append(d.conns, c)
				d.mu.Unlock()
			}
			return c, err
		},
	}
}

func (d *dropper) drop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.conns {
		_ = c.Close()
	}
	d.conns = nil
}

func (p *portal) wsURL() string {
	return "ws" + strings.TrimPrefix(p.srv.URL, "http") + "/realtime/v1/websocket"
}

func (p *portal) post(t *testing.T, path, token string, body any) map[string]any {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, p.srv.URL+path, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Less(t, resp.StatusCode, 300, "POST %s: status %d", path, resp.StatusCode)

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (p *portal) signIn(t *testing.T, email string) (token, userID string) {
	t.Helper()
	if _, err := p.store.GetUserByEmail(context.Background(), email); errors.Is(err, store.ErrNotFound) {
		p.post(t, "/auth/v1/signup", "", map[string]any{"email": email, "password": "password123"})
	}
	out := p.post(t, "/auth/v1/token", "", map[string]any{"email": email, "password": "password123"})
	user := out["user"].(map[string]any)
	return out["accessToken"].(string), user["id"].(string)
}

func (p *portal) create(t *testing.T, token, name string) string {
	t.Helper()
	out := p.post(t, "/api/projects", token, map[string]any{"name": name})
	return out["project"].(map[string]any)["id"].(string)
}

func TestSyncer_OtherClientInsertGrowsCollection(t *testing.T) {
	p := newPortal(t)
	tokenA, userID := p.signIn(t, "ada@example.com")
	tokenB, _ := p.signIn(t, "ada@example.com")

	p.create(t, tokenA, "Website")
	p.create(t, tokenA, "Audit")
	const n = 2

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	coll := realtime.NewCollection(nil)
	syncer := &realtime.Syncer{
		Client: &realtime.Client{URL: p.wsURL(), Token: tokenB},
		Loader: &realtime.HTTPLoader{BaseURL: p.srv.URL, Token: tokenB},
		Spec:   realtime.Spec{Table: "projects"},
	}
	errc := make(chan error, 1)
	go func() { errc <- syncer.Run(ctx, coll) }()

	require.Eventually(t, func() bool {
		return coll.Len() == n && p.broker.Subscribers(userID) == 1
	}, 5*time.Second, 10*time.Millisecond)

	p.create(t, tokenA, "Migration")

	require.Eventually(t, func() bool { return coll.Len() == n+1 }, 5*time.Second, 10*time.Millisecond)
	newest := coll.Rows()[0]
	require.Equal(t, "Migration", newest["name"])
	require.Equal(t, "Planning", newest["status"])

	cancel()
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("syncer did not stop")
	}
	require.Eventually(t, func() bool { return p.broker.Subscribers(userID) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestSubscribe_RefusedChannel(t *testing.T) {
	p := newPortal(t)
	token, _ := p.signIn(t, "ada@example.com")

	client := &realtime.Client{URL: p.wsURL(), Token: token}
	_, err := client.Subscribe(context.Background(), realtime.Spec{Table: "invoices"})

	var serr *realtime.SubscriptionError
	require.ErrorAs(t, err, &serr)
	require.Equal(t, changefeed.StatusChannelError, serr.Status)
}

func TestSubscribe_RejectsBadToken(t *testing.T) {
	p := newPortal(t)
	client := &realtime.Client{URL: p.wsURL(), Token: "nope"}
	_, err := client.Subscribe(context.Background(), realtime.Spec{Table: "projects"})
	require.Error(t, err)
}

func TestSubscription_LifecycleStates(t *testing.T) {
	p := newPortal(t)
	token, _ := p.signIn(t, "ada@example.com")

	client := &realtime.Client{URL: p.wsURL(), Token: token}
	sub, err := client.Subscribe(context.Background(), realtime.Spec{Table: "projects", Event: "INSERT"})
	require.NoError(t, err)
	require.Equal(t, realtime.StateSubscribed, sub.State())

	p.create(t, token, "Kickoff")
	select {
	case ev := <-sub.Events():
		require.Equal(t, "Kickoff", ev.New["name"])
	case <-time.After(5 * time.Second):
		t.Fatal("no event delivered")
	}
	require.Equal(t, realtime.StateActive, sub.State())

	require.NoError(t, sub.Close())
	require.Equal(t, realtime.StateClosed, sub.State())
	for range sub.Events() {
	}
	require.NoError(t, sub.Err())
}

func TestSubscription_ConnectionLoss(t *testing.T) {
	p := newPortal(t)
	token, _ := p.signIn(t, "ada@example.com")

	d := &dropper{}
	client := &realtime.Client{URL: p.wsURL(), Token: token, Dialer: d.dialer()}
	sub, err := client.Subscribe(context.Background(), realtime.Spec{Table: "tasks"})
	require.NoError(t, err)

	d.drop()

	select {
	case _, ok := <-sub.Events():
		require.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("stream not closed after connection loss")
	}
	require.Equal(t, realtime.StateErrored, sub.State())
	require.ErrorIs(t, sub.Err(), realtime.ErrConnectionLost)
	require.NoError(t, sub.Close())
}

func TestSyncer_WithoutReconnectStopsOnLoss(t *testing.T) {
	p := newPortal(t)
	token, userID := p.signIn(t, "ada@example.com")

	d := &dropper{}
	syncer := &realtime.Syncer{
		Client: &realtime.Client{URL: p.wsURL(), Token: token, Dialer: d.dialer()},
		Loader: &realtime.HTTPLoader{BaseURL: p.srv.URL, Token: token},
		Spec:   realtime.Spec{Table: "projects"},
	}
	coll := realtime.NewCollection(nil)
	errc := make(chan error, 1)
	go func() { errc <- syncer.Run(context.Background(), coll) }()

	require.Eventually(t, func() bool { return p.broker.Subscribers(userID) == 1 }, 5*time.Second, 10*time.Millisecond)
	d.drop()

	select {
	case err := <-errc:
		require.ErrorIs(t, err, realtime.ErrConnectionLost)
	case <-time.After(5 * time.Second):
		t.Fatal("syncer kept running after connection loss")
	}
}

func TestSyncer_ReconnectReloads(t *testing.T) {
	p := newPortal(t)
	token, userID := p.signIn(t, "ada@example.com")
	p.create(t, token, "Before")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := &dropper{}
	coll := realtime.NewCollection(nil)
	syncer := &realtime.Syncer{
		Client:    &realtime.Client{URL: p.wsURL(), Token: token, Dialer: d.dialer()},
		Loader:    &realtime.HTTPLoader{BaseURL: p.srv.URL, Token: token},
		Spec:      realtime.Spec{Table: "projects"},
		Reconnect: func() backoff.BackOff { return backoff.NewConstantBackOff(300 * time.Millisecond) },
	}
	go func() { _ = syncer.Run(ctx, coll) }()

	require.Eventually(t, func() bool {
		return coll.Len() == 1 && p.broker.Subscribers(userID) == 1
	}, 5*time.Second, 10*time.Millisecond)

	d.drop()
	require.Eventually(t, func() bool { return p.broker.Subscribers(userID) == 0 }, 5*time.Second, 5*time.Millisecond)

	// written while disconnected: picked up by the reload
	p.create(t, token, "During")

	require.Eventually(t, func() bool {
		return coll.Len() == 2 && p.broker.Subscribers(userID) == 1
	}, 5*time.Second, 10*time.Millisecond)

	p.create(t, token, "After")
	require.Eventually(t, func() bool { return coll.Len() == 3 }, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, "After", coll.Rows()[0]["name"])
}

package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"marketplace-dispatch/internal/apperr"
	"marketplace-dispatch/internal/domain"
	"marketplace-dispatch/internal/logx"
	"marketplace-dispatch/internal/session"
)

type stubResponder struct {
	acceptFn func(ctx context.Context, orderID string, courierID int64) (domain.AcceptResult, error)
	rejectFn func(ctx context.Context, orderID string, courierID int64) (domain.RejectResult, error)
}

func (s stubResponder) Accept(ctx context.Context, orderID string, courierID int64) (domain.AcceptResult, error) {
	return s.acceptFn(ctx, orderID, courierID)
}

func (s stubResponder) Reject(ctx context.Context, orderID string, courierID int64) (domain.RejectResult, error) {
	return s.rejectFn(ctx, orderID, courierID)
}

func startServer(t *testing.T, hub *session.Hub, responder session.Responder) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/courier", func(w http.ResponseWriter, r *http.Request) {
		_ = hub.ServeCourier(w, r, 7, responder, nil)
	})
	mux.HandleFunc("/order", func(w http.ResponseWriter, r *http.Request) {
		_ = hub.ServeOrder(w, r, "o-1")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, v))
}

func TestHub_CourierPresenceAndDelivery(t *testing.T) {
	t.Parallel()
	hub := session.NewHub(logx.Nop())
	srv := startServer(t, hub, nil)
	ctx := context.Background()

	online, err := hub.IsOnline(ctx, 7)
	require.NoError(t, err)
	require.False(t, online)

	conn := dial(t, srv, "/courier")
	require.Eventually(t, func() bool {
		ok, _ := hub.IsOnline(ctx, 7)
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	summary := domain.OrderSummary{OrderID: "o-1", ItemCount: 2}
	require.NoError(t, hub.Publish(ctx, domain.CourierTopic(7), domain.Event{
		Type: domain.EventJobOffer, OrderID: "o-1", Summary: &summary,
	}))

	var ev domain.Event
	readJSON(t, conn, &ev)
	require.Equal(t, domain.EventJobOffer, ev.Type)
	require.Equal(t, 2, ev.Summary.ItemCount)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		ok, _ := hub.IsOnline(ctx, 7)
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHub_OrderChannelIsolation(t *testing.T) {
	t.Parallel()
	hub := session.NewHub(logx.Nop())
	srv := startServer(t, hub, nil)
	ctx := context.Background()

	conn := dial(t, srv, "/order")
	require.Eventually(t, func() bool {
		return hub.Subscribers(domain.OrderTopic("o-1")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Publish(ctx, domain.OrderTopic("o-2"), domain.Event{Type: domain.EventDispatchExhausted, OrderID: "o-2"}))
	require.NoError(t, hub.Publish(ctx, domain.OrderTopic("o-1"), domain.Event{Type: domain.EventDispatchExhausted, OrderID: "o-1"}))

	var ev domain.Event
	readJSON(t, conn, &ev)
	require.Equal(t, "o-1", ev.OrderID)
}

func TestHub_ForwardsCourierFrames(t *testing.T) {
	t.Parallel()
	hub := session.NewHub(logx.Nop())
	responder := stubResponder{
		acceptFn: func(_ context.Context, orderID string, courierID int64) (domain.AcceptResult, error) {
			return domain.AcceptResult{OrderID: orderID, CourierID: courierID}, nil
		},
		rejectFn: func(context.Context, string, int64) (domain.RejectResult, error) {
			return domain.RejectResult{}, apperr.ErrUnauthorized
		},
	}
	srv := startServer(t, hub, responder)
	conn := dial(t, srv, "/courier")

	require.NoError(t, conn.WriteJSON(session.Frame{Type: "accept", OrderID: "o-9"}))
	var rep struct {
		Type    string              `json:"type"`
		OrderID string              `json:"order_id"`
		Result  domain.AcceptResult `json:"result"`
		Error   string              `json:"error"`
	}
	readJSON(t, conn, &rep)
	require.Equal(t, "accept_result", rep.Type)
	require.Equal(t, int64(7), rep.Result.CourierID)
	require.Empty(t, rep.Error)

	require.NoError(t, conn.WriteJSON(session.Frame{Type: "reject", OrderID: "o-9"}))
	var rejected session.Reply
	readJSON(t, conn, &rejected)
	require.Equal(t, "reject_result", rejected.Type)
	require.Equal(t, apperr.ErrUnauthorized.Error(), rejected.Error)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{oops")))
	var bad session.Reply
	readJSON(t, conn, &bad)
	require.Equal(t, "error", bad.Type)
}

type recordingPublisher struct {
	topics []string
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, _ domain.Event) error {
	p.topics = append(p.topics, topic)
	return p.err
}

func TestFanout_PrimaryErrorsOnly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	primary := &recordingPublisher{}
	mirror := &recordingPublisher{err: errors.New("kafka down")}
	f := session.NewFanout(primary, logx.Nop(), mirror)

	require.NoError(t, f.Publish(ctx, "order:o-1", domain.Event{Type: domain.EventDispatchOutcome}))
	require.Equal(t, []string{"order:o-1"}, primary.topics)
	require.Equal(t, []string{"order:o-1"}, mirror.topics)

	primary.err = errors.New("no session")
	require.Error(t, f.Publish(ctx, "courier:1", domain.Event{Type: domain.EventJobOffer}))
	require.Len(t, mirror.topics, 1, "mirrors are skipped when the primary fails")
}

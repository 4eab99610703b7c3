package ratelimit

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func withCourierParam(r *http.Request, id string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("courierID", id)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestCourierKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		param string
		body  string
		want  string
	}{
		{name: "route param", param: "42", want: "courier:42"},
		{name: "route param wins over body", param: "42", body: `{"courier_id":9}`, want: "courier:42"},
		{name: "body", body: `{"courier_id":9}`, want: "courier:9"},
		{name: "bad route param falls back to body", param: "x", body: `{"courier_id":9}`, want: "courier:9"},
		{name: "non-positive courier", body: `{"courier_id":0}`, want: "ip:1.2.3.4"},
		{name: "malformed body", body: `{"courier_id":`, want: "ip:1.2.3.4"},
		{name: "no body", want: "ip:1.2.3.4"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var body io.Reader
			if tt.body != "" {
				body = strings.NewReader(tt.body)
			}
			r := httptest.NewRequest(http.MethodPost, "http://example/", body)
			r.RemoteAddr = "1.2.3.4:5678"
			if tt.param != "" {
				r = withCourierParam(r, tt.param)
			}

			require.Equal(t, tt.want, CourierKey(r))
		})
	}
}

func TestCourierKey_OversizedBodyIsRestored(t *testing.T) {
	t.Parallel()

	payload := `{"courier_id":5,"pad":"` + strings.Repeat("x", maxPeekBytes) + `"}`
	r := httptest.NewRequest(http.MethodPost, "http://example/", strings.NewReader(payload))
	r.RemoteAddr = "10.0.0.1:1"

	require.Equal(t, "ip:10.0.0.1", CourierKey(r))

	raw, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	require.Equal(t, payload, string(raw))
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)

	r.RemoteAddr = "not-a-hostport"
	require.Equal(t, "not-a-hostport", clientIP(r))

	r.RemoteAddr = ""
	require.Equal(t, "unknown", clientIP(r))
}

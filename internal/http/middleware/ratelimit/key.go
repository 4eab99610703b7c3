package ratelimit

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// maxPeekBytes bounds how much of a request body is inspected for a courier id.
const maxPeekBytes = 4 << 10

// KeyFunc derives the throttling key of a request.
type KeyFunc func(r *http.Request) string

// CourierKey throttles per courier. The id comes from the courierID route parameter or
// from the courier_id field of a JSON body. Requests without one share their client address.
func CourierKey(r *http.Request) string {
	if id, ok := parseCourierID(chi.URLParam(r, "courierID")); ok {
		return courierKey(id)
	}
	if id, ok := courierIDFromBody(r); ok {
		return courierKey(id)
	}
	return "ip:" + clientIP(r)
}

func courierKey(id int64) string {
	return "courier:" + strconv.FormatInt(id, 10)
}

func parseCourierID(raw string) (int64, bool) {
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// courierIDFromBody reads the head of the body and puts it back for the handler.
func courierIDFromBody(r *http.Request) (int64, bool) {
	if r.Body == nil || r.Body == http.NoBody {
		return 0, false
	}
	head, err := io.ReadAll(io.LimitReader(r.Body, maxPeekBytes+1))
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(head), r.Body), r.Body}
	if err != nil || len(head) > maxPeekBytes {
		return 0, false
	}

	var body struct {
		CourierID int64 `json:"courier_id"`
	}
	if err := json.Unmarshal(head, &body); err != nil || body.CourierID <= 0 {
		return 0, false
	}
	return body.CourierID, true
}

// clientIP expects chi's RealIP middleware to have normalized RemoteAddr already.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

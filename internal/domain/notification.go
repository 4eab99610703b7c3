package domain

import (
	"sort"
	"time"
)

// NotificationState is the ephemeral race state of one offer round.
// It is owned by the race coordinator and never persisted durably.
type NotificationState struct {
	OrderID    string    `json:"order_id"`
	Notified   []int64   `json:"notified"`
	Rejected   []int64   `json:"rejected"`
	AcceptedBy *int64    `json:"accepted_by,omitempty"`
	OfferedAt  time.Time `json:"offered_at"`
}

// NewNotificationState seeds a round with the couriers that actually received the offer.
func NewNotificationState(orderID string, notified []int64, now time.Time) *NotificationState {
	return &NotificationState{
		OrderID:   orderID,
		Notified:  normalizeIDs(notified),
		Rejected:  []int64{},
		OfferedAt: now,
	}
}

// IsNotified reports whether the courier received the offer.
func (s *NotificationState) IsNotified(courierID int64) bool {
	return containsID(s.Notified, courierID)
}

// HasRejected reports whether the courier already declined.
func (s *NotificationState) HasRejected(courierID int64) bool {
	return containsID(s.Rejected, courierID)
}

// Accepted reports whether a courier has won the round.
func (s *NotificationState) Accepted() bool {
	return s.AcceptedBy != nil
}

// Reject records a decline. It returns false if the courier already declined.
func (s *NotificationState) Reject(courierID int64) bool {
	if s.HasRejected(courierID) {
		return false
	}
	s.Rejected = normalizeIDs(append(s.Rejected, courierID))
	return true
}

// Exhausted reports whether every notified courier declined and nobody accepted.
func (s *NotificationState) Exhausted() bool {
	if s.Accepted() || len(s.Notified) == 0 {
		return false
	}
	for _, id := range s.Notified {
		if !s.HasRejected(id) {
			return false
		}
	}
	return true
}

// Others returns the notified couriers except the given one.
func (s *NotificationState) Others(courierID int64) []int64 {
	out := make([]int64, 0, len(s.Notified))
	for _, id := range s.Notified {
		if id != courierID {
			out = append(out, id)
		}
	}
	return out
}

// Pending returns notified couriers that have not declined yet.
func (s *NotificationState) Pending() []int64 {
	out := make([]int64, 0, len(s.Notified))
	for _, id := range s.Notified {
		if !s.HasRejected(id) {
			out = append(out, id)
		}
	}
	return out
}

// normalizeIDs returns a sorted copy without duplicates.
func normalizeIDs(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func containsID(ids []int64, id int64) bool {
	i := sort.Search(len(ids), func(i int) bool { return ids[i] >= id })
	return i < len(ids) && ids[i] == id
}

// Clone returns a deep copy of the state.
func (s *NotificationState) Clone() *NotificationState {
	if s == nil {
		return nil
	}
	out := *s
	out.Notified = append([]int64(nil), s.Notified...)
	out.Rejected = append([]int64{}, s.Rejected...)
	if s.AcceptedBy != nil {
		id := *s.AcceptedBy
		out.AcceptedBy = &id
	}
	return &out
}

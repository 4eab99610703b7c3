package dispatch_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"marketplace-dispatch/internal/domain"
	"marketplace-dispatch/internal/logx"
	"marketplace-dispatch/internal/ports/dispatchtx"
	"marketplace-dispatch/internal/service/dispatch"
	"marketplace-dispatch/internal/state"
	"marketplace-dispatch/internal/testutil"
)

// fakeDB emulates the durable store: orders, couriers, sellers and outcomes.
// Transactions are serialized and staged, and only applied on commit.
type fakeDB struct {
	mu       sync.Mutex
	txMu     sync.Mutex
	orders   map[string]*domain.Order
	couriers map[int64]domain.Courier
	sellers  map[int64]domain.Seller
	outcomes []domain.DispatchOutcome
	listErr  error
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		orders:   make(map[string]*domain.Order),
		couriers: make(map[int64]domain.Courier),
		sellers:  make(map[int64]domain.Seller),
	}
}

func cloneOrder(o *domain.Order) *domain.Order {
	cp := *o
	cp.Sellers = append([]domain.SellerGroup(nil), o.Sellers...)
	if o.AssignedCourierID != nil {
		id := *o.AssignedCourierID
		cp.AssignedCourierID = &id
	}
	if o.AssignedAt != nil {
		at := *o.AssignedAt
		cp.AssignedAt = &at
	}
	return &cp
}

func (db *fakeDB) addOrder(o *domain.Order) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.orders[o.ID] = cloneOrder(o)
}

func (db *fakeDB) addCourier(c domain.Courier) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.couriers[c.ID] = c
}

func (db *fakeDB) addSeller(s domain.Seller) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.sellers[s.ID] = s
}

func (db *fakeDB) order(id string) *domain.Order {
	db.mu.Lock()
	defer db.mu.Unlock()
	o, ok := db.orders[id]
	if !ok {
		return nil
	}
	return cloneOrder(o)
}

func (db *fakeDB) outcomesFor(orderID string) []domain.DispatchOutcome {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []domain.DispatchOutcome
	for _, o := range db.outcomes {
		if o.OrderID == orderID {
			out = append(out, o)
		}
	}
	return out
}

func (db *fakeDB) GetSnapshot(_ context.Context, orderID string) (*domain.Order, error) {
	return db.order(orderID), nil
}

func (db *fakeDB) ListOutcomes(_ context.Context, orderID string) ([]domain.DispatchOutcome, error) {
	return db.outcomesFor(orderID), nil
}

// busyLocked returns the couriers holding an unfinished order.
func (db *fakeDB) busyLocked() map[int64]bool {
	busy := make(map[int64]bool)
	for _, o := range db.orders {
		if o.AssignedCourierID != nil && o.Status.HoldsCourier() {
			busy[*o.AssignedCourierID] = true
		}
	}
	return busy
}

func (db *fakeDB) ListEligible(context.Context) ([]domain.Courier, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.listErr != nil {
		return nil, db.listErr
	}
	busy := db.busyLocked()
	var out []domain.Courier
	for _, c := range db.couriers {
		c.Busy = busy[c.ID]
		if c.Online && c.Active && !c.Busy {
			out = append(out, c)
		}
	}
	return out, nil
}

func (db *fakeDB) Get(_ context.Context, id int64) (*domain.Courier, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	c, ok := db.couriers[id]
	if !ok {
		return nil, nil
	}
	c.Busy = db.busyLocked()[id]
	return &c, nil
}

func (db *fakeDB) Locations(_ context.Context, ids []int64) ([]domain.Seller, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []domain.Seller
	for _, id := range ids {
		if s, ok := db.sellers[id]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (db *fakeDB) WithTx(ctx context.Context, fn func(tx dispatchtx.Repository) error) error {
	db.txMu.Lock()
	defer db.txMu.Unlock()

	tx := &fakeTx{db: db, staged: make(map[string]*domain.Order)}
	if err := fn(tx); err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	for id, o := range tx.staged {
		db.orders[id] = o
	}
	db.outcomes = append(db.outcomes, tx.outcomes...)
	return nil
}

type fakeTx struct {
	db       *fakeDB
	staged   map[string]*domain.Order
	outcomes []domain.DispatchOutcome
}

func (tx *fakeTx) current(orderID string) *domain.Order {
	if o, ok := tx.staged[orderID]; ok {
		return o
	}
	o := tx.db.order(orderID)
	if o != nil {
		tx.staged[orderID] = o
	}
	return o
}

func (tx *fakeTx) GetOrder(_ context.Context, orderID string) (*domain.Order, error) {
	o := tx.current(orderID)
	if o == nil {
		return nil, nil
	}
	return cloneOrder(o), nil
}

func (tx *fakeTx) AssignCourier(_ context.Context, orderID string, courierID int64, at time.Time) (bool, error) {
	o := tx.current(orderID)
	if o == nil || o.AssignedCourierID != nil || o.Status != domain.OrderStatusReadyForPickup {
		return false, nil
	}
	o.AssignedCourierID = &courierID
	o.AssignedAt = &at
	o.Status = domain.OrderStatusCourierAssigned
	return true, nil
}

func (tx *fakeTx) MarkExhausted(_ context.Context, orderID string, reason domain.OutcomeReason, declined int) (bool, error) {
	o := tx.current(orderID)
	if o == nil || o.AssignedCourierID != nil || o.Status != domain.OrderStatusReadyForPickup {
		return false, nil
	}
	o.Status = domain.OrderStatusNoCourier
	o.RejectionReason = string(reason)
	o.DeclinedCount = declined
	return true, nil
}

func (tx *fakeTx) InsertOutcome(_ context.Context, o *domain.DispatchOutcome) error {
	tx.outcomes = append(tx.outcomes, *o)
	return nil
}

// fakeSessions is a live-session registry.
type fakeSessions struct {
	mu     sync.Mutex
	online map[int64]bool
	errFor map[int64]error
}

func newFakeSessions(ids ...int64) *fakeSessions {
	s := &fakeSessions{online: make(map[int64]bool), errFor: make(map[int64]error)}
	for _, id := range ids {
		s.online[id] = true
	}
	return s
}

func (s *fakeSessions) IsOnline(_ context.Context, courierID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errFor[courierID]; err != nil {
		return false, err
	}
	return s.online[courierID], nil
}

type published struct {
	topic string
	ev    domain.Event
}

// recordingPublisher remembers every published event. Events of a hung type block until ctx is done.
type recordingPublisher struct {
	mu     sync.Mutex
	events []published
	errFor map[string]error
	hung   map[domain.EventType]bool
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{errFor: make(map[string]error), hung: make(map[domain.EventType]bool)}
}

func (p *recordingPublisher) hang(t domain.EventType) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hung[t] = true
}

func (p *recordingPublisher) Publish(ctx context.Context, topic string, ev domain.Event) error {
	p.mu.Lock()
	hung := p.hung[ev.Type]
	p.mu.Unlock()
	if hung {
		<-ctx.Done()
		return ctx.Err()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.errFor[topic]; err != nil {
		return err
	}
	p.events = append(p.events, published{topic: topic, ev: ev})
	return nil
}

func (p *recordingPublisher) byType(t domain.EventType) []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []published
	for _, e := range p.events {
		if e.ev.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (p *recordingPublisher) topics(t domain.EventType) []string {
	var out []string
	for _, e := range p.byType(t) {
		out = append(out, e.topic)
	}
	return out
}

// countingRecorder counts metric calls.
type countingRecorder struct {
	mu           sync.Mutex
	offers       int
	outcomes     map[string]int
	conflicts    int
	unauthorized int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{outcomes: make(map[string]int)}
}

func (r *countingRecorder) OfferSent(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offers += n
}

func (r *countingRecorder) Outcome(res domain.Resolution, reason domain.OutcomeReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[string(res)+"/"+string(reason)]++
}

func (r *countingRecorder) AcceptConflict() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conflicts++
}

func (r *countingRecorder) UnauthorizedResponse() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unauthorized++
}

// stickyStore wraps a StateStore whose Delete always fails.
type stickyStore struct {
	dispatch.StateStore
}

func (stickyStore) Delete(context.Context, string) error { return errBoom }

// failingStore wraps a StateStore and fails Get for one order.
type failingStore struct {
	dispatch.StateStore
	orderID string
	err     error
}

func (s failingStore) Get(ctx context.Context, orderID string) (*domain.NotificationState, error) {
	if orderID == s.orderID {
		return nil, s.err
	}
	return s.StateStore.Get(ctx, orderID)
}

var errBoom = errors.New("boom")

type harness struct {
	notifyTimeout time.Duration

	db          *fakeDB
	sessions    *fakeSessions
	pub         *recordingPublisher
	metrics     *countingRecorder
	store       dispatch.StateStore
	coordinator *dispatch.Coordinator
	svc         *dispatch.Service
	logs        *testlog.Recorder
}

func newHarness(t *testing.T, store dispatch.StateStore) *harness {
	t.Helper()
	if store == nil {
		store = state.NewMemoryStore()
	}
	h := &harness{
		db:       newFakeDB(),
		sessions: newFakeSessions(),
		pub:      newRecordingPublisher(),
		metrics:  newCountingRecorder(),
		store:    store,
		logs:     testlog.New(),
	}
	h.build()
	return h
}

// build wires the engine around the harness fakes. Calling it again simulates a restart
// against the same durable store.
func (h *harness) build() {
	var logger logx.Logger = h.logs.Logger()
	b := dispatch.NewBroadcaster(h.sessions, h.pub, h.metrics, h.notifyTimeout, logger)
	h.coordinator = dispatch.NewCoordinator(dispatch.CoordinatorDeps{
		Store:       h.store,
		Locker:      state.NewMemoryLocker(),
		Orders:      h.db,
		Couriers:    h.db,
		Broadcaster: b,
		Resolver:    dispatch.NewResolver(h.db, b, h.metrics, logger),
		Cascade:     dispatch.NewCascade(h.db, b, h.metrics, logger),
		Metrics:     h.metrics,
		Logger:      logger,
	})
	h.svc = dispatch.NewService(
		h.db,
		h.db,
		dispatch.NewEligibility(h.db),
		dispatch.NewMatcher(h.db),
		h.coordinator,
		2*time.Second,
		logger,
	)
}

// seedOrder adds a ready order picked up from one unlocated seller, and n online couriers 1..n.
func (h *harness) seedOrder(orderID string, n int) {
	h.db.addSeller(domain.Seller{ID: 100})
	h.db.addOrder(&domain.Order{
		ID:      orderID,
		Status:  domain.OrderStatusReadyForPickup,
		Sellers: []domain.SellerGroup{{SellerID: 100, Items: []domain.Item{{ProductID: "p", Quantity: 1}}}},
	})
	for i := int64(1); i <= int64(n); i++ {
		h.db.addCourier(domain.Courier{ID: i, Online: true, Active: true})
		h.sessions.mu.Lock()
		h.sessions.online[i] = true
		h.sessions.mu.Unlock()
	}
}

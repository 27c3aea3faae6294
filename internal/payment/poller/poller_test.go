package poller

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"domainpay/internal/payment/models"
	paymentstore "domainpay/internal/payment/store"
	pkgerrors "domainpay/pkg/errors"
)

type fakeGateway struct {
	mu        sync.Mutex
	responses map[string]models.Notification
	errors    map[string]error
	queried   []string
}

func (g *fakeGateway) Status(_ context.Context, merchantOrderID string) (models.Notification, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queried = append(g.queried, merchantOrderID)
	if err, ok := g.errors[merchantOrderID]; ok {
		return models.Notification{}, err
	}
	return g.responses[merchantOrderID], nil
}

func (g *fakeGateway) queriedIDs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.queried))
	copy(out, g.queried)
	return out
}

type fakeReconciler struct {
	mu      sync.Mutex
	applied []models.Notification
	expired []string
}

func (r *fakeReconciler) Apply(_ context.Context, n models.Notification, _ models.Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applied = append(r.applied, n)
	return nil
}

func (r *fakeReconciler) Expire(_ context.Context, merchantOrderID string, _ models.Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expired = append(r.expired, merchantOrderID)
	return nil
}

type denyListClaims struct{ denied map[string]bool }

func (c denyListClaims) TryClaim(_ context.Context, merchantOrderID string) bool {
	return !c.denied[merchantOrderID]
}

func seedPending(t *testing.T, store *paymentstore.InMemory, merchantOrderID string, expiresAt *time.Time) {
	t.Helper()
	require.NoError(t, store.Create(context.Background(), &models.Transaction{
		MerchantOrderID: merchantOrderID,
		OrderID:         1,
		Amount:          100,
		ExpiresAt:       expiresAt,
	}))
}

func newTestPoller(store *paymentstore.InMemory, gw *fakeGateway, rec *fakeReconciler, claims Claims) *Poller {
	return New(store, gw, rec, claims, nil, slog.Default(), Config{
		Interval:    time.Minute,
		BatchLimit:  10,
		Concurrency: 4,
	})
}

func TestTickAppliesGatewayStatuses(t *testing.T) {
	store := paymentstore.NewInMemory()
	seedPending(t, store, "INV-001", nil)
	seedPending(t, store, "INV-002", nil)

	gw := &fakeGateway{responses: map[string]models.Notification{
		"INV-001": {MerchantOrderID: "INV-001", ResultCode: "00", Amount: 100},
		"INV-002": {MerchantOrderID: "INV-002", ResultCode: "01"},
	}}
	rec := &fakeReconciler{}

	newTestPoller(store, gw, rec, nil).Tick(context.Background())

	assert.ElementsMatch(t, []string{"INV-001", "INV-002"}, gw.queriedIDs())
	require.Len(t, rec.applied, 2)
	assert.Empty(t, rec.expired)
}

// One transaction's gateway failure must not keep the rest of the batch from
// reconciling.
func TestTickIsolatesFailures(t *testing.T) {
	store := paymentstore.NewInMemory()
	seedPending(t, store, "INV-001", nil)
	seedPending(t, store, "INV-002", nil)
	seedPending(t, store, "INV-003", nil)

	gw := &fakeGateway{
		responses: map[string]models.Notification{
			"INV-001": {MerchantOrderID: "INV-001", ResultCode: "00", Amount: 100},
			"INV-003": {MerchantOrderID: "INV-003", ResultCode: "02"},
		},
		errors: map[string]error{
			"INV-002": pkgerrors.New(pkgerrors.CodeUnavailable, "gateway down"),
		},
	}
	rec := &fakeReconciler{}

	newTestPoller(store, gw, rec, nil).Tick(context.Background())

	assert.Len(t, gw.queriedIDs(), 3)
	require.Len(t, rec.applied, 2)
	for _, n := range rec.applied {
		assert.NotEqual(t, "INV-002", n.MerchantOrderID)
	}
}

func TestTickExpiresPastWindowWithoutGatewayCall(t *testing.T) {
	store := paymentstore.NewInMemory()
	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)
	seedPending(t, store, "INV-OLD", &past)
	seedPending(t, store, "INV-NEW", &future)

	gw := &fakeGateway{responses: map[string]models.Notification{
		"INV-NEW": {MerchantOrderID: "INV-NEW", ResultCode: "01"},
	}}
	rec := &fakeReconciler{}

	newTestPoller(store, gw, rec, nil).Tick(context.Background())

	assert.Equal(t, []string{"INV-OLD"}, rec.expired)
	assert.Equal(t, []string{"INV-NEW"}, gw.queriedIDs())
}

func TestTickHonorsClaims(t *testing.T) {
	store := paymentstore.NewInMemory()
	seedPending(t, store, "INV-001", nil)
	seedPending(t, store, "INV-002", nil)

	gw := &fakeGateway{responses: map[string]models.Notification{
		"INV-002": {MerchantOrderID: "INV-002", ResultCode: "01"},
	}}
	rec := &fakeReconciler{}
	claims := denyListClaims{denied: map[string]bool{"INV-001": true}}

	newTestPoller(store, gw, rec, claims).Tick(context.Background())

	// INV-001 is claimed by another replica this tick; skip it entirely.
	assert.Equal(t, []string{"INV-002"}, gw.queriedIDs())
}

func TestTickEmptyBatch(t *testing.T) {
	store := paymentstore.NewInMemory()
	gw := &fakeGateway{}
	rec := &fakeReconciler{}

	newTestPoller(store, gw, rec, nil).Tick(context.Background())

	assert.Empty(t, gw.queriedIDs())
	assert.Empty(t, rec.applied)
}

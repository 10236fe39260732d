package billing

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shoplium/shoplium/app/models"
)

type fakeLedger struct {
	records map[string]*models.UserSubscription
	nextID  uint

	upserts int
	failFor map[string]error
	scanErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{records: make(map[string]*models.UserSubscription), failFor: make(map[string]error)}
}

func (l *fakeLedger) put(rec models.UserSubscription) {
	if rec.ID == 0 {
		l.nextID++
		rec.ID = l.nextID
	} else if rec.ID > l.nextID {
		l.nextID = rec.ID
	}
	l.records[rec.UserID] = &rec
}

func (l *fakeLedger) Get(_ context.Context, userID string) (*models.UserSubscription, error) {
	rec, ok := l.records[userID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	clone := *rec
	return &clone, nil
}

func (l *fakeLedger) Upsert(_ context.Context, rec *models.UserSubscription) error {
	l.upserts++
	if err := l.failFor[rec.UserID]; err != nil {
		return err
	}
	l.put(*rec)
	rec.ID = l.records[rec.UserID].ID
	return nil
}

func (l *fakeLedger) ScanPendingDue(_ context.Context, now time.Time, afterID uint, limit int) ([]models.UserSubscription, error) {
	if l.scanErr != nil {
		return nil, l.scanErr
	}
	var out []models.UserSubscription
	for _, rec := range l.records {
		if rec.ID > afterID && rec.PendingDue(now) {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeGateway struct {
	name          string
	subscriptions map[string]*SubscriptionSnapshot
	payments      map[string]*PaymentSnapshot
	cancelResult  *CancelResult
	cancelErr     error
	cancelled     []string
}

func newFakeGateway(name string) *fakeGateway {
	return &fakeGateway{
		name:          name,
		subscriptions: make(map[string]*SubscriptionSnapshot),
		payments:      make(map[string]*PaymentSnapshot),
	}
}

func (g *fakeGateway) Name() string { return g.name }

func (g *fakeGateway) GetSubscription(_ context.Context, id string) (*SubscriptionSnapshot, error) {
	sub, ok := g.subscriptions[id]
	if !ok {
		return nil, fmt.Errorf("%w: subscription %s not found", ErrProvider, id)
	}
	return sub, nil
}

func (g *fakeGateway) GetPayment(_ context.Context, id string, _ PaymentKind) (*PaymentSnapshot, error) {
	payment, ok := g.payments[id]
	if !ok {
		return nil, fmt.Errorf("%w: payment %s not found", ErrProvider, id)
	}
	return payment, nil
}

func (g *fakeGateway) CancelSubscription(_ context.Context, id string) (*CancelResult, error) {
	g.cancelled = append(g.cancelled, id)
	if g.cancelErr != nil {
		return nil, g.cancelErr
	}
	if g.cancelResult != nil {
		return g.cancelResult, nil
	}
	return &CancelResult{}, nil
}

type fakeEventStore struct {
	seen      map[string]bool
	processed map[string]error
}

func newFakeEventStore() *fakeEventStore {
	return &fakeEventStore{seen: make(map[string]bool), processed: make(map[string]error)}
}

func (s *fakeEventStore) Record(_ context.Context, ev *models.BillingWebhookEvent) (bool, error) {
	key := ev.Provider + "/" + ev.ProviderEventID
	if s.seen[key] {
		return false, nil
	}
	s.seen[key] = true
	return true, nil
}

func (s *fakeEventStore) MarkProcessed(_ context.Context, provider, providerEventID string, processingErr error) error {
	s.processed[provider+"/"+providerEventID] = processingErr
	return nil
}

type fakeIdentity struct {
	plans  map[string]string
	setErr error
	writes []string
}

func newFakeIdentity() *fakeIdentity {
	return &fakeIdentity{plans: make(map[string]string)}
}

func (f *fakeIdentity) GetPlan(_ context.Context, userID string) (string, error) {
	if plan, ok := f.plans[userID]; ok {
		return plan, nil
	}
	return models.PlanFree, nil
}

func (f *fakeIdentity) SetPlan(_ context.Context, userID, plan string) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.plans[userID] = plan
	f.writes = append(f.writes, userID+"="+plan)
	return nil
}

type fakeStores struct {
	stores    map[string][]models.Store
	updateErr map[string]error
	updates   []string
}

func newFakeStores() *fakeStores {
	return &fakeStores{stores: make(map[string][]models.Store), updateErr: make(map[string]error)}
}

func (f *fakeStores) ListStoresByUser(_ context.Context, userID string) ([]models.Store, error) {
	return f.stores[userID], nil
}

func (f *fakeStores) UpdateStoreActive(_ context.Context, storeID string, active bool) error {
	if err := f.updateErr[storeID]; err != nil {
		return err
	}
	for userID, stores := range f.stores {
		for i := range stores {
			if stores[i].StoreID == storeID {
				f.stores[userID][i].StoreStatus = active
			}
		}
	}
	f.updates = append(f.updates, fmt.Sprintf("%s=%t", storeID, active))
	return nil
}

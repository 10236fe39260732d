package billing

import (
	"context"
	"log"

	"github.com/shoplium/shoplium/app/models"
	"github.com/shoplium/shoplium/internal/pkg/identity"
	"github.com/shoplium/shoplium/internal/pkg/storecatalog"
)

// Propagator pushes an effective plan out to the systems that consume it:
// the identity provider's plan attribute and the activation flag on every
// store the user owns. Both targets are projections of the subscription
// ledger and are repaired by the reconciliation sweep, so per-store
// failures are logged and skipped rather than failing the whole write.
type Propagator struct {
	identity identity.Provider
	stores   storecatalog.Catalog
}

func NewPropagator(idp identity.Provider, stores storecatalog.Catalog) *Propagator {
	return &Propagator{identity: idp, stores: stores}
}

// SetPlan writes the plan attribute and then fans out to the user's stores.
// The identity write is the authoritative one: if it fails the error is
// returned and the stores are left alone for the sweep to repair.
func (p *Propagator) SetPlan(ctx context.Context, userID, plan string) error {
	if err := p.identity.SetPlan(ctx, userID, plan); err != nil {
		return err
	}
	p.SyncStores(ctx, userID, plan)
	return nil
}

// SyncStores flips every store of the user to match the plan: any paid plan
// activates the storefronts, the free plan deactivates them. Individual
// store failures do not abort the fan-out.
func (p *Propagator) SyncStores(ctx context.Context, userID, plan string) {
	stores, err := p.stores.ListStoresByUser(ctx, userID)
	if err != nil {
		log.Printf("[Billing] listing stores for %s failed: %v", userID, err)
		return
	}

	active := plan != models.PlanFree
	for _, store := range stores {
		if store.StoreStatus == active {
			continue
		}
		if err := p.stores.UpdateStoreActive(ctx, store.StoreID, active); err != nil {
			log.Printf("[Billing] updating store %s (user %s) failed: %v", store.StoreID, userID, err)
			continue
		}
		log.Printf("[Billing] store %s set active=%t for user %s", store.StoreID, active, userID)
	}
}

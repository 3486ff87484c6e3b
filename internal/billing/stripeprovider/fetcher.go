package stripeprovider

import (
	"context"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

// APIFetcher resolves subscription details through the Stripe API.
type APIFetcher struct {
	api *client.API
}

func NewAPIFetcher(apiKey string) *APIFetcher {
	api := &client.API{}
	api.Init(apiKey, nil)
	return &APIFetcher{api: api}
}

func (f *APIFetcher) Subscription(ctx context.Context, id string) (string, time.Time, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := f.api.Subscriptions.Get(id, params)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("stripe subscription get: %w", err)
	}
	if sub.Items == nil || len(sub.Items.Data) == 0 {
		return "", time.Time{}, fmt.Errorf("subscription %s has no items", id)
	}
	item := sub.Items.Data[0]
	priceID := ""
	if item.Price != nil {
		priceID = item.Price.ID
	}
	var end time.Time
	if item.CurrentPeriodEnd > 0 {
		end = time.Unix(item.CurrentPeriodEnd, 0).UTC()
	}
	return priceID, end, nil
}

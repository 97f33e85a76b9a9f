package broadcast

import (
	"context"
	"time"

	"newsbot/internal/model"
)

// Completeness is the resolver's view of one article revision.
type Completeness struct {
	Eligible int
	Sent     int
	// Missing lists eligible subscription ids without a sent row.
	Missing  []int64
	Complete bool
}

// Resolver flips an article's published flag once every currently eligible
// subscriber has a sent delivery for its current revision.
type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver { return &Resolver{store: store} }

// Evaluate re-reads the active subscriber set, so subscribers disabled during
// the pass no longer count and ones confirmed mid-pass do. Zero eligible
// subscribers is never complete.
func (r *Resolver) Evaluate(ctx context.Context, a model.Article) (Completeness, error) {
	subs, err := r.store.ListActiveSubscriptions(ctx)
	if err != nil {
		return Completeness{}, err
	}
	eligible := Eligible(a, subs)
	var c Completeness
	c.Eligible = len(eligible)
	if c.Eligible == 0 {
		return c, nil
	}
	sent, err := r.store.SentSubscriberIDs(ctx, a.ID, a.Revision)
	if err != nil {
		return Completeness{}, err
	}
	for _, sub := range eligible {
		if _, ok := sent[sub.ID]; ok {
			c.Sent++
			continue
		}
		c.Missing = append(c.Missing, sub.ID)
	}
	c.Complete = len(c.Missing) == 0
	return c, nil
}

// Resolve evaluates a and marks it published when complete. published
// reports whether this call flipped the flag.
func (r *Resolver) Resolve(ctx context.Context, a model.Article, now time.Time) (c Completeness, published bool, err error) {
	c, err = r.Evaluate(ctx, a)
	if err != nil || !c.Complete {
		return c, false, err
	}
	published, err = r.store.MarkArticlePublished(ctx, a.ID, a.Revision, now)
	return c, published, err
}

package broadcast

import (
	"context"
	"time"

	"newsbot/internal/model"
)

// selectPage is how many pending articles one storage read returns.
const selectPage = 100

// Candidate is one unpublished article with the subscribers eligible for it,
// ordered by subscription id.
type Candidate struct {
	Article    model.Article
	Recipients []model.Subscription
	// AllSent is set on stalled candidates whose every eligible subscriber
	// already has the current revision.
	AllSent bool
}

// Selection splits pending articles into those with something to send and
// stalled ones. An article is stalled when nobody is eligible for it or every
// eligible subscriber holds a sent or permanently_failed row for its current
// revision. Stalled articles are not counted against the per-pass limit.
type Selection struct {
	Candidates []Candidate
	Stalled    []Candidate
}

type Selector struct {
	store Store
}

func NewSelector(store Store) *Selector { return &Selector{store: store} }

// Candidates returns due articles oldest first, at most limit of them with
// work to do (0 means no bound). Active subscriptions are read once per call
// so every article in a pass sees the same subscriber set.
func (s *Selector) Candidates(ctx context.Context, now time.Time, limit int) (Selection, error) {
	var (
		sel   Selection
		subs  []model.Subscription
		after model.ArticleCursor
		read  bool
	)
	page := selectPage
	if limit > 0 {
		page = max(limit, selectPage)
	}
	for {
		articles, err := s.store.ListPendingArticles(ctx, now, after, page)
		if err != nil {
			return Selection{}, err
		}
		if len(articles) > 0 && !read {
			if subs, err = s.store.ListActiveSubscriptions(ctx); err != nil {
				return Selection{}, err
			}
			read = true
		}
		for _, a := range articles {
			c := Candidate{Article: a, Recipients: Eligible(a, subs)}
			work, allSent, err := s.pending(ctx, c)
			if err != nil {
				return Selection{}, err
			}
			if !work {
				c.AllSent = allSent
				sel.Stalled = append(sel.Stalled, c)
				continue
			}
			sel.Candidates = append(sel.Candidates, c)
			if limit > 0 && len(sel.Candidates) >= limit {
				return sel, nil
			}
		}
		if len(articles) < page {
			return sel, nil
		}
		after = articles[len(articles)-1].Cursor()
	}
}

// pending reports whether some eligible subscriber of c still needs the
// current revision, and whether all of them already have it.
func (s *Selector) pending(ctx context.Context, c Candidate) (work, allSent bool, err error) {
	if len(c.Recipients) == 0 {
		return false, false, nil
	}
	statuses, err := s.store.DeliveryStatuses(ctx, c.Article.ID, c.Article.Revision)
	if err != nil {
		return false, false, err
	}
	allSent = true
	for _, sub := range c.Recipients {
		switch statuses[sub.ID] {
		case model.StatusSent:
		case model.StatusPermanentlyFailed:
			allSent = false
		default:
			return true, false, nil
		}
	}
	return false, allSent, nil
}

// Eligible filters subs down to those that are active and whose filter
// accepts the article's source. Input order is preserved.
func Eligible(a model.Article, subs []model.Subscription) []model.Subscription {
	out := make([]model.Subscription, 0, len(subs))
	for _, sub := range subs {
		if sub.Eligible(a.Source) {
			out = append(out, sub)
		}
	}
	return out
}

package inbox

import (
	"context"
	"sync"
	"time"

	"github.com/lexcomms/internal/logger"
	"github.com/lexcomms/internal/model"
	"github.com/lexcomms/internal/stream"
)

func nowUTC() time.Time { return time.Now().UTC() }

// conversationUnreadMaxPages bounds how deep the per-conversation
// derivation pages through unread message notifications.
const conversationUnreadMaxPages = 5

// CategoryState is the reconciler's view of one category list. Items are
// newest first; NextCursor resumes where Items end.
type CategoryState struct {
	Items      []model.Notification
	HasMore    bool
	NextCursor string
	Loading    bool
	Err        error
}

// Reconciler keeps an eventually consistent local copy of the user's
// notification center. Live stream events only trigger refetches; the REST
// responses are the source of truth, so a dropped frame can never corrupt
// state, only delay it.
type Reconciler struct {
	api      *Client
	pageSize int

	mu         sync.Mutex
	categories map[model.Category]*CategoryState
	unread     UnreadCounts
	convUnread map[string]int
}

func NewReconciler(api *Client, pageSize int) *Reconciler {
	if pageSize <= 0 {
		pageSize = 20
	}
	return &Reconciler{
		api:        api,
		pageSize:   pageSize,
		categories: make(map[model.Category]*CategoryState),
		unread:     UnreadCounts{ByCategory: make(map[model.Category]int)},
		convUnread: make(map[string]int),
	}
}

func (r *Reconciler) state(category model.Category) *CategoryState {
	st, ok := r.categories[category]
	if !ok {
		st = &CategoryState{}
		r.categories[category] = st
	}
	return st
}

// Snapshot returns a copy of one category's state.
func (r *Reconciler) Snapshot(category model.Category) CategoryState {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.state(category)
	cp := *st
	cp.Items = append([]model.Notification(nil), st.Items...)
	return cp
}

// Unread returns the last fetched unread counts.
func (r *Reconciler) Unread() UnreadCounts {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := UnreadCounts{Total: r.unread.Total, ByCategory: make(map[model.Category]int, len(r.unread.ByCategory))}
	for k, v := range r.unread.ByCategory {
		cp.ByCategory[k] = v
	}
	return cp
}

// Refresh reloads the first page of category and the unread counts,
// replacing whatever was cached.
func (r *Reconciler) Refresh(ctx context.Context, category model.Category) error {
	r.mu.Lock()
	st := r.state(category)
	if st.Loading {
		r.mu.Unlock()
		return nil
	}
	st.Loading = true
	r.mu.Unlock()

	page, err := r.api.List(ctx, category, "", false, r.pageSize)

	r.mu.Lock()
	st.Loading = false
	if err != nil {
		st.Err = err
		r.mu.Unlock()
		return err
	}
	st.Err = nil
	st.Items = page.Items
	st.HasMore = page.HasMore
	st.NextCursor = page.NextCursor
	r.mu.Unlock()

	return r.refreshCounts(ctx)
}

// LoadMore appends the next page. It is a no-op while a load is in flight
// or when the category is exhausted.
func (r *Reconciler) LoadMore(ctx context.Context, category model.Category) error {
	r.mu.Lock()
	st := r.state(category)
	if st.Loading || !st.HasMore {
		r.mu.Unlock()
		return nil
	}
	st.Loading = true
	cursor := st.NextCursor
	r.mu.Unlock()

	page, err := r.api.List(ctx, category, cursor, false, r.pageSize)

	r.mu.Lock()
	defer r.mu.Unlock()
	st.Loading = false
	if err != nil {
		st.Err = err
		return err
	}
	st.Err = nil
	st.Items = mergeByID(st.Items, page.Items)
	st.HasMore = page.HasMore
	st.NextCursor = page.NextCursor
	return nil
}

// mergeByID appends rows not already present. A stream-triggered refresh
// racing a LoadMore can hand back overlapping pages; ids dedupe them.
func mergeByID(existing, incoming []model.Notification) []model.Notification {
	seen := make(map[string]struct{}, len(existing))
	for _, n := range existing {
		seen[n.ID] = struct{}{}
	}
	for _, n := range incoming {
		if _, ok := seen[n.ID]; ok {
			continue
		}
		existing = append(existing, n)
	}
	return existing
}

func (r *Reconciler) refreshCounts(ctx context.Context) error {
	counts, err := r.api.Counts(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.unread = *counts
	if r.unread.ByCategory == nil {
		r.unread.ByCategory = make(map[model.Category]int)
	}
	r.mu.Unlock()
	return nil
}

// MarkRead marks one notification read on the server first, then patches
// the local copy. No optimistic update: a failed call leaves state intact.
// Marking a message notification also re-derives the conversation badges.
func (r *Reconciler) MarkRead(ctx context.Context, id string) error {
	if err := r.api.MarkRead(ctx, id); err != nil {
		return err
	}
	if r.patch(id, true) {
		r.refreshConversationUnread(ctx)
	}
	return r.refreshCounts(ctx)
}

func (r *Reconciler) MarkUnread(ctx context.Context, id string) error {
	if err := r.api.MarkUnread(ctx, id); err != nil {
		return err
	}
	if r.patch(id, false) {
		r.refreshConversationUnread(ctx)
	}
	return r.refreshCounts(ctx)
}

// MarkAllRead clears a whole category, or everything when category is "".
// With an empty filter every cached category is refreshed instead of
// creating a list keyed by the empty category.
func (r *Reconciler) MarkAllRead(ctx context.Context, category model.Category) (int64, error) {
	updated, err := r.api.MarkAllRead(ctx, category)
	if err != nil {
		return 0, err
	}
	if category == "" {
		r.mu.Lock()
		known := make([]model.Category, 0, len(r.categories))
		for c := range r.categories {
			known = append(known, c)
		}
		r.mu.Unlock()
		for _, c := range known {
			if err := r.Refresh(ctx, c); err != nil {
				return updated, err
			}
		}
		if len(known) == 0 {
			if err := r.refreshCounts(ctx); err != nil {
				return updated, err
			}
		}
	} else if err := r.Refresh(ctx, category); err != nil {
		return updated, err
	}
	if category == "" || category == model.CategoryMessage {
		r.refreshConversationUnread(ctx)
	}
	return updated, nil
}

// patch flips read_at presence on a cached row wherever it appears and
// reports whether a message notification was touched.
func (r *Reconciler) patch(id string, read bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	touchedMessage := false
	for _, st := range r.categories {
		for i := range st.Items {
			if st.Items[i].ID != id {
				continue
			}
			if st.Items[i].Category == model.CategoryMessage {
				touchedMessage = true
			}
			if read && st.Items[i].ReadAt == nil {
				now := nowUTC()
				st.Items[i].ReadAt = &now
			} else if !read {
				st.Items[i].ReadAt = nil
			}
		}
	}
	return touchedMessage
}

// ConversationUnread derives per-conversation unread badges from unread
// message notifications, grouped by their conversation reference, and
// caches the result for ConversationBadges. Paging is bounded; very deep
// backlogs undercount rather than hammer the API.
func (r *Reconciler) ConversationUnread(ctx context.Context) (map[string]int, error) {
	out := make(map[string]int)
	cursor := ""
	truncated := true
	for page := 0; page < conversationUnreadMaxPages; page++ {
		resp, err := r.api.List(ctx, model.CategoryMessage, cursor, true, r.pageSize)
		if err != nil {
			return nil, err
		}
		for _, n := range resp.Items {
			if n.EntityType == "conversation" && n.EntityID != "" {
				out[n.EntityID]++
			}
		}
		if !resp.HasMore {
			truncated = false
			break
		}
		cursor = resp.NextCursor
	}
	if truncated {
		logger.Infof("inbox: conversation unread derivation truncated after %d pages", conversationUnreadMaxPages)
	}
	r.mu.Lock()
	r.convUnread = out
	r.mu.Unlock()
	return out, nil
}

// ConversationBadges returns the last derived per-conversation unread map.
func (r *Reconciler) ConversationBadges() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make(map[string]int, len(r.convUnread))
	for k, v := range r.convUnread {
		cp[k] = v
	}
	return cp
}

func (r *Reconciler) refreshConversationUnread(ctx context.Context) {
	if _, err := r.ConversationUnread(ctx); err != nil {
		logger.Errorf("inbox: conversation unread derivation: %v", err)
	}
}

// HandleStreamEvent is the streamclient handler: every frame refetches the
// affected category and the counts; message frames also re-derive the
// conversation badges.
func (r *Reconciler) HandleStreamEvent(ev stream.EventPayload) {
	ctx := context.Background()
	if !model.ValidCategory(ev.Category) {
		logger.Errorf("inbox: frame with unknown category %q ignored", ev.Category)
		return
	}
	if err := r.Refresh(ctx, ev.Category); err != nil {
		logger.Errorf("inbox: refresh %s after stream event: %v", ev.Category, err)
	}
	if ev.Category == model.CategoryMessage {
		r.refreshConversationUnread(ctx)
	}
}

package tracking

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/quocanhngo/fleetwatch/internal/model"
)

// DefaultNoticeTTL is how long a transient notice stays visible.
const DefaultNoticeTTL = 3 * time.Second

// NoticeBoard holds transient operator notices that dismiss themselves.
type NoticeBoard struct {
	cache *cache.Cache
	ttl   time.Duration
}

func NewNoticeBoard(ttl time.Duration) *NoticeBoard {
	if ttl <= 0 {
		ttl = DefaultNoticeTTL
	}
	// no janitor goroutine; expired entries are purged on Post
	return &NoticeBoard{cache: cache.New(ttl, 0), ttl: ttl}
}

// Post shows a notice for the board TTL.
func (b *NoticeBoard) Post(kind model.AlertKind, message string) model.Notice {
	b.cache.DeleteExpired()

	now := time.Now().UTC()
	n := model.Notice{
		ID:        uuid.New(),
		Kind:      kind,
		Message:   message,
		CreatedAt: now,
		ExpiresAt: now.Add(b.ttl),
	}
	b.cache.Set(n.ID.String(), n, cache.DefaultExpiration)
	return n
}

// Dismiss removes a notice before it expires.
func (b *NoticeBoard) Dismiss(id uuid.UUID) {
	b.cache.Delete(id.String())
}

// Active returns the unexpired notices, oldest first.
func (b *NoticeBoard) Active() []model.Notice {
	items := b.cache.Items()
	out := make([]model.Notice, 0, len(items))
	for _, item := range items {
		if n, ok := item.Object.(model.Notice); ok {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

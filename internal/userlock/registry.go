package userlock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/EF-corp/AgroBotTg/internal/config"
	"github.com/EF-corp/AgroBotTg/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const keyUserLock = "agrobot:lock:user:%d"

var ErrBusy = errors.New("user_busy")

type Params struct {
	fx.In

	Config config.Config
	Log    *zap.Logger
	Locker *ratelimit.Locker `optional:"true"`
}

// Handle is a held exclusive section for one user.
type Handle struct {
	UserID int64

	ctx    context.Context
	cancel context.CancelFunc
	token  string
	once   sync.Once
}

// Context is cancelled when the section is cancelled or released.
func (h *Handle) Context() context.Context {
	return h.ctx
}

// Registry grants at most one privileged operation per user at a time.
// Acquire never waits: a second caller gets ErrBusy.
type Registry struct {
	mu      sync.Mutex
	entries map[int64]*Handle
	locker  *ratelimit.Locker
	ttl     time.Duration
	log     *zap.Logger
}

func New(p Params) *Registry {
	return NewRegistry(p.Locker, p.Config.RateLimit.LockTTL, p.Log)
}

func NewRegistry(locker *ratelimit.Locker, ttl time.Duration, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &Registry{
		entries: make(map[int64]*Handle),
		locker:  locker,
		ttl:     ttl,
		log:     log.Named("userlock"),
	}
}

// Acquire opens the user's exclusive section. The returned handle carries a
// context derived from ctx that Cancel aborts.
func (r *Registry) Acquire(ctx context.Context, userID int64) (*Handle, error) {
	r.mu.Lock()
	if _, ok := r.entries[userID]; ok {
		r.mu.Unlock()
		return nil, ErrBusy
	}
	handleCtx, cancel := context.WithCancel(ctx)
	h := &Handle{UserID: userID, ctx: handleCtx, cancel: cancel}
	r.entries[userID] = h
	r.mu.Unlock()

	if r.locker != nil {
		token, ok, err := r.locker.TryLock(ctx, fmt.Sprintf(keyUserLock, userID), r.ttl)
		if err != nil || !ok {
			r.forget(h)
			cancel()
			if err != nil {
				return nil, fmt.Errorf("acquire user lock: %w", err)
			}
			return nil, ErrBusy
		}
		h.token = token
	}
	return h, nil
}

// Release closes the section. Safe to call more than once.
func (r *Registry) Release(h *Handle) {
	if h == nil {
		return
	}
	h.once.Do(func() {
		h.cancel()
		r.forget(h)
		if r.locker != nil && h.token != "" {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := r.locker.Release(ctx, fmt.Sprintf(keyUserLock, h.UserID), h.token); err != nil {
				r.log.Warn("release user lock", zap.Int64("user_id", h.UserID), zap.Error(err))
			}
		}
	})
}

// Cancel aborts the user's in-flight operation and reports whether one existed.
// The holder still owns the section until it calls Release.
func (r *Registry) Cancel(userID int64) bool {
	r.mu.Lock()
	h, ok := r.entries[userID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	h.cancel()
	return true
}

// CancelAll aborts every in-flight operation.
func (r *Registry) CancelAll() int {
	r.mu.Lock()
	handles := make([]*Handle, 0, len(r.entries))
	for _, h := range r.entries {
		handles = append(handles, h)
	}
	r.mu.Unlock()
	for _, h := range handles {
		h.cancel()
	}
	return len(handles)
}

func (r *Registry) Busy(userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[userID]
	return ok
}

func (r *Registry) forget(h *Handle) {
	r.mu.Lock()
	if cur, ok := r.entries[h.UserID]; ok && cur == h {
		delete(r.entries, h.UserID)
	}
	r.mu.Unlock()
}

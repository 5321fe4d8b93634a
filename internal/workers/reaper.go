package workers

import (
	"context"
	"log"
	"time"

	"flightplan-gateway/internal/storage"
)

// StartInvitationReaper periodically deletes invitations that were never
// accepted and expired more than retention ago.
func StartInvitationReaper(ctx context.Context, store *storage.Storage, retention, interval time.Duration) {
	if retention <= 0 {
		log.Println("INFO workers: invitation reaper disabled")
		return
	}
	go run(ctx, interval, func() { reapInvitations(ctx, store, retention, time.Now()) })
	log.Printf("INFO workers: invitation reaper started retention=%s interval=%s", retention, interval)
}

// StartSessionJanitor periodically deletes expired sessions.
func StartSessionJanitor(ctx context.Context, store *storage.Storage, interval time.Duration) {
	go run(ctx, interval, func() { purgeSessions(ctx, store, time.Now()) })
	log.Printf("INFO workers: session janitor started interval=%s", interval)
}

func run(ctx context.Context, interval time.Duration, tick func()) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick()
		}
	}
}

func reapInvitations(ctx context.Context, store *storage.Storage, retention time.Duration, now time.Time) int64 {
	n, err := store.DeleteExpiredInvitations(ctx, now.Add(-retention))
	if err != nil {
		log.Printf("WARN workers: reap invitations: %v", err)
		return 0
	}
	if n > 0 {
		log.Printf("INFO workers: reaped invitations count=%d", n)
	}
	return n
}

func purgeSessions(ctx context.Context, store *storage.Storage, now time.Time) int64 {
	n, err := store.DeleteExpiredSessions(ctx, now)
	if err != nil {
		log.Printf("WARN workers: purge sessions: %v", err)
		return 0
	}
	if n > 0 {
		log.Printf("INFO workers: purged sessions count=%d", n)
	}
	return n
}

package jobs

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// finishedRetention keeps paired/expired sessions around long enough for a
// slow kiosk to read its final status.
const finishedRetention = time.Hour

type PairingSessionCleaner interface {
	ExpireStale(ctx context.Context) (int64, error)
	DeleteFinished(ctx context.Context, cutoff time.Time) (int64, error)
}

type CleanupJob struct {
	sessions PairingSessionCleaner
	interval time.Duration
	done     chan struct{}
	runs     atomic.Int64
}

func NewCleanupJob(sessions PairingSessionCleaner, interval time.Duration) *CleanupJob {
	return &CleanupJob{
		sessions: sessions,
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (j *CleanupJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("cleanup job started")
}

func (j *CleanupJob) Stop() {
	close(j.done)
	log.Info().Msg("cleanup job stopped")
}

func (j *CleanupJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.cleanup()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.cleanup()
		}
	}
}

func (j *CleanupJob) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	j.runCleanup(ctx, "stale pairing sessions", j.sessions.ExpireStale)
	j.runCleanup(ctx, "finished pairing sessions", func(ctx context.Context) (int64, error) {
		return j.sessions.DeleteFinished(ctx, time.Now().Add(-finishedRetention))
	})
	j.runs.Add(1)
}

func (j *CleanupJob) runCleanup(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to cleanup %s", name)
	} else if count > 0 {
		log.Info().Int64("count", count).Msgf("cleaned up %s", name)
	}
}

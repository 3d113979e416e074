package exportjobs

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MetricsRecorder is an optional callback for recording dispatch outcomes.
type MetricsRecorder func(success bool)

// jobStore is the storage interface required by Service.
// *Repository satisfies this interface.
type jobStore interface {
	Enqueue(ctx context.Context, j *Job) error
	NextPending(ctx context.Context, limit int) ([]*Job, error)
	MarkDone(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, lastError string, maxAttempts int) error
	RequeueStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// Service queues passport re-export jobs and dispatches them to the export
// worker over HTTP. Deliveries carry an HMAC-SHA256 signature so the worker
// can reject forged requests.
type Service struct {
	store       jobStore
	workerURL   string
	secret      string
	httpClient  *http.Client
	onMetrics   MetricsRecorder
	maxAttempts int
	logger      *zap.Logger
}

// NewService creates a Service. workerURL is the export worker's intake
// endpoint; secret signs each delivery.
func NewService(store jobStore, workerURL, secret string, logger *zap.Logger) *Service {
	return &Service{
		store:       store,
		workerURL:   workerURL,
		secret:      secret,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		maxAttempts: 5,
		logger:      logger,
	}
}

// SetMetricsRecorder configures the metrics callback.
func (s *Service) SetMetricsRecorder(fn MetricsRecorder) {
	s.onMetrics = fn
}

// EnqueueDomainActivated queues a re-export for brandID after domain flipped
// to verified. Implements the domain service's ExportEnqueuer interface.
func (s *Service) EnqueueDomainActivated(ctx context.Context, brandID uuid.UUID, domain string) error {
	j := &Job{
		Kind:    KindDomainActivated,
		BrandID: brandID,
		Payload: map[string]string{"domain": domain},
	}
	if err := s.store.Enqueue(ctx, j); err != nil {
		return fmt.Errorf("enqueue export job: %w", err)
	}
	s.logger.Info("export job queued",
		zap.String("kind", j.Kind),
		zap.String("brand_id", brandID.String()),
		zap.String("domain", domain),
	)
	return nil
}

// Run drains the queue on a fixed interval until ctx is cancelled. Meant to
// be launched as a background goroutine from main.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.DispatchPending(ctx); err != nil {
				s.logger.Error("export dispatch pass", zap.Error(err))
			}
		}
	}
}

// staleClaimAge is how long a claim may sit before another instance assumes
// the claiming worker died and requeues the job.
const staleClaimAge = 5 * time.Minute

// DispatchPending claims and delivers one batch of pending jobs. Claiming is
// atomic in the store, so concurrent instances never see each other's batch.
func (s *Service) DispatchPending(ctx context.Context) error {
	if n, err := s.store.RequeueStale(ctx, time.Now().UTC().Add(-staleClaimAge)); err != nil {
		s.logger.Warn("export: requeue stale claims", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("export: requeued stale claims", zap.Int64("count", n))
	}

	jobs, err := s.store.NextPending(ctx, 20)
	if err != nil {
		return fmt.Errorf("claim pending jobs: %w", err)
	}

	for _, j := range jobs {
		s.dispatch(ctx, j)
	}
	return nil
}

// dispatch delivers one job and records the verdict.
func (s *Service) dispatch(ctx context.Context, j *Job) {
	event := Event{
		ID:        j.ID,
		Kind:      j.Kind,
		BrandID:   j.BrandID,
		Timestamp: time.Now().UTC(),
		Payload:   j.Payload,
	}
	body, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("export: marshal event", zap.Error(err))
		return
	}

	success, errMsg := s.deliver(ctx, body)

	if s.onMetrics != nil {
		s.onMetrics(success)
	}

	if success {
		if err := s.store.MarkDone(ctx, j.ID); err != nil {
			s.logger.Warn("export: mark done", zap.Error(err))
		}
		return
	}

	s.logger.Warn("export: delivery failed",
		zap.String("job_id", j.ID.String()),
		zap.Int("attempt", j.Attempts+1),
		zap.String("error", errMsg),
	)
	if err := s.store.MarkFailed(ctx, j.ID, errMsg, s.maxAttempts); err != nil {
		s.logger.Warn("export: mark failed", zap.Error(err))
	}
}

// deliver performs a single signed HTTP POST to the export worker.
func (s *Service) deliver(ctx context.Context, body []byte) (bool, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.workerURL, bytes.NewReader(body))
	if err != nil {
		return false, err.Error()
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Avelero-Signature", SignPayload(body, s.secret))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false, err.Error()
	}
	defer resp.Body.Close()
	io.ReadAll(io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return true, ""
	}
	return false, fmt.Sprintf("HTTP %d", resp.StatusCode)
}

// SignPayload computes the HMAC-SHA256 signature the export worker checks.
func SignPayload(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

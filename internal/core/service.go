package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/JonMunkholm/bridgette/internal/backend"
	"github.com/JonMunkholm/bridgette/internal/spool"
	"github.com/JonMunkholm/bridgette/internal/staging"
)

// DefaultSubmitTimeout bounds a single submission round trip.
const DefaultSubmitTimeout = 5 * time.Minute

// Backend is the subset of the processing backend the service calls.
// *backend.Client satisfies it.
type Backend interface {
	ProcessFiles(ctx context.Context, files []staging.PendingFile, opts backend.ProcessOptions) (*backend.ProcessResponse, error)
	StartMerging(ctx context.Context, artifacts []string) (*backend.ActionResponse, error)
	TriggerMainProcessing(ctx context.Context) (*backend.ActionResponse, error)
	CleanupJSONFiles(ctx context.Context) (*backend.ActionResponse, error)
	DownloadExcel(ctx context.Context, name string, w io.Writer) (int64, error)
	JSONFile(ctx context.Context, name string) (json.RawMessage, error)
	Health(ctx context.Context) (*backend.HealthStatus, error)
}

// Config configures a Service.
type Config struct {
	Registry *staging.Registry // required
	Backend  Backend           // required

	// Spool holds uploaded bytes. When nil, uploads are buffered in memory.
	Spool *spool.Spool

	// History records submission attempts. Defaults to a MemoryHistory.
	History HistoryStore

	MaxConcurrentSubmissions int
	MaxWaitTime              time.Duration
	SubmitTimeout            time.Duration
}

// Service owns the per-session staging stores and submits them to the backend.
type Service struct {
	registry *staging.Registry
	backend  Backend
	spool    *spool.Spool
	history  HistoryStore
	limiter  *SubmitLimiter
	sessions *sessions

	submitTimeout time.Duration
}

// SubmitResult is what a successful submission hands to the rendering layer.
type SubmitResult struct {
	Submission Submission              `json:"submission"`
	Response   *backend.ProcessResponse `json:"response"`
}

// NewService creates a new Service instance.
func NewService(cfg Config) (*Service, error) {
	if cfg.Registry == nil {
		return nil, errors.New("core: registry is required")
	}
	if cfg.Backend == nil {
		return nil, errors.New("core: backend is required")
	}
	history := cfg.History
	if history == nil {
		history = NewMemoryHistory(0)
	}
	timeout := cfg.SubmitTimeout
	if timeout <= 0 {
		timeout = DefaultSubmitTimeout
	}

	return &Service{
		registry:      cfg.Registry,
		backend:       cfg.Backend,
		spool:         cfg.Spool,
		history:       history,
		limiter:       NewSubmitLimiter(cfg.MaxConcurrentSubmissions, cfg.MaxWaitTime),
		sessions:      newSessions(cfg.Registry),
		submitTimeout: timeout,
	}, nil
}

// Registry returns the slot layout the service was built with.
func (s *Service) Registry() *staging.Registry { return s.registry }

// Store returns the staging store of sessionID, creating it on first use.
func (s *Service) Store(sessionID string) *staging.Store {
	return s.sessions.get(sessionID)
}

// Sessions lists live sessions, most recently seen first.
func (s *Service) Sessions() []SessionInfo { return s.sessions.list() }

// Receive reads an uploaded file into a PendingFile. Reading stops one byte
// past the slot's limit, so an oversized upload is held only long enough to
// be rejected by AddFiles.
func (s *Service) Receive(slot staging.Slot, name string, r io.Reader) (staging.PendingFile, error) {
	target, ok := s.registry.Lookup(slot)
	if !ok {
		return staging.PendingFile{}, fmt.Errorf("%w: %s", staging.ErrUnknownSlot, slot)
	}
	limit := target.Policy.MaxFileSize

	if s.spool == nil {
		data, err := io.ReadAll(io.LimitReader(r, limit+1))
		if err != nil {
			return staging.PendingFile{}, fmt.Errorf("read upload %s: %w", name, err)
		}
		return staging.NewPendingFile(name, int64(len(data)), staging.Bytes(data)), nil
	}

	blob, err := s.spool.Save(name, r, limit)
	if err != nil {
		return staging.PendingFile{}, fmt.Errorf("spool upload %s: %w", name, err)
	}
	return staging.NewPendingFile(blob.Name(), blob.Size(), blob), nil
}

// AddFiles stages files into a session's slot.
func (s *Service) AddFiles(sessionID string, slot staging.Slot, files ...staging.PendingFile) (staging.AddResult, error) {
	return s.sessions.get(sessionID).AddFiles(slot, files...)
}

// RemoveFile drops the file at index from a session's slot.
func (s *Service) RemoveFile(sessionID string, slot staging.Slot, index int) (staging.PendingFile, error) {
	return s.sessions.get(sessionID).RemoveFile(slot, index)
}

// Clear empties a session's slot.
func (s *Service) Clear(sessionID string, slot staging.Slot) error {
	return s.sessions.get(sessionID).Clear(slot)
}

// Files lists a session's slot.
func (s *Service) Files(sessionID string, slot staging.Slot) ([]staging.PendingFile, error) {
	return s.sessions.get(sessionID).Files(slot)
}

// Submitting reports whether a session's slot has a submission in flight.
func (s *Service) Submitting(sessionID string, slot staging.Slot) bool {
	return s.limiter.InFlight(submitKey(sessionID, slot))
}

// Submit sends every file in a session's slot to the backend in one request.
//
// On any failure the slot is left as it was. On success the submitted files
// are discarded; files added while the request was in flight stay. The
// outbound request ignores cancellation of ctx and is bounded by the submit
// timeout instead.
func (s *Service) Submit(ctx context.Context, sessionID string, slot staging.Slot) (*SubmitResult, error) {
	target, ok := s.registry.Lookup(slot)
	if !ok {
		return nil, fmt.Errorf("%w: %s", staging.ErrUnknownSlot, slot)
	}
	store := s.sessions.get(sessionID)
	if store.Len(slot) == 0 {
		return nil, ErrEmptySelection
	}

	sub := Submission{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Slot:      slot.String(),
		IPAddress: GetIPAddressFromContext(ctx),
		UserAgent: GetUserAgentFromContext(ctx),
		CreatedAt: time.Now(),
	}

	release, err := s.limiter.Acquire(ctx, submitKey(sessionID, slot))
	if err != nil {
		s.record(ctx, sub, err)
		return nil, err
	}
	defer release()

	// Snapshot after acquiring, the slot may have changed while waiting.
	files, err := store.Files(slot)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, ErrEmptySelection
	}
	sub.FileCount = len(files)
	for _, f := range files {
		sub.TotalBytes += f.Size
	}

	opts := backend.ProcessOptions{}
	if target.Kind == staging.KindSchema {
		opts = backend.ProcessOptions{Schema: true, Box: target.Box}
	}

	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.submitTimeout)
	defer cancel()

	start := time.Now()
	resp, err := s.backend.ProcessFiles(reqCtx, files, opts)
	sub.Duration = time.Since(start)
	if err != nil {
		s.record(ctx, sub, err)
		return nil, fmt.Errorf("submit %s: %w", slot, err)
	}

	if _, err := store.Discard(slot, files); err != nil {
		slog.Warn("releasing submitted files failed", "slot", slot, "session", sessionID, "error", err)
	}
	s.record(ctx, sub, nil)

	slog.Info("submission completed",
		"submission_id", sub.ID,
		"slot", slot,
		"files", sub.FileCount,
		"bytes", sub.TotalBytes,
		"failed_files", len(resp.Failed()),
		"duration_ms", sub.Duration.Milliseconds(),
	)
	return &SubmitResult{Submission: sub, Response: resp}, nil
}

func (s *Service) record(ctx context.Context, sub Submission, err error) {
	sub.Outcome = OutcomeSucceeded
	if err != nil {
		sub.Outcome = OutcomeFailed
		sub.ErrorCode = MapError(err).Code
		slog.Warn("submission failed",
			"submission_id", sub.ID,
			"slot", sub.Slot,
			"files", sub.FileCount,
			"code", sub.ErrorCode,
			"error", err,
		)
	}
	if herr := s.history.Record(context.WithoutCancel(ctx), sub); herr != nil {
		slog.Error("recording submission failed", "submission_id", sub.ID, "error", herr)
	}
}

func submitKey(sessionID string, slot staging.Slot) string {
	return sessionID + "/" + slot.String()
}

// History returns recent submission records.
func (s *Service) History(ctx context.Context, f HistoryFilter) ([]Submission, error) {
	return s.history.Recent(ctx, f)
}

// EndSession clears every slot of sessionID and forgets it.
func (s *Service) EndSession(sessionID string) error {
	store, ok := s.sessions.drop(sessionID)
	if !ok {
		return nil
	}
	return store.ClearAll()
}

// SweepSessions ends every session idle for longer than ttl and returns how
// many were removed.
func (s *Service) SweepSessions(ttl time.Duration) (int, error) {
	expired := s.sessions.expire(ttl)
	var errs *multierror.Error
	for id, store := range expired {
		if err := store.ClearAll(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("session %s: %w", id, err))
		}
	}
	return len(expired), errs.ErrorOrNil()
}

// WaitForSubmissions blocks until no submission is running or ctx is done.
func (s *Service) WaitForSubmissions(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// LimiterStatus reports submission concurrency.
func (s *Service) LimiterStatus() SubmitLimiterStatus { return s.limiter.Status() }

// SpoolUsage reports the files held on disk and their total size. Both are
// zero when uploads are buffered in memory.
func (s *Service) SpoolUsage() (files int, bytes int64) {
	if s.spool == nil {
		return 0, 0
	}
	return s.spool.Usage()
}

// DownloadExcel streams a generated workbook into w.
func (s *Service) DownloadExcel(ctx context.Context, name string, w io.Writer) (int64, error) {
	return s.backend.DownloadExcel(ctx, name, w)
}

// JSONFile fetches a generated JSON artifact.
func (s *Service) JSONFile(ctx context.Context, name string) (json.RawMessage, error) {
	return s.backend.JSONFile(ctx, name)
}

func (s *Service) TriggerMainProcessing(ctx context.Context) (*backend.ActionResponse, error) {
	return s.backend.TriggerMainProcessing(ctx)
}

func (s *Service) CleanupJSONFiles(ctx context.Context) (*backend.ActionResponse, error) {
	return s.backend.CleanupJSONFiles(ctx)
}

// StartMerging asks the backend to merge the named artifacts.
func (s *Service) StartMerging(ctx context.Context, artifacts []string) (*backend.ActionResponse, error) {
	return s.backend.StartMerging(ctx, artifacts)
}

// BackendHealth checks the processing backend.
func (s *Service) BackendHealth(ctx context.Context) (*backend.HealthStatus, error) {
	return s.backend.Health(ctx)
}

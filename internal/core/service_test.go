package core

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/JonMunkholm/bridgette/internal/backend"
	"github.com/JonMunkholm/bridgette/internal/spool"
	"github.com/JonMunkholm/bridgette/internal/staging"
)

// fakeBackend answers ProcessFiles with a fixed response or error and
// records what it was sent.
type fakeBackend struct {
	mu       sync.Mutex
	calls    int
	lastOpts backend.ProcessOptions
	lastSent []string
	resp     *backend.ProcessResponse
	err      error

	// during, if set, runs inside ProcessFiles before it returns.
	during func(ctx context.Context)
}

func (f *fakeBackend) ProcessFiles(ctx context.Context, files []staging.PendingFile, opts backend.ProcessOptions) (*backend.ProcessResponse, error) {
	f.mu.Lock()
	f.calls++
	f.lastOpts = opts
	f.lastSent = nil
	for _, pf := range files {
		f.lastSent = append(f.lastSent, pf.Name)
	}
	during := f.during
	f.mu.Unlock()

	if during != nil {
		during(ctx)
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.resp != nil {
		return f.resp, nil
	}
	return &backend.ProcessResponse{Success: true, FileCount: len(files)}, nil
}

func (f *fakeBackend) StartMerging(context.Context, []string) (*backend.ActionResponse, error) {
	return &backend.ActionResponse{Success: true}, nil
}

func (f *fakeBackend) TriggerMainProcessing(context.Context) (*backend.ActionResponse, error) {
	return &backend.ActionResponse{Success: true, Message: "started"}, nil
}

func (f *fakeBackend) CleanupJSONFiles(context.Context) (*backend.ActionResponse, error) {
	return &backend.ActionResponse{Success: true}, nil
}

func (f *fakeBackend) DownloadExcel(_ context.Context, name string, w io.Writer) (int64, error) {
	n, err := io.WriteString(w, "xlsx:"+name)
	return int64(n), err
}

func (f *fakeBackend) JSONFile(_ context.Context, name string) (json.RawMessage, error) {
	return json.RawMessage(`{"name":"` + name + `"}`), nil
}

func (f *fakeBackend) Health(context.Context) (*backend.HealthStatus, error) {
	return &backend.HealthStatus{Status: "healthy"}, nil
}

func newTestService(t *testing.T, fb *fakeBackend, sp *spool.Spool) *Service {
	t.Helper()
	svc, err := NewService(Config{
		Registry:      staging.DefaultRegistry(staging.ModeMulti, 0),
		Backend:       fb,
		Spool:         sp,
		SubmitTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return svc
}

func stage(t *testing.T, svc *Service, session string, slot staging.Slot, names ...string) {
	t.Helper()
	for _, name := range names {
		pf, err := svc.Receive(slot, name, strings.NewReader("id,name\n1,a\n"))
		if err != nil {
			t.Fatalf("Receive(%s) error = %v", name, err)
		}
		res, err := svc.AddFiles(session, slot, pf)
		if err != nil || len(res.Accepted) != 1 {
			t.Fatalf("AddFiles(%s) = %+v, %v", name, res, err)
		}
	}
}

func fileNames(t *testing.T, svc *Service, session string, slot staging.Slot) []string {
	t.Helper()
	files, err := svc.Files(session, slot)
	if err != nil {
		t.Fatalf("Files() error = %v", err)
	}
	var names []string
	for _, f := range files {
		names = append(names, f.Name)
	}
	return names
}

func TestNewService_RequiresDependencies(t *testing.T) {
	if _, err := NewService(Config{Backend: &fakeBackend{}}); err == nil {
		t.Error("expected error without registry")
	}
	if _, err := NewService(Config{Registry: staging.DefaultRegistry(staging.ModeMulti, 0)}); err == nil {
		t.Error("expected error without backend")
	}
}

func TestSubmit_EmptySlot(t *testing.T) {
	fb := &fakeBackend{}
	svc := newTestService(t, fb, nil)

	_, err := svc.Submit(context.Background(), "s1", staging.SlotBox1)
	if !errors.Is(err, ErrEmptySelection) {
		t.Fatalf("Submit() error = %v, want ErrEmptySelection", err)
	}
	if fb.calls != 0 {
		t.Errorf("backend called %d times, want 0", fb.calls)
	}
	if hist, _ := svc.History(context.Background(), HistoryFilter{}); len(hist) != 0 {
		t.Errorf("history = %d entries, want 0", len(hist))
	}
}

func TestSubmit_UnknownSlot(t *testing.T) {
	svc := newTestService(t, &fakeBackend{}, nil)
	if _, err := svc.Submit(context.Background(), "s1", staging.Slot("box9")); !errors.Is(err, staging.ErrUnknownSlot) {
		t.Errorf("Submit() error = %v, want ErrUnknownSlot", err)
	}
}

func TestSubmit_SuccessClearsSlot(t *testing.T) {
	fb := &fakeBackend{}
	svc := newTestService(t, fb, nil)
	stage(t, svc, "s1", staging.SlotBox1, "a.csv", "b.xlsx")
	stage(t, svc, "s1", staging.SlotBox2, "other.csv")

	res, err := svc.Submit(context.Background(), "s1", staging.SlotBox1)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if fb.calls != 1 {
		t.Errorf("backend calls = %d, want 1", fb.calls)
	}
	if strings.Join(fb.lastSent, ",") != "a.csv,b.xlsx" {
		t.Errorf("sent = %v, want [a.csv b.xlsx]", fb.lastSent)
	}
	if fb.lastOpts != (backend.ProcessOptions{}) {
		t.Errorf("opts = %+v, want none for a data slot", fb.lastOpts)
	}
	if res.Response.FileCount != 2 {
		t.Errorf("FileCount = %d, want 2", res.Response.FileCount)
	}
	if names := fileNames(t, svc, "s1", staging.SlotBox1); len(names) != 0 {
		t.Errorf("box1 after success = %v, want empty", names)
	}
	if names := fileNames(t, svc, "s1", staging.SlotBox2); len(names) != 1 {
		t.Errorf("box2 = %v, want untouched", names)
	}

	hist, _ := svc.History(context.Background(), HistoryFilter{})
	if len(hist) != 1 {
		t.Fatalf("history = %d entries, want 1", len(hist))
	}
	h := hist[0]
	if h.Outcome != OutcomeSucceeded || h.FileCount != 2 || h.Slot != "box1" || h.SessionID != "s1" {
		t.Errorf("history entry = %+v", h)
	}
}

func TestSubmit_SchemaSlotSendsFlags(t *testing.T) {
	fb := &fakeBackend{}
	svc := newTestService(t, fb, nil)
	stage(t, svc, "s1", staging.SlotSchemaBox2, "schema.json")

	if _, err := svc.Submit(context.Background(), "s1", staging.SlotSchemaBox2); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if fb.lastOpts != (backend.ProcessOptions{Schema: true, Box: 2}) {
		t.Errorf("opts = %+v, want schema box 2", fb.lastOpts)
	}
}

func TestSubmit_FailureKeepsSlot(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"backend reported failure", &backend.AppError{Path: "/api/process-files", Message: "bad format"}, "APP001"},
		{"non-2xx", &backend.StatusError{StatusCode: 500}, "NET002"},
		{"unreachable", backend.ErrBackendUnavailable, "NET001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(t, &fakeBackend{err: tt.err}, nil)
			stage(t, svc, "s1", staging.SlotBox1, "a.csv", "b.csv")

			_, err := svc.Submit(context.Background(), "s1", staging.SlotBox1)
			if err == nil {
				t.Fatal("Submit() succeeded, want error")
			}
			if got := MapError(err).Code; got != tt.wantCode {
				t.Errorf("code = %s, want %s", got, tt.wantCode)
			}
			if names := fileNames(t, svc, "s1", staging.SlotBox1); len(names) != 2 {
				t.Errorf("slot after failure = %v, want both files", names)
			}
			if svc.Submitting("s1", staging.SlotBox1) {
				t.Error("guard still held after failure")
			}

			hist, _ := svc.History(context.Background(), HistoryFilter{Outcome: OutcomeFailed})
			if len(hist) != 1 || hist[0].ErrorCode != tt.wantCode {
				t.Errorf("history = %+v", hist)
			}
		})
	}
}

func TestSubmit_FilesAddedInFlightSurvive(t *testing.T) {
	fb := &fakeBackend{}
	svc := newTestService(t, fb, nil)
	stage(t, svc, "s1", staging.SlotBox1, "first.csv")

	fb.during = func(context.Context) {
		stage(t, svc, "s1", staging.SlotBox1, "late.csv")
	}

	if _, err := svc.Submit(context.Background(), "s1", staging.SlotBox1); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	names := fileNames(t, svc, "s1", staging.SlotBox1)
	if len(names) != 1 || names[0] != "late.csv" {
		t.Errorf("slot after submit = %v, want [late.csv]", names)
	}
}

func TestSubmit_SecondSubmitInFlight(t *testing.T) {
	entered := make(chan struct{})
	unblock := make(chan struct{})
	fb := &fakeBackend{during: func(context.Context) {
		close(entered)
		<-unblock
	}}
	svc := newTestService(t, fb, nil)
	stage(t, svc, "s1", staging.SlotBox1, "a.csv")
	stage(t, svc, "s1", staging.SlotBox2, "b.csv")

	done := make(chan error, 1)
	go func() {
		_, err := svc.Submit(context.Background(), "s1", staging.SlotBox1)
		done <- err
	}()
	<-entered

	if !svc.Submitting("s1", staging.SlotBox1) {
		t.Error("Submitting() = false during submission")
	}
	if _, err := svc.Submit(context.Background(), "s1", staging.SlotBox1); !errors.Is(err, ErrSubmissionInFlight) {
		t.Errorf("second Submit() error = %v, want ErrSubmissionInFlight", err)
	}
	// Another session's same slot is independent.
	stage(t, svc, "s2", staging.SlotBox1, "c.csv")
	if svc.Submitting("s2", staging.SlotBox1) {
		t.Error("other session reported in flight")
	}

	close(unblock)
	if err := <-done; err != nil {
		t.Fatalf("first Submit() error = %v", err)
	}
}

func TestSubmit_IgnoresCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var reqErr error
	fb := &fakeBackend{during: func(reqCtx context.Context) {
		cancel()
		reqErr = reqCtx.Err()
	}}
	svc := newTestService(t, fb, nil)
	stage(t, svc, "s1", staging.SlotBox1, "a.csv")

	if _, err := svc.Submit(ctx, "s1", staging.SlotBox1); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if reqErr != nil {
		t.Errorf("outbound context error = %v, want nil", reqErr)
	}
}

func TestSubmit_RecordsClientContext(t *testing.T) {
	svc := newTestService(t, &fakeBackend{}, nil)
	stage(t, svc, "s1", staging.SlotBox1, "a.csv")

	ctx := ContextWithUserAgent(ContextWithIPAddress(context.Background(), "10.0.0.1"), "test-agent")
	if _, err := svc.Submit(ctx, "s1", staging.SlotBox1); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	hist, _ := svc.History(context.Background(), HistoryFilter{SessionID: "s1"})
	if len(hist) != 1 || hist[0].IPAddress != "10.0.0.1" || hist[0].UserAgent != "test-agent" {
		t.Errorf("history = %+v", hist)
	}
}

func TestReceive_OversizedIsRejected(t *testing.T) {
	svc, err := NewService(Config{
		Registry: staging.DefaultRegistry(staging.ModeSingle, 10),
		Backend:  &fakeBackend{},
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	pf, err := svc.Receive(staging.SlotBox1, "big.csv", strings.NewReader(strings.Repeat("x", 100)))
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if pf.Size != 11 {
		t.Errorf("Size = %d, want limit+1", pf.Size)
	}
	res, err := svc.AddFiles("s1", staging.SlotBox1, pf)
	if err != nil {
		t.Fatalf("AddFiles() error = %v", err)
	}
	if len(res.Rejected) != 1 || !errors.Is(res.Rejected[0], staging.ErrFileTooLarge) {
		t.Errorf("rejected = %v, want one too-large rejection", res.Rejected)
	}
}

func TestEndSession_ReleasesSpool(t *testing.T) {
	sp, err := spool.New(t.TempDir())
	if err != nil {
		t.Fatalf("spool.New() error = %v", err)
	}
	svc := newTestService(t, &fakeBackend{}, sp)
	stage(t, svc, "s1", staging.SlotBox1, "a.csv", "b.csv")

	if count, _ := sp.Usage(); count != 2 {
		t.Fatalf("spool count = %d, want 2", count)
	}
	if err := svc.EndSession("s1"); err != nil {
		t.Fatalf("EndSession() error = %v", err)
	}
	if count, _ := sp.Usage(); count != 0 {
		t.Errorf("spool count after EndSession = %d, want 0", count)
	}
	if len(svc.Sessions()) != 0 {
		t.Error("session still listed")
	}
}

func TestSweepSessions(t *testing.T) {
	sp, _ := spool.New(t.TempDir())
	svc := newTestService(t, &fakeBackend{}, sp)

	now := time.Now()
	svc.sessions.clock = func() time.Time { return now.Add(-3 * time.Hour) }
	stage(t, svc, "idle", staging.SlotBox1, "old.csv")
	svc.sessions.clock = func() time.Time { return now }
	stage(t, svc, "active", staging.SlotBox1, "new.csv")

	n, err := svc.SweepSessions(time.Hour)
	if err != nil {
		t.Fatalf("SweepSessions() error = %v", err)
	}
	if n != 1 {
		t.Errorf("swept = %d, want 1", n)
	}
	sessions := svc.Sessions()
	if len(sessions) != 1 || sessions[0].ID != "active" || sessions[0].Files != 1 {
		t.Errorf("Sessions() = %+v", sessions)
	}
	if count, _ := sp.Usage(); count != 1 {
		t.Errorf("spool count = %d, want 1", count)
	}
}

func TestSessionStoreChangesKeepSessionAlive(t *testing.T) {
	svc := newTestService(t, &fakeBackend{}, nil)

	now := time.Now()
	svc.sessions.clock = func() time.Time { return now.Add(-3 * time.Hour) }
	store := svc.Store("late")

	// A mutation that bypasses the service, like a submission finishing
	// long after its request, still counts as activity.
	svc.sessions.clock = func() time.Time { return now }
	content := staging.Bytes("a,b\n")
	if _, err := store.AddFiles(staging.SlotBox1, staging.NewPendingFile("late.csv", int64(len(content)), content)); err != nil {
		t.Fatalf("AddFiles() error = %v", err)
	}

	n, err := svc.SweepSessions(time.Hour)
	if err != nil {
		t.Fatalf("SweepSessions() error = %v", err)
	}
	if n != 0 {
		t.Errorf("swept = %d, want 0", n)
	}
}

func TestRunSweep_PurgesHistory(t *testing.T) {
	svc := newTestService(t, &fakeBackend{}, nil)
	ctx := context.Background()
	svc.history.Record(ctx, Submission{ID: "old", CreatedAt: time.Now().Add(-48 * time.Hour)})
	svc.history.Record(ctx, Submission{ID: "new", CreatedAt: time.Now()})

	svc.runSweep(ctx, SweepConfig{HistoryRetention: 24 * time.Hour}.withDefaults())

	hist, _ := svc.History(ctx, HistoryFilter{})
	if len(hist) != 1 || hist[0].ID != "new" {
		t.Errorf("history after sweep = %+v", hist)
	}
}

func TestArtifactPassthroughs(t *testing.T) {
	svc := newTestService(t, &fakeBackend{}, nil)
	ctx := context.Background()

	var sb strings.Builder
	if _, err := svc.DownloadExcel(ctx, "out.xlsx", &sb); err != nil || sb.String() != "xlsx:out.xlsx" {
		t.Errorf("DownloadExcel = %q, %v", sb.String(), err)
	}
	if raw, err := svc.JSONFile(ctx, "a.json"); err != nil || string(raw) != `{"name":"a.json"}` {
		t.Errorf("JSONFile = %s, %v", raw, err)
	}
	if res, err := svc.TriggerMainProcessing(ctx); err != nil || res.Message != "started" {
		t.Errorf("TriggerMainProcessing = %+v, %v", res, err)
	}
	if _, err := svc.CleanupJSONFiles(ctx); err != nil {
		t.Errorf("CleanupJSONFiles error = %v", err)
	}
	if h, err := svc.BackendHealth(ctx); err != nil || h.Status != "healthy" {
		t.Errorf("BackendHealth = %+v, %v", h, err)
	}
}

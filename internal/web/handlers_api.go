package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/JonMunkholm/bridgette/internal/core"
	"github.com/JonMunkholm/bridgette/internal/logging"
	"github.com/JonMunkholm/bridgette/internal/staging"
	"github.com/go-chi/chi/v5"
)

const excelContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type slotResponse struct {
	Slot              staging.Slot          `json:"slot"`
	Label             string                `json:"label"`
	Kind              staging.Kind          `json:"kind"`
	Box               int                   `json:"box"`
	MaxFileSize       int64                 `json:"maxFileSize"`
	AllowedExtensions []string              `json:"allowedExtensions"`
	Submitting        bool                  `json:"submitting"`
	TotalSize         int64                 `json:"totalSize"`
	Files             []staging.PendingFile `json:"files"`
}

type rejectionResponse struct {
	Name    string `json:"name"`
	Size    int64  `json:"size"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type addResponse struct {
	Accepted []staging.PendingFile `json:"accepted"`
	Rejected []rejectionResponse   `json:"rejected"`
}

func newAddResponse(res staging.AddResult) addResponse {
	out := addResponse{
		Accepted: res.Accepted,
		Rejected: make([]rejectionResponse, 0, len(res.Rejected)),
	}
	if out.Accepted == nil {
		out.Accepted = []staging.PendingFile{}
	}
	for _, rej := range res.Rejected {
		msg := core.MapError(rej)
		out.Rejected = append(out.Rejected, rejectionResponse{
			Name:    rej.Name,
			Size:    rej.Size,
			Code:    msg.Code,
			Message: msg.Message,
		})
	}
	return out
}

func (s *Server) slotResponse(sid string, slot staging.Slot) (slotResponse, error) {
	view, err := s.slotView(sid, slot)
	if err != nil {
		return slotResponse{}, err
	}
	files := view.Files
	if files == nil {
		files = []staging.PendingFile{}
	}
	return slotResponse{
		Slot:              slot,
		Label:             view.Target.Label,
		Kind:              view.Target.Kind,
		Box:               view.Target.Box,
		MaxFileSize:       view.Target.Policy.MaxFileSize,
		AllowedExtensions: view.Target.Policy.AllowedExtensions,
		Submitting:        view.Submitting,
		TotalSize:         view.TotalSize(),
		Files:             files,
	}, nil
}

// handleListSlots returns every slot of the session.
func (s *Server) handleListSlots(w http.ResponseWriter, r *http.Request) {
	sid := sessionID(r)
	out := make([]slotResponse, 0, len(s.service.Registry().Slots()))
	for _, slot := range s.service.Registry().Slots() {
		resp, err := s.slotResponse(sid, slot)
		if err != nil {
			s.respondError(w, r, err, statusFor(err))
			return
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleGetSlot returns one slot of the session.
func (s *Server) handleGetSlot(w http.ResponseWriter, r *http.Request) {
	slot, err := s.slotParam(r)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	resp, err := s.slotResponse(sessionID(r), slot)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleHistory returns the session's recent submissions.
// Query: slot, outcome (succeeded|failed), limit.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := core.HistoryFilter{
		SessionID: sessionID(r),
		Outcome:   core.Outcome(q.Get("outcome")),
		Limit:     min(parseIntParam(r, "limit", core.DefaultHistoryLimit), core.MaxHistoryLimit),
	}
	if raw := q.Get("slot"); raw != "" {
		slot, err := s.service.Registry().Parse(raw)
		if err != nil {
			s.respondError(w, r, err, statusFor(err))
			return
		}
		filter.Slot = slot.String()
	}

	subs, err := s.service.History(r.Context(), filter)
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	if subs == nil {
		subs = []core.Submission{}
	}
	writeJSON(w, http.StatusOK, subs)
}

type healthResponse struct {
	Status       string                   `json:"status"`
	Backend      string                   `json:"backend"`
	BackendError string                   `json:"backendError,omitempty"`
	Submissions  core.SubmitLimiterStatus `json:"submissions"`
	Sessions     int                      `json:"sessions"`
	SpoolFiles   int                      `json:"spoolFiles"`
	SpoolBytes   int64                    `json:"spoolBytes"`
}

// handleHealth reports this service's state and the backend's reachability.
// An unreachable backend degrades the status without failing the check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:      "ok",
		Submissions: s.service.LimiterStatus(),
		Sessions:    len(s.service.Sessions()),
	}
	resp.SpoolFiles, resp.SpoolBytes = s.service.SpoolUsage()

	hs, err := s.service.BackendHealth(r.Context())
	switch {
	case err != nil:
		resp.Status = "degraded"
		resp.Backend = "unreachable"
		resp.BackendError = core.MapError(err).Message
		logging.FromContext(r.Context()).Warn("backend health check failed", "error", err)
	case hs.Status != "":
		resp.Backend = hs.Status
	default:
		resp.Backend = "ok"
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleTriggerProcessing starts the backend's main processing run.
func (s *Server) handleTriggerProcessing(w http.ResponseWriter, r *http.Request) {
	resp, err := s.service.TriggerMainProcessing(r.Context())
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCleanupProcessing removes the backend's intermediate JSON files.
func (s *Server) handleCleanupProcessing(w http.ResponseWriter, r *http.Request) {
	resp, err := s.service.CleanupJSONFiles(r.Context())
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type mergeRequest struct {
	Files []string `json:"files"`
}

// handleStartMerging asks the backend to merge the named artifacts.
func (s *Server) handleStartMerging(w http.ResponseWriter, r *http.Request) {
	var req mergeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		s.respondError(w, r, fmt.Errorf("%w: %v", core.ErrInvalidUpload, err), http.StatusBadRequest)
		return
	}
	resp, err := s.service.StartMerging(r.Context(), req.Files)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleDownloadExcel streams a generated workbook from the backend.
func (s *Server) handleDownloadExcel(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	aw := &attachmentWriter{w: w, name: name, contentType: excelContentType}
	if _, err := s.service.DownloadExcel(r.Context(), name, aw); err != nil {
		if aw.started {
			logging.FromContext(r.Context()).Error("excel download interrupted", "name", name, "error", err)
			return
		}
		s.respondError(w, r, err, statusFor(err))
	}
}

// handleJSONFile returns a generated JSON artifact from the backend.
func (s *Server) handleJSONFile(w http.ResponseWriter, r *http.Request) {
	raw, err := s.service.JSONFile(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(raw)
}

// attachmentWriter sets download headers on the first write, so an error
// before any bytes arrive can still be answered normally.
type attachmentWriter struct {
	w           http.ResponseWriter
	name        string
	contentType string
	started     bool
}

func (a *attachmentWriter) Write(p []byte) (int, error) {
	if !a.started {
		a.started = true
		a.w.Header().Set("Content-Type", a.contentType)
		a.w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(a.name))
		a.w.WriteHeader(http.StatusOK)
	}
	return a.w.Write(p)
}

// parseIntParam parses a positive integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}

package web

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/JonMunkholm/bridgette/internal/core"
	"github.com/JonMunkholm/bridgette/internal/logging"
	"github.com/JonMunkholm/bridgette/internal/staging"
	"github.com/JonMunkholm/bridgette/internal/web/templates"
	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"
)

// MaxUploadRequestSize caps one add-files request across all its files (1GB).
// Each file is additionally held to its slot's limit while it is read.
const MaxUploadRequestSize = 1 << 30

// handleDashboard renders the main page with every slot of the session.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	sid := sessionID(r)

	view := templates.DashboardView{Mode: s.service.Registry().Mode()}
	for _, t := range s.service.Registry().Targets() {
		sv, err := s.slotView(sid, t.Slot)
		if err != nil {
			s.respondError(w, r, err, statusFor(err))
			return
		}
		view.Slots = append(view.Slots, sv)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	templates.Dashboard(view).Render(r.Context(), w)
}

// handleSlotPanel renders one slot panel.
func (s *Server) handleSlotPanel(w http.ResponseWriter, r *http.Request) {
	slot, err := s.slotParam(r)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	s.renderPanel(w, r, slot, http.StatusOK, nil)
}

// handleAddFiles streams the multipart "files" parts into the slot.
// Rejected files are reported as alerts; accepted ones are staged.
func (s *Server) handleAddFiles(w http.ResponseWriter, r *http.Request) {
	slot, err := s.slotParam(r)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	sid := sessionID(r)
	logger := logging.FromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadRequestSize)
	files, err := s.receiveFiles(slot, r)
	if err != nil {
		s.respondSlotError(w, r, slot, err)
		return
	}
	if len(files) == 0 {
		s.respondSlotError(w, r, slot, core.ErrEmptySelection)
		return
	}

	res, err := s.service.AddFiles(sid, slot, files...)
	if err != nil {
		releaseFiles(files)
		s.respondSlotError(w, r, slot, err)
		return
	}

	alerts := make([]templates.Alert, 0, len(res.Rejected))
	for _, rej := range res.Rejected {
		msg := core.MapError(rej)
		alerts = append(alerts, templates.Alert{Message: msg.Message, Action: msg.Action, Code: msg.Code})
		logger.Info("file rejected", "slot", slot, "file", rej.Name, "size", rej.Size, "code", msg.Code)
	}
	logger.Info("files staged", "slot", slot, "accepted", len(res.Accepted), "rejected", len(res.Rejected))

	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, newAddResponse(res))
		return
	}
	s.renderPanel(w, r, slot, http.StatusOK, alerts)
}

// receiveFiles reads every file part of the request. On error the files
// received so far are released.
func (s *Server) receiveFiles(slot staging.Slot, r *http.Request) ([]staging.PendingFile, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidUpload, err)
	}

	var files []staging.PendingFile
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return files, nil
		}
		if err != nil {
			releaseFiles(files)
			return nil, fmt.Errorf("%w: %v", core.ErrInvalidUpload, err)
		}
		if part.FormName() != "files" || part.FileName() == "" {
			part.Close()
			continue
		}

		f, err := s.service.Receive(slot, part.FileName(), part)
		part.Close()
		if err != nil {
			releaseFiles(files)
			return nil, err
		}
		files = append(files, f)
	}
}

// handleRemoveFile removes the file at {index}.
func (s *Server) handleRemoveFile(w http.ResponseWriter, r *http.Request) {
	slot, err := s.slotParam(r)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}

	raw := chi.URLParam(r, "index")
	index, err := strconv.Atoi(raw)
	if err != nil {
		s.respondSlotError(w, r, slot, fmt.Errorf("%w: %q", staging.ErrIndexOutOfRange, raw))
		return
	}

	removed, err := s.service.RemoveFile(sessionID(r), slot, index)
	if err != nil {
		s.respondSlotError(w, r, slot, err)
		return
	}
	logging.FromContext(r.Context()).Debug("file removed", "slot", slot, "file", removed.Name)

	s.renderPanel(w, r, slot, http.StatusOK, nil)
}

// handleClear empties the slot.
func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	slot, err := s.slotParam(r)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	if err := s.service.Clear(sessionID(r), slot); err != nil {
		s.respondSlotError(w, r, slot, err)
		return
	}
	s.renderPanel(w, r, slot, http.StatusOK, nil)
}

// handleSubmit sends the slot to the backend. Success renders the emptied
// panel plus the results modal; failure keeps the files and shows the reason.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	slot, err := s.slotParam(r)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}

	ctx := WithRequestMetadata(r.Context(), r)
	res, err := s.service.Submit(ctx, sessionID(r), slot)
	if err != nil {
		s.respondSlotError(w, r, slot, err)
		return
	}

	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, res)
		return
	}

	target, _ := s.service.Registry().Lookup(slot)
	modal := templates.ResultsModal(templates.ResultsView{Label: target.Label, Response: res.Response})
	s.renderPanel(w, r, slot, http.StatusOK, nil, modal)
}

// respondSlotError answers HTML requests with the slot panel carrying the
// error as an alert, and everything else through respondError.
func (s *Server) respondSlotError(w http.ResponseWriter, r *http.Request, slot staging.Slot, err error) {
	status := statusFor(err)
	if wantsJSON(r) {
		s.respondError(w, r, err, status)
		return
	}
	msg := logError(r, err, status)
	alert := templates.Alert{Message: msg.Message, Action: msg.Action, Code: msg.Code}
	s.renderPanel(w, r, slot, status, []templates.Alert{alert})
}

// renderPanel writes the slot panel, followed by any out-of-band fragments.
func (s *Server) renderPanel(w http.ResponseWriter, r *http.Request, slot staging.Slot, status int, alerts []templates.Alert, extra ...templ.Component) {
	view, err := s.slotView(sessionID(r), slot)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	view.Alerts = alerts

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := templates.SlotPanel(view).Render(r.Context(), w); err != nil {
		slog.Error("render slot panel", "slot", slot, "error", err)
		return
	}
	for _, c := range extra {
		if err := c.Render(r.Context(), w); err != nil {
			slog.Error("render fragment", "slot", slot, "error", err)
			return
		}
	}
}

func (s *Server) slotView(sid string, slot staging.Slot) (templates.SlotView, error) {
	target, ok := s.service.Registry().Lookup(slot)
	if !ok {
		return templates.SlotView{}, fmt.Errorf("%w: %s", staging.ErrUnknownSlot, slot)
	}
	files, err := s.service.Files(sid, slot)
	if err != nil {
		return templates.SlotView{}, err
	}
	return templates.SlotView{
		Target:     target,
		Files:      files,
		Submitting: s.service.Submitting(sid, slot),
	}, nil
}

func (s *Server) slotParam(r *http.Request) (staging.Slot, error) {
	return s.service.Registry().Parse(chi.URLParam(r, "slot"))
}

// releaseFiles frees files that never made it into a store.
func releaseFiles(files []staging.PendingFile) {
	for _, f := range files {
		if rel, ok := f.Source.(staging.Releaser); ok {
			if err := rel.Release(); err != nil {
				slog.Warn("releasing upload failed", "file", f.Name, "error", err)
			}
		}
	}
}

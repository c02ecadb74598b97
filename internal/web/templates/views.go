// Package templates renders the upload pages and HTMX partials.
//
// Components are written in .templ files; the _templ.go files next to them
// are produced by `templ generate`.
package templates

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/JonMunkholm/bridgette/internal/backend"
	"github.com/JonMunkholm/bridgette/internal/staging"
)

//go:generate templ generate

// Alert is one user-facing message shown inside a slot panel.
type Alert struct {
	Message string
	Action  string
	Code    string
}

// SlotView is everything a slot panel shows.
type SlotView struct {
	Target     staging.Target
	Files      []staging.PendingFile
	Submitting bool
	Alerts     []Alert
}

// TotalSize sums the staged file sizes.
func (v SlotView) TotalSize() int64 {
	var n int64
	for _, f := range v.Files {
		n += f.Size
	}
	return n
}

// PanelID is the DOM id of the slot's panel.
func (v SlotView) PanelID() string {
	return v.Target.ElementID + "-panel"
}

func (v SlotView) path(suffix string) string {
	return "/slots/" + v.Target.Slot.String() + suffix
}

func (v SlotView) removePath(index int) string {
	return v.path("/files/" + strconv.Itoa(index) + "/remove")
}

func (v SlotView) extensions(sep string) string {
	return strings.Join(v.Target.Policy.AllowedExtensions, sep)
}

func (v SlotView) canSubmit() bool {
	return len(v.Files) > 0 && !v.Submitting
}

// DashboardView lists every slot of the caller's session.
type DashboardView struct {
	Mode  staging.Mode
	Slots []SlotView
}

// ResultsView is a successful submission as shown to the user.
type ResultsView struct {
	Label    string
	Response *backend.ProcessResponse
}

func (v ResultsView) results() []backend.UploadResult {
	if v.Response == nil {
		return nil
	}
	return v.Response.Results
}

// fileCount prefers the backend's own count and falls back to the results.
func (v ResultsView) fileCount() int {
	if v.Response != nil && v.Response.FileCount > 0 {
		return v.Response.FileCount
	}
	return len(v.results())
}

func plural(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return strconv.Itoa(n) + " " + word + "s"
}

func joinLines(lines []string) string {
	return strings.Join(lines, "\n")
}

// prettyData indents a result's data payload; invalid JSON is shown as sent.
func prettyData(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}

func hasData(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s != "" && s != "null"
}

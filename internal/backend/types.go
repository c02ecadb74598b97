package backend

import "encoding/json"

// UploadResult is the backend's verdict on one submitted file.
type UploadResult struct {
	Filename string          `json:"filename"`
	Error    bool            `json:"error"`
	Lines    []string        `json:"lines,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	Message  string          `json:"message,omitempty"`
}

// ErrorMessage returns the reason a failed result carries. The preview
// backend puts it in the first line; newer builds use the message field.
func (r UploadResult) ErrorMessage() string {
	if !r.Error {
		return ""
	}
	if r.Message != "" {
		return r.Message
	}
	if len(r.Lines) > 0 {
		return r.Lines[0]
	}
	return "processing failed"
}

// ProcessResponse is the body returned by /api/process-files.
type ProcessResponse struct {
	Success   bool           `json:"success"`
	Results   []UploadResult `json:"results"`
	FileCount int            `json:"file_count"`
	Error     string         `json:"error,omitempty"`
	IsSchema  bool           `json:"is_schema,omitempty"`
}

// Failed returns the results flagged as errors.
func (r *ProcessResponse) Failed() []UploadResult {
	var out []UploadResult
	for _, res := range r.Results {
		if res.Error {
			out = append(out, res)
		}
	}
	return out
}

// ProcessOptions selects the processing mode for a submission.
type ProcessOptions struct {
	Schema bool // submit as schema files
	Box    int  // box number, 0 to omit
}

// ActionResponse is the generic body of the processing control endpoints.
type ActionResponse struct {
	Success bool     `json:"success"`
	Message string   `json:"message,omitempty"`
	Error   string   `json:"error,omitempty"`
	Files   []string `json:"files,omitempty"`
}

// HealthStatus is the body of /api/health.
type HealthStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// mergeRequest is the body of /api/start-merging.
type mergeRequest struct {
	Files []string `json:"files"`
}

// errorBody is decoded from non-2xx responses.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

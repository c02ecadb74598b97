package cli

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type queryFlags struct{ schema, box string }

type received struct {
	query queryFlags
	files []string
}

func newBackend(t *testing.T, routes map[string]string, got *received) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/process-files" && got != nil {
			got.query = queryFlags{schema: r.URL.Query().Get("schema"), box: r.URL.Query().Get("box")}
			_, params, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
			mr := multipart.NewReader(r.Body, params["boundary"])
			for {
				part, err := mr.NextPart()
				if err != nil {
					break
				}
				got.files = append(got.files, part.FileName())
				io.Copy(io.Discard, part)
			}
		}
		body, ok := routes[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"no such artifact"}`))
			return
		}
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := RootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestSubmit_PrintsResults(t *testing.T) {
	got := &received{}
	base := newBackend(t, map[string]string{
		"/api/process-files": `{"success":true,"results":[{"filename":"a.csv","error":false,"lines":["Account,Amount"]}]}`,
	}, got)
	dir := t.TempDir()
	a := writeFile(t, dir, "a.csv", "Account,Amount\n")
	txt := writeFile(t, dir, "notes.txt", "hi")

	out, err := run(t, "submit", "--backend", base, a, txt, filepath.Join(dir, "missing.csv"))
	if err != nil {
		t.Fatalf("submit: %v\n%s", err, out)
	}
	for _, want := range []string{"rejected", "notes.txt", "skipped", "ok a.csv", "Account,Amount"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if len(got.files) != 1 || got.files[0] != "a.csv" {
		t.Errorf("backend received %v", got.files)
	}
	if got.query.schema != "" || got.query.box != "" {
		t.Errorf("data slot sent flags %+v", got.query)
	}
}

func TestSubmit_SchemaFlag(t *testing.T) {
	got := &received{}
	base := newBackend(t, map[string]string{
		"/api/process-files": `{"success":true,"is_schema":true,"results":[]}`,
	}, got)
	schema := writeFile(t, t.TempDir(), "schema.json", "{}")

	if _, err := run(t, "submit", "--backend", base, "--slot", "box2", "--schema", schema); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got.query.schema != "true" || got.query.box != "2" {
		t.Errorf("query = %+v, want schema=true box=2", got.query)
	}
}

func TestSubmit_BackendFailureExits1(t *testing.T) {
	base := newBackend(t, map[string]string{
		"/api/process-files": `{"success":false,"error":"bad format"}`,
	}, nil)
	a := writeFile(t, t.TempDir(), "a.csv", "x")

	out, err := run(t, "submit", "--backend", base, a)
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.Status != 1 {
		t.Fatalf("err = %v, want exit status 1", err)
	}
	if !strings.Contains(out, "bad format") {
		t.Errorf("output does not show the backend message:\n%s", out)
	}
}

func TestSubmit_FileErrorsExit2(t *testing.T) {
	base := newBackend(t, map[string]string{
		"/api/process-files": `{"success":true,"results":[{"filename":"a.csv","error":true,"lines":["missing header"]}]}`,
	}, nil)
	a := writeFile(t, t.TempDir(), "a.csv", "x")

	out, err := run(t, "submit", "--backend", base, a)
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.Status != 2 {
		t.Fatalf("err = %v, want exit status 2", err)
	}
	if !strings.Contains(out, "x a.csv: missing header") {
		t.Errorf("output:\n%s", out)
	}
}

func TestSubmit_NothingAccepted(t *testing.T) {
	base := newBackend(t, nil, nil)
	txt := writeFile(t, t.TempDir(), "notes.txt", "x")

	_, err := run(t, "submit", "--backend", base, txt)
	if err == nil || !strings.Contains(err.Error(), "please select at least one file") {
		t.Errorf("err = %v", err)
	}
}

func TestSubmit_MaxSize(t *testing.T) {
	base := newBackend(t, map[string]string{"/api/process-files": `{"success":true}`}, nil)
	a := writeFile(t, t.TempDir(), "a.csv", strings.Repeat("x", 2048))

	out, err := run(t, "submit", "--backend", base, "--max-size", "1KB", a)
	if err == nil {
		t.Fatal("expected the oversized file to leave nothing to submit")
	}
	if !strings.Contains(out, "too large") {
		t.Errorf("output:\n%s", out)
	}

	if _, err := run(t, "submit", "--backend", base, "--max-size", "lots", a); err == nil {
		t.Error("invalid --max-size accepted")
	}
}

func TestHealth(t *testing.T) {
	base := newBackend(t, map[string]string{"/api/health": `{"status":"healthy"}`}, nil)
	out, err := run(t, "health", "--backend", base)
	if err != nil || !strings.Contains(out, "is healthy") {
		t.Errorf("health = %q, %v", out, err)
	}

	down := newBackend(t, nil, nil)
	if _, err := run(t, "health", "--backend", down); err == nil {
		t.Error("health succeeded against a backend without /api/health")
	}
}

func TestDownloadExcel(t *testing.T) {
	base := newBackend(t, map[string]string{"/api/download-excel/out.xlsx": "PK-data"}, nil)
	dest := filepath.Join(t.TempDir(), "saved.xlsx")

	out, err := run(t, "download", "excel", "out.xlsx", "-o", dest, "--backend", base)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	data, _ := os.ReadFile(dest)
	if string(data) != "PK-data" || !strings.Contains(out, "7 bytes") {
		t.Errorf("file = %q, output = %q", data, out)
	}

	missing := filepath.Join(t.TempDir(), "missing.xlsx")
	if _, err := run(t, "download", "excel", "gone.xlsx", "-o", missing, "--backend", base); err == nil {
		t.Error("missing artifact downloaded")
	}
	if _, err := os.Stat(missing); !os.IsNotExist(err) {
		t.Error("partial file left behind")
	}
}

func TestDownloadJSON(t *testing.T) {
	base := newBackend(t, map[string]string{"/api/json-files/combined.json": `{"rows":[1,2]}`}, nil)

	out, err := run(t, "download", "json", "combined.json", "--backend", base)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if !strings.Contains(out, "\"rows\": [\n    1,") {
		t.Errorf("output not indented:\n%s", out)
	}
}

func TestProcess(t *testing.T) {
	base := newBackend(t, map[string]string{
		"/api/trigger-main-processing": `{"success":true,"message":"processing started"}`,
		"/api/cleanup-json-files":      `{"success":false,"error":"files locked"}`,
		"/api/start-merging":           `{"success":true,"files":["merged.xlsx"]}`,
	}, nil)

	if out, err := run(t, "process", "trigger", "--backend", base); err != nil || !strings.Contains(out, "processing started") {
		t.Errorf("trigger = %q, %v", out, err)
	}
	if out, err := run(t, "process", "cleanup", "--backend", base); err == nil || !strings.Contains(out, "files locked") {
		t.Errorf("cleanup = %q, %v", out, err)
	}
	if out, err := run(t, "process", "merge", "a.json", "b.json", "--backend", base); err != nil || !strings.Contains(out, "merged.xlsx") {
		t.Errorf("merge = %q, %v", out, err)
	}
}

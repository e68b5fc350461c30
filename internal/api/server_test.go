// # internal/api/server_test.go
package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"strata/internal/core/app"
	"strata/internal/core/config"
)

func testServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Spool.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}
	svc, err := app.New(cfg, "test")
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	srv, err := NewServer(cfg.API, svc)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return srv
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "192.0.2.1:40000"
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeParse(t *testing.T, rec *httptest.ResponseRecorder) parseResponse {
	t.Helper()
	var resp parseResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response is not valid json: %v\n%s", err, rec.Body.String())
	}
	return resp
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("error body is not valid json: %v\n%s", err, rec.Body.String())
	}
	return resp["error"]
}

func TestParseInlineContent(t *testing.T) {
	srv := testServer(t, nil)
	rec := do(t, srv, http.MethodPost, "/v1/parse",
		`{"content":[{"path":"a.go","data":"package a\n\nfunc A() {}\n"}],"format":"markdown"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	resp := decodeParse(t, rec)
	if resp.RunID == "" {
		t.Error("response has no run id")
	}
	if resp.Format != "markdown" || resp.FilesProcessed != 1 {
		t.Errorf("format = %q, files = %d", resp.Format, resp.FilesProcessed)
	}
	if resp.Stats.Completed != 1 || resp.Stats.Failed != 0 {
		t.Errorf("stats = %+v", resp.Stats)
	}
	if !strings.Contains(resp.Content, "a.go") || !strings.Contains(resp.Content, "# Parse Report") {
		t.Errorf("rendered content looks wrong:\n%s", resp.Content)
	}
}

func TestParseDefaultsToJSONFormat(t *testing.T) {
	srv := testServer(t, nil)
	rec := do(t, srv, http.MethodPost, "/v1/parse",
		`{"content":[{"path":"a.py","data":"def a():\n    pass\n"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	resp := decodeParse(t, rec)
	if resp.Format != "json" {
		t.Errorf("format = %q, want json", resp.Format)
	}
	if !json.Valid([]byte(resp.Content)) {
		t.Error("content is not a json document")
	}
}

func TestParseHonorsLanguageHint(t *testing.T) {
	srv := testServer(t, nil)
	rec := do(t, srv, http.MethodPost, "/v1/parse",
		`{"content":[{"path":"script.txt","data":"def a():\n    pass\n","language":"python"}],"format":"json"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	resp := decodeParse(t, rec)
	if !strings.Contains(resp.Content, `"language": "python"`) {
		t.Errorf("hinted language missing from report:\n%s", resp.Content)
	}
}

func TestParseRejectsMissingSources(t *testing.T) {
	srv := testServer(t, nil)
	rec := do(t, srv, http.MethodPost, "/v1/parse", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if msg := errorBody(t, rec); !strings.Contains(msg, "paths or content") {
		t.Errorf("error = %q", msg)
	}
}

func TestParseRejectsMixedSources(t *testing.T) {
	srv := testServer(t, nil)
	rec := do(t, srv, http.MethodPost, "/v1/parse",
		`{"paths":["."],"content":[{"path":"a.go","data":"package a\n"}]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if msg := errorBody(t, rec); !strings.Contains(msg, "mutually exclusive") {
		t.Errorf("error = %q", msg)
	}
}

func TestParseRejectsUnknownField(t *testing.T) {
	srv := testServer(t, nil)
	rec := do(t, srv, http.MethodPost, "/v1/parse", `{"bogus":true}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if msg := errorBody(t, rec); !strings.Contains(msg, "unknown field") {
		t.Errorf("error = %q", msg)
	}
}

func TestParseRejectsFormatOutsideContract(t *testing.T) {
	srv := testServer(t, nil)
	rec := do(t, srv, http.MethodPost, "/v1/parse",
		`{"content":[{"path":"a.go","data":"package a\n"}],"format":"pdf"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if msg := errorBody(t, rec); !strings.Contains(msg, `"pdf"`) {
		t.Errorf("error = %q", msg)
	}
}

func TestParseRejectsMissingRoot(t *testing.T) {
	srv := testServer(t, nil)
	rec := do(t, srv, http.MethodPost, "/v1/parse",
		`{"paths":["/definitely/not/a/real/root"]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestParseRateLimited(t *testing.T) {
	srv := testServer(t, func(cfg *config.Config) {
		cfg.API.RatePerSecond = 0.001
		cfg.API.Burst = 1
	})
	body := `{"content":[{"path":"a.go","data":"package a\n"}]}`

	if rec := do(t, srv, http.MethodPost, "/v1/parse", body); rec.Code != http.StatusOK {
		t.Fatalf("first request: status = %d", rec.Code)
	}
	rec := do(t, srv, http.MethodPost, "/v1/parse", body)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("429 without Retry-After")
	}
}

func TestParseRejectsOversizedBody(t *testing.T) {
	srv := testServer(t, func(cfg *config.Config) {
		cfg.API.MaxRequestBytes = 64
	})
	big := strings.Repeat("x", 256)
	rec := do(t, srv, http.MethodPost, "/v1/parse",
		`{"content":[{"path":"a.go","data":"`+big+`"}]}`)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
}

func TestHealthRoute(t *testing.T) {
	srv := testServer(t, nil)
	rec := do(t, srv, http.MethodGet, "/v1/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var status struct {
		Status     string            `json:"status"`
		Components map[string]string `json:"components"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("health body: %v", err)
	}
	if status.Status != "up" || status.Components["languages"] == "" {
		t.Errorf("health = %+v", status)
	}
}

func TestHealthRouteDegraded(t *testing.T) {
	srv := testServer(t, func(cfg *config.Config) {
		cfg.Spool.Enabled = true
		cfg.Spool.Path = " "
	})
	rec := do(t, srv, http.MethodGet, "/v1/health", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestLanguagesRoute(t *testing.T) {
	srv := testServer(t, nil)
	rec := do(t, srv, http.MethodGet, "/v1/languages", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Languages []string `json:"languages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("languages body: %v", err)
	}
	found := false
	for _, l := range resp.Languages {
		if l == "go" {
			found = true
		}
	}
	if !found {
		t.Errorf("languages = %v", resp.Languages)
	}
}

func TestOpenAPIDocumentServed(t *testing.T) {
	srv := testServer(t, nil)
	rec := do(t, srv, http.MethodGet, "/openapi.yaml", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/yaml" {
		t.Errorf("content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "parseBatch") {
		t.Error("served document is not the embedded contract")
	}
}

func TestMetricsRouteServed(t *testing.T) {
	srv := testServer(t, nil)
	rec := do(t, srv, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "strata_spool_depth") {
		t.Error("metrics output lacks the spool depth gauge")
	}
}

// Every path the contract declares must be served, and with the method the
// contract gives it.
func TestContractRoutesAreServed(t *testing.T) {
	srv := testServer(t, nil)
	doc, err := loadContract()
	if err != nil {
		t.Fatalf("loadContract: %v", err)
	}

	routes := contractRoutes(doc)
	if len(routes) != 3 {
		t.Fatalf("contract declares %d routes: %v", len(routes), routes)
	}

	for path, item := range doc.Paths.Map() {
		for method := range item.Operations() {
			rec := do(t, srv, strings.ToUpper(method), path, "{}")
			if rec.Code == http.StatusNotFound || rec.Code == http.StatusMethodNotAllowed {
				t.Errorf("%s %s is in the contract but not served (status %d)", method, path, rec.Code)
			}
		}
	}
}

func TestContractFormatsMatchWriters(t *testing.T) {
	doc, err := loadContract()
	if err != nil {
		t.Fatalf("loadContract: %v", err)
	}
	formats, err := contractFormats(doc)
	if err != nil {
		t.Fatalf("contractFormats: %v", err)
	}
	for _, want := range []string{"markdown", "json", "yaml", "xml", "text"} {
		if !formats[want] {
			t.Errorf("contract is missing format %q", want)
		}
	}
	if len(formats) != 5 {
		t.Errorf("contract declares %d formats", len(formats))
	}
}

package wire

import (
	"encoding/json"
	"reflect"
	"testing"

	errs "strata/internal/core/errors"
	"strata/internal/engine/parse"
)

func sampleResult() *parse.Result {
	return &parse.Result{
		FilePath: "pkg/server.go",
		Language: "go",
		Declarations: []parse.Declaration{
			{
				Name:      "Server",
				Kind:      parse.KindContainer,
				StartLine: 5,
				EndLine:   40,
				Signature: "type Server struct",
				Doc:       "Server handles requests.",
				Modifiers: parse.Modifiers("public"),
				Children: []parse.Declaration{
					{Name: "Start", Kind: parse.KindFunction, StartLine: 12, EndLine: 25, Signature: "func (s *Server) Start() error"},
					{Name: "Stop", Kind: parse.KindFunction, StartLine: 27, EndLine: 39},
				},
			},
			{Name: "defaultPort", Kind: parse.KindVariable, StartLine: 42, EndLine: 42},
		},
		Imports: []parse.Import{
			{RawText: `"net/http"`, ResolvedName: "net/http", Line: 3},
		},
		MissedFeatures: map[string]bool{"nesting": true},
		Quality:        parse.QualityFull,
		EngineUsed:     "structural",
		Confidence:     0.85,
		SecurityIssues: []parse.SecurityIssue{
			{Rule: "aws-access-key-id", Severity: parse.SeverityHigh, Line: 30, Excerpt: "AKIA...MPLE", Confidence: 0.99},
		},
		LineCount: 44,
	}
}

func TestRoundTrip(t *testing.T) {
	want := sampleResult()

	data, err := json.Marshal(EncodeResult(want))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var rec ResultRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	got, err := DecodeResult(&rec, "fallback.go")
	if err != nil {
		t.Fatalf("DecodeResult returned defect: %v", err)
	}

	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, want)
	}
}

func TestDecodeRestoresTypedEnums(t *testing.T) {
	rec := &ResultRecord{
		FilePath: "a.py",
		Quality:  "partial",
		Declarations: []DeclarationRecord{
			{Name: "run", Kind: "function", StartLine: 1, EndLine: 3},
		},
		SecurityIssues: []IssueRecord{
			{Rule: "x", Severity: "CRITICAL", Line: 2, Confidence: 0.5},
		},
	}
	got, err := DecodeResult(rec, "")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Quality != parse.QualityPartial {
		t.Fatalf("quality = %v, want partial", got.Quality)
	}
	if got.Declarations[0].Kind != parse.KindFunction {
		t.Fatalf("kind = %v, want function", got.Declarations[0].Kind)
	}
	if got.SecurityIssues[0].Severity != parse.SeverityCritical {
		t.Fatalf("severity = %v, want critical", got.SecurityIssues[0].Severity)
	}
}

func TestDecodeUnknownQualityDegradesToMinimal(t *testing.T) {
	rec := &ResultRecord{FilePath: "a.go", Quality: "excellent"}
	got, err := DecodeResult(rec, "")
	if err != nil {
		t.Fatalf("an unknown quality name must degrade, not fail: %v", err)
	}
	if got.Quality != parse.QualityMinimal {
		t.Fatalf("quality = %v, want minimal", got.Quality)
	}
	if got.Error != "" {
		t.Fatalf("unexpected error field %q", got.Error)
	}
}

func TestDecodeUnknownKindDowngrades(t *testing.T) {
	rec := &ResultRecord{
		FilePath: "a.go",
		Quality:  "full",
		Declarations: []DeclarationRecord{
			{Name: "Widget", Kind: "gadget", StartLine: 1, EndLine: 2},
		},
	}
	got, err := DecodeResult(rec, "")
	if err == nil {
		t.Fatal("want a serialization defect for an unknown kind")
	}
	if !errs.IsCode(err, errs.CodeSerialization) {
		t.Fatalf("defect code = %v, want serialization", err)
	}
	if got.Error == "" || got.Quality != parse.QualityMinimal || got.Confidence != 0 {
		t.Fatalf("downgraded result = %+v", got)
	}
	if got.FilePath != "a.go" {
		t.Fatalf("path = %q, want a.go", got.FilePath)
	}
}

func TestDecodeMissingNameDowngrades(t *testing.T) {
	rec := &ResultRecord{
		FilePath: "a.go",
		Quality:  "full",
		Declarations: []DeclarationRecord{
			{Kind: "function", StartLine: 1, EndLine: 2},
		},
	}
	if _, err := DecodeResult(rec, ""); err == nil {
		t.Fatal("want a defect for a declaration without a name")
	}
}

func TestDecodeContainmentViolationDowngrades(t *testing.T) {
	rec := &ResultRecord{
		FilePath: "a.go",
		Quality:  "full",
		Declarations: []DeclarationRecord{
			{
				Name: "Outer", Kind: "container", StartLine: 5, EndLine: 10,
				Children: []DeclarationRecord{
					{Name: "escapee", Kind: "function", StartLine: 12, EndLine: 14},
				},
			},
		},
	}
	got, err := DecodeResult(rec, "")
	if err == nil {
		t.Fatal("want a defect for a child outside its parent")
	}
	if got.Error == "" {
		t.Fatal("downgraded result must carry the error")
	}
}

func TestDecodeBadImportDowngrades(t *testing.T) {
	rec := &ResultRecord{
		FilePath: "a.go",
		Quality:  "full",
		Imports:  []ImportRecord{{RawText: "import os", Line: 0}},
	}
	if _, err := DecodeResult(rec, ""); err == nil {
		t.Fatal("want a defect for an import without a line")
	}
}

func TestDecodeNilRecordUsesFallbackPath(t *testing.T) {
	got, err := DecodeResult(nil, "lost.go")
	if err == nil {
		t.Fatal("want a defect for a missing result record")
	}
	if got.FilePath != "lost.go" || got.Error == "" {
		t.Fatalf("downgraded result = %+v", got)
	}
}

func TestDecodeIgnoresUnknownFields(t *testing.T) {
	raw := []byte(`{
		"file_path": "a.go",
		"quality": "full",
		"confidence_score": 0.9,
		"shiny_new_field": {"nested": true},
		"declarations": [
			{"name": "run", "kind": "function", "start_line": 1, "end_line": 2, "flavor": "spicy"}
		]
	}`)
	var rec ResultRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	got, err := DecodeResult(&rec, "")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Declarations) != 1 || got.Declarations[0].Name != "run" {
		t.Fatalf("declarations = %+v", got.Declarations)
	}
}

func TestSnapshotFingerprint(t *testing.T) {
	snap := Snapshot{
		MergeStrategy:    "confidence_weighted",
		EarlyTermination: true,
		Threshold:        5,
		CacheMaxSize:     64,
	}
	if snap.Verify() {
		t.Fatal("an unsealed snapshot must not verify")
	}

	sealed := snap.Sealed()
	if !sealed.Verify() {
		t.Fatal("a sealed snapshot must verify")
	}

	tampered := sealed
	tampered.Threshold = 50
	if tampered.Verify() {
		t.Fatal("a mutated snapshot must not verify")
	}
}

func TestConfidenceClamped(t *testing.T) {
	rec := &ResultRecord{FilePath: "a.go", Quality: "full", Confidence: 3.7}
	got, err := DecodeResult(rec, "")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Confidence != 1.0 {
		t.Fatalf("confidence = %v, want clamped to 1.0", got.Confidence)
	}
}

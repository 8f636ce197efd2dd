package sheets

import (
	"strings"
	"testing"
	"time"

	"ocrpipe/pkg/models"
	"ocrpipe/pkg/services"
)

func TestExtractSpreadsheetID(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		want    string
		wantErr bool
	}{
		{"edit url", "https://docs.google.com/spreadsheets/d/1AbC-d_E2/edit#gid=0", "1AbC-d_E2", false},
		{"bare", "https://docs.google.com/spreadsheets/d/xyz", "xyz", false},
		{"not a sheet", "https://example.com/doc/1", "", true},
		{"empty", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractSpreadsheetID(tt.url)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ExtractSpreadsheetID() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ExtractSpreadsheetID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRowsFromItems(t *testing.T) {
	env := &models.Envelope{Text: "TOTAL\n  12.50", FileType: models.FileTypePDF}
	env.Metadata.Profile = "invoice"
	env.Metadata.Method = ""
	env.Metadata.MethodUsed = "pdf_direct"
	env.Metadata.BestStrategy = "pdf_direct"
	env.Metadata.Confidence = 100
	env.Metadata.CacheHit = true
	env.Metadata.ProcessingTimeMS = 12

	items := []services.BatchItem{
		{File: "/in/a.pdf", Envelope: env, Status: services.StatusOK},
		{File: "/in/b.png", Error: "file missing: /in/b.png", Status: services.StatusFailed},
	}
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	rows := RowsFromItems(items, at)
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(rows))
	}

	ok := rows[0]
	if ok.File != "a.pdf" || ok.Method != "pdf_direct" || ok.Profile != "invoice" {
		t.Errorf("row = %+v", ok)
	}
	if ok.Characters != len("TOTAL\n  12.50") || ok.Preview != "TOTAL 12.50" {
		t.Errorf("characters = %d, preview = %q", ok.Characters, ok.Preview)
	}
	if !ok.CacheHit || ok.ProcessedAt != "2026-01-02 03:04:05" {
		t.Errorf("cache hit = %v, processed = %s", ok.CacheHit, ok.ProcessedAt)
	}

	failed := rows[1]
	if failed.Status != services.StatusFailed || failed.Error == "" || failed.FileType != "" {
		t.Errorf("failed row = %+v", failed)
	}
	if got := len(failed.Values()); got != len(headers) {
		t.Errorf("len(Values()) = %d, want %d", got, len(headers))
	}
}

func TestPreviewTruncates(t *testing.T) {
	long := strings.Repeat("ä", previewLength+10)
	got := preview(long)
	if !strings.HasSuffix(got, "…") {
		t.Errorf("preview not marked as truncated: %q", got)
	}
	if n := len([]rune(got)); n != previewLength+1 {
		t.Errorf("preview runes = %d, want %d", n, previewLength+1)
	}
}

func TestLastColumn(t *testing.T) {
	if lastColumn != "N" {
		t.Errorf("lastColumn = %s, want N", lastColumn)
	}
}

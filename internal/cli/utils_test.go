package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/costwise/pricematch/internal/models"
)

func sampleResults() []models.MatchedItem {
	return []models.MatchedItem{
		{
			SourceDescription:  "Excavation in soil",
			MatchedDescription: "Excavation in ordinary soil",
			MatchedRate:        450,
			Confidence:         0.914,
			Unit:               "m3",
			Quantity:           120,
		},
		{
			SourceDescription:  "Concrete C25",
			MatchedDescription: "Concrete grade C25 in foundations",
			MatchedRate:        7200,
			Confidence:         0.333,
			Unit:               "m3",
		},
	}
}

func TestWriteMatchResultsText(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMatchResults(&buf, sampleResults(), OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{
		"Matched 2 items",
		"Excavation in soil",
		"Excavation in ordinary soil",
		"confidence 91.4%",
		"450.00 per m3",
		"= 54000.00",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("text output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteMatchResultsJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMatchResults(&buf, sampleResults(), OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded []models.MatchedItem
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("JSON output not parseable: %v", err)
	}
	if len(decoded) != 2 || decoded[0].MatchedRate != 450 {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestWriteJobSummary(t *testing.T) {
	var buf bytes.Buffer
	WriteJobSummary(&buf, []models.MatchingJob{
		{ID: "job_1", Status: models.StatusCompleted, Progress: 100, FileName: "a.xlsx"},
		{ID: "job_2", Status: models.StatusFailed, Progress: 40, FileName: "b.xlsx", Error: "cancelled"},
	})
	out := buf.String()
	if !strings.Contains(out, "job_1") || !strings.Contains(out, "completed") {
		t.Errorf("summary missing completed job:\n%s", out)
	}
	if !strings.Contains(out, "(cancelled)") {
		t.Errorf("summary missing error note:\n%s", out)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		s      string
		maxLen int
		want   string
	}{
		{"hello", 10, "hello"},
		{"hello world", 5, "hello..."},
		{"hello", 0, "hello"},
		{"", 5, ""},
	}
	for _, tt := range tests {
		if got := Truncate(tt.s, tt.maxLen); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.s, tt.maxLen, got, tt.want)
		}
	}
}

func TestTruncateWords(t *testing.T) {
	if got := TruncateWords("one two three four", 2); got != "one two..." {
		t.Errorf("TruncateWords = %q", got)
	}
	if got := TruncateWords("one two", 5); got != "one two" {
		t.Errorf("TruncateWords = %q", got)
	}
}

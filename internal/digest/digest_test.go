package digest

import (
	"strings"
	"testing"
	"time"

	"kubelookout/internal/storage"
)

func rec(name, outcome string, took time.Duration) storage.RolloutRecord {
	return storage.RolloutRecord{
		Namespace: "prod",
		Name:      name,
		ImageTag:  "v2",
		Outcome:   outcome,
		TookMS:    took.Milliseconds(),
	}
}

func TestSummarizeEmpty(t *testing.T) {
	t.Parallel()
	got := Summarize(nil)
	if !strings.Contains(got, "no rollouts finished") {
		t.Fatalf("summary = %q", got)
	}
}

func TestSummarizeCountsAndSections(t *testing.T) {
	t.Parallel()
	recs := []storage.RolloutRecord{
		rec("api", "succeeded", 2*time.Minute),
		rec("web", "failed", 10*time.Minute),
		rec("worker", "succeeded", 30*time.Second),
		rec("batch", "succeeded", 7*time.Minute),
	}
	got := Summarize(recs)

	if !strings.Contains(got, "4 finished, 3 succeeded, 1 failed") {
		t.Fatalf("summary header wrong: %q", got)
	}
	if !strings.Contains(got, "Failed:") || !strings.Contains(got, "prod/web (v2)") {
		t.Fatalf("failed section wrong: %q", got)
	}
	// Slowest lists at most three, slowest first.
	slowIdx := strings.Index(got, "Slowest:")
	if slowIdx < 0 {
		t.Fatalf("no slowest section: %q", got)
	}
	slow := got[slowIdx:]
	webIdx := strings.Index(slow, "prod/web")
	batchIdx := strings.Index(slow, "prod/batch")
	if webIdx < 0 || batchIdx < 0 || webIdx > batchIdx {
		t.Fatalf("slowest order wrong: %q", slow)
	}
	if strings.Contains(slow, "prod/worker") {
		t.Fatalf("slowest must cap at three entries: %q", slow)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "defaults", cfg: Config{}},
		{name: "explicit schedule", cfg: Config{Schedule: "30 8 * * 1-5"}},
		{name: "timezone", cfg: Config{Timezone: "Europe/Amsterdam"}},
		{name: "bad schedule", cfg: Config{Schedule: "not a cron"}, wantErr: true},
		{name: "bad timezone", cfg: Config{Timezone: "Mars/Olympus"}, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

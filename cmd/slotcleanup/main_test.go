package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/example/lab-scheduler/internal/scheduler"
	"github.com/example/lab-scheduler/internal/testfixtures"
)

func writeSeed(t *testing.T) string {
	t.Helper()
	deletedAt := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	event := testfixtures.NewEventFixture(testfixtures.WithSlots(
		testfixtures.NewSlotFixture(),
		testfixtures.NewSlotFixture(testfixtures.WithSlotDeletedAt(deletedAt)),
	)).Event()

	raw, err := scheduler.EncodeEvent(event)
	if err != nil {
		t.Fatalf("failed to encode seed event: %v", err)
	}
	path := filepath.Join(t.TempDir(), "events.jsonl")
	if err := os.WriteFile(path, append(raw, '\n'), 0o600); err != nil {
		t.Fatalf("failed to write seed: %v", err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv("LAB_SCHEDULER_CONFIG", "")
	t.Setenv("LAB_SCHEDULER_STORE", "")
	t.Setenv("LAB_SCHEDULER_RETENTION_DAYS", "")
	t.Setenv("LAB_SCHEDULER_TIMEZONE", "")
}

func TestRunDryRunJSON(t *testing.T) {
	clearEnv(t)
	seed := writeSeed(t)

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"--store", "memory", "--seed-file", seed, "--dry-run", "--json"}, &stdout, &stderr)
	if err != nil {
		t.Fatalf("expected run to succeed, got %v (stderr: %s)", err, stderr.String())
	}

	var report jsonReport
	if err := json.Unmarshal(stdout.Bytes(), &report); err != nil {
		t.Fatalf("expected JSON report, got %q: %v", stdout.String(), err)
	}
	if !report.DryRun || report.DeletedSlots != 1 || report.RemoveOlderThanDays != 90 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(report.AffectedEvents) != 1 {
		t.Fatalf("expected one affected event, got %v", report.AffectedEvents)
	}
}

func TestRunTextReport(t *testing.T) {
	clearEnv(t)
	seed := writeSeed(t)

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"--store=memory", "--seed-file=" + seed, "--older-than=30"}, &stdout, &stderr)
	if err != nil {
		t.Fatalf("expected run to succeed, got %v", err)
	}
	out := stdout.String()
	if !strings.Contains(out, "retention threshold: 30 days") || !strings.Contains(out, "purged 1 deleted") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestParseFlagsRejectsBadInput(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name string
		args []string
	}{
		{name: "negative threshold", args: []string{"--older-than", "-1"}},
		{name: "stray argument", args: []string{"purge"}},
		{name: "unknown flag", args: []string{"--force"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if err := run(context.Background(), append([]string{"--store", "memory"}, tt.args...), &stdout, &stderr); err == nil {
				t.Fatalf("expected error for %v", tt.args)
			}
		})
	}
}

func TestRunHelp(t *testing.T) {
	clearEnv(t)
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"--help"}, &stdout, &stderr)
	if !errors.Is(err, pflag.ErrHelp) {
		t.Fatalf("expected ErrHelp, got %v", err)
	}
	if !strings.Contains(stderr.String(), "--older-than") {
		t.Fatalf("expected usage on stderr, got %q", stderr.String())
	}
}

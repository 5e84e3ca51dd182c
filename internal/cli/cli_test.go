package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stampscore/stampscore/internal/app/passport"
	"github.com/stampscore/stampscore/internal/app/rescore"
	"github.com/stampscore/stampscore/internal/domain"
)

// ─── Helpers ────────────────────────────────────────────────────────────────

type testCLI struct {
	t      *testing.T
	dir    string
	config string
}

func newTestCLI(t *testing.T) *testCLI {
	t.Helper()
	dir := t.TempDir()
	cfg := filepath.Join(dir, "config.toml")
	body := "[database]\ndir = \"" + filepath.ToSlash(filepath.Join(dir, "data")) + "\"\n\n[log]\nmode = \"dev\"\nlevel = \"error\"\n"
	if err := os.WriteFile(cfg, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return &testCLI{t: t, dir: dir, config: cfg}
}

func (c *testCLI) run(args ...string) (string, error) {
	c.t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--config", c.config}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (c *testCLI) mustRun(args ...string) string {
	c.t.Helper()
	out, err := c.run(args...)
	if err != nil {
		c.t.Fatalf("%s: %v", strings.Join(args, " "), err)
	}
	return out
}

func (c *testCLI) writeSubmission(name, body string) string {
	c.t.Helper()
	path := filepath.Join(c.dir, name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		c.t.Fatalf("write submission: %v", err)
	}
	return path
}

const submission = `{
  "address": "0xAAA",
  "community_id": 1,
  "stamps": [
    {"provider": "Ens", "fingerprint": "f-ens", "issuance_time": "2024-01-01T00:00:00Z",
     "expiration_time": "2099-01-01T00:00:00Z", "proof_value": "p-ens"},
    {"provider": "Github", "fingerprint": "f-gh", "issuance_time": "2024-01-01T00:00:00Z",
     "expiration_time": "2099-01-01T00:00:00Z", "proof_value": "p-gh"}
  ]
}`

// ─── Tests ──────────────────────────────────────────────────────────────────

func TestMigrate(t *testing.T) {
	c := newTestCLI(t)
	out := c.mustRun("migrate")
	if !strings.Contains(out, "database ready") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestCommunityLifecycle(t *testing.T) {
	c := newTestCLI(t)

	var created domain.Community
	out := c.mustRun("community", "create", "--name", "Test", "--policy", "fifo",
		"--scorer", "WEIGHTED", "--weights", "Ens=2.0,Github=1.0")
	if err := json.Unmarshal([]byte(out), &created); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if created.ID != 1 || created.DedupPolicy != domain.DedupFIFO {
		t.Errorf("unexpected community: %+v", created)
	}

	var shown struct {
		Community domain.Community    `json:"community"`
		Scorer    domain.ScorerConfig `json:"scorer"`
	}
	if err := json.Unmarshal([]byte(c.mustRun("community", "show", "1")), &shown); err != nil {
		t.Fatalf("decode show: %v", err)
	}
	if shown.Scorer.Type != domain.ScorerWeighted || shown.Scorer.Weights["Ens"] != "2.0" {
		t.Errorf("unexpected scorer: %+v", shown.Scorer)
	}

	c.mustRun("community", "set-scorer", "1", "--weights", "Ens=1", "--threshold", "1")
	if err := json.Unmarshal([]byte(c.mustRun("community", "show", "1")), &shown); err != nil {
		t.Fatalf("decode show: %v", err)
	}
	if shown.Scorer.Type != domain.ScorerWeightedBinary || shown.Scorer.Threshold != "1" {
		t.Errorf("scorer not replaced: %+v", shown.Scorer)
	}

	c.mustRun("community", "delete", "1")
	if _, err := c.run("community", "show", "1"); err == nil {
		t.Error("deleted community should not be shown")
	}
}

func TestCommunityCreate_InvalidScorer(t *testing.T) {
	c := newTestCLI(t)
	tests := [][]string{
		{"--scorer", "WEIGHTED_BINARY", "--weights", "Ens=1"}, // missing threshold
		{"--scorer", "WEIGHTED", "--weights", "Ens=-1"},
		{"--scorer", "MEDIAN", "--weights", "Ens=1"},
	}
	for _, flags := range tests {
		args := append([]string{"community", "create", "--name", "x"}, flags...)
		if _, err := c.run(args...); err == nil {
			t.Errorf("%v: expected an error", flags)
		}
	}
}

func TestScoreBanRescoreHistory(t *testing.T) {
	c := newTestCLI(t)
	c.mustRun("community", "create", "--name", "Gitcoin",
		"--weights", "Ens=2.0,Github=1.0", "--threshold", "2.5")

	path := c.writeSubmission("sub.json", submission)
	var report passport.Report
	if err := json.Unmarshal([]byte(c.mustRun("score", "-f", path)), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Status != domain.StatusDone || report.Score == nil || *report.Score != "1" {
		t.Fatalf("unexpected report: %+v", report)
	}
	if report.Evidence == nil || !report.Evidence.Success || report.Evidence.RawScore.String() != "3" {
		t.Errorf("unexpected evidence: %+v", report.Evidence)
	}

	c.mustRun("ban", "add", "--type", "account", "--address", "0xaaa", "--reason", "sybil")
	var bans []domain.Ban
	if err := json.Unmarshal([]byte(c.mustRun("ban", "list", "0xAAA")), &bans); err != nil {
		t.Fatalf("decode bans: %v", err)
	}
	if len(bans) != 1 || bans[0].Type != domain.BanAccount {
		t.Errorf("unexpected bans: %+v", bans)
	}

	var summary rescore.Summary
	if err := json.Unmarshal([]byte(c.mustRun("rescore", "--all")), &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.Scored != 1 || summary.Failed != 0 {
		t.Errorf("unexpected summary: %+v", summary)
	}

	var events []domain.Event
	if err := json.Unmarshal([]byte(c.mustRun("history", "1", "0xAAA", "--verify")), &events); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	updates := 0
	for _, e := range events {
		if e.Action == domain.EventScoreUpdate {
			updates++
		}
	}
	if updates != 2 {
		t.Errorf("expected 2 score updates, got %d", updates)
	}

	var latest passport.Report
	if err := json.Unmarshal([]byte(c.mustRun("history", "1", "0xAAA", "--at", "2098-01-01T00:00:00Z")), &latest); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if latest.Score == nil || *latest.Score != "0" {
		t.Errorf("banned passport should score 0, got %v", latest.Score)
	}
}

func TestScore_UnknownCommunity(t *testing.T) {
	c := newTestCLI(t)
	c.mustRun("migrate")
	path := c.writeSubmission("sub.json", submission)
	out, err := c.run("score", "-f", path)
	if err == nil {
		t.Fatal("expected an error for an unknown community")
	}
	if out != "" {
		t.Errorf("nothing should be printed before the row exists, got %q", out)
	}
}

func TestRevoke(t *testing.T) {
	c := newTestCLI(t)
	c.mustRun("community", "create", "--name", "Gitcoin",
		"--weights", "Ens=2.0,Github=1.0", "--threshold", "2.5")
	c.mustRun("revoke", "p-ens", "--provider", "Ens")

	path := c.writeSubmission("sub.json", submission)
	var report passport.Report
	if err := json.Unmarshal([]byte(c.mustRun("score", "-f", path)), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Score == nil || *report.Score != "0" {
		t.Errorf("score = %v, want 0 with Ens revoked", report.Score)
	}
	if _, ok := report.StampScores["Ens"]; ok {
		t.Error("revoked provider should not be scored")
	}
}

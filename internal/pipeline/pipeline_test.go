// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/oklar/deployd/internal/domain"
)

type fakeRunner struct {
	calls   [][]string
	fail    map[string]error
	outputs map[string]string
	missing map[string]bool
	slept   []time.Duration
}

func (f *fakeRunner) Run(ctx context.Context, argv []string) (string, error) {
	f.calls = append(f.calls, argv)
	key := strings.Join(argv, " ")

	out := f.outputs[key]
	for prefix, err := range f.fail {
		if strings.HasPrefix(key, prefix) {
			return out, err
		}
	}
	return out, nil
}

func (f *fakeRunner) LookPath(name string) (string, error) {
	if f.missing[name] {
		return "", errors.New(name + " not found")
	}
	return "/usr/bin/" + name, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSettings() Settings {
	return Settings{
		RepoDir:      "/srv/class-planner",
		ServiceUnit:  "class-planner.service",
		ServiceUser:  "deploy",
		ProxyUnit:    "nginx.service",
		SiteURL:      "https://example.org/class-planner",
		SettleDelay:  2 * time.Second,
		JournalLines: 10,
	}
}

func newTestPipeline(runner *fakeRunner) *Pipeline {
	p := New(runner, discardLogger(), testSettings(), nil)
	p.sleep = func(ctx context.Context, d time.Duration) error {
		runner.slept = append(runner.slept, d)
		return nil
	}
	return p
}

func commandStrings(runner *fakeRunner) []string {
	out := make([]string, 0, len(runner.calls))
	for _, argv := range runner.calls {
		out = append(out, strings.Join(argv, " "))
	}
	return out
}

func TestRunFullSuccess(t *testing.T) {
	runner := &fakeRunner{
		outputs: map[string]string{
			"journalctl -u class-planner.service -n 10 --no-pager": "line one\nline two\n",
		},
	}
	p := newTestPipeline(runner)

	var updates []StepUpdate
	result := p.Run(context.Background(), func(u StepUpdate) {
		updates = append(updates, u)
	})

	if result.Status != domain.DeploymentSuccess {
		t.Fatalf("expected success, got %s", result.Status)
	}
	if len(result.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", result.Warnings)
	}

	want := []string{
		"runuser -u deploy -- git -C /srv/class-planner pull --ff-only",
		"runuser -u deploy -- uv sync --directory /srv/class-planner",
		"systemctl restart class-planner.service",
		"systemctl is-active --quiet class-planner.service",
		"nginx -t",
		"systemctl reload nginx.service",
		"journalctl -u class-planner.service -n 10 --no-pager",
	}
	got := commandStrings(runner)
	if len(got) != len(want) {
		t.Fatalf("expected %d commands, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("command %d: expected %q, got %q", i, want[i], got[i])
		}
	}

	if len(runner.slept) != 1 || runner.slept[0] != 2*time.Second {
		t.Fatalf("expected one 2s settle delay, got %v", runner.slept)
	}

	if !strings.Contains(result.Summary, "deployment complete") {
		t.Fatalf("expected completion banner in summary, got %q", result.Summary)
	}
	if !strings.Contains(result.Summary, "https://example.org/class-planner") {
		t.Fatalf("expected reachability hint in summary, got %q", result.Summary)
	}
	if !strings.Contains(result.Summary, "line two") {
		t.Fatalf("expected journal tail in summary, got %q", result.Summary)
	}

	last := updates[len(updates)-1]
	if last.Name != domain.StepReloadProxy || last.Status != domain.StepSuccess {
		t.Fatalf("expected final update RELOAD_PROXY SUCCEEDED, got %s %s", last.Name, last.Status)
	}
}

func TestRunFetchFailureStopsPipeline(t *testing.T) {
	runner := &fakeRunner{
		fail: map[string]error{"runuser -u deploy -- git": errors.New("exit status 1")},
	}
	p := newTestPipeline(runner)

	var updates []StepUpdate
	result := p.Run(context.Background(), func(u StepUpdate) {
		updates = append(updates, u)
	})

	if result.Status != domain.DeploymentFailed {
		t.Fatalf("expected failure, got %s", result.Status)
	}
	if result.FailedStep != domain.StepFetchSource {
		t.Fatalf("expected failure at FETCH_SOURCE, got %s", result.FailedStep)
	}
	if result.FailureMsg != "failed to pull source" {
		t.Fatalf("unexpected failure message: %q", result.FailureMsg)
	}

	if len(runner.calls) != 1 {
		t.Fatalf("expected only the git command to run, got %v", commandStrings(runner))
	}

	skipped := map[domain.StepName]bool{}
	for _, u := range updates {
		if u.Status == domain.StepSkipped {
			skipped[u.Name] = true
		}
	}
	for _, name := range []domain.StepName{
		domain.StepSyncDeps,
		domain.StepRestartService,
		domain.StepVerifyHealth,
		domain.StepReloadProxy,
	} {
		if !skipped[name] {
			t.Fatalf("expected %s to be reported skipped", name)
		}
	}
}

func TestRunToolAbsentStillRestarts(t *testing.T) {
	runner := &fakeRunner{missing: map[string]bool{"uv": true}}
	p := newTestPipeline(runner)

	var updates []StepUpdate
	result := p.Run(context.Background(), func(u StepUpdate) {
		updates = append(updates, u)
	})

	if result.Status != domain.DeploymentSuccess {
		t.Fatalf("expected success, got %s", result.Status)
	}
	if len(result.Warnings) != 1 || !strings.Contains(result.Warnings[0], "uv not found") {
		t.Fatalf("expected uv warning, got %v", result.Warnings)
	}

	for _, cmd := range commandStrings(runner) {
		if strings.Contains(cmd, "uv sync") {
			t.Fatalf("expected uv sync to be skipped, got %v", commandStrings(runner))
		}
	}

	restarted := false
	for _, cmd := range commandStrings(runner) {
		if cmd == "systemctl restart class-planner.service" {
			restarted = true
		}
	}
	if !restarted {
		t.Fatal("expected restart to still run with uv absent")
	}

	var syncDeps *StepUpdate
	for i := range updates {
		if updates[i].Name == domain.StepSyncDeps {
			syncDeps = &updates[i]
		}
	}
	if syncDeps == nil || syncDeps.Status != domain.StepSkipped {
		t.Fatal("expected SYNC_DEPS skipped update")
	}
}

func TestRunReportsStepDurations(t *testing.T) {
	runner := &fakeRunner{missing: map[string]bool{"uv": true}}
	p := newTestPipeline(runner)

	var updates []StepUpdate
	result := p.Run(context.Background(), func(u StepUpdate) {
		updates = append(updates, u)
	})

	if result.Status != domain.DeploymentSuccess {
		t.Fatalf("expected success, got %s", result.Status)
	}

	for _, u := range updates {
		switch u.Status {
		case domain.StepRunning, domain.StepSkipped:
			if u.Duration != 0 {
				t.Errorf("%s %s carried duration %v, want zero", u.Name, u.Status, u.Duration)
			}
		default:
			if u.Duration <= 0 {
				t.Errorf("%s %s carried no duration", u.Name, u.Status)
			}
		}
	}
}

func TestRunSyncFailureAborts(t *testing.T) {
	runner := &fakeRunner{
		fail: map[string]error{"runuser -u deploy -- uv": errors.New("exit status 2")},
	}
	p := newTestPipeline(runner)

	result := p.Run(context.Background(), nil)

	if result.Status != domain.DeploymentFailed {
		t.Fatalf("expected failure, got %s", result.Status)
	}
	if result.FailedStep != domain.StepSyncDeps {
		t.Fatalf("expected failure at SYNC_DEPS, got %s", result.FailedStep)
	}

	for _, cmd := range commandStrings(runner) {
		if strings.HasPrefix(cmd, "systemctl restart") {
			t.Fatal("expected restart not to run after sync failure")
		}
	}
}

func TestRunHealthCheckFailureEmitsHint(t *testing.T) {
	runner := &fakeRunner{
		fail: map[string]error{"systemctl is-active": errors.New("exit status 3")},
	}
	p := newTestPipeline(runner)

	result := p.Run(context.Background(), nil)

	if result.Status != domain.DeploymentFailed {
		t.Fatalf("expected failure, got %s", result.Status)
	}
	if result.FailedStep != domain.StepVerifyHealth {
		t.Fatalf("expected failure at VERIFY_HEALTH, got %s", result.FailedStep)
	}
	if !strings.Contains(result.Hint, "journalctl -u class-planner.service") {
		t.Fatalf("expected journal hint, got %q", result.Hint)
	}

	if len(runner.slept) != 1 {
		t.Fatalf("expected settle delay before health check, got %v", runner.slept)
	}
}

func TestRunProxyReloadFailureIsAdvisory(t *testing.T) {
	runner := &fakeRunner{
		fail: map[string]error{"systemctl reload nginx.service": errors.New("exit status 1")},
	}
	p := newTestPipeline(runner)

	result := p.Run(context.Background(), nil)

	if result.Status != domain.DeploymentSuccess {
		t.Fatalf("expected success despite proxy failure, got %s", result.Status)
	}
	if len(result.Warnings) != 1 || !strings.Contains(result.Warnings[0], "proxy reload failed") {
		t.Fatalf("expected proxy warning, got %v", result.Warnings)
	}
	if !strings.Contains(result.Summary, "deployment complete") {
		t.Fatal("expected summary to still be built")
	}
}

func TestRunProxyConfigTestFailureSkipsReload(t *testing.T) {
	runner := &fakeRunner{
		fail: map[string]error{"nginx -t": errors.New("exit status 1")},
	}
	p := newTestPipeline(runner)

	result := p.Run(context.Background(), nil)

	if result.Status != domain.DeploymentSuccess {
		t.Fatalf("expected success, got %s", result.Status)
	}

	for _, cmd := range commandStrings(runner) {
		if cmd == "systemctl reload nginx.service" {
			t.Fatal("expected reload to be skipped after failed config test")
		}
	}
}

func TestRunJournalTailFailureIsWarning(t *testing.T) {
	runner := &fakeRunner{
		fail: map[string]error{"journalctl": errors.New("exit status 1")},
	}
	p := newTestPipeline(runner)

	result := p.Run(context.Background(), nil)

	if result.Status != domain.DeploymentSuccess {
		t.Fatalf("expected success, got %s", result.Status)
	}
	if len(result.Warnings) != 1 || !strings.Contains(result.Warnings[0], "journal") {
		t.Fatalf("expected journal warning, got %v", result.Warnings)
	}
	if !strings.Contains(result.Summary, "deployment complete") {
		t.Fatal("expected banner even without journal tail")
	}
}

func TestRunCanceledDuringSettle(t *testing.T) {
	runner := &fakeRunner{}
	p := New(runner, discardLogger(), testSettings(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := p.Run(ctx, nil)

	if result.Status != domain.DeploymentFailed {
		t.Fatalf("expected failure on canceled context, got %s", result.Status)
	}
	if result.FailedStep != domain.StepVerifyHealth {
		t.Fatalf("expected cancellation at VERIFY_HEALTH settle, got %s", result.FailedStep)
	}
}

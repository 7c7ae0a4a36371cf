// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/oklar/deployd/internal/domain"
)

func writePipelineFile(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "deploy.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write pipeline file: %v", err)
	}
	return path
}

func TestLoadFileAndApplyOverride(t *testing.T) {
	path := writePipelineFile(t, `
overrides:
  - name: RELOAD_PROXY
    run: "nginx -s reload"
`)

	f, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load file: %v", err)
	}

	steps, err := ApplyFile(Steps(testSettings()), f)
	if err != nil {
		t.Fatalf("apply file: %v", err)
	}

	var reload *Step
	for i := range steps {
		if steps[i].Name == domain.StepReloadProxy {
			reload = &steps[i]
		}
	}
	if reload == nil {
		t.Fatal("RELOAD_PROXY step missing")
	}

	if len(reload.Commands) != 1 {
		t.Fatalf("expected single override command, got %d", len(reload.Commands))
	}
	if got := strings.Join(reload.Commands[0], " "); got != "sh -c nginx -s reload" {
		t.Fatalf("unexpected override command: %q", got)
	}
	if reload.Criticality != domain.Advisory {
		t.Fatal("override must not change criticality")
	}
}

func TestApplyFileExtraSteps(t *testing.T) {
	f := &File{
		Extra: []FileStep{
			{Name: "WARM_CACHE", Run: "curl -fsS localhost:5000/courses >/dev/null", Advisory: true},
		},
	}

	steps, err := ApplyFile(Steps(testSettings()), f)
	if err != nil {
		t.Fatalf("apply file: %v", err)
	}

	last := steps[len(steps)-1]
	if last.Name != "WARM_CACHE" {
		t.Fatalf("expected extra step appended, got %s", last.Name)
	}
	if last.Criticality != domain.Advisory {
		t.Fatal("expected advisory extra step")
	}
}

func TestApplyFileUnknownOverride(t *testing.T) {
	f := &File{Overrides: []FileStep{{Name: "NO_SUCH_STEP", Run: "true"}}}

	if _, err := ApplyFile(Steps(testSettings()), f); err == nil {
		t.Fatal("expected error for unknown step override")
	}
}

func TestApplyFileRejectsEmptyRun(t *testing.T) {
	f := &File{Overrides: []FileStep{{Name: "RELOAD_PROXY"}}}
	if _, err := ApplyFile(Steps(testSettings()), f); err == nil {
		t.Fatal("expected error for empty override command")
	}

	f = &File{Extra: []FileStep{{Name: "X"}}}
	if _, err := ApplyFile(Steps(testSettings()), f); err == nil {
		t.Fatal("expected error for extra step without run")
	}
}

func TestLoadFileRejectsUnknownFields(t *testing.T) {
	path := writePipelineFile(t, `
stages:
  - name: build
`)

	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected error for unknown top-level field")
	}
}

func TestApplyFileNil(t *testing.T) {
	steps := Steps(testSettings())
	merged, err := ApplyFile(steps, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(merged) != len(steps) {
		t.Fatal("expected steps unchanged for nil file")
	}
}

// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"fmt"
	"os"
	"strings"

	"github.com/oklar/deployd/internal/domain"
	"gopkg.in/yaml.v3"
)

// File is an optional YAML pipeline definition. It can replace the command
// of a built-in step and append extra steps that run after the proxy reload.
type File struct {
	Overrides []FileStep `yaml:"overrides"`
	Extra     []FileStep `yaml:"extra"`
}

type FileStep struct {
	Name string `yaml:"name"`
	Run  string `yaml:"run"`

	// Advisory extra steps log failures without aborting the deployment.
	Advisory bool `yaml:"advisory"`
}

func LoadFile(path string) (*File, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline file: %w", err)
	}

	var f File
	dec := yaml.NewDecoder(strings.NewReader(string(body)))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse pipeline file %s: %w", path, err)
	}

	return &f, nil
}

// ApplyFile merges a pipeline file into the built-in step list.
func ApplyFile(steps []Step, f *File) ([]Step, error) {
	if f == nil {
		return steps, nil
	}

	merged := make([]Step, len(steps))
	copy(merged, steps)

	for _, override := range f.Overrides {
		if strings.TrimSpace(override.Run) == "" {
			return nil, fmt.Errorf("override for %q has no run command", override.Name)
		}

		found := false
		for i := range merged {
			if string(merged[i].Name) == override.Name {
				merged[i].Commands = [][]string{shellCommand(override.Run)}
				merged[i].Requires = ""
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("override references unknown step %q", override.Name)
		}
	}

	for _, extra := range f.Extra {
		name := strings.TrimSpace(extra.Name)
		if name == "" || strings.TrimSpace(extra.Run) == "" {
			return nil, fmt.Errorf("extra step needs both name and run")
		}

		criticality := domain.Critical
		if extra.Advisory {
			criticality = domain.Advisory
		}

		merged = append(merged, Step{
			Name:        domain.StepName(name),
			Criticality: criticality,
			Commands:    [][]string{shellCommand(extra.Run)},
			FailureMsg:  name + " failed",
		})
	}

	return merged, nil
}

func shellCommand(run string) []string {
	return []string{"sh", "-c", run}
}

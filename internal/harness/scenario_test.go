package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalScenario = `
name: minimal
description: "One create"
collections:
  patients:
    unit: unitId
steps:
  - do: create
    collection: patients
    id: p1
    doc:
      name: Ada
assertions:
  - type: local_state
    collection: patients
    id: p1
    expect: {name: Ada}
`

func TestLoadScenario_ValidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "minimal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalScenario), 0644))

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "minimal", scenario.Name)
	assert.Equal(t, "One create", scenario.Description)
	assert.Equal(t, map[string]string{"unit": "unitId"}, scenario.Collections["patients"])
	require.Len(t, scenario.Steps, 1)
	assert.Equal(t, StepCreate, scenario.Steps[0].Do)
	assert.Equal(t, "Ada", scenario.Steps[0].Doc["name"])
	require.Len(t, scenario.Assertions, 1)
	assert.Equal(t, AssertLocalState, scenario.Assertions[0].Type)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_UnknownField(t *testing.T) {
	_, err := ParseScenario([]byte(minimalScenario + "assertion: []\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_Invalid(t *testing.T) {
	base := func(steps, assertions string) string {
		return "name: x\ndescription: d\ncollections:\n  patients: {}\nsteps:\n" + steps + "assertions:\n" + assertions
	}
	walOK := "  - {type: wal_state, expect: {pending: 0}}\n"

	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"missing name", "description: d\nsteps: [{do: drain}]\nassertions:\n" + walOK, "name is required"},
		{"missing description", "name: x\nsteps: [{do: drain}]\nassertions:\n" + walOK, "description is required"},
		{"no steps", "name: x\ndescription: d\nassertions:\n" + walOK, "steps list is required"},
		{"no assertions", "name: x\ndescription: d\nsteps: [{do: drain}]\n", "assertions list is required"},
		{"unknown step", base("  - {do: explode}\n", walOK), `unknown step "explode"`},
		{"empty do", base("  - {collection: patients}\n", walOK), "do is required"},
		{"unknown collection", base("  - {do: update, collection: wards, id: w1}\n", walOK), `unknown collection "wards"`},
		{"update without id", base("  - {do: update, collection: patients}\n", walOK), "requires collection and id"},
		{"bad enqueue op", base("  - {do: enqueue, collection: patients, id: p1, op: upsert}\n", walOK), "enqueue requires op"},
		{"bad change", base("  - {do: remote_change, collection: patients, id: p1, change: moved}\n", walOK), `unknown change "moved"`},
		{"bad duration", base("  - {do: advance, by: soon}\n", walOK), "advance"},
		{"seed syncing", base("  - {do: seed, counts: {syncing: 1}}\n", walOK), `cannot create "syncing"`},
		{"seed empty", base("  - {do: seed}\n", walOK), "seed requires counts"},
		{"negative limit", base("  - {do: enforce_max_size, limit: -1}\n", walOK), "limit must be non-negative"},
		{"order with one event", base("  - {do: drain}\n", "  - {type: trace_order, events: [{type: step}]}\n"), "at least two events"},
		{"contains without event", base("  - {do: drain}\n", "  - {type: trace_contains}\n"), "event is required"},
		{"state without expect", base("  - {do: drain}\n", "  - {type: local_state, collection: patients, id: p1}\n"), "expect or deleted is required"},
		{"wal without expect", base("  - {do: drain}\n", "  - {type: wal_state}\n"), "expect is required for wal_state"},
		{"unknown assertion", base("  - {do: drain}\n", "  - {type: vibes}\n"), `unknown assertion type "vibes"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseScenario_BundledScenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			_, err := LoadScenario(path)
			require.NoError(t, err)
		})
	}
}

package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/signalsfoundry/sidelink-mac/internal/sim"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	out, err := execute(t, "validate", "-c", "../../configs/highway.yaml")
	if err != nil {
		t.Fatalf("validate: %v\n%s", err, out)
	}
	for _, want := range []string{`scenario "highway" is valid`, "vehicles:  6", "v2x (5 x 10 RB subchannels)"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestValidateCommandRejectsMissingFile(t *testing.T) {
	if _, err := execute(t, "validate", "-c", "missing.yaml"); err == nil {
		t.Fatalf("validate accepted a missing file")
	}
}

func TestRunCommandJSON(t *testing.T) {
	out, err := execute(t, "run", "-c", "../../configs/comm_pool.yaml", "--json")
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	var stats sim.Stats
	if err := json.Unmarshal([]byte(out), &stats); err != nil {
		t.Fatalf("decode stats: %v\n%s", err, out)
	}
	if stats.Subframes != 2000 || stats.UEs != 3 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.Generated == 0 {
		t.Fatalf("no traffic generated")
	}
}

func TestRunCommandTable(t *testing.T) {
	out, err := execute(t, "run", "-c", "../../configs/comm_pool.yaml", "--startup-delay", "0")
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	if !strings.Contains(out, "packet delivery ratio") || !strings.Contains(out, "comm-pool") {
		t.Fatalf("unexpected table:\n%s", out)
	}
}

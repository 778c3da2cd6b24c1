package internaldefs

import (
	"strings"
	"testing"

	goIdentity "github.com/MrEthical07/goIdentity"
)

func TestCounterDefsCoverSnapshot(t *testing.T) {
	m := goIdentity.NewMetrics(goIdentity.MetricsConfig{Enabled: true})
	snap := m.Snapshot()

	seenID := map[goIdentity.MetricID]bool{}
	seenName := map[string]bool{}
	for _, def := range CounterDefs {
		if seenID[def.ID] {
			t.Fatalf("duplicate id %d", def.ID)
		}
		if seenName[def.Name] {
			t.Fatalf("duplicate name %s", def.Name)
		}
		if !strings.HasPrefix(def.Name, "goidentity_") || !strings.HasSuffix(def.Name, "_total") {
			t.Fatalf("bad counter name %s", def.Name)
		}
		seenID[def.ID] = true
		seenName[def.Name] = true
	}

	for id := range snap.Counters {
		if !seenID[id] {
			t.Fatalf("snapshot counter %d has no definition", id)
		}
	}
	if len(CounterDefs) != len(snap.Counters) {
		t.Fatalf("expected %d defs, got %d", len(snap.Counters), len(CounterDefs))
	}
}

func TestNormalizeBuckets(t *testing.T) {
	got := NormalizeBuckets([]uint64{1, 2, 3})
	want := [8]uint64{1, 2, 3}
	if got != want {
		t.Fatalf("short input: %v", got)
	}

	got = NormalizeBuckets([]uint64{1, 1, 1, 1, 1, 1, 1, 1, 9})
	if got[7] != 1 {
		t.Fatalf("extra bucket leaked: %v", got)
	}
}

func TestCumulativeBuckets(t *testing.T) {
	got := CumulativeBuckets([8]uint64{1, 0, 2, 0, 0, 0, 0, 3})
	want := [8]uint64{1, 1, 3, 3, 3, 3, 3, 6}
	if got != want {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

package internaldefs

import (
	"strings"
	"testing"

	"github.com/MrEthical07/authcore"
)

func TestCounterDefsCoverEveryCounter(t *testing.T) {
	snap := authcore.NewMetrics(authcore.MetricsConfig{Enabled: true}).Snapshot()
	if len(CounterDefs) != len(snap.Counters) {
		t.Fatalf("expected %d counter defs, got %d", len(snap.Counters), len(CounterDefs))
	}

	seenIDs := map[authcore.MetricID]bool{}
	seenNames := map[string]bool{}
	for _, def := range CounterDefs {
		if _, ok := snap.Counters[def.ID]; !ok {
			t.Fatalf("%s: id %d is not a counter", def.Name, def.ID)
		}
		if seenIDs[def.ID] || seenNames[def.Name] {
			t.Fatalf("duplicate definition %s", def.Name)
		}
		seenIDs[def.ID] = true
		seenNames[def.Name] = true
		if !strings.HasPrefix(def.Name, "authcore_") || !strings.HasSuffix(def.Name, "_total") {
			t.Fatalf("unexpected counter name %s", def.Name)
		}
	}
}

func TestCumulativeBuckets(t *testing.T) {
	got := CumulativeBuckets(NormalizeBuckets([]uint64{1, 2, 3}))
	want := [8]uint64{1, 3, 6, 6, 6, 6, 6, 6}
	if got != want {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

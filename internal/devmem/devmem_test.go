package devmem

import "testing"

func TestRecordAndLookup(t *testing.T) {
	s := NewStore()

	s.Record("tab-1", "USB Headset", "id-abc", false)

	sel, ok := s.Lookup("tab-1")
	if !ok {
		t.Fatal("expected selection for tab-1")
	}
	if sel.Label != "USB Headset" || sel.LastID != "id-abc" || sel.Manual {
		t.Errorf("selection = %+v", sel)
	}

	if _, ok := s.Lookup("tab-2"); ok {
		t.Error("tab-2 must have no selection")
	}
}

func TestMemoryIsTabScoped(t *testing.T) {
	s := NewStore()

	s.Record("tab-1", "USB Headset", "id-abc", false)
	s.Record("tab-2", "HDMI Audio", "id-def", false)

	a, _ := s.Lookup("tab-1")
	b, _ := s.Lookup("tab-2")
	if a.Label == b.Label {
		t.Error("selections leaked across tabs")
	}
}

func TestManualOverrideSticks(t *testing.T) {
	s := NewStore()

	s.Record("tab-1", "USB Headset", "id-abc", true)
	if !s.IsManual("tab-1") {
		t.Fatal("manual flag not set")
	}

	// An automatic (rule-driven) selection must not displace the manual
	// choice for the remaining lifetime of the tab.
	s.Record("tab-1", "HDMI Audio", "id-def", false)

	sel, _ := s.Lookup("tab-1")
	if sel.Label != "USB Headset" {
		t.Errorf("label = %q, manual choice displaced by automatic selection", sel.Label)
	}
	if !sel.Manual {
		t.Error("manual flag dropped")
	}
}

func TestAutomaticRefreshOfManualID(t *testing.T) {
	s := NewStore()

	s.Record("tab-1", "USB Headset", "id-old", true)
	// Same device re-resolved to a fresh context-local id.
	s.Record("tab-1", "USB Headset", "id-new", false)

	sel, _ := s.Lookup("tab-1")
	if sel.LastID != "id-new" {
		t.Errorf("LastID = %q, want refreshed id", sel.LastID)
	}
	if !sel.Manual {
		t.Error("manual flag must survive an id refresh")
	}
}

func TestManualUpgradeFromAutomatic(t *testing.T) {
	s := NewStore()

	s.Record("tab-1", "HDMI Audio", "id-def", false)
	s.Record("tab-1", "USB Headset", "id-abc", true)

	sel, _ := s.Lookup("tab-1")
	if sel.Label != "USB Headset" || !sel.Manual {
		t.Errorf("selection = %+v, want manual USB Headset", sel)
	}
}

func TestClearForgetsTab(t *testing.T) {
	s := NewStore()

	s.Record("tab-1", "USB Headset", "id-abc", true)
	s.Clear("tab-1")

	if _, ok := s.Lookup("tab-1"); ok {
		t.Error("selection survived Clear")
	}
	if s.IsManual("tab-1") {
		t.Error("manual flag survived Clear; recycled tab ids must start clean")
	}
}

func TestLabelMemoryRoundTrip(t *testing.T) {
	s := NewStore()

	s.RecordLabel("tab-1", "USB Headset", "id-abc")

	id, ok := s.LookupLabel("tab-1", "USB Headset")
	if !ok || id != "id-abc" {
		t.Errorf("LookupLabel = %q, %v", id, ok)
	}

	// Label memory is tab-scoped: the same label in a different tab
	// resolves independently.
	if _, ok := s.LookupLabel("tab-2", "USB Headset"); ok {
		t.Error("label association leaked across tabs")
	}

	// Observed pairs are a cache, not a selection.
	if _, ok := s.Lookup("tab-1"); ok {
		t.Error("RecordLabel must not create a selection")
	}
	if s.IsManual("tab-1") {
		t.Error("RecordLabel must not set the manual flag")
	}
}

func TestLabelMemoryTracksSelections(t *testing.T) {
	s := NewStore()

	s.Record("tab-1", "USB Headset", "id-old", true)
	// Same device re-observed under a fresh context-local id.
	s.Record("tab-1", "USB Headset", "id-new", false)

	id, ok := s.LookupLabel("tab-1", "USB Headset")
	if !ok || id != "id-new" {
		t.Errorf("LookupLabel = %q, %v, want refreshed id", id, ok)
	}
}

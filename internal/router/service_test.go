package router

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sinktab/sinktab/internal/devmem"
	"github.com/sinktab/sinktab/internal/rules"
	"github.com/sinktab/sinktab/internal/sinkcdp"
)

// fakeClient scripts the per-tab CDP surface for resolver tests.
type fakeClient struct {
	mu sync.Mutex

	tabs    []sinkcdp.TabInfo
	devices sinkcdp.DeviceList

	// sinks[tabID] is the sink currently applied to every element.
	sinks map[string]string
	// usable ids per tab for TrySink.
	usable map[string]bool

	pickResult sinkcdp.PickerResult
	pickErr    error

	applyCalls  int
	pickerCalls int
	activated   []string

	meetStates map[string]sinkcdp.MeetState
	joined     []string
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		sinks:      make(map[string]string),
		usable:     make(map[string]bool),
		meetStates: make(map[string]sinkcdp.MeetState),
	}
}

func (f *fakeClient) ListTabs(ctx context.Context) ([]sinkcdp.TabInfo, error) {
	return f.tabs, nil
}

func (f *fakeClient) ActivateTab(ctx context.Context, tabID string) error {
	f.mu.Lock()
	f.activated = append(f.activated, tabID)
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) EnsureCapability(ctx context.Context, tabID string) (sinkcdp.CapabilityState, error) {
	return sinkcdp.CapabilityState{Granted: true, Via: "capture-probe"}, nil
}

func (f *fakeClient) ListDevices(ctx context.Context, tabID string, warm bool) (sinkcdp.DeviceList, error) {
	return f.devices, nil
}

func (f *fakeClient) ApplySink(ctx context.Context, tabID, sinkID string) (sinkcdp.ApplyReport, error) {
	f.mu.Lock()
	f.applyCalls++
	f.sinks[tabID] = sinkID
	f.mu.Unlock()
	return sinkcdp.ApplyReport{Total: 1, Applied: 1, AllApplied: true}, nil
}

func (f *fakeClient) CheckAllOn(ctx context.Context, tabID, sinkID string) (sinkcdp.SinkCheck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return sinkcdp.SinkCheck{Elements: 1, AllOn: f.sinks[tabID] == sinkID}, nil
}

func (f *fakeClient) TrySink(ctx context.Context, tabID, sinkID string) (bool, error) {
	return f.usable[tabID+"/"+sinkID], nil
}

func (f *fakeClient) RequestPicker(ctx context.Context, tabID string) (sinkcdp.PickerResult, error) {
	f.mu.Lock()
	f.pickerCalls++
	f.mu.Unlock()
	return f.pickResult, f.pickErr
}

func (f *fakeClient) MeetState(ctx context.Context, tabID string) (sinkcdp.MeetState, error) {
	return f.meetStates[tabID], nil
}

func (f *fakeClient) MeetJoin(ctx context.Context, tabID string) (bool, error) {
	f.mu.Lock()
	f.joined = append(f.joined, tabID)
	f.mu.Unlock()
	return true, nil
}

func (f *fakeClient) MeetToggleMic(ctx context.Context, tabID string) (sinkcdp.MeetState, error) {
	st := f.meetStates[tabID]
	st.MicMuted = !st.MicMuted
	f.meetStates[tabID] = st
	return st, nil
}

func (f *fakeClient) MeetToggleCam(ctx context.Context, tabID string) (sinkcdp.MeetState, error) {
	st := f.meetStates[tabID]
	st.CamMuted = !st.CamMuted
	f.meetStates[tabID] = st
	return st, nil
}

func newTestService(t *testing.T, cdp TabClient) (*Service, *devmem.Store, *rules.Store) {
	t.Helper()
	mem := devmem.NewStore()
	ruleStore, err := rules.NewStore(filepath.Join(t.TempDir(), "rules.json"))
	if err != nil {
		t.Fatalf("rules store: %v", err)
	}
	return NewService(cdp, mem, ruleStore, nil, 5*time.Second), mem, ruleStore
}

func TestSelectDeviceByEnumeratedLabel(t *testing.T) {
	fake := newFakeClient()
	fake.devices = sinkcdp.DeviceList{AudioOutput: []sinkcdp.Device{
		{Kind: "audiooutput", Label: "Built-in Speakers", ID: "id-spk"},
		{Kind: "audiooutput", Label: "USB Headset (Plantronics)", ID: "id-usb"},
	}}
	svc, mem, _ := newTestService(t, fake)

	target, err := svc.SelectDevice(context.Background(), "tab-1", "USB Headset", "", true)
	if err != nil {
		t.Fatalf("SelectDevice: %v", err)
	}
	if target.ID != "id-usb" {
		t.Errorf("resolved id = %q, want label-containment match", target.ID)
	}
	if fake.sinks["tab-1"] != "id-usb" {
		t.Errorf("applied sink = %q", fake.sinks["tab-1"])
	}

	sel, ok := mem.Lookup("tab-1")
	if !ok || sel.Label != "USB Headset (Plantronics)" || !sel.Manual {
		t.Errorf("memory = %+v", sel)
	}
}

func TestLabelMatchIsCaseSensitive(t *testing.T) {
	fake := newFakeClient()
	fake.devices = sinkcdp.DeviceList{AudioOutput: []sinkcdp.Device{
		{Kind: "audiooutput", Label: "usb headset", ID: "id-lower"},
	}}
	svc, _, _ := newTestService(t, fake)

	_, err := svc.SelectDevice(context.Background(), "tab-1", "USB Headset", "", false)
	var coded *sinkcdp.CodedError
	if !errors.As(err, &coded) || coded.Code != sinkcdp.CodeDeviceNotFound {
		t.Errorf("err = %v, want DEVICE_NOT_FOUND for case mismatch", err)
	}
}

func TestSelectDeviceIdempotent(t *testing.T) {
	fake := newFakeClient()
	fake.devices = sinkcdp.DeviceList{AudioOutput: []sinkcdp.Device{
		{Kind: "audiooutput", Label: "USB Headset", ID: "id-usb"},
	}}
	svc, _, _ := newTestService(t, fake)

	if _, err := svc.SelectDevice(context.Background(), "tab-1", "USB Headset", "", true); err != nil {
		t.Fatalf("first select: %v", err)
	}
	applies := fake.applyCalls

	// Second select with the same label: the remembered id satisfies
	// the already-on check, so no further apply happens.
	if _, err := svc.SelectDevice(context.Background(), "tab-1", "USB Headset", "", true); err != nil {
		t.Fatalf("second select: %v", err)
	}
	if fake.applyCalls != applies {
		t.Errorf("applyCalls = %d after repeat, want %d (idempotent)", fake.applyCalls, applies)
	}
}

func TestStoredIDReusedWhenUsable(t *testing.T) {
	fake := newFakeClient()
	fake.usable["tab-1/id-usb"] = true
	svc, mem, _ := newTestService(t, fake)
	mem.Record("tab-1", "USB Headset", "id-usb", false)

	target, err := svc.SelectDevice(context.Background(), "tab-1", "USB Headset", "", false)
	if err != nil {
		t.Fatalf("SelectDevice: %v", err)
	}
	if target.ID != "id-usb" {
		t.Errorf("id = %q, want stored id reused without enumeration", target.ID)
	}
}

func TestStaleStoredIDFallsThroughToEnumeration(t *testing.T) {
	fake := newFakeClient()
	fake.devices = sinkcdp.DeviceList{AudioOutput: []sinkcdp.Device{
		{Kind: "audiooutput", Label: "USB Headset", ID: "id-fresh"},
	}}
	svc, mem, _ := newTestService(t, fake)
	mem.Record("tab-1", "USB Headset", "id-stale", false)

	target, err := svc.SelectDevice(context.Background(), "tab-1", "USB Headset", "", false)
	if err != nil {
		t.Fatalf("SelectDevice: %v", err)
	}
	if target.ID != "id-fresh" {
		t.Errorf("id = %q, want fresh id after stale probe", target.ID)
	}
	sel, _ := mem.Lookup("tab-1")
	if sel.LastID != "id-fresh" {
		t.Errorf("memory id = %q, want refreshed", sel.LastID)
	}
}

func TestPickerAsLastResort(t *testing.T) {
	fake := newFakeClient()
	fake.pickResult = sinkcdp.PickerResult{Picked: true, Label: "Picked Device", ID: "id-picked"}
	svc, mem, _ := newTestService(t, fake)

	target, err := svc.SelectDevice(context.Background(), "tab-1", "Nonexistent", "", true)
	if err != nil {
		t.Fatalf("SelectDevice: %v", err)
	}
	if target.ID != "id-picked" {
		t.Errorf("id = %q, want picker result", target.ID)
	}
	if fake.pickerCalls != 1 {
		t.Errorf("pickerCalls = %d, want 1", fake.pickerCalls)
	}
	sel, _ := mem.Lookup("tab-1")
	if sel.Label != "Picked Device" || !sel.Manual {
		t.Errorf("memory = %+v", sel)
	}
}

func TestPickerDeclinedIsDeviceNotFound(t *testing.T) {
	fake := newFakeClient()
	fake.pickResult = sinkcdp.PickerResult{Picked: false}
	svc, _, _ := newTestService(t, fake)

	_, err := svc.SelectDevice(context.Background(), "tab-1", "Nonexistent", "", true)
	var coded *sinkcdp.CodedError
	if !errors.As(err, &coded) || coded.Code != sinkcdp.CodeDeviceNotFound {
		t.Errorf("err = %v, want DEVICE_NOT_FOUND", err)
	}
}

func TestAutorouteSkipsManualTabs(t *testing.T) {
	fake := newFakeClient()
	fake.devices = sinkcdp.DeviceList{AudioOutput: []sinkcdp.Device{
		{Kind: "audiooutput", Label: "HDMI Audio", ID: "id-hdmi"},
	}}
	svc, mem, ruleStore := newTestService(t, fake)
	if err := ruleStore.Upsert(rules.Rule{Pattern: "*youtube.com*", Device: "HDMI Audio"}); err != nil {
		t.Fatal(err)
	}
	mem.Record("tab-1", "USB Headset", "id-usb", true)

	svc.OnTabBecameRelevant(context.Background(), "tab-1", "https://youtube.com/watch")
	if fake.applyCalls != 0 {
		t.Error("auto-routing must not touch a manually overridden tab")
	}

	// Tab closes, override clears, rules apply again.
	svc.OnTabClosed("tab-1")
	svc.OnTabBecameRelevant(context.Background(), "tab-1", "https://youtube.com/watch")
	if fake.applyCalls == 0 {
		t.Error("auto-routing should resume after the tab's override is cleared")
	}
}

func TestAutorouteIgnoresInternalPages(t *testing.T) {
	fake := newFakeClient()
	svc, _, ruleStore := newTestService(t, fake)
	if err := ruleStore.Upsert(rules.Rule{Pattern: "*", Device: "HDMI Audio"}); err != nil {
		t.Fatal(err)
	}

	svc.OnTabBecameRelevant(context.Background(), "tab-1", "chrome://settings")
	svc.OnTabBecameRelevant(context.Background(), "tab-1", "about:blank")
	if fake.applyCalls != 0 {
		t.Error("internal pages must never be routed")
	}
}

func TestAutorouteMissingDeviceLeavesRoutingUnchanged(t *testing.T) {
	fake := newFakeClient() // no devices at all
	svc, mem, ruleStore := newTestService(t, fake)
	if err := ruleStore.Upsert(rules.Rule{Pattern: "*youtube.com*", Device: "Unplugged Device"}); err != nil {
		t.Fatal(err)
	}

	svc.OnTabBecameRelevant(context.Background(), "tab-1", "https://youtube.com/watch")
	if fake.applyCalls != 0 {
		t.Error("missing device must leave routing unchanged")
	}
	if fake.pickerCalls != 0 {
		t.Error("auto-routing must never open the interactive picker")
	}
	if mem.IsManual("tab-1") {
		t.Error("auto path must not set the manual flag")
	}
}

func TestAutorouteAppliesRuleStoredID(t *testing.T) {
	fake := newFakeClient()
	// The device is present under its stored id, but its current label
	// does not contain the rule's label (localized device name).
	fake.devices = sinkcdp.DeviceList{AudioOutput: []sinkcdp.Device{
		{Kind: "audiooutput", Label: "Casque audio USB", ID: "abc"},
	}}
	fake.usable["tab-1/abc"] = true
	svc, _, ruleStore := newTestService(t, fake)
	if err := ruleStore.Upsert(rules.Rule{Pattern: "*meet.google.com*", Device: "Headphones", DeviceID: "abc"}); err != nil {
		t.Fatal(err)
	}

	svc.OnTabBecameRelevant(context.Background(), "tab-1", "https://meet.google.com/xyz")
	if fake.sinks["tab-1"] != "abc" {
		t.Errorf("applied sink = %q, want the rule's stored id", fake.sinks["tab-1"])
	}
}

func TestTabMemoryOutranksRuleStoredID(t *testing.T) {
	fake := newFakeClient()
	fake.usable["tab-1/id-mem"] = true
	svc, mem, ruleStore := newTestService(t, fake)
	if err := ruleStore.Upsert(rules.Rule{Pattern: "*meet.google.com*", Device: "Headphones", DeviceID: "abc"}); err != nil {
		t.Fatal(err)
	}
	// This tab already resolved "Headphones" to a context-local id; that
	// wins over the rule's stored id from some other context.
	mem.RecordLabel("tab-1", "Headphones", "id-mem")

	svc.OnTabBecameRelevant(context.Background(), "tab-1", "https://meet.google.com/xyz")
	if fake.sinks["tab-1"] != "id-mem" {
		t.Errorf("applied sink = %q, want the tab-local id", fake.sinks["tab-1"])
	}
}

func TestEnumerationCachesAllObservedPairs(t *testing.T) {
	fake := newFakeClient()
	fake.devices = sinkcdp.DeviceList{AudioOutput: []sinkcdp.Device{
		{Kind: "audiooutput", Label: "Headphones", ID: "id-head"},
		{Kind: "audiooutput", Label: "Monitor Speakers", ID: "id-spk"},
	}}
	svc, mem, _ := newTestService(t, fake)

	if _, err := svc.SelectDevice(context.Background(), "tab-1", "Headphones", "", false); err != nil {
		t.Fatalf("SelectDevice: %v", err)
	}

	// The unmatched device from the same enumeration is remembered too.
	id, ok := mem.LookupLabel("tab-1", "Monitor Speakers")
	if !ok || id != "id-spk" {
		t.Errorf("LookupLabel = %q, %v; every observed pair must be cached", id, ok)
	}
}

func TestAutorouteDisabledByToggle(t *testing.T) {
	fake := newFakeClient()
	fake.devices = sinkcdp.DeviceList{AudioOutput: []sinkcdp.Device{
		{Kind: "audiooutput", Label: "HDMI Audio", ID: "id-hdmi"},
	}}
	svc, _, ruleStore := newTestService(t, fake)
	if err := ruleStore.Upsert(rules.Rule{Pattern: "*", Device: "HDMI Audio"}); err != nil {
		t.Fatal(err)
	}
	if err := ruleStore.UpdateSettings(rules.Settings{EnableMeetTabs: true, EnableAutoRoute: false}); err != nil {
		t.Fatal(err)
	}

	svc.OnTabBecameRelevant(context.Background(), "tab-1", "https://youtube.com/watch")
	if fake.applyCalls != 0 {
		t.Error("auto-routing must honour the disable toggle")
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	svc, _, _ := newTestService(t, newFakeClient())
	_, err := svc.Dispatch(context.Background(), "no-such-command", "")
	var coded *sinkcdp.CodedError
	if !errors.As(err, &coded) || coded.Code != sinkcdp.CodeValidation {
		t.Errorf("err = %v, want VALIDATION", err)
	}
}

func TestMeetCommandsGatedOnToggle(t *testing.T) {
	fake := newFakeClient()
	fake.tabs = []sinkcdp.TabInfo{{TabID: "tab-m", URL: "https://meet.google.com/abc"}}
	svc, _, ruleStore := newTestService(t, fake)
	if err := ruleStore.UpdateSettings(rules.Settings{EnableMeetTabs: false, EnableAutoRoute: true}); err != nil {
		t.Fatal(err)
	}

	_, err := svc.Dispatch(context.Background(), CmdMeetSwitchTab, "")
	var coded *sinkcdp.CodedError
	if !errors.As(err, &coded) || coded.Code != sinkcdp.CodeValidation {
		t.Errorf("err = %v, want VALIDATION while meet commands disabled", err)
	}
}

func TestMeetSwitchTabCycles(t *testing.T) {
	fake := newFakeClient()
	fake.tabs = []sinkcdp.TabInfo{
		{TabID: "tab-a", URL: "https://meet.google.com/aaa"},
		{TabID: "tab-b", URL: "https://meet.google.com/bbb"},
		{TabID: "tab-x", URL: "https://example.com"},
	}
	svc, _, _ := newTestService(t, fake)

	for _, want := range []string{"tab-a", "tab-b", "tab-a"} {
		res, err := svc.Dispatch(context.Background(), CmdMeetSwitchTab, "")
		if err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
		if res.TabID != want {
			t.Fatalf("switched to %q, want %q", res.TabID, want)
		}
	}
	if len(fake.activated) != 3 {
		t.Errorf("activations = %v", fake.activated)
	}
}

func TestMeetToggleTargetsInMeetingTab(t *testing.T) {
	fake := newFakeClient()
	fake.tabs = []sinkcdp.TabInfo{
		{TabID: "tab-lobby", URL: "https://meet.google.com/aaa"},
		{TabID: "tab-live", URL: "https://meet.google.com/bbb"},
	}
	fake.meetStates["tab-live"] = sinkcdp.MeetState{InMeeting: true}
	svc, _, _ := newTestService(t, fake)

	res, err := svc.Dispatch(context.Background(), CmdMeetToggleMic, "")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.TabID != "tab-live" {
		t.Errorf("toggled tab %q, want the in-meeting one", res.TabID)
	}
	if res.Meet == nil || !res.Meet.MicMuted {
		t.Errorf("meet state = %+v, want mic muted after toggle", res.Meet)
	}
}

func TestMeetJoinPicksLobbyTab(t *testing.T) {
	fake := newFakeClient()
	fake.tabs = []sinkcdp.TabInfo{
		{TabID: "tab-live", URL: "https://meet.google.com/aaa"},
		{TabID: "tab-lobby", URL: "https://meet.google.com/bbb"},
	}
	fake.meetStates["tab-live"] = sinkcdp.MeetState{InMeeting: true}
	svc, _, _ := newTestService(t, fake)

	res, err := svc.Dispatch(context.Background(), CmdMeetJoin, "")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.TabID != "tab-lobby" {
		t.Errorf("joined %q, want the lobby tab", res.TabID)
	}
}

package router

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sinktab/sinktab/internal/devmem"
	"github.com/sinktab/sinktab/internal/rules"
	"github.com/sinktab/sinktab/internal/sinkcdp"
)

// Command names accepted by Dispatch. These mirror the keyboard-command
// surface: each is a fire-and-forget action with a small result.
const (
	CmdSelectAudioDevice = "select-audio-device"
	CmdMeetSwitchTab     = "meet-switch-tab"
	CmdMeetJoin          = "meet-join"
	CmdMeetToggleMic     = "meet-toggle-microphone"
	CmdMeetToggleCam     = "meet-toggle-camera"
)

// Service wires the CDP client, tab device memory, and the rules store
// into the routing operations the HTTP surface exposes.
type Service struct {
	cdp      TabClient
	mem      *devmem.Store
	rules    *rules.Store
	notifier Notifier

	routeTimeout time.Duration

	// cursor for meet-switch-tab cycling, keyed by last focused tab id
	// so the cycle stays stable as tabs come and go.
	cycleMu   sync.Mutex
	lastFocus string
}

func NewService(cdp TabClient, mem *devmem.Store, ruleStore *rules.Store, notifier Notifier, routeTimeout time.Duration) *Service {
	if routeTimeout <= 0 {
		routeTimeout = 15 * time.Second
	}
	return &Service{
		cdp:          cdp,
		mem:          mem,
		rules:        ruleStore,
		notifier:     notifier,
		routeTimeout: routeTimeout,
	}
}

// Tabs lists routable tabs annotated with their remembered selection.
func (s *Service) Tabs(ctx context.Context) ([]TabStatus, error) {
	tabs, err := s.cdp.ListTabs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]TabStatus, 0, len(tabs))
	for _, t := range tabs {
		st := TabStatus{TabInfo: t}
		if sel, ok := s.mem.Lookup(t.TabID); ok {
			st.Device = sel.Label
			st.Manual = sel.Manual
		}
		out = append(out, st)
	}
	return out, nil
}

// TabStatus is a tab plus its routing state.
type TabStatus struct {
	sinkcdp.TabInfo
	Device string `json:"device,omitempty"`
	Manual bool   `json:"manual,omitempty"`
}

// Devices runs the permission gate and enumerates the tab's devices.
func (s *Service) Devices(ctx context.Context, tabID string) (sinkcdp.DeviceList, error) {
	capState, err := s.cdp.EnsureCapability(ctx, tabID)
	if err != nil {
		return sinkcdp.DeviceList{}, err
	}
	devs, err := s.cdp.ListDevices(ctx, tabID, true)
	if err != nil {
		return sinkcdp.DeviceList{}, err
	}
	if !capState.Granted && len(devs.AudioOutput)+len(devs.AudioInput)+len(devs.VideoInput) == 0 {
		return sinkcdp.DeviceList{}, &sinkcdp.CodedError{
			Code:    sinkcdp.CodePermissionDenied,
			Message: "media device access denied; no labeled devices visible",
		}
	}
	// Cache every observed pair: a later lookup by label must succeed
	// even if a fresh enumeration momentarily omits the device.
	for _, d := range devs.AudioOutput {
		s.mem.RecordLabel(tabID, d.Label, d.ID)
	}
	return devs, nil
}

// SelectDevice routes a tab to the named device through the resolver
// chain, with the interactive picker as the last resort. saveAsManual
// marks the tab as manually overridden, suppressing auto-routing until
// the tab closes.
func (s *Service) SelectDevice(ctx context.Context, tabID, label, id string, saveAsManual bool) (*sinkcdp.SinkTarget, error) {
	target, err := s.resolve(ctx, tabID, label, id, true, saveAsManual)
	if err != nil {
		s.notifyFailure(label, err)
		return nil, err
	}
	if target == nil {
		err := &sinkcdp.CodedError{
			Code:    sinkcdp.CodeDeviceNotFound,
			Message: fmt.Sprintf("no output device matching %q", label),
		}
		s.notifyFailure(label, err)
		return nil, err
	}
	return target, nil
}

// ResetManual lifts the manual override from a tab so rules apply
// again.
func (s *Service) ResetManual(tabID string) {
	s.mem.Clear(tabID)
}

// CommandResult is the small outcome envelope of a Dispatch call.
type CommandResult struct {
	Command string              `json:"command"`
	TabID   string              `json:"tab_id,omitempty"`
	Meet    *sinkcdp.MeetState  `json:"meet,omitempty"`
	Picked  *sinkcdp.SinkTarget `json:"picked,omitempty"`
}

// Dispatch runs a named command. Meeting commands are gated on the
// persisted per-adapter enable toggle; a disabled adapter yields a
// validation error rather than silent success.
func (s *Service) Dispatch(ctx context.Context, command, tabID string) (*CommandResult, error) {
	switch command {
	case CmdSelectAudioDevice:
		if strings.TrimSpace(tabID) == "" {
			return nil, &sinkcdp.CodedError{Code: sinkcdp.CodeValidation, Message: "tab_id is required"}
		}
		target, err := s.SelectDevice(ctx, tabID, "", "", true)
		if err != nil {
			return nil, err
		}
		return &CommandResult{Command: command, TabID: tabID, Picked: target}, nil

	case CmdMeetSwitchTab:
		return s.meetSwitchTab(ctx)

	case CmdMeetJoin:
		return s.meetJoin(ctx)

	case CmdMeetToggleMic:
		return s.meetToggle(ctx, command, s.cdp.MeetToggleMic)

	case CmdMeetToggleCam:
		return s.meetToggle(ctx, command, s.cdp.MeetToggleCam)

	default:
		return nil, &sinkcdp.CodedError{
			Code:    sinkcdp.CodeValidation,
			Message: fmt.Sprintf("unknown command %q", command),
		}
	}
}

// meetTabs returns meeting-page tabs in stable order.
func (s *Service) meetTabs(ctx context.Context) ([]sinkcdp.TabInfo, error) {
	if !s.rules.Settings().EnableMeetTabs {
		return nil, &sinkcdp.CodedError{
			Code:    sinkcdp.CodeValidation,
			Message: "meeting commands are disabled",
		}
	}
	tabs, err := s.cdp.ListTabs(ctx)
	if err != nil {
		return nil, err
	}
	meet := tabs[:0:0]
	for _, t := range tabs {
		if strings.Contains(t.URL, "meet.google.com") {
			meet = append(meet, t)
		}
	}
	sort.Slice(meet, func(i, j int) bool { return meet[i].TabID < meet[j].TabID })
	return meet, nil
}

// meetSwitchTab cycles browser focus across meeting tabs. The cycle
// position survives tabs opening and closing: the next tab after the
// last focused one (by id order) wins, wrapping around.
func (s *Service) meetSwitchTab(ctx context.Context) (*CommandResult, error) {
	meet, err := s.meetTabs(ctx)
	if err != nil {
		return nil, err
	}
	if len(meet) == 0 {
		return nil, &sinkcdp.CodedError{Code: sinkcdp.CodeTabNotFound, Message: "no meeting tabs open"}
	}

	s.cycleMu.Lock()
	next := meet[0]
	for _, t := range meet {
		if t.TabID > s.lastFocus {
			next = t
			break
		}
	}
	s.lastFocus = next.TabID
	s.cycleMu.Unlock()

	if err := s.cdp.ActivateTab(ctx, next.TabID); err != nil {
		return nil, err
	}
	slog.Info("meet switch tab", "tab_id", next.TabID, "title", next.Title)
	return &CommandResult{Command: CmdMeetSwitchTab, TabID: next.TabID}, nil
}

// meetJoin clicks the join control on the first meeting tab that is not
// yet in a meeting.
func (s *Service) meetJoin(ctx context.Context) (*CommandResult, error) {
	meet, err := s.meetTabs(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range meet {
		state, err := s.cdp.MeetState(ctx, t.TabID)
		if err != nil {
			slog.Debug("meet state probe failed", "tab_id", t.TabID, "error", err)
			continue
		}
		if state.InMeeting {
			continue
		}
		joined, err := s.cdp.MeetJoin(ctx, t.TabID)
		if err != nil {
			return nil, err
		}
		if joined {
			return &CommandResult{Command: CmdMeetJoin, TabID: t.TabID}, nil
		}
	}
	return nil, &sinkcdp.CodedError{Code: sinkcdp.CodeTabNotFound, Message: "no joinable meeting tab"}
}

// meetToggle runs a mute toggle against the first tab that is actually
// in a meeting.
func (s *Service) meetToggle(ctx context.Context, command string, toggle func(context.Context, string) (sinkcdp.MeetState, error)) (*CommandResult, error) {
	meet, err := s.meetTabs(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range meet {
		state, err := s.cdp.MeetState(ctx, t.TabID)
		if err != nil || !state.InMeeting {
			continue
		}
		after, err := toggle(ctx, t.TabID)
		if err != nil {
			return nil, err
		}
		return &CommandResult{Command: command, TabID: t.TabID, Meet: &after}, nil
	}
	return nil, &sinkcdp.CodedError{Code: sinkcdp.CodeTabNotFound, Message: "no tab is in a meeting"}
}

func (s *Service) notifyFailure(label string, err error) {
	if s.notifier == nil {
		return
	}
	device := label
	if device == "" {
		device = "audio output"
	}
	s.notifier.Notify("sinktab", fmt.Sprintf("failed to select %s: %v", device, err))
}

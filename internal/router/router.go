// Package router holds the background half of the routing agent: the
// device resolver priority chain, the rule-driven auto-router, and the
// command dispatch used by the HTTP surface.
package router

import (
	"context"

	"github.com/sinktab/sinktab/internal/sinkcdp"
)

// TabClient is the per-tab CDP operation surface the router drives.
// Satisfied by *sinkcdp.Client; faked in tests.
type TabClient interface {
	ListTabs(ctx context.Context) ([]sinkcdp.TabInfo, error)
	ActivateTab(ctx context.Context, tabID string) error
	EnsureCapability(ctx context.Context, tabID string) (sinkcdp.CapabilityState, error)
	ListDevices(ctx context.Context, tabID string, warm bool) (sinkcdp.DeviceList, error)
	ApplySink(ctx context.Context, tabID, sinkID string) (sinkcdp.ApplyReport, error)
	CheckAllOn(ctx context.Context, tabID, sinkID string) (sinkcdp.SinkCheck, error)
	TrySink(ctx context.Context, tabID, sinkID string) (bool, error)
	RequestPicker(ctx context.Context, tabID string) (sinkcdp.PickerResult, error)
	MeetState(ctx context.Context, tabID string) (sinkcdp.MeetState, error)
	MeetJoin(ctx context.Context, tabID string) (bool, error)
	MeetToggleMic(ctx context.Context, tabID string) (sinkcdp.MeetState, error)
	MeetToggleCam(ctx context.Context, tabID string) (sinkcdp.MeetState, error)
}

// Notifier surfaces user-facing failure notices. Optional; a nil
// notifier drops them.
type Notifier interface {
	Notify(title, message string)
}

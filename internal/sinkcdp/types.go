package sinkcdp

import "fmt"

const (
	CodeValidation       = "VALIDATION"
	CodeTabNotFound      = "TAB_NOT_FOUND"
	CodeTabGone          = "TAB_GONE"
	CodePermissionDenied = "PERMISSION_DENIED"
	CodeDeviceNotFound   = "DEVICE_NOT_FOUND"
	CodeApplyFailed      = "APPLY_FAILED"
	CodePickerTimeout    = "PICKER_TIMEOUT"
	CodeEvalFailure      = "EVAL_FAILURE"
	CodeEvalTimeout      = "EVAL_TIMEOUT"
	CodeCDPUnavailable   = "CDP_UNAVAILABLE"
)

// CodedError is a typed error used for stable API mapping.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

func newError(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

// TabInfo describes a routable browser tab. The tab id is the CDP
// target id and is only stable for the tab's lifetime.
type TabInfo struct {
	TabID string `json:"tab_id"`
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// Device describes one entry from an in-page enumerateDevices call. The
// ID is opaque and only valid within the reporting tab's browsing
// context; the label is the only semi-stable cross-context identifier.
type Device struct {
	Kind  string `json:"kind"`
	Label string `json:"label"`
	ID    string `json:"id"`
}

// DeviceList groups enumerated devices by kind.
type DeviceList struct {
	AudioInput  []Device `json:"audioinput"`
	AudioOutput []Device `json:"audiooutput"`
	VideoInput  []Device `json:"videoinput"`
}

// SinkTarget is the label/id pairing the router is told to apply to a
// tab. Replaced wholesale on the next selection, never mutated.
type SinkTarget struct {
	Label string `json:"label"`
	ID    string `json:"id"`
}

// ApplyReport summarises one applyToTab pass over a tab's media
// elements. AllApplied is true only when every element ended up on the
// requested sink; a partial apply keeps what succeeded.
type ApplyReport struct {
	Total      int      `json:"total"`
	Applied    int      `json:"applied"`
	AllApplied bool     `json:"all_applied"`
	Failures   []string `json:"failures,omitempty"`
}

// SinkCheck reports whether every media element in a tab is on a given
// sink. AllOn is false when the tab has no media elements at all.
type SinkCheck struct {
	Elements int  `json:"elements"`
	AllOn    bool `json:"all_on"`
}

// CapabilityState reports the permission gate outcome for a tab.
type CapabilityState struct {
	Granted bool   `json:"granted"`
	Via     string `json:"via,omitempty"`
}

// PickerResult is the outcome of an interactive selectAudioOutput call.
type PickerResult struct {
	Picked bool   `json:"picked"`
	Label  string `json:"label,omitempty"`
	ID     string `json:"id,omitempty"`
}

// MeetState mirrors the meeting-adapter getState contract.
type MeetState struct {
	Title     string `json:"title"`
	InMeeting bool   `json:"in_meeting"`
	MicMuted  bool   `json:"mic_muted"`
	CamMuted  bool   `json:"cam_muted"`
}

// WatchReport is one stream-lifecycle event forwarded from the in-page
// watcher over the CDP binding channel.
type WatchReport struct {
	Element     string `json:"element"`
	Event       string `json:"event"`
	DesiredSink string `json:"desired_sink,omitempty"`
	CurrentSink string `json:"current_sink,omitempty"`
}

package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sinktab/sinktab/internal/sinkcdp"
)

// resolve walks the device resolution priority chain for one tab and,
// on success, applies the resolved sink and records the selection:
//
//  1. an explicit id hint, or the id remembered for this tab when the
//     remembered label matches the requested one;
//  2. already-satisfied check — every element already on that id;
//  3. direct apply of the hinted id after a usability probe;
//  4. fresh enumeration, matched by id first, then by case-sensitive
//     label containment;
//  5. the interactive picker, only when allowed (manual path);
//  6. nothing — routing is left unchanged, never forced to a default.
//
// A nil target with a nil error means step 6: no match, no change.
func (s *Service) resolve(ctx context.Context, tabID, label, idHint string, allowPicker, manual bool) (*sinkcdp.SinkTarget, error) {
	label = strings.TrimSpace(label)

	// Step 1: the id remembered for this exact tab+label outranks any
	// incoming hint (a rule's stored id, a caller-supplied id) — ids are
	// not portable across browsing contexts, so a previously-successful
	// id for this tab is the better bet. The no-label path (bare picker
	// command) skips memory on purpose so the picker always appears.
	if label != "" {
		if id, ok := s.mem.LookupLabel(tabID, label); ok {
			idHint = id
		}
	}

	if idHint != "" {
		// Step 2: nothing to do when every element is already routed.
		if check, err := s.cdp.CheckAllOn(ctx, tabID, idHint); err == nil && check.AllOn {
			slog.Debug("router already satisfied", "tab_id", tabID, "label", label)
			s.record(tabID, label, idHint, manual)
			return &sinkcdp.SinkTarget{Label: label, ID: idHint}, nil
		}

		// Step 3: the stored id may still be valid in this context.
		usable, err := s.cdp.TrySink(ctx, tabID, idHint)
		if err != nil {
			return nil, err
		}
		if usable {
			if err := s.apply(ctx, tabID, label, idHint, manual); err != nil {
				return nil, err
			}
			return &sinkcdp.SinkTarget{Label: label, ID: idHint}, nil
		}
		slog.Debug("router stored id stale", "tab_id", tabID, "label", label)
	}

	// Step 4: enumerate and match.
	if label != "" || idHint != "" {
		if _, err := s.cdp.EnsureCapability(ctx, tabID); err != nil {
			return nil, err
		}
		devs, err := s.cdp.ListDevices(ctx, tabID, true)
		if err != nil {
			return nil, err
		}
		// Cache every observed pair, not just the one we match: a later
		// lookup by a different label must still succeed.
		for _, d := range devs.AudioOutput {
			s.mem.RecordLabel(tabID, d.Label, d.ID)
		}
		if dev := matchOutput(devs.AudioOutput, label, idHint); dev != nil {
			if err := s.apply(ctx, tabID, dev.Label, dev.ID, manual); err != nil {
				return nil, err
			}
			return &sinkcdp.SinkTarget{Label: dev.Label, ID: dev.ID}, nil
		}
		slog.Debug("router no enumerated match", "tab_id", tabID, "label", label,
			"outputs", len(devs.AudioOutput))
	}

	// Step 5: ask the user.
	if allowPicker {
		picked, err := s.cdp.RequestPicker(ctx, tabID)
		if err != nil {
			return nil, err
		}
		if picked.Picked {
			if err := s.apply(ctx, tabID, picked.Label, picked.ID, manual); err != nil {
				return nil, err
			}
			return &sinkcdp.SinkTarget{Label: picked.Label, ID: picked.ID}, nil
		}
	}

	// Step 6: leave routing untouched.
	return nil, nil
}

// matchOutput picks the output device for a label/id pair: exact id
// match first, then the first device whose label contains the requested
// label. Label matching is case-sensitive; "Speakers" and "speakers"
// are different devices to the platform.
func matchOutput(outputs []sinkcdp.Device, label, id string) *sinkcdp.Device {
	if id != "" {
		for i := range outputs {
			if outputs[i].ID == id {
				return &outputs[i]
			}
		}
	}
	if label == "" {
		return nil
	}
	for i := range outputs {
		if strings.Contains(outputs[i].Label, label) {
			return &outputs[i]
		}
	}
	return nil
}

func (s *Service) apply(ctx context.Context, tabID, label, id string, manual bool) error {
	report, err := s.cdp.ApplySink(ctx, tabID, id)
	if err != nil {
		return err
	}
	if report.Total > 0 && report.Applied == 0 {
		return &sinkcdp.CodedError{
			Code:    sinkcdp.CodeApplyFailed,
			Message: fmt.Sprintf("no media element accepted sink for %q", label),
		}
	}
	if report.Total > 0 && !report.AllApplied {
		slog.Warn("router partial apply", "tab_id", tabID, "label", label,
			"applied", report.Applied, "total", report.Total)
	}
	s.record(tabID, label, id, manual)
	return nil
}

func (s *Service) record(tabID, label, id string, manual bool) {
	s.mem.Record(tabID, label, id, manual)
}

package router

import (
	"context"
	"log/slog"
	"strings"
)

// OnTabBecameRelevant is the auto-routing entry point, fired when a tab
// finishes a navigation or starts playing audio. It never returns an
// error: auto-routing failures are logged and swallowed so event
// handling can never wedge the watcher pipeline.
func (s *Service) OnTabBecameRelevant(ctx context.Context, tabID, url string) {
	if !s.rules.Settings().EnableAutoRoute {
		return
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return
	}
	if s.mem.IsManual(tabID) {
		slog.Debug("autoroute skipping manual tab", "tab_id", tabID)
		return
	}

	rule, ok := s.rules.Match(url)
	if !ok {
		return
	}

	slog.Info("autoroute rule matched", "tab_id", tabID, "url", url, "device", rule.Device)
	target, err := s.resolve(ctx, tabID, rule.Device, rule.DeviceID, false, false)
	if err != nil {
		slog.Warn("autoroute failed", "tab_id", tabID, "device", rule.Device, "error", err)
		return
	}
	if target == nil {
		slog.Info("autoroute device unavailable, leaving routing unchanged",
			"tab_id", tabID, "device", rule.Device)
		return
	}
	slog.Info("autoroute applied", "tab_id", tabID, "device", target.Label)
}

// OnTabClosed clears the tab's memory and manual override and drops
// client-side session state. A recycled tab id starts clean.
func (s *Service) OnTabClosed(tabID string) {
	s.mem.Clear(tabID)
}

// HandleWatchReport receives stream-lifecycle reports forwarded from
// the in-page watchers. A "playing" report is the audibility trigger:
// the tab just became relevant for routing. Runs on the transport's
// read path, so the actual routing pass is dispatched to a goroutine.
func (s *Service) HandleWatchReport(tabID string, event string) {
	if event != "playing" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.routeTimeout)
		defer cancel()

		url, ok := s.tabURL(ctx, tabID)
		if !ok {
			return
		}
		s.OnTabBecameRelevant(ctx, tabID, url)
	}()
}

func (s *Service) tabURL(ctx context.Context, tabID string) (string, bool) {
	tabs, err := s.cdp.ListTabs(ctx)
	if err != nil {
		slog.Debug("autoroute tab url lookup failed", "tab_id", tabID, "error", err)
		return "", false
	}
	for _, t := range tabs {
		if t.TabID == tabID {
			return t.URL, true
		}
	}
	return "", false
}

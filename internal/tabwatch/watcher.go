// Package tabwatch passively observes the browser's tab population over
// chromedp: navigations, new tabs, and closed tabs. It never evaluates
// anything in pages; it only turns CDP lifecycle events into routing
// triggers.
package tabwatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
)

// Hooks are the watcher's outbound callbacks. They run on chromedp's
// event goroutines and must not block; dispatch heavy work elsewhere.
type Hooks struct {
	// OnNavigated fires after a top-level navigation (full or
	// same-document) lands on a URL.
	OnNavigated func(tabID, url string)
	// OnTabClosed fires when a page target goes away.
	OnTabClosed func(tabID string)
}

// Watcher attaches lightweight chromedp contexts to every page tab.
type Watcher struct {
	cdpURL string
	hooks  Hooks

	allocCtx    context.Context
	allocCancel context.CancelFunc
	browserCtx  context.Context
	browserStop context.CancelFunc

	mu   sync.Mutex
	tabs map[target.ID]*tabContext
}

type tabContext struct {
	id     target.ID
	url    string
	cancel context.CancelFunc
}

func NewWatcher(cdpURL string, hooks Hooks) *Watcher {
	return &Watcher{
		cdpURL: cdpURL,
		hooks:  hooks,
		tabs:   make(map[target.ID]*tabContext),
	}
}

// Start connects to the browser, watches all current page tabs, and
// subscribes to target discovery so future tabs are picked up too.
func (w *Watcher) Start(ctx context.Context) error {
	slog.Info("tabwatch connecting", "cdp_url", w.cdpURL)

	w.allocCtx, w.allocCancel = chromedp.NewRemoteAllocator(context.Background(), w.cdpURL)
	w.browserCtx, w.browserStop = chromedp.NewContext(w.allocCtx)

	if err := chromedp.Run(w.browserCtx); err != nil {
		w.allocCancel()
		return fmt.Errorf("tabwatch: connect to browser: %w", err)
	}

	chromedp.ListenBrowser(w.browserCtx, w.onBrowserEvent)
	if err := chromedp.Run(w.browserCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		return target.SetDiscoverTargets(true).Do(ctx)
	})); err != nil {
		w.allocCancel()
		return fmt.Errorf("tabwatch: enable target discovery: %w", err)
	}

	targets, err := chromedp.Targets(w.browserCtx)
	if err != nil {
		w.allocCancel()
		return fmt.Errorf("tabwatch: enumerate targets: %w", err)
	}

	watched := 0
	for _, t := range targets {
		if t.Type != "page" || !watchableURL(t.URL) {
			continue
		}
		if err := w.watchTab(t.TargetID, t.URL); err != nil {
			slog.Warn("tabwatch attach failed", "target_id", t.TargetID, "error", err)
			continue
		}
		watched++
	}

	slog.Info("tabwatch started", "tabs", watched)
	return nil
}

func (w *Watcher) Close() error {
	w.mu.Lock()
	for _, tab := range w.tabs {
		tab.cancel()
	}
	w.tabs = make(map[target.ID]*tabContext)
	w.mu.Unlock()

	if w.browserStop != nil {
		w.browserStop()
	}
	if w.allocCancel != nil {
		w.allocCancel()
	}
	slog.Info("tabwatch closed")
	return nil
}

// TabCount reports how many tabs are currently watched.
func (w *Watcher) TabCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.tabs)
}

func (w *Watcher) onBrowserEvent(ev any) {
	switch e := ev.(type) {
	case *target.EventTargetCreated:
		if e.TargetInfo.Type != "page" || !watchableURL(e.TargetInfo.URL) {
			return
		}
		go func(id target.ID, url string) {
			if err := w.watchTab(id, url); err != nil {
				slog.Debug("tabwatch late attach failed", "target_id", id, "error", err)
			}
		}(e.TargetInfo.TargetID, e.TargetInfo.URL)
	case *target.EventTargetDestroyed:
		w.dropTab(e.TargetID)
	}
}

func (w *Watcher) watchTab(id target.ID, url string) error {
	w.mu.Lock()
	if _, exists := w.tabs[id]; exists {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	tabCtx, tabCancel := chromedp.NewContext(w.allocCtx, chromedp.WithTargetID(id))
	if err := chromedp.Run(tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		return page.Enable().Do(ctx)
	})); err != nil {
		tabCancel()
		return fmt.Errorf("tabwatch: enable page domain: %w", err)
	}

	w.mu.Lock()
	w.tabs[id] = &tabContext{id: id, url: url, cancel: tabCancel}
	w.mu.Unlock()

	chromedp.ListenTarget(tabCtx, w.tabEventHandler(string(id)))
	slog.Debug("tabwatch watching", "tab_id", string(id), "url", truncateURL(url))
	return nil
}

func (w *Watcher) dropTab(id target.ID) {
	w.mu.Lock()
	tab, ok := w.tabs[id]
	if ok {
		delete(w.tabs, id)
	}
	w.mu.Unlock()
	if !ok {
		return
	}
	tab.cancel()

	slog.Info("tabwatch tab closed", "tab_id", string(id))
	if w.hooks.OnTabClosed != nil {
		w.hooks.OnTabClosed(string(id))
	}
}

func (w *Watcher) tabEventHandler(tabID string) func(ev any) {
	return func(ev any) {
		switch e := ev.(type) {
		case *page.EventFrameNavigated:
			if e.Frame.ParentID != "" {
				return
			}
			w.noteNavigation(tabID, e.Frame.URL)
		case *page.EventNavigatedWithinDocument:
			w.noteNavigation(tabID, e.URL)
		}
	}
}

func (w *Watcher) noteNavigation(tabID, url string) {
	w.mu.Lock()
	if tab, ok := w.tabs[target.ID(tabID)]; ok {
		tab.url = url
	}
	w.mu.Unlock()

	slog.Debug("tabwatch navigation", "tab_id", tabID, "url", truncateURL(url))
	if w.hooks.OnNavigated != nil {
		w.hooks.OnNavigated(tabID, url)
	}
}

// watchableURL filters out browser-internal pages; they never route.
func watchableURL(url string) bool {
	return url == "" ||
		strings.HasPrefix(url, "http://") ||
		strings.HasPrefix(url, "https://") ||
		strings.HasPrefix(url, "about:blank")
}

func truncateURL(url string) string {
	if len(url) > 120 {
		return url[:120] + "..."
	}
	return url
}

package sinkcdp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/target"
)

// transientHints are substrings in error causes that indicate a
// transient failure worth retrying (e.g. broken connection, closed
// session).
var transientHints = []string{
	"context canceled",
	"target closed",
	"session closed",
	"websocket",
	"connection reset",
	"broken pipe",
	"eof",
	"connection refused",
	"connection closed",
}

type tabSession struct {
	info      TabInfo
	mu        sync.Mutex
	sessionID string // CDP session ID from Target.attachToTarget
	armed     bool   // sentinel + report binding installed
	lastSink  string // last sink id applied through this client
	bindings  *tabBindings
}

// ReportHandler receives stream-lifecycle reports from in-page watchers.
// Called from the transport read loop; handlers must not block.
type ReportHandler func(tabID string, rep WatchReport)

// Client drives per-tab audio routing over raw CDP sessions.
type Client struct {
	cdpURL        string
	evalTimeout   time.Duration
	pickerTimeout time.Duration

	mu           sync.Mutex
	cdp          *rawCDP
	tabs         map[target.ID]*tabSession
	sessionToTab map[string]target.ID

	tabLocksMu sync.Mutex
	tabLocks   map[string]*sync.Mutex

	reportMu sync.RWMutex
	onReport ReportHandler

	unregisterBinding func()
}

type evalEnvelope struct {
	OK           bool            `json:"ok"`
	Data         json.RawMessage `json:"data,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

func NewClient(cdpURL string, evalTimeout, pickerTimeout time.Duration) *Client {
	return &Client{
		cdpURL:        cdpURL,
		evalTimeout:   evalTimeout,
		pickerTimeout: pickerTimeout,
		tabs:          make(map[target.ID]*tabSession),
		sessionToTab:  make(map[string]target.ID),
		tabLocks:      make(map[string]*sync.Mutex),
	}
}

// SetReportHandler registers the callback for watcher reports. The
// auto-router uses "playing" reports as its audibility trigger.
func (c *Client) SetReportHandler(fn ReportHandler) {
	c.reportMu.Lock()
	c.onReport = fn
	c.reportMu.Unlock()
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.cdpURL == "" {
		return newError(CodeCDPUnavailable, "missing CDP URL", nil)
	}

	slog.Info("sinkcdp connect start", "cdp_url", c.cdpURL)
	c.cleanupLocked()

	c.cdp = newRawCDP(c.cdpURL)
	if err := c.cdp.connect(ctx); err != nil {
		c.cdp = nil
		return newError(CodeCDPUnavailable, "connect to CDP failed", err)
	}

	c.unregisterBinding = c.cdp.registerEventHandler("Runtime.bindingCalled", c.onBindingCalled)

	if err := c.syncTabsLocked(ctx); err != nil {
		slog.Error("sinkcdp initial tab sync failed", "error", err)
		c.cleanupLocked()
		return newError(CodeCDPUnavailable, "connect to CDP failed", err)
	}

	slog.Info("sinkcdp connect ok", "cdp_url", c.cdpURL, "tabs", len(c.tabs))
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupLocked()
	return nil
}

func (c *Client) cleanupLocked() {
	if c.unregisterBinding != nil {
		c.unregisterBinding()
		c.unregisterBinding = nil
	}
	// Detach from any active sessions without closing targets.
	if c.cdp != nil {
		for _, session := range c.tabs {
			if session == nil {
				continue
			}
			session.mu.Lock()
			if session.sessionID != "" {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				if err := c.cdp.detachFromTarget(ctx, session.sessionID); err != nil {
					slog.Debug("sinkcdp detach cleanup failed", "tab_id", session.info.TabID, "error", err)
				}
				cancel()
				session.sessionID = ""
			}
			session.mu.Unlock()
		}
		c.cdp.close()
		c.cdp = nil
	}
	c.tabs = make(map[target.ID]*tabSession)
	c.sessionToTab = make(map[string]target.ID)
}

// ListTabs returns the currently open http(s) tabs.
func (c *Client) ListTabs(ctx context.Context) ([]TabInfo, error) {
	if err := c.refreshTabs(ctx); err != nil {
		slog.Warn("sinkcdp list tabs failed", "error", err)
		return nil, err
	}

	c.mu.Lock()
	tabs := make([]TabInfo, 0, len(c.tabs))
	for _, s := range c.tabs {
		if s != nil {
			tabs = append(tabs, s.info)
		}
	}
	c.mu.Unlock()

	sort.Slice(tabs, func(i, j int) bool {
		return tabs[i].TabID < tabs[j].TabID
	})
	slog.Debug("sinkcdp list tabs", "count", len(tabs))
	return tabs, nil
}

// ActivateTab focuses the given tab's window.
func (c *Client) ActivateTab(ctx context.Context, tabID string) error {
	c.mu.Lock()
	cdp := c.cdp
	c.mu.Unlock()
	if cdp == nil {
		return newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}
	if err := cdp.activateTarget(ctx, strings.TrimSpace(tabID)); err != nil {
		return newError(CodeTabNotFound, "activate tab failed", err)
	}
	return nil
}

// OnTabClosed drops session state for a closed tab so a reused target
// id starts clean.
func (c *Client) OnTabClosed(tabID string) {
	c.mu.Lock()
	delete(c.tabs, target.ID(tabID))
	for sid, id := range c.sessionToTab {
		if string(id) == tabID {
			delete(c.sessionToTab, sid)
		}
	}
	c.mu.Unlock()

	c.tabLocksMu.Lock()
	delete(c.tabLocks, tabID)
	c.tabLocksMu.Unlock()
}

// --- Device operations ---

func (c *Client) EnsureCapability(ctx context.Context, tabID string) (CapabilityState, error) {
	var out CapabilityState
	if err := c.evalOnTab(ctx, tabID, jsEnsureCapability(), &out); err != nil {
		return CapabilityState{}, err
	}
	return out, nil
}

func (c *Client) ListDevices(ctx context.Context, tabID string, warm bool) (DeviceList, error) {
	var out DeviceList
	if err := c.evalOnTab(ctx, tabID, jsListDevices(warm), &out); err != nil {
		return DeviceList{}, err
	}
	if out.AudioInput == nil {
		out.AudioInput = []Device{}
	}
	if out.AudioOutput == nil {
		out.AudioOutput = []Device{}
	}
	if out.VideoInput == nil {
		out.VideoInput = []Device{}
	}
	return out, nil
}

// ApplySink routes every media element in the tab to the given sink id
// and arms the stream-lifecycle watchers. Partial success is reported,
// not raised.
func (c *Client) ApplySink(ctx context.Context, tabID, sinkID string) (ApplyReport, error) {
	var out ApplyReport
	if err := c.evalOnTab(ctx, tabID, jsApplySink(sinkID), &out); err != nil {
		return ApplyReport{}, err
	}

	c.mu.Lock()
	if session := c.tabs[target.ID(tabID)]; session != nil {
		session.mu.Lock()
		session.lastSink = sinkID
		session.mu.Unlock()
	}
	c.mu.Unlock()

	if !out.AllApplied {
		slog.Warn("sinkcdp partial sink apply", "tab_id", tabID, "sink_id", sinkID,
			"applied", out.Applied, "total", out.Total, "failures", strings.Join(out.Failures, "; "))
	}
	return out, nil
}

func (c *Client) CheckAllOn(ctx context.Context, tabID, sinkID string) (SinkCheck, error) {
	var out SinkCheck
	if err := c.evalOnTab(ctx, tabID, jsCheckAllOn(sinkID), &out); err != nil {
		return SinkCheck{}, err
	}
	return out, nil
}

// TrySink probes whether a stored id is still usable in this tab's
// browsing context.
func (c *Client) TrySink(ctx context.Context, tabID, sinkID string) (bool, error) {
	var out struct {
		Usable bool   `json:"usable"`
		Reason string `json:"reason,omitempty"`
	}
	if err := c.evalOnTab(ctx, tabID, jsTrySink(sinkID), &out); err != nil {
		return false, err
	}
	if !out.Usable && out.Reason != "" {
		slog.Debug("sinkcdp stored sink unusable", "tab_id", tabID, "sink_id", sinkID, "reason", out.Reason)
	}
	return out.Usable, nil
}

// RequestPicker shows the platform's output-device prompt and waits a
// bounded time for the user to pick. A timeout counts as user-declined.
func (c *Client) RequestPicker(ctx context.Context, tabID string) (PickerResult, error) {
	pickCtx, cancel := context.WithTimeout(ctx, c.pickerTimeout)
	defer cancel()

	var out PickerResult
	err := c.evalOnTab(pickCtx, tabID, jsRequestPicker(), &out)
	if err != nil {
		if c.asCode(err, CodeEvalTimeout) {
			return PickerResult{}, newError(CodePickerTimeout, "device picker timed out", err)
		}
		return PickerResult{}, err
	}
	return out, nil
}

// --- Meeting adapter operations ---

func (c *Client) MeetState(ctx context.Context, tabID string) (MeetState, error) {
	var out MeetState
	if err := c.evalOnTab(ctx, tabID, jsMeetState(), &out); err != nil {
		return MeetState{}, err
	}
	return out, nil
}

func (c *Client) MeetJoin(ctx context.Context, tabID string) (bool, error) {
	var out struct {
		Joined bool `json:"joined"`
	}
	if err := c.evalOnTab(ctx, tabID, jsMeetJoin(), &out); err != nil {
		return false, err
	}
	return out.Joined, nil
}

// MeetToggleMic dispatches Meet's Ctrl+D mute shortcut as a trusted key
// event and reads back the resulting state.
func (c *Client) MeetToggleMic(ctx context.Context, tabID string) (MeetState, error) {
	return c.meetShortcut(ctx, tabID, "d", "KeyD", 68)
}

// MeetToggleCam dispatches Meet's Ctrl+E camera shortcut as a trusted
// key event and reads back the resulting state.
func (c *Client) MeetToggleCam(ctx context.Context, tabID string) (MeetState, error) {
	return c.meetShortcut(ctx, tabID, "e", "KeyE", 69)
}

func (c *Client) meetShortcut(ctx context.Context, tabID, key, code string, keyCode int) (MeetState, error) {
	cdp, sessionID, err := c.resolveSessionID(ctx, tabID)
	if err != nil {
		return MeetState{}, err
	}
	if err := cdp.dispatchKeyEvent(ctx, sessionID, key, code, keyCode, 2); err != nil {
		return MeetState{}, newError(CodeEvalFailure, "failed to dispatch trusted key event", err)
	}
	select {
	case <-time.After(300 * time.Millisecond):
	case <-ctx.Done():
		return MeetState{}, ctx.Err()
	}
	return c.MeetState(ctx, tabID)
}

// --- Watcher report plumbing ---

func (c *Client) onBindingCalled(sessionID string, params json.RawMessage) {
	var evt struct {
		Name    string `json:"name"`
		Payload string `json:"payload"`
	}
	if json.Unmarshal(params, &evt) != nil || evt.Name != reportFunc {
		return
	}

	var rep WatchReport
	if err := json.Unmarshal([]byte(evt.Payload), &rep); err != nil {
		slog.Debug("sinkcdp bad watcher report", "error", err)
		return
	}

	c.mu.Lock()
	tabID, ok := c.sessionToTab[sessionID]
	var session *tabSession
	if ok {
		session = c.tabs[tabID]
	}
	c.mu.Unlock()
	if session == nil {
		return
	}

	slog.Debug("sinkcdp watcher report", "tab_id", string(tabID),
		"element", rep.Element, "event", rep.Event, "current_sink", rep.CurrentSink)

	if session.bindings.observe(rep) {
		session.mu.Lock()
		want := session.lastSink
		session.mu.Unlock()
		if want != "" {
			go c.reapply(string(tabID), want)
		}
	}

	c.reportMu.RLock()
	fn := c.onReport
	c.reportMu.RUnlock()
	if fn != nil {
		fn(string(tabID), rep)
	}
}

// reapply runs a fresh apply pass after a stream restart left an element
// off its desired sink. Failures are logged and swallowed; routing is
// idempotent so racing with a newer selection is harmless.
func (c *Client) reapply(tabID, sinkID string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.evalTimeout)
	defer cancel()
	if _, err := c.ApplySink(ctx, tabID, sinkID); err != nil {
		slog.Debug("sinkcdp reapply after stream restart failed", "tab_id", tabID, "sink_id", sinkID, "error", err)
	}
}

// --- Session management ---

func (c *Client) resolveSessionID(ctx context.Context, tabID string) (*rawCDP, string, error) {
	session, err := c.resolveTabSession(ctx, tabID)
	if err != nil {
		return nil, "", err
	}
	c.mu.Lock()
	cdp := c.cdp
	c.mu.Unlock()
	if cdp == nil {
		return nil, "", newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}
	sessionID, err := c.ensureSession(ctx, cdp, session)
	if err != nil {
		return nil, "", err
	}
	return cdp, sessionID, nil
}

func (c *Client) evalOnTab(ctx context.Context, tabID, js string, out any) error {
	tabID = strings.TrimSpace(tabID)
	if tabID == "" {
		return newError(CodeTabNotFound, "tab id is required", nil)
	}

	lock := c.tabLock(tabID)
	lock.Lock()
	defer lock.Unlock()

	// First attempt.
	slog.Debug("sinkcdp eval on tab", "tab_id", tabID)
	session, err := c.resolveTabSession(ctx, tabID)
	if err != nil {
		slog.Warn("sinkcdp tab resolve failed", "tab_id", tabID, "error", err)
	} else {
		err = c.evalOnSession(ctx, session, js, out)
	}
	if err == nil {
		return nil
	}
	if !c.shouldRetry(err) {
		return err
	}

	// Retry after recovery.
	slog.Warn("sinkcdp eval retry after transient failure", "tab_id", tabID, "error", err)
	if c.asCode(err, CodeCDPUnavailable) {
		if recErr := c.reconnect(ctx); recErr != nil {
			slog.Error("sinkcdp reconnect failed during retry", "tab_id", tabID, "error", recErr)
			return recErr
		}
	} else {
		if syncErr := c.refreshTabs(ctx); syncErr != nil {
			slog.Warn("sinkcdp tab refresh failed during retry", "tab_id", tabID, "error", syncErr)
		}
	}

	session, err = c.resolveTabSession(ctx, tabID)
	if err != nil {
		// The tab existed on the first attempt; vanishing between
		// attempts means it closed or navigated away mid-operation.
		if c.asCode(err, CodeTabNotFound) {
			err = newError(CodeTabGone, "tab closed mid-operation: "+tabID, nil)
		}
		slog.Warn("sinkcdp tab resolve failed (retry)", "tab_id", tabID, "error", err)
		return err
	}
	return c.evalOnSession(ctx, session, js, out)
}

func (c *Client) evalOnSession(ctx context.Context, session *tabSession, js string, out any) error {
	c.mu.Lock()
	cdp := c.cdp
	c.mu.Unlock()
	if cdp == nil {
		return newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}

	sessionID, err := c.ensureSession(ctx, cdp, session)
	if err != nil {
		return err
	}

	// A caller-imposed deadline (e.g. the picker's long interactive
	// wait) takes precedence over the default eval timeout.
	evalCtx := ctx
	evalCancel := context.CancelFunc(func() {})
	if _, ok := ctx.Deadline(); !ok {
		evalCtx, evalCancel = context.WithTimeout(ctx, c.evalTimeout)
	}
	defer evalCancel()

	raw, err := cdp.evaluate(evalCtx, sessionID, js)
	if err != nil {
		slog.Warn("sinkcdp eval failed", "tab_id", session.info.TabID, "error", err)
		// Reset session so a fresh attach happens on retry.
		session.mu.Lock()
		session.sessionID = ""
		session.armed = false
		session.mu.Unlock()

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(evalCtx.Err(), context.DeadlineExceeded) {
			return newError(CodeEvalTimeout, "evaluation timed out", err)
		}
		return newError(CodeEvalFailure, "evaluation failed", err)
	}

	var env evalEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return newError(CodeEvalFailure, "invalid evaluation envelope", err)
	}
	if !env.OK {
		code := env.ErrorCode
		if code == "" {
			code = CodeEvalFailure
		}
		return newError(code, env.ErrorMessage, nil)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return newError(CodeEvalFailure, "invalid evaluation data", err)
	}
	return nil
}

// ensureSession returns a CDP session ID for the tab, attaching and
// arming the watcher plumbing on first use. Lock order is c.mu before
// session.mu everywhere; this never holds session.mu while taking c.mu,
// or a concurrent tab sync pruning this session could deadlock.
func (c *Client) ensureSession(ctx context.Context, cdp *rawCDP, session *tabSession) (string, error) {
	session.mu.Lock()
	if session.sessionID != "" && session.armed {
		sid := session.sessionID
		session.mu.Unlock()
		return sid, nil
	}

	attached := false
	if session.sessionID == "" {
		sid, err := cdp.attachToTarget(ctx, session.info.TabID)
		if err != nil {
			session.mu.Unlock()
			return "", newError(CodeCDPUnavailable, "attach to target failed", err)
		}
		session.sessionID = sid
		attached = true
	}
	sid := session.sessionID
	armed := session.armed
	session.mu.Unlock()

	if attached {
		c.rememberSession(sid, session.info.TabID)
		slog.Debug("sinkcdp session attached", "tab_id", session.info.TabID, "session_id", sid)
	}

	if !armed {
		if err := cdp.addBinding(ctx, sid, reportFunc); err != nil {
			return "", newError(CodeCDPUnavailable, "install report binding failed", err)
		}
		if err := cdp.addScriptOnNewDocument(ctx, sid, jsSentinel()); err != nil {
			return "", newError(CodeCDPUnavailable, "install sentinel failed", err)
		}
		// Arm the current document too; addScriptToEvaluateOnNewDocument
		// only covers future loads.
		if _, err := cdp.evaluate(ctx, sid, jsSentinel()); err != nil {
			slog.Debug("sinkcdp sentinel eval on current document failed", "tab_id", session.info.TabID, "error", err)
		}
		session.mu.Lock()
		session.armed = true
		session.mu.Unlock()
	}

	return sid, nil
}

// rememberSession records the session-to-tab mapping for binding-event
// dispatch. Callers must not hold any session.mu.
func (c *Client) rememberSession(sid, tabID string) {
	c.mu.Lock()
	c.sessionToTab[sid] = target.ID(tabID)
	c.mu.Unlock()
}

func (c *Client) resolveTabSession(ctx context.Context, tabID string) (*tabSession, error) {
	if session, found := c.lookupTabSession(tabID); found {
		return session, nil
	}

	if err := c.refreshTabs(ctx); err != nil {
		return nil, err
	}

	if session, found := c.lookupTabSession(tabID); found {
		return session, nil
	}

	return nil, newError(CodeTabNotFound, "tab not found: "+tabID, nil)
}

func (c *Client) lookupTabSession(tabID string) (*tabSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	session := c.tabs[target.ID(tabID)]
	if session == nil {
		return nil, false
	}
	return session, true
}

func (c *Client) refreshTabs(ctx context.Context) error {
	if err := c.ensureConnected(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	err := c.syncTabsLocked(ctx)
	c.mu.Unlock()
	if err == nil {
		return nil
	}

	return newError(CodeCDPUnavailable, "failed to list targets", err)
}

func (c *Client) reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) syncTabsLocked(ctx context.Context) error {
	if c.cdp == nil {
		return newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}

	targets, err := c.cdp.listTargets(ctx)
	if err != nil {
		return err
	}

	expected := make(map[target.ID]TabInfo)
	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		if !routableURL(t.URL) {
			continue
		}
		expected[t.TargetID] = TabInfo{
			TabID: string(t.TargetID),
			URL:   t.URL,
			Title: t.Title,
		}
	}

	for targetID, session := range c.tabs {
		if _, ok := expected[targetID]; ok {
			continue
		}
		if session != nil {
			session.mu.Lock()
			sid := session.sessionID
			session.mu.Unlock()
			delete(c.sessionToTab, sid)
		}
		delete(c.tabs, targetID)
	}

	for targetID, info := range expected {
		session := c.tabs[targetID]
		if session != nil {
			if session.info.URL != info.URL {
				// New document: old elements are gone.
				session.bindings.reset()
			}
			session.info = info
			continue
		}
		c.tabs[targetID] = &tabSession{info: info, bindings: newTabBindings()}
	}

	// Prune tab locks for tabs no longer present.
	c.tabLocksMu.Lock()
	for id := range c.tabLocks {
		if _, ok := c.tabs[target.ID(id)]; !ok {
			delete(c.tabLocks, id)
		}
	}
	c.tabLocksMu.Unlock()

	slog.Debug("sinkcdp tab sync", "targets", len(targets), "tabs", len(c.tabs))
	return nil
}

func (c *Client) ensureConnected(ctx context.Context) error {
	c.mu.Lock()
	connected := c.cdp != nil
	c.mu.Unlock()
	if connected {
		return nil
	}
	return c.reconnect(ctx)
}

func (c *Client) tabLock(tabID string) *sync.Mutex {
	c.tabLocksMu.Lock()
	defer c.tabLocksMu.Unlock()
	m, ok := c.tabLocks[tabID]
	if !ok {
		m = &sync.Mutex{}
		c.tabLocks[tabID] = m
	}
	return m
}

func (c *Client) shouldRetry(err error) bool {
	var coded *CodedError
	if !errors.As(err, &coded) {
		return false
	}

	switch coded.Code {
	case CodeCDPUnavailable:
		return true
	case CodeTabNotFound:
		return false
	case CodeEvalFailure:
		if coded.Cause == nil {
			return false
		}
		cause := strings.ToLower(coded.Cause.Error())
		for _, hint := range transientHints {
			if strings.Contains(cause, hint) {
				return true
			}
		}
	}
	return false
}

func (c *Client) asCode(err error, code string) bool {
	var coded *CodedError
	if !errors.As(err, &coded) {
		return false
	}
	return coded.Code == code
}

// routableURL reports whether a tab URL is eligible for routing at all.
// Internal pages (chrome://, devtools://, about:) never are.
func routableURL(url string) bool {
	return strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")
}

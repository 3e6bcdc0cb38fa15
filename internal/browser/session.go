package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/google/uuid"

	icdp "github.com/spotterhq/spotter/internal/cdp"
	"github.com/spotterhq/spotter/internal/tagging"
)

// rpc is the protocol surface a Session needs. *cdp.Conn satisfies it;
// tests substitute fakes.
type rpc interface {
	Call(ctx context.Context, sessionID, method string, params, result any) error
	Subscribe(method, sessionID string) (<-chan icdp.Event, func())
}

// ScrollDirection names the four scroll directions.
type ScrollDirection string

const (
	ScrollUp    ScrollDirection = "up"
	ScrollDown  ScrollDirection = "down"
	ScrollLeft  ScrollDirection = "left"
	ScrollRight ScrollDirection = "right"
)

// keyToVirtualKeyCode maps supported key names to Windows virtual key
// codes, which is what the input domain expects.
var keyToVirtualKeyCode = map[string]int{
	"enter":     13,
	"tab":       9,
	"escape":    27,
	"backspace": 8,
	"delete":    46,
	"pageup":    33,
	"pagedown":  34,
	"arrowup":   38,
	"arrowdown": 40,
}

// Session is one page attached as a flat protocol session. Mutating
// commands (navigation, input dispatch) serialize on cmdMu; the
// read-only capture calls used by tagging passes run concurrently.
type Session struct {
	conn      rpc
	sessionID string
	targetID  string
	log       *slog.Logger

	navTimeout time.Duration
	cmdTimeout time.Duration

	cmdMu sync.Mutex

	epochMu   sync.Mutex
	navEpoch  int
	stopWatch func()
}

func newSession(conn rpc, sessionID, targetID string, cfg *ResolvedConfig) *Session {
	return &Session{
		conn:       conn,
		sessionID:  sessionID,
		targetID:   targetID,
		navTimeout: cfg.NavigationTimeout,
		cmdTimeout: cfg.CommandTimeout,
		log:        slog.Default().With("component", "session", "target", targetID),
	}
}

// call issues one protocol command bounded by the command timeout, so a
// wedged page cannot block a session (and cmdMu) forever.
func (s *Session) call(ctx context.Context, method string, params, result any) error {
	ctx, cancel := context.WithTimeout(ctx, s.cmdTimeout)
	defer cancel()
	return s.conn.Call(ctx, s.sessionID, method, params, result)
}

// enableDomains switches on the protocol domains every page operation
// relies on and starts watching for main-frame navigations.
func (s *Session) enableDomains(ctx context.Context) error {
	for _, method := range []string{"Page.enable", "DOM.enable", "Runtime.enable"} {
		if err := s.call(ctx, method, nil, nil); err != nil {
			return fmt.Errorf("%s: %w", method, err)
		}
	}
	s.watchNavigation()
	return nil
}

// watchNavigation bumps the navigation epoch on every main-frame
// navigation, including ones triggered by page scripts or clicks.
func (s *Session) watchNavigation() {
	events, cancel := s.conn.Subscribe("Page.frameNavigated", s.sessionID)
	s.stopWatch = cancel
	go func() {
		for ev := range events {
			var params struct {
				Frame struct {
					ParentID string `json:"parentId"`
				} `json:"frame"`
			}
			if err := json.Unmarshal(ev.Params, &params); err != nil {
				continue
			}
			if params.Frame.ParentID == "" {
				s.bumpEpoch()
			}
		}
	}()
}

func (s *Session) bumpEpoch() {
	s.epochMu.Lock()
	s.navEpoch++
	s.epochMu.Unlock()
}

// Epoch returns the navigation epoch, a counter that advances whenever
// the main frame navigates.
func (s *Session) Epoch() int {
	s.epochMu.Lock()
	defer s.epochMu.Unlock()
	return s.navEpoch
}

func (s *Session) close() {
	if s.stopWatch != nil {
		s.stopWatch()
	}
}

// Navigate loads a URL and blocks until the page's load event or the
// navigation timeout.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	events, cancel := s.conn.Subscribe("Page.loadEventFired", s.sessionID)
	defer cancel()

	var ret struct {
		ErrorText string `json:"errorText"`
	}
	if err := s.call(ctx, "Page.navigate", map[string]any{"url": url}, &ret); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if ret.ErrorText != "" {
		return fmt.Errorf("navigate %s: %s", url, ret.ErrorText)
	}
	s.bumpEpoch()

	timer := time.NewTimer(s.navTimeout)
	defer timer.Stop()
	select {
	case _, ok := <-events:
		if !ok {
			// Teardown closes subscription channels; a closed channel is
			// a dead connection, not a load-complete signal.
			return &icdp.TransportError{Op: "Page.loadEventFired",
				Err: errors.New("connection closed while waiting for load")}
		}
		return nil
	case <-timer.C:
		return &NavigationTimeoutError{URL: url, Timeout: s.navTimeout}
	case <-ctx.Done():
		return ctx.Err()
	}
}

type navigationHistory struct {
	CurrentIndex int `json:"currentIndex"`
	Entries      []struct {
		ID    int    `json:"id"`
		URL   string `json:"url"`
		Title string `json:"title"`
	} `json:"entries"`
}

func (s *Session) history(ctx context.Context) (*navigationHistory, error) {
	var hist navigationHistory
	if err := s.call(ctx, "Page.getNavigationHistory", nil, &hist); err != nil {
		return nil, err
	}
	return &hist, nil
}

// GoBack steps back in session history. Returns false, without error,
// when there is no earlier entry.
func (s *Session) GoBack(ctx context.Context) (bool, error) {
	return s.stepHistory(ctx, -1)
}

// GoForward steps forward in session history. Returns false when there
// is no later entry.
func (s *Session) GoForward(ctx context.Context) (bool, error) {
	return s.stepHistory(ctx, 1)
}

func (s *Session) stepHistory(ctx context.Context, delta int) (bool, error) {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	hist, err := s.history(ctx)
	if err != nil {
		return false, err
	}
	idx := hist.CurrentIndex + delta
	if idx < 0 || idx >= len(hist.Entries) {
		return false, nil
	}
	err = s.call(ctx, "Page.navigateToHistoryEntry",
		map[string]any{"entryId": hist.Entries[idx].ID}, nil)
	if err != nil {
		return false, err
	}
	s.bumpEpoch()
	return true, nil
}

// Wait sleeps for the given duration, honoring ctx cancellation. It
// exists so callers can pace scripted interactions through one API.
func (s *Session) Wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PageInfo returns the current URL and title from navigation history.
func (s *Session) PageInfo(ctx context.Context) (tagging.PageSummary, error) {
	hist, err := s.history(ctx)
	if err != nil {
		return tagging.PageSummary{}, err
	}
	if hist.CurrentIndex < 0 || hist.CurrentIndex >= len(hist.Entries) {
		return tagging.PageSummary{}, fmt.Errorf("navigation history has no current entry")
	}
	cur := hist.Entries[hist.CurrentIndex]
	return tagging.PageSummary{URL: cur.URL, Title: cur.Title}, nil
}

type layoutMetrics struct {
	CSSVisualViewport struct {
		PageX        float64 `json:"pageX"`
		PageY        float64 `json:"pageY"`
		ClientWidth  float64 `json:"clientWidth"`
		ClientHeight float64 `json:"clientHeight"`
	} `json:"cssVisualViewport"`
	CSSContentSize struct {
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
	} `json:"cssContentSize"`
}

func (s *Session) viewport(ctx context.Context) (tagging.Rect, error) {
	var metrics layoutMetrics
	if err := s.call(ctx, "Page.getLayoutMetrics", nil, &metrics); err != nil {
		return tagging.Rect{}, err
	}
	vv := metrics.CSSVisualViewport
	return tagging.Rect{Width: vv.ClientWidth, Height: vv.ClientHeight}, nil
}

// CaptureDOMSnapshot takes a layout-annotated DOM snapshot and lifts it
// into a frame tree.
func (s *Session) CaptureDOMSnapshot(ctx context.Context) (*tagging.FrameTree, error) {
	var snap tagging.Snapshot
	err := s.call(ctx, "DOMSnapshot.captureSnapshot", map[string]any{
		"computedStyles":    tagging.QueriedStyles,
		"includeDOMRects":   true,
		"includePaintOrder": true,
	}, &snap)
	if err != nil {
		return nil, fmt.Errorf("capture snapshot: %w", err)
	}
	vp, err := s.viewport(ctx)
	if err != nil {
		return nil, fmt.Errorf("layout metrics: %w", err)
	}
	return tagging.BuildFrameTree(&snap, vp)
}

// CaptureScreenshot takes a PNG screenshot of the visible viewport.
func (s *Session) CaptureScreenshot(ctx context.Context) (image.Image, error) {
	var ret struct {
		Data []byte `json:"data"`
	}
	err := s.call(ctx, "Page.captureScreenshot",
		map[string]any{"format": "png"}, &ret)
	if err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	img, err := png.Decode(bytes.NewReader(ret.Data))
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	return img, nil
}

// targetPoint validates an element's geometry and returns its center in
// viewport coordinates.
func (s *Session) targetPoint(ctx context.Context, el tagging.Element) (float64, float64, error) {
	if el.Bounds.Empty() {
		return 0, 0, &ElementNotInteractableError{Index: el.Index, Reason: "empty bounds"}
	}
	vp, err := s.viewport(ctx)
	if err != nil {
		return 0, 0, err
	}
	center := el.Bounds.Center()
	if !vp.Contains(center) {
		return 0, 0, &ElementNotInteractableError{Index: el.Index, Reason: "outside viewport"}
	}
	return center.X, center.Y, nil
}

func (s *Session) mouseEvent(ctx context.Context, params map[string]any) error {
	return s.call(ctx, "Input.dispatchMouseEvent", params, nil)
}

// Click dispatches a full click sequence at the element's center:
// move, press, release, move.
func (s *Session) Click(ctx context.Context, el tagging.Element) error {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	x, y, err := s.targetPoint(ctx, el)
	if err != nil {
		return err
	}
	if err := s.mouseEvent(ctx, map[string]any{"type": "mouseMoved", "x": x, "y": y}); err != nil {
		return err
	}
	if err := s.pause(ctx, 300*time.Millisecond); err != nil {
		return err
	}
	if err := s.mouseEvent(ctx, map[string]any{
		"type": "mousePressed", "button": "left", "x": x, "y": y, "clickCount": 1,
	}); err != nil {
		return err
	}
	if err := s.pause(ctx, 100*time.Millisecond); err != nil {
		return err
	}
	if err := s.mouseEvent(ctx, map[string]any{
		"type": "mouseReleased", "button": "left", "x": x, "y": y, "clickCount": 1,
	}); err != nil {
		return err
	}
	return s.mouseEvent(ctx, map[string]any{"type": "mouseMoved", "x": x, "y": y})
}

// Hover moves the mouse over the element's center.
func (s *Session) Hover(ctx context.Context, el tagging.Element) error {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	x, y, err := s.targetPoint(ctx, el)
	if err != nil {
		return err
	}
	if err := s.mouseEvent(ctx, map[string]any{"type": "mouseMoved", "x": x, "y": y}); err != nil {
		return err
	}
	if err := s.pause(ctx, 300*time.Millisecond); err != nil {
		return err
	}
	return s.mouseEvent(ctx, map[string]any{"type": "mouseMoved", "x": x, "y": y})
}

// Focus gives the element keyboard focus.
func (s *Session) Focus(ctx context.Context, el tagging.Element) error {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	if _, _, err := s.targetPoint(ctx, el); err != nil {
		return err
	}
	return s.focusNode(ctx, el.BackendNodeID)
}

func (s *Session) focusNode(ctx context.Context, id cdp.BackendNodeID) error {
	return s.call(ctx, "DOM.focus", map[string]any{"backendNodeId": id}, nil)
}

// EnterText replaces the element's current value: focus, select-all and
// delete via editing commands, then insert the new text as one unit.
func (s *Session) EnterText(ctx context.Context, el tagging.Element, text string) error {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	if _, _, err := s.targetPoint(ctx, el); err != nil {
		return err
	}
	if err := s.focusNode(ctx, el.BackendNodeID); err != nil {
		return err
	}
	for _, typ := range []string{"keyDown", "keyUp"} {
		params := map[string]any{
			"type":     typ,
			"commands": []string{"selectAll", "delete"},
		}
		if err := s.call(ctx, "Input.dispatchKeyEvent", params, nil); err != nil {
			return err
		}
	}
	return s.call(ctx, "Input.insertText", map[string]any{"text": text}, nil)
}

// PressKey sends a key down/up pair for a named key.
func (s *Session) PressKey(ctx context.Context, key string) error {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	code, ok := keyToVirtualKeyCode[strings.ToLower(key)]
	if !ok {
		return fmt.Errorf("unsupported key: %s", key)
	}
	for _, typ := range []string{"keyDown", "keyUp"} {
		err := s.call(ctx, "Input.dispatchKeyEvent", map[string]any{
			"type":                  typ,
			"windowsVirtualKeyCode": code,
			"key":                   key,
		}, nil)
		if err != nil {
			return err
		}
	}
	return nil
}

const scrollFunction = `
function scrollElement(direction) {
	var element = this;
	const amountY = element.clientHeight * 0.9;
	const amountX = element.clientWidth * 0.9;
	switch (direction) {
	case 'up':
		element.scrollBy({top: -amountY});
		break;
	case 'down':
		element.scrollBy({top: amountY});
		break;
	case 'left':
		element.scrollBy({left: -amountX});
		break;
	case 'right':
		element.scrollBy({left: amountX});
		break;
	}
}`

const setSelectValueFunction = `
function setSelectValue(value) {
	var element = this;
	element.value = value;
	element.dispatchEvent(new Event('change'));
}`

// Scroll scrolls the element by 90% of its visible dimensions in the
// given direction.
func (s *Session) Scroll(ctx context.Context, el tagging.Element, dir ScrollDirection) error {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	if _, _, err := s.targetPoint(ctx, el); err != nil {
		return err
	}
	return s.callOnNode(ctx, el.BackendNodeID, scrollFunction, string(dir))
}

// SelectOption sets a select element's value and fires its change
// event. Option validity is the caller's concern.
func (s *Session) SelectOption(ctx context.Context, el tagging.Element, value string) error {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	if _, _, err := s.targetPoint(ctx, el); err != nil {
		return err
	}
	return s.callOnNode(ctx, el.BackendNodeID, setSelectValueFunction, value)
}

// callOnNode resolves a backend node to a runtime object and invokes a
// function with the node as receiver. The object group is released
// afterwards so remote handles do not pile up.
func (s *Session) callOnNode(ctx context.Context, id cdp.BackendNodeID, fn string, arg string) error {
	group := uuid.New().String()
	defer func() {
		_ = s.call(context.WithoutCancel(ctx),
			"Runtime.releaseObjectGroup", map[string]any{"objectGroup": group}, nil)
	}()

	var resolved struct {
		Object struct {
			ObjectID string `json:"objectId"`
		} `json:"object"`
	}
	err := s.call(ctx, "DOM.resolveNode", map[string]any{
		"backendNodeId": id,
		"objectGroup":   group,
	}, &resolved)
	if err != nil {
		return fmt.Errorf("resolve node: %w", err)
	}

	return s.call(ctx, "Runtime.callFunctionOn", map[string]any{
		"functionDeclaration": fn,
		"objectId":            resolved.Object.ObjectID,
		"arguments":           []map[string]any{{"value": arg}},
		"returnByValue":       true,
	}, nil)
}

func (s *Session) pause(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

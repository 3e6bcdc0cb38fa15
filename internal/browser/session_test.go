package browser

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spotterhq/spotter/internal/tagging"

	icdp "github.com/spotterhq/spotter/internal/cdp"
)

func newTestSession(f *fakeRPC, navTimeoutMs int) *Session {
	cfg := ResolveConfig(Config{NavigationTimeoutMs: navTimeoutMs})
	return newSession(f, "s-1", "t-1", cfg)
}

func visibleElement() tagging.Element {
	return tagging.Element{
		Index:         0,
		Kind:          tagging.KindGeneric,
		BackendNodeID: 4,
		Bounds:        tagging.Rect{X: 10, Y: 10, Width: 50, Height: 20},
	}
}

func TestNavigateTimesOut(t *testing.T) {
	f := newFakeRPC() // no load event is ever fired
	s := newTestSession(f, 50)

	err := s.Navigate(context.Background(), "https://example.com")
	var nav *NavigationTimeoutError
	if !errors.As(err, &nav) {
		t.Fatalf("expected NavigationTimeoutError, got %v", err)
	}
	if nav.URL != "https://example.com" {
		t.Fatalf("error url = %q", nav.URL)
	}
}

func TestNavigateFailsWhenConnectionDropsMidWait(t *testing.T) {
	f := newFakeRPC()
	// Connection teardown closes subscription channels while Navigate is
	// still waiting for the load event.
	f.hooks["Page.navigate"] = func() { f.closeSubscriptions("Page.loadEventFired") }
	s := newTestSession(f, 2000)

	err := s.Navigate(context.Background(), "https://example.com")
	var terr *icdp.TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TransportError after mid-wait teardown, got %v", err)
	}
}

func TestNavigateReportsBrowserError(t *testing.T) {
	f := newFakeRPC()
	f.results["Page.navigate"] = `{"errorText":"net::ERR_NAME_NOT_RESOLVED"}`
	s := newTestSession(f, 50)

	err := s.Navigate(context.Background(), "https://nope.invalid")
	if err == nil || !strings.Contains(err.Error(), "ERR_NAME_NOT_RESOLVED") {
		t.Fatalf("expected browser error text, got %v", err)
	}
}

func TestNavigateBumpsEpoch(t *testing.T) {
	f := newFakeRPC().withTagResults(t)
	s := newTestSession(f, 2000)

	before := s.Epoch()
	if err := s.Navigate(context.Background(), "https://example.com"); err != nil {
		t.Fatalf("navigate: %v", err)
	}
	if s.Epoch() <= before {
		t.Fatalf("epoch did not advance: %d -> %d", before, s.Epoch())
	}
}

func TestFrameNavigatedEventBumpsEpoch(t *testing.T) {
	f := newFakeRPC()
	// A main-frame navigation event (no parent) delivered out of band,
	// as happens when a click triggers a page load.
	f.fires["Noop.poke"] = icdp.Event{
		Method:    "Page.frameNavigated",
		SessionID: "s-1",
		Params:    json.RawMessage(`{"frame":{"id":"F-MAIN","parentId":""}}`),
	}
	s := newTestSession(f, 2000)
	if err := s.enableDomains(context.Background()); err != nil {
		t.Fatalf("enable domains: %v", err)
	}
	defer s.close()

	before := s.Epoch()
	if err := f.Call(context.Background(), "s-1", "Noop.poke", nil, nil); err != nil {
		t.Fatalf("poke: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.Epoch() == before {
		if time.Now().After(deadline) {
			t.Fatalf("epoch never advanced")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSubframeNavigationDoesNotBumpEpoch(t *testing.T) {
	f := newFakeRPC()
	f.fires["Noop.poke"] = icdp.Event{
		Method:    "Page.frameNavigated",
		SessionID: "s-1",
		Params:    json.RawMessage(`{"frame":{"id":"F-AD","parentId":"F-MAIN"}}`),
	}
	s := newTestSession(f, 2000)
	if err := s.enableDomains(context.Background()); err != nil {
		t.Fatalf("enable domains: %v", err)
	}
	defer s.close()

	before := s.Epoch()
	if err := f.Call(context.Background(), "s-1", "Noop.poke", nil, nil); err != nil {
		t.Fatalf("poke: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if got := s.Epoch(); got != before {
		t.Fatalf("subframe navigation bumped epoch: %d -> %d", before, got)
	}
}

func TestGoBackAtHistoryStart(t *testing.T) {
	f := newFakeRPC() // default history: one entry, currentIndex 0
	s := newTestSession(f, 2000)

	moved, err := s.GoBack(context.Background())
	if err != nil {
		t.Fatalf("go back: %v", err)
	}
	if moved {
		t.Fatalf("go back at history start should report no movement")
	}
	if n := len(f.methodCalls("Page.navigateToHistoryEntry")); n != 0 {
		t.Fatalf("navigateToHistoryEntry called %d times, want 0", n)
	}
}

func TestGoBackStepsHistory(t *testing.T) {
	f := newFakeRPC()
	f.results["Page.getNavigationHistory"] = `{"currentIndex":1,"entries":[` +
		`{"id":1,"url":"https://a.example","title":"A"},` +
		`{"id":2,"url":"https://b.example","title":"B"}]}`
	s := newTestSession(f, 2000)

	before := s.Epoch()
	moved, err := s.GoBack(context.Background())
	if err != nil {
		t.Fatalf("go back: %v", err)
	}
	if !moved {
		t.Fatalf("expected movement")
	}
	calls := f.methodCalls("Page.navigateToHistoryEntry")
	if len(calls) != 1 {
		t.Fatalf("navigateToHistoryEntry called %d times, want 1", len(calls))
	}
	params := calls[0].Params.(map[string]any)
	if params["entryId"] != 1 {
		t.Fatalf("stepped to entry %v, want 1", params["entryId"])
	}
	if s.Epoch() <= before {
		t.Fatalf("history step should bump the epoch")
	}
}

func TestGoForwardAtHistoryEnd(t *testing.T) {
	f := newFakeRPC()
	s := newTestSession(f, 2000)

	moved, err := s.GoForward(context.Background())
	if err != nil {
		t.Fatalf("go forward: %v", err)
	}
	if moved {
		t.Fatalf("go forward at history end should report no movement")
	}
}

func TestPageInfoFromHistory(t *testing.T) {
	f := newFakeRPC()
	f.results["Page.getNavigationHistory"] = `{"currentIndex":0,"entries":[` +
		`{"id":1,"url":"https://example.com","title":"Example"}]}`
	s := newTestSession(f, 2000)

	info, err := s.PageInfo(context.Background())
	if err != nil {
		t.Fatalf("page info: %v", err)
	}
	if info.URL != "https://example.com" || info.Title != "Example" {
		t.Fatalf("unexpected summary: %+v", info)
	}
}

func TestClickRejectsEmptyBounds(t *testing.T) {
	f := newFakeRPC()
	s := newTestSession(f, 2000)

	el := visibleElement()
	el.Bounds = tagging.Rect{}
	err := s.Click(context.Background(), el)
	var nie *ElementNotInteractableError
	if !errors.As(err, &nie) {
		t.Fatalf("expected ElementNotInteractableError, got %v", err)
	}
	if n := len(f.methodCalls("Input.dispatchMouseEvent")); n != 0 {
		t.Fatalf("no mouse events should be sent, got %d", n)
	}
}

func TestClickRejectsOffscreenElement(t *testing.T) {
	f := newFakeRPC() // viewport is 800x600
	s := newTestSession(f, 2000)

	el := visibleElement()
	el.Bounds = tagging.Rect{X: 1000, Y: 50, Width: 10, Height: 10}
	err := s.Click(context.Background(), el)
	var nie *ElementNotInteractableError
	if !errors.As(err, &nie) {
		t.Fatalf("expected ElementNotInteractableError, got %v", err)
	}
}

func TestClickDispatchSequence(t *testing.T) {
	f := newFakeRPC()
	s := newTestSession(f, 2000)

	if err := s.Click(context.Background(), visibleElement()); err != nil {
		t.Fatalf("click: %v", err)
	}
	calls := f.methodCalls("Input.dispatchMouseEvent")
	if len(calls) != 4 {
		t.Fatalf("expected 4 mouse events, got %d", len(calls))
	}
	types := make([]string, len(calls))
	for i, c := range calls {
		types[i] = c.Params.(map[string]any)["type"].(string)
	}
	want := []string{"mouseMoved", "mousePressed", "mouseReleased", "mouseMoved"}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event %d = %s, want %s (full: %v)", i, types[i], want[i], types)
		}
	}
	// All events land at the element center.
	center := calls[1].Params.(map[string]any)
	if center["x"] != 35.0 || center["y"] != 20.0 {
		t.Fatalf("press at (%v,%v), want (35,20)", center["x"], center["y"])
	}
}

func TestEnterTextDispatchOrder(t *testing.T) {
	f := newFakeRPC()
	s := newTestSession(f, 2000)

	if err := s.EnterText(context.Background(), visibleElement(), "hello"); err != nil {
		t.Fatalf("enter text: %v", err)
	}
	want := []string{"Page.getLayoutMetrics", "DOM.focus",
		"Input.dispatchKeyEvent", "Input.dispatchKeyEvent", "Input.insertText"}
	order := f.methodOrder()
	if len(order) != len(want) {
		t.Fatalf("calls = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("call %d = %s, want %s", i, order[i], want[i])
		}
	}
	insert := f.methodCalls("Input.insertText")[0].Params.(map[string]any)
	if insert["text"] != "hello" {
		t.Fatalf("inserted %q, want %q", insert["text"], "hello")
	}
}

func TestEnterTextRejectsEmptyBounds(t *testing.T) {
	f := newFakeRPC()
	s := newTestSession(f, 2000)

	el := visibleElement()
	el.Bounds = tagging.Rect{}
	err := s.EnterText(context.Background(), el, "x")
	var nie *ElementNotInteractableError
	if !errors.As(err, &nie) {
		t.Fatalf("expected ElementNotInteractableError, got %v", err)
	}
	if n := len(f.methodCalls("DOM.focus")); n != 0 {
		t.Fatalf("focus dispatched against an empty target, %d calls", n)
	}
}

func TestFocusRejectsEmptyBounds(t *testing.T) {
	f := newFakeRPC()
	s := newTestSession(f, 2000)

	el := visibleElement()
	el.Bounds = tagging.Rect{}
	err := s.Focus(context.Background(), el)
	var nie *ElementNotInteractableError
	if !errors.As(err, &nie) {
		t.Fatalf("expected ElementNotInteractableError, got %v", err)
	}
	if n := len(f.methodCalls("DOM.focus")); n != 0 {
		t.Fatalf("focus dispatched against an empty target, %d calls", n)
	}
}

func TestScrollRejectsEmptyBounds(t *testing.T) {
	f := newFakeRPC()
	s := newTestSession(f, 2000)

	el := visibleElement()
	el.Bounds = tagging.Rect{}
	err := s.Scroll(context.Background(), el, ScrollDown)
	var nie *ElementNotInteractableError
	if !errors.As(err, &nie) {
		t.Fatalf("expected ElementNotInteractableError, got %v", err)
	}
	if n := len(f.methodCalls("DOM.resolveNode")); n != 0 {
		t.Fatalf("scroll dispatched against an empty target, %d calls", n)
	}
}

func TestSelectOptionRejectsOffscreenElement(t *testing.T) {
	f := newFakeRPC() // viewport is 800x600
	s := newTestSession(f, 2000)

	el := visibleElement()
	el.Kind = tagging.KindSelectInput
	el.Bounds = tagging.Rect{X: 1000, Y: 50, Width: 10, Height: 10}
	err := s.SelectOption(context.Background(), el, "l")
	var nie *ElementNotInteractableError
	if !errors.As(err, &nie) {
		t.Fatalf("expected ElementNotInteractableError, got %v", err)
	}
	if n := len(f.methodCalls("DOM.resolveNode")); n != 0 {
		t.Fatalf("select dispatched against an offscreen target, %d calls", n)
	}
}

func TestPressKey(t *testing.T) {
	f := newFakeRPC()
	s := newTestSession(f, 2000)

	if err := s.PressKey(context.Background(), "Enter"); err != nil {
		t.Fatalf("press key: %v", err)
	}
	calls := f.methodCalls("Input.dispatchKeyEvent")
	if len(calls) != 2 {
		t.Fatalf("expected key down and up, got %d events", len(calls))
	}
	down := calls[0].Params.(map[string]any)
	if down["windowsVirtualKeyCode"] != 13 {
		t.Fatalf("enter key code = %v, want 13", down["windowsVirtualKeyCode"])
	}

	if err := s.PressKey(context.Background(), "hyperspace"); err == nil {
		t.Fatalf("unsupported key should fail")
	}
}

func TestSelectOptionCallSequence(t *testing.T) {
	f := newFakeRPC()
	s := newTestSession(f, 2000)

	el := visibleElement()
	el.Kind = tagging.KindSelectInput
	if err := s.SelectOption(context.Background(), el, "large"); err != nil {
		t.Fatalf("select option: %v", err)
	}

	want := []string{"Page.getLayoutMetrics", "DOM.resolveNode",
		"Runtime.callFunctionOn", "Runtime.releaseObjectGroup"}
	order := f.methodOrder()
	if len(order) != len(want) {
		t.Fatalf("calls = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("call %d = %s, want %s", i, order[i], want[i])
		}
	}

	call := f.methodCalls("Runtime.callFunctionOn")[0].Params.(map[string]any)
	if call["objectId"] != "obj-1" {
		t.Fatalf("callFunctionOn used object %v, want obj-1", call["objectId"])
	}
	args := call["arguments"].([]map[string]any)
	if len(args) != 1 || args[0]["value"] != "large" {
		t.Fatalf("unexpected arguments: %v", args)
	}

	resolve := f.methodCalls("DOM.resolveNode")[0].Params.(map[string]any)
	release := f.methodCalls("Runtime.releaseObjectGroup")[0].Params.(map[string]any)
	if resolve["objectGroup"] == "" || resolve["objectGroup"] != release["objectGroup"] {
		t.Fatalf("object group not released: resolve=%v release=%v",
			resolve["objectGroup"], release["objectGroup"])
	}
}

func TestScrollInvokesFunction(t *testing.T) {
	f := newFakeRPC()
	s := newTestSession(f, 2000)

	if err := s.Scroll(context.Background(), visibleElement(), ScrollDown); err != nil {
		t.Fatalf("scroll: %v", err)
	}
	call := f.methodCalls("Runtime.callFunctionOn")[0].Params.(map[string]any)
	fn := call["functionDeclaration"].(string)
	if !strings.Contains(fn, "scrollBy") {
		t.Fatalf("unexpected function: %s", fn)
	}
	args := call["arguments"].([]map[string]any)
	if args[0]["value"] != "down" {
		t.Fatalf("direction = %v, want down", args[0]["value"])
	}
}

// blockingRPC never answers; commands only return when their context
// expires.
type blockingRPC struct{}

func (blockingRPC) Call(ctx context.Context, sessionID, method string, params, result any) error {
	<-ctx.Done()
	return ctx.Err()
}

func (blockingRPC) Subscribe(method, sessionID string) (<-chan icdp.Event, func()) {
	return make(chan icdp.Event), func() {}
}

func TestCommandTimeoutBoundsDispatch(t *testing.T) {
	cfg := ResolveConfig(Config{CommandTimeoutMs: 50, NavigationTimeoutMs: 2000})
	s := newSession(blockingRPC{}, "s-1", "t-1", cfg)

	start := time.Now()
	err := s.PressKey(context.Background(), "Enter")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("dispatch against a wedged page was not bounded")
	}
}

func TestCaptureScreenshotDecodesPNG(t *testing.T) {
	f := newFakeRPC().withTagResults(t)
	s := newTestSession(f, 2000)

	img, err := s.CaptureScreenshot(context.Background())
	if err != nil {
		t.Fatalf("capture screenshot: %v", err)
	}
	if img.Bounds().Dx() != 800 || img.Bounds().Dy() != 600 {
		t.Fatalf("unexpected image size: %v", img.Bounds())
	}
}

func TestCaptureDOMSnapshotBuildsTree(t *testing.T) {
	f := newFakeRPC().withTagResults(t)
	s := newTestSession(f, 2000)

	tree, err := s.CaptureDOMSnapshot(context.Background())
	if err != nil {
		t.Fatalf("capture snapshot: %v", err)
	}
	if tree.Root == nil || tree.Root.ID != "F-MAIN" {
		t.Fatalf("unexpected root frame: %+v", tree.Root)
	}
	if tree.Viewport.Width != 800 || tree.Viewport.Height != 600 {
		t.Fatalf("unexpected viewport: %+v", tree.Viewport)
	}
	if len(tree.Root.Nodes) == 0 {
		t.Fatalf("expected lifted nodes")
	}
}

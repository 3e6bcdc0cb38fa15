package browser

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"sync"
	"testing"

	icdp "github.com/spotterhq/spotter/internal/cdp"
)

// tagSnapshotJSON is a minimal captured snapshot: one document holding a
// single clickable button at (10,10,50,20).
const tagSnapshotJSON = `{
  "strings": ["F-MAIN", "#document", "HTML", "BODY", "BUTTON", "#text", "OK",
              "block", "visible", "default"],
  "documents": [
    {
      "frameId": 0,
      "scrollOffsetX": 0,
      "scrollOffsetY": 0,
      "nodes": {
        "parentIndex": [-1, 0, 1, 2, 3],
        "nodeType": [9, 1, 1, 1, 3],
        "nodeName": [1, 2, 3, 4, 5],
        "nodeValue": [-1, -1, -1, -1, 6],
        "backendNodeId": [1, 2, 3, 4, 5],
        "attributes": [[], [], [], [], []],
        "inputValue": {"index": [], "value": []},
        "inputChecked": {"index": []},
        "optionSelected": {"index": []},
        "contentDocumentIndex": {"index": [], "value": []},
        "isClickable": {"index": [3]}
      },
      "layout": {
        "nodeIndex": [1, 2, 3],
        "bounds": [[0, 0, 800, 600], [0, 0, 800, 600], [10, 10, 50, 20]],
        "styles": [[7, 8, 9], [7, 8, 9], [7, 8, 9]]
      }
    }
  ]
}`

type fakeCall struct {
	SessionID string
	Method    string
	Params    any
}

type fakeSub struct {
	method    string
	sessionID string
	ch        chan icdp.Event
}

// fakeRPC is an in-memory protocol endpoint: canned results by method,
// optional errors, events fired in response to specific commands, and
// hooks that run mid-call to stage interleavings.
type fakeRPC struct {
	mu      sync.Mutex
	calls   []fakeCall
	results map[string]string
	errs    map[string]error
	fires   map[string]icdp.Event
	hooks   map[string]func()
	subs    []*fakeSub
}

func newFakeRPC() *fakeRPC {
	return &fakeRPC{
		results: map[string]string{
			"Target.createBrowserContext": `{"browserContextId":"bc-1"}`,
			"Target.createTarget":         `{"targetId":"t-1"}`,
			"Target.attachToTarget":       `{"sessionId":"s-1"}`,
			"DOM.resolveNode":             `{"object":{"objectId":"obj-1"}}`,
			"Page.getNavigationHistory":   `{"currentIndex":0,"entries":[{"id":1,"url":"about:blank","title":""}]}`,
			"Page.getLayoutMetrics": `{"cssVisualViewport":{"pageX":0,"pageY":0,"clientWidth":800,"clientHeight":600},` +
				`"cssContentSize":{"width":800,"height":1200}}`,
		},
		errs:  map[string]error{},
		fires: map[string]icdp.Event{},
		hooks: map[string]func(){},
	}
}

// withTagResults arms the fake with everything a tagging pass captures,
// and completes navigations with a load event.
func (f *fakeRPC) withTagResults(t *testing.T) *fakeRPC {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 800, 600))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	f.results["DOMSnapshot.captureSnapshot"] = tagSnapshotJSON
	f.results["Page.captureScreenshot"] = fmt.Sprintf(`{"data":%q}`,
		base64.StdEncoding.EncodeToString(buf.Bytes()))
	f.fires["Page.navigate"] = icdp.Event{Method: "Page.loadEventFired", SessionID: "s-1"}
	return f
}

func (f *fakeRPC) Call(ctx context.Context, sessionID, method string, params, result any) error {
	f.mu.Lock()
	f.calls = append(f.calls, fakeCall{SessionID: sessionID, Method: method, Params: params})
	raw, hasResult := f.results[method]
	err := f.errs[method]
	ev, fires := f.fires[method]
	hook := f.hooks[method]
	f.mu.Unlock()

	if err != nil {
		return err
	}
	if hook != nil {
		hook()
	}
	if fires {
		f.mu.Lock()
		subs := append([]*fakeSub(nil), f.subs...)
		f.mu.Unlock()
		for _, s := range subs {
			if s.method != ev.Method {
				continue
			}
			if s.sessionID != "" && s.sessionID != ev.SessionID {
				continue
			}
			select {
			case s.ch <- ev:
			default:
			}
		}
	}
	if hasResult && result != nil {
		return json.Unmarshal([]byte(raw), result)
	}
	return nil
}

func (f *fakeRPC) Subscribe(method, sessionID string) (<-chan icdp.Event, func()) {
	s := &fakeSub{method: method, sessionID: sessionID, ch: make(chan icdp.Event, 16)}
	f.mu.Lock()
	f.subs = append(f.subs, s)
	f.mu.Unlock()

	return s.ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, x := range f.subs {
			if x == s {
				f.subs = append(f.subs[:i], f.subs[i+1:]...)
				close(s.ch)
				return
			}
		}
	}
}

// closeSubscriptions closes every subscription for the method, the way
// connection teardown does.
func (f *fakeRPC) closeSubscriptions(method string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.subs[:0]
	for _, s := range f.subs {
		if s.method == method {
			close(s.ch)
			continue
		}
		kept = append(kept, s)
	}
	f.subs = kept
}

// methodCalls returns every recorded call of one method.
func (f *fakeRPC) methodCalls(method string) []fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fakeCall
	for _, c := range f.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// methodOrder returns the recorded method names in call order.
func (f *fakeRPC) methodOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.Method
	}
	return out
}

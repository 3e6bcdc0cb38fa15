package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	icdp "github.com/spotterhq/spotter/internal/cdp"
	"github.com/spotterhq/spotter/internal/tagging"
)

// browserContext is one isolated browsing context and the pages opened
// in it. pageOrder preserves creation order; lastActive remembers which
// page to restore when the context is switched to.
type browserContext struct {
	id         string
	protocolID string
	pageOrder  []string
	lastActive string
}

// Page is one tab: its protocol session plus the result of the last
// tagging pass run against it.
type Page struct {
	id        string
	contextID string
	targetID  string
	session   *Session

	lastResult *tagging.TaggedResult
	lastEpoch  int
}

// PassRecord is handed to the pass observer after every tagging pass.
type PassRecord struct {
	Pass      int
	PageID    string
	PageState string
	Elements  []tagging.Element
	Image     []byte
}

// Controller owns one protocol connection and the registry of contexts
// and pages behind it. The registry lock is never held across protocol
// round-trips.
type Controller struct {
	conn   rpc
	closer interface{ Close() error }
	cfg    *ResolvedConfig
	log    *slog.Logger
	engine *tagging.Engine
	chrome *RunningChrome

	mu            sync.RWMutex
	contexts      map[string]*browserContext
	pages         map[string]*Page
	activeContext string
	activePage    string
	passCounter   int
	observer      func(PassRecord)
}

// NewController wraps an existing protocol connection. Most callers use
// Connect instead.
func NewController(conn rpc, cfg *ResolvedConfig) *Controller {
	if cfg == nil {
		cfg = ResolveConfig(DefaultConfig())
	}
	return &Controller{
		conn:     conn,
		cfg:      cfg,
		log:      slog.Default().With("component", "browser"),
		engine:   tagging.NewEngine(slog.Default()),
		contexts: make(map[string]*browserContext),
		pages:    make(map[string]*Page),
	}
}

// Connect establishes a controller against the configured browser,
// launching a local one when no endpoint was configured and none is
// reachable.
func Connect(ctx context.Context, cfg *ResolvedConfig) (*Controller, error) {
	var chrome *RunningChrome
	if cfg.LaunchManaged && !IsChromeReachable(cfg.CDPUrl, 500*time.Millisecond) {
		var err error
		chrome, err = LaunchChrome(cfg)
		if err != nil {
			return nil, err
		}
	}

	wsURL, err := GetChromeWebSocketURL(cfg.CDPUrl, cfg.CommandTimeout)
	if err != nil {
		stopIfManaged(chrome)
		return nil, fmt.Errorf("resolve debugger url: %w", err)
	}
	conn, err := icdp.Dial(ctx, wsURL)
	if err != nil {
		stopIfManaged(chrome)
		return nil, err
	}

	c := NewController(conn, cfg)
	c.closer = conn
	c.chrome = chrome
	return c, nil
}

// Close tears down every session, the connection, and a managed browser
// if one was launched.
func (c *Controller) Close() error {
	c.mu.Lock()
	for _, p := range c.pages {
		p.session.close()
	}
	c.contexts = make(map[string]*browserContext)
	c.pages = make(map[string]*Page)
	c.activeContext = ""
	c.activePage = ""
	c.mu.Unlock()

	var err error
	if c.closer != nil {
		err = c.closer.Close()
	}
	stopIfManaged(c.chrome)
	return err
}

// SetPassObserver registers a callback invoked after every tagging
// pass. Pass nil to remove it.
func (c *Controller) SetPassObserver(fn func(PassRecord)) {
	c.mu.Lock()
	c.observer = fn
	c.mu.Unlock()
}

// CreateContext creates an isolated browsing context. The first context
// created becomes active; later ones do not steal the active selection.
func (c *Controller) CreateContext(ctx context.Context) (string, error) {
	var ret struct {
		BrowserContextID string `json:"browserContextId"`
	}
	err := c.conn.Call(ctx, "", "Target.createBrowserContext", nil, &ret)
	if err != nil {
		return "", fmt.Errorf("create browser context: %w", err)
	}

	id := fmt.Sprintf("ctx-%s", uuid.New().String()[:8])
	c.mu.Lock()
	c.contexts[id] = &browserContext{id: id, protocolID: ret.BrowserContextID}
	if c.activeContext == "" {
		c.activeContext = id
	}
	c.mu.Unlock()

	c.log.Debug("created context", "context", id)
	return id, nil
}

// CreatePage opens a blank page in the given context and attaches a
// flat protocol session to it. The page becomes the context's current
// page; it becomes the active page only when its context is active.
func (c *Controller) CreatePage(ctx context.Context, contextID string) (string, error) {
	c.mu.RLock()
	bc, ok := c.contexts[contextID]
	c.mu.RUnlock()
	if !ok {
		return "", &NotFoundError{Kind: "context", ID: contextID}
	}

	var created struct {
		TargetID string `json:"targetId"`
	}
	err := c.conn.Call(ctx, "", "Target.createTarget", map[string]any{
		"url":              "about:blank",
		"browserContextId": bc.protocolID,
	}, &created)
	if err != nil {
		return "", fmt.Errorf("create target: %w", err)
	}

	var attached struct {
		SessionID string `json:"sessionId"`
	}
	err = c.conn.Call(ctx, "", "Target.attachToTarget", map[string]any{
		"targetId": created.TargetID,
		"flatten":  true,
	}, &attached)
	if err != nil {
		return "", fmt.Errorf("attach to target: %w", err)
	}

	session := newSession(c.conn, attached.SessionID, created.TargetID, c.cfg)
	if err := session.enableDomains(ctx); err != nil {
		session.close()
		return "", fmt.Errorf("enable domains: %w", err)
	}

	id := fmt.Sprintf("page-%s", uuid.New().String()[:8])
	page := &Page{id: id, contextID: contextID, targetID: created.TargetID, session: session}

	c.mu.Lock()
	if _, still := c.contexts[contextID]; !still {
		c.mu.Unlock()
		session.close()
		_ = c.conn.Call(ctx, "", "Target.closeTarget", map[string]any{"targetId": created.TargetID}, nil)
		return "", &NotFoundError{Kind: "context", ID: contextID}
	}
	c.pages[id] = page
	bc.pageOrder = append(bc.pageOrder, id)
	bc.lastActive = id
	if c.activeContext == contextID {
		c.activePage = id
	}
	c.mu.Unlock()

	c.log.Debug("created page", "page", id, "context", contextID)
	return id, nil
}

// Contexts lists context ids. Order is unspecified.
func (c *Controller) Contexts() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.contexts))
	for id := range c.contexts {
		ids = append(ids, id)
	}
	return ids
}

// Pages lists a context's page ids in creation order.
func (c *Controller) Pages(contextID string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	bc, ok := c.contexts[contextID]
	if !ok {
		return nil, &NotFoundError{Kind: "context", ID: contextID}
	}
	out := make([]string, len(bc.pageOrder))
	copy(out, bc.pageOrder)
	return out, nil
}

// ActiveContext returns the active context id, or "".
func (c *Controller) ActiveContext() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.activeContext
}

// ActivePage returns the active page id, or "".
func (c *Controller) ActivePage() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.activePage
}

// SwitchToContext makes a context active and restores its most recently
// active page, which may be none.
func (c *Controller) SwitchToContext(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	bc, ok := c.contexts[id]
	if !ok {
		return &NotFoundError{Kind: "context", ID: id}
	}
	c.activeContext = id
	c.activePage = bc.lastActive
	return nil
}

// SwitchToPage makes a page of the active context active. Pages of
// other contexts are not reachable without switching context first.
func (c *Controller) SwitchToPage(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pages[id]
	if !ok || p.contextID != c.activeContext {
		return &NotFoundError{Kind: "page", ID: id}
	}
	c.activePage = id
	c.contexts[p.contextID].lastActive = id
	return nil
}

// ClosePage closes one page and detaches its session. Closing the
// active page leaves no page active.
func (c *Controller) ClosePage(ctx context.Context, id string) error {
	c.mu.RLock()
	p, ok := c.pages[id]
	c.mu.RUnlock()
	if !ok {
		return &NotFoundError{Kind: "page", ID: id}
	}

	err := c.conn.Call(ctx, "", "Target.closeTarget",
		map[string]any{"targetId": p.targetID}, nil)
	if err != nil {
		c.log.Warn("close target failed", "page", id, "error", err)
	}
	p.session.close()

	c.mu.Lock()
	delete(c.pages, id)
	if bc, ok := c.contexts[p.contextID]; ok {
		bc.pageOrder = removeString(bc.pageOrder, id)
		if bc.lastActive == id {
			bc.lastActive = ""
		}
	}
	if c.activePage == id {
		c.activePage = ""
	}
	c.mu.Unlock()
	return nil
}

// CloseContext closes every page of a context, then disposes the
// context itself. Closing the active context clears the active
// selection entirely.
func (c *Controller) CloseContext(ctx context.Context, id string) error {
	c.mu.RLock()
	bc, ok := c.contexts[id]
	var doomed []*Page
	if ok {
		for _, pid := range bc.pageOrder {
			if p, ok := c.pages[pid]; ok {
				doomed = append(doomed, p)
			}
		}
	}
	c.mu.RUnlock()
	if !ok {
		return &NotFoundError{Kind: "context", ID: id}
	}

	closed := make(map[string]bool, len(doomed))
	for _, p := range doomed {
		closed[p.id] = true
		err := c.conn.Call(ctx, "", "Target.closeTarget",
			map[string]any{"targetId": p.targetID}, nil)
		if err != nil {
			c.log.Warn("close target failed", "page", p.id, "error", err)
		}
		p.session.close()
	}
	err := c.conn.Call(ctx, "", "Target.disposeBrowserContext",
		map[string]any{"browserContextId": bc.protocolID}, nil)
	if err != nil {
		c.log.Warn("dispose context failed", "context", id, "error", err)
	}

	// A CreatePage on this context may have completed between the
	// snapshot above and now; sweep the registry by context id so no
	// page outlives its context.
	c.mu.Lock()
	var stragglers []*Page
	for pid, p := range c.pages {
		if p.contextID != id {
			continue
		}
		delete(c.pages, pid)
		if !closed[pid] {
			stragglers = append(stragglers, p)
		}
	}
	delete(c.contexts, id)
	if c.activeContext == id {
		c.activeContext = ""
		c.activePage = ""
	}
	c.mu.Unlock()

	for _, p := range stragglers {
		err := c.conn.Call(ctx, "", "Target.closeTarget",
			map[string]any{"targetId": p.targetID}, nil)
		if err != nil {
			c.log.Warn("close target failed", "page", p.id, "error", err)
		}
		p.session.close()
	}
	return nil
}

// active returns the active page or ErrNoActivePage.
func (c *Controller) active() (*Page, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.activePage == "" {
		return nil, ErrNoActivePage
	}
	p, ok := c.pages[c.activePage]
	if !ok {
		return nil, ErrNoActivePage
	}
	return p, nil
}

// Tag runs a tagging pass against the active page: concurrent DOM and
// screenshot capture, classification, coordinate transforms, and the
// numbered overlay. The result supersedes any earlier pass for this
// page.
func (c *Controller) Tag(ctx context.Context) (*tagging.TaggedResult, error) {
	p, err := c.active()
	if err != nil {
		return nil, err
	}
	epoch := p.session.Epoch()
	result, err := c.engine.Run(ctx, p.session)
	if err != nil {
		return nil, fmt.Errorf("tagging pass: %w", err)
	}

	c.mu.Lock()
	c.passCounter++
	result.Pass = c.passCounter
	p.lastResult = result
	p.lastEpoch = epoch
	observer := c.observer
	c.mu.Unlock()

	if observer != nil {
		observer(PassRecord{
			Pass:      result.Pass,
			PageID:    p.id,
			PageState: result.Describe(),
			Elements:  result.Elements,
			Image:     result.Image,
		})
	}
	return result, nil
}

// elementForIndex resolves an element index against the page's latest
// pass. Indices are invalidated by newer passes and by navigation.
func (c *Controller) elementForIndex(p *Page, index int) (tagging.Element, error) {
	c.mu.RLock()
	result := p.lastResult
	epoch := p.lastEpoch
	c.mu.RUnlock()

	if result == nil {
		return tagging.Element{}, &StaleIndexError{Index: index, Reason: "no tagging pass has run"}
	}
	if p.session.Epoch() != epoch {
		return tagging.Element{}, &StaleIndexError{Index: index, Reason: "page navigated since last pass"}
	}
	for _, el := range result.Elements {
		if el.Index == index {
			return el, nil
		}
	}
	return tagging.Element{}, &StaleIndexError{Index: index, Reason: "index not present in latest pass"}
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

func stopIfManaged(chrome *RunningChrome) {
	if chrome != nil {
		_ = StopChrome(chrome, 5*time.Second)
	}
}

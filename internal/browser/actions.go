package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/spotterhq/spotter/internal/tagging"
)

// ActionArgs carries the operation-specific arguments of an
// ActionRequest.
type ActionArgs struct {
	URL        string `json:"url,omitempty"`
	Text       string `json:"text,omitempty"`
	Value      string `json:"value,omitempty"`
	Key        string `json:"key,omitempty"`
	Direction  string `json:"direction,omitempty"`
	DurationMs int    `json:"durationMs,omitempty"`
}

// ActionRequest is the uniform operation envelope for external callers.
// TargetIndex refers to an element of the latest tagging pass.
type ActionRequest struct {
	Operation   string     `json:"operation"`
	TargetIndex *int       `json:"targetIndex,omitempty"`
	Args        ActionArgs `json:"args,omitempty"`
}

// Navigate loads a URL in the active page.
func (c *Controller) Navigate(ctx context.Context, url string) error {
	p, err := c.active()
	if err != nil {
		return err
	}
	return p.session.Navigate(ctx, url)
}

// Back steps the active page back in history. Returns false when there
// is no earlier entry.
func (c *Controller) Back(ctx context.Context) (bool, error) {
	p, err := c.active()
	if err != nil {
		return false, err
	}
	return p.session.GoBack(ctx)
}

// Forward steps the active page forward in history.
func (c *Controller) Forward(ctx context.Context) (bool, error) {
	p, err := c.active()
	if err != nil {
		return false, err
	}
	return p.session.GoForward(ctx)
}

// Wait pauses for the given duration, for pacing scripted interactions.
func (c *Controller) Wait(ctx context.Context, d time.Duration) error {
	p, err := c.active()
	if err != nil {
		return err
	}
	return p.session.Wait(ctx, d)
}

// PageInfo returns the active page's URL and title.
func (c *Controller) PageInfo(ctx context.Context) (tagging.PageSummary, error) {
	p, err := c.active()
	if err != nil {
		return tagging.PageSummary{}, err
	}
	return p.session.PageInfo(ctx)
}

// Click clicks the element with the given index from the latest pass.
func (c *Controller) Click(ctx context.Context, index int) error {
	p, el, err := c.resolve(index)
	if err != nil {
		return err
	}
	return p.session.Click(ctx, el)
}

// Hover moves the mouse over the indexed element.
func (c *Controller) Hover(ctx context.Context, index int) error {
	p, el, err := c.resolve(index)
	if err != nil {
		return err
	}
	return p.session.Hover(ctx, el)
}

// Focus gives the indexed element keyboard focus.
func (c *Controller) Focus(ctx context.Context, index int) error {
	p, el, err := c.resolve(index)
	if err != nil {
		return err
	}
	return p.session.Focus(ctx, el)
}

// Type replaces the indexed element's text with the given value.
func (c *Controller) Type(ctx context.Context, index int, text string) error {
	p, el, err := c.resolve(index)
	if err != nil {
		return err
	}
	return p.session.EnterText(ctx, el, text)
}

// PressKey sends a named key to the active page.
func (c *Controller) PressKey(ctx context.Context, key string) error {
	p, err := c.active()
	if err != nil {
		return err
	}
	return p.session.PressKey(ctx, key)
}

// Scroll scrolls the indexed element in the given direction.
func (c *Controller) Scroll(ctx context.Context, index int, dir ScrollDirection) error {
	switch dir {
	case ScrollUp, ScrollDown, ScrollLeft, ScrollRight:
	default:
		return fmt.Errorf("invalid scroll direction: %q", dir)
	}
	p, el, err := c.resolve(index)
	if err != nil {
		return err
	}
	return p.session.Scroll(ctx, el, dir)
}

// SelectOption chooses an option of the indexed select element by its
// value. The value must be one of the options discovered by the latest
// pass.
func (c *Controller) SelectOption(ctx context.Context, index int, value string) error {
	p, el, err := c.resolve(index)
	if err != nil {
		return err
	}
	if el.Kind != tagging.KindSelectInput {
		return fmt.Errorf("element %d is not a select element", index)
	}
	valid := false
	for _, opt := range el.Options {
		if opt.Value == value {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("option %q is not valid for element %d", value, index)
	}
	return p.session.SelectOption(ctx, el, value)
}

// Do executes one uniform action request. Tagging results are returned
// only by the "tag" operation; every other operation reports success or
// a typed error.
func (c *Controller) Do(ctx context.Context, req ActionRequest) (*tagging.TaggedResult, error) {
	index := func() (int, error) {
		if req.TargetIndex == nil {
			return 0, fmt.Errorf("%s requires targetIndex", req.Operation)
		}
		return *req.TargetIndex, nil
	}

	switch req.Operation {
	case "tag":
		return c.Tag(ctx)
	case "navigate":
		if req.Args.URL == "" {
			return nil, fmt.Errorf("navigate requires args.url")
		}
		return nil, c.Navigate(ctx, req.Args.URL)
	case "back":
		_, err := c.Back(ctx)
		return nil, err
	case "forward":
		_, err := c.Forward(ctx)
		return nil, err
	case "wait":
		return nil, c.Wait(ctx, time.Duration(req.Args.DurationMs)*time.Millisecond)
	case "click":
		i, err := index()
		if err != nil {
			return nil, err
		}
		return nil, c.Click(ctx, i)
	case "hover":
		i, err := index()
		if err != nil {
			return nil, err
		}
		return nil, c.Hover(ctx, i)
	case "focus":
		i, err := index()
		if err != nil {
			return nil, err
		}
		return nil, c.Focus(ctx, i)
	case "type":
		i, err := index()
		if err != nil {
			return nil, err
		}
		return nil, c.Type(ctx, i, req.Args.Text)
	case "press_key":
		return nil, c.PressKey(ctx, req.Args.Key)
	case "scroll":
		i, err := index()
		if err != nil {
			return nil, err
		}
		return nil, c.Scroll(ctx, i, ScrollDirection(req.Args.Direction))
	case "select":
		i, err := index()
		if err != nil {
			return nil, err
		}
		return nil, c.SelectOption(ctx, i, req.Args.Value)
	default:
		return nil, fmt.Errorf("unknown operation: %q", req.Operation)
	}
}

// resolve maps an element index to the active page and the element from
// its latest tagging pass.
func (c *Controller) resolve(index int) (*Page, tagging.Element, error) {
	p, err := c.active()
	if err != nil {
		return nil, tagging.Element{}, err
	}
	el, err := c.elementForIndex(p, index)
	if err != nil {
		return nil, tagging.Element{}, err
	}
	return p, el, nil
}

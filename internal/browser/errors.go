package browser

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoActivePage is returned by page-scoped operations when no page is
// currently active.
var ErrNoActivePage = errors.New("no active page")

// NotFoundError reports a lookup of an unknown context or page id.
type NotFoundError struct {
	Kind string // "context" or "page"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// NavigationTimeoutError reports a navigation whose load event never
// arrived within the configured timeout.
type NavigationTimeoutError struct {
	URL     string
	Timeout time.Duration
}

func (e *NavigationTimeoutError) Error() string {
	return fmt.Sprintf("navigation to %s timed out after %s", e.URL, e.Timeout)
}

// ElementNotInteractableError reports an input dispatch against an
// element with no usable geometry, for example one whose rect is empty
// or whose target point falls outside the viewport.
type ElementNotInteractableError struct {
	Index  int
	Reason string
}

func (e *ElementNotInteractableError) Error() string {
	return fmt.Sprintf("element %d not interactable: %s", e.Index, e.Reason)
}

// StaleIndexError reports an element index that refers to an outdated
// tagging pass: the page navigated since, or a newer pass renumbered
// the elements.
type StaleIndexError struct {
	Index  int
	Reason string
}

func (e *StaleIndexError) Error() string {
	return fmt.Sprintf("stale element index %d: %s", e.Index, e.Reason)
}

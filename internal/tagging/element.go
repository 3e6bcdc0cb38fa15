package tagging

import (
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/cdp"
)

// Kind discriminates the element variants. Every Element carries the
// shared fields; the variant fields are meaningful only for the matching
// kind.
type Kind string

const (
	KindGeneric        Kind = "generic"
	KindTextInput      Kind = "text_input"
	KindSelectInput    Kind = "select_input"
	KindCheckableInput Kind = "checkable_input"
)

// OptionInfo is one choice of a select element. Value falls back to the
// display text when the option has no value attribute.
type OptionInfo struct {
	Text     string `json:"text"`
	Value    string `json:"value"`
	Selected bool   `json:"selected"`
}

// Element is one interactive element discovered by a tagging pass.
// Bounds are top-level viewport coordinates. Index is unique within a
// single pass and valid only for that pass.
type Element struct {
	Index         int               `json:"index"`
	Kind          Kind              `json:"kind"`
	FrameID       string            `json:"frameId"`
	Tag           string            `json:"tag"`
	Role          string            `json:"role,omitempty"`
	Label         string            `json:"label,omitempty"`
	Bounds        Rect              `json:"bounds"`
	BackendNodeID cdp.BackendNodeID `json:"backendNodeId"`

	// KindTextInput
	Text string `json:"text,omitempty"`

	// KindSelectInput
	Options       []OptionInfo `json:"options,omitempty"`
	SelectedValue string       `json:"selectedValue,omitempty"`
	MultiSelect   bool         `json:"multiSelect,omitempty"`

	// KindCheckableInput
	Checked bool   `json:"checked,omitempty"`
	Value   string `json:"value,omitempty"`
}

// NodeDescriptor is a raw DOM node lifted out of a protocol snapshot,
// before classification. Bounds are document coordinates of the owning
// frame. ParentCursor carries the parent element's computed cursor so the
// pointer-style heuristic can suppress inherited cursors.
type NodeDescriptor struct {
	NodeIndex     int
	BackendNodeID cdp.BackendNodeID
	Name          string
	Attributes    map[string]string
	Styles        map[string]string
	Bounds        Rect
	IsClickable   bool
	InputValue    string
	InputChecked  bool
	TextContent   string
	Options       []OptionInfo
	ParentCursor  string
}

// Attr returns the named attribute or "".
func (n NodeDescriptor) Attr(name string) string {
	return n.Attributes[name]
}

// HasAttr reports whether the attribute is present, even when empty.
func (n NodeDescriptor) HasAttr(name string) bool {
	_, ok := n.Attributes[name]
	return ok
}

// Style returns the named computed style or "".
func (n NodeDescriptor) Style(name string) string {
	return n.Styles[name]
}

// PageSummary identifies the page a tagging pass ran against.
type PageSummary struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// TaggedResult is the output of one tagging pass: the classified
// elements in index order, the annotated screenshot as PNG bytes, and
// the page identity at capture time.
type TaggedResult struct {
	Pass     int         `json:"pass"`
	Page     PageSummary `json:"page"`
	Elements []Element   `json:"elements"`
	Image    []byte      `json:"-"`
}

// Describe renders the numbered element list as the page-state string
// handed to external callers.
func (r *TaggedResult) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)\n", r.Page.Title, r.Page.URL)
	for _, el := range r.Elements {
		fmt.Fprintf(&b, "[%d] %s", el.Index, strings.ToLower(el.Tag))
		if el.Role != "" {
			fmt.Fprintf(&b, " role=%s", el.Role)
		}
		switch el.Kind {
		case KindTextInput:
			if el.Text != "" {
				fmt.Fprintf(&b, " value=%q", el.Text)
			}
		case KindSelectInput:
			if el.SelectedValue != "" {
				fmt.Fprintf(&b, " selected=%q", el.SelectedValue)
			}
			if len(el.Options) > 0 {
				opts := make([]string, len(el.Options))
				for i, o := range el.Options {
					opts[i] = o.Text
				}
				fmt.Fprintf(&b, " options=[%s]", strings.Join(opts, ", "))
			}
		case KindCheckableInput:
			fmt.Fprintf(&b, " checked=%t", el.Checked)
		}
		if el.Label != "" {
			fmt.Fprintf(&b, " %q", el.Label)
		}
		b.WriteString("\n")
	}
	return b.String()
}

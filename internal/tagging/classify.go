package tagging

import (
	"fmt"
	"strings"
)

// interactableTags are HTML elements treated as interactive regardless
// of role or style.
var interactableTags = map[string]bool{
	"a":        true,
	"button":   true,
	"details":  true,
	"embed":    true,
	"input":    true,
	"menu":     true,
	"menuitem": true,
	"object":   true,
	"select":   true,
	"textarea": true,
	"summary":  true,
	"label":    true,
}

var interactiveRoles = map[string]bool{
	"button":      true,
	"menu":        true,
	"menuitem":    true,
	"link":        true,
	"checkbox":    true,
	"radio":       true,
	"slider":      true,
	"tab":         true,
	"tabpanel":    true,
	"combobox":    true,
	"textbox":     true,
	"grid":        true,
	"listbox":     true,
	"option":      true,
	"progressbar": true,
	"scrollbar":   true,
	"searchbox":   true,
	"switch":      true,
	"tree":        true,
	"treeitem":    true,
	"spinbutton":  true,
	"tooltip":     true,
}

// interactiveCursors mark an element as clickable when styled directly
// on it rather than inherited from the parent.
var interactiveCursors = map[string]bool{
	"pointer": true, "move": true, "text": true, "grab": true,
	"grabbing": true, "cell": true, "copy": true, "alias": true,
	"all-scroll": true, "col-resize": true, "context-menu": true,
	"crosshair": true, "e-resize": true, "ew-resize": true, "help": true,
	"n-resize": true, "ne-resize": true, "nesw-resize": true,
	"ns-resize": true, "nw-resize": true, "nwse-resize": true,
	"row-resize": true, "s-resize": true, "se-resize": true,
	"sw-resize": true, "vertical-text": true, "w-resize": true,
	"zoom-in": true, "zoom-out": true,
}

var nonInteractiveCursors = map[string]bool{
	"not-allowed": true, "no-drop": true, "wait": true,
	"progress": true, "initial": true, "inherit": true,
}

// checkableInputTypes are input types carrying a boolean state.
var checkableInputTypes = map[string]bool{
	"checkbox": true,
	"radio":    true,
}

// Classify decides whether a raw node is interactive and, if so, which
// element variant it becomes. Returns ok=false for nodes that are simply
// not interactive; an error only for malformed descriptors. The returned
// Element still carries frame-local bounds and no index; the snapshot
// engine fills those in.
func Classify(n NodeDescriptor) (Element, bool, error) {
	if n.Bounds.Width < 0 || n.Bounds.Height < 0 {
		return Element{}, false, fmt.Errorf("node %d: negative bounds %+v", n.NodeIndex, n.Bounds)
	}
	name := strings.ToLower(n.Name)
	if name == "html" || name == "body" {
		return Element{}, false, nil
	}
	if n.Bounds.Empty() {
		return Element{}, false, nil
	}
	if n.Style("display") == "none" || n.Style("visibility") == "hidden" {
		return Element{}, false, nil
	}
	if isDisabled(n) {
		return Element{}, false, nil
	}
	if !isInteractive(n) {
		return Element{}, false, nil
	}

	role := n.Attr("role")
	if role == "" {
		role = n.Attr("aria-role")
	}
	el := Element{
		Kind:          KindGeneric,
		Tag:           strings.ToUpper(name),
		Role:          role,
		Label:         n.TextContent,
		Bounds:        n.Bounds,
		BackendNodeID: n.BackendNodeID,
	}
	if el.Label == "" {
		el.Label = n.Attr("aria-label")
	}

	inputType := strings.ToLower(n.Attr("type"))
	switch {
	case name == "input" && checkableInputTypes[inputType],
		role == "checkbox", role == "radio", role == "switch":
		el.Kind = KindCheckableInput
		el.Checked = n.InputChecked
		el.Value = n.InputValue
		if el.Value == "" {
			// Unvalued checkboxes submit "on".
			el.Value = "on"
		}
	case name == "select", role == "combobox" && name != "input", role == "listbox":
		el.Kind = KindSelectInput
		el.Options = n.Options
		el.MultiSelect = n.HasAttr("multiple")
		for _, o := range n.Options {
			if o.Selected {
				el.SelectedValue = o.Value
				break
			}
		}
	case name == "input", name == "textarea",
		n.HasAttr("contenteditable") && n.Attr("contenteditable") != "false",
		role == "textbox", role == "searchbox":
		el.Kind = KindTextInput
		el.Text = n.InputValue
	}
	return el, true, nil
}

func isInteractive(n NodeDescriptor) bool {
	name := strings.ToLower(n.Name)
	if n.IsClickable || interactableTags[name] {
		return true
	}
	if interactiveRoles[n.Attr("role")] || interactiveRoles[n.Attr("aria-role")] {
		return true
	}
	return hasDirectPointerStyle(n)
}

func isDisabled(n NodeDescriptor) bool {
	return n.HasAttr("disabled") ||
		n.Attr("aria-disabled") == "true" ||
		nonInteractiveCursors[n.Style("cursor")]
}

// hasDirectPointerStyle reports whether the node itself is styled with an
// interactive cursor. A cursor inherited from an already-interactive
// parent does not count; otherwise every descendant of a link would tag.
func hasDirectPointerStyle(n NodeDescriptor) bool {
	if !interactiveCursors[n.Style("cursor")] {
		return false
	}
	if interactiveCursors[n.ParentCursor] {
		return false
	}
	return true
}

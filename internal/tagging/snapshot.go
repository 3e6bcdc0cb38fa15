package tagging

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/chromedp/cdproto/cdp"
)

// QueriedStyles are the computed styles requested with every
// DOMSnapshot.captureSnapshot call. Classification and frame geometry
// read only these.
var QueriedStyles = []string{
	"display", "visibility", "cursor", "opacity", "pointer-events",
	"border-left-width", "border-top-width",
	"border-right-width", "border-bottom-width",
	"padding-left", "padding-top", "padding-right", "padding-bottom",
}

const (
	elementNode = 1
	textNode    = 3

	// maxLabelChars caps the descendant-text excerpt per element.
	maxLabelChars = 100
)

// Snapshot mirrors the DOMSnapshot.captureSnapshot result. Most node
// fields are indexes into the shared string table; rare data arrays are
// sparse parallel columns.
type Snapshot struct {
	Documents []DocumentSnapshot `json:"documents"`
	Strings   []string           `json:"strings"`
}

// DocumentSnapshot is one document (the main frame or an iframe).
type DocumentSnapshot struct {
	FrameID       int              `json:"frameId"`
	Nodes         NodeTreeSnapshot `json:"nodes"`
	Layout        LayoutSnapshot   `json:"layout"`
	ScrollOffsetX float64          `json:"scrollOffsetX"`
	ScrollOffsetY float64          `json:"scrollOffsetY"`
	ContentWidth  float64          `json:"contentWidth"`
	ContentHeight float64          `json:"contentHeight"`
}

// NodeTreeSnapshot holds the flattened DOM in parallel arrays.
type NodeTreeSnapshot struct {
	ParentIndex          []int               `json:"parentIndex"`
	NodeType             []int               `json:"nodeType"`
	NodeName             []int               `json:"nodeName"`
	NodeValue            []int               `json:"nodeValue"`
	BackendNodeID        []cdp.BackendNodeID `json:"backendNodeId"`
	Attributes           [][]int             `json:"attributes"`
	InputValue           RareStringData      `json:"inputValue"`
	InputChecked         RareBooleanData     `json:"inputChecked"`
	OptionSelected       RareBooleanData     `json:"optionSelected"`
	ContentDocumentIndex RareIntegerData     `json:"contentDocumentIndex"`
	IsClickable          RareBooleanData     `json:"isClickable"`
}

// LayoutSnapshot holds layout data for the subset of nodes that render.
type LayoutSnapshot struct {
	NodeIndex []int       `json:"nodeIndex"`
	Styles    [][]int     `json:"styles"`
	Bounds    [][]float64 `json:"bounds"`
}

type RareStringData struct {
	Index []int `json:"index"`
	Value []int `json:"value"`
}

type RareBooleanData struct {
	Index []int `json:"index"`
}

type RareIntegerData struct {
	Index []int `json:"index"`
	Value []int `json:"value"`
}

// BuildFrameTree lifts a raw snapshot into the frame hierarchy used by
// classification and coordinate transforms. The first document is the
// root frame; iframes link to their owning node through the snapshot's
// contentDocumentIndex column. An iframe with no layout entry keeps a
// zero clip, which hides its whole subtree.
func BuildFrameTree(snap *Snapshot, viewport Rect) (*FrameTree, error) {
	if snap == nil || len(snap.Documents) == 0 {
		return nil, fmt.Errorf("snapshot has no documents")
	}
	str := func(i int) string {
		if i < 0 || i >= len(snap.Strings) {
			return ""
		}
		return snap.Strings[i]
	}
	frames := make([]*Frame, len(snap.Documents))
	for i := range snap.Documents {
		doc := &snap.Documents[i]
		frames[i] = &Frame{
			ID:     str(doc.FrameID),
			Scroll: Point{X: doc.ScrollOffsetX, Y: doc.ScrollOffsetY},
			Nodes:  liftNodes(doc, str),
		}
	}
	frames[0].Clip = Rect{Width: viewport.Width, Height: viewport.Height}

	for i := range snap.Documents {
		doc := &snap.Documents[i]
		cdi := doc.Nodes.ContentDocumentIndex
		for k, nodeIdx := range cdi.Index {
			if k >= len(cdi.Value) {
				break
			}
			childIdx := cdi.Value[k]
			if childIdx <= 0 || childIdx >= len(frames) {
				continue
			}
			attachChildFrame(frames[i], frames[childIdx], doc, nodeIdx, str)
		}
	}
	return &FrameTree{
		Root:     frames[0],
		Viewport: Rect{Width: viewport.Width, Height: viewport.Height},
	}, nil
}

// attachChildFrame links an iframe's document under its parent and
// derives the child's offset and clip from the iframe node's content
// box: layout bounds inset by border and padding widths.
func attachChildFrame(parent, child *Frame, doc *DocumentSnapshot, nodeIdx int, str func(int) string) {
	parent.Children = append(parent.Children, child)
	li := layoutIndexOf(doc, nodeIdx)
	if li < 0 {
		return
	}
	box := boundsAt(doc, li)
	styles := stylesAt(doc, li, str)
	px := func(name string) float64 {
		f, err := strconv.ParseFloat(strings.TrimSuffix(styles[name], "px"), 64)
		if err != nil {
			return 0
		}
		return f
	}
	left := px("border-left-width") + px("padding-left")
	top := px("border-top-width") + px("padding-top")
	right := px("border-right-width") + px("padding-right")
	bottom := px("border-bottom-width") + px("padding-bottom")
	child.Offset = Point{X: box.X + left, Y: box.Y + top}
	child.Clip = Rect{Width: box.Width - left - right, Height: box.Height - top - bottom}
}

// liftNodes produces one NodeDescriptor per rendered element node, in
// layout (paint) order. Nodes without layout entries never render and
// are skipped entirely.
func liftNodes(doc *DocumentSnapshot, str func(int) string) []NodeDescriptor {
	nodes := &doc.Nodes

	layoutOf := make(map[int]int, len(doc.Layout.NodeIndex))
	for li, ni := range doc.Layout.NodeIndex {
		if _, ok := layoutOf[ni]; !ok {
			layoutOf[ni] = li
		}
	}
	children := make(map[int][]int, len(nodes.ParentIndex))
	for i, p := range nodes.ParentIndex {
		if p >= 0 {
			children[p] = append(children[p], i)
		}
	}
	inputValue := rareStrings(nodes.InputValue, str)
	checked := rareBools(nodes.InputChecked)
	selected := rareBools(nodes.OptionSelected)
	clickable := rareBools(nodes.IsClickable)

	stylesForNode := func(ni int) map[string]string {
		li, ok := layoutOf[ni]
		if !ok {
			return nil
		}
		return stylesAt(doc, li, str)
	}

	var out []NodeDescriptor
	for li, ni := range doc.Layout.NodeIndex {
		if ni < 0 || ni >= len(nodes.NodeType) || nodes.NodeType[ni] != elementNode {
			continue
		}
		if layoutOf[ni] != li {
			continue
		}
		name := strings.ToLower(str(nodes.NodeName[ni]))
		d := NodeDescriptor{
			NodeIndex:    ni,
			Name:         name,
			Attributes:   attrsAt(nodes, ni, str),
			Styles:       stylesAt(doc, li, str),
			Bounds:       boundsAt(doc, li),
			IsClickable:  clickable[ni],
			InputValue:   inputValue[ni],
			InputChecked: checked[ni],
			TextContent:  descendantText(nodes, children, ni, str),
		}
		if ni < len(nodes.BackendNodeID) {
			d.BackendNodeID = nodes.BackendNodeID[ni]
		}
		if p := nodes.ParentIndex[ni]; p >= 0 {
			d.ParentCursor = stylesForNode(p)["cursor"]
		}
		if name == "select" {
			d.Options = collectOptions(nodes, children, ni, str, selected)
		}
		out = append(out, d)
	}
	return out
}

func layoutIndexOf(doc *DocumentSnapshot, nodeIdx int) int {
	for li, ni := range doc.Layout.NodeIndex {
		if ni == nodeIdx {
			return li
		}
	}
	return -1
}

func boundsAt(doc *DocumentSnapshot, li int) Rect {
	if li >= len(doc.Layout.Bounds) {
		return Rect{}
	}
	b := doc.Layout.Bounds[li]
	if len(b) < 4 {
		return Rect{}
	}
	return Rect{X: b[0], Y: b[1], Width: b[2], Height: b[3]}
}

func stylesAt(doc *DocumentSnapshot, li int, str func(int) string) map[string]string {
	if li >= len(doc.Layout.Styles) {
		return nil
	}
	row := doc.Layout.Styles[li]
	styles := make(map[string]string, len(row))
	for i, v := range row {
		if i >= len(QueriedStyles) {
			break
		}
		styles[QueriedStyles[i]] = str(v)
	}
	return styles
}

func attrsAt(nodes *NodeTreeSnapshot, ni int, str func(int) string) map[string]string {
	if ni >= len(nodes.Attributes) {
		return nil
	}
	pairs := nodes.Attributes[ni]
	attrs := make(map[string]string, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		attrs[strings.ToLower(str(pairs[i]))] = str(pairs[i+1])
	}
	return attrs
}

func rareStrings(d RareStringData, str func(int) string) map[int]string {
	m := make(map[int]string, len(d.Index))
	for i, ni := range d.Index {
		if i < len(d.Value) {
			m[ni] = str(d.Value[i])
		}
	}
	return m
}

func rareBools(d RareBooleanData) map[int]bool {
	m := make(map[int]bool, len(d.Index))
	for _, ni := range d.Index {
		m[ni] = true
	}
	return m
}

// descendantText gathers the whitespace-normalized text content under a
// node, capped at maxLabelChars.
func descendantText(nodes *NodeTreeSnapshot, children map[int][]int, root int, str func(int) string) string {
	var parts []string
	total := 0
	var walk func(ni int)
	walk = func(ni int) {
		if total >= maxLabelChars {
			return
		}
		if ni < len(nodes.NodeType) && nodes.NodeType[ni] == textNode {
			if t := strings.Join(strings.Fields(str(nodes.NodeValue[ni])), " "); t != "" {
				parts = append(parts, t)
				total += len(t) + 1
			}
			return
		}
		for _, c := range children[ni] {
			walk(c)
		}
	}
	for _, c := range children[root] {
		walk(c)
	}
	text := strings.Join(parts, " ")
	if len(text) > maxLabelChars {
		// Cut on a rune boundary so truncation never yields invalid UTF-8.
		cut := maxLabelChars
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	return text
}

// collectOptions finds OPTION descendants of a select node. An option's
// value falls back to its display text when the value attribute is
// absent.
func collectOptions(nodes *NodeTreeSnapshot, children map[int][]int, root int, str func(int) string, selected map[int]bool) []OptionInfo {
	var opts []OptionInfo
	var walk func(ni int)
	walk = func(ni int) {
		if ni < len(nodes.NodeType) && nodes.NodeType[ni] == elementNode &&
			strings.EqualFold(str(nodes.NodeName[ni]), "option") {
			attrs := attrsAt(nodes, ni, str)
			text := descendantText(nodes, children, ni, str)
			value := attrs["value"]
			if value == "" {
				value = text
			}
			_, hasSelectedAttr := attrs["selected"]
			opts = append(opts, OptionInfo{
				Text:     text,
				Value:    value,
				Selected: selected[ni] || hasSelectedAttr,
			})
			return
		}
		for _, c := range children[ni] {
			walk(c)
		}
	}
	for _, c := range children[root] {
		walk(c)
	}
	return opts
}

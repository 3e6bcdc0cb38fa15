// Package tagging discovers the interactive elements of a page snapshot,
// assigns them pass-local indices, and renders a numbered overlay onto
// the page screenshot. It is protocol-agnostic: captures arrive through
// the Capturer interface and all geometry is resolved from snapshot data
// alone.
package tagging

import (
	"context"
	"image"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Capturer supplies the raw materials for one tagging pass. Both capture
// calls are read-only and may be invoked concurrently.
type Capturer interface {
	CaptureDOMSnapshot(ctx context.Context) (*FrameTree, error)
	CaptureScreenshot(ctx context.Context) (image.Image, error)
	PageInfo(ctx context.Context) (PageSummary, error)
}

// Engine runs tagging passes: capture, classify, transform, annotate.
type Engine struct {
	log *slog.Logger
}

func NewEngine(log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{log: log.With("component", "tagging")}
}

// Run performs one pass against the given page. The DOM snapshot and
// screenshot are captured concurrently so they describe (nearly) the
// same instant. A node that fails classification is logged and skipped;
// the pass only fails when a capture itself fails.
func (e *Engine) Run(ctx context.Context, src Capturer) (*TaggedResult, error) {
	var (
		tree *FrameTree
		shot image.Image
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		tree, err = src.CaptureDOMSnapshot(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		shot, err = src.CaptureScreenshot(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	info, err := src.PageInfo(ctx)
	if err != nil {
		return nil, err
	}

	elements := e.collect(tree)
	annotated, err := RenderOverlay(shot, elements)
	if err != nil {
		return nil, err
	}

	e.log.Debug("tagging pass complete", "url", info.URL, "elements", len(elements))
	return &TaggedResult{Page: info, Elements: elements, Image: annotated}, nil
}

// collect walks the frame tree depth-first from the root, classifies
// each rendered node, and maps surviving bounds into viewport
// coordinates. Indices are assigned in visit order and are therefore
// unique within the pass.
func (e *Engine) collect(tree *FrameTree) []Element {
	var out []Element
	next := 0

	var walk func(f *Frame, outer []*Frame)
	walk = func(f *Frame, outer []*Frame) {
		chain := append([]*Frame{f}, outer...)
		for _, n := range f.Nodes {
			el, ok, err := Classify(n)
			if err != nil {
				e.log.Warn("skipping unclassifiable node",
					"frame", f.ID, "node", n.NodeIndex, "error", err)
				continue
			}
			if !ok {
				continue
			}
			bounds, visible := TransformChain(n.Bounds, chain)
			if !visible {
				continue
			}
			el.Index = next
			el.FrameID = f.ID
			el.Bounds = bounds
			next++
			out = append(out, el)
		}
		for _, child := range f.Children {
			walk(child, chain)
		}
	}
	walk(tree.Root, nil)
	return out
}

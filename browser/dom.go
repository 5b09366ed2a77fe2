package browser

import (
	"context"
	"fmt"
	"math"

	"adscan-pipeline/detector"
	"adscan-pipeline/models"

	"github.com/apex/log"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/css"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// AdElements returns the nodes matching selector in document order, with
// their border box and computed style. Nodes without a layout box are not
// rendered and are skipped.
func (s *Session) AdElements(ctx context.Context, selector string) ([]detector.Element, error) {
	var elements []detector.Element
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var nodes []*cdp.Node
		if err := chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0)).Do(ctx); err != nil {
			return fmt.Errorf("query %q: %w", selector, err)
		}

		for _, n := range nodes {
			box, err := dom.GetBoxModel().WithNodeID(n.NodeID).Do(ctx)
			if err != nil {
				log.WithField("node", n.NodeID).Debugf("No box model, skipping: %v", err)
				continue
			}

			var style []*css.ComputedStyleProperty
			if err := chromedp.ComputedStyle([]cdp.NodeID{n.NodeID}, &style, chromedp.ByNodeID).Do(ctx); err != nil {
				log.WithField("node", n.NodeID).Debugf("No computed style, skipping: %v", err)
				continue
			}

			elements = append(elements, elementFromLayout(int64(n.NodeID), box.Border, style))
		}
		return nil
	}))
	if err != nil {
		return nil, err
	}
	return elements, nil
}

// CaptureRegion takes a PNG screenshot clipped to g. Regions below the
// fold are captured without scrolling.
func (s *Session) CaptureRegion(ctx context.Context, g models.Geometry) ([]byte, error) {
	var buf []byte
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormatPng).
			WithClip(&page.Viewport{X: g.X, Y: g.Y, Width: g.Width, Height: g.Height, Scale: 1}).
			WithCaptureBeyondViewport(true).
			Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to capture region: %w", err)
	}
	return buf, nil
}

// elementFromLayout turns a border quad and computed style into an Element.
// The quad lists four corners as x1,y1,...,x4,y4 in CSS pixels.
func elementFromLayout(nodeID int64, quad dom.Quad, style []*css.ComputedStyleProperty) detector.Element {
	el := detector.Element{NodeID: nodeID}
	if len(quad) >= 8 {
		minX, minY := math.Inf(1), math.Inf(1)
		maxX, maxY := math.Inf(-1), math.Inf(-1)
		for i := 0; i+1 < len(quad); i += 2 {
			minX = math.Min(minX, quad[i])
			maxX = math.Max(maxX, quad[i])
			minY = math.Min(minY, quad[i+1])
			maxY = math.Max(maxY, quad[i+1])
		}
		el.Box = models.Geometry{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
	}
	for _, p := range style {
		if p == nil {
			continue
		}
		switch p.Name {
		case "display":
			el.Display = p.Value
		case "visibility":
			el.Visibility = p.Value
		case "opacity":
			el.Opacity = p.Value
		}
	}
	return el
}

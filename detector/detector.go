package detector

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"adscan-pipeline/models"

	"github.com/apex/log"
)

// DefaultMaxSlots is how many candidates are kept per page. Each one costs
// an inference call.
const DefaultMaxSlots = 3

// Fingerprints are the structural markers of known ad containers. This is an
// allow-list; misses are expected.
var Fingerprints = []string{
	`iframe[id*="google_ads"]`,
	`div[id*="google_ads"]`,
	`div[id*="gpt-ad"]`,
	`div[class*="ad-container"]`,
	`div[class*="ad_slot"]`,
	`div[id*="block-block-ad"]`,
	`ins.adsbygoogle`,
}

// Selector joins the fingerprints into a single CSS selector list, so the
// matches come back in document order.
func Selector() string {
	return strings.Join(Fingerprints, ", ")
}

// Element is a matched DOM node with its rendered box and computed style.
type Element struct {
	NodeID     int64
	Box        models.Geometry
	Display    string
	Visibility string
	Opacity    string
}

// Rendered reports whether the computed style makes the element visible.
func (e Element) Rendered() bool {
	if strings.EqualFold(strings.TrimSpace(e.Display), "none") {
		return false
	}
	if strings.EqualFold(strings.TrimSpace(e.Visibility), "hidden") {
		return false
	}
	if op := strings.TrimSpace(e.Opacity); op != "" {
		if v, err := strconv.ParseFloat(op, 64); err == nil && v == 0 {
			return false
		}
	}
	return true
}

// ElementSource gives read access to the live page layout.
type ElementSource interface {
	// AdElements returns the elements matching selector in document order.
	// Elements that have no layout box are left out.
	AdElements(ctx context.Context, selector string) ([]Element, error)
	// ViewportHeight is the height of the layout viewport in CSS pixels.
	ViewportHeight() float64
}

// Detector finds ad slot candidates on a loaded page.
type Detector struct {
	selector string
	maxSlots int
}

// New creates a detector keeping at most maxSlots candidates.
func New(maxSlots int) *Detector {
	if maxSlots <= 0 {
		maxSlots = DefaultMaxSlots
	}
	return &Detector{
		selector: Selector(),
		maxSlots: maxSlots,
	}
}

// MaxSlots returns the candidate cap.
func (d *Detector) MaxSlots() int {
	return d.maxSlots
}

// Detect queries the page and returns the visible candidates in document
// order, deduplicated and truncated to the cap. Calling it again re-reads
// the live DOM.
func (d *Detector) Detect(ctx context.Context, src ElementSource) ([]models.AdSlotCandidate, error) {
	elements, err := src.AdElements(ctx, d.selector)
	if err != nil {
		return nil, fmt.Errorf("failed to query ad elements: %w", err)
	}
	viewportHeight := src.ViewportHeight()

	candidates := make([]models.AdSlotCandidate, 0, d.maxSlots)
	seenNodes := make(map[int64]bool, len(elements))
	seenBoxes := make(map[models.Geometry]bool, len(elements))

	for _, el := range elements {
		if len(candidates) >= d.maxSlots {
			break
		}
		if seenNodes[el.NodeID] {
			continue
		}
		seenNodes[el.NodeID] = true

		// The filter applies to the reported, rounded size.
		box := el.Box
		rounded := box.Rounded()
		if !LargeEnough(rounded.Width, rounded.Height) || !el.Rendered() {
			continue
		}

		// Nested matches (a gpt-ad div wrapping a google_ads iframe) often
		// share the exact same box.
		if seenBoxes[rounded] {
			log.WithFields(log.Fields{"node": el.NodeID}).Debug("Skipping element with duplicate geometry")
			continue
		}
		seenBoxes[rounded] = true

		candidates = append(candidates, models.AdSlotCandidate{
			Geometry:     rounded,
			VisibilityOK: true,
			Location:     ClassifyLocation(box.Y, box.CenterY(), viewportHeight),
			AdType:       ClassifyAdType(box.Width, box.Height),
		})
	}

	log.Infof("Detected %d ad slot candidates out of %d matched elements", len(candidates), len(elements))
	return candidates, nil
}

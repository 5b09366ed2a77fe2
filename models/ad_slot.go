package models

import (
	"math"
	"time"

	"github.com/golang/geo/r1"
	"github.com/golang/geo/r2"
)

// Location is the fold position of an ad slot on the page.
type Location string

const (
	LocationHeaderTop    Location = "Header/Top"
	LocationUpperFold    Location = "Upper Fold"
	LocationSidebar      Location = "Sidebar/Body"
	LocationFooterBottom Location = "Footer/Bottom"
	LocationUnknown      Location = "Unknown"
)

// AdType is the IAB-like format class of an ad slot.
type AdType string

const (
	AdTypeLeaderboard     AdType = "Leaderboard"
	AdTypeSkyscraper      AdType = "Skyscraper"
	AdTypeMediumRectangle AdType = "Medium Rectangle"
	AdTypeLargeRectangle  AdType = "Large Rectangle"
	AdTypeDisplayAd       AdType = "Display Ad"
)

// Labels the classifier uses when it can't produce a real brand or product.
const (
	LabelUnknown        = "Unknown"
	LabelNotAnAd        = "Not an Ad"
	LabelAnalysisFailed = "Analysis Failed"
)

// IsSentinelLabel reports whether label is one of the failure-state labels.
func IsSentinelLabel(label string) bool {
	switch label {
	case LabelUnknown, LabelNotAnAd, LabelAnalysisFailed:
		return true
	}
	return false
}

// Geometry is a rectangle in page coordinates, in CSS pixels.
type Geometry struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Rect returns the geometry as an r2.Rect.
func (g Geometry) Rect() r2.Rect {
	return r2.Rect{
		X: r1.Interval{Lo: g.X, Hi: g.X + g.Width},
		Y: r1.Interval{Lo: g.Y, Hi: g.Y + g.Height},
	}
}

// CenterY returns the vertical center of the geometry.
func (g Geometry) CenterY() float64 {
	return g.Rect().Center().Y
}

// AspectRatio returns width/height, or 0 for a degenerate box.
func (g Geometry) AspectRatio() float64 {
	if g.Height <= 0 {
		return 0
	}
	return g.Width / g.Height
}

// Rounded returns the geometry with width and height rounded to whole pixels.
func (g Geometry) Rounded() Geometry {
	return Geometry{
		X:      g.X,
		Y:      g.Y,
		Width:  math.Round(g.Width),
		Height: math.Round(g.Height),
	}
}

// AdSlotCandidate is a visible ad container found on the page.
type AdSlotCandidate struct {
	Geometry
	VisibilityOK bool     `json:"visible"`
	Location     Location `json:"location"`
	AdType       AdType   `json:"type"`
}

// ClassifiedAdSlot is a candidate with its brand and product labels.
type ClassifiedAdSlot struct {
	AdSlotCandidate
	Brand     string `json:"brand"`
	Product   string `json:"product"`
	SourceURL string `json:"sourceUrl"`
}

// NewClassifiedAdSlot builds the record for a candidate.
func NewClassifiedAdSlot(c AdSlotCandidate, brand, product, sourceURL string) ClassifiedAdSlot {
	return ClassifiedAdSlot{
		AdSlotCandidate: c,
		Brand:           brand,
		Product:         product,
		SourceURL:       sourceURL,
	}
}

// ScanResult is the ordered list of classified slots for one page, in detection order.
type ScanResult []ClassifiedAdSlot

// ScanReport is what gets handed to the reporting sinks after a scan.
type ScanReport struct {
	SourceURL string     `json:"source_url"`
	ScannedAt time.Time  `json:"scanned_at"`
	Ads       ScanResult `json:"ads"`
}

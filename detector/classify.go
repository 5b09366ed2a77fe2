package detector

import (
	"math"

	"adscan-pipeline/models"
)

const (
	// Boxes at or below these dimensions are too small to be ad creatives.
	minWidth  = 90.0
	minHeight = 40.0

	headerBand       = 150.0
	upperFoldRatio   = 0.4
	lowerFoldRatio   = 0.6
	leaderboardRatio = 3.0
	skyscraperRatio  = 0.4

	mediumRectWidth     = 300.0
	mediumRectHeight    = 250.0
	mediumRectTolerance = 50.0
	largeRectMinWidth   = 300.0
	largeRectMinHeight  = 200.0
)

// LargeEnough reports whether a box passes the minimum size filter.
func LargeEnough(width, height float64) bool {
	return width > minWidth && height > minHeight
}

// ClassifyLocation maps the vertical position of a box to a fold position.
func ClassifyLocation(top, centerY, viewportHeight float64) models.Location {
	if viewportHeight <= 0 {
		return models.LocationUnknown
	}
	switch {
	case top < headerBand:
		return models.LocationHeaderTop
	case centerY < viewportHeight*upperFoldRatio:
		return models.LocationUpperFold
	case centerY > viewportHeight*lowerFoldRatio:
		return models.LocationFooterBottom
	default:
		return models.LocationSidebar
	}
}

// ClassifyAdType maps box dimensions to an ad format. The checks run in
// precedence order, so a wide and large box is a Leaderboard, not a
// Large Rectangle.
func ClassifyAdType(width, height float64) models.AdType {
	if height <= 0 {
		return models.AdTypeDisplayAd
	}
	ratio := models.Geometry{Width: width, Height: height}.AspectRatio()
	switch {
	case ratio > leaderboardRatio:
		return models.AdTypeLeaderboard
	case ratio < skyscraperRatio:
		return models.AdTypeSkyscraper
	case math.Abs(width-mediumRectWidth) < mediumRectTolerance &&
		math.Abs(height-mediumRectHeight) < mediumRectTolerance:
		return models.AdTypeMediumRectangle
	case width > largeRectMinWidth && height > largeRectMinHeight:
		return models.AdTypeLargeRectangle
	default:
		return models.AdTypeDisplayAd
	}
}

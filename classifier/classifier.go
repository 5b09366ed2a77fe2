package classifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"adscan-pipeline/image"
	"adscan-pipeline/llm"
	"adscan-pipeline/metrics"
	"adscan-pipeline/models"
	"adscan-pipeline/parser"
	"adscan-pipeline/services"

	"github.com/apex/log"
)

// Capturer renders a region of the loaded page as PNG bytes.
type Capturer interface {
	CaptureRegion(ctx context.Context, g models.Geometry) ([]byte, error)
}

// OutcomeKind tags how a classification attempt ended.
type OutcomeKind int

const (
	OutcomeClassified OutcomeKind = iota
	// OutcomeUnparsable means the model answered but not with usable JSON.
	OutcomeUnparsable
	// OutcomeServiceFailed covers capture errors, model errors and deadline overruns.
	OutcomeServiceFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeClassified:
		return "classified"
	case OutcomeUnparsable:
		return "unparsable"
	case OutcomeServiceFailed:
		return "service_failed"
	default:
		return "unknown"
	}
}

// Outcome is the result of classifying one slot. Slot is always populated,
// with sentinel labels when Kind is not OutcomeClassified.
type Outcome struct {
	Kind OutcomeKind
	Slot models.ClassifiedAdSlot
	Err  error
}

// Prompt returns the instruction sent alongside each slot capture.
func Prompt(sourceURL string) string {
	return fmt.Sprintf(`Analyze this image which is a visual advertisement captured from %s.
Identify:
1. Brand Name (e.g. Nike, Coca-Cola).
2. Product Name/Description.
If the image is empty, a solid color, or an ad placeholder with no creative, use "%s" for both fields.
Return JSON only: { "brand": "string", "product": "string" }`, sourceURL, models.LabelNotAnAd)
}

// Classifier labels captured ad slots with a brand and product using a vision model.
type Classifier struct {
	client       llm.Client
	brands       *services.BrandService
	maxDimension int
}

// New creates a classifier. A non-positive maxDimension uses image.DefaultMaxDimension.
func New(client llm.Client, brands *services.BrandService, maxDimension int) *Classifier {
	if maxDimension <= 0 {
		maxDimension = image.DefaultMaxDimension
	}
	if brands == nil {
		brands = services.NewBrandService()
	}
	return &Classifier{
		client:       client,
		brands:       brands,
		maxDimension: maxDimension,
	}
}

// Classify captures the candidate region and asks the model who is advertising
// in it. It never returns an error; failures are folded into the Outcome.
func (c *Classifier) Classify(ctx context.Context, capturer Capturer, candidate models.AdSlotCandidate, sourceURL string) Outcome {
	logger := log.WithFields(log.Fields{
		"url":  sourceURL,
		"slot": fmt.Sprintf("%.0fx%.0f@%.0f,%.0f", candidate.Width, candidate.Height, candidate.X, candidate.Y),
	})

	out := c.classify(ctx, capturer, candidate, sourceURL)
	metrics.ClassificationsTotal.WithLabelValues(out.Kind.String()).Inc()

	switch out.Kind {
	case OutcomeServiceFailed:
		logger.WithError(out.Err).Warn("ad slot analysis failed")
	case OutcomeUnparsable:
		logger.WithError(out.Err).Warn("could not parse model response")
	default:
		logger.WithField("brand", out.Slot.Brand).Debug("ad slot classified")
	}
	return out
}

func (c *Classifier) classify(ctx context.Context, capturer Capturer, candidate models.AdSlotCandidate, sourceURL string) Outcome {
	failed := func(err error) Outcome {
		return Outcome{
			Kind: OutcomeServiceFailed,
			Slot: models.NewClassifiedAdSlot(candidate, models.LabelAnalysisFailed, models.LabelAnalysisFailed, sourceURL),
			Err:  err,
		}
	}

	shot, err := capturer.CaptureRegion(ctx, candidate.Geometry)
	if err != nil {
		return failed(fmt.Errorf("capture: %w", err))
	}
	if len(shot) == 0 {
		return failed(errors.New("capture: empty screenshot"))
	}

	shot, err = image.DownscalePNG(shot, c.maxDimension)
	if err != nil {
		return failed(fmt.Errorf("downscale: %w", err))
	}

	start := time.Now()
	response, err := c.client.AnalyzeImage(ctx, Prompt(sourceURL), shot, "image/png")
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.InferenceDurationSeconds.WithLabelValues(c.client.SourceName(), result).Observe(time.Since(start).Seconds())
	if err != nil {
		return failed(fmt.Errorf("%s: %w", c.client.SourceName(), err))
	}

	label, err := parser.ParseAdLabel(response)
	if err != nil {
		return Outcome{
			Kind: OutcomeUnparsable,
			Slot: models.NewClassifiedAdSlot(candidate, models.LabelUnknown, models.LabelUnknown, sourceURL),
			Err:  err,
		}
	}

	return Outcome{
		Kind: OutcomeClassified,
		Slot: models.NewClassifiedAdSlot(candidate, c.brands.GetBrandDisplayName(label.Brand), label.Product, sourceURL),
	}
}

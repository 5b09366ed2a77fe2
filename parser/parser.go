package parser

import (
	"encoding/json"
	"errors"
	"strings"

	"adscan-pipeline/models"
)

// ErrUnparsable means the model answered but not with the expected JSON.
var ErrUnparsable = errors.New("unparsable ad label response")

// AdLabel is the brand/product pair returned by the vision model.
type AdLabel struct {
	Brand   string `json:"brand"`
	Product string `json:"product"`
}

// ExtractJSONFromMarkdown extracts JSON from markdown code blocks
func ExtractJSONFromMarkdown(response string) string {
	// Look for JSON code blocks with ``` markers
	const marker = "```"

	startIdx := strings.Index(response, marker)
	if startIdx == -1 {
		// No code block found, try to find JSON object directly
		startIdx = strings.Index(response, "{")
		if startIdx == -1 {
			return response
		}
		endIdx := strings.LastIndex(response, "}")
		if endIdx < startIdx {
			return response
		}
		return strings.TrimSpace(response[startIdx : endIdx+1])
	}

	// Find the end of the first code block
	endIdx := strings.Index(response[startIdx+len(marker):], marker)
	if endIdx == -1 {
		// Unterminated fence, keep everything after the opening marker
		endIdx = len(response) - startIdx - len(marker)
	}
	endIdx += startIdx + len(marker)

	content := response[startIdx+len(marker) : endIdx]

	// Remove the language identifier if present (e.g., "json")
	content = strings.TrimSpace(content)
	if len(content) >= 4 && strings.EqualFold(content[:4], "json") {
		content = content[4:]
	}

	return strings.TrimSpace(content)
}

// ParseAdLabel parses the model response into an AdLabel. Empty fields
// become "Unknown". Any parse failure wraps ErrUnparsable.
func ParseAdLabel(response string) (*AdLabel, error) {
	cleaned := strings.TrimSpace(response)
	if cleaned == "" {
		return nil, ErrUnparsable
	}

	jsonContent := ExtractJSONFromMarkdown(cleaned)

	var label AdLabel
	if err := json.Unmarshal([]byte(jsonContent), &label); err != nil {
		return nil, errors.Join(ErrUnparsable, err)
	}

	label.Brand = strings.TrimSpace(label.Brand)
	label.Product = strings.TrimSpace(label.Product)
	if label.Brand == "" {
		label.Brand = models.LabelUnknown
	}
	if label.Product == "" {
		label.Product = models.LabelUnknown
	}
	return &label, nil
}

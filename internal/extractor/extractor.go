package extractor

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/MentalVibez/fleetdex/internal/models"
)

// ErrUnparseable reports that no telemetry object could be recovered from an
// agent answer.
var ErrUnparseable = errors.New("no telemetry object found in answer")

var fenceOpen = regexp.MustCompile("```(?:json)?\\s*")

// Parse recovers a TelemetryReading from the free-form text an agent run
// returns. Answers arrive as bare JSON, fenced JSON, or JSON embedded in
// prose; anything else fails with ErrUnparseable.
func Parse(answer string) (models.TelemetryReading, error) {
	text := strings.TrimSpace(answer)
	if text == "" {
		return models.TelemetryReading{}, fmt.Errorf("empty answer: %w", ErrUnparseable)
	}

	text = fenceOpen.ReplaceAllString(text, "")
	text = strings.TrimSpace(strings.TrimRight(text, "`"))

	if reading, ok := tryDecode(text); ok {
		return reading, nil
	}

	// A valid non-object top level (array, scalar, null) is a definite
	// failure; the snapshot builder needs named fields.
	if !strings.HasPrefix(text, "{") && json.Valid([]byte(text)) {
		return models.TelemetryReading{}, ErrUnparseable
	}

	// Fall back to the outermost brace pair for prose-wrapped answers.
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		if reading, ok := tryDecode(text[start : end+1]); ok {
			return reading, nil
		}
	}

	return models.TelemetryReading{}, ErrUnparseable
}

func tryDecode(candidate string) (models.TelemetryReading, bool) {
	if !strings.HasPrefix(candidate, "{") {
		return models.TelemetryReading{}, false
	}
	var reading models.TelemetryReading
	if err := json.Unmarshal([]byte(candidate), &reading); err != nil {
		return models.TelemetryReading{}, false
	}
	reading.Raw = json.RawMessage(candidate)
	return reading, true
}

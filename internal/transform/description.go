package transform

import (
	"fmt"
	"strings"

	"github.com/pion/sdp/v3"

	"github.com/bbielsa/rtcsession/internal/domain"
)

// ValidateDescription checks that text parses as a session description with at
// least one media section. It does not modify or normalize the text.
func ValidateDescription(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: empty session description", domain.ErrMalformedMessage)
	}

	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(text)); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrMalformedMessage, err)
	}
	if len(desc.MediaDescriptions) == 0 {
		return fmt.Errorf("%w: session description has no media sections", domain.ErrMalformedMessage)
	}
	return nil
}

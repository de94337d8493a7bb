package services

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// freeTextPolicy strips all markup from customer-supplied free text (cancel
// reasons, return reasons, feedback comments) before it is persisted or
// echoed back in history entries.
var freeTextPolicy = bluemonday.StrictPolicy()

func sanitizeFreeText(value string) string {
	return strings.TrimSpace(freeTextPolicy.Sanitize(value))
}

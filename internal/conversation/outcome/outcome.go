// Package outcome maps the free-form outcome labels written by the AI
// pipeline onto the fixed set of business categories the dashboards use.
package outcome

import "strings"

// Category is the business-meaningful grouping of a conversation outcome.
type Category string

const (
	CategoryBooking       Category = "booking"
	CategoryReschedule    Category = "reschedule"
	CategoryInformational Category = "informational"
	CategoryCancellation  Category = "cancellation"
	CategoryModification  Category = "modification"
	CategoryAIFailure     Category = "ai_failure"
	CategorySpam          Category = "spam"

	// CategoryUnclassified marks labels the mapping does not recognize.
	// Counted separately, never dropped, so data-quality regressions in
	// the labeling pipeline stay visible.
	CategoryUnclassified Category = "unclassified"
)

// Categories lists every category Classify can return.
var Categories = []Category{
	CategoryBooking,
	CategoryReschedule,
	CategoryInformational,
	CategoryCancellation,
	CategoryModification,
	CategoryAIFailure,
	CategorySpam,
	CategoryUnclassified,
}

var labelCategories = map[string]Category{
	"appointment_created":         CategoryBooking,
	"appointment_confirmed":       CategoryBooking,
	"appointment_rescheduled":     CategoryReschedule,
	"info_request_fulfilled":      CategoryInformational,
	"price_inquiry":               CategoryInformational,
	"business_hours_inquiry":      CategoryInformational,
	"location_inquiry":            CategoryInformational,
	"appointment_inquiry":         CategoryInformational,
	"appointment_noshow_followup": CategoryInformational,
	"appointment_cancelled":       CategoryCancellation,
	"appointment_modified":        CategoryModification,
	"booking_abandoned":           CategoryAIFailure,
	"timeout_abandoned":           CategoryAIFailure,
	"conversation_timeout":        CategoryAIFailure,
	"wrong_number":                CategorySpam,
	"spam_detected":               CategorySpam,
}

// Classify maps a raw outcome label to exactly one category. Total:
// any input, including the empty string, yields a category.
func Classify(label string) Category {
	if category, ok := labelCategories[strings.TrimSpace(label)]; ok {
		return category
	}
	return CategoryUnclassified
}

package service

import (
	"math"
	"strings"

	"dispute-assistant/models"
)

// GeneralTemplate is suggested when no category keyword matched
const GeneralTemplate = "general_dispute"

// Template keys per category
const (
	TemplateETSRefund       = "ets_refund_template"
	TemplateEcommerceRefund = "ecommerce_refund_template"
	TemplateFlightClaim     = "flight_claim_template"
	TemplateCreditCard      = "credit_card_dispute_template"
	TemplateShippingClaim   = "shipping_claim_template"
	TemplateRideshare       = "rideshare_dispute_template"
	TemplateServiceClaim    = "service_claim_template"
)

var categoryKeywords = map[models.Category][]string{
	models.CategoryETSRefund: {
		"refund", "test fee", "registration fee", "cancellation", "reschedule",
		"toefl", "ets", "test center", "exam fee", "payment", "reimbursement",
		"registration", "cancel", "postpone", "fee return",
	},
	models.CategoryEcommerceRefund: {
		"amazon", "ebay", "walmart", "best buy", "order", "product",
		"delivery", "item", "purchase", "return", "merchandise",
	},
	models.CategoryFlightClaim: {
		"flight", "airline", "united", "delta", "southwest", "expedia",
		"ticket", "booking", "reservation", "delay", "cancellation", "travel",
	},
	models.CategoryCreditCard: {
		"credit card", "chase", "amex", "wells fargo", "capital one",
		"transaction", "charge", "dispute", "unauthorized", "fraud",
	},
	models.CategoryShippingClaim: {
		"fedex", "usps", "ups", "dhl", "package", "delivery",
		"shipping", "lost", "damaged", "tracking", "parcel",
	},
	models.CategoryRideshare: {
		"uber", "lyft", "turo", "hertz", "ride", "driver",
		"trip", "car", "rental", "service", "pickup",
	},
	models.CategoryServiceClaim: {
		"service", "provider", "appointment", "subscription",
		"membership", "account", "access", "quality", "contract",
	},
}

var categoryTemplates = map[models.Category]string{
	models.CategoryETSRefund:       TemplateETSRefund,
	models.CategoryEcommerceRefund: TemplateEcommerceRefund,
	models.CategoryFlightClaim:     TemplateFlightClaim,
	models.CategoryCreditCard:      TemplateCreditCard,
	models.CategoryShippingClaim:   TemplateShippingClaim,
	models.CategoryRideshare:       TemplateRideshare,
	models.CategoryServiceClaim:    TemplateServiceClaim,
}

// Classify scores text against each category's keyword list. A keyword
// counts once when it occurs anywhere in the lower-cased text, including
// inside a longer word. Ties go to the category listed first in
// models.ScoredCategories.
func Classify(text string) models.CategoryVerdict {
	lower := strings.ToLower(text)

	counts := make(models.MatchCounts, len(models.ScoredCategories))
	for _, category := range models.ScoredCategories {
		n := 0
		for _, keyword := range categoryKeywords[category] {
			if strings.Contains(lower, keyword) {
				n++
			}
		}
		counts[category] = n
	}

	total := counts.Total()
	if total == 0 {
		return models.CategoryVerdict{
			PrimaryCategory:   models.CategoryGeneral,
			Confidence:        0,
			MatchCounts:       counts,
			SuggestedTemplate: GeneralTemplate,
		}
	}

	primary := models.ScoredCategories[0]
	for _, category := range models.ScoredCategories[1:] {
		if counts[category] > counts[primary] {
			primary = category
		}
	}

	tmpl, ok := categoryTemplates[primary]
	if !ok {
		tmpl = GeneralTemplate
	}

	ratio := float64(counts[primary]) / float64(total) * 100
	return models.CategoryVerdict{
		PrimaryCategory:   primary,
		Confidence:        math.Round(ratio*100) / 100,
		MatchCounts:       counts,
		SuggestedTemplate: tmpl,
	}
}

package models

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Category identifies the kind of dispute described by a document
type Category string

const (
	CategoryETSRefund       Category = "ets_refund"
	CategoryEcommerceRefund Category = "ecommerce_refund"
	CategoryFlightClaim     Category = "flight_claim"
	CategoryCreditCard      Category = "credit_card"
	CategoryShippingClaim   Category = "shipping_claim"
	CategoryRideshare       Category = "rideshare"
	CategoryServiceClaim    Category = "service_claim"
	CategoryGeneral         Category = "general"
)

// ScoredCategories lists the categories the classifier scores, in tie-break order.
// CategoryGeneral is never scored; it is the fallback verdict.
var ScoredCategories = []Category{
	CategoryETSRefund,
	CategoryEcommerceRefund,
	CategoryFlightClaim,
	CategoryCreditCard,
	CategoryShippingClaim,
	CategoryRideshare,
	CategoryServiceClaim,
}

// MatchCounts maps each scored category to its keyword match count
type MatchCounts map[Category]int

// Total returns the sum of all counts
func (m MatchCounts) Total() int {
	total := 0
	for _, n := range m {
		total += n
	}
	return total
}

// MarshalJSON writes the counts in ScoredCategories order so snapshots are stable
func (m MatchCounts) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	for _, category := range ScoredCategories {
		n, ok := m[category]
		if !ok {
			continue
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		key, _ := json.Marshal(string(category))
		buf.Write(key)
		buf.WriteByte(':')
		buf.WriteString(strconv.Itoa(n))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// CategoryVerdict is the classifier's decision for one piece of text
type CategoryVerdict struct {
	PrimaryCategory   Category    `json:"primary_category"`
	Confidence        float64     `json:"confidence"`
	MatchCounts       MatchCounts `json:"all_matches"`
	SuggestedTemplate string      `json:"suggested_template"`
}

package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// PersonalRecord holds the identity fields read from the personal image.
// A nil field means the pattern was not found.
type PersonalRecord struct {
	Email     *string `json:"email"`
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	ETSID     *string `json:"ets_id"`
}

// WithFallback fills nil fields from the claimant identity.
// Empty identity values are ignored.
func (p PersonalRecord) WithFallback(id Identity) PersonalRecord {
	pick := func(v *string, fallback string) *string {
		if v != nil || fallback == "" {
			return v
		}
		return &fallback
	}
	return PersonalRecord{
		Email:     pick(p.Email, id.Email),
		FirstName: pick(p.FirstName, id.FirstName),
		LastName:  pick(p.LastName, id.LastName),
		ETSID:     pick(p.ETSID, id.ETSID),
	}
}

// ContactRecord holds the contact fields read from the contact image
type ContactRecord struct {
	ContactEmail *string `json:"contact_email"`
	ContactPhone *string `json:"contact_phone"`
}

// Identity is the claimant's own identity, configured once at process start
type Identity struct {
	FirstName string
	LastName  string
	ETSID     string
	Email     string
}

// CallStatus represents the outcome of an automated call
type CallStatus string

const (
	CallStatusCompleted CallStatus = "completed"
	CallStatusFailed    CallStatus = "failed"
)

// CallTypeAutomatedVoice is the only call type placed by the pipeline
const CallTypeAutomatedVoice = "automated_voice"

// CallHistory records a single call attempt
type CallHistory struct {
	Timestamp time.Time  `json:"timestamp"`
	Status    CallStatus `json:"status"`
	Type      string     `json:"type"`
}

// CallCredentials are the per-session credentials for the outbound call API
type CallCredentials struct {
	AccountSID string `json:"-"`
	AuthToken  string `json:"-"`
	FromNumber string `json:"-"`
	ToNumber   string `json:"-"`
}

// Complete reports whether every credential field is present
func (c CallCredentials) Complete() bool {
	return c.AccountSID != "" && c.AuthToken != "" && c.FromNumber != "" && c.ToNumber != ""
}

// DisputeAnalysis is the classification summary persisted as dispute_info.json
type DisputeAnalysis struct {
	PersonalInfo    PersonalRecord `json:"personal_info"`
	DisputeCategory Category       `json:"dispute_category"`
	Confidence      float64        `json:"confidence"`
	CategoryDetails MatchCounts    `json:"category_details"`
}

// DisputeRecord aggregates everything a run learned. It is assembled once
// and copied, never mutated, when call history is attached.
type DisputeRecord struct {
	Personal    PersonalRecord  `json:"personal"`
	Dispute     DisputeAnalysis `json:"dispute"`
	Contact     *ContactRecord  `json:"contact,omitempty"`
	CallHistory *CallHistory    `json:"call_history,omitempty"`

	Verdict CategoryVerdict `json:"-"`
}

// NewDisputeRecord assembles a record from extraction and classification results
func NewDisputeRecord(personal PersonalRecord, verdict CategoryVerdict, contact *ContactRecord) DisputeRecord {
	return DisputeRecord{
		Personal: personal,
		Dispute: DisputeAnalysis{
			PersonalInfo:    personal,
			DisputeCategory: verdict.PrimaryCategory,
			Confidence:      verdict.Confidence,
			CategoryDetails: verdict.MatchCounts,
		},
		Contact: contact,
		Verdict: verdict,
	}
}

// WithCallHistory returns a copy of the record carrying the call attempt
func (r DisputeRecord) WithCallHistory(h CallHistory) DisputeRecord {
	r.CallHistory = &h
	return r
}

// Value implements driver.Valuer for JSONB
func (r DisputeRecord) Value() (driver.Value, error) {
	return json.Marshal(r)
}

// Scan implements sql.Scanner for JSONB
func (r *DisputeRecord) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for dispute record", value)
	}

	if len(bytes) == 0 {
		return nil
	}

	if err := json.Unmarshal(bytes, r); err != nil {
		return err
	}
	r.Verdict = CategoryVerdict{
		PrimaryCategory: r.Dispute.DisputeCategory,
		Confidence:      r.Dispute.Confidence,
		MatchCounts:     r.Dispute.CategoryDetails,
	}
	return nil
}

package service

import (
	"regexp"

	"dispute-assistant/models"
)

var (
	emailPattern     = regexp.MustCompile(`[\w\.-]+@[\w\.-]+\.\w+`)
	firstNamePattern = regexp.MustCompile(`First\s*/\s*Given\s*Name\s*(\w+)`)
	lastNamePattern  = regexp.MustCompile(`Last\s*/\s*Family\s*Name\s*(\w+)`)
	etsIDPattern     = regexp.MustCompile(`ETS\s*ID:\s*([A-Z0-9]+)`)

	// Tried in order; the first pattern with any match wins.
	contactEmailPatterns = []*regexp.Regexp{
		emailPattern,
		regexp.MustCompile(`Contact:?\s*([\w\.-]+@[\w\.-]+\.\w+)`),
		regexp.MustCompile(`Email:?\s*([\w\.-]+@[\w\.-]+\.\w+)`),
		regexp.MustCompile(`Support:?\s*([\w\.-]+@[\w\.-]+\.\w+)`),
	}
)

// ContactExtractor turns contact image text into a ContactRecord
type ContactExtractor func(text string) models.ContactRecord

// ExtractPersonal pulls identity fields out of OCR text. Fields whose
// pattern does not match are left nil.
func ExtractPersonal(text string) models.PersonalRecord {
	return models.PersonalRecord{
		Email:     firstMatch(emailPattern, text),
		FirstName: firstMatch(firstNamePattern, text),
		LastName:  firstMatch(lastNamePattern, text),
		ETSID:     firstMatch(etsIDPattern, text),
	}
}

// ExtractContact pulls the support email out of OCR text. No phone pattern
// exists, so ContactPhone is always nil.
func ExtractContact(text string) models.ContactRecord {
	var record models.ContactRecord
	for _, pattern := range contactEmailPatterns {
		if email := firstMatch(pattern, text); email != nil {
			record.ContactEmail = email
			break
		}
	}
	return record
}

// firstMatch returns the first capture group, or the whole match when the
// pattern has no groups
func firstMatch(pattern *regexp.Regexp, text string) *string {
	m := pattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	v := m[0]
	if len(m) > 1 {
		v = m[1]
	}
	return &v
}

package service

import (
	"errors"
	"fmt"
	"strings"
	"text/template"

	"dispute-assistant/models"
)

// ErrTemplateNotImplemented is returned for template keys with no renderer
var ErrTemplateNotImplemented = errors.New("template not implemented")

// UnsupportedTemplateError names the template key that has no renderer
type UnsupportedTemplateError struct {
	TemplateKey string
}

func (e *UnsupportedTemplateError) Error() string {
	return fmt.Sprintf("%s: %s", e.TemplateKey, ErrTemplateNotImplemented)
}

func (e *UnsupportedTemplateError) Unwrap() error {
	return ErrTemplateNotImplemented
}

// Rendering is the outcome of rendering a template key. Unsupported is set
// when the key has no renderer; Text is empty in that case.
type Rendering struct {
	TemplateKey string
	Text        string
	Unsupported bool
}

// Err returns an *UnsupportedTemplateError for unsupported renderings
func (r Rendering) Err() error {
	if !r.Unsupported {
		return nil
	}
	return &UnsupportedTemplateError{TemplateKey: r.TemplateKey}
}

// ScriptVerbosity selects between the short call script and the full voice script
type ScriptVerbosity int

const (
	ScriptShort ScriptVerbosity = iota
	ScriptLong
)

const etsLetter = `
Subject: TOEFL Test Fee Refund Request - ETS ID: {{.ETSID}}

Dear ETS Customer Service,

I am writing to request a refund for my TOEFL test registration. Below are my details:

Personal Information:
- Full Name: {{.Name}}
- ETS ID: {{.ETSID}}
- Email Address: {{.Email}}

Reason for Refund Request:
I am requesting a refund for my TOEFL test registration due to [specific reason]. I registered for the test on [test registration date] and paid [amount] USD for the test fee.

Supporting Information:
1. I have not taken the test yet
2. The registration is still within the refund eligibility period
3. I have all necessary documentation to support my refund request

Actions Taken:
1. I have reviewed the ETS refund policy
2. I have gathered all required documentation
3. I am making this request within the specified timeframe

Request:
I kindly request a full refund of my test registration fee to be processed according to ETS refund policies.

Required Documents Attached:
1. Test Registration Confirmation
2. Payment Receipt
3. [Any additional supporting documents]

Please process my refund request and confirm receipt of this email. I can be reached at {{.Email}} for any additional information you may need.

Thank you for your attention to this matter.

Best regards,
{{.Name}}
ETS ID: {{.ETSID}}
`

const etsCallScript = `
Hello, my name is {{.Name}}.
I'm calling about a TOEFL test refund request.
My ETS ID is {{.ETSID}}.
I would like to request a refund for my TOEFL test registration.
`

const etsVoiceScript = `
Hello, my name is {{.Name}}.
I am calling regarding my TOEFL test refund request.
My ETS ID is {{.ETSID}}.

I am calling because I only received a partial refund for my TOEFL test registration.
I kindly request a full refund for the following reasons:

First, I have not taken the test yet.
Second, my registration is still within the refund eligibility period.
Third, I have all the necessary documentation to support my request.

I have already reviewed the ETS refund policy and gathered all required documentation.
I am making this request within the specified timeframe.

I kindly request that you process my full refund according to ETS policies.

Thank you for your attention to my request.
This is {{.Name}} with ETS ID {{.ETSID}}.
    `

var (
	letterTemplates = map[string]*template.Template{
		TemplateETSRefund: template.Must(template.New("ets_letter").Parse(etsLetter)),
	}
	scriptTemplates = map[string]map[ScriptVerbosity]*template.Template{
		TemplateETSRefund: {
			ScriptShort: template.Must(template.New("ets_call").Parse(etsCallScript)),
			ScriptLong:  template.Must(template.New("ets_voice").Parse(etsVoiceScript)),
		},
	}
)

// templateFields are the values interpolated into letters and scripts.
// Missing record fields render as empty strings.
type templateFields struct {
	Name  string
	ETSID string
	Email string
}

func newTemplateFields(rec models.PersonalRecord) templateFields {
	return templateFields{
		Name:  strings.TrimSpace(deref(rec.FirstName) + " " + deref(rec.LastName)),
		ETSID: deref(rec.ETSID),
		Email: deref(rec.Email),
	}
}

// RenderLetter renders the refund request letter for a template key
func RenderLetter(key string, rec models.PersonalRecord) Rendering {
	return render(key, letterTemplates[key], rec)
}

// RenderScript renders the phone script for a template key
func RenderScript(key string, rec models.PersonalRecord, verbosity ScriptVerbosity) Rendering {
	return render(key, scriptTemplates[key][verbosity], rec)
}

func render(key string, tmpl *template.Template, rec models.PersonalRecord) Rendering {
	if tmpl == nil {
		return Rendering{TemplateKey: key, Unsupported: true}
	}
	var sb strings.Builder
	// Fields are plain strings, so execution cannot fail.
	_ = tmpl.Execute(&sb, newTemplateFields(rec))
	return Rendering{TemplateKey: key, Text: sb.String()}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

package service

import "strings"

const (
	sayOpen  = `<Say voice="alice" language="en-US">`
	sayClose = `</Say>`
)

// CallFlowDocument wraps a script in the TwiML played by the call API:
// the script, a two second pause, and a closing goodbye
func CallFlowDocument(script string) string {
	var sb strings.Builder
	sb.WriteString("<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n")
	sb.WriteString("<Response>\n")
	sb.WriteString("    " + sayOpen + "\n")
	sb.WriteString("        " + escapeXML(script) + "\n")
	sb.WriteString("    " + sayClose + "\n")
	sb.WriteString("    <Pause length=\"2\"/>\n")
	sb.WriteString("    " + sayOpen + "\n")
	sb.WriteString("        Thank you for listening. Goodbye.\n")
	sb.WriteString("    " + sayClose + "\n")
	sb.WriteString("</Response>\n")
	return sb.String()
}

// inlineSay is the single-element document sent when only a script is given
func inlineSay(script string) string {
	return "<Response>" + sayOpen + escapeXML(script) + sayClose + "</Response>"
}

// xmlEscaper escapes text content only; quotes and line breaks pass through
var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
)

func escapeXML(s string) string {
	return xmlEscaper.Replace(s)
}

package platform

import (
	"strings"
)

// Change types for semantic change reasons.
const (
	ChangeTypeFeat     = "feat"
	ChangeTypeFix      = "fix"
	ChangeTypeDocs     = "docs"
	ChangeTypeRefactor = "refactor"
	ChangeTypeChore    = "chore"
)

// Footer marks commits written by Placard.
const Footer = "Powered-by: Placard"

// FormatChangeReason builds a Conventional Commit message, passed to versioned
// stores through core.ChangeReasonKey:
//
//	<type>(<scope>): <subject>
//
//	<body>
//
//	Powered-by: Placard
func FormatChangeReason(ctype, scope, subject, body string) string {
	var sb strings.Builder

	if ctype == "" {
		ctype = ChangeTypeChore
	}
	sb.WriteString(ctype)

	if scope != "" {
		sb.WriteString("(")
		sb.WriteString(scope)
		sb.WriteString(")")
	}

	sb.WriteString(": ")
	sb.WriteString(subject)

	if body != "" {
		sb.WriteString("\n\n")
		sb.WriteString(strings.TrimSpace(body))
	}

	sb.WriteString("\n\n")
	sb.WriteString(Footer)

	return sb.String()
}

// AppendFooter appends the footer to a free-form message if not present.
func AppendFooter(msg string) string {
	if strings.Contains(msg, Footer) {
		return msg
	}
	switch {
	case strings.HasSuffix(msg, "\n\n"):
	case strings.HasSuffix(msg, "\n"):
		msg += "\n"
	default:
		msg += "\n\n"
	}
	return msg + Footer
}

package report

import (
	"fmt"
	"strings"
)

// RenderClientReport renders the client-facing lead status report.
func RenderClientReport(in Input) string {
	status, reason := in.LeadStatus()
	if reason == "" {
		reason = "Not provided"
	}
	country := in.Contact.Country
	if country == "" {
		country = "Unknown"
	}

	var sb strings.Builder
	sb.WriteString("# Lead Status Report\n\n")
	fmt.Fprintf(&sb, "Lead Status: %s\n", status)
	fmt.Fprintf(&sb, "Key Reason: %s\n\n", reason)
	fmt.Fprintf(&sb, "Lead Name: %s\n", in.Contact.Name)
	fmt.Fprintf(&sb, "Country: %s\n", country)
	fmt.Fprintf(&sb, "Phone: %s\n", in.Contact.Phone)
	fmt.Fprintf(&sb, "Email: %s\n", in.Contact.Email)
	fmt.Fprintf(&sb, "Date: %s\n", in.ConversationDate())
	return sb.String()
}

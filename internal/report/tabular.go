package report

import (
	"strconv"
	"strings"
	"time"
)

type Field struct {
	Name  string
	Value string
}

// Row is one CSV record with its column names, in column order.
type Row []Field

// Header returns the CSV header line without a line terminator.
func (r Row) Header() string {
	cols := make([]string, len(r))
	for i, f := range r {
		cols[i] = EscapeCSV(f.Name)
	}
	return strings.Join(cols, ",")
}

// Line returns the CSV data line without a line terminator.
func (r Row) Line() string {
	cols := make([]string, len(r))
	for i, f := range r {
		cols[i] = EscapeCSV(f.Value)
	}
	return strings.Join(cols, ",")
}

// EscapeCSV quotes a value containing a comma, quote or line break and
// doubles embedded quotes. Other values are written bare.
func EscapeCSV(v string) string {
	if !strings.ContainsAny(v, ",\"\r\n") {
		return v
	}
	return `"` + strings.ReplaceAll(v, `"`, `""`) + `"`
}

const listSep = "; "

// TeamRow projects a conversation onto the team_reports.csv columns.
func TeamRow(in Input) Row {
	a := in.Analysis
	return Row{
		{"conversationId", in.ConversationID},
		{"date", in.ConversationDate()},
		{"clientName", in.Contact.Name},
		{"email", in.Contact.Email},
		{"phone", in.Contact.Phone},
		{"successStatus", a.SuccessStatus},
		{"isSuccessfulDeal", strconv.FormatBool(a.IsSuccessfulDeal())},
		{"customerSentiment", a.CustomerSentiment},
		{"keyPoints", strings.Join(a.KeyPoints, listSep)},
		{"improvementAreas", strings.Join(a.ImprovementAreas, listSep)},
		{"nextSteps", strings.Join(a.NextSteps, listSep)},
		{"messageCount", strconv.Itoa(in.MessageCount())},
	}
}

// ClientRow projects a conversation onto the client_reports.csv columns.
func ClientRow(in Input) Row {
	status, reason := in.LeadStatus()
	return Row{
		{"conversationId", in.ConversationID},
		{"date", in.ConversationDate()},
		{"clientName", in.Contact.Name},
		{"email", in.Contact.Email},
		{"phone", in.Contact.Phone},
		{"country", in.Contact.Country},
		{"leadStatus", status},
		{"keyReason", reason},
		{"nextSteps", strings.Join(in.Analysis.NextSteps, listSep)},
	}
}

// SummaryRow is one processing_summary.csv record. Failed items carry an
// empty status and the error text.
func SummaryRow(conversationID, clientName, successStatus string, messageCount int, processedAt time.Time, errMsg string) Row {
	return Row{
		{"conversationId", conversationID},
		{"clientName", clientName},
		{"successStatus", successStatus},
		{"messageCount", strconv.Itoa(messageCount)},
		{"processingDate", processedAt.UTC().Format(time.RFC3339)},
		{"error", errMsg},
	}
}

package hermes

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	SubjectReportGenerated     = "verdict.report.generated"
	SubjectBatchCompleted      = "verdict.batch.completed"
	SubjectInstructionsMerged  = "verdict.instructions.merged"
	SubjectConversationClosed  = "crm.conversation.closed"
	SubjectImprovementsPending = "verdict.improvements.pending"
)

// ReportGenerated is emitted once per processed conversation.
type ReportGenerated struct {
	ConversationID   string    `json:"conversation_id"`
	ClientName       string    `json:"client_name"`
	SuccessStatus    string    `json:"success_status"`
	LeadStatus       string    `json:"lead_status,omitempty"`
	IsSuccessfulDeal bool      `json:"is_successful_deal"`
	ReportPaths      []string  `json:"report_paths"`
	Timestamp        time.Time `json:"timestamp"`
}

// BatchCompleted is emitted when a batch run finishes.
type BatchCompleted struct {
	BatchID        string    `json:"batch_id"`
	Total          int       `json:"total"`
	Succeeded      int       `json:"succeeded"`
	Failed         int       `json:"failed"`
	Skipped        int       `json:"skipped"`
	AggregatePaths []string  `json:"aggregate_paths,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// ImprovementsPending is emitted when a proposal awaits approval.
type ImprovementsPending struct {
	Token        string   `json:"token"`
	Improvements []string `json:"improvements"`
	ReportPath   string   `json:"report_path"`
}

// ConversationClosed is the inbound signal that a CRM conversation ended.
type ConversationClosed struct {
	ConversationID string `json:"conversation_id"`
	ContactID      string `json:"contact_id,omitempty"`
}

// ParseConversationClosed decodes an inbound event and requires a conversation id.
func ParseConversationClosed(data []byte) (ConversationClosed, error) {
	var ev ConversationClosed
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("parse conversation closed: %w", err)
	}
	ev.ConversationID = strings.TrimSpace(ev.ConversationID)
	if ev.ConversationID == "" {
		return ev, fmt.Errorf("parse conversation closed: missing conversation_id")
	}
	return ev, nil
}

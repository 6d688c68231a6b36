package analyzer

// Canonical success vocabulary.
const (
	StatusYes     = "yes"
	StatusNo      = "no"
	StatusPartial = "partial"
)

const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
)

// Result is the structured judgment of one conversation.
type Result struct {
	SuccessStatus     string   `json:"successStatus"`
	KeyPoints         []string `json:"keyPoints"`
	CustomerSentiment string   `json:"customerSentiment"`
	ImprovementAreas  []string `json:"improvementAreas"`
	NextSteps         []string `json:"nextSteps"`
}

// IsSuccessfulDeal is true only for a "yes" outcome.
func (r Result) IsSuccessfulDeal() bool {
	return r.SuccessStatus == StatusYes
}

var requiredKeys = []string{"successStatus", "keyPoints", "customerSentiment", "improvementAreas", "nextSteps"}

// Lead statuses, in report order.
const (
	LeadReady    = "Interested - Ready to proceed"
	LeadFollowUp = "Interested - Needs follow-up"
	LeadWarm     = "Warm - Potential but not ready"
	LeadClosed   = "Not interested - Closed"
	LeadUnclear  = "Unclear - Needs more info"
)

var LeadStatuses = []string{LeadReady, LeadFollowUp, LeadWarm, LeadClosed, LeadUnclear}

// LeadAssessment is the client-facing classification of a lead.
type LeadAssessment struct {
	Status    string `json:"status"`
	KeyReason string `json:"keyReason"`
}

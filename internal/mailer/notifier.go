package mailer

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/verdict/internal/approval"
	"github.com/MikeSquared-Agency/verdict/internal/config"
	"github.com/MikeSquared-Agency/verdict/internal/conversation"
)

// excerptLimit bounds the report excerpt quoted in improvement mails.
const excerptLimit = 1500

// Notifier sends the report and approval mails the pipeline produces. Each
// kind is gated by its own toggle; a disabled kind is a silent no-op.
type Notifier struct {
	sender    Sender
	cfg       config.Email
	serverURL string
	logger    *slog.Logger
}

func NewNotifier(sender Sender, cfg config.Email, serverURL string, logger *slog.Logger) *Notifier {
	return &Notifier{
		sender:    sender,
		cfg:       cfg,
		serverURL: strings.TrimRight(serverURL, "/"),
		logger:    logger,
	}
}

// ClientRecipient picks CLIENT_EMAIL when configured, else the contact's
// address when it is a real one. Empty means there is nobody to send to.
func (n *Notifier) ClientRecipient(contact conversation.Contact) string {
	if n.cfg.ClientEmail != "" {
		return n.cfg.ClientEmail
	}
	if contact.HasEmail() {
		return contact.Email
	}
	return ""
}

// ClientReport mails the client-facing lead report as an attachment.
func (n *Notifier) ClientReport(ctx context.Context, conversationID string, contact conversation.Contact, reportPath string) error {
	if !n.cfg.EnableClient {
		return nil
	}
	to := n.ClientRecipient(contact)
	if to == "" {
		n.logger.Warn("no client recipient, skipping client email", "conversation_id", conversationID)
		return nil
	}
	if _, err := os.Stat(reportPath); err != nil {
		return fmt.Errorf("client report: %w", err)
	}

	env := n.envelope(splitAddresses(to))
	env.Subject = fmt.Sprintf("Conversation Summary - %s", time.Now().Format("2006-01-02"))
	env.Text = fmt.Sprintf("Dear Client,\n\nPlease find attached a summary of our recent conversation.\n\nIf you have any questions or need further assistance, please don't hesitate to contact us.\n\nBest regards,\n%s", n.cfg.SenderName)
	env.Attachments = []string{reportPath}

	if err := n.sender.Send(ctx, env); err != nil {
		return err
	}
	n.logger.Info("client email sent", "conversation_id", conversationID, "to", to)
	return nil
}

// TeamReport mails the internal team report as an attachment.
func (n *Notifier) TeamReport(ctx context.Context, conversationID string, contact conversation.Contact, reportPath string) error {
	if !n.cfg.EnableTeam {
		return nil
	}
	to := splitAddresses(n.cfg.TeamEmail)
	if len(to) == 0 {
		n.logger.Warn("TEAM_EMAIL not set, skipping team email", "conversation_id", conversationID)
		return nil
	}
	if _, err := os.Stat(reportPath); err != nil {
		return fmt.Errorf("team report: %w", err)
	}

	env := n.envelope(to)
	env.Subject = fmt.Sprintf("Team Report: Conversation with %s (%s)", contact.Name, conversationID)
	env.Text = fmt.Sprintf("Team,\n\nAttached is the analysis report for conversation %s with %s from %s.\n\nThis is an automated message from the conversation analyzer.", conversationID, contact.Name, contact.Country)
	env.Attachments = []string{reportPath}

	if err := n.sender.Send(ctx, env); err != nil {
		return err
	}
	n.logger.Info("team email sent", "conversation_id", conversationID)
	return nil
}

var improvementTmpl = template.Must(template.New("improvements").Parse(`<h2>Assistant Improvement Suggestions</h2>
<p>Here are the recommended improvements extracted from the latest report:</p>
<ul>{{range .Improvements}}<li>{{.}}</li>{{end}}</ul>
{{if .Excerpt}}<h3>Report Excerpt:</h3>
<pre>{{.Excerpt}}</pre>
{{end}}<p><a href="{{.PreviewURL}}">Preview the merged instructions</a></p>
<p><a href="{{.ApproveURL}}" style="display:inline-block;padding:10px 20px;background:#007bff;color:white;text-decoration:none;border-radius:5px;">Approve and Update Assistant</a></p>
<p><small>This link can only be used once.</small></p>
`))

// ImprovementProposal asks the manager to approve a pending set of improvements.
func (n *Notifier) ImprovementProposal(ctx context.Context, p approval.Pending, reportExcerpt string) error {
	if !n.cfg.EnableImprovements {
		return nil
	}
	to := splitAddresses(n.cfg.ManagerEmail)
	if len(to) == 0 {
		n.logger.Warn("MANAGER_EMAIL not set, skipping improvement email", "token", p.Token)
		return nil
	}

	html, err := n.ImprovementHTML(p, reportExcerpt)
	if err != nil {
		return err
	}
	env := n.envelope(to)
	env.Cc, env.Bcc = nil, nil
	env.Subject = "Assistant Improvement Suggestions"
	env.HTML = html
	env.Text = improvementText(p, n.link("/confirm-improvements", p.Token))

	if err := n.sender.Send(ctx, env); err != nil {
		return err
	}
	n.logger.Info("improvement email sent", "token", p.Token, "count", len(p.Improvements))
	return nil
}

// ImprovementHTML renders the approval mail body.
func (n *Notifier) ImprovementHTML(p approval.Pending, reportExcerpt string) (string, error) {
	if len(reportExcerpt) > excerptLimit {
		reportExcerpt = reportExcerpt[:excerptLimit] + "..."
	}
	var buf bytes.Buffer
	err := improvementTmpl.Execute(&buf, map[string]any{
		"Improvements": p.Improvements,
		"Excerpt":      reportExcerpt,
		"PreviewURL":   n.link("/preview-improvements", p.Token),
		"ApproveURL":   n.link("/confirm-improvements", p.Token),
	})
	if err != nil {
		return "", fmt.Errorf("render improvement mail: %w", err)
	}
	return buf.String(), nil
}

func (n *Notifier) link(path, token string) string {
	return n.serverURL + path + "?token=" + url.QueryEscape(token)
}

func (n *Notifier) envelope(to []string) *Envelope {
	from := n.cfg.SenderEmail
	if from == "" {
		from = n.cfg.User
	}
	return &Envelope{
		FromName:    n.cfg.SenderName,
		FromAddress: from,
		To:          to,
		Cc:          n.cfg.CC,
		Bcc:         n.cfg.BCC,
	}
}

func improvementText(p approval.Pending, approveURL string) string {
	var sb strings.Builder
	sb.WriteString("Recommended improvements:\n")
	for _, imp := range p.Improvements {
		sb.WriteString("- ")
		sb.WriteString(imp)
		sb.WriteString("\n")
	}
	sb.WriteString("\nApprove: ")
	sb.WriteString(approveURL)
	return sb.String()
}

func splitAddresses(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

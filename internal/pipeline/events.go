package pipeline

import (
	"context"
	"time"

	"github.com/MikeSquared-Agency/verdict/internal/hermes"
)

// eventTimeout bounds the work triggered by one inbound event.
const eventTimeout = 10 * time.Minute

// HandleConversationClosed is the NATS handler for crm.conversation.closed.
func (p *Processor) HandleConversationClosed(subject string, data []byte) {
	ev, err := hermes.ParseConversationClosed(data)
	if err != nil {
		p.logger.Error("failed to parse conversation event", "subject", subject, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	p.logger.Info("conversation closed, processing", "conversation_id", ev.ConversationID)
	out := p.ProcessConversation(ctx, ev.ConversationID)
	if out.Failed() {
		p.logger.Warn("event-triggered processing failed", "conversation_id", ev.ConversationID, "error", out.Error)
	}
}

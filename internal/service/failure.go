package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/flowbit-ai/chat-with-data/internal/model"
	"github.com/flowbit-ai/chat-with-data/internal/suggest"
	"github.com/flowbit-ai/chat-with-data/internal/upstream"
)

// failureTurn renders an upstream failure as an assistant turn carrying the
// fallback suggestions.
func (s *ChatService) failureTurn(ue *upstream.Error) *model.Turn {
	msg, tip := describeFailure(ue, s.client.ServiceName(), s.client.BaseURL(), s.client.ErrorPrefix())

	content := "❌ **Oops!** " + msg
	if tip != "" {
		content += "\n\n💡 **Tip:** " + tip
	}

	return &model.Turn{
		ID:            uuid.Must(uuid.NewV7()).String(),
		Role:          model.RoleAssistant,
		Content:       content,
		Suggestions:   append([]string(nil), suggest.Fallback...),
		ErrorCategory: string(ue.Category),
		CreatedAt:     time.Now().UTC(),
	}
}

// describeFailure maps a category to its user message and tip. Only HTTP
// and unknown failures surface the raw message.
func describeFailure(ue *upstream.Error, service, baseURL, prefix string) (msg, tip string) {
	switch ue.Category {
	case upstream.CategoryUnavailable:
		return fmt.Sprintf("%s service is not available. Please make sure the service is running.", service),
			"Service health check failed"
	case upstream.CategoryConnectionRefused:
		return fmt.Sprintf("Cannot connect to %s service. Please ensure the service is running.", service),
			fmt.Sprintf("Service at %s is not reachable.", baseURL)
	case upstream.CategoryTimeout:
		return fmt.Sprintf("Request timeout. The %s service took too long to respond.", service),
			"The service may be overloaded or not responding."
	case upstream.CategoryHTTP:
		return stripPrefix(ue.Message, prefix), fmt.Sprintf("Status: %d", ue.StatusCode)
	default:
		return stripPrefix(ue.Message, prefix), ""
	}
}

func stripPrefix(msg, prefix string) string {
	if prefix == "" || !strings.Contains(msg, prefix) {
		return msg
	}
	return strings.TrimSpace(strings.Replace(msg, prefix, "", 1))
}

package usecase

import (
	"context"
	"strings"

	"interview-agent/internal/domain"
)

const titleHistoryWindow = 5

// maybeAutoTitle asks the fast model for a short conversation title once the
// conversation has neither an auto nor a user title. Best effort: failures
// are logged and the turn outcome is unaffected.
func (s *Service) maybeAutoTitle(ctx context.Context, conversationID string) {
	conv, ok := s.store.Conversation(conversationID)
	if !ok || conv.AutoTitle != "" || conv.UserTitle != "" {
		return
	}

	raw, err := s.assistant.Chat(ctx, domain.FastLevelID, titlePrompt(conv.Messages), s.temperature, s.maxTokens)
	if err != nil {
		s.logger.Warn("auto title suggestion failed", "conversation_id", conversationID, "err", err)
		return
	}
	if title := cleanTitle(raw); title != "" {
		s.store.SetAutoTitle(conversationID, title)
	}
}

// titlePrompt summarizes the first line of the last few non-system messages
// into a prompt asking for a concise lowercase title.
func titlePrompt(messages []domain.Message) []domain.ChatMessage {
	recent := messages
	if len(recent) > titleHistoryWindow {
		recent = recent[len(recent)-titleHistoryWindow:]
	}

	var lines []string
	for _, m := range recent {
		if m.Role == domain.RoleSystem {
			continue
		}
		text, _, _ := strings.Cut(m.Text, "\n")
		if len(text) > 50 {
			text = text[:50] + "..."
		}
		speaker := "Assistant"
		if m.Role == domain.RoleUser {
			speaker = "You"
		}
		lines = append(lines, "- "+speaker+": "+text)
	}

	return []domain.ChatMessage{
		{
			Role:    string(domain.RoleSystem),
			Content: "You are an AI language expert who specializes in creating very concise and short chat titles.",
		},
		{
			Role: string(domain.RoleUser),
			Content: "Analyze the given list of pre-processed first lines from each participant's conversation and generate a concise chat " +
				"title that represents the content and tone of the conversation. Only respond with the lowercase short title and nothing else.\n" +
				"\n" +
				strings.Join(lines, "\n") +
				"\n",
		},
	}
}

func cleanTitle(raw string) string {
	title := strings.TrimSpace(raw)
	title = strings.ReplaceAll(title, `"`, "")
	title = strings.TrimPrefix(title, "Title: ")
	title = strings.TrimPrefix(title, "title: ")
	return strings.TrimSpace(title)
}

package rag

import (
	"fmt"
	"strings"

	"github.com/fabfab/ragchat/llm"
)

const systemPreamble = `You are a helpful assistant answering questions about a private document collection.

Use only the context below to answer. Do not rely on prior knowledge. If the context does not contain the answer, reply exactly: "I cannot answer this based on the provided information."`

// noContextNotice replaces the context block when retrieval finds nothing.
const noContextNotice = "No relevant context was found in the knowledge base for this question."

const rewritePreamble = `Given the conversation so far, rewrite the user's next question as a single standalone question that needs no conversation context to understand. Keep the user's intent and wording where possible. Reply with the rewritten question only.`

// buildMessages assembles the completion request: one system message with
// the retrieved context, the recent conversation window, then the question.
func buildMessages(question string, results []Retrieval, window []Turn) []llm.Message {
	var sb strings.Builder
	sb.WriteString(systemPreamble)
	sb.WriteString("\n\nContext:\n")
	if len(results) == 0 {
		sb.WriteString(noContextNotice)
	} else {
		for i, r := range results {
			if i > 0 {
				sb.WriteString("\n\n")
			}
			fmt.Fprintf(&sb, "[Source %d] %s\n%s", i+1, sourceLabel(r), r.Text)
		}
	}

	messages := make([]llm.Message, 0, len(window)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: sb.String()})
	for _, turn := range window {
		messages = append(messages, llm.Message{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: question})
	return messages
}

// buildRewriteMessages asks the model to make a follow-up question
// standalone so retrieval sees the full intent.
func buildRewriteMessages(question string, window []Turn) []llm.Message {
	messages := make([]llm.Message, 0, len(window)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: rewritePreamble})
	for _, turn := range window {
		messages = append(messages, llm.Message{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: question})
	return messages
}

func sourceLabel(r Retrieval) string {
	if r.Source != "" {
		return r.Source
	}
	return r.DocumentID
}

// SourceLabels returns the distinct source labels of the results, first
// occurrence order preserved.
func SourceLabels(results []Retrieval) []string {
	seen := make(map[string]struct{}, len(results))
	labels := make([]string, 0, len(results))
	for _, r := range results {
		label := sourceLabel(r)
		if label == "" {
			continue
		}
		if _, ok := seen[label]; ok {
			continue
		}
		seen[label] = struct{}{}
		labels = append(labels, label)
	}
	return labels
}

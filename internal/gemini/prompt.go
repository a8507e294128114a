package gemini

import (
	"fmt"
	"strings"

	"plugd/internal/storage"
)

// defaultMaxHistoryTurns bounds how many prior turns are replayed to the
// model on each question. Oldest turns are dropped first.
const defaultMaxHistoryTurns = 20

const analysisPrompt = `You are an expert video analyzer. Watch the uploaded video and provide a concise summary covering:
1. The main topic or subject of the video
2. Key moments and observations
3. Any notable context worth knowing

Be conversational and engaging while being thorough and accurate. Keep the summary short and concise.`

const chatInstructions = `You are an expert video analyzer. Answer the query about the uploaded video.

Provide a comprehensive, insightful response that includes:
1. Direct analysis of the video content
2. Key insights and observations
3. Any supplementary context that would be helpful

Be conversational and engaging while being thorough and accurate.
Speak casually, humbly and naturally. Keep responses short and concise.`

// windowHistory keeps the most recent maxTurns turns, dropping oldest first.
func windowHistory(history []storage.ChatTurn, maxTurns int) []storage.ChatTurn {
	if maxTurns <= 0 || len(history) <= maxTurns {
		return history
	}
	return history[len(history)-maxTurns:]
}

// chatPrompt assembles the per-question prompt: instructions, the windowed
// conversation transcript, then the query itself.
func chatPrompt(history []storage.ChatTurn, question string, maxTurns int) string {
	var sb strings.Builder
	sb.WriteString(chatInstructions)

	// The newest user turn is the question itself; keep it out of the
	// transcript so it appears once, as the query.
	if n := len(history); n > 0 && history[n-1].Role == "user" && history[n-1].Content == question {
		history = history[:n-1]
	}

	windowed := windowHistory(history, maxTurns)
	if len(windowed) > 0 {
		sb.WriteString("\n\nConversation so far:\n")
		for _, turn := range windowed {
			sb.WriteString(fmt.Sprintf("%s: %s\n", turn.Role, turn.Content))
		}
	}

	sb.WriteString("\nQuery: ")
	sb.WriteString(question)
	return sb.String()
}

package core

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/studysync/ragchat-go/pkg/conversation"
	"github.com/studysync/ragchat-go/pkg/memory"
)

// Retrieval budgets per intent. TopK and minimum-score pairs mirror the
// per-intent template contract: conversation memory is held to a stricter
// threshold than shared external knowledge.
const (
	followupConversationTopK     = 3
	followupConversationMinScore = 0.7
	followupExternalTopK         = 2
	resourceExternalTopK         = 5
	questionExternalTopK         = 3
	externalMinScore             = 0.6

	// originalExcerptLimit bounds the ORIGINAL CONTEXT block.
	originalExcerptLimit = 1000

	// recentHistoryTurns bounds the CONVERSATION HISTORY block.
	recentHistoryTurns = 4

	// questionHistoryTurns bounds history for generic questions.
	questionHistoryTurns = 3
)

// noContextFallback is the labeled-block body used when retrieval returns
// nothing.
const noContextFallback = "No relevant context found."

// retriever is the slice of the memory service the synthesizer needs.
type retriever interface {
	SearchConversation(ctx context.Context, conversationID, query string, topK int, minScore float64) []memory.SearchResult
	SearchExternal(ctx context.Context, query string, topK int, minScore float64) []memory.SearchResult
}

// Synthesizer builds the instruction text sent to the completion provider
// from the classified intent, the conversation state, and retrieved memory.
type Synthesizer struct {
	memory retriever
}

// NewSynthesizer creates a prompt synthesizer over the given memory
// retriever.
func NewSynthesizer(mem retriever) *Synthesizer {
	return &Synthesizer{memory: mem}
}

// Synthesize builds the prompt for one turn. Retrieval is best-effort:
// failed or empty retrieval degrades to the no-context fallback text, never
// to an error.
func (s *Synthesizer) Synthesize(ctx context.Context, message string, conv *conversation.Conversation, intent Intent) string {
	switch intent {
	case IntentPleasantry:
		return s.pleasantryPrompt(message)
	case IntentInitialContent:
		return s.initialContentPrompt(message)
	case IntentFollowupQuestion:
		return s.followupPrompt(ctx, message, conv)
	case IntentResourceRequest:
		return s.resourcePrompt(ctx, message, conv)
	case IntentGenericQuestion:
		return s.genericQuestionPrompt(ctx, message, conv)
	default:
		return s.genericChatPrompt(message, conv)
	}
}

func (s *Synthesizer) pleasantryPrompt(message string) string {
	return fmt.Sprintf(`The user says: %q.

Respond warmly and briefly. If appropriate, offer to analyze content they paste, answer questions about it, or suggest learning resources.`, message)
}

func (s *Synthesizer) initialContentPrompt(message string) string {
	return fmt.Sprintf(`Please analyze and summarize the following content. Provide a comprehensive summary with:

MAIN SUMMARY: 2-5 sentence overview
KEY POINTS: Bullet points of important concepts
CORE CONCEPTS: Fundamental ideas to understand
DEEPER INSIGHTS: Interesting observations

Content to analyze:
%s

After your analysis, invite the user to ask follow-up questions or request related resources.`, message)
}

func (s *Synthesizer) followupPrompt(ctx context.Context, message string, conv *conversation.Conversation) string {
	// Conversation memory and external knowledge are independent reads, so
	// retrieve them concurrently and join before assembling the prompt.
	var (
		wg            sync.WaitGroup
		convResults   []memory.SearchResult
		extResults    []memory.SearchResult
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		convResults = s.memory.SearchConversation(ctx, conv.ID, message, followupConversationTopK, followupConversationMinScore)
	}()
	go func() {
		defer wg.Done()
		extResults = s.memory.SearchExternal(ctx, message, followupExternalTopK, externalMinScore)
	}()
	wg.Wait()

	var b strings.Builder
	b.WriteString("Based on the original content and conversation history, please answer the user's question.\n\n")

	b.WriteString("ORIGINAL CONTEXT:\n")
	b.WriteString(truncate(conv.OriginalText, originalExcerptLimit))
	b.WriteString("\n\n")

	b.WriteString("CONVERSATION HISTORY:\n")
	b.WriteString(formatHistory(conv.RecentMessages(recentHistoryTurns)))
	b.WriteString("\n\n")

	b.WriteString("RETRIEVED CONTEXT:\n")
	b.WriteString(formatResults(convResults))
	b.WriteString("\n\n")

	b.WriteString("EXTERNAL KNOWLEDGE:\n")
	b.WriteString(formatResults(extResults))
	b.WriteString("\n\n")

	b.WriteString("USER'S CURRENT QUESTION: ")
	b.WriteString(message)
	b.WriteString("\n\nPlease provide a helpful, detailed answer. If you need to reference the original content, do so clearly. If the question goes beyond the available context, acknowledge this and provide the best answer you can.")
	return b.String()
}

func (s *Synthesizer) resourcePrompt(ctx context.Context, message string, conv *conversation.Conversation) string {
	topic := ExtractTopic(message)
	results := s.memory.SearchExternal(ctx, topic, resourceExternalTopK, externalMinScore)

	if len(results) > 0 {
		var b strings.Builder
		fmt.Fprintf(&b, "The user wants learning resources about: %s\n\n", topic)
		b.WriteString("These known entries are relevant:\n\n")
		for i, result := range results {
			topicLabel, _ := result.Metadata["topic"].(string)
			source, _ := result.Metadata["source"].(string)
			fmt.Fprintf(&b, "%d. [%s] %s", i+1, topicLabel, result.Text)
			if source != "" {
				fmt.Fprintf(&b, " (source: %s)", source)
			}
			b.WriteString("\n")
		}
		b.WriteString("\nPresent each entry to the user and explain why it is relevant to their request. Format this as a helpful, organized list.")
		return b.String()
	}

	sourceText := conv.OriginalText
	if sourceText == "" {
		sourceText = message
	}
	return fmt.Sprintf(`The user wants learning resources. Based on this content:

%s

Please suggest 3-5 high-quality online resources for further learning. For each resource include:
- Type (Article, Video, Course, Research Paper, etc.)
- Why it's relevant
- Estimated time commitment
- Suggested search terms to find it

Format this as a helpful, organized list.`, truncate(sourceText, originalExcerptLimit))
}

func (s *Synthesizer) genericQuestionPrompt(ctx context.Context, message string, conv *conversation.Conversation) string {
	results := s.memory.SearchExternal(ctx, message, questionExternalTopK, externalMinScore)

	var b strings.Builder
	b.WriteString("Please answer the user's question.\n\n")

	b.WriteString("EXTERNAL KNOWLEDGE:\n")
	b.WriteString(formatResults(results))
	b.WriteString("\n\n")

	if history := conv.RecentMessages(questionHistoryTurns); len(history) > 0 {
		b.WriteString("RECENT CONVERSATION:\n")
		b.WriteString(formatHistory(history))
		b.WriteString("\n\n")
	}

	b.WriteString("USER'S QUESTION: ")
	b.WriteString(message)
	b.WriteString("\n\nProvide a helpful, accurate answer. Use the external knowledge above when it is relevant; otherwise answer from general knowledge.")
	return b.String()
}

func (s *Synthesizer) genericChatPrompt(message string, conv *conversation.Conversation) string {
	if conv.HasSummary {
		return fmt.Sprintf(`Continue the conversation with the user. You have this context available:

ORIGINAL CONTENT SUMMARY:
%s

RECENT CONVERSATION:
%s

USER'S MESSAGE: %s

Respond helpfully and naturally. Reference previous context when relevant.`,
			truncate(conv.OriginalText, originalExcerptLimit),
			formatHistory(conv.RecentMessages(recentHistoryTurns)),
			message)
	}

	return fmt.Sprintf(`The user says: %q. Please provide a helpful, engaging response.
If appropriate, you can offer to analyze content they paste, answer questions, or suggest learning resources.`, message)
}

// formatHistory renders turns as "ROLE: content" lines.
func formatHistory(messages []conversation.Message) string {
	if len(messages) == 0 {
		return "(no prior turns)"
	}
	lines := make([]string, len(messages))
	for i, msg := range messages {
		lines[i] = fmt.Sprintf("%s: %s", strings.ToUpper(msg.Role), msg.Content)
	}
	return strings.Join(lines, "\n")
}

// formatResults renders retrieval hits as a labeled block body, falling
// back to the no-context text when empty.
func formatResults(results []memory.SearchResult) string {
	if len(results) == 0 {
		return noContextFallback
	}
	lines := make([]string, len(results))
	for i, result := range results {
		lines[i] = "- " + result.Text
	}
	return strings.Join(lines, "\n")
}

// truncate bounds text to limit characters.
func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	return text[:limit] + "..."
}

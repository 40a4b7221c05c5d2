package core

import (
	"strings"

	"github.com/studysync/ragchat-go/pkg/conversation"
)

// Intent classifies one conversational turn. Intents are ephemeral:
// recomputed every turn from the message text and the conversation state,
// never persisted.
type Intent string

// Recognized intents.
const (
	IntentPleasantry       Intent = "pleasantry"
	IntentInitialContent   Intent = "initial_content"
	IntentFollowupQuestion Intent = "followup_question"
	IntentResourceRequest  Intent = "resource_request"
	IntentGenericQuestion  Intent = "generic_question"
	IntentGenericChat      Intent = "generic_chat"
)

// contentLengthThreshold is the message length above which a first message
// is treated as submitted content rather than chat.
const contentLengthThreshold = 200

// pleasantryPhrases are greeting/thanks/farewell phrases. Multi-word
// phrases match as substrings; single-word phrases match as standalone
// tokens so that e.g. "hey" never fires inside "they".
var pleasantryPhrases = []string{
	"hello",
	"hi",
	"hey",
	"thanks",
	"thank you",
	"good morning",
	"good afternoon",
	"good evening",
	"goodbye",
	"bye",
	"see you",
	"how are you",
}

// questionCues are interrogative cue words and phrases.
var questionCues = []string{
	"what", "how", "why", "when", "where", "who", "explain", "tell me about", "?",
}

// topicCues are the cue words used by topic extraction. Unlike questionCues
// they include request verbs, so "suggest some resources on X" yields the
// topic after the verb.
var topicCues = map[string]bool{
	"what": true, "how": true, "why": true, "when": true, "where": true,
	"who": true, "explain": true, "suggest": true, "recommend": true,
}

// intentRule is one entry of the ordered classification cascade.
type intentRule struct {
	intent  Intent
	matches func(message string, conv *conversation.Conversation, action string) bool
}

// intentRules is the classification cascade. First match wins; the order is
// a correctness-relevant tie-break, so keep the list explicit and audit
// changes against the documented decision order.
var intentRules = []intentRule{
	{IntentPleasantry, func(message string, _ *conversation.Conversation, _ string) bool {
		return isPleasantry(message)
	}},
	{IntentInitialContent, func(message string, conv *conversation.Conversation, _ string) bool {
		return !conv.HasSummary && len(message) > contentLengthThreshold && !isPleasantry(message)
	}},
	{IntentFollowupQuestion, func(message string, conv *conversation.Conversation, action string) bool {
		return conv.HasSummary && (isQuestion(message) || action == ActionFollowup)
	}},
	{IntentResourceRequest, func(message string, _ *conversation.Conversation, action string) bool {
		lower := strings.ToLower(message)
		return strings.Contains(lower, "resource") || strings.Contains(lower, "learn more") || action == ActionResources
	}},
	{IntentGenericQuestion, func(message string, conv *conversation.Conversation, _ string) bool {
		return isQuestion(message) && !conv.HasSummary
	}},
}

// Classify categorizes a message given the conversation state and an
// optional explicit action hint.
func Classify(message string, conv *conversation.Conversation, action string) Intent {
	for _, rule := range intentRules {
		if rule.matches(message, conv, action) {
			return rule.intent
		}
	}
	return IntentGenericChat
}

// IsContentSubmission reports whether a message should be treated as
// submitted content (setting the conversation's original text). Evaluated
// only while the conversation has no original text yet.
func IsContentSubmission(message string) bool {
	if isPleasantry(message) {
		return false
	}
	if len(message) > contentLengthThreshold {
		return true
	}
	if strings.Contains(message, "\n") && len(message) > 50 {
		return true
	}
	lower := strings.ToLower(message)
	if strings.Contains(lower, "http") || strings.Contains(lower, "www.") {
		return true
	}
	return strings.Contains(lower, "summarize") || strings.Contains(lower, "analyze")
}

// ExtractTopic derives a topic string from a resource request. If the
// message contains a topic cue word, the topic is everything after its
// first occurrence with trailing punctuation stripped; otherwise it is the
// first five tokens of the message.
func ExtractTopic(message string) string {
	tokens := strings.Fields(message)

	for i, token := range tokens {
		if topicCues[strings.ToLower(trimTokenPunct(token))] && i+1 < len(tokens) {
			return trimTopicPunct(strings.Join(tokens[i+1:], " "))
		}
	}

	if len(tokens) > 5 {
		tokens = tokens[:5]
	}
	return trimTopicPunct(strings.Join(tokens, " "))
}

// isPleasantry reports whether the message matches the pleasantry phrase
// set, regardless of length.
func isPleasantry(message string) bool {
	lower := strings.ToLower(message)
	tokens := strings.Fields(lower)
	for i, token := range tokens {
		tokens[i] = trimTokenPunct(token)
	}

	for _, phrase := range pleasantryPhrases {
		if strings.Contains(phrase, " ") {
			if strings.Contains(lower, phrase) {
				return true
			}
			continue
		}
		for _, token := range tokens {
			if token == phrase {
				return true
			}
		}
	}
	return false
}

// isQuestion reports whether the message contains an interrogative cue.
func isQuestion(message string) bool {
	lower := strings.ToLower(message)
	for _, cue := range questionCues {
		if strings.Contains(lower, cue) {
			return true
		}
	}
	return false
}

func trimTokenPunct(token string) string {
	return strings.Trim(token, ".,!?;:\"'")
}

func trimTopicPunct(topic string) string {
	return strings.TrimRight(topic, " .,!?;:")
}

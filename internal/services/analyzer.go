package services

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"unicode"

	"github.com/minatori/partnerai/internal/providers/llm"
)

// Analysis is the structured read of one conversation turn.
type Analysis struct {
	Topics  []string `json:"topics"`
	Emotion string   `json:"emotion"` // happy/curious/neutral/frustrated
	Intent  string   `json:"intent"`  // question/chat/request/feedback
	KeyInfo string   `json:"key_info"`
}

// Analyzer extracts structured data from a turn. The LLM-backed
// implementation may fail; callers fall back to keyword extraction.
type Analyzer interface {
	Analyze(ctx context.Context, userMessage, aiResponse string) (*Analysis, error)
}

type llmAnalyzer struct {
	provider llm.Provider
	model    string
}

// NewLLMAnalyzer analyzes turns with a small model on the inference
// provider.
func NewLLMAnalyzer(provider llm.Provider, model string) Analyzer {
	if model == "" {
		model = "gemma3:4b"
	}
	return &llmAnalyzer{provider: provider, model: model}
}

const analyzePromptTemplate = `Analyze the following conversation.

User: %USER%
AI: %AI%

Reply with JSON only, no other text:
{
  "topics": ["topic1", "topic2"],
  "emotion": "happy/curious/neutral/frustrated",
  "intent": "question/chat/request/feedback",
  "key_info": "one short sentence stating something learned about the user, or empty"
}`

var jsonBlockRe = regexp.MustCompile(`(?s)\{.*\}`)

func (a *llmAnalyzer) Analyze(ctx context.Context, userMessage, aiResponse string) (*Analysis, error) {
	prompt := strings.NewReplacer("%USER%", userMessage, "%AI%", aiResponse).
		Replace(analyzePromptTemplate)

	raw, err := a.provider.Complete(ctx, a.model, []llm.Message{
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return nil, err
	}

	// Models wrap JSON in prose or fences often enough that we take the
	// first brace-delimited block.
	block := jsonBlockRe.FindString(raw)
	if block == "" {
		return defaultAnalysis(), nil
	}

	var out Analysis
	if err := json.Unmarshal([]byte(block), &out); err != nil {
		return defaultAnalysis(), nil
	}
	if out.Emotion == "" {
		out.Emotion = "neutral"
	}
	if out.Intent == "" {
		out.Intent = "chat"
	}
	return &out, nil
}

func defaultAnalysis() *Analysis {
	return &Analysis{Topics: []string{}, Emotion: "neutral", Intent: "chat"}
}

// topicKeywords is the fallback topic vocabulary for keyword matching.
var topicKeywords = []string{
	"Python", "JavaScript", "Java", "C++", "Go", "Rust",
	"React", "Vue", "Angular", "Next.js",
	"AI", "machine learning", "deep learning", "ChatGPT",
	"web development", "app development", "game development",
	"database", "SQL", "NoSQL",
	"Docker", "Kubernetes", "AWS", "Azure",
	"algorithms", "data structures",
	"programming", "engineering",
	"cooking", "travel", "music", "movies", "fitness", "reading",
}

// ExtractTopics does keyword matching over text, capped at five topics.
// Single-word keywords match whole tokens only, so "go" does not fire on
// "good" and "java" does not fire on "javascript". Used both for
// conversation tags and as the analyzer fallback.
func ExtractTopics(text string) []string {
	lower := strings.ToLower(text)

	tokens := map[string]bool{}
	for _, tok := range strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '+' && r != '.' && r != '#'
	}) {
		tokens[strings.Trim(tok, ".")] = true
	}

	var found []string
	for _, kw := range topicKeywords {
		k := strings.ToLower(kw)
		matched := false
		if strings.Contains(k, " ") {
			matched = strings.Contains(lower, k)
		} else {
			matched = tokens[k]
		}
		if matched {
			found = append(found, kw)
			if len(found) == 5 {
				break
			}
		}
	}
	return found
}

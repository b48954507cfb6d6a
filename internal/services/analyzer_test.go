package services

import (
	"context"
	"testing"

	"github.com/minatori/partnerai/internal/providers/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractTopics(t *testing.T) {
	topics := ExtractTopics("I want to learn Go and python for machine learning")
	assert.Contains(t, topics, "Python")
	assert.Contains(t, topics, "Go")
	assert.Contains(t, topics, "machine learning")

	// Whole-token matching: no substring false positives.
	topics = ExtractTopics("that is a good javascript tutorial")
	assert.Contains(t, topics, "JavaScript")
	assert.NotContains(t, topics, "Go")
	assert.NotContains(t, topics, "Java")

	assert.Empty(t, ExtractTopics("nothing relevant here"))
	assert.Empty(t, ExtractTopics(""))

	// Capped at five.
	topics = ExtractTopics("python javascript rust react docker kubernetes aws")
	assert.Len(t, topics, 5)
}

func TestAnalyzeParsesWrappedJSON(t *testing.T) {
	provider := &fakeProvider{fn: func(_ string, _ []llm.Message) (string, error) {
		return "Sure! Here is the analysis:\n```json\n" +
			`{"topics":["music"],"emotion":"happy","intent":"chat","key_info":"user plays guitar"}` +
			"\n```", nil
	}}
	a := NewLLMAnalyzer(provider, "")

	analysis, err := a.Analyze(context.Background(), "I love playing guitar", "nice")
	require.NoError(t, err)
	assert.Equal(t, []string{"music"}, analysis.Topics)
	assert.Equal(t, "happy", analysis.Emotion)
	assert.Equal(t, "user plays guitar", analysis.KeyInfo)
}

func TestAnalyzeFallsBackOnGarbage(t *testing.T) {
	provider := &fakeProvider{fn: func(_ string, _ []llm.Message) (string, error) {
		return "no json at all", nil
	}}
	a := NewLLMAnalyzer(provider, "")

	analysis, err := a.Analyze(context.Background(), "hi", "hello")
	require.NoError(t, err)
	assert.Empty(t, analysis.Topics)
	assert.Equal(t, "neutral", analysis.Emotion)
	assert.Equal(t, "chat", analysis.Intent)
}

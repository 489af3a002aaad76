// Package testutil provides mocks and helpers for backend tests.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/mock"

	"github.com/GriffinCanCode/DocRefine/backend/internal/providers/completion"
	"github.com/GriffinCanCode/DocRefine/backend/internal/providers/vectorsearch"
)

// MockCompletionClient is a mock implementation of completion.Client.
type MockCompletionClient struct {
	mock.Mock
}

// Complete mocks the Complete method.
func (m *MockCompletionClient) Complete(ctx context.Context, req completion.Request) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

// Embed mocks the Embed method.
func (m *MockCompletionClient) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

// MockSearcher is a mock implementation of vectorsearch.Searcher.
type MockSearcher struct {
	mock.Mock
}

// Related mocks the Related method.
func (m *MockSearcher) Related(ctx context.Context, vector []float32, limit int) ([]vectorsearch.Example, error) {
	args := m.Called(ctx, vector, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]vectorsearch.Example), args.Error(1)
}

// TierMatcher matches a completion.Request for tier
func TierMatcher(tier completion.Tier) interface{} {
	return mock.MatchedBy(func(req completion.Request) bool {
		return req.Tier == tier
	})
}

// NewMockCompletionClient creates a completion mock whose embedding call
// returns a fixed vector by default.
func NewMockCompletionClient(t *testing.T) *MockCompletionClient {
	t.Helper()
	m := new(MockCompletionClient)

	m.On("Embed", mock.Anything, mock.Anything).
		Return([]float32{0.1, 0.2, 0.3}, nil).
		Maybe()

	return m
}

// SuggestionList renders n numbered suggestions the way the model answers
func SuggestionList(n int) string {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "%d. [clarity] Suggestion %d\n", i, i)
	}
	return b.String()
}

// LargeDocument builds a multi-paragraph document of at least minBytes
func LargeDocument(minBytes int) string {
	const para = "The quarterly report was reviewed by the committee and several very minor issues were identified in the summary section."
	var b strings.Builder
	for b.Len() < minBytes {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(para)
	}
	return b.String()
}

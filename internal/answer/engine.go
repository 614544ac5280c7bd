// Package answer wraps the external answer-generation service. The engine is
// a black box: it embeds the question, searches the document index, and
// produces a completion. Slow and fallible by contract.
package answer

import "context"

// Engine generates answers to user questions.
type Engine interface {
	// Generate returns the complete answer for question.
	Generate(ctx context.Context, question string) (string, error)

	// Stream produces the answer incrementally, invoking onChunk with the
	// accumulated text so far after each delta. Returns the final answer.
	Stream(ctx context.Context, question string, onChunk func(partial string)) (string, error)
}

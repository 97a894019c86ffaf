// Package tokens estimates token counts from text.
//
// Providers that stream without reporting usage, and the budget preflight
// that prices a prompt before it is sent, both need a token count without a
// tokenizer. The estimator divides the character count by a fixed ratio
// (about four characters per token for English prose), rounding to the
// nearest integer with a minimum of one token for non-empty text.
//
// # Usage
//
//	est := tokens.NewSimpleEstimator(0) // default ratio
//	n := est.EstimateText("How do circuit breakers work?")
//	total := est.EstimateTexts(systemPrompt, contextText, query)
package tokens

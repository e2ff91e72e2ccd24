// Package factory builds the llm.Client for a run from configuration: one
// OpenAI-compatible provider per referenced provider name, wrapped with
// retries, rate limiting and instrumentation.
package factory

// Copyright (c) ReviewFlow Authors.
// Licensed under the MIT License.

/*
Package llm defines the chat-completion abstraction used by reviewflow steps.

# Overview

A Provider sends a ChatRequest to one upstream API and returns a
ChatResponse. Providers are composed by wrapping: RetryableProvider adds
exponential backoff for retryable errors, RateLimitedProvider paces
requests with a token bucket, and InstrumentedProvider records otel spans
and metrics for every call.

Client sits on top of the registered providers and resolves the model for
each workflow node. Models are written as "provider:model"; a node-specific
entry overrides the default model.

# Errors

Upstream failures are reported as *Error with an ErrorCode and a Retryable
flag, so callers and wrappers can decide whether to try again.
*/
package llm

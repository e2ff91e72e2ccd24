// Copyright (c) ReviewFlow Authors.
// Licensed under the MIT License.

// Package openaicompat implements llm.Provider for any backend that speaks
// the OpenAI chat completions API (OpenAI, DeepSeek, Qwen, Ollama, vLLM and
// similar gateways). Providers differ only in name, base URL, endpoint path
// and authentication header.
package openaicompat

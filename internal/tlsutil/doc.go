// Copyright (c) ReviewFlow Authors.
// Licensed under the MIT License.

// Package tlsutil builds the hardened TLS settings shared by the LLM HTTP
// client and the Redis run store (TLS 1.2+, AEAD cipher suites only, optional
// private CA bundle).
package tlsutil

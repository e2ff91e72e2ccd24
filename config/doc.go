// Copyright (c) ReviewFlow Authors.
// Licensed under the MIT License.

// Package config loads reviewflow configuration from a YAML file and
// REVIEWFLOW_-prefixed environment variables on top of built-in defaults,
// validates it, and converts the workflow section to executor options.
package config

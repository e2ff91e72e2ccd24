// Copyright (c) ReviewFlow Authors.
// Licensed under the MIT License.

/*
Command reviewflow reviews a research paper with a language model workflow
and writes a markdown note with YAML front matter.

Subcommands:

  - run      execute the paper_review graph on one input document
  - convert  print the page markdown a converter produces
  - runs     list or show stored run records
  - models   list selectable models with speed and price ratings
  - ui       edit the config, browse models and watch a run in a terminal UI
  - version  print build information

Configuration is read from --config (YAML) and REVIEWFLOW_* environment
variables. A run that finishes with partial failures exits with status 2.
*/
package main

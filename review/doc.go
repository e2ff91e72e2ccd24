// Copyright (c) ReviewFlow Authors.
// Licensed under the MIT License.

/*
Package review builds the research paper review graph on top of package
workflow.

A run converts the input paper to page texts, decides whether it is a
standard research paper or a review paper, extracts title, abstract,
conclusion and bibliographic data in parallel, refines keywords against a
keyword file, analyzes the paper (five fixed analyzers for standard papers,
one branch per discovered section for review papers), condenses analyses that
exceed the length limit, translates them and renders a markdown note with YAML
front matter.

Every language model call goes through the Model interface, which
*llm.Client satisfies. The node name passed to Model selects the configured
model for that step.
*/
package review

// Copyright (c) ReviewFlow Authors.
// Licensed under the MIT License.

/*
Package convert turns an input paper into a list of page texts.

Two converters are provided. TextConverter reads plain text or markdown and
splits pages on form feeds. CommandConverter runs an external extraction tool
such as pdftotext and splits its standard output the same way. Both drop lines
that only carry a page number and keep empty pages, so page indexes stay
aligned with the source document.
*/
package convert

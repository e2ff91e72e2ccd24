package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"go.uber.org/zap"
)

// InputPlaceholder is replaced by the input path in a command template.
const InputPlaceholder = "{input}"

// ErrNoCommand is returned for PDF input when no extraction command is configured.
var ErrNoCommand = errors.New("pdf input requires a convert command")

var pageNumberLine = regexp.MustCompile(`^\s*\d{1,3}\s*$`)

// Document is the converted text of one input file.
type Document struct {
	Path  string   `json:"path"`
	Pages []string `json:"pages"`
}

// PageCount returns the number of pages, empty pages included.
func (d *Document) PageCount() int {
	return len(d.Pages)
}

// Text joins the first n pages. n <= 0 or n beyond the page count joins all pages.
func (d *Document) Text(n int) string {
	if n <= 0 || n > len(d.Pages) {
		n = len(d.Pages)
	}
	return strings.Join(d.Pages[:n], "\n\n")
}

// Markdown renders every non-empty page under a "# Page N" heading. Page
// numbers follow the source document.
func (d *Document) Markdown() string {
	var b strings.Builder
	for i, p := range d.Pages {
		if p == "" {
			continue
		}
		b.WriteString("# Page ")
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString("\n\n")
		b.WriteString(p)
		b.WriteString("\n\n")
	}
	return b.String()
}

// Converter extracts page texts from a file.
type Converter interface {
	Convert(ctx context.Context, path string) (*Document, error)
}

// SplitPages splits raw text on form feeds and cleans every page.
func SplitPages(raw string) []string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	parts := strings.Split(raw, "\f")
	// pdftotext ends its output with a form feed
	if len(parts) > 1 && strings.TrimSpace(parts[len(parts)-1]) == "" {
		parts = parts[:len(parts)-1]
	}
	pages := make([]string, len(parts))
	for i, p := range parts {
		pages[i] = CleanPage(p)
	}
	return pages
}

// CleanPage drops lines holding only a page number and trims the page.
func CleanPage(page string) string {
	lines := strings.Split(page, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if pageNumberLine.MatchString(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// TextConverter reads text or markdown files.
type TextConverter struct{}

func (TextConverter) Convert(ctx context.Context, path string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return &Document{Path: path, Pages: SplitPages(string(data))}, nil
}

// CommandConverter runs an external tool and reads pages from its stdout.
// The template is split like a shell command line; "{input}" marks the input path.
type CommandConverter struct {
	template []string
	timeout  time.Duration
	logger   *zap.Logger
}

// NewCommandConverter parses the command template.
func NewCommandConverter(command string, timeout time.Duration, logger *zap.Logger) (*CommandConverter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	args, err := shellquote.Split(command)
	if err != nil {
		return nil, fmt.Errorf("parse convert command: %w", err)
	}
	if len(args) == 0 {
		return nil, ErrNoCommand
	}
	hasInput := false
	for _, a := range args {
		if strings.Contains(a, InputPlaceholder) {
			hasInput = true
		}
	}
	if !hasInput {
		args = append(args, InputPlaceholder)
	}
	return &CommandConverter{
		template: args,
		timeout:  timeout,
		logger:   logger.With(zap.String("component", "command_converter")),
	}, nil
}

// Args returns the command line for path.
func (c *CommandConverter) Args(path string) []string {
	out := make([]string, len(c.template))
	for i, a := range c.template {
		out[i] = strings.ReplaceAll(a, InputPlaceholder, path)
	}
	return out
}

func (c *CommandConverter) Convert(ctx context.Context, path string) (*Document, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("input %s: %w", path, err)
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	args := c.Args(path)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("convert %s: %w: %s", path, err, msg)
		}
		return nil, fmt.Errorf("convert %s: %w", path, err)
	}
	doc := &Document{Path: path, Pages: SplitPages(stdout.String())}
	if isPDF(path) {
		c.alignPages(doc)
	}
	c.logger.Debug("converted document",
		zap.String("path", path),
		zap.Int("pages", doc.PageCount()),
		zap.Duration("duration", time.Since(start)))
	return doc, nil
}

// alignPages pads the page list to the page count stored in the PDF, so tools
// that drop trailing blank pages keep page indexes aligned.
func (c *CommandConverter) alignPages(doc *Document) {
	n, err := api.PageCountFile(doc.Path)
	if err != nil {
		c.logger.Warn("cannot read pdf page count", zap.String("path", doc.Path), zap.Error(err))
		return
	}
	switch {
	case n > len(doc.Pages):
		c.logger.Debug("padding missing pages", zap.Int("pdf_pages", n), zap.Int("extracted", len(doc.Pages)))
		doc.Pages = append(doc.Pages, make([]string, n-len(doc.Pages))...)
	case n < len(doc.Pages):
		c.logger.Warn("converter produced more pages than the pdf holds",
			zap.Int("pdf_pages", n), zap.Int("extracted", len(doc.Pages)))
	}
}

func isPDF(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}

// ForPath picks the converter for a file. PDF files need a command template;
// anything else is read as text.
func ForPath(path, command string, timeout time.Duration, logger *zap.Logger) (Converter, error) {
	if isPDF(path) {
		if strings.TrimSpace(command) == "" {
			return nil, ErrNoCommand
		}
		return NewCommandConverter(command, timeout, logger)
	}
	return TextConverter{}, nil
}

package review

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/BaSui01/reviewflow/workflow"
	"go.uber.org/zap"
)

var (
	parenPart  = regexp.MustCompile(`\([^)]*\)`)
	squarePart = regexp.MustCompile(`\[[^\]]*\]`)
	curlyPart  = regexp.MustCompile(`\{[^}]*\}`)
)

// Report is the rendered note of one paper.
type Report struct {
	PaperType string
	Title     string
	Info      BasicInfo
	Keywords  []string
	// PDFName is the stem of the linked PDF file.
	PDFName string
	// Analyses holds the standard analyzer outputs by field name.
	Analyses map[string]string
	// Sections holds the review section analyses in document order.
	Sections   []Section
	Conclusion string
}

// SanitizeTag turns a keyword into a front matter tag.
func SanitizeTag(kw string) string {
	kw = parenPart.ReplaceAllString(kw, "")
	kw = squarePart.ReplaceAllString(kw, "")
	kw = curlyPart.ReplaceAllString(kw, "")
	kw = strings.NewReplacer("'", "", "–", "-", "+", "", " ", "_").Replace(kw)
	return strings.Trim(kw, "_")
}

// FrontMatter renders the YAML front matter block.
func (r Report) FrontMatter() string {
	tags := make([]string, len(r.Keywords))
	for i, kw := range r.Keywords {
		tags[i] = "  - " + SanitizeTag(kw)
	}
	link := ""
	if r.PDFName != "" {
		link = "[[" + r.PDFName + ".pdf]]"
	}
	var b strings.Builder
	b.WriteString("---\n")
	fmt.Fprintf(&b, "title: \"%s\"\n", r.Title)
	fmt.Fprintf(&b, "first_author: %s\n", r.Info.FirstAuthor())
	fmt.Fprintf(&b, "year: %s\n", r.Info.Year)
	fmt.Fprintf(&b, "journal: \"%s\"\n", r.Info.Journal)
	b.WriteString("DOI: \"\"\n")
	fmt.Fprintf(&b, "paper_link: \"%s\"\n", link)
	b.WriteString("tags:\n")
	b.WriteString(strings.Join(tags, "\n"))
	b.WriteString("\n---")
	return b.String()
}

var standardHeadings = []struct{ field, heading string }{
	{FieldBackground, "Research Background"},
	{FieldResearchPurpose, "Research Purpose"},
	{FieldMethodologies, "Methodology"},
	{FieldResults, "Results"},
	{FieldKeypoints, "Key Contributions"},
}

// Markdown renders the full note.
func (r Report) Markdown() string {
	var b strings.Builder
	b.WriteString(r.FrontMatter())
	b.WriteString("\n\n## Summary\n")
	if r.PaperType == PaperReview {
		for _, s := range r.Sections {
			fmt.Fprintf(&b, "### %s\n%s\n\n", s.Name, s.Content)
		}
	} else {
		for _, h := range standardHeadings {
			fmt.Fprintf(&b, "### %s\n%s\n\n", h.heading, r.Analyses[h.field])
		}
	}
	fmt.Fprintf(&b, "### Conclusion\n%s\n\n---\n## Link\n- ", r.Conclusion)
	return b.String()
}

// BaseName is the file stem of a report: the first author reduced to letters,
// digits, '-' and '_' (spaces become '_') followed by the year.
func BaseName(info BasicInfo) string {
	author := info.FirstAuthor()
	if author == "" {
		author = "Unknown"
	}
	year := info.Year
	if year == "" {
		year = "Unknown"
	}
	var b strings.Builder
	for _, r := range author {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('_')
		}
	}
	return b.String() + year
}

// uniquePath returns dir/stem+ext, or the first dir/stem_N+ext that is free
// or equal to keep.
func uniquePath(dir, stem, ext, keep string) string {
	candidate := filepath.Join(dir, stem+ext)
	for n := 1; ; n++ {
		if keep != "" && sameFile(candidate, keep) {
			return candidate
		}
		if _, err := os.Stat(candidate); errors.Is(err, os.ErrNotExist) {
			return candidate
		}
		candidate = filepath.Join(dir, stem+"_"+strconv.Itoa(n)+ext)
	}
}

func sameFile(a, b string) bool {
	fa, err := os.Stat(a)
	if err != nil {
		return false
	}
	fb, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(fa, fb)
}

func (p *Pipeline) summarizeStep() workflow.StepSpec {
	optional := append([]string{
		FieldOutputPath, FieldTitle, FieldBasicInfo, FieldKeywords, FieldConclusion,
		FieldSectionAnalyses, FieldDynamicSections,
	}, AnalysisFields...)
	return workflow.Func(StepFinalSummarize, p.finalSummarize).
		WithReads(FieldPaperType, FieldInputPath).
		WithOptional(optional...).
		WithWrites(FieldFinalReport, FieldReportPath)
}

func (p *Pipeline) finalSummarize(_ context.Context, v workflow.View) (workflow.Delta, error) {
	log := p.stepLogger(StepFinalSummarize)
	info := workflow.LookupOr(v, FieldBasicInfo, BasicInfo{})
	inputPath := stringOf(v, FieldInputPath)
	outputPath := stringOf(v, FieldOutputPath)

	report := Report{
		PaperType:  stringOf(v, FieldPaperType),
		Title:      stringOf(v, FieldTitle),
		Info:       info,
		Keywords:   workflow.LookupOr(v, FieldKeywords, []string{}),
		Conclusion: stringOf(v, FieldConclusion),
	}
	if report.PaperType == PaperReview {
		analyses := workflow.LookupOr(v, FieldSectionAnalyses, map[string]string{})
		for _, name := range sectionOrder(v) {
			report.Sections = append(report.Sections, Section{Name: name, Content: analyses[name]})
		}
	} else {
		report.Analyses = make(map[string]string, len(AnalysisFields))
		for _, f := range AnalysisFields {
			report.Analyses[f] = stringOf(v, f)
		}
	}

	base := BaseName(info)
	report.PDFName = base
	inputIsPDF := strings.EqualFold(filepath.Ext(inputPath), ".pdf")
	if inputIsPDF && !p.settings.RenameInput {
		report.PDFName = strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	}

	var outFile, renamedPDF string
	if outputPath != "" {
		if st, err := os.Stat(outputPath); err == nil && st.IsDir() {
			outFile = uniquePath(outputPath, base, ".md", "")
			if inputIsPDF && p.settings.RenameInput {
				if _, err := os.Stat(inputPath); err == nil {
					renamedPDF = uniquePath(filepath.Dir(inputPath), base, ".pdf", inputPath)
					report.PDFName = strings.TrimSuffix(filepath.Base(renamedPDF), ".pdf")
				}
			}
		} else {
			outFile = outputPath
		}
	}

	markdown := report.Markdown()
	delta := workflow.Delta{FieldFinalReport: markdown}
	if outFile == "" {
		log.Info("report rendered, no output path set")
		return delta, nil
	}

	if err := os.MkdirAll(filepath.Dir(outFile), 0o755); err != nil {
		return nil, fmt.Errorf("create report directory: %w", err)
	}
	if err := os.WriteFile(outFile, []byte(markdown), 0o644); err != nil {
		return nil, fmt.Errorf("write report: %w", err)
	}
	delta[FieldReportPath] = outFile
	log.Info("report written", zap.String("path", outFile))

	if renamedPDF != "" && !sameFile(renamedPDF, inputPath) {
		if err := os.Rename(inputPath, renamedPDF); err != nil {
			log.Error("cannot rename input pdf", zap.String("to", renamedPDF), zap.Error(err))
		} else {
			log.Info("input pdf renamed", zap.String("to", renamedPDF))
		}
	}
	return delta, nil
}

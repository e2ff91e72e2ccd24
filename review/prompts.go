package review

import (
	"fmt"
	"strings"
)

const outputRequirements = `**Output Requirements:**
- Use bullet points (structured format, not prose)
- Keep under %d characters
- Use the same language as the paper`

func extractTitlePrompt(firstPages string) string {
	return `Extract the title of this academic paper. Return ONLY the title text, nothing else.

Paper content (first pages):
` + firstPages + `

Title:`
}

func extractAbstractPrompt(firstPages string) string {
	return `Extract the abstract of this academic paper. Return ONLY the abstract text, nothing else.

Paper content (first pages):
` + firstPages + `

Abstract:`
}

func extractConclusionPrompt(text string) string {
	return `Extract the conclusion section of this academic paper. Return ONLY the conclusion text, nothing else.

Paper content:
` + text + `

Conclusion:`
}

func extractBasicInfoPrompt(firstPages string) string {
	return `Extract the basic information from this academic paper.
Return a JSON object with the keys "authors" (list of author names), "year" (publication year as a string or null),
"affiliations" (list of institutions) and "journal" (journal or conference name or null).

Paper content (first pages):
` + firstPages
}

func extractKeywordsPrompt(abstract, firstPages string) string {
	return `Extract or identify the keywords from this academic paper.
If explicit keywords are listed, extract them. Otherwise, identify 5-10 key terms that best describe this paper.
Return a JSON object with the key "keywords" holding a list of strings.

Abstract:
` + abstract + `

Paper content (first pages):
` + firstPages
}

func reExtractKeywordsPrompt(existing, reference []string, title, abstract string) string {
	return `Based on the following keywords, title, and abstract, extract additional relevant keywords from the paper.

Existing keywords (extracted from paper):
` + joinOrNone(existing) + `

Reference keywords (from keyword file for context):
` + joinOrNone(reference) + `

Title:
` + title + `

Abstract:
` + abstract + `

Extract additional relevant keywords that are related to the existing keywords and appear in the title or abstract.
Return only keywords that are actually mentioned in the title or abstract.
Return a JSON object with the key "keywords" holding a list of strings.`
}

func detectPaperTypePrompt(firstPages string) string {
	return `Analyze this academic paper and determine its type.

PAPER TYPES:
1. "standard" - Original research paper with typical structure:
   - Has clear Introduction, Methods/Methodology, Results, Discussion/Conclusion
   - Presents original experiments, simulations, or theoretical work
   - Reports new findings from the authors' own research

2. "review" - Review, survey, or overview paper:
   - Summarizes and synthesizes existing literature
   - May have sections organized by topics/themes rather than methodology
   - Examples: Literature review, Systematic review, Survey paper, Tutorial, Overview
   - Does NOT follow the standard Introduction-Methods-Results structure

Analyze the paper structure and content to classify it.
Return a JSON object with the keys "paper_type" ("standard" or "review") and "reasoning" (a brief explanation).

Paper content (first pages):
` + firstPages
}

func extractSectionsPrompt(numbered string) string {
	return `Identify the EXACT line ranges for each major section category in this academic paper.

CRITICAL RULES:
- Line numbers are shown at the beginning of each line (e.g., "27|I. INTRODUCTION" means line 27)
- start_line: The EXACT line number where the FIRST relevant section header appears
- end_line: The line BEFORE the next category's section starts (NOT the next subsection within the same category)
- Multiple consecutive paper sections may belong to ONE category. Include ALL of them in the range.

SECTION CATEGORIES (each may contain MULTIPLE paper sections):

1. introduction: Introduction, Background, Literature Review, Related Work, Problem Statement
2. methods: Methods, Methodology, Approach, Theory, Mathematical Model, Simulation or Experimental Setup, System Design, Implementation
3. results: Results, Findings, Experiments, Evaluation, Analysis, Performance, Validation
4. discussion: Discussion, Conclusion, Summary, Future Work, Limitations (up to References/Acknowledgments)

If a category doesn't exist in the paper, set start_line and end_line to null.
Return a JSON object with the keys "introduction", "methods", "results" and "discussion",
each holding {"start_line": int|null, "end_line": int|null}.

Paper content (with line numbers):
` + numbered
}

func extractDynamicSectionsPrompt(numbered string) string {
	return `Identify ALL major content sections in this review/survey paper.

CRITICAL RULES:
- Line numbers are shown at the beginning of each line (e.g., "27|II. TYPES OF AGENTS" means line 27)
- Extract EVERY major section header with its exact name as written in the paper
- Include numbered sections (e.g., "II. Background", "3. Classification Methods")
- start_line: The line number where the section header appears
- end_line: The line BEFORE the next section starts

EXCLUDE Abstract, References/Bibliography, Acknowledgments and Appendix.
INCLUDE background, thematic or topic sections, methodology and discussion sections.

Return a JSON object with the key "sections" holding a list of {"name": string, "start_line": int, "end_line": int}.

Paper content (with line numbers):
` + numbered
}

// analyzerPrompt describes one standard-paper analyzer.
type analyzerPrompt struct {
	task    string
	include []string
	label   string
}

var analyzerPrompts = map[string]analyzerPrompt{
	FieldBackground: {
		task: "Analyze the research background and context of this academic paper.",
		include: []string{
			"The problem domain and its importance",
			"Previous work and literature context",
			"Gaps in existing research that this paper addresses",
			"Motivation for conducting this research",
		},
		label: "Research Background Analysis:",
	},
	FieldResearchPurpose: {
		task: "Analyze and clearly state the research purpose and objectives of this academic paper.",
		include: []string{
			"Main research questions or hypotheses",
			"Specific goals and objectives",
			"Scope and limitations of the research",
			"Expected contributions",
		},
		label: "Research Purpose Analysis:",
	},
	FieldMethodologies: {
		task: "Analyze the methodologies used in this academic paper.",
		include: []string{
			"Research design and approach",
			"Data collection methods",
			"Analysis techniques",
			"Tools, frameworks, or systems used",
			"Experimental setup (if applicable)",
		},
		label: "Methodology Analysis:",
	},
	FieldResults: {
		task: "Analyze the results and findings of this academic paper.",
		include: []string{
			"Key experimental or analytical results",
			"Statistical findings (if applicable)",
			"Comparisons with baseline or previous work",
			"Validation of hypotheses",
			"Unexpected or notable findings",
		},
		label: "Results Analysis:",
	},
	FieldKeypoints: {
		task: "Identify the key contributions and differentiators of this academic paper.",
		include: []string{
			"Novel contributions to the field",
			"What makes this work unique compared to prior research",
			"Practical implications and applications",
			"Theoretical advancements",
			"Future research directions suggested",
		},
		label: "Key Contributions and Differentiators:",
	},
}

func (a analyzerPrompt) render(maxLength int, title, abstract, content string) string {
	var b strings.Builder
	b.WriteString(a.task)
	b.WriteString("\n\nInclude:\n")
	for _, it := range a.include {
		b.WriteString("- ")
		b.WriteString(it)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	fmt.Fprintf(&b, outputRequirements, maxLength)
	fmt.Fprintf(&b, "\n\nTitle: %s\n\nAbstract:\n%s\n\nPaper Content:\n%s\n\n%s", title, abstract, content, a.label)
	return b.String()
}

func analyzeSectionPrompt(maxLength int, name, title, abstract, content string) string {
	var b strings.Builder
	b.WriteString(`Analyze and summarize this section from an academic review/survey paper.

Section Name: ` + name + `

Provide a comprehensive summary that includes:
- Main topics and concepts covered in this section
- Key findings, insights, or arguments presented
- Important classifications, categories, or frameworks mentioned
- Notable examples or case studies discussed
- Connections to other topics or sections

`)
	fmt.Fprintf(&b, outputRequirements, maxLength)
	b.WriteString("\n- Focus on the most important information")
	fmt.Fprintf(&b, "\n\nPaper Title: %s\n\nAbstract:\n%s\n\nSection Content:\n%s\n\nSection Summary:", title, abstract, content)
	return b.String()
}

func condensePrompt(maxLength int, content string) string {
	low := maxLength * 8 / 10
	return fmt.Sprintf(`Condense the following analysis to under %d characters.

Requirements:
- Keep bullet point format
- Preserve only the most critical information
- Use the same language as the original

**CRITICAL - DO NOT VIOLATE:**
1. DO NOT reduce too much below the limit. Target length should be close to %d characters (e.g., %d-%d characters).
2. NEVER change the structure of the text. Keep the exact same headings, bullet points, and hierarchy.

Original (%d characters):
%s

Condensed version (%d-%d characters, same structure):`,
		maxLength, maxLength, low, maxLength, charCount(content), content, low, maxLength)
}

func translatePrompt(languageName string, keys []string, batch map[string]string) string {
	var sections strings.Builder
	for i, k := range keys {
		if i > 0 {
			sections.WriteString("\n\n")
		}
		sections.WriteString("[" + k + "]\n" + batch[k])
	}
	return fmt.Sprintf(`Translate the following academic paper section analyses into %s.
Maintain the academic tone and technical terminology.

You MUST translate ALL %d sections below.
Return a JSON object with the key "items" holding one item per section with:
- key: the EXACT section name as provided (e.g., "%s")
- value: the translated text in %s

Sections to translate:

%s`, languageName, len(keys), keys[0], languageName, sections.String())
}

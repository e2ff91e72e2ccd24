package review

import "github.com/BaSui01/reviewflow/workflow"

// State field names.
const (
	FieldInputPath         = "input_path"
	FieldOutputPath        = "output_path"
	FieldPages             = "pages"
	FieldPageCount         = "page_count"
	FieldPaperType         = "paper_type"
	FieldExtractedSections = "extracted_sections"
	FieldDynamicSections   = "dynamic_sections"
	FieldTitle             = "title"
	FieldAbstract          = "abstract"
	FieldConclusion        = "conclusion"
	FieldBasicInfo         = "basic_info"
	FieldKeywords          = "keywords"
	FieldOriginalKeywords  = "original_keywords"
	FieldKeywordSynonyms   = "keyword_synonyms"
	FieldBackground        = "background"
	FieldResearchPurpose   = "research_purpose"
	FieldMethodologies     = "methodologies"
	FieldResults           = "results"
	FieldKeypoints         = "keypoints"
	FieldSectionAnalyses   = "section_analyses"
	FieldExceededFields    = "exceeded_fields"
	FieldFinalReport       = "final_report"
	FieldReportPath        = "report_path"
)

// Fan-out item keys of analyze_dynamic_section.
const (
	ItemSectionName    = "section_name"
	ItemSectionContent = "section_content"
)

// Paper types.
const (
	PaperStandard = "standard"
	PaperReview   = "review"
	PaperAuto     = "auto"
)

// Section categories of a standard paper.
const (
	SectionIntroduction = "introduction"
	SectionMethods      = "methods"
	SectionResults      = "results"
	SectionDiscussion   = "discussion"
)

// sectionKeyPrefix marks a review section in the exceeded field list.
const sectionKeyPrefix = "section:"

// AnalysisFields are the analyzer outputs of a standard paper, in report order.
var AnalysisFields = []string{
	FieldBackground,
	FieldResearchPurpose,
	FieldMethodologies,
	FieldResults,
	FieldKeypoints,
}

// BasicInfo is the bibliographic data of a paper.
type BasicInfo struct {
	Authors      []string `json:"authors"`
	Year         string   `json:"year"`
	Affiliations []string `json:"affiliations"`
	Journal      string   `json:"journal"`
}

// FirstAuthor returns the first author, or "".
func (b BasicInfo) FirstAuthor() string {
	if len(b.Authors) == 0 {
		return ""
	}
	return b.Authors[0]
}

// Section is a named slice of a review paper.
type Section struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// Schema declares the review state fields.
func Schema() *workflow.Schema {
	return workflow.NewSchema(
		workflow.FieldSpec{Name: FieldPages, Kind: workflow.FieldList, Once: true},
		workflow.FieldSpec{Name: FieldDynamicSections, Kind: workflow.FieldList, Once: true},
		workflow.FieldSpec{Name: FieldExtractedSections, Kind: workflow.FieldMap},
		workflow.FieldSpec{Name: FieldBasicInfo, Kind: workflow.FieldScalar},
		workflow.FieldSpec{Name: FieldKeywords, Kind: workflow.FieldList, Merge: workflow.MergeStrict},
		workflow.FieldSpec{Name: FieldOriginalKeywords, Kind: workflow.FieldList},
		workflow.FieldSpec{Name: FieldKeywordSynonyms, Kind: workflow.FieldMap},
		workflow.FieldSpec{
			Name:   FieldSectionAnalyses,
			Kind:   workflow.FieldMap,
			Reduce: workflow.ReduceWith(workflow.MergeMapReducer[string, string]()),
			Merge:  workflow.MergeUnion,
		},
		workflow.FieldSpec{Name: FieldExceededFields, Kind: workflow.FieldList},
	)
}

package embedding

import "strings"

// Purpose describes what an embedding will be used for.
type Purpose string

const (
	PurposeDocument   Purpose = "document"   // knowledge chunks being indexed
	PurposeQuery      Purpose = "query"      // a user's search or chat question
	PurposeQuestion   Purpose = "question"   // question answering over statutes
	PurposeSimilarity Purpose = "similarity" // generic matching
)

// SelectTaskType maps a purpose to a GenAI task type.
func SelectTaskType(p Purpose) string {
	switch p {
	case PurposeDocument:
		return "RETRIEVAL_DOCUMENT"
	case PurposeQuery:
		return "RETRIEVAL_QUERY"
	case PurposeQuestion:
		return "QUESTION_ANSWERING"
	default:
		return "SEMANTIC_SIMILARITY"
	}
}

// normalizeTaskType accepts configured task types in any case and falls
// back to SEMANTIC_SIMILARITY for unknown values.
func normalizeTaskType(taskType string) string {
	switch t := strings.ToUpper(strings.TrimSpace(taskType)); t {
	case "SEMANTIC_SIMILARITY", "CLASSIFICATION", "CLUSTERING", "RETRIEVAL_DOCUMENT",
		"RETRIEVAL_QUERY", "QUESTION_ANSWERING", "FACT_VERIFICATION":
		return t
	case "":
		return SelectTaskType(PurposeDocument)
	default:
		return SelectTaskType(PurposeSimilarity)
	}
}

package embedding

import "testing"

func TestSelectTaskType(t *testing.T) {
	if got := SelectTaskType(PurposeDocument); got != "RETRIEVAL_DOCUMENT" {
		t.Fatalf("SelectTaskType(document)=%q, want RETRIEVAL_DOCUMENT", got)
	}
	if got := SelectTaskType(PurposeQuery); got != "RETRIEVAL_QUERY" {
		t.Fatalf("SelectTaskType(query)=%q, want RETRIEVAL_QUERY", got)
	}
	if got := SelectTaskType(PurposeQuestion); got != "QUESTION_ANSWERING" {
		t.Fatalf("SelectTaskType(question)=%q, want QUESTION_ANSWERING", got)
	}
	if got := SelectTaskType("other"); got != "SEMANTIC_SIMILARITY" {
		t.Fatalf("SelectTaskType(other)=%q, want SEMANTIC_SIMILARITY", got)
	}
}

func TestNormalizeTaskType(t *testing.T) {
	cases := map[string]string{
		"":                   "RETRIEVAL_DOCUMENT",
		"retrieval_query":    "RETRIEVAL_QUERY",
		" CLUSTERING ":       "CLUSTERING",
		"CODE_RETRIEVAL_XYZ": "SEMANTIC_SIMILARITY",
	}
	for in, want := range cases {
		if got := normalizeTaskType(in); got != want {
			t.Errorf("normalizeTaskType(%q)=%q, want %q", in, got, want)
		}
	}
}

package notes

import (
	"sort"
	"strings"
)

// searchResultCap bounds the number of ranked results returned to a caller.
const searchResultCap = 50

// Field weights for the relevance score. A field contributes
// tokenCount x weight when any single token matches it; matches beyond the
// first token do not add more weight. The boolean-per-field policy is part of
// the ranking contract, not an optimization.
const (
	weightTitle       = 10
	weightAuthorName  = 8
	weightTags        = 6
	weightSubjectName = 5
	weightDescription = 4
	weightExtracted   = 2
)

// searchDoc pairs a note with the denormalized names the scorer matches
// against.
type searchDoc struct {
	note        *Note
	authorName  string
	subjectName string
}

// tokenizeQuery lowercases and whitespace-splits the raw query.
func tokenizeQuery(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

func anyTokenMatches(tokens []string, content string) bool {
	if content == "" {
		return false
	}
	lowered := strings.ToLower(content)
	for _, token := range tokens {
		if strings.Contains(lowered, token) {
			return true
		}
	}
	return false
}

// scoreDoc computes the weighted multi-field relevance score. Zero means no
// field matched any token.
func scoreDoc(tokens []string, doc searchDoc) int {
	if len(tokens) == 0 {
		return 0
	}
	type weightedField struct {
		content string
		weight  int
	}
	fields := []weightedField{
		{doc.note.Title, weightTitle},
		{doc.authorName, weightAuthorName},
		{strings.Join(doc.note.TagList(), " "), weightTags},
		{doc.subjectName, weightSubjectName},
		{doc.note.Description, weightDescription},
		{doc.note.ExtractedText, weightExtracted},
	}
	score := 0
	for _, field := range fields {
		if anyTokenMatches(tokens, field.content) {
			score += len(tokens) * field.weight
		}
	}
	return score
}

// rankDocs filters to scoring documents and orders them by score descending,
// then creation time descending, truncated to searchResultCap.
func rankDocs(tokens []string, docs []searchDoc) []Note {
	type scored struct {
		note  *Note
		score int
	}
	matches := make([]scored, 0, len(docs))
	for _, doc := range docs {
		score := scoreDoc(tokens, doc)
		if score > 0 {
			matches = append(matches, scored{note: doc.note, score: score})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].note.CreatedAt.After(matches[j].note.CreatedAt)
	})
	if len(matches) > searchResultCap {
		matches = matches[:searchResultCap]
	}
	results := make([]Note, 0, len(matches))
	for _, match := range matches {
		results = append(results, *match.note)
	}
	return results
}

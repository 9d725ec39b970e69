// Package query models cohort query terms and evaluates term sequences
// against the index: per-term postings resolution (polarity, hierarchy
// expansion, mention-time windows) and the alternating and/or combination.
package query

import (
	"net/http"

	apperrors "github.com/clincohort/cohort-explorer/pkg/errors"
)

// Polarity selects patients with or without a concept's mentions.
type Polarity uint8

const (
	With Polarity = iota
	Without
)

// Connector joins two adjacent terms in a sequence.
type Connector uint8

const (
	And Connector = iota
	Or
)

// TermDescriptor is one resolved query term. Window nil means no time
// filtering for the term.
type TermDescriptor struct {
	ConceptID      int
	Polarity       Polarity
	ExpandChildren bool
	Window         *TimeFilter
}

// ParsePolarity maps the wire values "with"/"without".
func ParsePolarity(s string) (Polarity, error) {
	switch s {
	case "with":
		return With, nil
	case "without":
		return Without, nil
	}
	return 0, apperrors.Newf(apperrors.ErrMalformedQuery, http.StatusBadRequest, "polarity must be \"with\" or \"without\", got %q", s)
}

// ParseConnector maps the wire values "and"/"or".
func ParseConnector(s string) (Connector, error) {
	switch s {
	case "and":
		return And, nil
	case "or":
		return Or, nil
	}
	return 0, apperrors.Newf(apperrors.ErrMalformedQuery, http.StatusBadRequest, "connector must be \"and\" or \"or\", got %q", s)
}

package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/clincohort/cohort-explorer/internal/aggregate"
	"github.com/clincohort/cohort-explorer/internal/engine"
	"github.com/clincohort/cohort-explorer/internal/facet"
	"github.com/clincohort/cohort-explorer/internal/query"
	apperrors "github.com/clincohort/cohort-explorer/pkg/errors"
)

// queryItem is one element of the wire term sequence. Even positions are
// terms (cui/with/child), odd positions are connectors (str).
type queryItem struct {
	Cui   string `json:"cui"`
	With  string `json:"with"`
	Child bool   `json:"child"`
	Str   string `json:"str"`
}

// timePayload mirrors the client's time-filter block. Key "0" is the
// all-time flag; enabling any of the other modes activates filtering.
type timePayload struct {
	AllTime bool   `json:"0"`
	Last5y  bool   `json:"1"`
	Last10y bool   `json:"2"`
	Custom  bool   `json:"3"`
	Min     string `json:"min"`
	Max     string `json:"max"`
}

type genderPayload struct {
	All     bool `json:"0"`
	Male    bool `json:"1"`
	Female  bool `json:"2"`
	Unknown bool `json:"3"`
}

type alivePayload struct {
	All   bool `json:"0"`
	Alive bool `json:"1"`
	Dead  bool `json:"2"`
}

type agePayload struct {
	All        bool   `json:"0"`
	Under21    bool   `json:"1"`
	From21to40 bool   `json:"2"`
	From41to60 bool   `json:"3"`
	Over60     bool   `json:"4"`
	Custom     bool   `json:"5"`
	Min        string `json:"min"`
	Max        string `json:"max"`
}

type ethnicityPayload struct {
	All     bool `json:"0"`
	Asian   bool `json:"1"`
	Black   bool `json:"2"`
	White   bool `json:"3"`
	Mixed   bool `json:"4"`
	Other   bool `json:"5"`
	Unknown bool `json:"6"`
}

type filterPayload struct {
	Time      timePayload      `json:"time"`
	Gender    genderPayload    `json:"gender"`
	Alive     alivePayload     `json:"alive"`
	Age       agePayload       `json:"age"`
	Ethnicity ethnicityPayload `json:"ethnicity"`
}

type queryRequest struct {
	QID    string        `json:"qid"`
	Query  []queryItem   `json:"query"`
	Filter filterPayload `json:"filter"`
}

type sessionRequest struct {
	QID    string        `json:"qid"`
	Filter filterPayload `json:"filter"`
}

type compareItem struct {
	Cui   string `json:"cui"`
	Child bool   `json:"child"`
	Str   string `json:"str"`
}

type compareRequest struct {
	QID          string        `json:"qid"`
	CompareQuery []compareItem `json:"compare_query"`
}

type keywordsRequest struct {
	Text  string `json:"text"`
	Limit int    `json:"limit"`
}

// buildCohortRequest validates the wire sequence (strict term/connector
// alternation) and assembles the engine request.
func buildCohortRequest(eng *engine.Engine, req queryRequest) (engine.CohortRequest, error) {
	window, err := parseTimeFilter(req.Filter.Time)
	if err != nil {
		return engine.CohortRequest{}, err
	}

	var descriptors []query.TermDescriptor
	var connectors []query.Connector
	for i, item := range req.Query {
		if i%2 == 0 {
			if item.Cui == "" {
				return engine.CohortRequest{}, apperrors.Newf(apperrors.ErrMalformedQuery, http.StatusBadRequest,
					"sequence position %d must be a term", i)
			}
			polarity, err := query.ParsePolarity(item.With)
			if err != nil {
				return engine.CohortRequest{}, err
			}
			descriptors = append(descriptors, query.TermDescriptor{
				ConceptID:      eng.ConceptIDByCode(item.Cui),
				Polarity:       polarity,
				ExpandChildren: item.Child,
				Window:         window,
			})
			continue
		}
		connector, err := query.ParseConnector(item.Str)
		if err != nil {
			return engine.CohortRequest{}, err
		}
		connectors = append(connectors, connector)
	}
	if len(req.Query) > 0 && len(req.Query)%2 == 0 {
		return engine.CohortRequest{}, apperrors.New(apperrors.ErrMalformedQuery, http.StatusBadRequest,
			"sequence must end with a term")
	}

	selection, err := parseSelection(req.Filter)
	if err != nil {
		return engine.CohortRequest{}, err
	}
	return engine.CohortRequest{
		SessionID:  req.QID,
		Terms:      descriptors,
		Connectors: connectors,
		Facets:     selection,
	}, nil
}

// parseTimeFilter converts the wire block to a TimeFilter, nil when inactive.
func parseTimeFilter(p timePayload) (*query.TimeFilter, error) {
	if !p.Last5y && !p.Last10y && !p.Custom {
		return nil, nil
	}
	window := &query.TimeFilter{
		Last5y:  p.Last5y,
		Last10y: p.Last10y,
		Custom:  p.Custom,
	}
	if p.Custom {
		if p.Min != "" {
			tsp, err := parseDate(p.Min)
			if err != nil {
				return nil, err
			}
			window.HasMin = true
			window.Min = tsp
		}
		if p.Max != "" {
			tsp, err := parseDate(p.Max)
			if err != nil {
				return nil, err
			}
			window.HasMax = true
			window.Max = tsp
		}
	}
	return window, nil
}

// parseDate accepts the client's calendar-date bounds, or a full RFC 3339
// timestamp, and returns Unix seconds.
func parseDate(s string) (int64, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.Unix(), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.Unix(), nil
	}
	return 0, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "unparsable date %q", s)
}

func parseSelection(p filterPayload) (facet.Selection, error) {
	age, err := parseAgeSelection(p.Age)
	if err != nil {
		return facet.Selection{}, err
	}
	return facet.Selection{
		Sex: facet.SexSelection{
			All:     p.Gender.All,
			Male:    p.Gender.Male,
			Female:  p.Gender.Female,
			Unknown: p.Gender.Unknown,
		},
		Vital: facet.VitalSelection{
			All:   p.Alive.All,
			Alive: p.Alive.Alive,
			Dead:  p.Alive.Dead,
		},
		Age: age,
		Ethnicity: facet.EthnicitySelection{
			All:     p.Ethnicity.All,
			Asian:   p.Ethnicity.Asian,
			Black:   p.Ethnicity.Black,
			White:   p.Ethnicity.White,
			Mixed:   p.Ethnicity.Mixed,
			Other:   p.Ethnicity.Other,
			Unknown: p.Ethnicity.Unknown,
		},
	}, nil
}

func parseAgeSelection(p agePayload) (facet.AgeSelection, error) {
	sel := facet.AgeSelection{
		All:        p.All,
		Under21:    p.Under21,
		From21to40: p.From21to40,
		From41to60: p.From41to60,
		Over60:     p.Over60,
		Custom:     p.Custom,
	}
	if p.Min != "" {
		min, err := strconv.Atoi(p.Min)
		if err != nil {
			return facet.AgeSelection{}, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "unparsable age bound %q", p.Min)
		}
		sel.HasMin = true
		sel.Min = min
	}
	if p.Max != "" {
		max, err := strconv.Atoi(p.Max)
		if err != nil {
			return facet.AgeSelection{}, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "unparsable age bound %q", p.Max)
		}
		sel.HasMax = true
		sel.Max = max
	}
	return sel, nil
}

func buildComparisons(eng *engine.Engine, items []compareItem) []aggregate.ComparisonTerm {
	comparisons := make([]aggregate.ComparisonTerm, len(items))
	for i, item := range items {
		comparisons[i] = aggregate.ComparisonTerm{
			ConceptID:      eng.ConceptIDByCode(item.Cui),
			ExpandChildren: item.Child,
			Label:          item.Str,
		}
	}
	return comparisons
}

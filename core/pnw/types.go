package pnw

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Nation is the subset of the upstream nation object the tracker reads.
type Nation struct {
	ID                  int64      `json:"id"`
	Name                string     `json:"name"`
	GroupID             *int64     `json:"group_id,omitempty"`
	GroupName           string     `json:"group_name"`
	Score               float64    `json:"score"`
	Cities              int        `json:"cities"`
	HiatusTurns         int        `json:"hiatus_turns"`
	BeigeTurns          int        `json:"beige_turns"`
	ProtectionAvailable bool       `json:"protection_available"`
	LastActive          *time.Time `json:"last_active,omitempty"`
}

func (n Nation) HasGroup() bool {
	return n.GroupID != nil && *n.GroupID != 0
}

type NationPage struct {
	Nations      []Nation
	HasMorePages bool
}

// flexInt accepts ids encoded either as JSON numbers or strings.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*f = 0
			return nil
		}
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return err
		}
		*f = flexInt(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = flexInt(int64(v))
	return nil
}

type gqlError struct {
	Message string `json:"message"`
}

type gqlResponse struct {
	Data   *gqlData   `json:"data"`
	Errors []gqlError `json:"errors"`
}

type gqlData struct {
	Nations *gqlNations `json:"nations"`
}

type gqlPaginator struct {
	HasMorePages bool `json:"hasMorePages"`
	CurrentPage  int  `json:"currentPage"`
}

type gqlNations struct {
	PaginatorInfo *gqlPaginator `json:"paginatorInfo"`
	Data          []gqlNation   `json:"data"`
}

type gqlAlliance struct {
	ID   flexInt `json:"id"`
	Name string  `json:"name"`
}

type gqlNation struct {
	ID                 flexInt      `json:"id"`
	NationName         string       `json:"nation_name"`
	AllianceID         flexInt      `json:"alliance_id"`
	Alliance           *gqlAlliance `json:"alliance"`
	Score              float64      `json:"score"`
	NumCities          int          `json:"num_cities"`
	VacationModeTurns  int          `json:"vacation_mode_turns"`
	BeigeTurns         int          `json:"beige_turns"`
	EspionageAvailable *bool        `json:"espionage_available"`
	LastActive         string       `json:"last_active"`
}

func (g gqlNation) toNation() Nation {
	n := Nation{
		ID:          int64(g.ID),
		Name:        g.NationName,
		Score:       g.Score,
		Cities:      g.NumCities,
		HiatusTurns: g.VacationModeTurns,
		BeigeTurns:  g.BeigeTurns,
	}
	groupID := int64(g.AllianceID)
	if g.Alliance != nil {
		if groupID == 0 {
			groupID = int64(g.Alliance.ID)
		}
		n.GroupName = g.Alliance.Name
	}
	if groupID != 0 {
		n.GroupID = &groupID
	}
	if g.EspionageAvailable != nil {
		n.ProtectionAvailable = *g.EspionageAvailable
	}
	if ts := parseUpstreamTime(g.LastActive); ts != nil {
		n.LastActive = ts
	}
	return n
}

func parseUpstreamTime(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

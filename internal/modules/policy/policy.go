// Package policy derives per-investor constraint sets from income brackets.
package policy

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/rs/zerolog"

	"advisor/internal/domain"
)

// Bracket binds an income ceiling to its constraint set. A nil Ceiling means
// no upper bound. Brackets are ordered by ceiling; the first ceiling above
// the income applies.
type Bracket struct {
	Ceiling        *float64 `json:"ceiling"`
	Label          string   `json:"label"`
	NameCap        float64  `json:"name_cap"`
	SectorCap      float64  `json:"sector_cap"`
	CashFloor      float64  `json:"cash_floor"`
	TurnoverBudget float64  `json:"turnover_budget"`
}

func ceiling(v float64) *float64 { return &v }

// defaultTable is compiled in; a table file replaces it when configured.
var defaultTable = []Bracket{
	{Ceiling: ceiling(30_000), Label: "low", NameCap: 0.04, SectorCap: 0.25, CashFloor: 0.12, TurnoverBudget: 0.20},
	{Ceiling: ceiling(75_000), Label: "medium", NameCap: 0.05, SectorCap: 0.28, CashFloor: 0.10, TurnoverBudget: 0.25},
	{Ceiling: ceiling(150_000), Label: "high", NameCap: 0.08, SectorCap: 0.32, CashFloor: 0.06, TurnoverBudget: 0.35},
	{Ceiling: nil, Label: "very_high", NameCap: 0.10, SectorCap: 0.35, CashFloor: 0.04, TurnoverBudget: 0.50},
}

// Engine maps investor profiles to policies.
type Engine struct {
	table  []Bracket
	logger zerolog.Logger
}

// NewEngine creates a policy engine with the built-in bracket table.
func NewEngine(logger zerolog.Logger) *Engine {
	return newEngine(defaultTable, logger)
}

// NewEngineFromFile creates a policy engine from a JSON bracket table.
// Rows that violate the cap ordering invariant are clamped into validity and
// logged, never rejected.
func NewEngineFromFile(path string, logger zerolog.Logger) (*Engine, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy table: %w", err)
	}
	var table []Bracket
	if err := json.Unmarshal(raw, &table); err != nil {
		return nil, fmt.Errorf("failed to parse policy table: %w", err)
	}
	if len(table) == 0 {
		return nil, fmt.Errorf("policy table %s is empty", path)
	}
	return newEngine(table, logger), nil
}

func newEngine(table []Bracket, logger zerolog.Logger) *Engine {
	log := logger.With().Str("component", "policy").Logger()

	rows := make([]Bracket, len(table))
	copy(rows, table)
	sort.SliceStable(rows, func(i, j int) bool {
		return boundOf(rows[i]) < boundOf(rows[j])
	})
	for i, row := range rows {
		clamped := clamp(toPolicy(row))
		if clamped != toPolicy(row) {
			log.Warn().Str("bracket", row.Label).Msg("policy bracket violated cap ordering, clamped")
			rows[i].NameCap = clamped.NameCap
			rows[i].SectorCap = clamped.SectorCap
			rows[i].CashFloor = clamped.CashFloor
			rows[i].TurnoverBudget = clamped.TurnoverBudget
		}
	}

	return &Engine{table: rows, logger: log}
}

func boundOf(b Bracket) float64 {
	if b.Ceiling == nil {
		return math.Inf(1)
	}
	return *b.Ceiling
}

func toPolicy(b Bracket) domain.Policy {
	return domain.Policy{
		NameCap:        b.NameCap,
		SectorCap:      b.SectorCap,
		CashFloor:      b.CashFloor,
		TurnoverBudget: b.TurnoverBudget,
		Bracket:        b.Label,
	}
}

// Derive returns the policy for a profile. Total over all incomes: anything
// below the lowest ceiling lands in the first bracket, anything above every
// ceiling in the last.
func (e *Engine) Derive(profile *domain.InvestorProfile) domain.Policy {
	row := e.table[len(e.table)-1]
	for _, candidate := range e.table {
		if profile.AnnualIncome < boundOf(candidate) {
			row = candidate
			break
		}
	}

	p := toPolicy(row)
	e.logger.Debug().
		Str("bracket", p.Bracket).
		Float64("name_cap", p.NameCap).
		Float64("sector_cap", p.SectorCap).
		Float64("cash_floor", p.CashFloor).
		Float64("turnover_budget", p.TurnoverBudget).
		Msg("derived policy")
	return p
}

// clamp forces a policy into the cap ordering invariant
// 0 <= nameCap <= sectorCap <= 1 - cashFloor.
func clamp(p domain.Policy) domain.Policy {
	if p.CashFloor < 0 {
		p.CashFloor = 0
	}
	if p.CashFloor > 1 {
		p.CashFloor = 1
	}
	investable := 1 - p.CashFloor
	if p.SectorCap > investable {
		p.SectorCap = investable
	}
	if p.SectorCap < 0 {
		p.SectorCap = 0
	}
	if p.NameCap > p.SectorCap {
		p.NameCap = p.SectorCap
	}
	if p.NameCap < 0 {
		p.NameCap = 0
	}
	if p.TurnoverBudget < 0 {
		p.TurnoverBudget = 0
	}
	return p
}

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/kelseyhightower/envconfig"

	"github.com/dominusnolan/court-booking/internal/model"
)

// scheduleEnv is the part of the schedule that fits in plain variables.
type scheduleEnv struct {
	CourtCount     int             `envconfig:"COURT_COUNT" default:"4"`
	Opening        model.ClockTime `envconfig:"OPENING_TIME" default:"07:00"`
	Closing        model.ClockTime `envconfig:"CLOSING_TIME" default:"23:00"`
	SlotMinutes    int             `envconfig:"SLOT_MINUTES" default:"60"`
	PriceCents     int64           `envconfig:"SLOT_PRICE_CENTS" default:"2500"`
	CurrencySymbol string          `envconfig:"CURRENCY_SYMBOL" default:"$"`
	Timezone       string          `envconfig:"TIMEZONE" default:"UTC"`
	RulesFile      string          `envconfig:"SCHEDULE_RULES_FILE"`
}

// ScheduleRules is the JSON document named by SCHEDULE_RULES_FILE.
//
//	{
//	  "blackouts": [{"weekday": 1, "start": "07:00", "end": "09:00"},
//	                {"court_id": 2, "weekday": 3, "start": "18:00", "end": "20:00"}],
//	  "full_day_holidays": ["2025-12-25"],
//	  "partial_holidays": [{"date": "2025-12-24", "start": "18:00", "end": "23:00"}]
//	}
type ScheduleRules struct {
	Blackouts       []model.BlackoutRule   `json:"blackouts"`
	FullDayHolidays []string               `json:"full_day_holidays"`
	PartialHolidays []model.PartialHoliday `json:"partial_holidays"`
}

// LoadSchedule builds the initial schedule snapshot from the environment and
// the optional rules file.
func LoadSchedule() (*model.Schedule, error) {
	var env scheduleEnv
	if err := envconfig.Process("", &env); err != nil {
		return nil, fmt.Errorf("schedule env: %w", err)
	}
	s := &model.Schedule{
		Version:        1,
		CourtCount:     env.CourtCount,
		Opening:        env.Opening,
		Closing:        env.Closing,
		SlotMinutes:    env.SlotMinutes,
		PriceCents:     env.PriceCents,
		CurrencySymbol: env.CurrencySymbol,
		Timezone:       env.Timezone,
	}
	if env.RulesFile != "" {
		rules, err := readRules(env.RulesFile)
		if err != nil {
			return nil, err
		}
		s.Blackouts = rules.Blackouts
		s.FullDayHolidays = rules.FullDayHolidays
		s.PartialHolidays = rules.PartialHolidays
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func readRules(path string) (ScheduleRules, error) {
	var rules ScheduleRules
	raw, err := os.ReadFile(path)
	if err != nil {
		return rules, fmt.Errorf("read schedule rules: %w", err)
	}
	if err := json.Unmarshal(raw, &rules); err != nil {
		return rules, fmt.Errorf("parse schedule rules %s: %w", path, err)
	}
	return rules, nil
}

// ScheduleStore hands out the current schedule snapshot.  Readers never see
// a half-applied update; every replacement gets a new version.
type ScheduleStore struct {
	mu  sync.Mutex
	cur atomic.Pointer[model.Schedule]
}

// NewScheduleStore wraps an already validated schedule.
func NewScheduleStore(initial *model.Schedule) *ScheduleStore {
	st := &ScheduleStore{}
	st.cur.Store(initial)
	return st
}

// Current returns the active snapshot.  Callers must not modify it.
func (st *ScheduleStore) Current() *model.Schedule { return st.cur.Load() }

// Replace validates next and swaps it in with the following version number.
func (st *ScheduleStore) Replace(next model.Schedule) (*model.Schedule, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := next.Validate(); err != nil {
		return nil, err
	}
	if cur := st.cur.Load(); cur != nil {
		next.Version = cur.Version + 1
	} else {
		next.Version = 1
	}
	st.cur.Store(&next)
	return &next, nil
}

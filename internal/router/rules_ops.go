package router

import (
	"github.com/sinktab/sinktab/internal/rules"
	"github.com/sinktab/sinktab/internal/sinkcdp"
)

// Rules-store pass-throughs so the HTTP surface talks to one service.
// Validation errors from the store are wrapped into the coded taxonomy
// here, at the operation boundary.

func (s *Service) Rules() []rules.Rule {
	return s.rules.Rules()
}

func (s *Service) ReplaceRules(list []rules.Rule) error {
	if err := s.rules.Replace(list); err != nil {
		return &sinkcdp.CodedError{Code: sinkcdp.CodeValidation, Message: err.Error()}
	}
	return nil
}

func (s *Service) UpsertRule(rule rules.Rule) error {
	if err := s.rules.Upsert(rule); err != nil {
		return &sinkcdp.CodedError{Code: sinkcdp.CodeValidation, Message: err.Error()}
	}
	return nil
}

func (s *Service) DeleteRule(pattern string) error {
	return s.rules.Delete(pattern)
}

func (s *Service) Settings() rules.Settings {
	return s.rules.Settings()
}

func (s *Service) UpdateSettings(set rules.Settings) error {
	return s.rules.UpdateSettings(set)
}

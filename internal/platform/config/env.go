package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// ParseEnv fills target from its `env` tags. Every malformed variable is
// reported in one error so a bad deployment is fixed in a single pass.
func ParseEnv(target any) error {
	err := env.Parse(target)
	if err == nil {
		return nil
	}
	var aggregate env.AggregateError
	if !errors.As(err, &aggregate) || len(aggregate.Errors) < 2 {
		return fmt.Errorf("parse env: %w", err)
	}
	problems := make([]string, 0, len(aggregate.Errors))
	for _, problem := range aggregate.Errors {
		problems = append(problems, problem.Error())
	}
	return fmt.Errorf("parse env: %d problems: %s: %w", len(problems), strings.Join(problems, "; "), err)
}

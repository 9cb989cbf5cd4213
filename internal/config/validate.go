package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spachava753/sortbatch/internal/models"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks a fully resolved batch configuration, including its stage params.
func Validate(cfg models.BatchConfig) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid batch config: %w", describe(err))
	}
	if len(cfg.Epochs) == 0 {
		return errors.New("invalid batch config: at least one epoch is required")
	}
	seen := make(map[string]int, len(cfg.Epochs))
	for i, ep := range cfg.Epochs {
		if j, ok := seen[ep]; ok {
			return fmt.Errorf("invalid batch config: epochs[%d] duplicates epochs[%d] (%s)", i, j, ep)
		}
		seen[ep] = i
	}
	return nil
}

// ValidateStageParams checks stage params on their own, for commands that do
// not need a full batch.
func ValidateStageParams(p models.StageParams) error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("invalid stage params: %w", describe(err))
	}
	return nil
}

func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s (got %v)", fe.Namespace(), fe.Tag(), fe.Param(), fe.Value()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s", fe.Namespace(), fe.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}

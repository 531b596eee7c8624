package pipelines

import (
	"errors"
	"fmt"
)

var (
	errEmptyName = errors.New("pipeline definition requires a name")
	errNoSteps   = errors.New("pipeline definition requires at least one step")
)

type duplicateStepError struct{ Name string }

func (e *duplicateStepError) Error() string {
	return fmt.Sprintf("duplicate step name %q in pipeline definition", e.Name)
}

type compensationDisabledError struct{ Step string }

func (e *compensationDisabledError) Error() string {
	return fmt.Sprintf("step %q declares compensation but pipeline has compensation disabled", e.Step)
}

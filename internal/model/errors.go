package model

import (
	"fmt"

	"github.com/Veraticus/lookalike/internal/common"
)

// ClassMismatchError reports two class indices that were expected to agree.
type ClassMismatchError struct {
	Context  string
	Expected []string
	Actual   []string
}

func (e *ClassMismatchError) Error() string {
	return fmt.Sprintf("class mismatch (%s): expected %v, got %v", e.Context, e.Expected, e.Actual)
}

// Is makes the error match common.ErrClassMismatch.
func (e *ClassMismatchError) Is(target error) bool {
	return target == common.ErrClassMismatch
}

// CheckClasses returns a ClassMismatchError when actual differs from expected.
func CheckClasses(context string, expected, actual ClassIndex) error {
	if expected.Equal(actual) {
		return nil
	}
	return &ClassMismatchError{
		Context:  context,
		Expected: expected.Names(),
		Actual:   actual.Names(),
	}
}

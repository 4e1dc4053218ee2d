// Package processor cleans students between reader and writer.
package processor

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/tigerroll/chunkbatch/example/student/internal/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

const moduleName = "studentProcessor"

// StudentProcessor trims the names and email of a student. A student without an ID is
// filtered out; an unparsable email fails the item with a skippable TransformError.
type StudentProcessor struct{}

func NewStudentProcessor() *StudentProcessor {
	return &StudentProcessor{}
}

var _ port.ItemProcessor[model.Student, model.Student] = (*StudentProcessor)(nil)

func (p *StudentProcessor) Process(ctx context.Context, s model.Student) (model.Student, bool, error) {
	if s.ID == 0 {
		logger.Debugf("StudentProcessor: filtering student without ID (%s %s).", s.FirstName, s.LastName)
		return s, false, nil
	}
	s.FirstName = strings.TrimSpace(s.FirstName)
	s.LastName = strings.TrimSpace(s.LastName)
	s.Email = strings.ToLower(strings.TrimSpace(s.Email))

	addr, err := mail.ParseAddress(s.Email)
	if err != nil || addr.Address != s.Email {
		return s, false, exception.NewTransformError(moduleName, fmt.Sprintf("student %d has an invalid email '%s'", s.ID, s.Email), err)
	}
	return s, true, nil
}

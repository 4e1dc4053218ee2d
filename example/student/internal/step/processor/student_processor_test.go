package processor_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/chunkbatch/example/student/internal/domain/model"
	"github.com/tigerroll/chunkbatch/example/student/internal/step/processor"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

func TestStudentProcessor(t *testing.T) {
	p := processor.NewStudentProcessor()
	ctx := context.Background()

	t.Run("trims", func(t *testing.T) {
		out, keep, err := p.Process(ctx, model.Student{ID: 1, FirstName: " John ", LastName: "Smith\t", Email: " John.Smith@Example.com "})
		require.NoError(t, err)
		assert.True(t, keep)
		assert.Equal(t, model.Student{ID: 1, FirstName: "John", LastName: "Smith", Email: "john.smith@example.com"}, out)
	})

	t.Run("filters missing id", func(t *testing.T) {
		_, keep, err := p.Process(ctx, model.Student{FirstName: "No", LastName: "Id", Email: "no.id@example.com"})
		require.NoError(t, err)
		assert.False(t, keep)
	})

	t.Run("rejects invalid email", func(t *testing.T) {
		_, _, err := p.Process(ctx, model.Student{ID: 2, Email: "not-an-email"})
		require.Error(t, err)
		assert.True(t, exception.IsTransformError(err))
		assert.True(t, exception.IsSkippable(err))
	})

	t.Run("rejects display name", func(t *testing.T) {
		_, _, err := p.Process(ctx, model.Student{ID: 3, Email: "Jane <jane@example.com>"})
		assert.Error(t, err)
	})
}

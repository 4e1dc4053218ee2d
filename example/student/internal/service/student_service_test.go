package service_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/tigerroll/chunkbatch/example/student/internal/config"
	"github.com/tigerroll/chunkbatch/example/student/internal/domain/model"
	"github.com/tigerroll/chunkbatch/example/student/internal/service"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

func drain(t *testing.T, s *service.StudentService) []model.Student {
	t.Helper()
	var out []model.Student
	for {
		st, err := s.GetStudent(context.Background())
		require.NoError(t, err)
		if st == nil {
			return out
		}
		out = append(out, *st)
	}
}

func TestStudentService_BuiltInRoster(t *testing.T) {
	s := service.NewStudentService(appconfig.ServiceConfig{})

	students := drain(t, s)
	require.Len(t, students, 10)
	assert.Equal(t, int64(1), students[0].ID)
	assert.Equal(t, int64(10), students[9].ID)

	again, err := s.GetStudent(context.Background())
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestStudentService_FetchesFromURL(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]model.Student{
			{ID: 7, FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com"},
			{ID: 8, FirstName: "Alan", LastName: "Turing", Email: "alan@example.com"},
		})
	}))
	defer srv.Close()

	s := service.NewStudentService(appconfig.ServiceConfig{URL: srv.URL})
	students := drain(t, s)

	require.Len(t, students, 2)
	assert.Equal(t, "Ada", students[0].FirstName)
	assert.Equal(t, 1, calls)
}

func TestStudentService_ServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := service.NewStudentService(appconfig.ServiceConfig{URL: srv.URL})
	_, err := s.GetStudent(context.Background())

	require.Error(t, err)
	assert.True(t, exception.IsRetryable(err))
	assert.False(t, exception.IsSkippable(err), "an outage must not skip items")
}

func TestStudentService_UnreachableServiceIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	s := service.NewStudentService(appconfig.ServiceConfig{URL: url, TimeoutSeconds: 1})
	_, err := s.GetStudent(context.Background())

	require.Error(t, err)
	assert.True(t, exception.IsRetryable(err))
	assert.False(t, exception.IsSkippable(err))
}

func TestStudentService_ClientErrorIsNeitherRetriedNorSkipped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such roster", http.StatusNotFound)
	}))
	defer srv.Close()

	s := service.NewStudentService(appconfig.ServiceConfig{URL: srv.URL})
	_, err := s.GetStudent(context.Background())

	require.Error(t, err)
	assert.False(t, exception.IsRetryable(err))
	assert.False(t, exception.IsSkippable(err))
}

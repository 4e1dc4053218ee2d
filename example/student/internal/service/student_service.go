// Package service provides the StudentService the adapter reader pulls students from.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	appconfig "github.com/tigerroll/chunkbatch/example/student/internal/config"
	"github.com/tigerroll/chunkbatch/example/student/internal/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

const moduleName = "studentService"

// roster is served when no URL is configured.
var roster = []model.Student{
	{ID: 1, FirstName: "John", LastName: "Smith", Email: "john.smith@example.com"},
	{ID: 2, FirstName: "Sachin", LastName: "Dave", Email: "sachin.dave@example.com"},
	{ID: 3, FirstName: "Peter", LastName: "Mark", Email: "peter.mark@example.com"},
	{ID: 4, FirstName: "Martin", LastName: "Smith", Email: "martin.smith@example.com"},
	{ID: 5, FirstName: "Raj", LastName: "Patel", Email: "raj.patel@example.com"},
	{ID: 6, FirstName: "Virat", LastName: "Kohli", Email: "virat.kohli@example.com"},
	{ID: 7, FirstName: "Prabhas", LastName: "Sharma", Email: "prabhas.sharma@example.com"},
	{ID: 8, FirstName: "Mary", LastName: "Jane", Email: "mary.jane@example.com"},
	{ID: 9, FirstName: "Sunil", LastName: "Rao", Email: "sunil.rao@example.com"},
	{ID: 10, FirstName: "Emma", LastName: "Wong", Email: "emma.wong@example.com"},
}

// StudentService hands out students one at a time. The list is fetched from the
// configured URL, or taken from the built-in roster, on the first call; once it is
// drained GetStudent returns nil.
type StudentService struct {
	url    string
	client *http.Client

	mu       sync.Mutex
	loaded   bool
	students []model.Student
}

func NewStudentService(cfg appconfig.ServiceConfig) *StudentService {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &StudentService{
		url:    cfg.URL,
		client: &http.Client{Timeout: timeout},
	}
}

// GetStudent returns the next student, or nil when none are left.
func (s *StudentService) GetStudent(ctx context.Context) (*model.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		students, err := s.load(ctx)
		if err != nil {
			return nil, err
		}
		s.students = students
		s.loaded = true
	}
	if len(s.students) == 0 {
		return nil, nil
	}
	next := s.students[0]
	s.students = s.students[1:]
	return &next, nil
}

// Rewind makes the next GetStudent start again from the first student.
func (s *StudentService) Rewind() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = false
	s.students = nil
}

func (s *StudentService) load(ctx context.Context) ([]model.Student, error) {
	if s.url == "" {
		students := make([]model.Student, len(roster))
		copy(students, roster)
		logger.Debugf("StudentService: serving %d students from the built-in roster.", len(students))
		return students, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to create student request", err, false, false)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, "student API call failed", err, false, true)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		text := strings.TrimSpace(string(body))
		msg := fmt.Sprintf("error response from student API: status code %d", resp.StatusCode)
		return nil, exception.NewBatchError(moduleName, msg, errors.New(text), false, resp.StatusCode >= 500)
	}

	var students []model.Student
	if err := json.NewDecoder(resp.Body).Decode(&students); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to decode student API response", err, false, false)
	}
	logger.Infof("StudentService: fetched %d students from %s.", len(students), s.url)
	return students, nil
}

package reader

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/storage"
	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/storage/local"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

type student struct {
	ID        int    `json:"id" xml:"id"`
	FirstName string `json:"firstName" xml:"firstName"`
	LastName  string `json:"lastName" xml:"lastName"`
	Email     string `json:"email" xml:"email"`
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func newResolver(t *testing.T) *storage.ConnectionResolver {
	t.Helper()
	r := storage.NewConnectionResolver(nil, storage.NamedFactory{Type: storage.TypeLocal, Factory: local.NewLocalAdapter})
	t.Cleanup(func() { r.CloseAll() })
	return r
}

// readAll drains r, collecting items and the errors of rejected items.
func readAll[T any](t *testing.T, read func(context.Context) (T, error)) ([]T, []error) {
	t.Helper()
	var items []T
	var errs []error
	for i := 0; i < 100; i++ {
		item, err := read(context.Background())
		if err == io.EOF {
			return items, errs
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		items = append(items, item)
	}
	t.Fatal("reader did not reach the end")
	return nil, nil
}

const studentsCSV = `ID|First Name|Last Name|Email
1|Ada|Lovelace|ada@example.com
2|Alan|Turing|alan@example.com
x|Grace|Hopper|grace@example.com
4|Edsger|Dijkstra|edsger@example.com
`

func flatFileConfig(path string) FlatFileConfig {
	return FlatFileConfig{
		Resource:    path,
		Delimiter:   "|",
		Names:       []string{"ID", "First Name", "Last Name", "Email"},
		LinesToSkip: 1,
	}
}

func TestFlatFileItemReader_ReadsAndRejectsBadLines(t *testing.T) {
	path := writeFile(t, "students.csv", studentsCSV)
	r, err := NewFlatFileItemReader[student]("studentReader", flatFileConfig(path), newResolver(t), nil)
	require.NoError(t, err)
	require.NoError(t, r.Open(context.Background(), model.NewExecutionContext()))
	defer r.Close(context.Background())

	items, errs := readAll(t, r.Read)
	require.Len(t, items, 3)
	assert.Equal(t, student{ID: 1, FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com"}, items[0])
	assert.Equal(t, 4, items[2].ID)
	require.Len(t, errs, 1)
	assert.True(t, exception.IsSourceReadError(errs[0]))
	assert.Contains(t, errs[0].Error(), "line 4")

	ec, err := r.GetExecutionContext(context.Background())
	require.NoError(t, err)
	n, ok := ec.GetInt("studentReader.read.count")
	require.True(t, ok)
	assert.Equal(t, 4, n)
}

func TestFlatFileItemReader_RestartsAfterConsumedItems(t *testing.T) {
	path := writeFile(t, "students.csv", studentsCSV)
	r, err := NewFlatFileItemReader[student]("studentReader", flatFileConfig(path), newResolver(t), nil)
	require.NoError(t, err)

	ec := model.NewExecutionContext()
	ec.Put("studentReader.read.count", 3)
	require.NoError(t, r.Open(context.Background(), ec))
	defer r.Close(context.Background())

	items, errs := readAll(t, r.Read)
	assert.Empty(t, errs)
	require.Len(t, items, 1)
	assert.Equal(t, "Edsger", items[0].FirstName)
}

func TestFlatFileItemReader_CurrentAndMaxItemCount(t *testing.T) {
	path := writeFile(t, "students.csv", studentsCSV)
	cfg := flatFileConfig(path)
	cfg.CurrentItemCount = 1
	cfg.MaxItemCount = 2
	r, err := NewFlatFileItemReader[student]("studentReader", cfg, newResolver(t), nil)
	require.NoError(t, err)
	require.NoError(t, r.Open(context.Background(), model.NewExecutionContext()))
	defer r.Close(context.Background())

	items, errs := readAll(t, r.Read)
	assert.Empty(t, errs)
	require.Len(t, items, 1)
	assert.Equal(t, "Alan", items[0].FirstName)
}

func TestFlatFileItemReader_StrictTokenCount(t *testing.T) {
	path := writeFile(t, "students.csv", "1|Ada|Lovelace\n")
	cfg := flatFileConfig(path)
	cfg.LinesToSkip = 0
	cfg.Strict = true
	r, err := NewFlatFileItemReader[student]("studentReader", cfg, newResolver(t), nil)
	require.NoError(t, err)
	require.NoError(t, r.Open(context.Background(), model.NewExecutionContext()))
	defer r.Close(context.Background())

	_, err = r.Read(context.Background())
	assert.True(t, exception.IsSourceReadError(err))
	assert.Contains(t, err.Error(), "3 tokens, expected 4")
}

func TestFlatFileItemReader_RejectsBadConfig(t *testing.T) {
	_, err := NewFlatFileItemReader[student]("r", FlatFileConfig{Names: []string{"id"}}, newResolver(t), nil)
	assert.Error(t, err)
	_, err = NewFlatFileItemReader[student]("r", FlatFileConfig{Resource: "a.csv", Delimiter: "||", Names: []string{"id"}}, newResolver(t), nil)
	assert.Error(t, err)
	_, err = NewFlatFileItemReader[student]("r", FlatFileConfig{Resource: "a.csv"}, newResolver(t), nil)
	assert.Error(t, err)
}

func TestFlatFileItemReader_ReadBeforeOpen(t *testing.T) {
	r, err := NewFlatFileItemReader[student]("r", flatFileConfig("a.csv"), newResolver(t), nil)
	require.NoError(t, err)
	_, err = r.Read(context.Background())
	assert.Error(t, err)
}

func TestJSONItemReader_ReadsArray(t *testing.T) {
	path := writeFile(t, "students.json", `[
  {"id": 1, "firstName": "Ada"},
  {"id": "two", "firstName": "Alan"},
  {"id": 3, "firstName": "Grace"}
]`)
	r, err := NewJSONItemReader[student]("jsonReader", JSONConfig{Resource: path}, newResolver(t))
	require.NoError(t, err)
	require.NoError(t, r.Open(context.Background(), model.NewExecutionContext()))
	defer r.Close(context.Background())

	items, errs := readAll(t, r.Read)
	require.Len(t, items, 2)
	assert.Equal(t, "Grace", items[1].FirstName)
	require.Len(t, errs, 1)
	assert.True(t, exception.IsSourceReadError(errs[0]))
	assert.Equal(t, 3, r.Count())
}

func TestJSONItemReader_Restart(t *testing.T) {
	path := writeFile(t, "students.json", `[{"id": 1}, {"id": 2}, {"id": 3}]`)
	r, err := NewJSONItemReader[student]("jsonReader", JSONConfig{Resource: path}, newResolver(t))
	require.NoError(t, err)
	ec := model.NewExecutionContext()
	ec.Put(r.ReadCountKey(), 2)
	require.NoError(t, r.Open(context.Background(), ec))
	defer r.Close(context.Background())

	items, errs := readAll(t, r.Read)
	assert.Empty(t, errs)
	require.Len(t, items, 1)
	assert.Equal(t, 3, items[0].ID)
}

func TestJSONItemReader_RequiresArray(t *testing.T) {
	path := writeFile(t, "student.json", `{"id": 1}`)
	r, err := NewJSONItemReader[student]("jsonReader", JSONConfig{Resource: path}, newResolver(t))
	require.NoError(t, err)
	err = r.Open(context.Background(), model.NewExecutionContext())
	assert.Error(t, err)
	assert.False(t, exception.IsSourceReadError(err))
	require.NoError(t, r.Close(context.Background()))
}

func TestXMLItemReader_ReadsFragments(t *testing.T) {
	path := writeFile(t, "students.xml", `<?xml version="1.0"?>
<students>
  <header><generated>today</generated></header>
  <student><id>1</id><firstName>Ada</firstName></student>
  <group>
    <student><id>2</id><firstName>Alan</firstName></student>
  </group>
  <student><id>3</id><firstName>Grace</firstName></student>
</students>`)
	cfg := XMLConfig{Resource: path, FragmentRootElement: "student"}
	r, err := NewXMLItemReader[student]("xmlReader", cfg, newResolver(t))
	require.NoError(t, err)
	require.NoError(t, r.Open(context.Background(), model.NewExecutionContext()))
	defer r.Close(context.Background())

	items, errs := readAll(t, r.Read)
	assert.Empty(t, errs)
	require.Len(t, items, 3)
	assert.Equal(t, "Alan", items[1].FirstName)

	cfg.MaxItemCount = 3
	restarted, err := NewXMLItemReader[student]("xmlReader", cfg, newResolver(t))
	require.NoError(t, err)
	ec := model.NewExecutionContext()
	ec.Put(restarted.ReadCountKey(), 2)
	require.NoError(t, restarted.Open(context.Background(), ec))
	defer restarted.Close(context.Background())
	items, _ = readAll(t, restarted.Read)
	require.Len(t, items, 1)
	assert.Equal(t, 3, items[0].ID)
}

func TestXMLItemReader_RequiresFragmentRoot(t *testing.T) {
	_, err := NewXMLItemReader[student]("xmlReader", XMLConfig{Resource: "a.xml"}, newResolver(t))
	assert.Error(t, err)
}

func TestSqlCursorReader_MapsColumnsAndRestarts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	columns := []string{"id", "first_name", "last_name", "email"}
	mock.ExpectQuery("SELECT id, first_name, last_name, email FROM students ORDER BY id").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(1, []byte("Ada"), "Lovelace", "ada@example.com").
			AddRow(2, []byte("Alan"), "Turing", "alan@example.com").
			AddRow(3, []byte("Grace"), "Hopper", "grace@example.com"))

	cfg := SQLCursorConfig{Query: "SELECT id, first_name, last_name, email FROM students ORDER BY id"}
	r, err := NewSqlCursorReader[student](db, "cursorReader", cfg, nil)
	require.NoError(t, err)

	ec := model.NewExecutionContext()
	ec.Put(r.ReadCountKey(), 1)
	require.NoError(t, r.Open(context.Background(), ec))

	items, errs := readAll(t, r.Read)
	assert.Empty(t, errs)
	require.Len(t, items, 2)
	assert.Equal(t, student{ID: 2, FirstName: "Alan", LastName: "Turing", Email: "alan@example.com"}, items[0])

	out, err := r.GetExecutionContext(context.Background())
	require.NoError(t, err)
	n, _ := out.GetInt(r.ReadCountKey())
	assert.Equal(t, 3, n)

	require.NoError(t, r.Close(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSqlCursorReader_QueryFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectQuery("SELECT").WillReturnError(assert.AnError)

	r, err := NewSqlCursorReader[student](db, "cursorReader", SQLCursorConfig{Query: "SELECT * FROM students"}, nil)
	require.NoError(t, err)
	err = r.Open(context.Background(), model.NewExecutionContext())
	assert.ErrorIs(t, err, assert.AnError)
}

func names(list ...string) func(ctx context.Context) (*string, error) {
	return func(ctx context.Context) (*string, error) {
		if len(list) == 0 {
			return nil, nil
		}
		next := list[0]
		list = list[1:]
		return &next, nil
	}
}

func TestItemReaderAdapter(t *testing.T) {
	r := NewItemReaderAdapter("adapterReader", names("Ada", "Alan"))
	require.NoError(t, r.Open(context.Background(), model.NewExecutionContext()))
	items, errs := readAll(t, r.Read)
	assert.Empty(t, errs)
	assert.Equal(t, []string{"Ada", "Alan"}, items)

	ec, err := r.GetExecutionContext(context.Background())
	require.NoError(t, err)
	count, ok := ec.GetInt("adapterReader.read.count")
	require.True(t, ok)
	assert.Equal(t, 2, count)
}

func TestItemReaderAdapter_RestartDiscardsHandedOutItems(t *testing.T) {
	ec := model.NewExecutionContext()
	ec.Put("adapterReader.read.count", 2)

	r := NewItemReaderAdapter("adapterReader", names("Ada", "Alan", "Grace", "Edsger"))
	require.NoError(t, r.Open(context.Background(), ec))
	items, errs := readAll(t, r.Read)
	assert.Empty(t, errs)
	assert.Equal(t, []string{"Grace", "Edsger"}, items)
	assert.Equal(t, 4, r.Count())
}

func TestItemReaderAdapter_RestartPastTheEnd(t *testing.T) {
	ec := model.NewExecutionContext()
	ec.Put("adapterReader.read.count", 5)

	r := NewItemReaderAdapter("adapterReader", names("Ada"))
	require.NoError(t, r.Open(context.Background(), ec))
	_, err := r.Read(context.Background())
	assert.Equal(t, io.EOF, err)
}

func TestItemReaderAdapter_SourceFailureWhileRestarting(t *testing.T) {
	ec := model.NewExecutionContext()
	ec.Put("adapterReader.read.count", 1)

	r := NewItemReaderAdapter("adapterReader", func(ctx context.Context) (*string, error) {
		return nil, assert.AnError
	})
	err := r.Open(context.Background(), ec)
	assert.ErrorIs(t, err, assert.AnError)
	assert.True(t, exception.IsSourceReadError(err))
}

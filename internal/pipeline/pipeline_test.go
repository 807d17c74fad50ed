package pipeline

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"stagecast/internal/sqlgen"
)

type fakeLogger struct {
	msgs []string
}

func (l *fakeLogger) Printf(format string, v ...any) {
	l.msgs = append(l.msgs, fmt.Sprintf(format, v...))
}

func (l *fakeLogger) joined() string { return strings.Join(l.msgs, "\n") }

// fakeStore records every statement and serves a canned header row.
type fakeStore struct {
	header    string
	hasHeader bool
	queryErr  error

	queries  []string
	stmts    []string
	affected int64

	// failPrefix makes Exec fail for statements starting with it.
	failPrefix string
	failErr    error
}

func (f *fakeStore) QueryFirstText(ctx context.Context, query string) (string, bool, error) {
	f.queries = append(f.queries, query)
	if f.queryErr != nil {
		return "", false, f.queryErr
	}
	return f.header, f.hasHeader, nil
}

func (f *fakeStore) Exec(ctx context.Context, stmt string) (int64, error) {
	f.stmts = append(f.stmts, stmt)
	if f.failPrefix != "" && strings.HasPrefix(stmt, f.failPrefix) {
		return 0, f.failErr
	}
	return f.affected, nil
}

var testStaging = sqlgen.StagingSource{Schema: "staging", Table: "raw_rows", Column: "line"}

func newTestPipeline(store *fakeStore) (*Pipeline, *fakeLogger) {
	lg := &fakeLogger{}
	return &Pipeline{Repo: store, Staging: testStaging, Logger: lg}, lg
}

func TestInferColumns_SanitizesHeader(t *testing.T) {
	t.Parallel()

	store := &fakeStore{header: "a\tb c\t_d9", hasHeader: true}
	p, _ := newTestPipeline(store)

	got, err := p.InferColumns(context.Background())
	if err != nil {
		t.Fatalf("InferColumns: %v", err)
	}
	want := []string{"a", `"b c"`, "_d9"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("columns = %q, want %q", got, want)
	}

	if len(store.queries) != 1 || !strings.Contains(store.queries[0], "LIMIT 1") {
		t.Errorf("header queries = %q, want one single-row query", store.queries)
	}
}

func TestInferColumns_CustomDelimiter(t *testing.T) {
	t.Parallel()

	store := &fakeStore{header: "id|full name|zip", hasHeader: true}
	p := &Pipeline{Repo: store, Staging: testStaging, Delimiter: "|"}

	got, err := p.InferColumns(context.Background())
	if err != nil {
		t.Fatalf("InferColumns: %v", err)
	}
	want := []string{"id", `"full name"`, "zip"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("columns = %q, want %q", got, want)
	}
}

func TestInferColumns_EmptyStaging(t *testing.T) {
	t.Parallel()

	store := &fakeStore{hasHeader: false}
	p, _ := newTestPipeline(store)

	if _, err := p.InferColumns(context.Background()); !errors.Is(err, ErrEmptyStaging) {
		t.Errorf("err = %v, want ErrEmptyStaging", err)
	}
}

func TestInferColumns_StoreErrorSurfaces(t *testing.T) {
	t.Parallel()

	cause := errors.New(`relation "staging.raw_rows" does not exist`)
	store := &fakeStore{queryErr: cause}
	p, _ := newTestPipeline(store)

	_, err := p.InferColumns(context.Background())
	if !errors.Is(err, cause) {
		t.Fatalf("err = %v, want wrapped %v", err, cause)
	}
	if !strings.Contains(err.Error(), "read header row") {
		t.Errorf("err = %v, want header-read context", err)
	}
	if !strings.Contains(err.Error(), cause.Error()) {
		t.Errorf("store diagnostic lost: %v", err)
	}
}

func TestInferColumns_NilRepo(t *testing.T) {
	t.Parallel()

	p := &Pipeline{Staging: testStaging}
	if _, err := p.InferColumns(context.Background()); err == nil || !strings.Contains(err.Error(), "Repo is required") {
		t.Errorf("err = %v, want Repo requirement", err)
	}
}

func TestBuildSchemaStatement(t *testing.T) {
	t.Parallel()

	store := &fakeStore{header: "a\tb c", hasHeader: true}
	p, _ := newTestPipeline(store)

	got, err := p.BuildSchemaStatement(context.Background(), "public", "crashes")
	if err != nil {
		t.Fatalf("BuildSchemaStatement: %v", err)
	}
	want := "CREATE TABLE public.crashes (\n  a text,\n  \"b c\" text\n);"
	if got != want {
		t.Errorf("statement = %q, want %q", got, want)
	}
	if len(store.stmts) != 0 {
		t.Errorf("builder executed statements: %q", store.stmts)
	}
}

func TestBuildLoadStatement(t *testing.T) {
	t.Parallel()

	store := &fakeStore{header: "a\tb", hasHeader: true}
	p, _ := newTestPipeline(store)

	got, err := p.BuildLoadStatement(context.Background(), "public", "crashes")
	if err != nil {
		t.Fatalf("BuildLoadStatement: %v", err)
	}
	if !strings.HasPrefix(got, "INSERT INTO public.crashes (a, b)") {
		t.Errorf("statement = %q, want insert into public.crashes", got)
	}
	if !strings.Contains(got, "split_part(line, '\t', 1)") || !strings.Contains(got, "split_part(line, '\t', 2)") {
		t.Errorf("statement missing per-column extractions: %q", got)
	}
	if len(store.stmts) != 0 {
		t.Errorf("builder executed statements: %q", store.stmts)
	}
}

func TestCreateTable_ExecutesCreateOnly(t *testing.T) {
	t.Parallel()

	store := &fakeStore{header: "a\tb", hasHeader: true}
	p, lg := newTestPipeline(store)

	if err := p.CreateTable(context.Background(), "public", "crashes"); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if len(store.stmts) != 1 || !strings.HasPrefix(store.stmts[0], "CREATE TABLE public.crashes") {
		t.Errorf("stmts = %q, want exactly the create statement", store.stmts)
	}
	if !strings.Contains(lg.joined(), "stage=create ok") {
		t.Errorf("logs = %q, want create stage log", lg.msgs)
	}
}

func TestLoadData_CreateThenLoad(t *testing.T) {
	t.Parallel()

	store := &fakeStore{header: "a\tb c\t_d9", hasHeader: true, affected: 7}
	p, lg := newTestPipeline(store)

	if err := p.LoadData(context.Background(), "public", "crashes"); err != nil {
		t.Fatalf("LoadData: %v", err)
	}

	if len(store.stmts) != 2 {
		t.Fatalf("stmts = %q, want create then load", store.stmts)
	}
	if !strings.HasPrefix(store.stmts[0], "CREATE TABLE public.crashes") {
		t.Errorf("first statement = %q, want CREATE TABLE", store.stmts[0])
	}
	if !strings.HasPrefix(store.stmts[1], "INSERT INTO public.crashes") {
		t.Errorf("second statement = %q, want INSERT INTO", store.stmts[1])
	}
	// The schema is inferred once per run.
	if len(store.queries) != 1 {
		t.Errorf("header queries = %d, want 1", len(store.queries))
	}
	if !strings.Contains(lg.joined(), "rows=7") {
		t.Errorf("logs = %q, want loaded row count", lg.msgs)
	}
}

func TestLoadData_EmptyStagingAbortsBeforeExec(t *testing.T) {
	t.Parallel()

	store := &fakeStore{hasHeader: false}
	p, _ := newTestPipeline(store)

	err := p.LoadData(context.Background(), "public", "crashes")
	if !errors.Is(err, ErrEmptyStaging) {
		t.Fatalf("err = %v, want ErrEmptyStaging", err)
	}
	if len(store.stmts) != 0 {
		t.Errorf("statements executed despite empty staging: %q", store.stmts)
	}
}

func TestLoadData_CreateFailureAbortsLoad(t *testing.T) {
	t.Parallel()

	cause := errors.New(`relation "public.crashes" already exists`)
	store := &fakeStore{
		header:     "a\tb",
		hasHeader:  true,
		failPrefix: "CREATE TABLE",
		failErr:    cause,
	}
	p, _ := newTestPipeline(store)

	err := p.LoadData(context.Background(), "public", "crashes")
	if !errors.Is(err, cause) {
		t.Fatalf("err = %v, want wrapped %v", err, cause)
	}
	if !strings.Contains(err.Error(), "create table public.crashes") {
		t.Errorf("err = %v, want create-phase context", err)
	}
	if len(store.stmts) != 1 {
		t.Errorf("stmts = %q, want the load phase skipped", store.stmts)
	}
}

func TestLoadData_LoadFailureSurfacesVerbatim(t *testing.T) {
	t.Parallel()

	cause := errors.New("disk full")
	store := &fakeStore{
		header:     "a\tb",
		hasHeader:  true,
		failPrefix: "INSERT INTO",
		failErr:    cause,
	}
	p, _ := newTestPipeline(store)

	err := p.LoadData(context.Background(), "public", "crashes")
	if !errors.Is(err, cause) {
		t.Fatalf("err = %v, want wrapped %v", err, cause)
	}
	if !strings.Contains(err.Error(), "load data into public.crashes") {
		t.Errorf("err = %v, want load-phase context", err)
	}
	if !strings.Contains(err.Error(), "disk full") {
		t.Errorf("store diagnostic lost: %v", err)
	}
}

func TestLoadData_DefaultDelimiterIsTab(t *testing.T) {
	t.Parallel()

	store := &fakeStore{header: "x\ty", hasHeader: true}
	p := &Pipeline{Repo: store, Staging: testStaging}

	if err := p.LoadData(context.Background(), "public", "t"); err != nil {
		t.Fatalf("LoadData: %v", err)
	}
	if !strings.Contains(store.stmts[1], "split_part(line, '\t', 2)") {
		t.Errorf("load statement = %q, want tab delimiter literal", store.stmts[1])
	}
}

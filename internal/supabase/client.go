// Package supabase implements the repositories on top of a hosted Supabase
// project through its PostgREST interface.
package supabase

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/supabase-community/postgrest-go"
	supa "github.com/supabase-community/supabase-go"

	"github.com/hackgods/project-vector/internal/domain"
)

const (
	tableAppointments = "appointments"
	tableNotes        = "encounter_notes"
	tableHelpRequests = "help_requests"
	tableWaitlist     = "waitlist"
	tableStatistics   = "note_statistics"

	returnRows = "representation"
)

// Querier is satisfied by both *supabase.Client and *postgrest.Client.
type Querier interface {
	From(table string) *postgrest.QueryBuilder
}

// NewClient builds a Supabase client using the service key.
func NewClient(url, key string) (*supa.Client, error) {
	if url == "" || key == "" {
		return nil, errors.New("supabase url and key are required")
	}
	client, err := supa.NewClient(url, key, nil)
	if err != nil {
		return nil, fmt.Errorf("create supabase client: %w", err)
	}
	return client, nil
}

func timeParam(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func idParams(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func decodeRows[T any](data []byte) ([]T, error) {
	var rows []T
	if len(data) == 0 {
		return rows, nil
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode rows: %w: %w", domain.ErrStorageCorrupt, err)
	}
	return rows, nil
}

func execRows[T any](q *postgrest.FilterBuilder) ([]T, error) {
	data, _, err := q.Execute()
	if err != nil {
		return nil, err
	}
	return decodeRows[T](data)
}

func getByID[T any](db Querier, table string, id uuid.UUID, notFound error) (*T, error) {
	rows, err := execRows[T](db.From(table).
		Select("*", "", false).
		Eq("id", id.String()).
		Limit(1, ""))
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", table, err)
	}
	if len(rows) == 0 {
		return nil, notFound
	}
	return &rows[0], nil
}

func insertRows[T any](db Querier, table string, rows any) ([]T, error) {
	out, err := execRows[T](db.From(table).Insert(rows, false, "", returnRows, ""))
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", table, err)
	}
	return out, nil
}

// updateByID writes row over the record with id. created_at is never
// overwritten.
func updateByID[T any](db Querier, table string, id uuid.UUID, row any, notFound error) (*T, error) {
	patch, err := toPatch(row)
	if err != nil {
		return nil, err
	}
	rows, err := execRows[T](db.From(table).
		Update(patch, returnRows, "").
		Eq("id", id.String()))
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", table, err)
	}
	if len(rows) == 0 {
		return nil, notFound
	}
	return &rows[0], nil
}

func toPatch(row any) (map[string]any, error) {
	data, err := json.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("encode row: %w", err)
	}
	var patch map[string]any
	if err := json.Unmarshal(data, &patch); err != nil {
		return nil, fmt.Errorf("encode row: %w", err)
	}
	delete(patch, "id")
	delete(patch, "created_at")
	return patch, nil
}

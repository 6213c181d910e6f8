package postgres

import (
	"context"
	"errors"

	"github.com/doug-martin/goqu/v8"
	_ "github.com/doug-martin/goqu/v8/dialect/postgres"
	"github.com/jackc/pgx/v5"

	"github.com/dochost/dochost"
)

// UpsertPriorityRule creates or updates the priority assigned to crate names
// matching pattern (a SQL LIKE pattern, e.g. "rust-%"). New patterns are
// appended after all existing ones, and updating an existing pattern keeps
// its place; when several rules match a name, the earliest-inserted one
// supplies the priority, whatever its number.
func (s *Store) UpsertPriorityRule(ctx context.Context, pattern string, priority int32) (id int64, err error) {
	ctx, done := s.method(ctx, &err)
	defer done()

	err = s.pool.QueryRow(ctx, loadQuery("priority_upsert"), pattern, priority).Scan(&id)
	return id, err
}

// DeletePriorityRule removes a rule by its pattern.
func (s *Store) DeletePriorityRule(ctx context.Context, pattern string) (err error) {
	ctx, done := s.method(ctx, &err)
	defer done()

	_, err = s.pool.Exec(ctx, loadQuery("priority_delete"), pattern)
	return err
}

// ListPriorityRules returns every rule in match order.
func (s *Store) ListPriorityRules(ctx context.Context) (out []*dochost.PriorityRule, err error) {
	ctx, done := s.method(ctx, &err)
	defer done()

	rows, err := s.pool.Query(ctx, loadQuery("priority_list"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		p := &dochost.PriorityRule{}
		if err := rows.Scan(&p.ID, &p.Pattern, &p.Priority); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// matchPriority resolves the priority a newly enqueued crate name should get
// by finding the first rule (in insertion order) whose pattern matches, via
// a dynamically built goqu query rather than a hand-written LIKE statement
// -- this is the one place priority_rules needs a query shaped at runtime,
// since the match expression is built from the candidate name.
func matchPriority(ctx context.Context, s *Store, name string) (int32, error) {
	query, args, err := buildPriorityMatchQuery(name)
	if err != nil {
		return 0, err
	}
	var priority int32
	err = s.pool.QueryRow(ctx, query, args...).Scan(&priority)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return 0, nil // no rule matches; default priority 0
	case err != nil:
		return 0, err
	}
	return priority, nil
}

// buildPriorityMatchQuery builds the SQL (and its single bind argument) that
// finds the first priority_rules row, in insertion order, whose pattern
// matches name. Split out from matchPriority so the query shape can be
// asserted without a live database.
func buildPriorityMatchQuery(name string) (string, []interface{}, error) {
	ds := goqu.Dialect("postgres").From("priority_rules").
		Select("priority").
		Where(goqu.L("? LIKE pattern", name)).
		Order(goqu.I("seq").Asc()).
		Limit(1)
	return ds.ToSQL()
}

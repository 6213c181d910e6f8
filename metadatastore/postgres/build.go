package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dochost/dochost"
)

func scanBuild(row pgx.Row, b *dochost.Build) error {
	var finishedAt *time.Time
	err := row.Scan(&b.ID, &b.ReleaseID, &b.StartedAt, &finishedAt, &b.BuildServer,
		&b.ToolchainVersion, &b.BuilderVersion, &b.Status, &b.ErrorLog, &b.DocumentationSize)
	if err != nil {
		return err
	}
	if finishedAt != nil {
		b.FinishedAt = *finishedAt
	}
	return nil
}

// InitializeBuild records the start of a Build, enforcing the one
// in-progress build per release invariant via the partial unique index
// `builds_one_inprogress_idx`.
func (s *Store) InitializeBuild(ctx context.Context, releaseID int64, buildServer string) (id string, err error) {
	ctx, done := s.method(ctx, &err)
	defer done()

	buildID := uuid.NewString()
	var out string
	err = s.pool.QueryRow(ctx, loadQuery("build_initialize"), buildID, releaseID, buildServer).Scan(&out)
	if err != nil {
		return "", fmt.Errorf("initialize build for release %d: %w", releaseID, err)
	}
	return out, nil
}

// BuildResult is what [Store.FinishBuild] records about a completed build
// attempt.
type BuildResult struct {
	Status            dochost.BuildStatus
	ToolchainVersion  string
	BuilderVersion    string
	ErrorLog          string
	DocumentationSize int64
}

// FinishBuild finalizes a Build row and, in the same transaction, rolls the
// outcome up into the parent Release's status: a successful build makes the
// release Success, a failed one moves it to Failure only if no other build
// of the same release already succeeded ("a Release's
// rollup status reflects its most successful Build").
func (s *Store) FinishBuild(ctx context.Context, buildID string, releaseID int64, result BuildResult) (err error) {
	ctx, done := s.method(ctx, &err)
	defer done()

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		const finish = `
			UPDATE builds SET
				finished_at = now(), toolchain_version = $2, builder_version = $3,
				status = $4, error_log = $5, documentation_size = $6
			WHERE id = $1;`
		if _, err := tx.Exec(ctx, finish, buildID, result.ToolchainVersion, result.BuilderVersion,
			result.Status, result.ErrorLog, result.DocumentationSize); err != nil {
			return fmt.Errorf("finish build %s: %w", buildID, err)
		}

		rollup := dochost.StatusFailure
		if result.Status == dochost.BuildSuccess {
			rollup = dochost.StatusSuccess
		} else {
			var everSucceeded bool
			const q = `SELECT exists(SELECT 1 FROM builds WHERE release_id = $1 AND status = 'success');`
			if err := tx.QueryRow(ctx, q, releaseID).Scan(&everSucceeded); err != nil {
				return fmt.Errorf("check prior success: %w", err)
			}
			if everSucceeded {
				rollup = dochost.StatusSuccess
			}
		}
		if _, err := tx.Exec(ctx, `UPDATE releases SET status = $2 WHERE id = $1;`, releaseID, rollup); err != nil {
			return fmt.Errorf("roll up release status: %w", err)
		}
		return nil
	})
}

// ListBuilds returns every Build of a Release, most recent first.
func (s *Store) ListBuilds(ctx context.Context, releaseID int64) (out []*dochost.Build, err error) {
	ctx, done := s.method(ctx, &err)
	defer done()

	rows, err := s.pool.Query(ctx, loadQuery("build_list_by_release"), releaseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		b := &dochost.Build{}
		if err := scanBuild(rows, b); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// GetBuild returns a single Build by id.
func (s *Store) GetBuild(ctx context.Context, buildID string) (b *dochost.Build, err error) {
	ctx, done := s.method(ctx, &err)
	defer done()

	b = &dochost.Build{}
	row := s.pool.QueryRow(ctx, loadQuery("build_get"), buildID)
	err = scanBuild(row, b)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, &dochost.Error{Kind: dochost.ErrNotFound, Op: "GetBuild", Message: buildID}
	case err != nil:
		return nil, err
	}
	return b, nil
}

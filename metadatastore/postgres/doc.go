/*
Package postgres implements dochost's Metadata Store on
top of PostgreSQL.

Most SQL statements are kept in package-adjacent *.sql files under queries/
and loaded through [loadQuery], one file per statement, so the SQL stays
editable and reviewable as SQL. Some short statements (in FinishBuild,
LockPipeline, SetYanked and others) are inline Go string constants. Queries
should do as much work database-side as practical, and transactions should be
kept short — the pool is shared with every other component.
*/
package postgres

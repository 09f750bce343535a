package tool

import (
	"context"
	"database/sql"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"
	"time"

	"mcpreview/internal/domain"
)

const (
	maxQueryLimit = 100
	maxQueryDays  = 365
)

// namedQuery is an allow-listed query. Every statement binds ?1 as a datetime
// modifier ("-30 days"), ?2 as the author filter ('' for none) and ?3 as the row limit.
type namedQuery struct {
	SQL   string
	Days  int
	Limit int
}

var namedQueries = map[string]namedQuery{
	"pull_requests_summary": {Days: 30, Limit: maxQueryLimit, SQL: `
		SELECT status, COUNT(*) AS count, AVG(review_score) AS avg_score
		FROM pull_requests
		WHERE created_at > datetime('now', ?1) AND (?2 = '' OR author = ?2)
		GROUP BY status
		ORDER BY status
		LIMIT ?3`},
	"recent_reviews": {Days: 7, Limit: 20, SQL: `
		SELECT pr.title, pr.author, cr.review_type, cr.overall_score, cr.created_at
		FROM pull_requests pr
		JOIN code_reviews cr ON pr.id = cr.pull_request_id
		WHERE cr.created_at > datetime('now', ?1) AND (?2 = '' OR pr.author = ?2)
		ORDER BY cr.created_at DESC, cr.id DESC
		LIMIT ?3`},
	"top_authors": {Days: 30, Limit: 10, SQL: `
		SELECT author, COUNT(*) AS pr_count, AVG(review_score) AS avg_score
		FROM pull_requests
		WHERE created_at > datetime('now', ?1) AND (?2 = '' OR author = ?2)
		GROUP BY author
		ORDER BY pr_count DESC, author
		LIMIT ?3`},
	"security_findings": {Days: 30, Limit: maxQueryLimit, SQL: `
		SELECT rf.severity, rf.category, COUNT(*) AS count
		FROM review_findings rf
		JOIN code_reviews cr ON rf.review_id = cr.id
		JOIN pull_requests pr ON pr.id = cr.pull_request_id
		WHERE cr.created_at > datetime('now', ?1) AND (?2 = '' OR pr.author = ?2)
		AND rf.category LIKE '%security%'
		GROUP BY rf.severity, rf.category
		ORDER BY count DESC, rf.severity
		LIMIT ?3`},
	"quality_trends": {Days: 30, Limit: maxQueryLimit, SQL: `
		SELECT DATE(cr.created_at) AS date, AVG(cr.overall_score) AS avg_score, COUNT(*) AS review_count
		FROM code_reviews cr
		JOIN pull_requests pr ON pr.id = cr.pull_request_id
		WHERE cr.created_at > datetime('now', ?1) AND (?2 = '' OR pr.author = ?2)
		GROUP BY DATE(cr.created_at)
		ORDER BY date DESC
		LIMIT ?3`},
	"file_hotspots": {Days: 30, Limit: 15, SQL: `
		SELECT rf.file_path, COUNT(*) AS issue_count,
			AVG(CASE UPPER(rf.severity)
				WHEN 'CRITICAL' THEN 4
				WHEN 'HIGH' THEN 3
				WHEN 'MEDIUM' THEN 2
				ELSE 1 END) AS severity_score
		FROM review_findings rf
		JOIN code_reviews cr ON rf.review_id = cr.id
		JOIN pull_requests pr ON pr.id = cr.pull_request_id
		WHERE cr.created_at > datetime('now', ?1) AND (?2 = '' OR pr.author = ?2)
		GROUP BY rf.file_path
		HAVING COUNT(*) > 1
		ORDER BY issue_count DESC, severity_score DESC
		LIMIT ?3`},
}

// QueryNames returns the allow-listed query names in sorted order.
func QueryNames() []string {
	return slices.Sorted(maps.Keys(namedQueries))
}

type databaseOptions struct {
	Limit  int    `json:"limit,omitempty" jsonschema:"description=Result limit (max 100)"`
	Days   int    `json:"days,omitempty" jsonschema:"description=Number of days to look back (max 365)"`
	Author string `json:"author,omitempty" jsonschema:"description=Filter by author"`
}

type databaseParams struct {
	Query      string          `json:"query" jsonschema:"required,description=Predefined query name to execute"`
	Parameters databaseOptions `json:"parameters,omitempty" jsonschema:"description=Query parameters"`
}

// DatabaseTool runs predefined read-only queries over the review history.
type DatabaseTool struct {
	db      *sql.DB
	timeout time.Duration
	schema  map[string]any
}

func NewDatabaseTool(db *sql.DB, timeout time.Duration) *DatabaseTool {
	schema := SchemaFor[databaseParams]()
	if props, ok := schema["properties"].(map[string]any); ok {
		if q, ok := props["query"].(map[string]any); ok {
			names := QueryNames()
			enum := make([]any, len(names))
			for i, n := range names {
				enum[i] = n
			}
			q["enum"] = enum
		}
	}
	return &DatabaseTool{db: db, timeout: timeout, schema: schema}
}

func (t *DatabaseTool) Name() string { return "database" }
func (t *DatabaseTool) Description() string {
	return "Query database for metrics, statistics, and historical data about code reviews, pull requests, and quality trends. Only predefined safe queries are allowed."
}
func (t *DatabaseTool) InputSchema() map[string]any { return t.schema }
func (t *DatabaseTool) RequiredCapabilities() []string { return []string{"database:read"} }

// Available pings the database with a short deadline.
func (t *DatabaseTool) Available(ctx context.Context) bool {
	if t.db == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return t.db.PingContext(ctx) == nil
}

func (t *DatabaseTool) Execute(ctx context.Context, params map[string]any) domain.ToolResult {
	name := ArgsString(params, "query")
	q, ok := namedQueries[name]
	if !ok {
		return domain.ExecutionFailure(fmt.Sprintf("Unknown query: %s. Available queries: %s",
			name, strings.Join(QueryNames(), ", ")))
	}
	days, limit, author, err := queryBounds(q, ArgsMap(params, "parameters"))
	if err != nil {
		return domain.ExecutionFailure(err.Error())
	}

	return runBounded(ctx, t.timeout, "database "+name, func(ctx context.Context) domain.ToolResult {
		start := time.Now()
		rows, err := t.db.QueryContext(ctx, q.SQL, fmt.Sprintf("-%d days", days), author, limit)
		if err != nil {
			return domain.ExecutionFailure("Database query failed: " + err.Error())
		}
		defer rows.Close()

		results, err := scanRows(rows)
		if err != nil {
			return domain.ExecutionFailure("Database query failed: " + err.Error())
		}
		meta := map[string]any{
			"query":          name,
			"result_count":   len(results),
			"days":           days,
			"limit":          limit,
			"execution_time": time.Since(start).Milliseconds(),
		}
		if sev := highestSeverity(results); sev != "" {
			meta["severity"] = sev
		}
		return domain.Success(results, meta)
	})
}

// highestSeverity reports "critical" when any row carries a CRITICAL severity
// column, so the review hook can raise an alert.
func highestSeverity(rows []map[string]any) string {
	for _, r := range rows {
		if s, ok := r["severity"].(string); ok && strings.EqualFold(s, "critical") {
			return "critical"
		}
	}
	return ""
}

var authorUnsafe = regexp.MustCompile(`['";\\]`)

// queryBounds clamps caller-supplied parameters to the allowed ranges.
func queryBounds(q namedQuery, opts map[string]any) (days, limit int, author string, err error) {
	if days, err = ExtractOptional(opts, "days", q.Days); err != nil {
		return
	}
	if limit, err = ExtractOptional(opts, "limit", q.Limit); err != nil {
		return
	}
	if author, err = ExtractOptional(opts, "author", ""); err != nil {
		return
	}
	days = min(max(days, 1), maxQueryDays)
	limit = min(max(limit, 1), maxQueryLimit)
	author = authorUnsafe.ReplaceAllString(author, "")
	return
}

func scanRows(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	results := []map[string]any{}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[c] = string(b)
			} else {
				row[c] = vals[i]
			}
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

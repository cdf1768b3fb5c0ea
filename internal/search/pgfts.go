package search

import (
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs a UNION ALL over destinations and grenades using
// plainto_tsquery with ts_rank ordering and ts_headline snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	const tsQuery = "plainto_tsquery('english', $1)"
	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultDestination {
		where := "d.fts @@ " + tsQuery
		if q.VerifiedOnly {
			where += " AND d.verified"
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'destination'::text AS type, d.id, d.name AS title,
				''::text AS snippet,
				ts_rank(d.fts, %s) AS rank
			FROM destinations d
			WHERE %s`, tsQuery, where))
	}

	if q.FilterType == "" || q.FilterType == ResultGrenade {
		where := "g.fts @@ " + tsQuery
		if q.VerifiedOnly {
			where += " AND g.verified"
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'grenade'::text AS type, g.id, g.name AS title,
				ts_headline('english', coalesce(g.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				ts_rank(g.fts, %s) AS rank
			FROM grenades g
			WHERE %s`, tsQuery, tsQuery, where))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	query := fmt.Sprintf(`
		SELECT type, id, title, snippet, COUNT(*) OVER() AS total
		FROM (%s) hits
		ORDER BY rank DESC
		LIMIT %d OFFSET %d
	`, strings.Join(subQueries, " UNION ALL "), limit, offset)

	rows, err := p.db.Query(query, q.Text)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts search: %w", err)
	}
	defer rows.Close()

	var results []Result
	total := 0
	for rows.Next() {
		var r Result
		var rtyp string
		if err := rows.Scan(&rtyp, &r.ID, &r.Title, &r.Snippet, &total); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(rtyp)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("pgfts rows: %w", err)
	}
	return results, total, nil
}

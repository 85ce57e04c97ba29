package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"unit_economics/pkg/core/errors"
	"unit_economics/pkg/core/logging"
	"unit_economics/pkg/core/xbrl"
)

// DefaultDir is used when neither a pool nor a directory is given.
var DefaultDir = filepath.Join(".cache", "filings")

// FilingCache stores parsed filings keyed by accession number.
// Hybrid vault: DB (primary) + file system (fallback/local).
type FilingCache struct {
	pool    *pgxpool.Pool
	fileDir string
}

// NewFilingCache creates a cache. With a nil pool and empty dir the cache
// lives under DefaultDir.
func NewFilingCache(pool *pgxpool.Pool, dir string) *FilingCache {
	if pool == nil && dir == "" {
		dir = DefaultDir
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logging.Logger.Warnw("[CACHE] cannot create cache dir", "dir", dir, "error", err)
		}
	}
	return &FilingCache{pool: pool, fileDir: dir}
}

// Entry is the on-disk form of a cached filing.
type Entry struct {
	AccessionNumber string       `json:"accession_number"`
	CIK             string       `json:"cik"`
	Ticker          string       `json:"ticker"`
	FiscalYear      int          `json:"fiscal_year"`
	FormType        string       `json:"form_type"`
	FilingDate      string       `json:"filing_date"`
	IsAmendment     bool         `json:"is_amendment"`
	CachedAt        time.Time    `json:"cached_at"`
	Filing          *xbrl.Filing `json:"filing"`
}

// Get returns the cached filing, or nil on a miss. The database is asked
// first; a database miss falls through to the file cache.
func (c *FilingCache) Get(ctx context.Context, accession string) (*xbrl.Filing, error) {
	if c.pool != nil {
		var data []byte
		err := c.pool.QueryRow(ctx, `SELECT data FROM filings WHERE accession_number = $1`, accession).Scan(&data)
		switch {
		case err == nil:
			f, derr := xbrl.DecodeJSON(data)
			if derr != nil {
				return nil, errors.Wrapf(derr, "decode cached filing %s", accession)
			}
			logging.Logger.Debugw("[CACHE] db hit", logging.FieldAccession, accession)
			return f, nil
		case errors.Is(err, pgx.ErrNoRows):
		default:
			return nil, errors.Wrap(err, "query filing cache")
		}
	}

	if c.fileDir == "" {
		return nil, nil
	}
	entry, err := c.loadEntry(c.accessionPath(accession))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	logging.Logger.Debugw("[CACHE] file hit", logging.FieldAccession, accession)
	return entry.Filing, nil
}

// Save stores a filing in every configured backend.
func (c *FilingCache) Save(ctx context.Context, f *xbrl.Filing) error {
	if f == nil {
		return errors.New("nil filing")
	}
	m := f.Meta
	acc := m.AccessionNumber
	if acc == "" {
		return errors.WithHint(errors.New("filing has no accession number"), "set meta.accession_number before caching")
	}

	if c.pool != nil {
		data, err := json.Marshal(f)
		if err != nil {
			return errors.Wrap(err, "marshal filing")
		}
		query := `
			INSERT INTO filings (
				accession_number, cik, ticker, fiscal_year, form_type,
				filing_date, is_amendment, data
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (accession_number)
			DO UPDATE SET
				data = EXCLUDED.data,
				ticker = EXCLUDED.ticker,
				is_amendment = EXCLUDED.is_amendment,
				updated_at = NOW()
		`
		_, err = c.pool.Exec(ctx, query,
			acc, m.CIK, strings.ToUpper(m.Ticker), m.FiscalYear, m.Form,
			m.FilingDate, m.IsAmended(), data,
		)
		if err != nil {
			return errors.Wrap(err, "save to db cache")
		}
	}

	if c.fileDir != "" {
		entry := Entry{
			AccessionNumber: acc,
			CIK:             m.CIK,
			Ticker:          strings.ToUpper(m.Ticker),
			FiscalYear:      m.FiscalYear,
			FormType:        m.Form,
			FilingDate:      m.FilingDate,
			IsAmendment:     m.IsAmended(),
			CachedAt:        time.Now(),
			Filing:          f,
		}
		b, err := json.MarshalIndent(entry, "", "  ")
		if err != nil {
			return errors.Wrap(err, "marshal cache entry")
		}
		if err := os.WriteFile(c.accessionPath(acc), b, 0o644); err != nil {
			return errors.Wrap(err, "save to file cache")
		}
	}

	logging.Logger.Infow("[CACHE] filing saved",
		logging.FieldAccession, acc, logging.FieldTicker, m.Ticker, "facts", len(f.Facts))
	return nil
}

// Exists checks if a filing is already cached
func (c *FilingCache) Exists(ctx context.Context, accession string) bool {
	if c.pool != nil {
		var one int
		err := c.pool.QueryRow(ctx, `SELECT 1 FROM filings WHERE accession_number = $1 LIMIT 1`, accession).Scan(&one)
		if err == nil {
			return true
		}
	}
	if c.fileDir != "" {
		if _, err := os.Stat(c.accessionPath(accession)); err == nil {
			return true
		}
	}
	return false
}

// ByTicker returns every cached filing for a ticker, oldest filing first.
func (c *FilingCache) ByTicker(ctx context.Context, ticker string) ([]*xbrl.Filing, error) {
	ticker = strings.ToUpper(ticker)
	var out []*xbrl.Filing
	seen := make(map[string]bool)

	if c.pool != nil {
		rows, err := c.pool.Query(ctx, `SELECT data FROM filings WHERE ticker = $1 ORDER BY filing_date`, ticker)
		if err != nil {
			return nil, errors.Wrap(err, "query filing cache")
		}
		defer rows.Close()
		for rows.Next() {
			var data []byte
			if err := rows.Scan(&data); err != nil {
				return nil, errors.Wrap(err, "scan cached filing")
			}
			f, err := xbrl.DecodeJSON(data)
			if err != nil {
				return nil, err
			}
			seen[f.Meta.AccessionNumber] = true
			out = append(out, f)
		}
		if err := rows.Err(); err != nil {
			return nil, errors.Wrap(err, "iterate filing cache")
		}
	}

	entries, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.Ticker != ticker || seen[e.AccessionNumber] || e.Filing == nil {
			continue
		}
		out = append(out, e.Filing)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Meta.FilingDate < out[j].Meta.FilingDate })
	return out, nil
}

// List returns every entry in the file cache. Unreadable files are skipped.
func (c *FilingCache) List(_ context.Context) ([]Entry, error) {
	if c.fileDir == "" {
		return nil, nil
	}
	files, err := os.ReadDir(c.fileDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "read cache dir")
	}
	var out []Entry
	for _, f := range files {
		if f.IsDir() || filepath.Ext(f.Name()) != ".json" {
			continue
		}
		entry, err := c.loadEntry(filepath.Join(c.fileDir, f.Name()))
		if err != nil {
			logging.Logger.Debugw("[CACHE] skipping unreadable entry", "file", f.Name(), "error", err)
			continue
		}
		out = append(out, *entry)
	}
	return out, nil
}

func (c *FilingCache) accessionPath(accession string) string {
	safe := strings.NewReplacer("-", "", "/", "_", `\`, "_").Replace(accession)
	return filepath.Join(c.fileDir, safe+".json")
}

func (c *FilingCache) loadEntry(path string) (*Entry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read cache entry")
	}
	var entry Entry
	if err := json.Unmarshal(b, &entry); err == nil && entry.Filing != nil {
		return &entry, nil
	}
	// a bare fact dump is accepted too
	f, err := xbrl.DecodeJSON(b)
	if err != nil {
		return nil, err
	}
	m := f.Meta
	return &Entry{
		AccessionNumber: m.AccessionNumber,
		CIK:             m.CIK,
		Ticker:          strings.ToUpper(m.Ticker),
		FiscalYear:      m.FiscalYear,
		FormType:        m.Form,
		FilingDate:      m.FilingDate,
		IsAmendment:     m.IsAmended(),
		Filing:          f,
	}, nil
}

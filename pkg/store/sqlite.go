package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/x448/float16"
	_ "modernc.org/sqlite"

	"github.com/sanonone/pias/pkg/graph"
)

//go:embed schema.sql
var schemaSQL string

//go:embed pragmas.sql
var pragmasSQL string

// Precision selects how feature values are packed into the features blob.
type Precision string

const (
	// Float32 stores each feature as a little-endian IEEE 754 single.
	Float32 Precision = "float32"
	// Float16 stores each feature as a little-endian IEEE 754 half.
	Float16 Precision = "float16"
)

const metaPrecision = "precision"

// ErrUnknownPrecision is returned for a precision other than Float32/Float16.
var ErrUnknownPrecision = errors.New("unknown feature precision")

// SQLiteStore is a GraphStore persisted in a single SQLite file.
// Rows are read back in row order, which defines the row index of every edge.
type SQLiteStore struct {
	conn *sql.DB
	path string
}

// OpenSQLite opens or creates the store at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}

	for _, pragma := range strings.Split(pragmasSQL, "\n") {
		pragma = strings.TrimSpace(pragma)
		if pragma == "" || strings.HasPrefix(pragma, "--") {
			continue
		}
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("applying pragma %q: %w", pragma, err)
		}
	}

	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &SQLiteStore{conn: conn, path: path}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

// Precision returns the precision recorded for the stored features.
// An empty store reports Float32.
func (s *SQLiteStore) Precision(ctx context.Context) (Precision, error) {
	var value string
	err := s.conn.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, metaPrecision).Scan(&value)
	if err == sql.ErrNoRows {
		return Float32, nil
	}
	if err != nil {
		return "", fmt.Errorf("querying precision: %w", err)
	}
	return Precision(value), nil
}

// Save replaces the whole dataset in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, ds *Dataset, precision Precision) error {
	if err := ds.Validate(); err != nil {
		return err
	}
	if precision != Float32 && precision != Float16 {
		return fmt.Errorf("%w: %q", ErrUnknownPrecision, precision)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM edges`); err != nil {
		return fmt.Errorf("clearing edges: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		metaPrecision, string(precision),
	); err != nil {
		return fmt.Errorf("writing precision: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO edges (row, u, v, features) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for i, e := range ds.Edges {
		e = e.Normalize()
		if e.V > math.MaxInt64 {
			return fmt.Errorf("row %d: node id %d exceeds int64", i, e.V)
		}
		blob := encodeFeatures(ds.Features[i], precision)
		if _, err := stmt.ExecContext(ctx, i, int64(e.U), int64(e.V), blob); err != nil {
			return fmt.Errorf("inserting row %d: %w", i, err)
		}
	}

	return tx.Commit()
}

// Load reads every edge and its features in row order.
func (s *SQLiteStore) Load(ctx context.Context) (*Dataset, error) {
	precision, err := s.Precision(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.conn.QueryContext(ctx, `SELECT u, v, features FROM edges ORDER BY row`)
	if err != nil {
		return nil, fmt.Errorf("querying edges: %w", err)
	}
	defer rows.Close()

	ds := &Dataset{}
	for rows.Next() {
		var u, v int64
		var blob []byte
		if err := rows.Scan(&u, &v, &blob); err != nil {
			return nil, fmt.Errorf("scanning edge: %w", err)
		}
		features, err := decodeFeatures(blob, precision)
		if err != nil {
			return nil, fmt.Errorf("edge (%d,%d): %w", u, v, err)
		}
		ds.Edges = append(ds.Edges, graph.NewEdge(uint64(u), uint64(v)))
		ds.Features = append(ds.Features, features)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating edges: %w", err)
	}
	return ds, nil
}

func encodeFeatures(row []float64, precision Precision) []byte {
	switch precision {
	case Float16:
		buf := make([]byte, 2*len(row))
		for i, f := range row {
			binary.LittleEndian.PutUint16(buf[2*i:], float16.Fromfloat32(float32(f)).Bits())
		}
		return buf
	default:
		buf := make([]byte, 4*len(row))
		for i, f := range row {
			binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(float32(f)))
		}
		return buf
	}
}

func decodeFeatures(blob []byte, precision Precision) ([]float64, error) {
	switch precision {
	case Float16:
		if len(blob)%2 != 0 {
			return nil, fmt.Errorf("float16 blob of odd length %d", len(blob))
		}
		out := make([]float64, len(blob)/2)
		for i := range out {
			out[i] = float64(float16.Frombits(binary.LittleEndian.Uint16(blob[2*i:])).Float32())
		}
		return out, nil
	case Float32:
		if len(blob)%4 != 0 {
			return nil, fmt.Errorf("float32 blob length %d not a multiple of 4", len(blob))
		}
		out := make([]float64, len(blob)/4)
		for i := range out {
			out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(blob[4*i:])))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPrecision, precision)
	}
}

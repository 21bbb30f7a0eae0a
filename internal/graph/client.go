// Package graph wraps the property-graph database behind a small query interface.
package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vanshika/churngraph/internal/config"
)

// Client runs Cypher statements. Implementations must be safe for concurrent use.
type Client interface {
	ExecuteWrite(ctx context.Context, cypher string, params map[string]any) (Result, error)
	ExecuteRead(ctx context.Context, cypher string, params map[string]any) (Result, error)
	VerifyConnectivity(ctx context.Context) error
	Close(ctx context.Context) error
}

// Result holds every record returned by a statement.
type Result struct {
	Records []Record
}

// Record maps returned column names to values.
type Record map[string]any

// Options configures a graph client implementation.
type Options struct {
	URI            string
	Database       string
	Username       string
	Password       string
	MaxConnections int
	// QueryTimeout bounds each transaction on the server side; zero uses the server default.
	QueryTimeout time.Duration
	// AcquireTimeout bounds waiting for a pooled connection.
	AcquireTimeout time.Duration
}

// UserKey is the identity property of stored :User nodes. Every query that
// reads or writes users keys on it.
const UserKey = "userId"

// ErrMissingURI indicates the graph URI is not provided.
var ErrMissingURI = errors.New("graph URI is required")

// OptionsFrom maps the graph section of the configuration to client options.
func OptionsFrom(cfg config.GraphConfig) Options {
	return Options{
		URI:            cfg.URI,
		Database:       cfg.Database,
		Username:       cfg.Username,
		Password:       cfg.Password,
		MaxConnections: cfg.MaxConnections,
		QueryTimeout:   cfg.QueryTimeout,
		AcquireTimeout: cfg.AcquireTimeout,
	}
}

// Connect opens a Neo4j client for cfg and checks connectivity.
func Connect(ctx context.Context, logger *slog.Logger, cfg config.GraphConfig) (Client, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("%w: set GRAPH_URI or graph.uri", ErrMissingURI)
	}
	client, err := NewNeo4jClient(ctx, OptionsFrom(cfg))
	if err != nil {
		return nil, err
	}
	logger.Info("connected to graph", "uri", cfg.URI, "database", cfg.Database)
	return client, nil
}

// Int64 reads an integer column. Drivers return int64; float64 and int are
// accepted for values produced by procedures.
func (r Record) Int64(key string) (int64, bool) {
	switch v := r[key].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}

// Float64 reads a numeric column.
func (r Record) Float64(key string) (float64, bool) {
	switch v := r[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

// String reads a string column.
func (r Record) String(key string) string {
	if v, ok := r[key].(string); ok {
		return v
	}
	return ""
}

// Float64s reads a list column of numbers, as returned for embeddings.
func (r Record) Float64s(key string) ([]float64, bool) {
	switch v := r[key].(type) {
	case []float64:
		return append([]float64(nil), v...), true
	case []any:
		out := make([]float64, len(v))
		for i, item := range v {
			switch n := item.(type) {
			case float64:
				out[i] = n
			case float32:
				out[i] = float64(n)
			case int64:
				out[i] = float64(n)
			default:
				return nil, false
			}
		}
		return out, true
	default:
		return nil, false
	}
}

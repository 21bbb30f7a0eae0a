package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// NewNeo4jClient opens a Bolt driver and verifies the server answers.
// Statements run in managed transactions, which the driver retries on
// transient cluster errors.
func NewNeo4jClient(ctx context.Context, opts Options) (Client, error) {
	if opts.URI == "" {
		return nil, ErrMissingURI
	}

	auth := neo4j.NoAuth()
	if opts.Username != "" {
		auth = neo4j.BasicAuth(opts.Username, opts.Password, "")
	}

	driver, err := neo4j.NewDriverWithContext(opts.URI, auth, func(c *neo4j.Config) {
		if opts.MaxConnections > 0 {
			c.MaxConnectionPoolSize = opts.MaxConnections
		}
		if opts.AcquireTimeout > 0 {
			c.ConnectionAcquisitionTimeout = opts.AcquireTimeout
		}
	})
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("verify graph connectivity at %s: %w", opts.URI, err)
	}

	var txOpts []func(*neo4j.TransactionConfig)
	if opts.QueryTimeout > 0 {
		txOpts = append(txOpts, neo4j.WithTxTimeout(opts.QueryTimeout))
	}
	return &neo4jClient{driver: driver, database: opts.Database, txOpts: txOpts}, nil
}

type neo4jClient struct {
	driver   neo4j.DriverWithContext
	database string
	txOpts   []func(*neo4j.TransactionConfig)
}

func (c *neo4jClient) ExecuteWrite(ctx context.Context, cypher string, params map[string]any) (Result, error) {
	return c.execute(ctx, neo4j.AccessModeWrite, cypher, params)
}

func (c *neo4jClient) ExecuteRead(ctx context.Context, cypher string, params map[string]any) (Result, error) {
	return c.execute(ctx, neo4j.AccessModeRead, cypher, params)
}

func (c *neo4jClient) execute(ctx context.Context, mode neo4j.AccessMode, cypher string, params map[string]any) (Result, error) {
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: c.database,
		AccessMode:   mode,
	})
	defer session.Close(ctx)

	var (
		out any
		err error
	)
	work := collect(ctx, cypher, params)
	if mode == neo4j.AccessModeWrite {
		out, err = session.ExecuteWrite(ctx, work, c.txOpts...)
	} else {
		out, err = session.ExecuteRead(ctx, work, c.txOpts...)
	}
	if err != nil {
		if neo4j.IsConnectivityError(err) {
			return Result{}, fmt.Errorf("neo4j unreachable: %w", err)
		}
		return Result{}, fmt.Errorf("neo4j %s: %w", modeName(mode), err)
	}
	return out.(Result), nil
}

func (c *neo4jClient) VerifyConnectivity(ctx context.Context) error {
	return c.driver.VerifyConnectivity(ctx)
}

func (c *neo4jClient) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

func modeName(mode neo4j.AccessMode) string {
	if mode == neo4j.AccessModeWrite {
		return "write"
	}
	return "read"
}

// collect drains every record inside the managed transaction; results are
// not readable after it commits.
func collect(ctx context.Context, cypher string, params map[string]any) neo4j.ManagedTransactionWork {
	return func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		records := make([]Record, 0)
		for res.Next(ctx) {
			rec := res.Record()
			record := make(Record, len(rec.Keys))
			for i, key := range rec.Keys {
				record[key] = rec.Values[i]
			}
			records = append(records, record)
		}
		if err := res.Err(); err != nil {
			return nil, err
		}
		return Result{Records: records}, nil
	}
}

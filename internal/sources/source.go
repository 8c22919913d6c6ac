// Package sources contains the upstream lookup clients the gateway fans
// out to. Each client speaks one backend's protocol and returns a flat
// SourceRecord; consolidation happens elsewhere.
package sources

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/elastic/go-elasticsearch/v8"

	"profile-gateway/internal/common/config"
	"profile-gateway/internal/common/logger"
	"profile-gateway/internal/models"
)

// Source names. These are the identifiers used in precedence config and in
// sourceBreakdown attributions.
const (
	SourceBilling = "billing"
	SourceCRM     = "crm"
	SourceRecords = "records"
)

// ErrNotFound signals the source answered but holds no record for the query.
// It is an ordinary outcome, not a failure, and never surfaces to callers.
var ErrNotFound = errors.New("no record in source")

// Client is a single upstream source. Lookup receives the normalized query
// and returns the source's record, ErrNotFound when the source has none, or
// a classified error (timeout, auth, unavailable, malformed response).
type Client interface {
	Name() string
	Lookup(ctx context.Context, normalizedQuery string, queryType models.QueryType) (*models.SourceRecord, error)
}

// Deps carries the shared handles source clients may need.
type Deps struct {
	DB      *sql.DB
	ES      *elasticsearch.Client
	ESIndex string
	Logger  logger.Logger
}

// Build constructs one client per precedence entry, in precedence order.
// Unknown names are rejected here rather than silently skipped.
func Build(cfg config.SourcesConfig, deps Deps) ([]Client, error) {
	clients := make([]Client, 0, len(cfg.Precedence))
	for _, name := range cfg.Precedence {
		switch name {
		case SourceBilling:
			clients = append(clients, NewBillingClient(cfg.Billing, deps.Logger))
		case SourceCRM:
			clients = append(clients, NewCRMClient(cfg.CRM, deps.Logger))
		case SourceRecords:
			clients = append(clients, NewRecordsClient(cfg.Records, deps.DB, deps.ES, deps.ESIndex, deps.Logger))
		default:
			return nil, fmt.Errorf("unknown source %q in precedence", name)
		}
	}
	return clients, nil
}

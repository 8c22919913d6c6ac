package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"profile-gateway/internal/common/config"
	gwerrors "profile-gateway/internal/common/errors"
	"profile-gateway/internal/common/httpclient"
	"profile-gateway/internal/common/logger"
	"profile-gateway/internal/common/metrics"
	"profile-gateway/internal/common/validation"
	"profile-gateway/internal/models"
)

// billingResponseSchema pins the shape the subscription backend promises.
// Anything that fails this check is reported as a malformed response rather
// than merged into a profile.
const billingResponseSchema = `{
	"type": "object",
	"required": ["list"],
	"properties": {
		"list": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["customer"],
				"properties": {
					"customer": {
						"type": "object",
						"required": ["id"],
						"properties": {
							"id": {"type": "string"},
							"plan_id": {"type": "string"},
							"plan_status": {"type": "string"},
							"mrr": {"type": "number"},
							"preferred_currency_code": {"type": "string"}
						}
					}
				}
			}
		}
	}
}`

var billingSchema = validation.MustCompile(billingResponseSchema)

type billingListResponse struct {
	List []struct {
		Customer billingCustomer `json:"customer"`
	} `json:"list"`
}

type billingCustomer struct {
	ID         string  `json:"id"`
	PlanID     string  `json:"plan_id"`
	PlanStatus string  `json:"plan_status"`
	MRR        float64 `json:"mrr"`
	Currency   string  `json:"preferred_currency_code"`
}

// BillingClient queries the subscription billing backend over its REST list
// API. Authentication is HTTP basic with the API key as username.
type BillingClient struct {
	baseURL string
	apiKey  string
	http    *httpclient.Client
	logger  logger.Logger
}

func NewBillingClient(cfg config.BillingSourceConfig, log logger.Logger) *BillingClient {
	return &BillingClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    httpclient.NewClient(config.GetDuration(cfg.Timeout)),
		logger:  log.WithFields(map[string]interface{}{"source": SourceBilling}),
	}
}

func (b *BillingClient) Name() string { return SourceBilling }

func (b *BillingClient) Lookup(ctx context.Context, normalizedQuery string, queryType models.QueryType) (*models.SourceRecord, error) {
	start := time.Now()
	rec, err := b.lookup(ctx, normalizedQuery, queryType)
	observeLookup(SourceBilling, start, err)
	return rec, err
}

func (b *BillingClient) lookup(ctx context.Context, normalizedQuery string, queryType models.QueryType) (*models.SourceRecord, error) {
	params := url.Values{}
	params.Set("limit", "1")
	switch queryType {
	case models.QueryTypeEmail:
		params.Set("email[is]", normalizedQuery)
	case models.QueryTypePhone:
		params.Set("phone[is]", normalizedQuery)
	default:
		// The list API has no full-name filter, so match on the first
		// name token and let consolidation sort out precision.
		first, _, _ := strings.Cut(normalizedQuery, " ")
		params.Set("first_name[starts_with]", first)
	}

	endpoint := b.baseURL + "/api/v2/customers?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, gwerrors.NewSourceUnavailableError(SourceBilling, err)
	}
	req.SetBasicAuth(b.apiKey, "")
	req.Header.Set("Accept", "application/json")

	resp, err := b.http.Do(req)
	if err != nil {
		return nil, classifyTransportError(SourceBilling, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, gwerrors.NewSourceAuthFailedError(SourceBilling, fmt.Sprintf("status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, gwerrors.NewSourceUnavailableError(SourceBilling, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, gwerrors.NewSourceUnavailableError(SourceBilling, err)
	}
	if err := billingSchema.Validate(body); err != nil {
		b.logger.Warn("response failed schema validation", map[string]interface{}{"error": err.Error()})
		return nil, gwerrors.NewMalformedResponseError(SourceBilling, err.Error())
	}

	var parsed billingListResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, gwerrors.NewMalformedResponseError(SourceBilling, err.Error())
	}
	if len(parsed.List) == 0 {
		return nil, ErrNotFound
	}

	cust := parsed.List[0].Customer
	fields := map[string]interface{}{
		"customerId": cust.ID,
	}
	if cust.PlanID != "" {
		fields["plan"] = cust.PlanID
	}
	if cust.PlanStatus != "" {
		fields["planStatus"] = cust.PlanStatus
	}
	if cust.MRR > 0 {
		// The backend reports MRR in minor currency units.
		fields["mrr"] = cust.MRR / 100.0
	}
	if cust.Currency != "" {
		fields["currency"] = cust.Currency
	}

	return &models.SourceRecord{Source: SourceBilling, Fields: fields}, nil
}

// classifyTransportError maps client-side transport failures onto the error
// taxonomy. Timeouts and context deadlines become SOURCE_TIMEOUT, everything
// else SOURCE_UNAVAILABLE.
func classifyTransportError(source string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return gwerrors.NewSourceTimeoutError(source)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return gwerrors.NewSourceTimeoutError(source)
	}
	return gwerrors.NewSourceUnavailableError(source, err)
}

func observeLookup(source string, start time.Time, err error) {
	status := "success"
	switch {
	case errors.Is(err, ErrNotFound):
		status = "not_found"
	case err != nil:
		status = "error"
	}
	metrics.SourceLookupsTotal.WithLabelValues(source, status).Inc()
	metrics.SourceLookupDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())
}

package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"profile-gateway/internal/common/config"
	gwerrors "profile-gateway/internal/common/errors"
	"profile-gateway/internal/common/httpclient"
	"profile-gateway/internal/common/logger"
	"profile-gateway/internal/common/validation"
	"profile-gateway/internal/models"
)

const crmResponseSchema = `{
	"type": "object",
	"required": ["total", "results"],
	"properties": {
		"total": {"type": "integer"},
		"results": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id"],
				"properties": {
					"id": {"type": "string"},
					"properties": {"type": "object"}
				}
			}
		}
	}
}`

var crmSchema = validation.MustCompile(crmResponseSchema)

type crmSearchRequest struct {
	Query        string           `json:"query,omitempty"`
	FilterGroups []crmFilterGroup `json:"filterGroups,omitempty"`
	Properties   []string         `json:"properties"`
	Limit        int              `json:"limit"`
}

type crmFilterGroup struct {
	Filters []crmFilter `json:"filters"`
}

type crmFilter struct {
	PropertyName string `json:"propertyName"`
	Operator     string `json:"operator"`
	Value        string `json:"value"`
}

type crmSearchResponse struct {
	Total   int `json:"total"`
	Results []struct {
		ID         string            `json:"id"`
		Properties map[string]string `json:"properties"`
	} `json:"results"`
}

// CRMClient searches the contact platform's object search API. Tokens come
// from a client-credentials flow and refresh transparently through the
// oauth2 transport.
type CRMClient struct {
	baseURL string
	http    *httpclient.Client
	logger  logger.Logger
}

func NewCRMClient(cfg config.CRMSourceConfig, log logger.Logger) *CRMClient {
	creds := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
	}
	base := &http.Client{Timeout: config.GetDuration(cfg.Timeout)}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)

	return &CRMClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    httpclient.NewWithClient(creds.Client(ctx)),
		logger:  log.WithFields(map[string]interface{}{"source": SourceCRM}),
	}
}

func (c *CRMClient) Name() string { return SourceCRM }

func (c *CRMClient) Lookup(ctx context.Context, normalizedQuery string, queryType models.QueryType) (*models.SourceRecord, error) {
	start := time.Now()
	rec, err := c.lookup(ctx, normalizedQuery, queryType)
	observeLookup(SourceCRM, start, err)
	return rec, err
}

func (c *CRMClient) lookup(ctx context.Context, normalizedQuery string, queryType models.QueryType) (*models.SourceRecord, error) {
	search := crmSearchRequest{
		Properties: []string{"firstname", "lastname", "company", "lifecyclestage", "email", "phone"},
		Limit:      1,
	}
	switch queryType {
	case models.QueryTypeEmail:
		search.FilterGroups = []crmFilterGroup{{Filters: []crmFilter{
			{PropertyName: "email", Operator: "EQ", Value: normalizedQuery},
		}}}
	case models.QueryTypePhone:
		search.FilterGroups = []crmFilterGroup{{Filters: []crmFilter{
			{PropertyName: "phone", Operator: "EQ", Value: normalizedQuery},
		}}}
	default:
		// Free-text search matches names partially and case-insensitively.
		search.Query = normalizedQuery
	}

	payload, err := json.Marshal(search)
	if err != nil {
		return nil, gwerrors.NewSourceUnavailableError(SourceCRM, err)
	}

	endpoint := c.baseURL + "/crm/v3/objects/contacts/search"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, gwerrors.NewSourceUnavailableError(SourceCRM, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// The oauth2 transport surfaces token endpoint failures here.
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return nil, gwerrors.NewSourceAuthFailedError(SourceCRM, retrieveErr.Error())
		}
		return nil, classifyTransportError(SourceCRM, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, gwerrors.NewSourceAuthFailedError(SourceCRM, fmt.Sprintf("status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, gwerrors.NewSourceUnavailableError(SourceCRM, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, gwerrors.NewSourceUnavailableError(SourceCRM, err)
	}
	if err := crmSchema.Validate(body); err != nil {
		c.logger.Warn("response failed schema validation", map[string]interface{}{"error": err.Error()})
		return nil, gwerrors.NewMalformedResponseError(SourceCRM, err.Error())
	}

	var parsed crmSearchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, gwerrors.NewMalformedResponseError(SourceCRM, err.Error())
	}
	if parsed.Total == 0 || len(parsed.Results) == 0 {
		return nil, ErrNotFound
	}

	contact := parsed.Results[0]
	fields := map[string]interface{}{
		"contactId": contact.ID,
	}
	for prop, field := range map[string]string{
		"firstname":      "firstName",
		"lastname":       "lastName",
		"company":        "company",
		"lifecyclestage": "lifecycleStage",
		"email":          "email",
		"phone":          "phone",
	} {
		if v := contact.Properties[prop]; v != "" {
			fields[field] = v
		}
	}

	return &models.SourceRecord{Source: SourceCRM, Fields: fields}, nil
}

package sources

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"profile-gateway/internal/common/config"
	gwerrors "profile-gateway/internal/common/errors"
	"profile-gateway/internal/common/logger"
	"profile-gateway/internal/models"
)

// newCRMServer stands up both the token endpoint and the search API on one
// test server.
func newCRMServer(t *testing.T, search http.HandlerFunc) *CRMClient {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"test-token","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/crm/v3/objects/contacts/search", search)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return NewCRMClient(config.CRMSourceConfig{
		BaseURL:      srv.URL,
		TokenURL:     srv.URL + "/oauth/v1/token",
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		Timeout:      2000,
	}, logger.NewTestLogger(t))
}

func decodeSearchRequest(t *testing.T, r *http.Request) crmSearchRequest {
	t.Helper()
	var req crmSearchRequest
	require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
	return req
}

// ==========================
// Success Path Tests
// ==========================

func TestCRMClient_Lookup_ByEmail(t *testing.T) {
	client := newCRMServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		req := decodeSearchRequest(t, r)
		require.Len(t, req.FilterGroups, 1)
		require.Len(t, req.FilterGroups[0].Filters, 1)
		assert.Equal(t, crmFilter{PropertyName: "email", Operator: "EQ", Value: "jane@example.com"},
			req.FilterGroups[0].Filters[0])

		_, _ = w.Write([]byte(`{"total":1,"results":[{"id":"51","properties":{
			"firstname":"Jane",
			"lastname":"Doe",
			"company":"Acme",
			"lifecyclestage":"customer"
		}}]}`))
	})

	rec, err := client.Lookup(context.Background(), "jane@example.com", models.QueryTypeEmail)
	require.NoError(t, err)

	assert.Equal(t, SourceCRM, rec.Source)
	assert.Equal(t, "51", rec.Fields["contactId"])
	assert.Equal(t, "Jane", rec.Fields["firstName"])
	assert.Equal(t, "Doe", rec.Fields["lastName"])
	assert.Equal(t, "Acme", rec.Fields["company"])
	assert.Equal(t, "customer", rec.Fields["lifecycleStage"])
}

func TestCRMClient_Lookup_ByNameUsesFreeTextQuery(t *testing.T) {
	client := newCRMServer(t, func(w http.ResponseWriter, r *http.Request) {
		req := decodeSearchRequest(t, r)
		assert.Equal(t, "Jane Doe", req.Query)
		assert.Empty(t, req.FilterGroups)

		_, _ = w.Write([]byte(`{"total":1,"results":[{"id":"51","properties":{"firstname":"Jane"}}]}`))
	})

	rec, err := client.Lookup(context.Background(), "Jane Doe", models.QueryTypeName)
	require.NoError(t, err)
	assert.Equal(t, "Jane", rec.Fields["firstName"])
}

func TestCRMClient_Lookup_EmptyPropertiesOmitted(t *testing.T) {
	client := newCRMServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"total":1,"results":[{"id":"51","properties":{"firstname":"Jane","company":""}}]}`))
	})

	rec, err := client.Lookup(context.Background(), "jane@example.com", models.QueryTypeEmail)
	require.NoError(t, err)
	assert.NotContains(t, rec.Fields, "company")
}

// ==========================
// Outcome Classification Tests
// ==========================

func TestCRMClient_Lookup_ZeroTotalIsNotFound(t *testing.T) {
	client := newCRMServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"total":0,"results":[]}`))
	})

	_, err := client.Lookup(context.Background(), "ghost@example.com", models.QueryTypeEmail)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCRMClient_Lookup_AuthFailure(t *testing.T) {
	client := newCRMServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	_, err := client.Lookup(context.Background(), "jane@example.com", models.QueryTypeEmail)
	assert.True(t, gwerrors.HasCode(err, gwerrors.ErrCodeSourceAuthFailed))
}

func TestCRMClient_Lookup_TokenEndpointFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := NewCRMClient(config.CRMSourceConfig{
		BaseURL:      srv.URL,
		TokenURL:     srv.URL + "/oauth/v1/token",
		ClientID:     "bad-id",
		ClientSecret: "bad-secret",
		Timeout:      2000,
	}, logger.NewTestLogger(t))

	_, err := client.Lookup(context.Background(), "jane@example.com", models.QueryTypeEmail)
	assert.True(t, gwerrors.HasCode(err, gwerrors.ErrCodeSourceAuthFailed))
}

func TestCRMClient_Lookup_MalformedResponse(t *testing.T) {
	client := newCRMServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[{"id":"51"}]}`))
	})

	_, err := client.Lookup(context.Background(), "jane@example.com", models.QueryTypeEmail)
	assert.True(t, gwerrors.HasCode(err, gwerrors.ErrCodeSourceMalformedResponse))
}

func TestCRMClient_Lookup_ServerError(t *testing.T) {
	client := newCRMServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.Lookup(context.Background(), "jane@example.com", models.QueryTypeEmail)
	assert.True(t, gwerrors.HasCode(err, gwerrors.ErrCodeSourceUnavailable))
}

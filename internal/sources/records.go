package sources

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/lib/pq"

	"profile-gateway/internal/common/config"
	gwerrors "profile-gateway/internal/common/errors"
	"profile-gateway/internal/common/logger"
	"profile-gateway/internal/models"
)

const (
	patientByEmailQuery = `
		SELECT patient_id, date_of_birth, medications, allergies, last_visit
		FROM patients
		WHERE lower(email) = lower($1)
		LIMIT 1`

	patientByPhoneQuery = `
		SELECT patient_id, date_of_birth, medications, allergies, last_visit
		FROM patients
		WHERE phone = $1
		LIMIT 1`
)

// RecordsClient reads the internal records store. Exact identifiers (email,
// phone) hit Postgres directly; name queries go through the search index so
// partial and case-insensitive matches work.
type RecordsClient struct {
	db      *sql.DB
	es      *elasticsearch.Client
	esIndex string
	timeout time.Duration
	logger  logger.Logger
}

func NewRecordsClient(cfg config.RecordsSourceConfig, db *sql.DB, es *elasticsearch.Client, esIndex string, log logger.Logger) *RecordsClient {
	return &RecordsClient{
		db:      db,
		es:      es,
		esIndex: esIndex,
		timeout: config.GetDuration(cfg.Timeout),
		logger:  log.WithFields(map[string]interface{}{"source": SourceRecords}),
	}
}

func (r *RecordsClient) Name() string { return SourceRecords }

func (r *RecordsClient) Lookup(ctx context.Context, normalizedQuery string, queryType models.QueryType) (*models.SourceRecord, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var (
		rec *models.SourceRecord
		err error
	)
	switch queryType {
	case models.QueryTypeEmail:
		rec, err = r.queryPostgres(ctx, patientByEmailQuery, normalizedQuery)
	case models.QueryTypePhone:
		rec, err = r.queryPostgres(ctx, patientByPhoneQuery, normalizedQuery)
	default:
		rec, err = r.searchByName(ctx, normalizedQuery)
	}

	observeLookup(SourceRecords, start, err)
	return rec, err
}

func (r *RecordsClient) queryPostgres(ctx context.Context, query, arg string) (*models.SourceRecord, error) {
	var (
		patientID   string
		dateOfBirth sql.NullString
		medications pq.StringArray
		allergies   pq.StringArray
		lastVisit   sql.NullTime
	)

	row := r.db.QueryRowContext(ctx, query, arg)
	err := row.Scan(&patientID, &dateOfBirth, &medications, &allergies, &lastVisit)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return nil, gwerrors.NewSourceTimeoutError(SourceRecords)
	case err != nil:
		return nil, gwerrors.NewSourceUnavailableError(SourceRecords, err)
	}

	fields := map[string]interface{}{
		"patientId": patientID,
	}
	if dateOfBirth.Valid {
		fields["dateOfBirth"] = dateOfBirth.String
	}
	if len(medications) > 0 {
		fields["medications"] = []string(medications)
	}
	if len(allergies) > 0 {
		fields["allergies"] = []string(allergies)
	}
	if lastVisit.Valid {
		fields["lastVisit"] = lastVisit.Time.UTC().Format("2006-01-02")
	}

	return &models.SourceRecord{Source: SourceRecords, Fields: fields}, nil
}

type patientDocument struct {
	PatientID   string   `json:"patient_id"`
	DateOfBirth string   `json:"date_of_birth"`
	Medications []string `json:"medications"`
	Allergies   []string `json:"allergies"`
	LastVisit   string   `json:"last_visit"`
}

func (r *RecordsClient) searchByName(ctx context.Context, name string) (*models.SourceRecord, error) {
	query := map[string]interface{}{
		"size": 1,
		"query": map[string]interface{}{
			"match": map[string]interface{}{
				"full_name": map[string]interface{}{
					"query":     name,
					"fuzziness": "AUTO",
				},
			},
		},
	}
	body, err := json.Marshal(query)
	if err != nil {
		return nil, gwerrors.NewSourceUnavailableError(SourceRecords, err)
	}

	res, err := r.es.Search(
		r.es.Search.WithContext(ctx),
		r.es.Search.WithIndex(r.esIndex),
		r.es.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, gwerrors.NewSourceTimeoutError(SourceRecords)
		}
		return nil, gwerrors.NewSourceUnavailableError(SourceRecords, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, gwerrors.NewSourceUnavailableError(SourceRecords,
			fmt.Errorf("search returned status %s", res.Status()))
	}

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, gwerrors.NewSourceUnavailableError(SourceRecords, err)
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Source patientDocument `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, gwerrors.NewMalformedResponseError(SourceRecords, err.Error())
	}
	if len(parsed.Hits.Hits) == 0 {
		return nil, ErrNotFound
	}

	doc := parsed.Hits.Hits[0].Source
	fields := map[string]interface{}{}
	if doc.PatientID != "" {
		fields["patientId"] = doc.PatientID
	}
	if doc.DateOfBirth != "" {
		fields["dateOfBirth"] = doc.DateOfBirth
	}
	if len(doc.Medications) > 0 {
		fields["medications"] = doc.Medications
	}
	if len(doc.Allergies) > 0 {
		fields["allergies"] = doc.Allergies
	}
	if doc.LastVisit != "" {
		fields["lastVisit"] = doc.LastVisit
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	return &models.SourceRecord{Source: SourceRecords, Fields: fields}, nil
}

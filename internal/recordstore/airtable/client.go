// Package airtable persists approved posts as rows of an Airtable table.
package airtable

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/Rrens/postbot/internal/config"
	"github.com/Rrens/postbot/internal/domain"
)

const defaultBaseURL = "https://api.airtable.com"

// Column names in the posts table
const (
	fieldUserID       = "User ID"
	fieldSeriesID     = "Series ID"
	fieldPostID       = "Post ID"
	fieldFilename     = "Filename"
	fieldContent      = "Content"
	fieldTone         = "Tone"
	fieldRelationship = "Relationship"
	fieldParentPostID = "Parent Post ID"
	fieldStatus       = "Status"
)

var _ domain.RecordStore = (*Client)(nil)

// Client implements domain.RecordStore on the Airtable REST API
type Client struct {
	apiKey  string
	baseID  string
	table   string
	baseURL string
	client  *http.Client
}

// NewClient creates a new Airtable client
func NewClient(cfg config.AirtableConfig) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		apiKey:  cfg.APIKey,
		baseID:  cfg.BaseID,
		table:   cfg.Table,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type record struct {
	ID          string         `json:"id,omitempty"`
	CreatedTime string         `json:"createdTime,omitempty"`
	Fields      map[string]any `json:"fields"`
}

type upsertRequest struct {
	PerformUpsert struct {
		FieldsToMergeOn []string `json:"fieldsToMergeOn"`
	} `json:"performUpsert"`
	Records  []record `json:"records"`
	Typecast bool     `json:"typecast"`
}

type listResponse struct {
	Records []record `json:"records"`
	Offset  string   `json:"offset"`
}

func (c *Client) tableURL() string {
	return fmt.Sprintf("%s/v0/%s/%s", c.baseURL, url.PathEscape(c.baseID), url.PathEscape(c.table))
}

// Persist upserts the post keyed on series and post id and returns the record id
func (c *Client) Persist(ctx context.Context, payload domain.PostPayload) (string, error) {
	fields := map[string]any{
		fieldUserID:   payload.UserID,
		fieldSeriesID: payload.SeriesID,
		fieldPostID:   payload.PostID,
		fieldFilename: payload.Filename,
		fieldContent:  payload.Content,
		fieldTone:     payload.ToneUsed,
		fieldStatus:   payload.Status,
	}
	if payload.RelationshipType != "" {
		fields[fieldRelationship] = payload.RelationshipType
	}
	if payload.ParentPostID != 0 {
		fields[fieldParentPostID] = payload.ParentPostID
	}

	var body upsertRequest
	body.PerformUpsert.FieldsToMergeOn = []string{fieldSeriesID, fieldPostID}
	body.Records = []record{{Fields: fields}}
	body.Typecast = true

	var resp listResponse
	if err := c.do(ctx, http.MethodPatch, c.tableURL(), body, &resp); err != nil {
		return "", fmt.Errorf("%w: airtable persist: %v", domain.ErrCollaborator, err)
	}
	if len(resp.Records) == 0 || resp.Records[0].ID == "" {
		return "", fmt.Errorf("%w: airtable returned no record", domain.ErrCollaborator)
	}
	return resp.Records[0].ID, nil
}

// ListSessions groups the user's stored posts by series
func (c *Client) ListSessions(ctx context.Context, userID int64) ([]domain.SessionSummary, error) {
	bySeries := map[string]*domain.SessionSummary{}
	offset := ""

	for {
		q := url.Values{}
		q.Set("filterByFormula", fmt.Sprintf("{%s}=%d", fieldUserID, userID))
		q.Set("pageSize", "100")
		if offset != "" {
			q.Set("offset", offset)
		}

		var page listResponse
		if err := c.do(ctx, http.MethodGet, c.tableURL()+"?"+q.Encode(), nil, &page); err != nil {
			return nil, fmt.Errorf("%w: airtable list: %v", domain.ErrCollaborator, err)
		}

		for _, rec := range page.Records {
			seriesID, _ := rec.Fields[fieldSeriesID].(string)
			if seriesID == "" {
				continue
			}
			sum, ok := bySeries[seriesID]
			if !ok {
				sum = &domain.SessionSummary{UserID: userID, SeriesID: seriesID}
				bySeries[seriesID] = sum
			}
			sum.PostCount++
			if name, _ := rec.Fields[fieldFilename].(string); name != "" {
				sum.Filename = name
			}
			if ts, err := time.Parse(time.RFC3339, rec.CreatedTime); err == nil && ts.After(sum.LastActivity) {
				sum.LastActivity = ts
			}
		}

		if page.Offset == "" {
			break
		}
		offset = page.Offset
	}

	out := make([]domain.SessionSummary, 0, len(bySeries))
	for _, sum := range bySeries {
		out = append(out, *sum)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("airtable returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

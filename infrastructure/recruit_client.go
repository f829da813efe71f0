package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cv-recommender/domain"
)

const internalSecretHeader = "X-Internal-Secret"

// RecruitClient talks to the recruit service: embedding status callbacks and CV profile lookups.
type RecruitClient struct {
	baseURL string
	secret  string
	client  *http.Client
}

func NewRecruitClient(baseURL, secret string, timeout time.Duration) *RecruitClient {
	return &RecruitClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		client:  &http.Client{Timeout: timeout},
	}
}

// SetStatus reports the embedding status of a resume or job description.
func (c *RecruitClient) SetStatus(ctx context.Context, kind domain.EntityKind, entityID, status string) error {
	segment := "cvs"
	if kind == domain.KindJob {
		segment = "jobs"
	}
	endpoint := fmt.Sprintf("%s/api/recruit-service/%s/%s/status-embedding?status=%s",
		c.baseURL, segment, url.PathEscape(entityID), url.QueryEscape(status))

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(internalSecretHeader, c.secret)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("status update request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status update for %s %s returned %d", segment, entityID, resp.StatusCode)
	}
	return nil
}

// BatchFetch loads the profiles of every id in one request. Ids the recruit service does not
// return are absent from the result map.
func (c *RecruitClient) BatchFetch(ctx context.Context, ids []string) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	body, err := json.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ids: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/recruit-service/cvs/by-cvIds", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(internalSecretHeader, c.secret)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("profile lookup request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("profile lookup returned %d", resp.StatusCode)
	}

	var profiles []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&profiles); err != nil {
		return nil, fmt.Errorf("failed to decode profiles: %w", err)
	}
	for _, raw := range profiles {
		var head struct {
			CVID json.RawMessage `json:"cvId"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			continue
		}
		if id := rawID(head.CVID); id != "" {
			out[id] = raw
		}
	}
	return out, nil
}

// rawID renders a JSON string or number id as a plain string.
func rawID(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// Package remote holds thin HTTP shims for the stage collaborators. Each shim
// speaks a small JSON contract to an externally hosted service; everything the
// collaborator does internally (scraping, inference, encoding) stays behind
// that service boundary.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"gorm.io/datatypes"

	types "github.com/reelforge/reelforge-backend/internal/domain"
	"github.com/reelforge/reelforge-backend/internal/platform/logger"
	"github.com/reelforge/reelforge-backend/internal/stages"
)

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func newClient(log *logger.Logger, envBase, component string) (*client, error) {
	baseURL := strings.TrimRight(os.Getenv(envBase), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("missing %s", envBase)
	}

	timeoutSec := 180
	if v := os.Getenv("COLLAB_TIMEOUT_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}

	return &client{
		log:        log.With("service", component),
		baseURL:    baseURL,
		apiKey:     os.Getenv("COLLAB_API_KEY"),
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
	}, nil
}

func (c *client) postJSON(ctx context.Context, path string, body any, out any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, truncate(string(raw), 200))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

type platformClient struct {
	*client
	platform string
}

// NewPlatformClients returns one search shim per platform name, all backed by
// the service at PLATFORM_API_BASE.
func NewPlatformClients(log *logger.Logger, platforms []string) ([]stages.PlatformClient, error) {
	base, err := newClient(log, "PLATFORM_API_BASE", "PlatformClient")
	if err != nil {
		return nil, err
	}
	clients := make([]stages.PlatformClient, 0, len(platforms))
	for _, p := range platforms {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		clients = append(clients, &platformClient{client: base, platform: p})
	}
	return clients, nil
}

func (pc *platformClient) Platform() string { return pc.platform }

func (pc *platformClient) Search(ctx context.Context, query string, limit int) ([]stages.DiscoveredVideo, error) {
	req := map[string]any{"query": query, "limit": limit}
	var resp struct {
		Videos []struct {
			PlatformVideoID string         `json:"platform_video_id"`
			URL             string         `json:"url"`
			Title           string         `json:"title"`
			Description     string         `json:"description"`
			Author          string         `json:"author"`
			Views           int64          `json:"views"`
			Likes           int64          `json:"likes"`
			Comments        int64          `json:"comments"`
			DurationSecs    float64        `json:"duration_secs"`
			UploadDate      *time.Time     `json:"upload_date"`
			TrendingScore   float64        `json:"trending_score"`
			Metadata        map[string]any `json:"metadata"`
		} `json:"videos"`
	}
	if err := pc.postJSON(ctx, "/v1/"+pc.platform+"/search", req, &resp); err != nil {
		return nil, err
	}
	videos := make([]stages.DiscoveredVideo, 0, len(resp.Videos))
	for _, v := range resp.Videos {
		var meta datatypes.JSON
		if v.Metadata != nil {
			if b, err := json.Marshal(v.Metadata); err == nil {
				meta = datatypes.JSON(b)
			}
		}
		videos = append(videos, stages.DiscoveredVideo{
			PlatformVideoID: v.PlatformVideoID,
			URL:             v.URL,
			Title:           v.Title,
			Description:     v.Description,
			Author:          v.Author,
			Views:           v.Views,
			Likes:           v.Likes,
			Comments:        v.Comments,
			DurationSecs:    v.DurationSecs,
			UploadDate:      v.UploadDate,
			TrendingScore:   v.TrendingScore,
			Metadata:        meta,
		})
	}
	return videos, nil
}

type analyzerClient struct {
	*client
}

func NewAnalyzer(log *logger.Logger) (stages.AnalyzerClient, error) {
	base, err := newClient(log, "ANALYZER_API_BASE", "AnalyzerClient")
	if err != nil {
		return nil, err
	}
	return &analyzerClient{client: base}, nil
}

func (ac *analyzerClient) Analyze(ctx context.Context, item *types.Item) (*stages.AnalysisResult, error) {
	req := map[string]any{
		"item_id":     item.ID,
		"platform":    item.Platform,
		"url":         item.URL,
		"title":       item.Title,
		"description": item.Description,
		"author":      item.Author,
	}
	var resp struct {
		Model          string         `json:"model"`
		QualityScore   float64        `json:"quality_score"`
		ViralityScore  float64        `json:"virality_score"`
		RelevanceScore float64        `json:"relevance_score"`
		Summary        string         `json:"summary"`
		Topics         []string       `json:"topics"`
		Recommended    bool           `json:"recommended"`
		Extra          map[string]any `json:"extra"`
	}
	if err := ac.postJSON(ctx, "/v1/analyze", req, &resp); err != nil {
		return nil, err
	}
	var topics datatypes.JSON
	if resp.Topics != nil {
		if b, err := json.Marshal(resp.Topics); err == nil {
			topics = datatypes.JSON(b)
		}
	}
	return &stages.AnalysisResult{
		Model:          resp.Model,
		QualityScore:   resp.QualityScore,
		ViralityScore:  resp.ViralityScore,
		RelevanceScore: resp.RelevanceScore,
		Summary:        resp.Summary,
		Topics:         topics,
		Recommended:    resp.Recommended,
	}, nil
}

type compositorClient struct {
	*client
}

func NewCompositor(log *logger.Logger) (stages.Compositor, error) {
	base, err := newClient(log, "COMPOSITOR_API_BASE", "Compositor")
	if err != nil {
		return nil, err
	}
	return &compositorClient{client: base}, nil
}

func (cc *compositorClient) Render(ctx context.Context, output *types.Output, items []*types.Item) (string, float64, error) {
	clips := make([]map[string]any, 0, len(items))
	for _, it := range items {
		clips = append(clips, map[string]any{
			"item_id":       it.ID,
			"platform":      it.Platform,
			"url":           it.URL,
			"duration_secs": it.DurationSecs,
		})
	}
	req := map[string]any{
		"output_id": output.ID,
		"job_id":    output.JobID,
		"clips":     clips,
	}
	var resp struct {
		ArtifactPath string  `json:"artifact_path"`
		DurationSecs float64 `json:"duration_secs"`
	}
	if err := cc.postJSON(ctx, "/v1/render", req, &resp); err != nil {
		return "", 0, err
	}
	return resp.ArtifactPath, resp.DurationSecs, nil
}

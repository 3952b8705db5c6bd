package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/heyemlee/ai-knowledgehub/config"
	"github.com/heyemlee/ai-knowledgehub/llm/retry"
	"github.com/heyemlee/ai-knowledgehub/types"
)

// QdrantStore wraps Qdrant's REST API.
//
// Notes:
// - Qdrant point IDs are UUIDs; a stable UUID is derived from sourceID+chunkIndex
//   so re-indexing the same document overwrites its points instead of duplicating them.
// - Chunk content and metadata are stored in the point payload.
type QdrantStore struct {
	cfg     config.QdrantConfig
	strict  bool
	baseURL string
	client  *http.Client
	logger  *zap.Logger

	connectRetry *retry.Retryer
	opRetry      *retry.Retryer
}

// Point is one upsert unit: a vector plus its chunk payload.
type Point struct {
	SourceID   string
	ChunkIndex int
	Vector     []float32
	Content    string
	Metadata   Metadata
}

// NewQdrantStore creates a Qdrant-backed vector store. In strict mode a
// collection dimension mismatch fails fast; otherwise it is logged and the
// operator is expected to recreate the collection.
func NewQdrantStore(cfg config.QdrantConfig, strict bool, connectRetry, opRetry *retry.Retryer, logger *zap.Logger) *QdrantStore {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:6333"
	}
	if cfg.MaxDeletePoints <= 0 {
		cfg.MaxDeletePoints = 10000
	}

	return &QdrantStore{
		cfg:          cfg,
		strict:       strict,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		client:       &http.Client{Timeout: cfg.Timeout},
		connectRetry: connectRetry,
		opRetry:      opRetry,
		logger:       logger.With(zap.String("component", "qdrant_store")),
	}
}

var qdrantNamespace = uuid.MustParse("8f1c9f52-7b53-4c1d-9d6e-2a4b0c3e5f71")

// pointID derives a stable UUID so the same chunk always maps to the same point.
func pointID(sourceID string, chunkIndex int) string {
	return uuid.NewSHA1(qdrantNamespace, []byte(fmt.Sprintf("%s:%d", sourceID, chunkIndex))).String()
}

func (s *QdrantStore) applyHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(s.cfg.APIKey) != "" {
		// Qdrant convention.
		req.Header.Set("api-key", s.cfg.APIKey)
	}
}

func (s *QdrantStore) doJSON(ctx context.Context, method, path string, in any, out any) error {
	endpoint := s.baseURL + path

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	s.applyHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return &types.Error{Code: types.ErrUpstreamError, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: "qdrant", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return &types.Error{
			Code:       types.ErrUpstreamError,
			Message:    fmt.Sprintf("qdrant request failed: method=%s path=%s status=%d body=%s", method, path, resp.StatusCode, string(raw)),
			HTTPStatus: resp.StatusCode,
			Retryable:  resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
			Provider:   "qdrant",
		}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (s *QdrantStore) collectionPath(suffix string) string {
	return fmt.Sprintf("/collections/%s%s", url.PathEscape(s.cfg.Collection), suffix)
}

// EnsureCollection creates the collection if missing and verifies the vector
// dimension of an existing one. Idempotent; wrapped in the connect retryer.
func (s *QdrantStore) EnsureCollection(ctx context.Context, dimension int) error {
	if strings.TrimSpace(s.cfg.Collection) == "" {
		return types.NewError(types.ErrConfiguration, "qdrant collection is required")
	}
	if dimension <= 0 {
		return types.NewError(types.ErrConfiguration, "qdrant vector dimension must be > 0")
	}

	return s.connectRetry.Do(ctx, "ensure_collection", func() error {
		var info struct {
			Result struct {
				Config struct {
					Params struct {
						Vectors struct {
							Size int `json:"size"`
						} `json:"vectors"`
					} `json:"params"`
				} `json:"config"`
			} `json:"result"`
		}
		err := s.doJSON(ctx, http.MethodGet, s.collectionPath(""), nil, &info)
		if err == nil {
			if info.Result.Config.Params.Vectors.Size != dimension {
				mismatch := types.NewError(types.ErrConfiguration,
					fmt.Sprintf("collection %q dimension mismatch: have %d, want %d; recreate the collection",
						s.cfg.Collection, info.Result.Config.Params.Vectors.Size, dimension))
				if s.strict {
					return mismatch
				}
				s.logger.Error("集合维度与嵌入模型不匹配，检索结果将不可用",
					zap.String("collection", s.cfg.Collection),
					zap.Int("have", info.Result.Config.Params.Vectors.Size),
					zap.Int("want", dimension),
				)
				return nil
			}
			return nil
		}
		if appErr, ok := types.AsError(err); !ok || appErr.HTTPStatus != http.StatusNotFound {
			return err
		}

		body := map[string]any{
			"vectors": map[string]any{
				"size":     dimension,
				"distance": "Cosine",
			},
		}
		if err := s.doJSON(ctx, http.MethodPut, s.collectionPath(""), body, nil); err != nil {
			// Concurrent creation races report conflict; the collection exists.
			if appErr, ok := types.AsError(err); ok && appErr.HTTPStatus == http.StatusConflict {
				return nil
			}
			return err
		}
		s.logger.Info("collection created",
			zap.String("collection", s.cfg.Collection),
			zap.Int("dimension", dimension),
		)
		return nil
	})
}

type qdrantPoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Upsert writes points to the collection, overwriting existing ones with the
// same derived ID.
func (s *QdrantStore) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	qdrantPoints := make([]qdrantPoint, 0, len(points))
	for i, p := range points {
		if len(p.Vector) == 0 {
			return types.NewError(types.ErrInvalidRequest, fmt.Sprintf("point[%d] has no vector", i))
		}
		qdrantPoints = append(qdrantPoints, qdrantPoint{
			ID:     pointID(p.SourceID, p.ChunkIndex),
			Vector: p.Vector,
			Payload: map[string]any{
				"source_id": p.SourceID,
				"content":   p.Content,
				"metadata":  p.Metadata,
			},
		})
	}

	req := struct {
		Points []qdrantPoint `json:"points"`
	}{Points: qdrantPoints}

	return s.opRetry.Do(ctx, "upsert", func() error {
		if err := s.doJSON(ctx, http.MethodPut, s.collectionPath("/points?wait=true"), req, nil); err != nil {
			return err
		}
		s.logger.Debug("qdrant upsert completed", zap.Int("count", len(points)))
		return nil
	})
}

// Search runs similarity search and decodes payloads into RetrievedDocuments.
// A scoreThreshold of 0 disables threshold filtering.
func (s *QdrantStore) Search(ctx context.Context, vector []float32, limit int, scoreThreshold float64) ([]RetrievedDocument, error) {
	if limit <= 0 {
		return nil, nil
	}
	if len(vector) == 0 {
		return nil, types.NewError(types.ErrInvalidRequest, "query vector is required")
	}

	req := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
		"with_vector":  false,
	}
	if scoreThreshold > 0 {
		req["score_threshold"] = scoreThreshold
	}

	var resp struct {
		Result []struct {
			ID      any             `json:"id"`
			Score   float64         `json:"score"`
			Payload json.RawMessage `json:"payload"`
		} `json:"result"`
	}

	err := s.opRetry.Do(ctx, "search", func() error {
		return s.doJSON(ctx, http.MethodPost, s.collectionPath("/points/search"), req, &resp)
	})
	if err != nil {
		return nil, err
	}

	out := make([]RetrievedDocument, 0, len(resp.Result))
	for _, r := range resp.Result {
		var payload struct {
			SourceID string   `json:"source_id"`
			Content  string   `json:"content"`
			Metadata Metadata `json:"metadata"`
		}
		if len(r.Payload) > 0 {
			if err := json.Unmarshal(r.Payload, &payload); err != nil {
				s.logger.Warn("point payload undecodable, skipping",
					zap.Any("point_id", r.ID),
					zap.Error(err),
				)
				continue
			}
		}
		if payload.Metadata.FileID == "" {
			payload.Metadata.FileID = payload.SourceID
		}
		out = append(out, RetrievedDocument{
			Content:  payload.Content,
			Metadata: payload.Metadata,
			Score:    r.Score,
		})
	}
	return out, nil
}

// DeleteBySource removes all points belonging to a source document. The scan
// is bounded by MaxDeletePoints; deletion is find-then-delete by ID list.
func (s *QdrantStore) DeleteBySource(ctx context.Context, sourceID string) (int, error) {
	if strings.TrimSpace(sourceID) == "" {
		return 0, types.NewError(types.ErrInvalidRequest, "source id is required")
	}

	filter := map[string]any{
		"must": []map[string]any{
			{"key": "source_id", "match": map[string]any{"value": sourceID}},
		},
	}

	var ids []any
	err := s.opRetry.Do(ctx, "scroll_points", func() error {
		ids = ids[:0]
		var offset any
		for len(ids) < s.cfg.MaxDeletePoints {
			req := map[string]any{
				"filter":       filter,
				"limit":        1000,
				"with_payload": false,
				"with_vector":  false,
			}
			if offset != nil {
				req["offset"] = offset
			}

			var resp struct {
				Result struct {
					Points []struct {
						ID any `json:"id"`
					} `json:"points"`
					NextPageOffset any `json:"next_page_offset"`
				} `json:"result"`
			}
			if err := s.doJSON(ctx, http.MethodPost, s.collectionPath("/points/scroll"), req, &resp); err != nil {
				return err
			}
			for _, p := range resp.Result.Points {
				ids = append(ids, p.ID)
			}
			if resp.Result.NextPageOffset == nil || len(resp.Result.Points) == 0 {
				break
			}
			offset = resp.Result.NextPageOffset
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if len(ids) > s.cfg.MaxDeletePoints {
		ids = ids[:s.cfg.MaxDeletePoints]
	}

	req := map[string]any{"points": ids}
	err = s.opRetry.Do(ctx, "delete_points", func() error {
		return s.doJSON(ctx, http.MethodPost, s.collectionPath("/points/delete?wait=true"), req, nil)
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("points deleted by source",
		zap.String("source_id", sourceID),
		zap.Int("count", len(ids)),
	)
	return len(ids), nil
}

// Count returns the exact number of points in the collection.
func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	err := s.opRetry.Do(ctx, "count", func() error {
		return s.doJSON(ctx, http.MethodPost, s.collectionPath("/points/count"), map[string]any{"exact": true}, &resp)
	})
	if err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

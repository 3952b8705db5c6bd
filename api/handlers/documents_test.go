package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/heyemlee/ai-knowledgehub/rag"
	"github.com/heyemlee/ai-knowledgehub/types"
)

// fakeIndexService 记录入库调用
type fakeIndexService struct {
	indexed  []rag.Document
	replaced []rag.Document
	deleted  []string
	chunks   int
	deleteN  int
	err      error
}

func (f *fakeIndexService) IndexDocument(ctx context.Context, doc rag.Document) (int, types.TokenUsage, error) {
	if f.err != nil {
		return 0, types.TokenUsage{}, f.err
	}
	f.indexed = append(f.indexed, doc)
	return f.chunks, types.TokenUsage{TotalTokens: 7}, nil
}

func (f *fakeIndexService) ReplaceDocument(ctx context.Context, doc rag.Document) (int, types.TokenUsage, error) {
	if f.err != nil {
		return 0, types.TokenUsage{}, f.err
	}
	f.replaced = append(f.replaced, doc)
	return f.chunks, types.TokenUsage{TotalTokens: 7}, nil
}

func (f *fakeIndexService) DeleteSource(ctx context.Context, fileID string) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.deleted = append(f.deleted, fileID)
	return f.deleteN, nil
}

func TestHandleDocumentsIndex(t *testing.T) {
	svc := &fakeIndexService{chunks: 3}
	h := NewDocumentHandler(svc, zap.NewNop())

	body := `{"file_id":"f1","filename":"manual.md","text":"知识库内容"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandleDocuments(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, svc.indexed, 1)
	assert.Equal(t, "f1", svc.indexed[0].FileID)
	assert.Empty(t, svc.replaced)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	data, _ := json.Marshal(resp.Data)
	var result IndexResponse
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Equal(t, 3, result.Chunks)
	assert.Equal(t, 7, result.EmbeddingTokens)
}

func TestHandleDocumentsReplace(t *testing.T) {
	svc := &fakeIndexService{chunks: 2}
	h := NewDocumentHandler(svc, zap.NewNop())

	body := `{"file_id":"f1","text":"新版本内容","replace":true}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandleDocuments(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, svc.replaced, 1)
	assert.Empty(t, svc.indexed)
}

func TestHandleDocumentsValidation(t *testing.T) {
	h := NewDocumentHandler(&fakeIndexService{}, zap.NewNop())

	cases := []struct {
		name string
		body string
	}{
		{"missing file_id", `{"text":"content"}`},
		{"missing content", `{"file_id":"f1"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			h.HandleDocuments(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestHandleDocumentsDelete(t *testing.T) {
	svc := &fakeIndexService{deleteN: 5}
	h := NewDocumentHandler(svc, zap.NewNop())

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/documents?file_id=f1", nil)
	rec := httptest.NewRecorder()
	h.HandleDocuments(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"f1"}, svc.deleted)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	data, _ := json.Marshal(resp.Data)
	var result DeleteResponse
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Equal(t, 5, result.Deleted)
}

func TestHandleDocumentsDeleteRequiresFileID(t *testing.T) {
	h := NewDocumentHandler(&fakeIndexService{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/documents", nil)
	rec := httptest.NewRecorder()
	h.HandleDocuments(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleDocumentsMethodNotAllowed(t *testing.T) {
	h := NewDocumentHandler(&fakeIndexService{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents", nil)
	rec := httptest.NewRecorder()
	h.HandleDocuments(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shouni/go-manga-studio/pkg/config"
	"github.com/shouni/go-manga-studio/pkg/notify"
	"github.com/shouni/go-manga-studio/pkg/store"
	"github.com/shouni/go-manga-studio/pkg/workflow"

	"github.com/gin-gonic/gin"
	"google.golang.org/genai"
)

type imageModels struct{}

func (imageModels) GenerateContent(context.Context, string, []*genai.Content, *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{InlineData: &genai.Blob{Data: []byte("img"), MIMEType: "image/png"}},
			}},
		}},
	}, nil
}

const projectJSON = `{
	"title": "demo",
	"chapters": [{
		"id": "ch1",
		"title": "Chapter 1",
		"panels": [{
			"id": "p1",
			"layout": [[1, 2]],
			"sub_panels": [
				{"id": "a", "cell": 1, "prompt": "street", "image_url": "data:image/png;base64,AAAA"},
				{"id": "b", "cell": 2, "prompt": ""}
			]
		}]
	}],
	"settings": {"page_width": 800, "panel_spacing": 8, "max_concurrent_generations": 1}
}`

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.DefaultConfig()
	cfg.GateInterval = 0
	cfg.SaveDebounce = time.Hour
	m, err := workflow.New(context.Background(), workflow.ManagerArgs{
		Config:     cfg,
		Repository: store.NewMemoryRepository(),
		Models:     imageModels{},
		Confirmer:  notify.ContextConfirmer{},
	})
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(New(m).Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = m.Close(context.Background())
	})
	return ts
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestServer(t *testing.T) {
	ts := newTestServer(t)
	base := ts.URL + "/api/projects/u1"

	if resp := do(t, http.MethodPut, base, projectJSON); resp.StatusCode != http.StatusOK {
		t.Fatalf("プロジェクトの保存に失敗しました: %d", resp.StatusCode)
	}

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"ヘルスチェックが応答すること", http.MethodGet, ts.URL + "/health", "", http.StatusOK},
		{"指標が公開されること", http.MethodGet, ts.URL + "/metrics", "", http.StatusOK},
		{"プロジェクトを取得できること", http.MethodGet, base, "", http.StatusOK},
		{"不正なレイアウトは拒否されること", http.MethodPut, base, `{"chapters":[{"id":"c","panels":[{"id":"p","layout":[[1]],"sub_panels":[]}]}]}`, http.StatusBadRequest},
		{"存在しないサブパネルは404になること", http.MethodPut, base + "/subpanels/missing/prompt", `{"prompt":"x"}`, http.StatusNotFound},
		{"確認なしの再生成は409になること", http.MethodPost, base + "/subpanels/a/regenerate", "", http.StatusConflict},
		{"自身を連続性アンカーにすると400になること", http.MethodPut, base + "/subpanels/a/continuity", `{"sub_panel_id":"a"}`, http.StatusBadRequest},
		{"状態を取得できること", http.MethodGet, base + "/status", "", http.StatusOK},
		{"通知を取得できること", http.MethodGet, base + "/notices", "", http.StatusOK},
		{"確認付きの再生成は受け付けられること", http.MethodPost, base + "/subpanels/a/regenerate?confirm=true", "", http.StatusAccepted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if resp := do(t, tc.method, tc.path, tc.body); resp.StatusCode != tc.want {
				t.Errorf("期待値 %d, 実際の値 %d", tc.want, resp.StatusCode)
			}
		})
	}
}

package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func TestHeyGenSubmitVideo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v2/video/generate" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-Api-Key") != "key-1" {
			t.Errorf("missing api key header")
		}
		var body heygenGenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if len(body.VideoInputs) != 1 || body.VideoInputs[0].Voice.InputText != "Be still." || body.VideoInputs[0].Character.AvatarID != "av-1" {
			t.Errorf("unexpected body: %+v", body)
		}
		if body.CallbackID != "log-1" {
			t.Errorf("callback id = %q", body.CallbackID)
		}
		_, _ = w.Write([]byte(`{"error":null,"data":{"video_id":"vid-123"}}`))
	}))
	defer srv.Close()

	c := newTestHeyGen(t, srv.URL, 0)
	jobID, err := c.SubmitVideo(context.Background(), VideoRequest{Script: "Be still.", AvatarID: "av-1", VoiceID: "vo-1", CallbackID: "log-1"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if jobID != "vid-123" {
		t.Fatalf("job id = %q", jobID)
	}
}

func TestHeyGenSubmitRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"data":{"video_id":"vid-2"}}`))
	}))
	defer srv.Close()

	c := newTestHeyGen(t, srv.URL, 2)
	jobID, err := c.SubmitVideo(context.Background(), VideoRequest{Script: "s", AvatarID: "a", VoiceID: "v"})
	if err != nil || jobID != "vid-2" {
		t.Fatalf("submit: job=%q err=%v", jobID, err)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", calls.Load())
	}
}

func TestHeyGenSubmitSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"invalid_avatar","message":"avatar not found"}}`))
	}))
	defer srv.Close()

	c := newTestHeyGen(t, srv.URL, 3)
	_, err := c.SubmitVideo(context.Background(), VideoRequest{Script: "s", AvatarID: "a", VoiceID: "v"})
	if err == nil || !strings.Contains(err.Error(), "avatar not found") {
		t.Fatalf("expected api error, got %v", err)
	}
}

func TestHeyGenSubmitValidatesInput(t *testing.T) {
	c := newTestHeyGen(t, "http://127.0.0.1:1", 0)
	if _, err := c.SubmitVideo(context.Background(), VideoRequest{AvatarID: "a", VoiceID: "v"}); err == nil {
		t.Fatalf("expected missing script error")
	}
	if _, err := c.SubmitVideo(context.Background(), VideoRequest{Script: "s"}); err == nil {
		t.Fatalf("expected missing avatar error")
	}
}

func TestHeyGenVideoStatus(t *testing.T) {
	cases := []struct {
		name      string
		body      string
		wantState string
		wantURL   string
		wantErr   string
	}{
		{name: "completed", body: `{"code":100,"data":{"status":"completed","video_url":"https://cdn/v.mp4"}}`, wantState: VideoCompleted, wantURL: "https://cdn/v.mp4"},
		{name: "processing", body: `{"code":100,"data":{"status":"processing"}}`, wantState: VideoPending},
		{name: "waiting", body: `{"code":100,"data":{"status":"waiting"}}`, wantState: VideoPending},
		{name: "failed", body: `{"code":100,"data":{"status":"failed","error":{"message":"render failed","detail":"voice"}}}`, wantState: VideoFailed, wantErr: "render failed: voice"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/v1/video_status.get" || r.URL.Query().Get("video_id") != "vid-9" {
					t.Errorf("unexpected request %s", r.URL.String())
				}
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			st, err := newTestHeyGen(t, srv.URL, 0).VideoStatus(context.Background(), "vid-9")
			if err != nil {
				t.Fatalf("status: %v", err)
			}
			if st.State != tc.wantState || st.VideoURL != tc.wantURL || st.Error != tc.wantErr {
				t.Fatalf("unexpected status: %+v", st)
			}
		})
	}
}

func newTestHeyGen(t *testing.T, baseURL string, retries int) *HeyGenClient {
	t.Helper()
	c, err := NewHeyGenClient(HeyGenConfig{BaseURL: baseURL, APIKey: "key-1", MaxRetries: retries})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

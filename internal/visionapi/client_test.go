package visionapi

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MimeLyc/vision2voice/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	client, err := NewClient(&Config{APIURL: url + "/api", Timeout: 5})
	require.NoError(t, err)
	return client
}

func TestNewClient_InvalidConfig(t *testing.T) {
	_, err := NewClient(&Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")

	_, err = NewClient(&Config{APIURL: "http://x/api"})
	require.Error(t, err)
}

func TestClient_CaptionSendsMultipartFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/caption", r.URL.Path)

		file, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		assert.NoError(t, err)

		assert.Equal(t, []byte{0xff, 0xd8, 0xff}, data)
		assert.Equal(t, "dog.jpg", header.Filename)
		assert.Equal(t, "image/jpeg", header.Header.Get("Content-Type"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"caption":"a dog on a beach"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	resp, err := client.Caption(context.Background(), Image{
		Data:        []byte{0xff, 0xd8, 0xff},
		Filename:    "dog.jpg",
		ContentType: "image/jpeg",
	})
	require.NoError(t, err)
	assert.Equal(t, "a dog on a beach", resp.Caption)
}

func TestClient_TranslateFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/translate", r.URL.Path)
		assert.Equal(t, "a dog on a beach", r.FormValue("text"))
		assert.Equal(t, "hi", r.FormValue("target_lang"))
		_, _ = w.Write([]byte(`{"translated_text":"एक समुद्र तट पर कुत्ता"}`))
	}))
	defer server.Close()

	resp, err := newTestClient(t, server.URL).Translate(context.Background(), "a dog on a beach", "hi")
	require.NoError(t, err)
	assert.Equal(t, "एक समुद्र तट पर कुत्ता", resp.TranslatedText)
}

func TestClient_SynthesizeReturnsAudio(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tts", r.URL.Path)
		assert.Equal(t, "hello", r.FormValue("text"))
		assert.Equal(t, "en", r.FormValue("language"))
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3audio"))
	}))
	defer server.Close()

	audio, err := newTestClient(t, server.URL).Synthesize(context.Background(), "hello", "en")
	require.NoError(t, err)
	assert.Equal(t, []byte("ID3audio"), audio.Data)
	assert.Equal(t, "audio/mpeg", audio.ContentType)
}

func TestClient_SynthesizeDefaultsAudioType(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte("raw"))
	}))
	defer server.Close()

	audio, err := newTestClient(t, server.URL).Synthesize(context.Background(), "hello", "en")
	require.NoError(t, err)
	assert.Equal(t, "audio/mpeg", audio.ContentType)
}

func TestClient_ServerErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"detail":"model crashed"}`))
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL).Translate(context.Background(), "x", "hi")
	require.Error(t, err)

	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.ErrServer, appErr.Type)
	assert.Equal(t, http.StatusInternalServerError, appErr.Status)
	assert.Contains(t, err.Error(), "model crashed")
}

func TestClient_MalformedJSONIsServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>oops</html>`))
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL).Caption(context.Background(), Image{Data: []byte{1}})
	require.Error(t, err)
	assert.True(t, apperr.IsType(err, apperr.ErrServer))
}

func TestClient_UnreachableIsConnectivityError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := newTestClient(t, url).Caption(context.Background(), Image{Data: []byte{1}})
	require.Error(t, err)
	assert.True(t, apperr.IsType(err, apperr.ErrConnectivity))
	assert.Contains(t, err.Error(), "Unable to connect to the server")
}

func TestClient_Health(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/health", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	}))
	defer server.Close()

	health, err := newTestClient(t, server.URL).Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "healthy", health["status"])
}

func TestClient_OversizedResponseIsServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write(make([]byte, 64))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	client.maxBody = 32

	_, err := client.Synthesize(context.Background(), "hello", "en")
	require.Error(t, err)
	assert.True(t, apperr.IsType(err, apperr.ErrServer))
	assert.Contains(t, err.Error(), "exceeds 32 bytes")

	client.maxBody = 64
	audio, err := client.Synthesize(context.Background(), "hello", "en")
	require.NoError(t, err)
	assert.Len(t, audio.Data, 64)
}

func TestClient_HealthFailureIsAttributedToHealthStep(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL).Health(context.Background())
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.StepHealth, appErr.Step)
	assert.Equal(t, http.StatusServiceUnavailable, appErr.Status)
}

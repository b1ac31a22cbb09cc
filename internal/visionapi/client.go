package visionapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/MimeLyc/vision2voice/internal/apperr"
)

const (
	// maxErrorBody caps how much of a failed response body ends up in an error.
	maxErrorBody = 512
	// maxResponseBody caps any response body, synthesized audio included.
	maxResponseBody = 32 << 20
)

// Client talks to the remote caption/translate/tts service.
// Safe for concurrent use.
type Client struct {
	config     *Config
	httpClient *http.Client
	baseURL    string
	maxBody    int64
}

// NewClient creates a new client with the given configuration
//
// Example:
//
//	client, err := visionapi.NewClient(&visionapi.Config{
//		APIURL:  "http://localhost:8000/api",
//		Timeout: 60,
//	})
func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &Client{
		config:  config,
		baseURL: strings.TrimSuffix(config.APIURL, "/"),
		maxBody: maxResponseBody,
		httpClient: &http.Client{
			Timeout: time.Duration(config.Timeout) * time.Second,
		},
	}, nil
}

// Caption submits the image as the multipart "file" field.
func (c *Client) Caption(ctx context.Context, image Image) (*CaptionResponse, error) {
	form := newForm()
	if err := form.file("file", image); err != nil {
		return nil, err
	}

	var ret CaptionResponse
	if err := c.postJSON(ctx, EndpointCaption, form, &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

// Translate submits text and target_lang.
func (c *Client) Translate(ctx context.Context, text, targetLang string) (*TranslateResponse, error) {
	form := newForm()
	form.field("text", text)
	form.field("target_lang", targetLang)

	var ret TranslateResponse
	if err := c.postJSON(ctx, EndpointTranslate, form, &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

// Synthesize submits text and language and returns the audio body.
func (c *Client) Synthesize(ctx context.Context, text, lang string) (*Audio, error) {
	form := newForm()
	form.field("text", text)
	form.field("language", lang)

	resp, body, err := c.do(ctx, http.MethodPost, EndpointTTS, form)
	if err != nil {
		return nil, err
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" || strings.HasPrefix(contentType, "application/octet-stream") {
		contentType = defaultAudioType
	}
	return &Audio{Data: body, ContentType: contentType}, nil
}

// Health returns the decoded body of the remote health endpoint.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	_, body, err := c.do(ctx, http.MethodGet, EndpointHealth, nil)
	if err != nil {
		if appErr, ok := apperr.As(err); ok {
			return nil, appErr.WithStep(apperr.StepHealth)
		}
		return nil, err
	}
	ret := map[string]any{}
	if len(bytes.TrimSpace(body)) == 0 {
		return ret, nil
	}
	if err := json.Unmarshal(body, &ret); err != nil {
		return nil, apperr.NewServer("malformed health response", http.StatusOK, err).WithStep(apperr.StepHealth)
	}
	return ret, nil
}

func (c *Client) postJSON(ctx context.Context, path string, form *formBody, out any) error {
	_, body, err := c.do(ctx, http.MethodPost, path, form)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apperr.NewServer(fmt.Sprintf("malformed response from %s", path), http.StatusOK, err)
	}
	return nil
}

// do performs one request. Transport failures become connectivity errors,
// non-2xx statuses become server errors.
func (c *Client) do(ctx context.Context, method, path string, form *formBody) (*http.Response, []byte, error) {
	url := c.baseURL + path

	var body io.Reader
	contentType := ""
	if form != nil {
		payload, ct, err := form.close()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode form: %w", err)
		}
		body = bytes.NewReader(payload)
		contentType = ct
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, apperr.NewConnectivity(
			"Network error: Unable to connect to the server. Please check if the backend is running.", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, nil, apperr.NewConnectivity("failed to read response body", err)
	}
	if int64(len(responseBody)) > c.maxBody {
		return resp, nil, apperr.NewServer(
			fmt.Sprintf("response from %s exceeds %d bytes", path, c.maxBody),
			resp.StatusCode, nil)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := responseBody
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return resp, nil, apperr.NewServer(
			fmt.Sprintf("HTTP error! status: %d", resp.StatusCode),
			resp.StatusCode,
			fmt.Errorf("%s %s: %s", method, path, strings.TrimSpace(string(snippet))),
		)
	}

	return resp, responseBody, nil
}

type formBody struct {
	buf    bytes.Buffer
	writer *multipart.Writer
	err    error
}

func newForm() *formBody {
	f := &formBody{}
	f.writer = multipart.NewWriter(&f.buf)
	return f
}

func (f *formBody) field(name, value string) {
	if f.err != nil {
		return
	}
	f.err = f.writer.WriteField(name, value)
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func (f *formBody) file(name string, image Image) error {
	filename := image.Filename
	if filename == "" {
		filename = "image"
	}
	contentType := image.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(name), quoteEscaper.Replace(filename)))
	h.Set("Content-Type", contentType)

	part, err := f.writer.CreatePart(h)
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(image.Data); err != nil {
		return fmt.Errorf("failed to write form file: %w", err)
	}
	return nil
}

func (f *formBody) close() ([]byte, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	if err := f.writer.Close(); err != nil {
		return nil, "", err
	}
	return f.buf.Bytes(), f.writer.FormDataContentType(), nil
}

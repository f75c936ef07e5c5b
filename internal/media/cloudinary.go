package media

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
)

const cloudinaryListPageSize = 500

// Cloudinary stores blobs as "raw" resources whose public id is the blob key.
type Cloudinary struct {
	apiKey      string
	apiSecret   string
	apiBase     string
	deliveryURL string
	httpClient  *http.Client
	now         func() time.Time
}

type cloudinaryError struct {
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type cloudinaryDestroyResponse struct {
	Result string `json:"result"`
	cloudinaryError
}

type cloudinaryListResponse struct {
	Resources []struct {
		PublicID string `json:"public_id"`
	} `json:"resources"`
	NextCursor string `json:"next_cursor"`
	cloudinaryError
}

func NewCloudinary(rawURL string) (*Cloudinary, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("parse cloudinary url: %w", err)
	}

	if parsed.Scheme != "cloudinary" {
		return nil, fmt.Errorf("invalid cloudinary scheme")
	}

	apiKey := parsed.User.Username()
	apiSecret, ok := parsed.User.Password()
	if !ok {
		return nil, fmt.Errorf("missing cloudinary api secret")
	}
	cloudName := parsed.Hostname()
	if apiKey == "" || apiSecret == "" || cloudName == "" {
		return nil, fmt.Errorf("invalid cloudinary credentials")
	}

	return &Cloudinary{
		apiKey:      apiKey,
		apiSecret:   apiSecret,
		apiBase:     fmt.Sprintf("https://api.cloudinary.com/v1_1/%s", cloudName),
		deliveryURL: fmt.Sprintf("https://res.cloudinary.com/%s/raw/upload", cloudName),
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
		now: time.Now,
	}, nil
}

func (c *Cloudinary) Put(ctx context.Context, key string, body []byte, contentType string) error {
	// invalidate purges the CDN copy so an overwritten page is served fresh.
	params := map[string]string{
		"public_id":  key,
		"overwrite":  "true",
		"invalidate": "true",
		"timestamp":  strconv.FormatInt(c.now().Unix(), 10),
	}
	signature := c.sign(params)

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	go func() {
		for _, name := range []string{"public_id", "overwrite", "invalidate", "timestamp"} {
			if err := writer.WriteField(name, params[name]); err != nil {
				_ = pw.CloseWithError(fmt.Errorf("write %s field: %w", name, err))
				return
			}
		}
		if err := writer.WriteField("api_key", c.apiKey); err != nil {
			_ = pw.CloseWithError(fmt.Errorf("write api_key field: %w", err))
			return
		}
		if err := writer.WriteField("signature", signature); err != nil {
			_ = pw.CloseWithError(fmt.Errorf("write signature field: %w", err))
			return
		}
		part, err := writer.CreateFormFile("file", path.Base(key))
		if err != nil {
			_ = pw.CloseWithError(fmt.Errorf("create file part: %w", err))
			return
		}
		if _, err := part.Write(body); err != nil {
			_ = pw.CloseWithError(fmt.Errorf("write file part: %w", err))
			return
		}
		if err := writer.Close(); err != nil {
			_ = pw.CloseWithError(fmt.Errorf("close multipart writer: %w", err))
			return
		}
		_ = pw.Close()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/raw/upload", pr)
	if err != nil {
		return fmt.Errorf("build cloudinary upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var parsed cloudinaryError
	if err := c.do(req, &parsed); err != nil {
		return fmt.Errorf("cloudinary upload %s: %w", key, err)
	}
	return nil
}

func (c *Cloudinary) Get(ctx context.Context, key string) (Object, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.deliveryURL+"/"+escapeKey(key), nil)
	if err != nil {
		return Object{}, fmt.Errorf("build cloudinary fetch request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Object{}, fmt.Errorf("cloudinary fetch request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Object{}, ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Object{}, fmt.Errorf("cloudinary fetch %s failed with status %d", key, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Object{}, fmt.Errorf("read cloudinary object: %w", err)
	}

	contentType := mime.TypeByExtension(path.Ext(key))
	if contentType == "" {
		contentType = http.DetectContentType(body)
	}
	etag := resp.Header.Get("ETag")
	if etag == "" {
		etag = computeETag(body)
	}

	return Object{
		Key:         key,
		ContentType: contentType,
		ETag:        etag,
		Size:        int64(len(body)),
		Body:        body,
	}, nil
}

func (c *Cloudinary) Delete(ctx context.Context, key string) error {
	params := map[string]string{
		"public_id":  key,
		"invalidate": "true",
		"timestamp":  strconv.FormatInt(c.now().Unix(), 10),
	}
	form := url.Values{}
	for name, value := range params {
		form.Set(name, value)
	}
	form.Set("api_key", c.apiKey)
	form.Set("signature", c.sign(params))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/raw/destroy", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build cloudinary destroy request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var parsed cloudinaryDestroyResponse
	if err := c.do(req, &parsed); err != nil {
		return fmt.Errorf("cloudinary destroy %s: %w", key, err)
	}
	// "not found" is fine: delete is idempotent.
	return nil
}

func (c *Cloudinary) List(ctx context.Context, prefix string) ([]string, error) {
	keys := make([]string, 0)
	cursor := ""

	for {
		query := url.Values{}
		query.Set("prefix", prefix)
		query.Set("max_results", strconv.Itoa(cloudinaryListPageSize))
		if cursor != "" {
			query.Set("next_cursor", cursor)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+"/resources/raw/upload?"+query.Encode(), nil)
		if err != nil {
			return nil, fmt.Errorf("build cloudinary list request: %w", err)
		}
		req.SetBasicAuth(c.apiKey, c.apiSecret)

		var page cloudinaryListResponse
		if err := c.do(req, &page); err != nil {
			return nil, fmt.Errorf("cloudinary list %s: %w", prefix, err)
		}
		for _, resource := range page.Resources {
			keys = append(keys, resource.PublicID)
		}

		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	sort.Strings(keys)
	return keys, nil
}

func (c *Cloudinary) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var parsed cloudinaryError
		if json.Unmarshal(body, &parsed) == nil && parsed.Error != nil && parsed.Error.Message != "" {
			return fmt.Errorf("failed: %s", parsed.Error.Message)
		}
		return fmt.Errorf("failed with status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// sign builds the API signature: sorted key=value pairs joined by "&",
// followed by the api secret, hashed with SHA-1.
func (c *Cloudinary) sign(params map[string]string) string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, name+"="+params[name])
	}

	h := sha1.New() // #nosec G401: cloudinary API signature requires SHA-1.
	_, _ = h.Write([]byte(strings.Join(pairs, "&") + c.apiSecret))
	return hex.EncodeToString(h.Sum(nil))
}

func escapeKey(key string) string {
	segments := strings.Split(key, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.Join(segments, "/")
}

// Package seedr implements store.Store on top of the Seedr HTTP API.
package seedr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/italolelis/seedbox_resolver/internal/logctx"
	"github.com/italolelis/seedbox_resolver/internal/store"
)

const (
	DefaultBaseURL  = "https://www.seedr.cc"
	DefaultClientID = "seedr_xbmc"

	resourcePath = "/oauth_test/resource.php"
	rootFolderID = "-1"

	maxErrorBody = 512
)

// Capacity codes returned in the result field of add_torrent. The store
// accepted the request but parked it on the wishlist.
var capacityCodes = map[string]struct{}{
	"not_enough_space_added_to_wishlist": {},
	"not_enough_space_wishlist_full":     {},
	"queue_full_added_to_wishlist":       {},
}

type Client struct {
	baseURL    string
	token      string
	clientID   string
	httpClient *http.Client
	executor   failsafe.Executor[*http.Response]
}

var _ store.Store = (*Client)(nil)

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

func WithClientID(clientID string) Option {
	return func(c *Client) {
		if clientID != "" {
			c.clientID = clientID
		}
	}
}

// WithRetry overrides the retry budget for retryable failures.
func WithRetry(maxRetries int, baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.executor = newExecutor(maxRetries, baseDelay, maxDelay)
	}
}

// NewClient creates a Seedr client authenticated with an OAuth access token.
// An empty token is enough for the device authorization calls.
func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		token:      token,
		clientID:   DefaultClientID,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		executor:   newExecutor(3, 200*time.Millisecond, 5*time.Second),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func newExecutor(maxRetries int, baseDelay, maxDelay time.Duration) failsafe.Executor[*http.Response] {
	policy := retrypolicy.NewBuilder[*http.Response]().
		WithBackoff(baseDelay, maxDelay).
		WithMaxRetries(maxRetries).
		WithJitterFactor(0.1).
		HandleIf(func(_ *http.Response, err error) bool {
			var netErr *store.NetworkError

			return errors.As(err, &netErr)
		}).
		ReturnLastFailure().
		Build()

	return failsafe.With(policy)
}

// Authenticate checks the token by reading the account settings.
func (c *Client) Authenticate(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	var settings struct {
		Result  bool `json:"result"`
		Account struct {
			Username  string `json:"username"`
			SpaceUsed int64  `json:"space_used"`
			SpaceMax  int64  `json:"space_max"`
		} `json:"account"`
	}

	if err := c.resource(ctx, "get_settings", nil, &settings); err != nil {
		return err
	}

	if !settings.Result {
		return &store.AuthenticationError{Operation: "get_settings"}
	}

	logger.InfoContext(ctx, "authenticated with Seedr",
		"user", settings.Account.Username,
		"space_used", settings.Account.SpaceUsed,
		"space_max", settings.Account.SpaceMax)

	return nil
}

// AddByReference submits a magnet or a .torrent file to the root folder.
func (c *Client) AddByReference(ctx context.Context, ref store.Reference) (*store.AddResult, error) {
	logger := logctx.LoggerFromContext(ctx)

	var (
		resp addResponse
		err  error
	)

	if ref.IsBlob() {
		logger.InfoContext(ctx, "uploading torrent file to Seedr", "filename", ref.Filename, "size_bytes", len(ref.Blob))
		err = c.upload(ctx, ref, &resp)
	} else {
		logger.InfoContext(ctx, "adding magnet to Seedr")
		err = c.resource(ctx, "add_torrent", url.Values{
			"torrent_magnet": {ref.Magnet},
			"folder_id":      {rootFolderID},
		}, &resp)
	}

	if err != nil {
		return nil, err
	}

	return resp.toResult(describe(ref))
}

func (c *Client) ListFolder(ctx context.Context, folderID string) (*store.Listing, error) {
	endpoint := c.baseURL + "/api/folder"
	if folderID != "" {
		endpoint += "/" + url.PathEscape(folderID)
	}

	query := url.Values{"access_token": {c.token}}

	var folder folderResponse

	err := c.do(ctx, "list_folder", func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+query.Encode(), nil)
	}, &folder)
	if err != nil {
		return nil, err
	}

	return folder.toListing(), nil
}

// ListActiveTransfers returns the transfers reported in the root listing.
func (c *Client) ListActiveTransfers(ctx context.Context) ([]*store.Transfer, error) {
	listing, err := c.ListFolder(ctx, "")
	if err != nil {
		return nil, err
	}

	return listing.Transfers, nil
}

func (c *Client) GetDirectURL(ctx context.Context, fileID string) (*store.Link, error) {
	var resp struct {
		URL   string    `json:"url"`
		Name  string    `json:"name"`
		Size  flexInt64 `json:"size"`
		Error string    `json:"error"`
	}

	if err := c.resource(ctx, "fetch_file", url.Values{"folder_file_id": {fileID}}, &resp); err != nil {
		return nil, err
	}

	if resp.URL == "" {
		reason := resp.Error
		if reason == "" {
			reason = "no url returned"
		}

		return nil, &store.InvalidContentError{Reference: "file " + fileID, Reason: reason}
	}

	return &store.Link{URL: resp.URL, Name: resp.Name, Size: int64(resp.Size)}, nil
}

func (c *Client) Delete(ctx context.Context, items ...store.Item) error {
	if len(items) == 0 {
		return nil
	}

	payload := make([]deleteItem, 0, len(items))
	for _, item := range items {
		payload = append(payload, deleteItem{Type: string(item.Kind), ID: json.Number(item.ID)})
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode delete request: %w", err)
	}

	var resp struct {
		Result json.RawMessage `json:"result"`
		Error  string          `json:"error"`
	}

	if err := c.resource(ctx, "delete", url.Values{"delete_arr": {string(encoded)}}, &resp); err != nil {
		return err
	}

	if resp.Error != "" || string(resp.Result) == "false" {
		return &store.StatusError{Operation: "delete", StatusCode: http.StatusOK, Body: resp.Error}
	}

	return nil
}

// PurgeAll deletes every root folder, root file and transfer in one call.
func (c *Client) PurgeAll(ctx context.Context) (int, error) {
	logger := logctx.LoggerFromContext(ctx)

	root, err := c.ListFolder(ctx, "")
	if err != nil {
		return 0, err
	}

	items := make([]store.Item, 0, len(root.Folders)+len(root.Files)+len(root.Transfers))

	for _, f := range root.Folders {
		items = append(items, store.Item{Kind: store.KindFolder, ID: f.ID})
	}

	for _, f := range root.Files {
		items = append(items, store.Item{Kind: store.KindFile, ID: f.ID})
	}

	for _, t := range root.Transfers {
		items = append(items, store.Item{Kind: store.KindTransfer, ID: t.ID})
	}

	if len(items) == 0 {
		logger.InfoContext(ctx, "nothing to purge")

		return 0, nil
	}

	if err := c.Delete(ctx, items...); err != nil {
		return 0, err
	}

	logger.WarnContext(ctx, "purged Seedr account", "deleted", len(items))

	return len(items), nil
}

func (c *Client) RemoveFromWishlist(ctx context.Context, id string) error {
	var resp struct {
		Result json.RawMessage `json:"result"`
		Error  string          `json:"error"`
	}

	if err := c.resource(ctx, "remove_wishlist", url.Values{"id": {id}}, &resp); err != nil {
		return err
	}

	if resp.Error != "" {
		return &store.StatusError{Operation: "remove_wishlist", StatusCode: http.StatusOK, Body: resp.Error}
	}

	return nil
}

// resource posts a form-encoded call to resource.php.
func (c *Client) resource(ctx context.Context, fn string, params url.Values, out any) error {
	form := url.Values{}
	for k, v := range params {
		form[k] = v
	}

	form.Set("access_token", c.token)
	form.Set("func", fn)

	body := form.Encode()

	return c.do(ctx, fn, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+resourcePath, strings.NewReader(body))
		if err != nil {
			return nil, err
		}

		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		return req, nil
	}, out)
}

func (c *Client) upload(ctx context.Context, ref store.Reference, out any) error {
	var buf bytes.Buffer

	w := multipart.NewWriter(&buf)

	for k, v := range map[string]string{"access_token": c.token, "func": "add_torrent", "folder_id": rootFolderID} {
		if err := w.WriteField(k, v); err != nil {
			return fmt.Errorf("failed to build upload: %w", err)
		}
	}

	filename := ref.Filename
	if filename == "" {
		filename = "upload.torrent"
	}

	part, err := w.CreateFormFile("torrent_file", filename)
	if err != nil {
		return fmt.Errorf("failed to build upload: %w", err)
	}

	if _, err := part.Write(ref.Blob); err != nil {
		return fmt.Errorf("failed to build upload: %w", err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to build upload: %w", err)
	}

	payload := buf.Bytes()
	contentType := w.FormDataContentType()

	return c.do(ctx, "add_torrent", func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+resourcePath, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}

		req.Header.Set("Content-Type", contentType)

		return req, nil
	}, out)
}

// do runs a request through the retry executor and decodes a JSON body.
// Network failures, 429 and 5xx are retried; 401 and 403 are not.
func (c *Client) do(ctx context.Context, op string, build func(ctx context.Context) (*http.Request, error), out any) error {
	resp, err := c.executor.WithContext(ctx).Get(func() (*http.Response, error) {
		req, err := build(ctx)
		if err != nil {
			return nil, err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, &store.NetworkError{Operation: op, APIMessage: err.Error(), Err: err}
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			msg := readSnippet(resp.Body)
			_ = resp.Body.Close()

			return nil, &store.NetworkError{Operation: op, StatusCode: resp.StatusCode, APIMessage: msg}
		}

		return resp, nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &store.AuthenticationError{
			Operation: op,
			Err:       &store.StatusError{Operation: op, StatusCode: resp.StatusCode, Body: readSnippet(resp.Body)},
		}
	case resp.StatusCode >= http.StatusBadRequest:
		return &store.StatusError{Operation: op, StatusCode: resp.StatusCode, Body: readSnippet(resp.Body)}
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}

	return nil
}

func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))

	return strings.TrimSpace(string(b))
}

func describe(ref store.Reference) string {
	if ref.IsBlob() {
		return ref.Filename
	}

	if len(ref.Magnet) > 60 {
		return ref.Magnet[:60]
	}

	return ref.Magnet
}

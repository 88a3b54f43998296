// Package putio implements store.Store on top of the Put.io API.
package putio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/putdotio/go-putio"
	"golang.org/x/oauth2"

	"github.com/italolelis/seedbox_resolver/internal/fingerprint"
	"github.com/italolelis/seedbox_resolver/internal/logctx"
	"github.com/italolelis/seedbox_resolver/internal/store"
)

const maxTorrentSize = 10 * 1024 * 1024 // 10MB max torrent file size

// Error type and message fragments put.io uses when the account is out of
// disk space. Rate and transfer-count limits are not capacity exhaustion.
var capacityMarkers = []string{"DISK", "SPACE", "STORAGE", "QUOTA"}

type Client struct {
	putioClient *putio.Client
	folderName  string

	mu       sync.Mutex
	folderID int64
	resolved bool
}

var _ store.Store = (*Client)(nil)

type Option func(*options)

type options struct {
	folder     string
	httpClient *http.Client
}

// WithFolder keeps every add, listing and purge inside the named folder
// instead of the account root.
func WithFolder(name string) Option {
	return func(o *options) { o.folder = name }
}

// WithHTTPClient sets the client the OAuth2 transport is layered on.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

func NewClient(token string, opts ...Option) *Client {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	ctx := context.Background()
	if o.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, o.httpClient)
	}

	// Initialize Put.io client
	tokenSource := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	oauthClient := oauth2.NewClient(ctx, tokenSource)

	return &Client{
		putioClient: putio.NewClient(oauthClient),
		folderName:  o.folder,
	}
}

func (c *Client) Authenticate(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	user, err := c.putioClient.Account.Info(ctx)
	if err != nil {
		return mapError("account_info", err)
	}

	logger.InfoContext(ctx, "authenticated with Put.io", "user", user.Username)

	return nil
}

func (c *Client) AddByReference(ctx context.Context, ref store.Reference) (*store.AddResult, error) {
	logger := logctx.LoggerFromContext(ctx)

	parentID, err := c.rootID(ctx)
	if err != nil {
		return nil, err
	}

	var (
		id   int64
		name string
	)

	if ref.IsBlob() {
		var t *putio.Transfer

		if t, err = c.upload(ctx, ref, parentID); err == nil {
			id, name = t.ID, t.Name
		}
	} else {
		logger.InfoContext(ctx, "adding transfer to Put.io")

		t, addErr := c.putioClient.Transfers.Add(ctx, ref.Magnet, parentID, "")
		if err = addErr; err == nil {
			id, name = t.ID, t.Name
		}
	}

	if err != nil {
		if code, ok := capacityCode(err); ok {
			logger.WarnContext(ctx, "put.io reported capacity exhaustion", "code", code)

			return &store.AddResult{CapacityExhausted: true, Code: code}, nil
		}

		return nil, mapError("add_transfer", err)
	}

	logger.InfoContext(ctx, "transfer added to Put.io", "transfer_id", id)

	return &store.AddResult{ID: strconv.FormatInt(id, 10), Name: name}, nil
}

func (c *Client) upload(ctx context.Context, ref store.Reference, parentID int64) (*putio.Transfer, error) {
	filename := ref.Filename
	if filename == "" {
		filename = "upload.torrent"
	}

	// Validate file size
	if len(ref.Blob) > maxTorrentSize {
		return nil, &store.InvalidContentError{
			Reference: filename,
			Reason:    fmt.Sprintf("file size %d bytes exceeds maximum %d bytes", len(ref.Blob), maxTorrentSize),
		}
	}

	// Validate file extension
	if err := validateTorrentFilename(filename); err != nil {
		return nil, err
	}

	// Upload to Put.io
	upload, err := c.putioClient.Files.Upload(ctx, bytes.NewReader(ref.Blob), filename, parentID)
	if err != nil {
		return nil, err
	}

	// Put.io automatically creates transfer for .torrent files
	if upload.Transfer == nil {
		return nil, &store.InvalidContentError{
			Reference: filename,
			Reason:    "Put.io did not create transfer (file may not be valid torrent)",
		}
	}

	return upload.Transfer, nil
}

// ListFolder lists folderID, or the configured folder when folderID is empty.
func (c *Client) ListFolder(ctx context.Context, folderID string) (*store.Listing, error) {
	var (
		id  int64
		err error
	)

	if folderID == "" {
		id, err = c.rootID(ctx)
	} else {
		id, err = strconv.ParseInt(folderID, 10, 64)
	}

	if err != nil {
		return nil, err
	}

	children, _, err := c.putioClient.Files.List(ctx, id)
	if err != nil {
		return nil, mapError("list_files", err)
	}

	listing := &store.Listing{}

	for _, f := range children {
		sid := strconv.FormatInt(f.ID, 10)

		if f.IsDir() {
			folder := &store.Folder{ID: sid, Name: f.Name, Size: f.Size}
			if f.UpdatedAt != nil {
				folder.UpdatedAt = f.UpdatedAt.Time
			}

			listing.Folders = append(listing.Folders, folder)

			continue
		}

		listing.Files = append(listing.Files, &store.File{
			ID:       sid,
			Name:     f.Name,
			Size:     f.Size,
			Playable: strings.EqualFold(f.FileType, "VIDEO") || store.IsVideoName(f.Name),
		})
	}

	if folderID == "" {
		listing.Transfers, err = c.ListActiveTransfers(ctx)
		if err != nil {
			return nil, err
		}
	}

	return listing, nil
}

// ListActiveTransfers returns transfers that have not finished yet. The
// fingerprint is recovered from the magnet the transfer was created from.
func (c *Client) ListActiveTransfers(ctx context.Context) ([]*store.Transfer, error) {
	transfers, err := c.putioClient.Transfers.List(ctx)
	if err != nil {
		return nil, mapError("list_transfers", err)
	}

	active := make([]*store.Transfer, 0, len(transfers))

	for _, t := range transfers {
		switch strings.ToUpper(t.Status) {
		case "COMPLETED", "SEEDING", "ERROR":
			continue
		}

		st := &store.Transfer{
			ID:       strconv.FormatInt(t.ID, 10),
			Name:     t.Name,
			Progress: float64(t.PercentDone),
			Size:     int64(t.Size),
			Status:   strings.ToLower(t.Status),
		}

		if fp, err := fingerprint.Normalize(t.Source); err == nil {
			st.Hash = fp.String()
		}

		active = append(active, st)
	}

	return active, nil
}

func (c *Client) GetDirectURL(ctx context.Context, fileID string) (*store.Link, error) {
	id, err := strconv.ParseInt(fileID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid file id %q: %w", fileID, err)
	}

	file, err := c.putioClient.Files.Get(ctx, id)
	if err != nil {
		return nil, mapError("get_file", err)
	}

	u, err := c.putioClient.Files.URL(ctx, id, false)
	if err != nil {
		return nil, mapError("file_url", err)
	}

	return &store.Link{URL: u, Name: file.Name, Size: file.Size}, nil
}

func (c *Client) Delete(ctx context.Context, items ...store.Item) error {
	var fileIDs, transferIDs []int64

	for _, item := range items {
		id, err := strconv.ParseInt(item.ID, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s id %q: %w", item.Kind, item.ID, err)
		}

		if item.Kind == store.KindTransfer {
			transferIDs = append(transferIDs, id)
		} else {
			fileIDs = append(fileIDs, id)
		}
	}

	if len(transferIDs) > 0 {
		if err := c.putioClient.Transfers.Cancel(ctx, transferIDs...); err != nil {
			return mapError("cancel_transfers", err)
		}
	}

	if len(fileIDs) > 0 {
		if err := c.putioClient.Files.Delete(ctx, fileIDs...); err != nil {
			return mapError("delete_files", err)
		}
	}

	return nil
}

// PurgeAll removes everything inside the configured folder (or the root)
// and cancels all active transfers.
func (c *Client) PurgeAll(ctx context.Context) (int, error) {
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
		return 0, nil
	}

	if err := c.Delete(ctx, items...); err != nil {
		return 0, err
	}

	logctx.LoggerFromContext(ctx).WarnContext(ctx, "purged Put.io folder", "folder", c.folderName, "deleted", len(items))

	return len(items), nil
}

// RemoveFromWishlist is a no-op: put.io has no wishlist.
func (c *Client) RemoveFromWishlist(context.Context, string) error {
	return nil
}

// rootID resolves the configured folder name to an id once. Zero is the
// account root.
func (c *Client) rootID(ctx context.Context) (int64, error) {
	if c.folderName == "" {
		return 0, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.resolved {
		return c.folderID, nil
	}

	children, _, err := c.putioClient.Files.List(ctx, 0)
	if err != nil {
		return 0, mapError("list_files", err)
	}

	for _, f := range children {
		if f.IsDir() && f.Name == c.folderName {
			c.folderID = f.ID
			c.resolved = true

			return f.ID, nil
		}
	}

	return 0, fmt.Errorf("directory not found: %s", c.folderName)
}

func validateTorrentFilename(filename string) error {
	if !strings.EqualFold(filepath.Ext(filename), ".torrent") {
		return &store.InvalidContentError{
			Reference: filename,
			Reason:    "file extension must be .torrent (Put.io requires extension for transfer detection)",
		}
	}

	return nil
}

func capacityCode(err error) (string, bool) {
	var apiErr *putio.ErrorResponse
	if !errors.As(err, &apiErr) {
		return "", false
	}

	// Throttling and server errors are transient whatever the message says.
	if apiErr.Response != nil &&
		(apiErr.Response.StatusCode == http.StatusTooManyRequests || apiErr.Response.StatusCode >= http.StatusInternalServerError) {
		return "", false
	}

	haystack := strings.ToUpper(apiErr.Type + " " + apiErr.Message)
	for _, marker := range capacityMarkers {
		if strings.Contains(haystack, marker) {
			return apiErr.Type, true
		}
	}

	return "", false
}

// mapError converts go-putio errors into the store error types.
func mapError(op string, err error) error {
	var invalid *store.InvalidContentError
	if errors.As(err, &invalid) {
		return err
	}

	var apiErr *putio.ErrorResponse
	if !errors.As(err, &apiErr) {
		return &store.NetworkError{Operation: op, APIMessage: err.Error(), Err: err}
	}

	status := 0
	if apiErr.Response != nil {
		status = apiErr.Response.StatusCode
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &store.AuthenticationError{Operation: op, Err: err}
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		return &store.NetworkError{Operation: op, StatusCode: status, APIMessage: apiErr.Message, Err: err}
	case status == http.StatusNotFound || status == http.StatusBadRequest:
		return &store.InvalidContentError{Reference: op, Reason: apiErr.Message, Err: err}
	default:
		return &store.StatusError{Operation: op, StatusCode: status, Body: apiErr.Message}
	}
}

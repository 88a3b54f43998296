// Package store describes the remote seedbox the resolver materializes
// content in. Backends live in subpackages.
package store

import (
	"context"
	"path"
	"strings"
	"time"
)

// Store is the capability set the resolver needs from a remote seedbox.
type Store interface {
	Authenticate(ctx context.Context) error
	AddByReference(ctx context.Context, ref Reference) (*AddResult, error)
	// ListFolder lists one folder. An empty folderID is the root.
	ListFolder(ctx context.Context, folderID string) (*Listing, error)
	ListActiveTransfers(ctx context.Context) ([]*Transfer, error)
	GetDirectURL(ctx context.Context, fileID string) (*Link, error)
	Delete(ctx context.Context, items ...Item) error
	// PurgeAll deletes every folder, file and transfer and reports how many
	// items were removed.
	PurgeAll(ctx context.Context) (int, error)
	RemoveFromWishlist(ctx context.Context, id string) error
}

// Reference is what gets handed to the store to start a fetch. Exactly one
// of Magnet or Blob is set.
type Reference struct {
	Magnet   string
	Blob     []byte
	Filename string
}

// IsBlob reports whether the reference carries a .torrent file.
func (r Reference) IsBlob() bool {
	return len(r.Blob) > 0
}

// AddResult is the outcome of AddByReference. A capacity exhausted result
// is not a success even though the store accepted the request.
type AddResult struct {
	ID                string
	Name              string
	CapacityExhausted bool
	Code              string
	WishlistID        string
}

// Transfer is a fetch still in progress on the store.
type Transfer struct {
	ID       string
	Name     string
	Hash     string
	Progress float64
	Size     int64
	Status   string
}

// File is an item that finished downloading.
type File struct {
	ID       string
	Name     string
	Path     string
	Size     int64
	Playable bool
	// Root is the top-level item holding the file: its folder at the root of
	// the store, or the file itself when it sits at the root.
	Root Item
}

type Folder struct {
	ID        string
	Name      string
	Size      int64
	UpdatedAt time.Time
}

type Listing struct {
	Folders   []*Folder
	Files     []*File
	Transfers []*Transfer
}

// Link is a direct, streamable URL for a file.
type Link struct {
	URL  string
	Name string
	Size int64
}

type ItemKind string

const (
	KindFolder   ItemKind = "folder"
	KindFile     ItemKind = "file"
	KindTransfer ItemKind = "torrent"
)

// Item identifies something to delete.
type Item struct {
	Kind ItemKind
	ID   string
}

var videoExtensions = map[string]struct{}{
	".mkv": {}, ".mp4": {}, ".avi": {}, ".mov": {}, ".m4v": {},
	".wmv": {}, ".webm": {}, ".ts": {}, ".mpg": {}, ".mpeg": {},
}

// IsVideoName reports whether name has a common video extension. Backends
// that do not flag playable files themselves use it.
func IsVideoName(name string) bool {
	_, ok := videoExtensions[strings.ToLower(path.Ext(name))]

	return ok
}

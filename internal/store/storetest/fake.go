// Package storetest provides an in-memory store.Store for tests.
package storetest

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/italolelis/seedbox_resolver/internal/store"
)

// Operation names reported by Calls.
const (
	OpAuthenticate   = "authenticate"
	OpAdd            = "add"
	OpListFolder     = "list_folder"
	OpListTransfers  = "list_transfers"
	OpGetDirectURL   = "get_direct_url"
	OpDelete         = "delete"
	OpPurgeAll       = "purge_all"
	OpRemoveWishlist = "remove_wishlist"
)

// Fake is a thread-safe in-memory store. Folders are keyed by id, the root
// is "". Hooks run without the lock held so they may call back into Fake.
type Fake struct {
	mu sync.Mutex

	folders   map[string]*store.Listing
	transfers []*store.Transfer
	links     map[string]*store.Link
	calls     map[string]int
	deleted   []store.Item
	wishlist  []string
	nextID    int
	rootLists int

	// AddFunc decides the outcome of the n-th (1-based) add. When nil every
	// add succeeds.
	AddFunc func(ctx context.Context, ref store.Reference, n int) (*store.AddResult, error)
	// OnListRoot runs before the n-th (1-based) root listing is served.
	OnListRoot func(n int)
	// OnListTransfers runs before the n-th (1-based) transfer listing is served.
	OnListTransfers func(n int)

	ListErr      error
	TransfersErr error
	LinkErr      error
	PurgeErr     error
}

var _ store.Store = (*Fake)(nil)

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		folders: map[string]*store.Listing{"": {}},
		links:   map[string]*store.Link{},
		calls:   map[string]int{},
	}
}

// AddRootFile places a playable file at the root and registers its link.
func (f *Fake) AddRootFile(id, name string, size int64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	root := f.folders[""]
	root.Files = append(root.Files, &store.File{ID: id, Name: name, Size: size, Playable: true})
	f.links[id] = &store.Link{URL: "https://cdn.example.com/" + id, Name: name, Size: size}
}

// AddFolder places a folder under parentID.
func (f *Fake) AddFolder(parentID string, folder *store.Folder) {
	f.mu.Lock()
	defer f.mu.Unlock()

	parent := f.ensure(parentID)
	parent.Folders = append(parent.Folders, folder)
	f.ensure(folder.ID)
}

// AddFile places a playable file in folderID and registers its link.
func (f *Fake) AddFile(folderID, id, name string, size int64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	listing := f.ensure(folderID)
	listing.Files = append(listing.Files, &store.File{ID: id, Name: name, Size: size, Playable: true})
	f.links[id] = &store.Link{URL: "https://cdn.example.com/" + id, Name: name, Size: size}
}

// SetTransfers replaces the active transfers.
func (f *Fake) SetTransfers(transfers ...*store.Transfer) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.transfers = transfers
}

// Calls returns how many times op was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls[op]
}

// TotalCalls returns the number of store calls of any kind.
func (f *Fake) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	total := 0
	for _, n := range f.calls {
		total += n
	}

	return total
}

// Deleted returns the items removed through Delete.
func (f *Fake) Deleted() []store.Item {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]store.Item(nil), f.deleted...)
}

// RemovedWishlist returns the wishlist ids removed.
func (f *Fake) RemovedWishlist() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.wishlist...)
}

func (f *Fake) Authenticate(context.Context) error {
	f.count(OpAuthenticate)

	return nil
}

func (f *Fake) AddByReference(ctx context.Context, ref store.Reference) (*store.AddResult, error) {
	n := f.count(OpAdd)

	if f.AddFunc != nil {
		return f.AddFunc(ctx, ref, n)
	}

	f.mu.Lock()
	f.nextID++
	id := strconv.Itoa(f.nextID)
	f.mu.Unlock()

	return &store.AddResult{ID: id}, nil
}

func (f *Fake) ListFolder(_ context.Context, folderID string) (*store.Listing, error) {
	f.count(OpListFolder)

	if folderID == "" {
		f.mu.Lock()
		f.rootLists++
		n := f.rootLists
		f.mu.Unlock()

		if f.OnListRoot != nil {
			f.OnListRoot(n)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ListErr != nil {
		return nil, f.ListErr
	}

	listing, ok := f.folders[folderID]
	if !ok {
		return nil, fmt.Errorf("folder %s not found", folderID)
	}

	return copyListing(listing, f.transfers, folderID == ""), nil
}

func (f *Fake) ListActiveTransfers(context.Context) ([]*store.Transfer, error) {
	n := f.count(OpListTransfers)

	if f.OnListTransfers != nil {
		f.OnListTransfers(n)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.TransfersErr != nil {
		return nil, f.TransfersErr
	}

	out := make([]*store.Transfer, 0, len(f.transfers))
	for _, t := range f.transfers {
		c := *t
		out = append(out, &c)
	}

	return out, nil
}

func (f *Fake) GetDirectURL(_ context.Context, fileID string) (*store.Link, error) {
	f.count(OpGetDirectURL)

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.LinkErr != nil {
		return nil, f.LinkErr
	}

	link, ok := f.links[fileID]
	if !ok {
		return nil, fmt.Errorf("file %s not found", fileID)
	}

	c := *link

	return &c, nil
}

func (f *Fake) Delete(_ context.Context, items ...store.Item) error {
	f.count(OpDelete)

	f.mu.Lock()
	defer f.mu.Unlock()

	f.deleted = append(f.deleted, items...)

	for _, item := range items {
		f.remove(item)
	}

	return nil
}

func (f *Fake) PurgeAll(context.Context) (int, error) {
	f.count(OpPurgeAll)

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.PurgeErr != nil {
		return 0, f.PurgeErr
	}

	root := f.folders[""]
	n := len(root.Folders) + len(root.Files) + len(f.transfers)

	f.folders = map[string]*store.Listing{"": {}}
	f.transfers = nil

	return n, nil
}

func (f *Fake) RemoveFromWishlist(_ context.Context, id string) error {
	f.count(OpRemoveWishlist)

	f.mu.Lock()
	defer f.mu.Unlock()

	f.wishlist = append(f.wishlist, id)

	return nil
}

func (f *Fake) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[op]++

	return f.calls[op]
}

func (f *Fake) ensure(folderID string) *store.Listing {
	listing, ok := f.folders[folderID]
	if !ok {
		listing = &store.Listing{}
		f.folders[folderID] = listing
	}

	return listing
}

func (f *Fake) remove(item store.Item) {
	root := f.folders[""]

	switch item.Kind {
	case store.KindFolder:
		kept := root.Folders[:0]

		for _, folder := range root.Folders {
			if folder.ID != item.ID {
				kept = append(kept, folder)
			}
		}

		root.Folders = kept
		delete(f.folders, item.ID)
	case store.KindFile:
		kept := root.Files[:0]

		for _, file := range root.Files {
			if file.ID != item.ID {
				kept = append(kept, file)
			}
		}

		root.Files = kept
	case store.KindTransfer:
		kept := f.transfers[:0]

		for _, t := range f.transfers {
			if t.ID != item.ID {
				kept = append(kept, t)
			}
		}

		f.transfers = kept
	}
}

func copyListing(l *store.Listing, transfers []*store.Transfer, root bool) *store.Listing {
	out := &store.Listing{}

	for _, folder := range l.Folders {
		c := *folder
		out.Folders = append(out.Folders, &c)
	}

	for _, file := range l.Files {
		c := *file
		out.Files = append(out.Files, &c)
	}

	if root {
		for _, t := range transfers {
			c := *t
			out.Transfers = append(out.Transfers, &c)
		}
	}

	return out
}

package seedr

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/italolelis/seedbox_resolver/internal/store"
)

const lastUpdateLayout = "2006-01-02 15:04:05"

// flexID accepts ids sent either as JSON numbers or strings.
type flexID string

func (id *flexID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*id = ""

		return nil
	}

	*id = flexID(strings.Trim(string(b), `"`))

	return nil
}

// flexFloat accepts numbers that Seedr sometimes sends quoted.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0

		return nil
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}

	*f = flexFloat(v)

	return nil
}

type flexInt64 int64

func (i *flexInt64) UnmarshalJSON(b []byte) error {
	var f flexFloat
	if err := f.UnmarshalJSON(b); err != nil {
		return err
	}

	*i = flexInt64(f)

	return nil
}

type folderResponse struct {
	Folders []struct {
		ID         flexID    `json:"id"`
		Name       string    `json:"name"`
		Size       flexInt64 `json:"size"`
		LastUpdate string    `json:"last_update"`
	} `json:"folders"`
	Files []struct {
		FolderFileID flexID    `json:"folder_file_id"`
		Name         string    `json:"name"`
		Size         flexInt64 `json:"size"`
		PlayVideo    bool      `json:"play_video"`
	} `json:"files"`
	Torrents  []transferResponse `json:"torrents"`
	Transfers []transferResponse `json:"transfers"`
}

type transferResponse struct {
	ID       flexID    `json:"id"`
	Name     string    `json:"name"`
	Progress flexFloat `json:"progress"`
	Size     flexInt64 `json:"size"`
	Hash     string    `json:"hash"`
}

func (r *folderResponse) toListing() *store.Listing {
	listing := &store.Listing{}

	for _, f := range r.Folders {
		updated, _ := time.Parse(lastUpdateLayout, f.LastUpdate)

		listing.Folders = append(listing.Folders, &store.Folder{
			ID:        string(f.ID),
			Name:      f.Name,
			Size:      int64(f.Size),
			UpdatedAt: updated,
		})
	}

	for _, f := range r.Files {
		listing.Files = append(listing.Files, &store.File{
			ID:       string(f.FolderFileID),
			Name:     f.Name,
			Size:     int64(f.Size),
			Playable: f.PlayVideo || store.IsVideoName(f.Name),
		})
	}

	for _, t := range append(r.Torrents, r.Transfers...) {
		listing.Transfers = append(listing.Transfers, &store.Transfer{
			ID:       string(t.ID),
			Name:     t.Name,
			Hash:     strings.ToLower(t.Hash),
			Progress: float64(t.Progress),
			Size:     int64(t.Size),
			Status:   "downloading",
		})
	}

	return listing
}

type addResponse struct {
	Result        json.RawMessage `json:"result"`
	Error         string          `json:"error"`
	UserTorrentID flexID          `json:"user_torrent_id"`
	Title         string          `json:"title"`
	Wishlist      *struct {
		ID flexID `json:"id"`
	} `json:"wt"`
}

// toResult interprets the result field: true is success, a capacity code is
// a soft failure, anything else is a rejection.
func (r *addResponse) toResult(ref string) (*store.AddResult, error) {
	result := bytes.TrimSpace(r.Result)

	if string(result) == "true" {
		return &store.AddResult{ID: string(r.UserTorrentID), Name: r.Title}, nil
	}

	var code string
	if err := json.Unmarshal(result, &code); err == nil {
		if _, ok := capacityCodes[code]; ok {
			res := &store.AddResult{CapacityExhausted: true, Code: code}
			if r.Wishlist != nil {
				res.WishlistID = string(r.Wishlist.ID)
			}

			return res, nil
		}
	}

	reason := r.Error
	if reason == "" {
		reason = string(result)
	}

	if reason == "" {
		reason = "empty response"
	}

	return nil, &store.InvalidContentError{Reference: ref, Reason: reason}
}

type deleteItem struct {
	Type string      `json:"type"`
	ID   json.Number `json:"id"`
}

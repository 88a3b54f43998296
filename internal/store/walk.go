package store

import (
	"context"
	"fmt"

	"github.com/italolelis/seedbox_resolver/internal/logctx"
)

// PlayableFiles walks the whole folder tree of s and returns every playable
// file, each tagged with its root item. An error listing the root is
// returned; a failing subfolder is logged and skipped.
func PlayableFiles(ctx context.Context, s Store) ([]*File, error) {
	root, err := s.ListFolder(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list root folder: %w", err)
	}

	var files []*File

	for _, f := range root.Files {
		if !f.Playable {
			continue
		}

		f.Path = f.Name
		f.Root = Item{Kind: KindFile, ID: f.ID}
		files = append(files, f)
	}

	for _, folder := range root.Folders {
		rootItem := Item{Kind: KindFolder, ID: folder.ID}
		files = append(files, walkFolder(ctx, s, folder, folder.Name, rootItem)...)
	}

	return files, nil
}

func walkFolder(ctx context.Context, s Store, folder *Folder, prefix string, root Item) []*File {
	if ctx.Err() != nil {
		return nil
	}

	listing, err := s.ListFolder(ctx, folder.ID)
	if err != nil {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "skipping folder that failed to list",
			"folder_id", folder.ID, "path", prefix, "err", err)

		return nil
	}

	var files []*File

	for _, f := range listing.Files {
		if !f.Playable {
			continue
		}

		f.Path = prefix + "/" + f.Name
		f.Root = root
		files = append(files, f)
	}

	for _, sub := range listing.Folders {
		files = append(files, walkFolder(ctx, s, sub, prefix+"/"+sub.Name, root)...)
	}

	return files
}

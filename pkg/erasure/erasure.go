// Package erasure removes all of one user's data across the document
// store and the tree store.
package erasure

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/homewatt/homewatt/pkg/store"
)

// ErrMissingUID is returned when no user identifier was supplied.
// Surfaced to HTTP callers as a client error.
var ErrMissingUID = errors.New("uid not provided")

// deletePageSize is the listing page size while draining sub-collections.
const deletePageSize = 200

// treeRoots are the tree-store subtrees holding per-user data.
var treeRoots = []string{"devices", "rooms", "spaces"}

// Service deletes user data. Document-store deletes run before
// tree-store deletes; the first failure aborts the remaining steps so
// the caller learns which subsystem failed. There is no cross-store
// transaction, so a failed request can leave earlier deletes applied.
type Service struct {
	docs store.DocumentStore
	tree store.TreeStore
	log  zerolog.Logger
}

// New creates an erasure service.
func New(docs store.DocumentStore, tree store.TreeStore, logger zerolog.Logger) *Service {
	return &Service{
		docs: docs,
		tree: tree,
		log:  logger.With().Str("component", "erasure").Logger(),
	}
}

// Erase deletes, in order: the user document, the environmental-data
// document with all of its sub-collections, and the per-user tree
// subtrees (devices, rooms, spaces).
func (s *Service) Erase(ctx context.Context, uid string) error {
	if uid == "" {
		return ErrMissingUID
	}

	if err := s.docs.Delete(ctx, "users/"+uid); err != nil {
		return fmt.Errorf("failed to delete user document for %s: %w", uid, err)
	}

	if err := s.deleteDocumentTree(ctx, "environmental_data/"+uid); err != nil {
		return fmt.Errorf("failed to delete environmental data for %s: %w", uid, err)
	}
	s.log.Info().Str("uid", uid).Msg("document-store user data deleted")

	for _, root := range treeRoots {
		if err := s.tree.DeleteSubtree(ctx, root+"/"+uid); err != nil {
			return fmt.Errorf("failed to delete %s subtree for %s: %w", root, uid, err)
		}
	}
	s.log.Info().Str("uid", uid).Msg("tree-store user data deleted")

	return nil
}

// deleteDocumentTree deletes a document together with every document in
// its sub-collections, depth first. Sub-collection names are discovered,
// not assumed.
func (s *Service) deleteDocumentTree(ctx context.Context, path string) error {
	collections, err := s.docs.ListCollections(ctx, path)
	if err != nil {
		return err
	}

	for _, name := range collections {
		collection := path + "/" + name
		for {
			// No cursor: each page is deleted before the next is read.
			page, err := s.docs.ListDocuments(ctx, collection, store.ListOptions{
				Limit: deletePageSize,
			})
			if err != nil {
				return err
			}
			if len(page) == 0 {
				break
			}
			for _, doc := range page {
				if err := s.deleteDocumentTree(ctx, doc.Path); err != nil {
					return err
				}
			}
		}
	}

	return s.docs.Delete(ctx, path)
}

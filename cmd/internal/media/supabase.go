// Package media stores post attachments and hands back publicly
// resolvable URLs for the create and edit mutation paths.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/supabase-community/supabase-go"

	"ripple/cmd/internal/ids"
)

// Supabase uploads media to Supabase Storage buckets. The collection name
// maps directly to a bucket.
type Supabase struct {
	client  *supabase.Client
	baseURL string
}

// NewSupabase constructs an uploader against one Supabase project.
func NewSupabase(projectURL, anonKey string) (*Supabase, error) {
	projectURL = strings.TrimRight(strings.TrimSpace(projectURL), "/")
	if projectURL == "" {
		return nil, errors.New("media: empty project URL")
	}
	client, err := supabase.NewClient(projectURL, anonKey, nil)
	if err != nil {
		return nil, fmt.Errorf("media: supabase client: %w", err)
	}
	return &Supabase{client: client, baseURL: projectURL}, nil
}

// Upload stores the media under a collision-free object path and returns
// the public URL.
func (u *Supabase) Upload(ctx context.Context, collection, name string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path, err := objectPath(name)
	if err != nil {
		return "", err
	}
	if _, err := u.client.Storage.UploadFile(collection, path, r); err != nil {
		return "", fmt.Errorf("media: upload %s/%s: %w", collection, path, err)
	}
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", u.baseURL, collection, path), nil
}

// objectPath prefixes the client file name with a ULID so repeated uploads
// of the same file never collide.
func objectPath(name string) (string, error) {
	id, err := ids.NewULID(time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("media: object id: %w", err)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return id, nil
	}
	// Keep only the final path element of whatever the client sent.
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	return id + "_" + name, nil
}

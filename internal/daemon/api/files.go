package api

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/docker/docker/api/types"
)

// CopyIn injects a tar stream at a destination directory inside the
// container. Docker's CopyToContainer expects the destination to be the
// directory the tar's entries are relative to.
func (c *Client) CopyIn(ctx context.Context, id, dst string, tar io.Reader) error {
	dir := dst
	if filepath.Ext(dst) != "" {
		// Heuristic: a path with a file extension is a target file, not
		// a directory; copy into its parent instead.
		dir = filepath.Dir(dst)
	}
	if err := c.sdk.CopyToContainer(ctx, id, dir, tar, types.CopyToContainerOptions{}); err != nil {
		return fmt.Errorf("api: failed to copy into container %s: %w", id, err)
	}
	return nil
}

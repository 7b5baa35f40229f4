package sshexec

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
)

// EnsureDirectory creates remotePath and any missing parents on the remote
// host. Existing directories are left alone, so the call is safe to repeat.
// Segments are always resolved from the remote root.
func (c *Client) EnsureDirectory(ctx context.Context, remotePath string) error {
	if err := c.OpenTransferChannel(ctx, 0); err != nil {
		return err
	}
	transfer, err := c.requireTransferChannel()
	if err != nil {
		return err
	}
	return c.mkdirs(transfer, remotePath)
}

func (c *Client) mkdirs(transfer TransferChannel, remotePath string) error {
	if remoteExists(transfer, remotePath) {
		return nil
	}

	current := "/"
	for _, segment := range strings.Split(remotePath, "/") {
		if segment == "" {
			continue
		}
		current = path.Join(current, segment)
		if remoteExists(transfer, current) {
			continue
		}

		c.log.Debug().Str("path", current).Msg("creating remote directory")
		if err := transfer.Mkdir(current); err != nil {
			// Someone else may have created it between Stat and Mkdir.
			if remoteExists(transfer, current) {
				continue
			}
			return fmt.Errorf("%w: failed to create remote directory %s: %w", ErrTransfer, current, err)
		}
	}
	return nil
}

// Upload copies localPath into the existing remote directory remoteDir.
// A file lands at remoteDir/<name>; the contents of a directory are copied
// recursively into remoteDir, creating subdirectories as needed.
//
// The remote directory must exist (ErrNoSuchPath otherwise). A failure part
// way through aborts the upload with ErrTransfer; files already copied are
// left in place.
func (c *Client) Upload(ctx context.Context, localPath, remoteDir string) error {
	if err := c.OpenTransferChannel(ctx, 0); err != nil {
		return err
	}
	transfer, err := c.requireTransferChannel()
	if err != nil {
		return err
	}

	info, err := transfer.Stat(remoteDir)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrNoSuchPath, remoteDir)
	}

	if err := c.upload(ctx, transfer, localPath, remoteDir); err != nil {
		return fmt.Errorf("%w: upload of %s to %s: %w", ErrTransfer, localPath, remoteDir, err)
	}
	return nil
}

// UploadTo creates remoteDir if needed and uploads localPath into it.
func (c *Client) UploadTo(ctx context.Context, localPath, remoteDir string) error {
	if err := c.EnsureDirectory(ctx, remoteDir); err != nil {
		return err
	}
	return c.Upload(ctx, localPath, remoteDir)
}

func (c *Client) upload(ctx context.Context, transfer TransferChannel, localPath, remoteDir string) error {
	info, err := os.Stat(localPath)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return c.uploadFile(ctx, transfer, localPath, path.Join(remoteDir, info.Name()))
	}
	return c.uploadDir(ctx, transfer, localPath, remoteDir, []os.FileInfo{info})
}

// uploadDir copies the contents of localDir into remoteDir. ancestors holds
// the directories on the current path, so a symlink back to one of them is
// reported instead of being followed forever.
func (c *Client) uploadDir(ctx context.Context, transfer TransferChannel, localDir, remoteDir string, ancestors []os.FileInfo) error {
	entries, err := os.ReadDir(localDir)
	if err != nil {
		return fmt.Errorf("failed to read local directory %s: %w", localDir, err)
	}

	for _, entry := range entries {
		localPath := filepath.Join(localDir, entry.Name())
		remotePath := path.Join(remoteDir, entry.Name())

		// Stat follows symlinks, entry.IsDir does not.
		info, err := os.Stat(localPath)
		if err != nil {
			return err
		}

		if !info.IsDir() {
			if err := c.uploadFile(ctx, transfer, localPath, remotePath); err != nil {
				return err
			}
			continue
		}

		for _, ancestor := range ancestors {
			if os.SameFile(ancestor, info) {
				return fmt.Errorf("symlink cycle: %s refers to an enclosing directory", localPath)
			}
		}

		if !remoteExists(transfer, remotePath) {
			c.log.Debug().Str("path", remotePath).Msg("creating remote directory")
			if err := transfer.Mkdir(remotePath); err != nil {
				return fmt.Errorf("failed to create remote directory %s: %w", remotePath, err)
			}
		}
		if err := c.uploadDir(ctx, transfer, localPath, remotePath, append(ancestors, info)); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) uploadFile(ctx context.Context, transfer TransferChannel, localPath, remotePath string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("upload cancelled: %w", err)
	}

	localFile, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open local file: %w", err)
	}
	defer localFile.Close()

	remoteFile, err := transfer.Create(remotePath)
	if err != nil {
		return fmt.Errorf("failed to create remote file %s: %w", remotePath, err)
	}

	written, err := io.Copy(remoteFile, localFile)
	if err != nil {
		remoteFile.Close()
		return fmt.Errorf("failed to copy file content to %s: %w", remotePath, err)
	}
	if err := remoteFile.Close(); err != nil {
		return fmt.Errorf("failed to close remote file %s: %w", remotePath, err)
	}

	c.log.Debug().Str("local", localPath).Str("remote", remotePath).
		Str("size", humanize.Bytes(uint64(written))).Msg("uploaded file")
	return nil
}

func remoteExists(transfer TransferChannel, remotePath string) bool {
	_, err := transfer.Stat(remotePath)
	return err == nil
}

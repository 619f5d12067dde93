package hypervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// ImageStore manages the per-instance disks that domains boot from.
type ImageStore interface {
	// CreateOverlay creates a copy-on-write overlay at overlayPath backed by
	// backingPath. Creating an overlay that already exists is a no-op so
	// deploy can be retried.
	CreateOverlay(ctx context.Context, backingPath, overlayPath string) error

	// Remove deletes the disk at path and returns the bytes reclaimed.
	// Removing a disk that is already gone reclaims zero bytes.
	Remove(ctx context.Context, path string) (int64, error)
}

// QemuImageStore implements ImageStore with the qemu-img tool.
type QemuImageStore struct{}

func NewQemuImageStore() *QemuImageStore {
	return &QemuImageStore{}
}

func (s *QemuImageStore) CreateOverlay(ctx context.Context, backingPath, overlayPath string) error {
	if _, err := os.Stat(overlayPath); err == nil {
		return nil
	}
	if _, err := os.Stat(backingPath); err != nil {
		return fmt.Errorf("base image %s is not available: %w", backingPath, err)
	}

	// qemu-img create -f qcow2 -F qcow2 -b <base> <overlay>
	if out, err := exec.CommandContext(ctx,
		"qemu-img", "create", "-f", "qcow2", "-F", "qcow2",
		"-b", backingPath, overlayPath,
	).CombinedOutput(); err != nil {
		return fmt.Errorf("qemu-img create overlay: %s: %w", strings.TrimSpace(string(out)), err)
	}
	return nil
}

func (s *QemuImageStore) Remove(ctx context.Context, path string) (int64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to stat disk %s: %w", path, err)
	}
	size := fi.Size()
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return 0, fmt.Errorf("failed to remove disk %s: %w", path, err)
	}
	return size, nil
}

package docker

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/docker/docker/api/types/container"
)

// nobody's uid/gid; files must be readable by the unprivileged exec user.
const sandboxUID = 65534

// copyFiles writes the given files into the container workdir as a tar
// stream owned by the sandbox user.
func (b *Backend) copyFiles(ctx context.Context, containerID string, files map[string][]byte) error {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, data := range files {
		hdr := &tar.Header{
			Name:    name,
			Mode:    0755,
			Size:    int64(len(data)),
			Uid:     sandboxUID,
			Gid:     sandboxUID,
			ModTime: time.Now(),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("failed to write tar header for %s: %w", name, err)
		}
		if _, err := tw.Write(data); err != nil {
			return fmt.Errorf("failed to write tar entry for %s: %w", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to finalize tar: %w", err)
	}

	err := b.cli.CopyToContainer(ctx, containerID, b.config.Workdir, &buf, container.CopyToContainerOptions{})
	if err != nil {
		return fmt.Errorf("failed to copy files into container: %w", err)
	}
	return nil
}

// readFile extracts a single file from the container workdir.
func (b *Backend) readFile(ctx context.Context, containerID, name string) ([]byte, error) {
	src := path.Join(b.config.Workdir, name)
	reader, _, err := b.cli.CopyFromContainer(ctx, containerID, src)
	if err != nil {
		return nil, fmt.Errorf("failed to copy %s from container: %w", src, err)
	}
	defer reader.Close()

	tr := tar.NewReader(reader)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading tar from container: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if path.Base(hdr.Name) != name {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s from container: %w", name, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("file %s not found in container archive", name)
}

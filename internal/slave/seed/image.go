// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package seed

import (
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/ffutop/modbus-rtu-slave/internal/slave/model"
)

// ImageSource seeds a data model from a binary table image. The file is
// mapped read-only and copied; the mapping is released before Apply
// returns.
type ImageSource struct {
	path string
}

// NewImageSource creates a new ImageSource.
func NewImageSource(path string) *ImageSource {
	return &ImageSource{
		path: path,
	}
}

// Apply copies the image into m. The image size must match the table sizes
// of m exactly.
func (s *ImageSource) Apply(m *model.DataModel) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return err
	}

	l := newLayout(m.Sizes())
	if fi.Size() != int64(l.totalSize) {
		return fmt.Errorf("image %s is %d bytes, tables need %d", s.path, fi.Size(), l.totalSize)
	}

	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return fmt.Errorf("mmap failed: %w", err)
	}
	defer data.Unmap()

	l.copyImage(data, m)
	return nil
}

// WriteImage writes the tables of m to path in the image layout, so a YAML
// seed can be turned into an image once and mapped on every start.
func WriteImage(path string, m *model.DataModel) error {
	image := newLayout(m.Sizes()).encodeImage(m)
	if err := os.WriteFile(path, image, 0644); err != nil {
		return fmt.Errorf("failed to write image: %w", err)
	}
	return nil
}

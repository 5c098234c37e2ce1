// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package seed fills a freshly created data model with initial values.
// Seeding is one-way: the slave never writes register values back.
package seed

import (
	"path/filepath"
	"strings"

	"github.com/ffutop/modbus-rtu-slave/internal/slave/model"
)

// Source sets initial table values on a data model.
type Source interface {
	Apply(m *model.DataModel) error
}

// Open picks a Source for path by extension: YAML documents for .yaml and
// .yml, binary table images for anything else.
func Open(path string) Source {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return NewYAMLSource(path)
	default:
		return NewImageSource(path)
	}
}

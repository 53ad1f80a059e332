// Package orbit holds the orbit geometry table: the fixed, ordered set of
// slots every ring is placed into.
//
// The table is versioned rather than reloadable. Contribution records store
// slot indexes, so changing the slot count of a published table would
// reinterpret every stored record.
package orbit

import (
	"bytes"
	"embed"
	"fmt"
	"io"
	"math"

	"gopkg.in/yaml.v3"

	"github.com/okian/orbit/internal/domain/model"
)

// DefaultVersion is the geometry shipped with the binary.
const DefaultVersion = "v1"

//go:embed tables/*.yaml
var tables embed.FS

// Table is an immutable slot table.
type Table struct {
	version string
	slots   []model.SlotDescriptor
}

type tableFile struct {
	Version string                 `yaml:"version"`
	Slots   []model.SlotDescriptor `yaml:"slots"`
}

// Load decodes and validates a YAML table. Slots must be listed in index order
// starting at zero.
func Load(r io.Reader) (*Table, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f tableFile
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalidTable, err)
	}
	if f.Version == "" {
		return nil, fmt.Errorf("%w: missing version", ErrInvalidTable)
	}
	return New(f.Version, f.Slots)
}

// ByVersion loads one of the embedded tables.
func ByVersion(version string) (*Table, error) {
	b, err := tables.ReadFile("tables/" + version + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVersion, version)
	}
	t, err := Load(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	if t.version != version {
		return nil, fmt.Errorf("%w: file %s declares %s", ErrInvalidTable, version, t.version)
	}
	return t, nil
}

// Default returns the embedded DefaultVersion table. It panics if the binary
// was built with a broken table.
func Default() *Table {
	t, err := ByVersion(DefaultVersion)
	if err != nil {
		panic(err)
	}
	return t
}

// New builds a table from descriptors already in index order. Tests use it to
// work with small orbits.
func New(version string, slots []model.SlotDescriptor) (*Table, error) {
	if len(slots) == 0 {
		return nil, fmt.Errorf("%w: no slots", ErrInvalidTable)
	}
	for i, s := range slots {
		if s.Index != i {
			return nil, fmt.Errorf("%w: slot %d listed at position %d", ErrInvalidTable, s.Index, i)
		}
	}
	cp := make([]model.SlotDescriptor, len(slots))
	copy(cp, slots)
	return &Table{version: version, slots: cp}, nil
}

// Ring builds an n-slot table laid out on a unit circle.
func Ring(n int) *Table {
	slots := make([]model.SlotDescriptor, n)
	for i := range slots {
		theta := 2 * math.Pi * float64(i) / float64(n)
		slots[i] = model.SlotDescriptor{
			Index:           i,
			Position:        model.Vec2{X: math.Cos(theta), Y: math.Sin(theta)},
			DefaultRotation: model.Vec2{Y: theta},
		}
	}
	t, err := New(fmt.Sprintf("ring-%d", n), slots)
	if err != nil {
		panic(err)
	}
	return t
}

// Size returns N.
func (t *Table) Size() int { return len(t.slots) }

// Version identifies the table.
func (t *Table) Version() string { return t.version }

// Contains reports whether index is a slot of this table.
func (t *Table) Contains(index int) bool { return index >= 0 && index < len(t.slots) }

// SlotAt returns the descriptor for index. An index outside [0, Size()) is a
// programming error and panics.
func (t *Table) SlotAt(index int) model.SlotDescriptor {
	if !t.Contains(index) {
		panic(fmt.Sprintf("orbit: slot %d out of range [0,%d)", index, len(t.slots)))
	}
	return t.slots[index]
}

// Package catalog loads the static item-id -> backend routing table
// (spec.md §4.5 "routing"). The table is authored as a hujson document
// (JSON tolerant of comments and trailing commas, parsed with
// github.com/tailscale/hujson) rather than hand-typed Go, so the ~180-row
// original table this stands in for stays auditable as data instead of code.
package catalog

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/tailscale/hujson"

	"github.com/behrlich/go-pstore/internal/model"
)

//go:embed catalog.hujson
var defaultCatalog []byte

type jsonRow struct {
	ID                   int32  `json:"id"`
	Name                 string `json:"name"`
	Backend              string `json:"backend"`
	DataID               uint32 `json:"data_id"`
	Type                 string `json:"type"`
	MaxSize              uint32 `json:"max_size"`
	FactoryResetRequired bool   `json:"factory_reset_required"`
}

type jsonDoc struct {
	Items []jsonRow `json:"items"`
}

// Table is the parsed, indexed routing table.
type Table struct {
	rows    map[model.ItemID]model.CatalogRow
	types   map[model.ItemID]model.ItemType
	names   map[model.ItemID]string
	byName  map[string]model.ItemID
	maxItem model.ItemID
}

func parseItemType(s string) (model.ItemType, error) {
	switch s {
	case "binary_array":
		return model.ItemTypeBinaryArray, nil
	case "binary_pointer":
		return model.ItemTypeBinaryPointer, nil
	case "offset_binary_array":
		return model.ItemTypeOffsetBinaryArray, nil
	case "offset_binary_pointer":
		return model.ItemTypeOffsetBinaryPointer, nil
	case "string":
		return model.ItemTypeString, nil
	case "raw":
		return model.ItemTypeRaw, nil
	default:
		return 0, fmt.Errorf("catalog: unknown item type %q", s)
	}
}

func parseBackend(s string) (model.BackendTag, error) {
	switch s {
	case "pl":
		return model.BackendPl, nil
	case "other":
		return model.BackendOther, nil
	default:
		return 0, fmt.Errorf("catalog: unknown backend %q", s)
	}
}

// Load parses a hujson catalog document.
func Load(data []byte) (*Table, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("catalog: standardize: %w", err)
	}

	var doc jsonDoc
	if err := json.Unmarshal(standardized, &doc); err != nil {
		return nil, fmt.Errorf("catalog: unmarshal: %w", err)
	}

	t := &Table{
		rows:   make(map[model.ItemID]model.CatalogRow, len(doc.Items)),
		types:  make(map[model.ItemID]model.ItemType, len(doc.Items)),
		names:  make(map[model.ItemID]string, len(doc.Items)),
		byName: make(map[string]model.ItemID, len(doc.Items)),
	}

	for _, row := range doc.Items {
		id := model.ItemID(row.ID)
		if id == model.ItemIDCustom {
			return nil, fmt.Errorf("catalog: item-id %d collides with the Custom sentinel", row.ID)
		}
		if _, exists := t.rows[id]; exists {
			return nil, fmt.Errorf("catalog: duplicate item-id %d", row.ID)
		}
		backend, err := parseBackend(row.Backend)
		if err != nil {
			return nil, err
		}
		itemType, err := parseItemType(row.Type)
		if err != nil {
			return nil, err
		}
		t.rows[id] = model.CatalogRow{
			ItemID:               id,
			Backend:              backend,
			DataID:               row.DataID,
			MaxSize:              row.MaxSize,
			FactoryResetRequired: row.FactoryResetRequired,
		}
		t.types[id] = itemType
		t.names[id] = row.Name
		t.byName[row.Name] = id
		if id+1 > t.maxItem {
			t.maxItem = id + 1
		}
	}

	return t, nil
}

// LoadDefault parses the catalog shipped with this module.
func LoadDefault() (*Table, error) {
	return Load(defaultCatalog)
}

// Lookup returns the static row for id.
func (t *Table) Lookup(id model.ItemID) (model.CatalogRow, bool) {
	row, ok := t.rows[id]
	return row, ok
}

// ItemType returns the codec variant for id.
func (t *Table) ItemType(id model.ItemID) (model.ItemType, bool) {
	typ, ok := t.types[id]
	return typ, ok
}

// Name returns the human-readable name for id, for logging.
func (t *Table) Name(id model.ItemID) string {
	if name, ok := t.names[id]; ok {
		return name
	}
	return fmt.Sprintf("item(%d)", int32(id))
}

// ByName resolves a catalog entry by its declared name (used by the shell
// and tests so callers don't have to hardcode numeric ids).
func (t *Table) ByName(name string) (model.ItemID, bool) {
	id, ok := t.byName[name]
	return id, ok
}

// Max returns the end-marker item-id: one past the highest declared id.
func (t *Table) Max() model.ItemID {
	return t.maxItem
}

// All returns every declared row, for iteration during factory reset.
func (t *Table) All() []model.CatalogRow {
	rows := make([]model.CatalogRow, 0, len(t.rows))
	for id := model.ItemID(0); id < t.maxItem; id++ {
		if row, ok := t.rows[id]; ok {
			rows = append(rows, row)
		}
	}
	return rows
}

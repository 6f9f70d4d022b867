package graph

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/mr-tron/base58"
)

// IDMode selects how module identifiers are derived.
type IDMode string

const (
	// IDsDeterministic derives short ids from a hash of the module path, so adding
	// or removing a module never renumbers the others.
	IDsDeterministic IDMode = "deterministic"
	// IDsNamed uses the module path itself as the id.
	IDsNamed IDMode = "named"
)

// DefaultIDLength is the number of base58 characters kept from the path hash.
const DefaultIDLength = 6

// AssignIDs sets Module.ID for every module. In deterministic mode an id that
// collides after truncation is lengthened until unique, visiting paths in sorted order.
func (g *Graph) AssignIDs(mode IDMode, length int) error {
	switch mode {
	case IDsNamed:
		for _, m := range g.modules {
			m.ID = m.Path
		}
		return nil
	case IDsDeterministic, "":
	default:
		return fmt.Errorf("unknown module id mode %q", mode)
	}

	if length <= 0 {
		length = DefaultIDLength
	}

	taken := make(map[string]string, len(g.modules))
	for _, p := range g.Paths() {
		full := pathHash(p)

		id := ""
		for n := length; ; n++ {
			if n <= len(full) {
				id = full[:n]
			} else {
				id = fmt.Sprintf("%s%d", full, n-len(full))
			}
			if _, clash := taken[id]; !clash {
				break
			}
		}

		taken[id] = p
		g.modules[p].ID = id
	}

	return nil
}

func pathHash(p string) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], xxhash.Sum64String(p))
	return base58.Encode(buf[:])
}

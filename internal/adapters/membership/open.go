package membership

import (
	"fmt"

	"github.com/dkeye/Relay/internal/core"
)

// Open builds the source selected by driver.
func Open(driver, path string) (core.Membership, error) {
	switch driver {
	case "", "memory":
		return NewMemorySource(), nil
	case "file":
		return OpenFile(path)
	case "sqlite":
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("unknown membership driver %q", driver)
	}
}

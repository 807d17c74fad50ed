// Package all registers every storage backend with the factory via side
// effect imports. Commands blank-import this package so config alone decides
// which backend runs.
package all

import (
	_ "stagecast/internal/storage/postgres"
	_ "stagecast/internal/storage/sqlite"
)

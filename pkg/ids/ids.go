package ids

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"

	"github.com/xcord/hub/pkg/types"
)

// Generator produces 64-bit snowflake IDs bound to one worker ID.
type Generator struct {
	node *snowflake.Node
}

// NewGenerator creates a generator for a worker ID in [0, 1023].
func NewGenerator(workerID int64) (*Generator, error) {
	if workerID < 0 || workerID > types.MaxWorkerID {
		return nil, fmt.Errorf("worker ID must be in [0, %d], got %d", types.MaxWorkerID, workerID)
	}

	node, err := snowflake.NewNode(workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node: %w", err)
	}

	return &Generator{node: node}, nil
}

// Next returns a new unique ID.
func (g *Generator) Next() int64 {
	return g.node.Generate().Int64()
}

// hubGenerator is the process-wide generator. The hub's own rows (instances,
// events, tokens) are minted with an infrastructure worker ID; it is fixed
// at startup and never changes.
var (
	hubGenerator *Generator
	hubInitOnce  sync.Once
	hubInitErr   error
)

// Init fixes the process-wide generator to an infrastructure worker ID
// (0-10). Subsequent calls are no-ops returning the first result.
func Init(workerID int64) error {
	hubInitOnce.Do(func() {
		if workerID > types.MaxInfraWorkerID {
			hubInitErr = fmt.Errorf("hub worker ID must be in [0, %d], got %d", types.MaxInfraWorkerID, workerID)
			return
		}
		hubGenerator, hubInitErr = NewGenerator(workerID)
	})
	return hubInitErr
}

// Next returns a new ID from the process-wide generator. Init must have
// succeeded first.
func Next() int64 {
	if hubGenerator == nil {
		panic("ids: Init not called")
	}
	return hubGenerator.Next()
}

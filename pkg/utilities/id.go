package utilities

import (
	"os"
	"strconv"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
)

// NewRequestID returns a sortable request id used for X-Request-Id.
func NewRequestID() string {
	return ksuid.New().String()
}

// NewEventID returns a random (v4) UUID string for events without a usable id.
func NewEventID() string {
	return uuid.NewString()
}

// CanonicalUUID reports whether s is a UUID in the 8-4-4-4-12 textual form
// and returns it unchanged, case included. Braced and urn: forms are rejected.
func CanonicalUUID(s string) (string, bool) {
	if len(s) != 36 {
		return "", false
	}
	if _, err := uuid.Parse(s); err != nil {
		return "", false
	}
	return s, true
}

var (
	nodeOnce sync.Once
	node     *snowflake.Node
)

// NewMergeID generates a snowflake id for one alias-merge batch. The node id
// comes from SNOWFLAKE_NODE (default 1). If the node cannot be initialized it
// falls back to a KSUID so callers always get a unique id.
func NewMergeID() string {
	nodeOnce.Do(func() {
		nodeID := int64(1)
		if v := os.Getenv("SNOWFLAKE_NODE"); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				nodeID = n
			}
		}
		node, _ = snowflake.NewNode(nodeID)
	})
	if node == nil {
		return ksuid.New().String()
	}
	return node.Generate().String()
}

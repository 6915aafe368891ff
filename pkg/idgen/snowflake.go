package idgen

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
)

// ============================================================================
// Snowflake based business numbers
// ============================================================================
//
// Reference numbers must be globally unique and roughly time ordered so that
// ledger indexes stay append-friendly. Layout of the numeric part follows the
// snowflake node format: 41 bits of milliseconds, 10 bits node, 12 bits step.
//
// ============================================================================

var (
	node     *snowflake.Node
	nodeOnce sync.Once
	nodeErr  error
)

// Init sets the node id of the process-wide generator. Only the first call
// has an effect.
func Init(nodeID int64) error {
	nodeOnce.Do(func() {
		snowflake.Epoch = 1704067200000 // 2024-01-01 00:00:00 UTC
		node, nodeErr = snowflake.NewNode(nodeID)
	})
	return nodeErr
}

// NextID returns the next raw id. Without a prior Init the node id is 1.
func NextID() int64 {
	if err := Init(1); err != nil {
		panic(err)
	}
	return node.Generate().Int64()
}

func generate(prefix string) string {
	return fmt.Sprintf("%s%s%d", prefix, time.Now().UTC().Format("20060102"), NextID())
}

// GeneratePurchaseNo e.g. PUR20260115<snowflake>
func GeneratePurchaseNo() string {
	return generate("PUR")
}

func GenerateSubscriptionNo() string {
	return generate("SUB")
}

// GenerateTransactionNo numbers one ledger entry.
func GenerateTransactionNo() string {
	return generate("TXN")
}

func GeneratePayoutNo() string {
	return generate("PAY")
}

// IsPayoutNo reports whether s has the shape GeneratePayoutNo produces.
func IsPayoutNo(s string) bool {
	digits, ok := strings.CutPrefix(s, "PAY")
	if !ok || len(digits) < len("20060102")+1 {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func GenerateAdjustmentNo() string {
	return generate("ADJ")
}

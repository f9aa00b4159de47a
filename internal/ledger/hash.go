// Package ledger is the append-only hash chain that records accepted
// transactions for tamper evidence.
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// GenesisHash is the prevHash of block 0.
var GenesisHash = strings.Repeat("0", 64)

// ComputeHash returns hex(SHA256(prevHash ++ decimal(timestamp) ++ data)).
func ComputeHash(prevHash string, timestamp int64, data string) string {
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write([]byte(strconv.FormatInt(timestamp, 10)))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

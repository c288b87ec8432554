package snowlease

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
)

// hashStartSlot calculates the deterministic slot-scan start offset for an
// instance. Spreading start offsets reduces thundering-herd collisions on
// cold start, and a restarted instance with a stable identity retries its
// previous slot first.
func hashStartSlot(instanceID string, maxSlots int) int {
	var hash = md5.Sum([]byte(fmt.Sprintf("slot:%s", instanceID)))
	var hashValue = binary.BigEndian.Uint32(hash[:4])
	return int(hashValue % uint32(maxSlots))
}

package store

import (
	"errors"
	"strings"
)

// ErrLeaseNotAcquired names the outcome where some other instance
// currently holds the lease. Nothing in the fleet returns it: Store.SetNX
// and the bot leaser's claimSlot report a lost race as a false result.
var ErrLeaseNotAcquired = errors.New("store: lease not acquired")

// isDuplicateStreamEntry reports whether err is the store's "unknown" error
// kind produced by XADD when an entry with an equal or lesser id already
// exists. Only this specific case is swallowed; every other XADD failure
// propagates (see SPEC_FULL.md Open Question #1).
func isDuplicateStreamEntry(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "equal or smaller") || strings.Contains(msg, "ERR The ID specified in XADD")
}

// isBusyGroup reports whether err is the idempotent "group already exists"
// response from XGROUP CREATE.
func isBusyGroup(err error) bool {
	return err != nil && strings.Contains(err.Error(), "BUSYGROUP")
}

package recovery

import "fmt"

// DBName returns the deterministic recovery database object name for epoch
// and nodeID: "rec-" + lowercase 16-hex epoch + ":" + nodeid.
//
// Two naming schemes exist in the source lineage: this epoch-first form,
// and a legacy "rec-nnnnnnnn:cccccccccccccccc" numeric-nodeid-first form.
// They are not interoperable. This implementation uses epoch-first only,
// and a store seeded by the legacy scheme will simply read back as an
// empty recovery database under a fresh name -- it is never parsed.
func DBName(epoch uint64, nodeID string) string {
	return fmt.Sprintf("rec-%016x:%s", epoch, nodeID)
}

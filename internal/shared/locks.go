package shared

import "fmt"

// MainEntryLockKey builds the redis key guarding creation of the main BOM
// entry of a floorplan/variant pair.
func MainEntryLockKey(floorplanID, variantID int64) string {
	return fmt.Sprintf("bom:floorplan:%d:variant:%d:lock", floorplanID, variantID)
}

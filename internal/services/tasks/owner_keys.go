package tasks

// legacyAdminKey is the opaque record reference older deployments stored
// as the owner of admin-submitted tasks before the literal form won out.
// Lookups must keep matching both or historical tasks disappear from the
// admin's task list.
const legacyAdminKey = "000000000000000000000001"

// OwnerCandidateKeys expands an owner identity into every representation
// that may appear in stored records. The owner field was written
// inconsistently across deployments (bare id vs prefixed id), so reads
// match any of them while new writes always use the bare id.
func OwnerCandidateKeys(ownerID string) []string {
	if ownerID == "" {
		ownerID = "admin"
	}
	if ownerID == "admin" {
		return []string{"admin", "user:admin", legacyAdminKey}
	}
	return []string{ownerID, "user:" + ownerID}
}

package store

// EntitlementKey identifies the entitlement of a user for a product in
// caches and lock tables.
func EntitlementKey(userID, productID string) string {
	return userID + "|" + productID
}

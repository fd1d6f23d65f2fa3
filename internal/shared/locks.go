package shared

import "fmt"

// DunningLockKey builds redis keys guarding the dunning pass of a tenant.
func DunningLockKey(tenantID string) string {
	return fmt.Sprintf("dunning:tenant:%s:lock", tenantID)
}

// DashboardCacheKey builds the unversioned cache key of a tenant's dashboard.
func DashboardCacheKey(tenantID string) string {
	return fmt.Sprintf("receivables:dashboard:%s", tenantID)
}

// Package cache writes each tenant's rank lists to redis so every server
// replica can serve them, including replicas that never received the report.
//
// Layout:
//   - ranklist:{tenant}:{exam}:{subject}  JSON array of enriched rows in rank order
//   - ranklist:{tenant}:index             set of the group keys above
//
// IDs are query-escaped inside keys. PutReport rewrites a tenant under WATCH
// on its index and retries when another writer got there first.
package cache

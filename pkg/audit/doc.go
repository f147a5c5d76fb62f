// Package audit records what users do inside a course workspace and answers
// questions about it afterwards.
//
// # Recording
//
// Events are built by factory functions, one per action kind, and persisted
// through a Repository. The Service reads the acting user from the request
// context, so callers only describe the affected resource:
//
//	err := svc.RecordFolderDeleted(ctx, audit.FolderInfo{ID: "42", Name: "Week 3"})
//
// Folder and item deletions are high risk; creation, upload and view access
// are low risk. Custom events default to medium.
//
// # Querying
//
// SearchCriteria is an immutable builder; every With method returns a copy:
//
//	criteria := audit.NewSearchCriteria().
//		WithUserID(7).
//		WithDateRange(from, to).
//		WithLimit(50)
//	result, err := svc.GetFilteredEvents(ctx, criteria)
//
// GetFilteredEvents narrows the criteria to what the caller may see:
// administrators see everything, teachers see themselves and their students
// when a roster is configured, everyone else sees only their own events.
//
// # Storage
//
// MemoryRepository keeps events in process. PostgresRepository stores them in
// the audit_events table. CachedRepository puts a Redis or in-process LRU
// cache in front of GetStatistics.
//
// # Retention
//
// Retainer archives events past the retention window to an Archiver, then
// deletes them through Service.CleanOldEvents.
package audit

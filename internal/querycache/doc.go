// Package querycache stores resolved query results keyed by LogicalQuery
// identity and keeps them consistent for every subscriber.
//
// Entries are created lazily by Subscribe and refreshed lazily: Invalidate only
// marks entries stale, and the next read (or poll / visibility trigger) starts
// a single fetch. Each fetch carries a per-entry sequence number; a response
// older than the result currently applied is discarded. A failed fetch keeps
// the last good result visible and only flips the status to error.
//
// UpdateLocally and UpdateTagged apply optimistic transforms synchronously and
// hand back RevertTokens that restore the exact pre-transform result. All state
// changes happen under one mutex, so a Snapshot always reflects a consistent
// view and subscribers observe optimistic changes before the caller issues its
// network request.
package querycache

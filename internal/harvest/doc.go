// Package harvest implements the sequential crawl loop that pages through the
// GitHub search API and upserts every page of repositories into the store.
//
// The Engine owns the cursor. It advances only after the Persister reports a
// page as durably written, so a failed write is always retried from the same
// cursor and the idempotent upsert absorbs any page seen twice.
package harvest

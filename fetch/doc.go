// Package fetch provides a resilient HTTP fetcher with bounded retries and
// an optional fallback across proxy servers.
//
// A Fetcher issues a request against one endpoint:
//   - 2xx statuses succeed immediately
//   - 404 is returned as-is without retrying
//   - any other status, transport error or timeout is retried after a fixed
//     delay until the attempt budget is spent
//
// The ProxyFallback wraps a Fetcher and runs the same retry loop through each
// proxy in order, returning the first successful outcome.
//
// Neither layer returns errors separately: every call yields an *Outcome and
// callers branch on Outcome.OK.
package fetch

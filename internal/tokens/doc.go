// Package tokens keeps a share's delegated Spotify access token usable.
//
// [Manager.Resolve] is the only place that decides between handing out the stored token
// and refreshing it. The state machine per call is:
//
//	Lookup -> Decrypt -> Validate -> Live: done
//	                              -> Expired: Refresh -> Persist -> done
//	                              -> TransportError: optimistic token, or fail
//
// Every failure is reported as [*Error] with a [Kind] the HTTP layer maps to a status.
// A refresh failure never writes to the store; a persist failure never hands out the new token.
//
// Concurrent refreshes of one share code are collapsed with singleflight inside the process
// and, when a [Locker] is configured, by a short-lived Redis lock across processes. Before
// calling the provider the refresh path reloads the record by id so a token written by another
// refresher is reused instead of minting a second one.
package tokens

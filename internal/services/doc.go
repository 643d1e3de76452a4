// Package services talks to the Spotify Web API and accounts service on behalf of a share.
//
// # Token Validity Oracle
//
// [SpotifyOracle] issues one GET /me with a bearer token and classifies the reply as
// [Live], [Expired] (401) or [TransportError] (anything else, including network failure).
//
// # Token Refresher
//
// [SpotifyRefresher] exchanges a refresh token through the [oauth2] refresh grant,
// authenticating with HTTP Basic client credentials. Failures are reported as [*RefreshError]
// carrying the provider status and body verbatim.
//
// # Playlist Gateway
//
// [SpotifyGateway] performs search, list, add, remove and metadata calls with an already
// resolved token. A 401 is surfaced as [*APIError] wrapping [shared.ErrTokenExpired] and is
// never retried here.
//
// # Owner Login
//
// [OwnerAuth] builds the authorization code flow a playlist owner completes before sharing.
//
// Every outbound call is bounded by the [http.Client] timeout its constructor receives.
package services

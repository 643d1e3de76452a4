// Package server exposes the share service over HTTP.
//
// # Routes
//
// [Server.Router] mounts the collaborator API on a chi router:
//
//	POST   /share                         create a share link
//	GET    /playlist/{shareCode}          share metadata
//	POST   /playlist/{shareCode}/tracks   page of playlist items
//	POST   /playlist/{shareCode}/search   catalog search
//	POST   /playlist/{shareCode}/tracks:add
//	DELETE /playlist/{shareCode}/tracks
//	GET    /health
//	GET    /metrics
//
// Every playlist route resolves the owner's access token through the token manager first,
// then issues exactly one Spotify call with it.
//
// # Errors
//
// Failures are written as {"error": "..."} by a single [WriteError] function. Upstream
// Spotify failures also carry "status" and "details" echoing the provider reply.
//
// # Middleware
//
// Request ids, panic recovery, request logging, CORS, prometheus metrics and a per share code
// token bucket. [Middleware] has the plain net/http shape so chi and other routers accept it.
//
// # OAuth Callback Handler
//
// [OAuthHandler] serves the one-shot /callback used when an owner logs in from the terminal.
// It validates the state parameter, exchanges the code and sends the result through a channel.
// Only the first callback is processed.
package server

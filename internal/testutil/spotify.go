package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// FakeSpotify serves the subset of the Spotify Web API and accounts service used by shares.
//
// /v1/me accepts only tokens registered with Accept or minted by a refresh.
type FakeSpotify struct {
	Server *httptest.Server

	mu            sync.Mutex
	valid         map[string]bool
	meStatus      int
	refreshStatus int
	refreshBody   string
	refreshDelay  time.Duration
	refreshHangup bool
	nextAccess    string
	nextRefresh   string
	apiStatus     int
	apiBody       string
	calls         map[string]int
	bodies        map[string]string
	forms         []map[string]string
}

// NewFakeSpotify starts a [FakeSpotify] that is closed with the test.
func NewFakeSpotify(t *testing.T) *FakeSpotify {
	t.Helper()
	f := &FakeSpotify{
		valid:      map[string]bool{},
		calls:      map[string]int{},
		bodies:     map[string]string{},
		nextAccess: "NEW123",
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/me", f.handleMe)
	mux.HandleFunc("GET /v1/me/playlists", f.api("me_playlists", `{"items":[{"id":"pl-1","name":"Road Trip"},{"id":"pl-2","name":"Focus"}],"total":2,"limit":50,"offset":0}`))
	mux.HandleFunc("POST /api/token", f.handleToken)
	mux.HandleFunc("GET /v1/search", f.api("search", `{"tracks":{"items":[{"id":"t1","name":"One More Time","uri":"spotify:track:t1"}],"total":1,"limit":10,"offset":0}}`))
	mux.HandleFunc("GET /v1/playlists/{id}", f.api("playlist", `{"id":"pl-1","name":"Road Trip","images":[{"url":"https://i.scdn.co/image/abc"}]}`))
	mux.HandleFunc("GET /v1/playlists/{id}/tracks", f.api("list", `{"items":[{"added_at":"2024-01-01T00:00:00Z","track":{"id":"t1","uri":"spotify:track:t1"}}],"total":1,"limit":50,"offset":0}`))
	mux.HandleFunc("POST /v1/playlists/{id}/tracks", f.api("add", `{"snapshot_id":"snap-add"}`))
	mux.HandleFunc("DELETE /v1/playlists/{id}/tracks", f.api("remove", `{"snapshot_id":"snap-remove"}`))

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Server.Close)
	return f
}

func (f *FakeSpotify) APIURL() string   { return f.Server.URL + "/v1" }
func (f *FakeSpotify) TokenURL() string { return f.Server.URL + "/api/token" }

// Accept marks token as live.
func (f *FakeSpotify) Accept(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.valid[token] = true
}

// Revoke marks token as expired.
func (f *FakeSpotify) Revoke(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.valid, token)
}

// SetMeStatus forces /v1/me to reply with status; zero restores token checking.
func (f *FakeSpotify) SetMeStatus(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.meStatus = status
}

// SetRefreshReply forces the token endpoint reply; zero status restores minting.
func (f *FakeSpotify) SetRefreshReply(status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshStatus = status
	f.refreshBody = body
}

// SetNextTokens sets the tokens the next successful refresh returns. An empty refresh token is omitted.
func (f *FakeSpotify) SetNextTokens(access, refresh string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextAccess = access
	f.nextRefresh = refresh
}

// SetRefreshDelay delays token endpoint replies.
func (f *FakeSpotify) SetRefreshDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshDelay = d
}

// SetRefreshHangup makes the token endpoint close connections without replying.
func (f *FakeSpotify) SetRefreshHangup(hangup bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshHangup = hangup
}

// SetAPIFailure forces playlist and search endpoints to reply with status and body; zero restores them.
func (f *FakeSpotify) SetAPIFailure(status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apiStatus = status
	f.apiBody = body
}

// Calls reports how often an endpoint was hit: me, token, search, playlist, list, add, remove.
func (f *FakeSpotify) Calls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

// LastBody returns the last request body sent to an endpoint.
func (f *FakeSpotify) LastBody(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodies[name]
}

// RefreshForms returns the form of every token endpoint request.
func (f *FakeSpotify) RefreshForms() []map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]string(nil), f.forms...)
}

func (f *FakeSpotify) authorized(r *http.Request) bool {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	return f.valid[token]
}

func (f *FakeSpotify) handleMe(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["me"]++

	switch {
	case f.meStatus != 0:
		w.WriteHeader(f.meStatus)
	case !f.authorized(r):
		writeJSON(w, http.StatusUnauthorized, `{"error":{"status":401,"message":"The access token expired"}}`)
	default:
		writeJSON(w, http.StatusOK, `{"id":"owner-1","display_name":"Owner"}`)
	}
}

func (f *FakeSpotify) handleToken(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()

	f.mu.Lock()
	f.calls["token"]++
	form := map[string]string{}
	for k := range r.PostForm {
		form[k] = r.PostForm.Get(k)
	}
	f.forms = append(f.forms, form)
	delay := f.refreshDelay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.refreshHangup {
		if hj, ok := w.(http.Hijacker); ok {
			if conn, _, err := hj.Hijack(); err == nil {
				conn.Close()
				return
			}
		}
	}

	if f.refreshStatus != 0 {
		writeJSON(w, f.refreshStatus, f.refreshBody)
		return
	}

	reply := map[string]any{"access_token": f.nextAccess, "token_type": "Bearer", "expires_in": 3600}
	if f.nextRefresh != "" {
		reply["refresh_token"] = f.nextRefresh
	}
	f.valid[f.nextAccess] = true

	data, _ := json.Marshal(reply)
	writeJSON(w, http.StatusOK, string(data))
}

func (f *FakeSpotify) api(name, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)

		f.mu.Lock()
		defer f.mu.Unlock()
		f.calls[name]++
		f.bodies[name] = string(data)

		switch {
		case !f.authorized(r):
			writeJSON(w, http.StatusUnauthorized, `{"error":{"status":401,"message":"Invalid access token"}}`)
		case f.apiStatus != 0:
			writeJSON(w, f.apiStatus, f.apiBody)
		default:
			writeJSON(w, http.StatusOK, body)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprint(w, body)
}

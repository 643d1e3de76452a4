package tokens

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/sharelist/internal/codec"
	"github.com/desertthunder/sharelist/internal/models"
	"github.com/desertthunder/sharelist/internal/services"
	"github.com/desertthunder/sharelist/internal/shared"
	"github.com/desertthunder/sharelist/internal/testutil"
	"github.com/prometheus/client_golang/prometheus"
)

type fixture struct {
	spotify *testutil.FakeSpotify
	store   *testutil.MemoryStore
	codec   *codec.Codec
	manager *Manager
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()

	key, err := codec.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	c, err := codec.New(key)
	if err != nil {
		t.Fatal(err)
	}

	spotify := testutil.NewFakeSpotify(t)
	refresher, err := services.NewSpotifyRefresher(services.RefresherConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		TokenURL:     spotify.TokenURL(),
		HTTPClient:   spotify.Server.Client(),
	})
	if err != nil {
		t.Fatal(err)
	}
	oracle := services.NewSpotifyOracle(spotify.APIURL(), spotify.Server.Client())

	store := testutil.NewMemoryStore()
	return &fixture{
		spotify: spotify,
		store:   store,
		codec:   c,
		manager: NewManager(store, c, oracle, refresher, opts),
	}
}

func (f *fixture) seed(t *testing.T, code, access, refresh string) *models.ShareRecord {
	t.Helper()

	accessCT, err := f.codec.Encrypt(access)
	if err != nil {
		t.Fatal(err)
	}
	refreshCT, err := f.codec.Encrypt(refresh)
	if err != nil {
		t.Fatal(err)
	}

	record := &models.ShareRecord{
		ShareCode:             code,
		PlaylistID:            "pl-1",
		OwnerUserID:           "owner-1",
		EncryptedAccessToken:  accessCT,
		EncryptedRefreshToken: refreshCT,
	}
	if _, err := f.store.Insert(context.Background(), record); err != nil {
		t.Fatal(err)
	}
	return record
}

func (f *fixture) stored(t *testing.T, id string) (access, refresh string) {
	t.Helper()
	rec := f.store.Snapshot(id)

	access, err := f.codec.Decrypt(rec.EncryptedAccessToken)
	if err != nil {
		t.Fatal(err)
	}
	refresh, err = f.codec.Decrypt(rec.EncryptedRefreshToken)
	if err != nil {
		t.Fatal(err)
	}
	return access, refresh
}

func requireKind(t *testing.T, err error, kind Kind) *Error {
	t.Helper()
	var te *Error
	if !errors.As(err, &te) {
		t.Fatalf("expected *tokens.Error, got %T: %v", err, err)
	}
	if te.Kind != kind {
		t.Fatalf("expected kind %v, got %v (%v)", kind, te.Kind, err)
	}
	return te
}

// resolutions reads sharelist_token_resolutions_total for outcome from the default registry.
func resolutions(t *testing.T, outcome string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, mf := range families {
		if mf.GetName() != "sharelist_token_resolutions_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "outcome" && l.GetValue() == outcome {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

var defaultOpts = Options{OptimisticOnTransportError: true}

func TestResolve(t *testing.T) {
	ctx := context.Background()

	t.Run("Live Token", func(t *testing.T) {
		f := newFixture(t, defaultOpts)
		record := f.seed(t, "a1b2c3d4", "live-token", "refresh-1")
		f.spotify.Accept("live-token")

		res, err := f.manager.Resolve(ctx, "a1b2c3d4")
		if err != nil {
			t.Fatalf("expected success, got %v", err)
		}

		if res.Token != "live-token" {
			t.Errorf("expected stored token verbatim, got %s", res.Token)
		}
		if res.Refreshed {
			t.Error("live token should not be marked refreshed")
		}
		if res.Record.PlaylistID != "pl-1" || res.Record.ID != record.ID {
			t.Errorf("expected record in result, got %+v", res.Record)
		}
		if f.store.Writes() != 0 {
			t.Errorf("expected zero writes, got %d", f.store.Writes())
		}
		if f.spotify.Calls("token") != 0 {
			t.Error("expected no refresh call")
		}
		if f.spotify.Calls("me") != 1 {
			t.Errorf("expected one liveness check, got %d", f.spotify.Calls("me"))
		}
	})

	t.Run("Idempotent While Live", func(t *testing.T) {
		f := newFixture(t, defaultOpts)
		record := f.seed(t, "a1b2c3d4", "live-token", "refresh-1")
		f.spotify.Accept("live-token")
		before := f.store.Snapshot(record.ID)

		first, err := f.manager.Resolve(ctx, "a1b2c3d4")
		if err != nil {
			t.Fatal(err)
		}
		second, err := f.manager.Resolve(ctx, "a1b2c3d4")
		if err != nil {
			t.Fatal(err)
		}

		if first.Token != second.Token {
			t.Errorf("expected same token twice, got %s and %s", first.Token, second.Token)
		}
		if f.store.Writes() != 0 || f.store.Snapshot(record.ID) != before {
			t.Error("expected store to be untouched")
		}
	})

	t.Run("Expired Token Refreshes And Persists", func(t *testing.T) {
		f := newFixture(t, defaultOpts)
		record := f.seed(t, "a1b2c3d4", "stale-token", "refresh-1")
		refreshBefore := f.store.Snapshot(record.ID).EncryptedRefreshToken

		res, err := f.manager.Resolve(ctx, "a1b2c3d4")
		if err != nil {
			t.Fatalf("expected refresh to succeed, got %v", err)
		}

		if res.Token != "NEW123" || !res.Refreshed {
			t.Errorf("expected refreshed NEW123, got %+v", res)
		}

		access, refresh := f.stored(t, record.ID)
		if access != "NEW123" {
			t.Errorf("expected stored access token NEW123, got %s", access)
		}
		if refresh != "refresh-1" {
			t.Errorf("expected refresh token unchanged, got %s", refresh)
		}
		if f.store.Snapshot(record.ID).EncryptedRefreshToken != refreshBefore {
			t.Error("refresh token ciphertext should not be rewritten without rotation")
		}
		if f.store.Snapshot(record.ID).EncryptedAccessToken == "NEW123" {
			t.Error("access token must be stored encrypted")
		}
		if f.store.Writes() != 1 {
			t.Errorf("expected one write, got %d", f.store.Writes())
		}

		forms := f.spotify.RefreshForms()
		if len(forms) != 1 || forms[0]["refresh_token"] != "refresh-1" || forms[0]["grant_type"] != "refresh_token" {
			t.Errorf("unexpected refresh requests %v", forms)
		}
	})

	t.Run("Refreshed Token Is Live Next Time", func(t *testing.T) {
		f := newFixture(t, defaultOpts)
		f.seed(t, "a1b2c3d4", "stale-token", "refresh-1")

		if _, err := f.manager.Resolve(ctx, "a1b2c3d4"); err != nil {
			t.Fatal(err)
		}
		res, err := f.manager.Resolve(ctx, "a1b2c3d4")
		if err != nil {
			t.Fatal(err)
		}

		if res.Token != "NEW123" || res.Refreshed {
			t.Errorf("expected persisted token to be reused, got %+v", res)
		}
		if f.spotify.Calls("token") != 1 {
			t.Errorf("expected a single refresh, got %d", f.spotify.Calls("token"))
		}
	})

	t.Run("Rotated Refresh Token Is Persisted", func(t *testing.T) {
		f := newFixture(t, defaultOpts)
		record := f.seed(t, "a1b2c3d4", "stale-token", "refresh-1")
		f.spotify.SetNextTokens("NEW123", "refresh-2")

		if _, err := f.manager.Resolve(ctx, "a1b2c3d4"); err != nil {
			t.Fatal(err)
		}

		access, refresh := f.stored(t, record.ID)
		if access != "NEW123" || refresh != "refresh-2" {
			t.Errorf("expected rotated pair persisted, got %s / %s", access, refresh)
		}
	})

	t.Run("Unknown Share Code", func(t *testing.T) {
		f := newFixture(t, defaultOpts)

		_, err := f.manager.Resolve(ctx, "zzzzzzzz")
		requireKind(t, err, KindRecordNotFound)

		if !errors.Is(err, shared.ErrShareNotFound) {
			t.Error("expected error to unwrap to ErrShareNotFound")
		}
		if f.spotify.Calls("me")+f.spotify.Calls("token") != 0 {
			t.Error("expected zero provider calls")
		}
	})

	t.Run("Store Lookup Failure", func(t *testing.T) {
		f := newFixture(t, defaultOpts)
		cause := errors.New("database is locked")
		f.store.GetErr = cause

		_, err := f.manager.Resolve(ctx, "a1b2c3d4")
		requireKind(t, err, KindRecordNotFound)

		if !errors.Is(err, cause) {
			t.Error("expected store error to be wrapped")
		}
		if f.spotify.Calls("me") != 0 {
			t.Error("expected zero provider calls")
		}
	})

	t.Run("Invalid Grant", func(t *testing.T) {
		f := newFixture(t, defaultOpts)
		record := f.seed(t, "a1b2c3d4", "stale-token", "refresh-1")
		f.spotify.SetRefreshReply(http.StatusBadRequest, `{"error":"invalid_grant"}`)
		before := f.store.Snapshot(record.ID)

		_, err := f.manager.Resolve(ctx, "a1b2c3d4")
		te := requireKind(t, err, KindTokenRefreshFailed)

		if te.Status != http.StatusBadRequest || te.Body != `{"error":"invalid_grant"}` {
			t.Errorf("expected provider status and body, got %d %q", te.Status, te.Body)
		}
		if !strings.Contains(err.Error(), "invalid_grant") {
			t.Errorf("expected reason in message, got %q", err.Error())
		}
		if !errors.Is(err, shared.ErrRefreshFailed) {
			t.Error("expected ErrRefreshFailed in chain")
		}
		if f.store.Writes() != 0 || f.store.Snapshot(record.ID) != before {
			t.Error("expected store untouched after refresh failure")
		}
		if f.spotify.Calls("token") != 1 {
			t.Errorf("expected a single refresh attempt, got %d", f.spotify.Calls("token"))
		}
	})

	t.Run("Missing Access Token In Refresh Reply", func(t *testing.T) {
		f := newFixture(t, defaultOpts)
		f.seed(t, "a1b2c3d4", "stale-token", "refresh-1")
		f.spotify.SetRefreshReply(http.StatusOK, `{"token_type":"Bearer"}`)

		_, err := f.manager.Resolve(ctx, "a1b2c3d4")
		te := requireKind(t, err, KindTokenRefreshFailed)

		if te.Reason != "missing access_token" {
			t.Errorf("expected missing access_token reason, got %q", te.Reason)
		}
		if f.store.Writes() != 0 {
			t.Error("expected no write")
		}
	})

	t.Run("Token Endpoint Unreachable", func(t *testing.T) {
		f := newFixture(t, defaultOpts)
		record := f.seed(t, "a1b2c3d4", "stale-token", "refresh-1")
		f.spotify.SetRefreshHangup(true)

		_, err := f.manager.Resolve(ctx, "a1b2c3d4")
		te := requireKind(t, err, KindProviderTransport)

		if te.Status != 0 {
			t.Errorf("expected no provider status, got %d", te.Status)
		}
		if !strings.Contains(te.Reason, "token endpoint unreachable") {
			t.Errorf("unexpected reason %q", te.Reason)
		}
		if f.store.Writes() != 0 {
			t.Error("expected store untouched")
		}
		if access, _ := f.stored(t, record.ID); access != "stale-token" {
			t.Errorf("expected stored token kept, got %q", access)
		}
	})

	t.Run("Corrupt Credential", func(t *testing.T) {
		f := newFixture(t, defaultOpts)
		record := f.seed(t, "a1b2c3d4", "live-token", "refresh-1")
		corrupt := f.store.Snapshot(record.ID)
		corrupt.EncryptedAccessToken = "not-a-ciphertext"
		f.store.Put(&corrupt)

		_, err := f.manager.Resolve(ctx, "a1b2c3d4")
		requireKind(t, err, KindCredentialCorrupt)

		if !errors.Is(err, shared.ErrCredentialCorrupt) {
			t.Error("expected ErrCredentialCorrupt in chain")
		}
		if f.spotify.Calls("me") != 0 {
			t.Error("corrupt credentials must not reach the provider")
		}
	})

	t.Run("Corrupt Refresh Token", func(t *testing.T) {
		f := newFixture(t, defaultOpts)
		record := f.seed(t, "a1b2c3d4", "live-token", "refresh-1")
		corrupt := f.store.Snapshot(record.ID)
		corrupt.EncryptedRefreshToken = corrupt.EncryptedAccessToken[:10]
		f.store.Put(&corrupt)

		_, err := f.manager.Resolve(ctx, "a1b2c3d4")
		requireKind(t, err, KindCredentialCorrupt)
	})

	t.Run("Transport Error Optimistic", func(t *testing.T) {
		f := newFixture(t, Options{OptimisticOnTransportError: true})
		f.seed(t, "a1b2c3d4", "maybe-live", "refresh-1")
		f.spotify.SetMeStatus(http.StatusServiceUnavailable)

		res, err := f.manager.Resolve(ctx, "a1b2c3d4")
		if err != nil {
			t.Fatalf("expected optimistic success, got %v", err)
		}
		if res.Token != "maybe-live" || res.Refreshed {
			t.Errorf("expected original token, got %+v", res)
		}
		if f.spotify.Calls("token") != 0 || f.store.Writes() != 0 {
			t.Error("expected no refresh and no write")
		}
	})

	t.Run("Transport Error Strict", func(t *testing.T) {
		f := newFixture(t, Options{OptimisticOnTransportError: false})
		f.seed(t, "a1b2c3d4", "maybe-live", "refresh-1")
		f.spotify.SetMeStatus(http.StatusServiceUnavailable)

		_, err := f.manager.Resolve(ctx, "a1b2c3d4")
		requireKind(t, err, KindProviderTransport)

		if f.spotify.Calls("me") != 1 {
			t.Errorf("expected no retry of the liveness check, got %d", f.spotify.Calls("me"))
		}
	})

	t.Run("Persist Failure", func(t *testing.T) {
		f := newFixture(t, defaultOpts)
		f.seed(t, "a1b2c3d4", "stale-token", "refresh-1")
		f.store.UpdateErr = errors.New("disk full")

		res, err := f.manager.Resolve(ctx, "a1b2c3d4")
		requireKind(t, err, KindStore)

		if res != nil {
			t.Error("fresh token must not be handed out when it was not persisted")
		}
	})

	t.Run("Empty Share Code", func(t *testing.T) {
		f := newFixture(t, defaultOpts)

		_, err := f.manager.Resolve(ctx, "")
		requireKind(t, err, KindValidation)

		if f.spotify.Calls("me") != 0 {
			t.Error("expected no provider call")
		}
	})
}

func TestResolveConcurrency(t *testing.T) {
	ctx := context.Background()

	t.Run("Concurrent Refreshes Collapse", func(t *testing.T) {
		f := newFixture(t, defaultOpts)
		record := f.seed(t, "a1b2c3d4", "stale-token", "refresh-1")
		f.spotify.SetRefreshDelay(100 * time.Millisecond)
		before := resolutions(t, "refreshed")

		const n = 8
		var wg sync.WaitGroup
		results := make([]string, n)
		errs := make([]error, n)

		for i := range n {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				res, err := f.manager.Resolve(ctx, "a1b2c3d4")
				errs[i] = err
				if res != nil {
					results[i] = res.Token
				}
			}(i)
		}
		wg.Wait()

		for i := range n {
			if errs[i] != nil {
				t.Fatalf("resolution %d failed: %v", i, errs[i])
			}
			if results[i] != "NEW123" {
				t.Errorf("resolution %d returned %q", i, results[i])
			}
		}

		if calls := f.spotify.Calls("token"); calls != 1 {
			t.Errorf("expected one refresh call, got %d", calls)
		}
		if got := resolutions(t, "refreshed") - before; got != n {
			t.Errorf("expected every waiting caller counted as refreshed, got %v", got)
		}
		if access, _ := f.stored(t, record.ID); access != "NEW123" {
			t.Errorf("expected NEW123 persisted, got %s", access)
		}
	})

	t.Run("Refresh Survives Caller Cancellation", func(t *testing.T) {
		f := newFixture(t, defaultOpts)
		record := f.seed(t, "a1b2c3d4", "stale-token", "refresh-1")
		f.spotify.SetRefreshDelay(300 * time.Millisecond)

		cctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		defer cancel()

		_, err := f.manager.Resolve(cctx, "a1b2c3d4")
		requireKind(t, err, KindProviderTransport)

		deadline := time.Now().Add(2 * time.Second)
		for f.store.Writes() == 0 && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}

		if access, _ := f.stored(t, record.ID); access != "NEW123" {
			t.Errorf("expected detached refresh to persist NEW123, got %s", access)
		}
	})

	t.Run("Reuses Token Written By Another Refresher", func(t *testing.T) {
		f := newFixture(t, defaultOpts)
		record := f.seed(t, "a1b2c3d4", "stale-token", "refresh-1")

		otherCT, err := f.codec.Encrypt("OTHER456")
		if err != nil {
			t.Fatal(err)
		}
		f.manager.opts.Locker = lockFunc(func(ctx context.Context, key string) (func(), bool, error) {
			// another process finished its refresh while we waited for the lock
			f.store.UpdateAccessToken(ctx, record.ID, otherCT)
			return func() {}, true, nil
		})

		res, err := f.manager.Resolve(ctx, "a1b2c3d4")
		if err != nil {
			t.Fatal(err)
		}
		if res.Token != "OTHER456" {
			t.Errorf("expected concurrently written token, got %s", res.Token)
		}
		if f.spotify.Calls("token") != 0 {
			t.Error("expected no second refresh call")
		}
	})

	t.Run("Lock Failure Degrades", func(t *testing.T) {
		f := newFixture(t, defaultOpts)
		f.seed(t, "a1b2c3d4", "stale-token", "refresh-1")
		f.manager.opts.Locker = lockFunc(func(ctx context.Context, key string) (func(), bool, error) {
			return func() {}, false, errors.New("redis unavailable")
		})

		res, err := f.manager.Resolve(ctx, "a1b2c3d4")
		if err != nil {
			t.Fatalf("expected refresh without lock, got %v", err)
		}
		if res.Token != "NEW123" {
			t.Errorf("expected NEW123, got %s", res.Token)
		}
	})
}

type lockFunc func(ctx context.Context, key string) (func(), bool, error)

func (f lockFunc) Acquire(ctx context.Context, key string) (func(), bool, error) {
	return f(ctx, key)
}

func TestError(t *testing.T) {
	err := &Error{Kind: KindTokenRefreshFailed, ShareCode: "a1b2c3d4", Reason: "invalid_grant", Err: shared.ErrRefreshFailed}

	if got := err.Error(); got != "token_refresh_failed (share a1b2c3d4): invalid_grant: token refresh failed" {
		t.Errorf("unexpected message %q", got)
	}
	if !errors.Is(err, shared.ErrRefreshFailed) {
		t.Error("expected Unwrap to expose cause")
	}

	kinds := []Kind{KindRecordNotFound, KindCredentialCorrupt, KindTokenRefreshFailed, KindProviderTransport, KindStore, KindValidation}
	seen := map[string]bool{}
	for _, k := range kinds {
		if s := k.String(); s == "unknown" || seen[s] {
			t.Errorf("kind %d has bad label %q", k, s)
		} else {
			seen[s] = true
		}
	}
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/chamber/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/chamber/backend/internal/coins"
	"github.com/MarcoPoloResearchLab/chamber/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/chamber/backend/internal/posts"
	"github.com/MarcoPoloResearchLab/chamber/backend/internal/users"
)

// stubGoogleVerifier returns canned claims without touching the network.
type stubGoogleVerifier struct {
	claims auth.GoogleClaims
	err    error
}

func (s stubGoogleVerifier) Verify(context.Context, string) (auth.GoogleClaims, error) {
	return s.claims, s.err
}

// fakeTokenManager issues transparent tokens of the form "token:<subject>" so
// tests can mint bearer credentials without signing keys.
type fakeTokenManager struct{}

func (fakeTokenManager) IssueBackendToken(_ context.Context, claims auth.GoogleClaims) (string, int64, error) {
	return "token:" + claims.Subject, 1800, nil
}

func (fakeTokenManager) ValidateToken(token string) (string, error) {
	subject, ok := strings.CutPrefix(token, "token:")
	if !ok || subject == "" {
		return "", errors.New("unrecognized token")
	}
	return subject, nil
}

type sequenceIDProvider struct {
	prefix string
	next   int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("%s-%d", p.prefix, p.next), nil
}

type testEnv struct {
	handler http.Handler
	posts   *posts.Service
	coins   *coins.Service
	now     time.Time
	zone    *time.Location
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	err = db.AutoMigrate(
		&posts.Post{},
		&posts.PostTagRecord{},
		&posts.FirstWriteGate{},
		&posts.ReadMarker{},
		&coins.Wallet{},
		&users.Identity{},
	)
	if err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	zone := time.FixedZone("KST", 9*3600)
	now := time.Date(2026, time.August, 26, 15, 0, 0, 0, zone)
	clock := func() time.Time { return now }

	ledger, err := coins.NewService(coins.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct coin service: %v", err)
	}
	postService, err := posts.NewService(posts.ServiceConfig{
		Database:   db,
		Ledger:     ledger,
		IDProvider: &sequenceIDProvider{prefix: "post"},
		Zone:       zone,
		Clock:      clock,
	})
	if err != nil {
		t.Fatalf("failed to construct post service: %v", err)
	}
	metricsService, err := metrics.NewService(metrics.ServiceConfig{Database: db, Zone: zone, Clock: clock})
	if err != nil {
		t.Fatalf("failed to construct metrics service: %v", err)
	}
	identityService, err := users.NewService(users.ServiceConfig{
		Database:   db,
		IDProvider: &sequenceIDProvider{prefix: "member"},
		Clock:      clock,
	})
	if err != nil {
		t.Fatalf("failed to construct identity service: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		GoogleVerifier: stubGoogleVerifier{claims: auth.GoogleClaims{Subject: "google-sub-1"}},
		TokenManager:   fakeTokenManager{},
		Identities:     identityService,
		PostsService:   postService,
		MetricsService: metricsService,
	})
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}

	return &testEnv{handler: handler, posts: postService, coins: ledger, now: now, zone: zone}
}

func (env *testEnv) do(t *testing.T, method, target, bearer string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, target, reader)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		request.Header.Set("Authorization", "Bearer "+bearer)
	}
	recorder := httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), out); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
}

// seedPost creates a post through the service on behalf of the given member.
func (env *testEnv) seedPost(t *testing.T, member, title, content string, postType posts.PostType, tags []string) string {
	t.Helper()
	userID := mustUserID(t, member)
	result, err := env.posts.CreatePost(context.Background(), posts.CreateRequest{
		UserID:  userID,
		Title:   title,
		Content: content,
		Type:    postType,
		Tags:    tags,
	})
	if err != nil {
		t.Fatalf("failed to seed post: %v", err)
	}
	return result.PostID
}

func mustUserID(t *testing.T, raw string) posts.UserID {
	t.Helper()
	userID, err := posts.NewUserID(raw)
	if err != nil {
		t.Fatalf("invalid user id %q: %v", raw, err)
	}
	return userID
}

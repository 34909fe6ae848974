package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/chamber/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/chamber/backend/internal/coins"
	"github.com/MarcoPoloResearchLab/chamber/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/chamber/backend/internal/posts"
	"github.com/MarcoPoloResearchLab/chamber/backend/internal/server"
	"github.com/MarcoPoloResearchLab/chamber/backend/internal/users"
)

const (
	signingSecret   = "integration-secret"
	jsonContentType = "application/json"
)

// mapVerifier resolves each fake Google id token to its own subject, standing
// in for two distinct sign-ins.
type mapVerifier struct {
	subjects map[string]string
}

func (v mapVerifier) Verify(_ context.Context, token string) (auth.GoogleClaims, error) {
	subject, ok := v.subjects[token]
	if !ok {
		return auth.GoogleClaims{}, errors.New("unknown id token")
	}
	return auth.GoogleClaims{Subject: subject}, nil
}

func TestAuthWritingAndReadingFlow(testContext *testing.T) {
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file:integration?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		testContext.Fatalf("failed to access sql db: %v", err)
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
		testContext.Fatalf("failed to migrate: %v", err)
	}

	zone := time.FixedZone("KST", 9*3600)
	ledger, err := coins.NewService(coins.ServiceConfig{Database: db, Logger: zap.NewNop()})
	if err != nil {
		testContext.Fatalf("failed to build coin service: %v", err)
	}
	postService, err := posts.NewService(posts.ServiceConfig{
		Database:   db,
		Ledger:     ledger,
		IDProvider: posts.NewUUIDProvider(),
		Zone:       zone,
		Logger:     zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build post service: %v", err)
	}
	metricsService, err := metrics.NewService(metrics.ServiceConfig{Database: db, Zone: zone})
	if err != nil {
		testContext.Fatalf("failed to build metrics service: %v", err)
	}
	identityService, err := users.NewService(users.ServiceConfig{
		Database:   db,
		IDProvider: posts.NewUUIDProvider(),
	})
	if err != nil {
		testContext.Fatalf("failed to build identity service: %v", err)
	}
	issuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(signingSecret),
		Issuer:        "chamber-auth",
		Audience:      "chamber-api",
	})

	handler, err := server.NewHTTPHandler(server.Dependencies{
		GoogleVerifier: mapVerifier{subjects: map[string]string{
			"writer-id-token": "google-writer",
			"reader-id-token": "google-reader",
		}},
		TokenManager:   issuer,
		Identities:     identityService,
		PostsService:   postService,
		MetricsService: metricsService,
		Logger:         zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}

	testServer := httptest.NewServer(handler)
	defer testServer.Close()

	writerToken := mustSignIn(testContext, testServer.URL, "writer-id-token")
	readerToken := mustSignIn(testContext, testServer.URL, "reader-id-token")

	// The writer publishes a post and earns the writing reward.
	createBody, _ := json.Marshal(map[string]any{
		"title":   "midnight thought",
		"content": "the city is quiet tonight",
		"type":    "short",
		"tags":    []string{"love", "people"},
	})
	createReq, _ := http.NewRequest(http.MethodPost, testServer.URL+"/posts", bytes.NewReader(createBody))
	createReq.Header.Set("Authorization", "Bearer "+writerToken)
	createReq.Header.Set("Content-Type", jsonContentType)
	createResp, err := http.DefaultClient.Do(createReq)
	if err != nil {
		testContext.Fatalf("create request failed: %v", err)
	}
	defer createResp.Body.Close()
	if createResp.StatusCode != http.StatusCreated {
		testContext.Fatalf("unexpected create status: %d", createResp.StatusCode)
	}
	var created struct {
		PostID     string `json:"post_id"`
		Coin       int64  `json:"coin"`
		FirstToday bool   `json:"first_today"`
	}
	if err := json.NewDecoder(createResp.Body).Decode(&created); err != nil {
		testContext.Fatalf("failed to decode create response: %v", err)
	}
	if created.PostID == "" || created.Coin != 1 || !created.FirstToday {
		testContext.Fatalf("unexpected create result %+v", created)
	}

	// The reader has no coin yet; the first read is refused.
	if status := readPostStatus(testContext, testServer.URL, created.PostID, readerToken); status != http.StatusPaymentRequired {
		testContext.Fatalf("expected a broke reader to be refused, got %d", status)
	}

	// Writing funds the reader's wallet.
	fundBody, _ := json.Marshal(map[string]any{
		"title":   "reply",
		"content": "so is mine",
		"type":    "short",
	})
	fundReq, _ := http.NewRequest(http.MethodPost, testServer.URL+"/posts", bytes.NewReader(fundBody))
	fundReq.Header.Set("Authorization", "Bearer "+readerToken)
	fundReq.Header.Set("Content-Type", jsonContentType)
	fundResp, err := http.DefaultClient.Do(fundReq)
	if err != nil {
		testContext.Fatalf("funding post failed: %v", err)
	}
	defer fundResp.Body.Close()
	if fundResp.StatusCode != http.StatusCreated {
		testContext.Fatalf("unexpected funding status: %d", fundResp.StatusCode)
	}

	// The refused attempt already consumed the first read, so this one is free
	// and the balance stays at the earned coin.
	detail := mustReadPost(testContext, testServer.URL, created.PostID, readerToken)
	if detail.Coin != 1 {
		testContext.Fatalf("expected the retried read to be free, balance %d", detail.Coin)
	}
	if detail.Views != 0 {
		testContext.Fatalf("expected no view counted for a consumed read, got %d", detail.Views)
	}
	if len(detail.Tags) != 2 || detail.Tags[0] != "PEOPLE" || detail.Tags[1] != "LOVE" {
		testContext.Fatalf("expected priority-ordered tags, got %v", detail.Tags)
	}

	// The read history lists the post.
	historyReq, _ := http.NewRequest(http.MethodGet, testServer.URL+"/posts/read", nil)
	historyReq.Header.Set("Authorization", "Bearer "+readerToken)
	historyResp, err := http.DefaultClient.Do(historyReq)
	if err != nil {
		testContext.Fatalf("history request failed: %v", err)
	}
	defer historyResp.Body.Close()
	var history struct {
		Posts []struct {
			PostID string `json:"post_id"`
		} `json:"posts"`
	}
	if err := json.NewDecoder(historyResp.Body).Decode(&history); err != nil {
		testContext.Fatalf("failed to decode history: %v", err)
	}
	if len(history.Posts) != 1 || history.Posts[0].PostID != created.PostID {
		testContext.Fatalf("expected the read post in history, got %#v", history.Posts)
	}
}

type postDetail struct {
	Views int64    `json:"views"`
	Tags  []string `json:"tags"`
	Coin  int64    `json:"coin"`
}

func mustSignIn(testContext *testing.T, baseURL, idToken string) string {
	testContext.Helper()
	body, _ := json.Marshal(map[string]string{"id_token": idToken})
	request, _ := http.NewRequest(http.MethodPost, baseURL+"/auth/google", bytes.NewReader(body))
	request.Header.Set("Content-Type", jsonContentType)
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		testContext.Fatalf("sign-in request failed: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected sign-in status: %d", response.StatusCode)
	}
	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		testContext.Fatalf("failed to decode sign-in response: %v", err)
	}
	if payload.AccessToken == "" {
		testContext.Fatalf("expected an access token")
	}
	return payload.AccessToken
}

func readPostStatus(testContext *testing.T, baseURL, postID, token string) int {
	testContext.Helper()
	request, _ := http.NewRequest(http.MethodGet, baseURL+"/posts/"+postID, nil)
	request.Header.Set("Authorization", "Bearer "+token)
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		testContext.Fatalf("read request failed: %v", err)
	}
	defer response.Body.Close()
	return response.StatusCode
}

func mustReadPost(testContext *testing.T, baseURL, postID, token string) postDetail {
	testContext.Helper()
	request, _ := http.NewRequest(http.MethodGet, baseURL+"/posts/"+postID, nil)
	request.Header.Set("Authorization", "Bearer "+token)
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		testContext.Fatalf("read request failed: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected read status: %d", response.StatusCode)
	}
	var detail postDetail
	if err := json.NewDecoder(response.Body).Decode(&detail); err != nil {
		testContext.Fatalf("failed to decode detail: %v", err)
	}
	return detail
}

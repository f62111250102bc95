package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/orbitcart/gatekeeper/internal/auth"
	"github.com/orbitcart/gatekeeper/internal/database"
	"github.com/orbitcart/gatekeeper/internal/handlers"
	"github.com/orbitcart/gatekeeper/internal/models"
	"github.com/orbitcart/gatekeeper/internal/routes"
	"github.com/orbitcart/gatekeeper/internal/services"
	pkghttp "github.com/orbitcart/gatekeeper/pkg/http"
	pkglogger "github.com/orbitcart/gatekeeper/pkg/logger"
)

// SentCode is a challenge code captured by the mock email service
type SentCode struct {
	Email string
	Code  string
}

// MockEmailService captures challenge codes for test assertions
type MockEmailService struct {
	Sent []SentCode
	mu   sync.Mutex
}

func (m *MockEmailService) SendChallengeCode(ctx context.Context, email, code string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, SentCode{Email: email, Code: code})
	return nil
}

// LastCode returns the most recent challenge code sent
func (m *MockEmailService) LastCode() *SentCode {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Sent) == 0 {
		return nil
	}
	return &m.Sent[len(m.Sent)-1]
}

// TestServer wraps httptest.Server with database and all dependencies
type TestServer struct {
	Server       *httptest.Server
	DB           *database.DB
	EmailService *MockEmailService
	TokenManager *auth.TokenManager
	Repos        *Repositories
}

const testAdminSecret = "test-secret-32-characters-long-for-testing"

// NewTestServer initializes a complete HTTP server with real database and
// mocked email delivery. The metrics argument is nil throughout so repeated
// servers in one test binary do not fight over the default registry.
func NewTestServer(db *database.DB) *TestServer {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

	repos := InitializeRepositories(db)
	mockEmail := &MockEmailService{}
	auditLogger := pkglogger.NewAuditLogger(logger)
	tokenManager := auth.NewTokenManager(testAdminSecret, 15*time.Minute)

	totpManager, err := auth.NewTOTPManager([]byte("0123456789abcdef0123456789abcdef"), "gatekeeper-test")
	if err != nil {
		panic(fmt.Sprintf("failed to create totp manager: %v", err))
	}

	blockListService := services.NewBlockListService(repos.Blocks, services.BlockListConfig{}, logger)
	geoService := services.NewGeoPolicyService(repos.GeoRules, logger)
	rateLimitService := services.NewRateLimitService(repos.RateLimits, logger)
	counterService := services.NewFailureCounterService(repos.Attempts, 24*time.Hour, logger)
	settingsService := services.NewSettingsService(repos.Settings, services.PolicyThresholds{
		ChallengeThreshold: 5,
		BlockThreshold:     10,
		ChallengeRetryCap:  5,
	}, logger)
	challengeService := services.NewChallengeService(
		repos.Challenges,
		repos.Recovery,
		repos.TOTP,
		db,
		counterService,
		blockListService,
		settingsService,
		mockEmail,
		totpManager,
		nil, // no timing delay in tests
		auditLogger,
		nil,
		services.ChallengeConfig{
			Expiry:          10 * time.Minute,
			EscalationBlock: 1 * time.Hour,
		},
		logger,
	)
	decisionService := services.NewDecisionService(
		blockListService,
		geoService,
		rateLimitService,
		counterService,
		settingsService,
		challengeService,
		repos.Activity,
		auditLogger,
		nil,
		services.DecisionConfig{
			LoginEndpoint:    "login",
			KnownDeviceLimit: 5,
		},
		logger,
	)
	mfaService := services.NewMFAService(repos.Recovery, repos.TOTP, totpManager, auditLogger, logger)

	ipConfig := &pkghttp.IPConfig{}
	loginHandler := handlers.NewLoginHandler(decisionService, ipConfig)
	challengeHandler := handlers.NewChallengeHandler(challengeService)
	adminHandler := handlers.NewAdminHandler(
		blockListService,
		geoService,
		rateLimitService,
		settingsService,
		mfaService,
		decisionService,
		auditLogger,
	)

	router := chi.NewRouter()
	router.Use(chiMiddleware.RequestID)
	router.Use(chiMiddleware.Recoverer)
	routes.RegisterRoutes(router, loginHandler, challengeHandler, adminHandler, tokenManager)

	return &TestServer{
		Server:       httptest.NewServer(router),
		DB:           db,
		EmailService: mockEmail,
		TokenManager: tokenManager,
		Repos:        repos,
	}
}

// Close shuts down the test server
func (ts *TestServer) Close() {
	ts.Server.Close()
}

// AdminToken mints a valid admin JWT for the management API
func (ts *TestServer) AdminToken() (string, error) {
	return ts.TokenManager.GenerateToken("integration-test", models.RoleAdmin)
}

// PostJSON sends a JSON POST request to the test server
func (ts *TestServer) PostJSON(path string, body interface{}, token string) (*http.Response, error) {
	return ts.request("POST", path, body, token)
}

// PutJSON sends a JSON PUT request to the test server
func (ts *TestServer) PutJSON(path string, body interface{}, token string) (*http.Response, error) {
	return ts.request("PUT", path, body, token)
}

// Get sends a GET request to the test server
func (ts *TestServer) Get(path, token string) (*http.Response, error) {
	return ts.request("GET", path, nil, token)
}

func (ts *TestServer) request(method, path string, body interface{}, token string) (*http.Response, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequest(method, ts.Server.URL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return http.DefaultClient.Do(req)
}

// DecodeJSON reads and decodes a response body
func DecodeJSON(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}

package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/predictarena/predictarena/internal/auth"
	"github.com/predictarena/predictarena/internal/config"
	"github.com/predictarena/predictarena/internal/db"
)

func newTestServer(t *testing.T) (*Server, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store := db.NewWithPool(mock, config.RetentionConfig{
		FeedLimit: 200, VerdictLimit: 200, JudgmentLimit: 800, RoundLimit: 200, ScoreEventLimit: 1000,
	})

	cfg := &config.Config{}
	cfg.API.Host = "127.0.0.1"
	cfg.API.Port = 0
	cfg.Kline.DefaultIntervals = []string{"1m"}

	return NewServer(Config{Cfg: cfg, DB: store}), mock
}

func doRequest(server *Server, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	server, _ := newTestServer(t)

	w := doRequest(server, http.MethodGet, "/api/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["ok"])
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
}

func TestRegisterAgent(t *testing.T) {
	server, mock := newTestServer(t)

	mock.ExpectExec("INSERT INTO agents").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	w := doRequest(server, http.MethodPost, "/api/v1/agents/register",
		map[string]string{"name": "The Mad Oracle", "description": "contrarian"}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "the_mad_oracle", resp["id"])
	assert.Equal(t, "pending_claim", resp["status"])
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{64}$`), resp["api_key"])
	assert.Regexp(t, regexp.MustCompile(`^\d{6}$`), resp["verification_code"])
	assert.Regexp(t, regexp.MustCompile(`/claim/[0-9a-f]{32}$`), resp["claim_url"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegisterAgentValidation(t *testing.T) {
	server, _ := newTestServer(t)

	w := doRequest(server, http.MethodPost, "/api/v1/agents/register",
		map[string]string{"name": "   "}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(server, http.MethodPost, "/api/v1/agents/register",
		map[string]string{"name": "!!!"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegisterAgentDuplicate(t *testing.T) {
	server, mock := newTestServer(t)

	mock.ExpectExec("INSERT INTO agents").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	w := doRequest(server, http.MethodPost, "/api/v1/agents/register",
		map[string]string{"name": "Oracle"}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestBearerAuthRejections(t *testing.T) {
	server, mock := newTestServer(t)

	// no header
	w := doRequest(server, http.MethodGet, "/api/v1/agents/status", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// unknown key
	mock.ExpectQuery("FROM agents WHERE secret").
		WithArgs("badkey").
		WillReturnError(pgx.ErrNoRows)
	w = doRequest(server, http.MethodGet, "/api/v1/agents/status", nil,
		map[string]string{"Authorization": "Bearer badkey"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// pending agent with a valid key is forbidden
	rows := agentRows().AddRow("oracle", "Oracle", "", "", int64(0), db.AgentStatusPendingClaim,
		"goodkey", "tok", "123456", (*time.Time)(nil), time.Now().UTC())
	mock.ExpectQuery("FROM agents WHERE secret").
		WithArgs("goodkey").
		WillReturnRows(rows)
	w = doRequest(server, http.MethodGet, "/api/v1/agents/status", nil,
		map[string]string{"Authorization": "Bearer goodkey"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSignedRequestVerification(t *testing.T) {
	server, mock := newTestServer(t)
	server.cfg.Auth.SignatureWindowSec = 300

	activeAgent := func() *pgxmock.Rows {
		claimed := time.Now().UTC()
		return agentRows().AddRow("oracle", "Oracle", "", "", int64(0), db.AgentStatusActive,
			"goodkey", "tok", "123456", &claimed, claimed)
	}

	ts := time.Now().UnixMilli()
	sig := auth.Sign("goodkey", ts, http.MethodGet, "/api/v1/agents/me", "")

	mock.ExpectQuery("FROM agents WHERE secret").
		WithArgs("goodkey").
		WillReturnRows(activeAgent())
	w := doRequest(server, http.MethodGet, "/api/v1/agents/me", nil, map[string]string{
		"Authorization": "Bearer goodkey",
		"X-Ts":          strconv.FormatInt(ts, 10),
		"X-Signature":   sig,
	})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// signature over a different path is rejected
	badSig := auth.Sign("goodkey", ts, http.MethodGet, "/api/v1/agents/status", "")
	mock.ExpectQuery("FROM agents WHERE secret").
		WithArgs("goodkey").
		WillReturnRows(activeAgent())
	w = doRequest(server, http.MethodGet, "/api/v1/agents/me", nil, map[string]string{
		"Authorization": "Bearer goodkey",
		"X-Ts":          strconv.FormatInt(ts, 10),
		"X-Signature":   badSig,
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// stale timestamp is rejected even with a matching signature
	staleTs := time.Now().Add(-10 * time.Minute).UnixMilli()
	staleSig := auth.Sign("goodkey", staleTs, http.MethodGet, "/api/v1/agents/me", "")
	mock.ExpectQuery("FROM agents WHERE secret").
		WithArgs("goodkey").
		WillReturnRows(activeAgent())
	w = doRequest(server, http.MethodGet, "/api/v1/agents/me", nil, map[string]string{
		"Authorization": "Bearer goodkey",
		"X-Ts":          strconv.FormatInt(staleTs, 10),
		"X-Signature":   staleSig,
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdvanceRequiresAdminToken(t *testing.T) {
	server, _ := newTestServer(t)
	server.cfg.Auth.AdminAPIToken = "s3cret"

	w := doRequest(server, http.MethodPost, "/api/advance", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(server, http.MethodPost, "/api/advance", nil,
		map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAgentMe(t *testing.T) {
	server, mock := newTestServer(t)

	claimed := time.Now().UTC()
	rows := agentRows().AddRow("oracle", "Oracle", "bull", "", int64(120), db.AgentStatusActive,
		"goodkey", "tok", "123456", &claimed, claimed)
	mock.ExpectQuery("FROM agents WHERE secret").
		WithArgs("goodkey").
		WillReturnRows(rows)

	w := doRequest(server, http.MethodGet, "/api/v1/agents/me", nil,
		map[string]string{"Authorization": "Bearer goodkey"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Agent map[string]interface{} `json:"agent"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "oracle", resp.Agent["id"])
	_, leaked := resp.Agent["secret"]
	assert.False(t, leaked, "secret must never serialize")
}

func TestClaimUnknownToken(t *testing.T) {
	server, mock := newTestServer(t)

	mock.ExpectQuery("FROM agents WHERE claim_token").
		WithArgs("nope").
		WillReturnError(pgx.ErrNoRows)

	w := doRequest(server, http.MethodGet, "/claim/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func agentRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "name", "persona", "prompt", "score", "status", "secret",
		"claim_token", "verification_code", "claimed_at", "created_at",
	})
}

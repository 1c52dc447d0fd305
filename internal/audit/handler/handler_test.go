package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	jwttoken "storefront/internal/jwt_token"
	audit "storefront/pkg/platform/audit"
	"storefront/pkg/platform/audit/policy"
	"storefront/pkg/platform/audit/service"
	"storefront/pkg/platform/audit/store/memory"
	"storefront/pkg/platform/middleware/auth"
	"storefront/pkg/platform/middleware/metadata"
	"storefront/pkg/requestcontext"
	"storefront/pkg/testutil"
)

// =============================================================================
// Audit Read API Test Suite
// =============================================================================
// Justification: the handler is the only place query parameters become a
// filter and the caller's token becomes a reader. Tests run the full
// middleware chain so role scoping is checked end to end.

type HandlerSuite struct {
	suite.Suite
	store  *memory.InMemoryStore
	svc    *service.Service
	jwt    *jwttoken.JWTService
	router http.Handler
	ids    map[audit.Entity]string
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.store = memory.NewInMemoryStore()
	svc, err := service.New(s.store, service.WithLogger(logger))
	s.Require().NoError(err)
	s.svc = svc
	s.jwt = jwttoken.NewJWTService("test-key", "storefront", "storefront-api")

	r := chi.NewRouter()
	r.Use(auth.Identify(jwttoken.NewJWTServiceAdapter(s.jwt), logger))
	r.Use(metadata.Establish(""))
	r.Use(auth.RequireAuth(logger))
	New(svc, logger).Register(r)
	s.router = r

	s.ids = map[audit.Entity]string{}
	ctx := requestcontext.WithInfo(context.Background(), requestcontext.Info{ActorID: "staff-1"})
	for _, e := range []audit.Entity{audit.EntityOrder, audit.EntityPayment, audit.EntityUser, audit.EntityProduct} {
		id := svc.LogEvent(ctx, service.Event{Action: audit.ActionUpdate, Entity: e, EntityID: "x"})
		s.Require().NotEmpty(id)
		s.ids[e] = id
	}
}

func (s *HandlerSuite) token(role string) string {
	tok, err := s.jwt.GenerateAccessToken(uuid.New(), role, role+"@shop.example", time.Hour)
	s.Require().NoError(err)
	return tok
}

func (s *HandlerSuite) get(path, role string) *httptest.ResponseRecorder {
	token := ""
	if role != "" {
		token = s.token(role)
	}
	return testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, path, token))
}

func (s *HandlerSuite) list(path, role string) ListResponse {
	rec := s.get(path, role)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	return testutil.UnmarshalResponse[ListResponse](s.T(), rec)
}

// =============================================================================
// GET /admin/audit
// =============================================================================

func (s *HandlerSuite) TestListRequiresAuthentication() {
	rec := s.get("/admin/audit", "")
	s.Equal(http.StatusUnauthorized, rec.Code)
}

func (s *HandlerSuite) TestListScopesByRole() {
	s.Run("admin sees all", func() {
		resp := s.list("/admin/audit", "admin")
		s.Equal(4, resp.Count)
	})

	s.Run("order manager sees orders and payments", func() {
		resp := s.list("/admin/audit", "order_manager")
		s.Equal(2, resp.Count)
		for _, r := range resp.Records {
			s.Contains([]audit.Entity{audit.EntityOrder, audit.EntityPayment}, r.Entity)
		}
	})

	s.Run("forbidden entity is silently empty", func() {
		resp := s.list("/admin/audit?entity=user", "order_manager")
		s.Equal(0, resp.Count)
		s.NotNil(resp.Records)
	})

	s.Run("unknown role sees nothing", func() {
		resp := s.list("/admin/audit", "guest")
		s.Equal(0, resp.Count)
	})
}

func (s *HandlerSuite) TestListFilters() {
	resp := s.list("/admin/audit?entity=PRODUCT&action=update&actor_id=staff-1", "admin")
	s.Require().Equal(1, resp.Count)
	s.Equal(s.ids[audit.EntityProduct], resp.Records[0].ID)

	resp = s.list("/admin/audit?limit=2", "admin")
	s.Equal(2, resp.Count)

	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	resp = s.list("/admin/audit?from="+future, "admin")
	s.Equal(0, resp.Count)
}

func (s *HandlerSuite) TestListRejectsBadParameters() {
	tests := []string{
		"/admin/audit?entity=coupon",
		"/admin/audit?action=archive",
		"/admin/audit?limit=0",
		"/admin/audit?limit=5000",
		"/admin/audit?limit=ten",
		"/admin/audit?from=yesterday",
		"/admin/audit?from=2024-02-01T00:00:00Z&to=2024-01-01T00:00:00Z",
	}
	for _, path := range tests {
		s.Run(path, func() {
			testutil.AssertStatusAndError(s.T(), s.get(path, "admin"), http.StatusBadRequest, "bad_request")
		})
	}
}

// =============================================================================
// GET /admin/audit/{id}/verify
// =============================================================================

func (s *HandlerSuite) verify(id, role string) (*httptest.ResponseRecorder, VerifyResponse) {
	rec := s.get("/admin/audit/"+id+"/verify", role)
	var resp VerifyResponse
	if rec.Code == http.StatusOK {
		resp = testutil.UnmarshalResponse[VerifyResponse](s.T(), rec)
	}
	return rec, resp
}

func (s *HandlerSuite) TestVerify() {
	id := s.ids[audit.EntityPayment]

	rec, resp := s.verify(id, "order_manager")
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Equal(VerifyResponse{ID: id, Valid: true}, resp)

	s.Require().True(s.store.Tamper(id, func(r *audit.Record) { r.ActorID = "someone-else" }))
	rec, resp = s.verify(id, "admin")
	s.Require().Equal(http.StatusOK, rec.Code)
	s.False(resp.Valid)
}

func (s *HandlerSuite) TestVerifyHidesUnreadableRecords() {
	rec, _ := s.verify(s.ids[audit.EntityUser], "catalog_manager")
	s.Equal(http.StatusNotFound, rec.Code)

	rec, _ = s.verify(uuid.NewString(), "admin")
	s.Equal(http.StatusNotFound, rec.Code)
}

// =============================================================================
// Service errors
// =============================================================================

type failingService struct{}

func (failingService) ListFor(context.Context, policy.Reader, audit.Filter) ([]audit.Record, error) {
	return nil, errors.New("connection reset")
}

func (failingService) Verify(context.Context, string) (bool, error) {
	return false, errors.New("connection reset")
}

func (s *HandlerSuite) TestServiceErrorIsInternal() {
	r := chi.NewRouter()
	New(failingService{}, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(r)

	rec := testutil.DoRequest(r, testutil.NewRequest(s.T(), http.MethodGet, "/admin/audit", ""))
	testutil.AssertStatusAndError(s.T(), rec, http.StatusInternalServerError, "internal_error")
	s.NotContains(rec.Body.String(), "connection reset")
}

package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func contextWithRoles(roles ...string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithIdentity(req.Context(), "user-1", roles))
	return e.NewContext(req, httptest.NewRecorder())
}

func TestRequireRole_Allowed(t *testing.T) {
	c := contextWithRoles(RoleStaff)
	if err := RequireRole(RoleAdmin, RoleStaff)(ok)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRequireRole_Denied(t *testing.T) {
	c := contextWithRoles(RolePatient)
	err := RequireRole(RoleAdmin, RoleStaff)(ok)(c)
	expectStatus(t, err, http.StatusForbidden)
}

func TestRequireRole_AdminBypass(t *testing.T) {
	c := contextWithRoles(RoleAdmin)
	if err := RequireRole(RoleDoctor)(ok)(c); err != nil {
		t.Fatalf("admin should pass any role check: %v", err)
	}
}

func TestRequireRole_NoRoles(t *testing.T) {
	c := contextWithRoles()
	expectStatus(t, RequireRole(RolePatient)(ok)(c), http.StatusForbidden)
}

func TestUserIDFromContext(t *testing.T) {
	if UserIDFromContext(context.Background()) != "" {
		t.Error("expected empty user id on bare context")
	}
	ctx := WithIdentity(context.Background(), "user-9", nil)
	if UserIDFromContext(ctx) != "user-9" {
		t.Errorf("expected user-9, got %q", UserIDFromContext(ctx))
	}
}

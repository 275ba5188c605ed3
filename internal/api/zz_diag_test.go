package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
)

func TestZZDiagMatch(t *testing.T) {
	router := NewRouter(testDeps(t))

	req := httptest.NewRequest(http.MethodDelete, "/api/version", nil)
	var match mux.RouteMatch
	ok := router.Match(req, &match)
	t.Logf("matched=%v matchErr=%v route=%v handlerNil=%v", ok, match.MatchErr, match.Route, match.Handler == nil)
	if match.Route != nil {
		tpl, _ := match.Route.GetPathTemplate()
		t.Logf("route template: %q", tpl)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	t.Logf("status=%d body=%q", rr.Code, rr.Body.String())
}

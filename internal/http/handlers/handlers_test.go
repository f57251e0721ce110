package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/queueflow/backend/internal/service"
)

func serveError(t *testing.T, err error) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", func(c *gin.Context) { writeServiceError(c, err) })

	req, _ := http.NewRequest(http.MethodGet, "/x", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestWriteServiceErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{&service.Error{Kind: service.KindValidation, Op: "Op", Msg: "bad"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{&service.Error{Kind: service.KindNotFound, Op: "Op", Msg: "missing"}, http.StatusNotFound, "NOT_FOUND"},
		{&service.Error{Kind: service.KindUnauthorized, Op: "Op", Msg: "scope"}, http.StatusForbidden, "UNAUTHORIZED"},
		{&service.Error{Kind: service.KindOperationFailed, Op: "Op", Msg: "db"}, http.StatusInternalServerError, "OPERATION_FAILED"},
		{errors.New("plain"), http.StatusInternalServerError, "UNKNOWN"},
	}

	for _, tc := range cases {
		w := serveError(t, tc.err)
		if w.Code != tc.status {
			t.Errorf("%v: status %d, want %d", tc.err, w.Code, tc.status)
		}
		var body struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("bad body: %v", err)
		}
		if body.Error.Code != tc.code {
			t.Errorf("%v: code %s, want %s", tc.err, body.Error.Code, tc.code)
		}
		if body.Error.Message == "" {
			t.Errorf("%v: empty message", tc.err)
		}
	}
}

package http_test

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/soapboxsocial/glimpse/pkg/http"
)

func TestJsonError(t *testing.T) {
	rr := httptest.NewRecorder()

	http.JsonError(rr, 400, http.ErrorCodeMissingParameter, "missing code")

	if rr.Code != 400 {
		t.Fatalf("unexpected status %d", rr.Code)
	}

	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %s", ct)
	}

	var body struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}

	err := json.NewDecoder(rr.Body).Decode(&body)
	if err != nil {
		t.Fatal(err)
	}

	if body.Code != int(http.ErrorCodeMissingParameter) || body.Message != "missing code" {
		t.Fatalf("unexpected body %v", body)
	}
}

package req

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"supportchat/internal/pkg/errs"
)

func TestBindJSON(t *testing.T) {
	type body struct {
		Username string `json:"username"`
	}

	tests := []struct {
		name        string
		contentType string
		payload     string
		wantCode    int
	}{
		{"valid", "application/json", `{"username":"alice"}`, 0},
		{"wrong media type", "text/plain", `{"username":"alice"}`, errs.ErrUnsupportedMediaType},
		{"broken json", "application/json", `{"username":`, errs.ErrInvalidJSONFormat},
		{"unknown field", "application/json", `{"user":"alice"}`, errs.ErrInvalidJSONFormat},
		{"trailing data", "application/json", `{"username":"alice"} {}`, errs.ErrExtraContentInBody},
		{"too large", "application/json", `{"username":"` + strings.Repeat("a", int(MaxJSONBodySize)) + `"}`, errs.ErrRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(tt.payload))
			r.Header.Set("Content-Type", tt.contentType)

			var dst body
			customErr := BindJSON(httptest.NewRecorder(), r, &dst)

			if tt.wantCode == 0 {
				if customErr != nil {
					t.Fatalf("unexpected error %v", customErr)
				}
				if dst.Username != "alice" {
					t.Fatalf("bound %+v", dst)
				}
				return
			}
			if customErr == nil || customErr.Code != tt.wantCode {
				t.Fatalf("got %v, want code %d", customErr, tt.wantCode)
			}
		})
	}
}

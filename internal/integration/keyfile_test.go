package integration

import (
	"context"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"
)

func TestGenerateKey_Format(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}

	// 32文字の小文字16進数であること
	if matched := regexp.MustCompile(`^[0-9a-f]{32}$`).MatchString(key); !matched {
		t.Errorf("key = %q, want 32 lowercase hex chars", key)
	}
}

func TestGenerateKey_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		key, err := GenerateKey()
		if err != nil {
			t.Fatalf("GenerateKey() error = %v", err)
		}
		if seen[key] {
			t.Fatalf("duplicate key generated: %s", key)
		}
		seen[key] = true
	}
}

func TestKeyFileURL(t *testing.T) {
	tests := []struct {
		name   string
		domain string
		key    string
		want   string
	}{
		{
			name:   "bare domain gets https prefix",
			domain: "example.com",
			key:    "abc123",
			want:   "https://example.com/abc123.txt",
		},
		{
			name:   "https domain kept as is",
			domain: "https://example.com",
			key:    "abc123",
			want:   "https://example.com/abc123.txt",
		},
		{
			name:   "http domain kept as is",
			domain: "http://example.com",
			key:    "abc123",
			want:   "http://example.com/abc123.txt",
		},
		{
			name:   "trailing slash removed",
			domain: "https://example.com/",
			key:    "abc123",
			want:   "https://example.com/abc123.txt",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := KeyFileURL(tt.domain, tt.key)
			if got != tt.want {
				t.Errorf("KeyFileURL(%q, %q) = %q, want %q", tt.domain, tt.key, got, tt.want)
			}
		})
	}
}

// newTestVerifier はテスト用のVerifierを生成する。
// httptestサーバーはループバックで起動するため、SSRF防止なしの
// 素のHTTPクライアントを使う。
func newTestVerifier() *KeyFileVerifier {
	client := &http.Client{Timeout: 5 * time.Second}
	return NewKeyFileVerifier(client, 64*1024)
}

func TestVerify_ExactMatch(t *testing.T) {
	const key = "aabbccddeeff00112233445566778899"

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/"+key+".txt" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Write([]byte(key))
	}))
	defer ts.Close()

	v := newTestVerifier()
	outcome, err := v.Verify(context.Background(), ts.URL, key)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if outcome != OutcomeVerified {
		t.Errorf("outcome = %v, want %v", outcome, OutcomeVerified)
	}
}

func TestVerify_TrailingNewlineAccepted(t *testing.T) {
	const key = "aabbccddeeff00112233445566778899"

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(key + "\n"))
	}))
	defer ts.Close()

	v := newTestVerifier()
	outcome, err := v.Verify(context.Background(), ts.URL, key)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if outcome != OutcomeVerified {
		t.Errorf("outcome = %v, want %v (trailing newline should be trimmed)", outcome, OutcomeVerified)
	}
}

func TestVerify_Mismatch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("some-other-content"))
	}))
	defer ts.Close()

	v := newTestVerifier()
	outcome, err := v.Verify(context.Background(), ts.URL, "aabbccddeeff00112233445566778899")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if outcome != OutcomeMismatch {
		t.Errorf("outcome = %v, want %v", outcome, OutcomeMismatch)
	}
}

func TestVerify_NotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	v := newTestVerifier()
	outcome, err := v.Verify(context.Background(), ts.URL, "aabbccddeeff00112233445566778899")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if outcome != OutcomeNotFound {
		t.Errorf("outcome = %v, want %v", outcome, OutcomeNotFound)
	}
}

func TestVerify_ServerError_IsNetworkError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	v := newTestVerifier()
	outcome, err := v.Verify(context.Background(), ts.URL, "aabbccddeeff00112233445566778899")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if outcome != OutcomeNetworkError {
		t.Errorf("outcome = %v, want %v", outcome, OutcomeNetworkError)
	}
}

func TestVerify_UnreachableHost_IsNetworkError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := ts.URL
	ts.Close() // サーバーを閉じて接続エラーを発生させる

	v := newTestVerifier()
	outcome, err := v.Verify(context.Background(), url, "aabbccddeeff00112233445566778899")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if outcome != OutcomeNetworkError {
		t.Errorf("outcome = %v, want %v", outcome, OutcomeNetworkError)
	}
}

func TestVerify_LargeResponseTruncated(t *testing.T) {
	const key = "aabbccddeeff00112233445566778899"

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// maxSizeを超える巨大なレスポンス
		body := make([]byte, 128*1024)
		for i := range body {
			body[i] = 'x'
		}
		w.Write(body)
	}))
	defer ts.Close()

	client := &http.Client{Timeout: 5 * time.Second}
	v := NewKeyFileVerifier(client, 1024)
	outcome, err := v.Verify(context.Background(), ts.URL, key)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if outcome != OutcomeMismatch {
		t.Errorf("outcome = %v, want %v", outcome, OutcomeMismatch)
	}
}

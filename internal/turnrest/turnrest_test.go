package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestGenerate(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	g, err := NewGenerator(GeneratorConfig{
		SharedSecret:   "shared",
		TTLSeconds:     600,
		UsernamePrefix: "roomrelay",
		Now:            func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	creds, err := g.Generate("conn123")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	wantExpiry := now.UTC().Unix() + 600
	if creds.ExpiryUnix != wantExpiry {
		t.Fatalf("expiry=%d, want %d", creds.ExpiryUnix, wantExpiry)
	}
	wantUsername := fmt.Sprintf("%d:roomrelay:conn123", wantExpiry)
	if creds.Username != wantUsername {
		t.Fatalf("username=%q, want %q", creds.Username, wantUsername)
	}

	mac := hmac.New(sha1.New, []byte("shared"))
	mac.Write([]byte(wantUsername))
	wantCred := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	if creds.Credential != wantCred {
		t.Fatalf("credential=%q, want %q", creds.Credential, wantCred)
	}
}

func TestGenerateRejectsColonID(t *testing.T) {
	g, err := NewGenerator(GeneratorConfig{SharedSecret: "s", TTLSeconds: 60, UsernamePrefix: "p"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := g.Generate("a:b"); err == nil {
		t.Fatalf("expected error for colon in id")
	}
	if _, err := g.Generate(""); err == nil {
		t.Fatalf("expected error for empty id")
	}
}

func TestGenerateRandomUsesIDSource(t *testing.T) {
	g, err := NewGenerator(GeneratorConfig{
		SharedSecret:   "s",
		TTLSeconds:     60,
		UsernamePrefix: "p",
		IDSource:       func() (string, error) { return "fixed", nil },
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	creds, err := g.GenerateRandom()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.HasSuffix(creds.Username, ":p:fixed") {
		t.Fatalf("username=%q", creds.Username)
	}
}

func TestNewGeneratorValidation(t *testing.T) {
	for _, cfg := range []GeneratorConfig{
		{TTLSeconds: 60, UsernamePrefix: "p"},
		{SharedSecret: "s", UsernamePrefix: "p"},
		{SharedSecret: "s", TTLSeconds: 60},
		{SharedSecret: "s", TTLSeconds: 60, UsernamePrefix: "a:b"},
	} {
		if _, err := NewGenerator(cfg); err == nil {
			t.Fatalf("expected error for %+v", cfg)
		}
	}
}

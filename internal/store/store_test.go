package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "creds.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	older := Credential{
		PortalURL: "http://portal-a.example.com",
		MAC:       "00:1A:79:00:00:01",
		Status:    "active",
		ExpiresAt: "2026-12-31",
		FoundAt:   time.Now().UTC().Add(-time.Hour),
	}
	newer := Credential{
		PortalURL: "http://portal-a.example.com",
		MAC:       "00:1A:79:00:00:02",
		Status:    "unlimited",
	}
	other := Credential{PortalURL: "http://portal-b.example.com", MAC: "00:1A:79:00:00:03"}
	for _, c := range []Credential{older, newer, other} {
		if err := s.Save(ctx, c); err != nil {
			t.Fatalf("Save(%s): %v", c.MAC, err)
		}
	}

	got, err := s.ByPortal(ctx, "http://portal-a.example.com")
	if err != nil {
		t.Fatalf("ByPortal: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d credentials, want 2", len(got))
	}
	if got[0].MAC != newer.MAC {
		t.Errorf("first = %q, want newest %q", got[0].MAC, newer.MAC)
	}
	if got[1].Status != "active" || got[1].ExpiresAt != "2026-12-31" {
		t.Errorf("older row = %+v", got[1])
	}
}

func TestSaveReplacesEarlierResult(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c := Credential{PortalURL: "http://portal.example.com", MAC: "00:1A:79:11:22:33", Status: "active"}
	if err := s.Save(ctx, c); err != nil {
		t.Fatalf("Save: %v", err)
	}
	c.Status = "expired"
	if err := s.Save(ctx, c); err != nil {
		t.Fatalf("Save again: %v", err)
	}

	got, err := s.ByPortal(ctx, c.PortalURL)
	if err != nil {
		t.Fatalf("ByPortal: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d rows, want 1", len(got))
	}
	if got[0].Status != "expired" {
		t.Errorf("Status = %q, want expired", got[0].Status)
	}
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c := Credential{PortalURL: "http://portal.example.com", MAC: "00:1A:79:11:22:33"}
	if err := s.Save(ctx, c); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Delete(ctx, c.PortalURL, c.MAC); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	got, err := s.ByPortal(ctx, c.PortalURL)
	if err != nil {
		t.Fatalf("ByPortal: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d rows after delete", len(got))
	}
}

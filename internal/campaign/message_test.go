package campaign

import (
	"strings"
	"testing"

	"github.com/disparo-io/disparo/internal/db"
)

func TestBuildMessagePlaceholders(t *testing.T) {
	contact := &db.ContactListItem{
		Name:   "Maria",
		Email:  "maria@example.com",
		Number: "5511999990000",
	}

	got := BuildMessage("Oi {nome} ({email}, {numero})", contact, nil)
	want := "Oi Maria (maria@example.com, 5511999990000)"
	if got != want {
		t.Fatalf("BuildMessage = %q, want %q", got, want)
	}
}

func TestBuildMessageTenantVariables(t *testing.T) {
	contact := &db.ContactListItem{Name: "Maria"}
	vars := []Variable{
		{Key: "empresa", Value: "Acme"},
		{Key: "promo", Value: "10% off"},
	}

	got := BuildMessage("{nome}: {promo} na {empresa}", contact, vars)
	if got != "Maria: 10% off na Acme" {
		t.Fatalf("BuildMessage = %q", got)
	}
}

func TestBuildMessageUnknownTokenPassesThrough(t *testing.T) {
	contact := &db.ContactListItem{Name: "Maria"}

	got := BuildMessage("{nome} {desconhecido}", contact, nil)
	if got != "Maria {desconhecido}" {
		t.Fatalf("BuildMessage = %q", got)
	}
}

func TestMarkerPrefixBytes(t *testing.T) {
	// Zero-width non-joiner followed by a plain space, byte for byte.
	want := []byte{0xe2, 0x80, 0x8c, 0x20}
	if got := []byte(MarkerPrefix); string(got) != string(want) {
		t.Fatalf("MarkerPrefix bytes = % x, want % x", got, want)
	}
	if !strings.HasPrefix(MarkerPrefix+"hello", "‌ ") {
		t.Fatal("marker prefix lost")
	}
}

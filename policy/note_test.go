package policy

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNote_NewDrawsFreshSalt(t *testing.T) {
	a, err := NewNote("pool-a", u(1), u(42))
	if err != nil {
		t.Fatalf("NewNote: %v", err)
	}
	b, _ := NewNote("pool-a", u(1), u(42))
	if a.Salt.Equal(&b.Salt) {
		t.Fatal("two notes share a salt")
	}
	ca, cb := a.Commitment(), b.Commitment()
	if ca.Equal(&cb) {
		t.Fatal("same policy with different salts should commit differently")
	}
	if a.Registered {
		t.Fatal("new note should not have a leaf index yet")
	}
}

func TestNote_DerivationsMatchScheme(t *testing.T) {
	n := &Note{PolicyID: u(1), PassengerHash: u(42), Salt: u(12345)}
	c := Commitment(u(1), u(42), u(12345))
	nh := NullifierHash(Nullifier(c, u(12345)))
	got := n.NullifierHash()
	if !got.Equal(&nh) {
		t.Fatal("note nullifier hash disagrees with the scheme")
	}
}

func TestNote_JSONRoundTrip(t *testing.T) {
	n, _ := NewNote("pool-a", u(7), u(42))
	n.SetIndex(3)
	data, err := json.Marshal(n)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(data), `"leafIndex":3`) {
		t.Fatalf("leaf index missing from %s", data)
	}
	var back Note
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back.PoolID != "pool-a" || !back.Registered || back.LeafIndex != 3 {
		t.Fatalf("metadata lost: %+v", back)
	}
	if !back.Salt.Equal(&n.Salt) || !back.PolicyID.Equal(&n.PolicyID) {
		t.Fatal("field elements changed in round trip")
	}
}

func TestNote_UnmarshalRejectsTamperedCommitment(t *testing.T) {
	n := &Note{PoolID: "p", PolicyID: u(1), PassengerHash: u(42), Salt: u(12345)}
	data, _ := json.Marshal(n)
	var raw map[string]any
	json.Unmarshal(data, &raw)
	raw["salt"] = "0x01"
	tampered, _ := json.Marshal(raw)

	var back Note
	if err := json.Unmarshal(tampered, &back); !errors.Is(err, ErrNoteMismatch) {
		t.Fatalf("expected ErrNoteMismatch, got %v", err)
	}
	if err := json.Unmarshal([]byte(`{"poolId":"p"}`), &back); !errors.Is(err, ErrNoteIncomplete) {
		t.Fatalf("expected ErrNoteIncomplete, got %v", err)
	}
}

func TestNote_FileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.json")
	n, _ := NewNote("pool-b", u(9), u(10))
	if err := WriteNoteFile(path, n); err != nil {
		t.Fatalf("WriteNoteFile: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != NoteFileMode {
		t.Fatalf("note file mode %v, want %v", info.Mode().Perm(), os.FileMode(NoteFileMode))
	}
	back, err := ReadNoteFile(path)
	if err != nil {
		t.Fatalf("ReadNoteFile: %v", err)
	}
	c1, c2 := n.Commitment(), back.Commitment()
	if !c1.Equal(&c2) {
		t.Fatal("commitment changed after file round trip")
	}
}

func TestNote_WriteTightensExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.json")
	if err := os.WriteFile(path, []byte("{}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(path, 0o644); err != nil {
		t.Fatal(err)
	}
	n, _ := NewNote("pool-b", u(9), u(10))
	if err := WriteNoteFile(path, n); err != nil {
		t.Fatalf("WriteNoteFile: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != NoteFileMode {
		t.Fatalf("overwritten note mode %v, want %v", info.Mode().Perm(), os.FileMode(NoteFileMode))
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("%d files left in note dir", len(entries))
	}
	if _, err := ReadNoteFile(path); err != nil {
		t.Fatalf("ReadNoteFile: %v", err)
	}
}

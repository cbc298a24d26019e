package policy

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/flightshield/flightshield/crypto"
)

// NoteFileMode is the permission used for note files. Notes hold the salt.
const NoteFileMode = 0o600

// Note decoding errors.
var (
	ErrNoteIncomplete = errors.New("policy: note is incomplete")
	ErrNoteMismatch   = errors.New("policy: note commitment does not match its opening")
)

// Note is the claimant's secret material for one policy. Losing the salt
// makes the policy unclaimable.
type Note struct {
	PoolID        string
	PolicyID      fr.Element
	PassengerHash fr.Element
	Salt          fr.Element
	LeafIndex     uint64
	Registered    bool
}

// NewNote creates a note with a fresh random salt.
func NewNote(poolID string, policyID, passengerHash fr.Element) (*Note, error) {
	salt, err := crypto.RandomField()
	if err != nil {
		return nil, err
	}
	return &Note{
		PoolID:        poolID,
		PolicyID:      policyID,
		PassengerHash: passengerHash,
		Salt:          salt,
	}, nil
}

// Commitment returns the note's accumulator leaf.
func (n *Note) Commitment() fr.Element {
	return Commitment(n.PolicyID, n.PassengerHash, n.Salt)
}

// Nullifier returns the note's nullifier.
func (n *Note) Nullifier() fr.Element {
	return Nullifier(n.Commitment(), n.Salt)
}

// NullifierHash returns the value revealed when the note is claimed.
func (n *Note) NullifierHash() fr.Element {
	return NullifierHash(n.Nullifier())
}

// SetIndex records the leaf index assigned at purchase time.
func (n *Note) SetIndex(index uint64) {
	n.LeafIndex = index
	n.Registered = true
}

type noteJSON struct {
	PoolID        string  `json:"poolId"`
	PolicyID      string  `json:"policyId"`
	PassengerHash string  `json:"passengerHash"`
	Salt          string  `json:"salt"`
	LeafIndex     *uint64 `json:"leafIndex,omitempty"`
	Commitment    string  `json:"commitment"`
}

// MarshalJSON writes field elements as bytes32 hex. The commitment is
// included so a note can be checked against the tree without recomputing.
func (n Note) MarshalJSON() ([]byte, error) {
	enc := noteJSON{
		PoolID:        n.PoolID,
		PolicyID:      crypto.FieldHex(n.PolicyID),
		PassengerHash: crypto.FieldHex(n.PassengerHash),
		Salt:          crypto.FieldHex(n.Salt),
		Commitment:    crypto.FieldHex(n.Commitment()),
	}
	if n.Registered {
		idx := n.LeafIndex
		enc.LeafIndex = &idx
	}
	return json.Marshal(enc)
}

// UnmarshalJSON reads a note and checks the stored commitment, if any,
// against the recomputed one.
func (n *Note) UnmarshalJSON(data []byte) error {
	var dec noteJSON
	if err := json.Unmarshal(data, &dec); err != nil {
		return err
	}
	if dec.PolicyID == "" || dec.PassengerHash == "" || dec.Salt == "" {
		return ErrNoteIncomplete
	}
	var out Note
	out.PoolID = dec.PoolID
	fields := []struct {
		name string
		src  string
		dst  *fr.Element
	}{
		{"policyId", dec.PolicyID, &out.PolicyID},
		{"passengerHash", dec.PassengerHash, &out.PassengerHash},
		{"salt", dec.Salt, &out.Salt},
	}
	for _, f := range fields {
		e, err := crypto.FieldFromHex(f.src)
		if err != nil {
			return fmt.Errorf("policy: note %s: %w", f.name, err)
		}
		*f.dst = e
	}
	if dec.LeafIndex != nil {
		out.SetIndex(*dec.LeafIndex)
	}
	if dec.Commitment != "" {
		want, err := crypto.FieldFromHex(dec.Commitment)
		if err != nil {
			return fmt.Errorf("policy: note commitment: %w", err)
		}
		got := out.Commitment()
		if !got.Equal(&want) {
			return ErrNoteMismatch
		}
	}
	*n = out
	return nil
}

// WriteNoteFile stores a note as indented JSON, readable only by the owner.
// The note is written to a temporary file and renamed over path, so an
// existing file is replaced with NoteFileMode whatever its old mode was.
func WriteNoteFile(path string, n *Note) error {
	data, err := json.MarshalIndent(n, "", "  ")
	if err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(path), ".note-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if err := f.Chmod(NoteFileMode); err != nil {
		f.Close()
		return err
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ReadNoteFile loads a note written by WriteNoteFile.
func ReadNoteFile(path string) (*Note, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	n := new(Note)
	if err := json.Unmarshal(data, n); err != nil {
		return nil, fmt.Errorf("policy: read note %s: %w", path, err)
	}
	return n, nil
}

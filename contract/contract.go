// Package contract models a contract's ABI as an ordered document, the way
// explorer APIs serve it: a JSON array of function and event descriptions.
package contract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Param describes a single input or output of an ABI entry.
type Param struct {
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	Components []Param `json:"components,omitempty"`
	Indexed    bool    `json:"indexed,omitempty"`
}

// Entry is one element of an ABI document: a function, event, constructor,
// fallback, receive or error description.
type Entry struct {
	Type            string  `json:"type"`
	Name            string  `json:"name,omitempty"`
	Inputs          []Param `json:"inputs,omitempty"`
	Outputs         []Param `json:"outputs,omitempty"`
	StateMutability string  `json:"stateMutability,omitempty"`
	Anonymous       bool    `json:"anonymous,omitempty"`
}

// Document is a parsed ABI. Entries keep the order they had on the wire.
// A Document is immutable once returned from Parse.
type Document struct {
	entries []Entry
	raw     string
}

// Parse decodes an ABI JSON array into a Document. The input is also run
// through go-ethereum's ABI parser, so entries with malformed type strings
// are rejected here rather than surfacing later.
func Parse(data []byte) (*Document, error) {
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode ABI entries: %w", err)
	}

	if _, err := abi.JSON(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("invalid ABI: %w", err)
	}

	return &Document{entries: entries, raw: string(data)}, nil
}

// Entries returns all entries in wire order.
func (d *Document) Entries() []Entry {
	out := make([]Entry, len(d.entries))
	copy(out, d.entries)
	return out
}

// Events returns the event entries in wire order.
func (d *Document) Events() []Entry {
	return d.filter("event")
}

// Functions returns the function entries in wire order.
func (d *Document) Functions() []Entry {
	return d.filter("function")
}

func (d *Document) filter(entryType string) []Entry {
	var out []Entry
	for _, e := range d.entries {
		if e.Type == entryType {
			out = append(out, e)
		}
	}
	return out
}

// Raw returns the ABI JSON exactly as it was parsed.
func (d *Document) Raw() string {
	return d.raw
}

// Signature returns the canonical signature of the entry, e.g.
// "Transfer(address,address,uint256)". Tuple parameters are expanded into
// their component types.
func (e Entry) Signature() string {
	types := make([]string, len(e.Inputs))
	for i, in := range e.Inputs {
		types[i] = in.canonicalType()
	}
	return e.Name + "(" + strings.Join(types, ",") + ")"
}

// ID returns the keccak256 hash of the canonical signature. For events this
// is the topic0 value; for functions the first four bytes are the call
// selector.
func (e Entry) ID() common.Hash {
	return crypto.Keccak256Hash([]byte(e.Signature()))
}

func (p Param) canonicalType() string {
	if !strings.HasPrefix(p.Type, "tuple") {
		return p.Type
	}
	comps := make([]string, len(p.Components))
	for i, c := range p.Components {
		comps[i] = c.canonicalType()
	}
	// Keep any array suffix, e.g. tuple[2] -> (...)[2].
	return "(" + strings.Join(comps, ",") + ")" + strings.TrimPrefix(p.Type, "tuple")
}

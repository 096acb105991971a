package graph

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// EncodeVisitCounts renders the visit ledger as "from->to:count;" entries
// sorted by edge id.
func (g *Graph) EncodeVisitCounts() string {
	var b strings.Builder
	for _, id := range g.Edges() {
		b.WriteString(string(id))
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(g.visits[id]))
		b.WriteByte(';')
	}
	return b.String()
}

// DecodeVisitCounts parses the output of EncodeVisitCounts.
func DecodeVisitCounts(s string) (map[EdgeID]int, error) {
	out := make(map[EdgeID]int)
	for _, entry := range strings.Split(s, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		i := strings.LastIndexByte(entry, ':')
		if i <= 0 {
			return nil, fmt.Errorf("DecodeVisitCounts: malformed entry %q", entry)
		}
		n, err := strconv.Atoi(entry[i+1:])
		if err != nil {
			return nil, fmt.Errorf("DecodeVisitCounts: entry %q: %w", entry, err)
		}
		if n < 0 {
			return nil, fmt.Errorf("DecodeVisitCounts: negative count in %q", entry)
		}
		out[EdgeID(entry[:i])] = n
	}
	return out, nil
}

// MergeVisitCounts folds a peer's ledger into the local one by keeping the
// larger count per edge. Edges not declared locally are ignored and visit
// timestamps are left untouched. It returns the number of edges raised.
func (g *Graph) MergeVisitCounts(peer map[EdgeID]int) int {
	ids := make([]EdgeID, 0, len(peer))
	for id := range peer {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	raised := 0
	for _, id := range ids {
		local, ok := g.visits[id]
		if !ok {
			continue
		}
		if c := peer[id]; c > local {
			g.visits[id] = c
			raised++
		}
	}
	return raised
}

// MergeEncoded decodes a text ledger and merges it.
func (g *Graph) MergeEncoded(s string) (int, error) {
	peer, err := DecodeVisitCounts(s)
	if err != nil {
		return 0, err
	}
	return g.MergeVisitCounts(peer), nil
}

// visitPayload is the binary exchange form.
type visitPayload struct {
	Source string         `msgpack:"source"`
	Counts map[string]int `msgpack:"counts"`
}

// MarshalVisitCounts encodes the ledger with msgpack, tagged with the
// sending agent's id.
func (g *Graph) MarshalVisitCounts(source string) ([]byte, error) {
	p := visitPayload{Source: source, Counts: make(map[string]int, len(g.visits))}
	for id, c := range g.visits {
		p.Counts[string(id)] = c
	}
	return msgpack.Marshal(&p)
}

// UnmarshalVisitCounts decodes a payload produced by MarshalVisitCounts.
func UnmarshalVisitCounts(b []byte) (source string, counts map[EdgeID]int, err error) {
	var p visitPayload
	if err := msgpack.Unmarshal(b, &p); err != nil {
		return "", nil, fmt.Errorf("UnmarshalVisitCounts: %w", err)
	}
	counts = make(map[EdgeID]int, len(p.Counts))
	for id, c := range p.Counts {
		counts[EdgeID(id)] = c
	}
	return p.Source, counts, nil
}

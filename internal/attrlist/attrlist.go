// Package attrlist implements the ordered attribute-list encoding used by
// every token kind: a sequence of short name/value pairs, serialized as
// name=value; with ';' escaped by doubling inside values.
package attrlist

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// List is an ordered sequence of named byte-string attributes. Duplicate
// names are permitted; Find returns the first match.
type List struct {
	names  []string
	values [][]byte
}

// New returns an empty list. cap is a hint for the expected attribute count.
func New(cap int) *List {
	return &List{
		names:  make([]string, 0, cap),
		values: make([][]byte, 0, cap),
	}
}

// Add appends a raw byte-string attribute.
func (l *List) Add(name string, value []byte) {
	l.names = append(l.names, name)
	l.values = append(l.values, value)
}

// AddStr appends a string attribute.
func (l *List) AddStr(name, value string) {
	l.Add(name, []byte(value))
}

// AddTime appends a time attribute encoded as a fixed-width 10-digit decimal
// unix timestamp.
func (l *List) AddTime(name string, t time.Time) {
	l.AddStr(name, fmt.Sprintf("%010d", t.Unix()))
}

// Find returns the index of the first attribute named name, or -1.
func (l *List) Find(name string) int {
	for i, n := range l.names {
		if n == name {
			return i
		}
	}
	return -1
}

// Get returns the raw value at index i.
func (l *List) Get(i int) []byte {
	return l.values[i]
}

// GetStr returns the first value named name as a string.
func (l *List) GetStr(name string) (string, bool) {
	i := l.Find(name)
	if i < 0 {
		return "", false
	}
	return string(l.values[i]), true
}

// GetTime returns the first value named name parsed as a 10-digit decimal
// unix timestamp.
func (l *List) GetTime(name string) (time.Time, bool) {
	s, ok := l.GetStr(name)
	if !ok {
		return time.Time{}, false
	}
	sec, err := strconv.ParseInt(strings.TrimLeft(s, "0"), 10, 64)
	if err != nil {
		if s == strings.Repeat("0", len(s)) {
			return time.Unix(0, 0).UTC(), true
		}
		return time.Time{}, false
	}
	return time.Unix(sec, 0).UTC(), true
}

// Len returns the number of attributes, including duplicates.
func (l *List) Len() int {
	return len(l.names)
}

// Encode renders the list in order as name=value; with ';' doubled inside
// values and returns the bytes.
func (l *List) Encode() []byte {
	var b strings.Builder
	b.Grow(l.EncodedLength())
	for i, name := range l.names {
		b.WriteString(name)
		b.WriteByte('=')
		b.Write(escape(l.values[i]))
		b.WriteByte(';')
	}
	return []byte(b.String())
}

// EncodedLength returns the exact length Encode will produce, so callers can
// size output buffers deterministically.
func (l *List) EncodedLength() int {
	n := 0
	for i, name := range l.names {
		n += len(name) + 1 // name '='
		n += len(escape(l.values[i]))
		n += 1 // ';'
	}
	return n
}

func escape(v []byte) []byte {
	count := 0
	for _, c := range v {
		if c == ';' {
			count++
		}
	}
	if count == 0 {
		return v
	}
	out := make([]byte, 0, len(v)+count)
	for _, c := range v {
		out = append(out, c)
		if c == ';' {
			out = append(out, ';')
		}
	}
	return out
}

// Decode parses a buffer produced by Encode. First occurrence wins for
// subsequent Find/GetStr/GetTime lookups; order is preserved for iteration.
func Decode(buf []byte) (*List, error) {
	l := New(8)
	i := 0
	for i < len(buf) {
		eq := indexByte(buf[i:], '=')
		if eq < 0 {
			return nil, fmt.Errorf("attrlist: malformed entry, missing '='")
		}
		name := string(buf[i : i+eq])
		i += eq + 1

		var val []byte
		for i < len(buf) {
			semi := indexByte(buf[i:], ';')
			if semi < 0 {
				return nil, fmt.Errorf("attrlist: malformed entry, missing terminating ';'")
			}
			val = append(val, buf[i:i+semi]...)
			i += semi + 1
			if i < len(buf) && buf[i] == ';' {
				// escaped ';' inside the value: keep one, consume the doubled byte
				val = append(val, ';')
				i++
				continue
			}
			break
		}
		l.Add(name, val)
	}
	return l, nil
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}

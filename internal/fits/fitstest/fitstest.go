// Package fitstest writes minimal FITS files for tests.
package fitstest

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const block = 2880

// Card is one extra header keyword. String values are quoted automatically.
type Card struct {
	Key   string
	Value any
}

// Write creates an 8-bit FITS image at path with the given axes and extra cards.
func Write(t testing.TB, path string, axes []int, cards ...Card) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, Encode(axes, cards...), 0o644); err != nil {
		t.Fatal(err)
	}
}

// Light writes a 2x2 mono frame with EXPTIME set.
func Light(t testing.TB, path string, exptime float64) {
	t.Helper()
	Write(t, path, []int{2, 2}, Card{"EXPTIME", exptime})
}

// Encode renders the file bytes.
func Encode(axes []int, cards ...Card) []byte {
	var hdr bytes.Buffer
	put := func(key string, v any) {
		var line string
		switch x := v.(type) {
		case string:
			line = fmt.Sprintf("%-8s= %-20s", key, "'"+padQuoted(x)+"'")
		case bool:
			b := "F"
			if x {
				b = "T"
			}
			line = fmt.Sprintf("%-8s= %20s", key, b)
		case float64:
			line = fmt.Sprintf("%-8s= %20s", key, fmt.Sprintf("%.6f", x))
		default:
			line = fmt.Sprintf("%-8s= %20v", key, x)
		}
		hdr.WriteString(fmt.Sprintf("%-80s", line))
	}

	put("SIMPLE", true)
	put("BITPIX", 8)
	put("NAXIS", len(axes))
	for i, n := range axes {
		put(fmt.Sprintf("NAXIS%d", i+1), n)
	}
	for _, c := range cards {
		put(c.Key, c.Value)
	}
	hdr.WriteString(fmt.Sprintf("%-80s", "END"))
	pad(&hdr, ' ')

	size := 1
	for _, n := range axes {
		size *= n
	}
	if len(axes) == 0 {
		size = 0
	}
	data := bytes.NewBuffer(make([]byte, size))
	pad(data, 0)

	return append(hdr.Bytes(), data.Bytes()...)
}

func padQuoted(s string) string {
	if len(s) < 8 {
		s += strings.Repeat(" ", 8-len(s))
	}
	return s
}

func pad(b *bytes.Buffer, c byte) {
	if rem := b.Len() % block; rem != 0 {
		b.Write(bytes.Repeat([]byte{c}, block-rem))
	}
}

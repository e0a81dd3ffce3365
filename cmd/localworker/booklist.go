package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// entry is one line of a booklist: ref,title,author[,language].
type entry struct {
	Ref      string
	Title    string
	Author   string
	Language string
}

func (e entry) label() string {
	if e.Author == "" {
		return e.Title
	}
	return e.Title + " / " + e.Author
}

func readBooklist(path string) ([]entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseBooklist(f)
}

func parseBooklist(r io.Reader) ([]entry, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var out []entry
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("booklist line %d: %w", line, err)
		}
		if len(rec) == 0 || strings.TrimSpace(rec[0]) == "" {
			continue
		}
		e := entry{Ref: strings.TrimSpace(rec[0])}
		if len(rec) > 1 {
			e.Title = rec[1]
		}
		if len(rec) > 2 {
			e.Author = rec[2]
		}
		if len(rec) > 3 {
			e.Language = strings.TrimSpace(rec[3])
		}
		out = append(out, e)
	}
}

// scope keeps the entries named in refs, in refs order. Refs missing from
// the booklist are kept with no title so that they fail validation.
func scope(entries []entry, refs []string) []entry {
	if len(refs) == 0 {
		return entries
	}
	byRef := make(map[string]entry, len(entries))
	for _, e := range entries {
		if _, ok := byRef[e.Ref]; !ok {
			byRef[e.Ref] = e
		}
	}
	out := make([]entry, 0, len(refs))
	for _, ref := range refs {
		if e, ok := byRef[ref]; ok {
			out = append(out, e)
		} else {
			out = append(out, entry{Ref: ref})
		}
	}
	return out
}

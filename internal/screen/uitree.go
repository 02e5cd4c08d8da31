package screen

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/devicefleet/mitmcore/internal/domain"
)

// Rect is a node's bounding box in device pixels.
type Rect struct {
	X1, Y1, X2, Y2 int
}

// Center returns the midpoint of r.
func (r Rect) Center() domain.Point {
	return domain.Point{X: r.X1 + (r.X2-r.X1)/2, Y: r.Y1 + (r.Y2-r.Y1)/2}
}

// Node is one element of a UI automator dump.
type Node struct {
	ResourceID string
	Class      string
	Text       string
	Index      int
	Bounds     Rect
}

var boundsRe = regexp.MustCompile(`^\[(\d+),(\d+)\]\[(\d+),(\d+)\]$`)

func parseBounds(s string) (Rect, error) {
	if s == "" {
		return Rect{}, nil
	}
	m := boundsRe.FindStringSubmatch(s)
	if m == nil {
		return Rect{}, fmt.Errorf("bounds %q", s)
	}
	var v [4]int
	for i := range v {
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return Rect{}, fmt.Errorf("bounds %q: %w", s, err)
		}
		v[i] = n
	}
	return Rect{X1: v[0], Y1: v[1], X2: v[2], Y2: v[3]}, nil
}

// ParseUITree flattens every <node> of a dump in document order.
func ParseUITree(dump string) ([]Node, error) {
	dec := xml.NewDecoder(strings.NewReader(dump))
	var nodes []Node
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, domain.WrapEngineError(domain.ErrUITreeMalformed.Code, domain.ErrUITreeMalformed.Message, err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "node" {
			continue
		}
		n := Node{Index: -1}
		for _, attr := range start.Attr {
			switch attr.Name.Local {
			case "resource-id":
				n.ResourceID = attr.Value
			case "class":
				n.Class = attr.Value
			case "text":
				n.Text = attr.Value
			case "index":
				if i, err := strconv.Atoi(attr.Value); err == nil {
					n.Index = i
				}
			case "bounds":
				r, err := parseBounds(attr.Value)
				if err != nil {
					return nil, domain.WrapEngineError(domain.ErrUITreeMalformed.Code, domain.ErrUITreeMalformed.Message, err)
				}
				n.Bounds = r
			}
		}
		nodes = append(nodes, n)
	}
	if len(nodes) == 0 && strings.TrimSpace(dump) == "" {
		return nil, domain.ErrUIDump
	}
	return nodes, nil
}

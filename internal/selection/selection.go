// Package selection parses page lists such as "3,1-2,7-5".
//
// Positions are 1-based. A range may run backwards, in which case the
// pages are taken in descending order.
package selection

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// maxRangeLen bounds the expansion of a single range.
const maxRangeLen = 100000

var (
	selectionLexer = lexer.MustSimple([]lexer.SimpleRule{
		{Name: "Whitespace", Pattern: `[ \t\r\n]+`},
		{Name: "Int", Pattern: `\d+`},
		{Name: "Punct", Pattern: `[,-]`},
	})

	selectionParser = participle.MustBuild[List](
		participle.Lexer(selectionLexer),
		participle.Elide("Whitespace"),
	)
)

// List is a comma-separated sequence of items.
type List struct {
	Items []*Item `parser:"@@ ( ',' @@ )*"`
}

// Item is a single position or an inclusive range.
type Item struct {
	From int  `parser:"@Int"`
	To   *int `parser:"( '-' @Int )?"`
}

// Parse parses expr into 1-based positions, in the order written.
func Parse(expr string) ([]int, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, fmt.Errorf("empty page selection")
	}
	list, err := selectionParser.ParseString("", expr)
	if err != nil {
		return nil, fmt.Errorf("parse page selection: %w", err)
	}

	var out []int
	for _, it := range list.Items {
		to := it.From
		if it.To != nil {
			to = *it.To
		}
		if it.From < 1 || to < 1 {
			return nil, fmt.Errorf("page positions start at 1")
		}
		step := 1
		if to < it.From {
			step = -1
		}
		if (to-it.From)*step >= maxRangeLen {
			return nil, fmt.Errorf("range %d-%d is too long", it.From, to)
		}
		for p := it.From; ; p += step {
			out = append(out, p)
			if p == to {
				break
			}
		}
	}
	return out, nil
}

// Resolve maps positions onto ids, where ids[0] is position 1.
func Resolve(positions []int, ids []int) ([]int, error) {
	out := make([]int, 0, len(positions))
	for _, p := range positions {
		if p < 1 || p > len(ids) {
			return nil, fmt.Errorf("page %d out of range (1-%d)", p, len(ids))
		}
		out = append(out, ids[p-1])
	}
	return out, nil
}

package postgres

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/cpmoracle/internal/domain"
)

// pagedQuery appends time filters, a descending order and LIMIT/OFFSET to a
// SELECT that already has a WHERE clause. args holds the placeholders the
// base query uses.
func pagedQuery(base, timeCol string, args []any, opts domain.ListOpts) (string, []any) {
	var b strings.Builder
	b.WriteString(base)
	next := len(args) + 1

	if opts.Since != nil {
		fmt.Fprintf(&b, " AND %s >= $%d", timeCol, next)
		args = append(args, *opts.Since)
		next++
	}
	if opts.Until != nil {
		fmt.Fprintf(&b, " AND %s <= $%d", timeCol, next)
		args = append(args, *opts.Until)
		next++
	}

	fmt.Fprintf(&b, " ORDER BY %s DESC", timeCol)

	if opts.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT $%d", next)
		args = append(args, opts.Limit)
		next++
	}
	if opts.Offset > 0 {
		fmt.Fprintf(&b, " OFFSET $%d", next)
		args = append(args, opts.Offset)
	}
	return b.String(), args
}

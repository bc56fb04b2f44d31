package tools

import (
	"context"
	"fmt"

	"github.com/Arthur-Ziegler/tatake-backend-251020-sub001/internal/points"
)

type noArgs struct{}

type listTransactionsArgs struct {
	Limit  int `json:"limit,omitempty" jsonschema:"Maximum number of transactions to return (default 20, max 100)"`
	Offset int `json:"offset,omitempty" jsonschema:"Number of transactions to skip for paging"`
}

// RegisterPointsTools registers the read-only points tools backed by svc.
func RegisterPointsTools(r *Registry, svc points.Service) error {
	balance := Typed("get_points_balance",
		"Get the user's current points balance.",
		func(ctx context.Context, _ noArgs) Envelope {
			owner, denied := requireOwner(ctx)
			if denied != nil {
				return *denied
			}
			b, err := svc.Balance(ctx, owner)
			if err != nil {
				return Failf(CodePoints, "failed to get points balance: %v", err)
			}
			return OK(b, fmt.Sprintf("Balance is %s", formatPoints(b.Points)))
		})

	transactions := Typed("list_points_transactions",
		"List the user's points transactions, newest first. Negative amounts are spends.",
		func(ctx context.Context, args listTransactionsArgs) Envelope {
			owner, denied := requireOwner(ctx)
			if denied != nil {
				return *denied
			}
			limit := clampLimit(args.Limit)
			offset := max(args.Offset, 0)
			txs, err := svc.Transactions(ctx, owner, limit, offset)
			if err != nil {
				return Failf(CodePoints, "failed to list points transactions: %v", err)
			}
			return OK(map[string]any{
				"transactions": nonNil(txs),
				"count":        len(txs),
				"limit":        limit,
				"offset":       offset,
			}, fmt.Sprintf("Found %d transactions", len(txs)))
		})

	for _, t := range []*Tool{balance, transactions} {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// formatPoints renders n with thousands separators and a unit.
func formatPoints(n int64) string {
	sign := ""
	if n < 0 {
		sign = "-"
		n = -n
	}
	digits := fmt.Sprintf("%d", n)
	var out []byte
	for i, c := range []byte(digits) {
		if i > 0 && (len(digits)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, c)
	}
	unit := "points"
	if n == 1 {
		unit = "point"
	}
	return sign + string(out) + " " + unit
}

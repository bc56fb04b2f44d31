package tools

import (
	"context"
	"fmt"
)

// BatchFailure records one item that was not created.
type BatchFailure struct {
	Input any    `json:"input"`
	Error string `json:"error"`
}

// BatchResult reports per-item outcomes of a bulk operation.
// Total == SuccessCount + FailureCount == len(Created) + len(Failed).
type BatchResult[T any] struct {
	Created      []T            `json:"created"`
	Failed       []BatchFailure `json:"failed"`
	Total        int            `json:"total"`
	SuccessCount int            `json:"success_count"`
	FailureCount int            `json:"failure_count"`
}

// RunBatch validates each item's shape, executes the valid ones one by
// one and records every outcome. A failing or panicking item never stops
// its siblings. Zero items yield an empty result with non-nil slices.
func RunBatch[I, T any](
	ctx context.Context,
	items []I,
	validate func(I) error,
	execute func(context.Context, I) (T, error),
) BatchResult[T] {
	res := BatchResult[T]{
		Created: make([]T, 0, len(items)),
		Failed:  []BatchFailure{},
		Total:   len(items),
	}

	for _, item := range items {
		if validate != nil {
			if err := validate(item); err != nil {
				res.Failed = append(res.Failed, BatchFailure{Input: item, Error: "invalid item: " + err.Error()})
				continue
			}
		}
		if err := ctx.Err(); err != nil {
			res.Failed = append(res.Failed, BatchFailure{Input: item, Error: "not attempted: " + err.Error()})
			continue
		}

		created, err := runItem(ctx, item, execute)
		if err != nil {
			res.Failed = append(res.Failed, BatchFailure{Input: item, Error: err.Error()})
			continue
		}
		res.Created = append(res.Created, created)
	}

	res.SuccessCount = len(res.Created)
	res.FailureCount = len(res.Failed)
	return res
}

func runItem[I, T any](ctx context.Context, item I, execute func(context.Context, I) (T, error)) (out T, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("item failed unexpectedly: %v", p)
		}
	}()
	return execute(ctx, item)
}

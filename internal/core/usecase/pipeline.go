package usecase

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/essay-grading-pipeline/internal/core/ports"
	"github.com/kirillkom/essay-grading-pipeline/internal/observability/logging"
)

const (
	stageOCR        = "ocr"
	stageMatching   = "matching"
	stageCorrection = "correction"
	stageGrading    = "grading"
)

const (
	outcomeSucceeded = "succeeded"
	outcomeFailed    = "failed"
	outcomeSkipped   = "skipped"
)

type noopMetrics struct{}

func (noopMetrics) StageStarted(string)                        {}
func (noopMetrics) StageFinished(string, string, time.Duration) {}

func metricsOrNoop(m ports.PipelineMetrics) ports.PipelineMetrics {
	if m == nil {
		return noopMetrics{}
	}
	return m
}

// fanOut runs fn for every id with at most limit in flight. Items never
// cancel each other: fn reports its own failures and a panic in one item is
// recovered and handed to onPanic.
func fanOut(ctx context.Context, ids []int64, limit int, fn func(context.Context, int64), onPanic func(context.Context, int64, error)) {
	if limit <= 0 {
		limit = 1
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for _, id := range ids {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					err := fmt.Errorf("panic: %v", r)
					logging.FromContext(ctx).Error("pipeline_item_panic", "item_id", id, "error", err, "stack", string(debug.Stack()))
					if onPanic != nil {
						onPanic(ctx, id, err)
					}
				}
			}()
			fn(ctx, id)
			return nil
		})
	}
	_ = g.Wait()
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

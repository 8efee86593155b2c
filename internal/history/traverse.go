// Copyright 2025 Joseph Cumines
//
// Backward page traversal shared by the search and collection phases

package history

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// pageVisitor inspects one page of records and reports whether traversal
// should stop.
type pageVisitor func(page []MessageRecord) (stop bool)

// traversal is the outcome of a traverse call.
type traversal struct {
	// pages is the number of non-empty pages visited.
	pages int
	// exhausted is set when traversal ended because the start of history was
	// reached rather than because the visitor stopped it.
	exhausted bool
}

// traverse reads the current page, hands it to visit, then scrolls one page
// back and repeats until visit stops it, the region yields an empty page, or
// the viewport does not move.
//
// A read error is logged and treated as an empty page. A failed scroll is
// logged and treated as the start of history. Consecutive pages with the same
// content are visited like any other.
func (s *Scraper) traverse(ctx context.Context, region Region, phase Phase, visit pageVisitor) (traversal, error) {
	var result traversal
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		page, err := ReadPage(ctx, region)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return result, ctxErr
			}
			s.logger.Warn("failed to read page, treating as end of history",
				zap.Stringer("phase", phase), zap.Int("page", result.pages), zap.Error(err))
			page = nil
		}

		if len(page) == 0 {
			result.exhausted = true
			return result, nil
		}

		result.pages++
		if s.onPage != nil {
			s.onPage(phase, len(page))
		}

		if visit(page) {
			return result, nil
		}

		moved, err := region.ScrollBack(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return result, ctxErr
			}
			s.logger.Warn("failed to scroll back, treating as start of history",
				zap.Stringer("phase", phase), zap.Int("page", result.pages), zap.Error(err))
		}
		if !moved {
			result.exhausted = true
			return result, nil
		}
		if err := pause(ctx, s.scrollDelay); err != nil {
			return result, err
		}

		if s.progressEvery > 0 && result.pages%s.progressEvery == 0 {
			s.logger.Info("still scrolling through history",
				zap.Stringer("phase", phase), zap.Int("pages", result.pages))
		}
	}
}

// pause waits d for the UI to render, returning early if ctx is done.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Copyright 2025 Joseph Cumines
//
// Date-bounded chat history scraping

package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Phase is the stage a scrape session is in.
type Phase int

const (
	PhaseSearching Phase = iota
	PhaseCollecting
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseSearching:
		return "searching"
	case PhaseCollecting:
		return "collecting"
	case PhaseDone:
		return "done"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// DefaultScrollDelay is the pause after each scroll that lets the UI render.
const DefaultScrollDelay = 10 * time.Millisecond

// defaultProgressEvery is how many pages pass between progress log lines.
const defaultProgressEvery = 10

// Session is the state of one scrape. It lives for a single call.
type Session struct {
	ID     string
	Target Date
	Phase  Phase
	// Collected holds the target date's messages, newest first.
	Collected []MessageRecord
	// SearchPages and CollectPages count the non-empty pages read per phase.
	SearchPages  int
	CollectPages int
	// Found reports whether the target date was located.
	Found bool
}

// Scraper locates and collects every message of one calendar date from a
// chat history region.
//
// A Scraper is safe to reuse, but a region must not be scraped concurrently:
// it has a single scroll position.
type Scraper struct {
	logger        *zap.Logger
	now           func() time.Time
	onPage        func(phase Phase, records int)
	scrollDelay   time.Duration
	progressEvery int
}

// Option configures a Scraper.
type Option func(*Scraper)

// WithScrollDelay sets the pause after each scroll.
func WithScrollDelay(d time.Duration) Option {
	return func(s *Scraper) { s.scrollDelay = d }
}

// WithClock sets the source of "today" used to resolve relative timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Scraper) { s.now = now }
}

// WithPageHook registers a function called for every non-empty page read.
func WithPageHook(fn func(phase Phase, records int)) Option {
	return func(s *Scraper) { s.onPage = fn }
}

// WithProgressEvery sets how many pages pass between progress log lines.
// Zero disables them.
func WithProgressEvery(n int) Option {
	return func(s *Scraper) { s.progressEvery = n }
}

// NewScraper returns a Scraper. A nil logger discards logs.
func NewScraper(logger *zap.Logger, opts ...Option) *Scraper {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scraper{
		logger:        logger,
		now:           time.Now,
		scrollDelay:   DefaultScrollDelay,
		progressEvery: defaultProgressEvery,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scrape runs the search phase and, if the target date was found, the
// collection phase. The returned session is valid even when the context ends
// the scrape early, in which case the context error is also returned.
func (s *Scraper) Scrape(ctx context.Context, region Region, target Date) (*Session, error) {
	sess := &Session{
		ID:     uuid.NewString(),
		Target: target,
		Phase:  PhaseSearching,
	}
	today := DateOf(s.now())
	logger := s.logger.With(zap.String("session", sess.ID), zap.Stringer("target", target))

	logger.Info("searching for target date")
	found, err := s.search(ctx, region, sess, today, logger)
	if err != nil {
		return sess, err
	}
	if !found {
		sess.Phase = PhaseDone
		logger.Warn("no messages found for target date", zap.Int("pages", sess.SearchPages))
		return sess, nil
	}

	sess.Found = true
	sess.Phase = PhaseCollecting
	logger.Info("collecting messages for target date")
	if err := s.collect(ctx, region, sess, today, logger); err != nil {
		return sess, err
	}
	sess.Phase = PhaseDone

	logger.Info("collected messages for target date",
		zap.Int("messages", len(sess.Collected)),
		zap.Int("search_pages", sess.SearchPages),
		zap.Int("collect_pages", sess.CollectPages))
	return sess, nil
}

// search scrolls back until a page holds a message of the target date, or a
// message older than it, or history runs out.
func (s *Scraper) search(ctx context.Context, region Region, sess *Session, today Date, logger *zap.Logger) (bool, error) {
	var found, earlier bool
	result, err := s.traverse(ctx, region, PhaseSearching, func(page []MessageRecord) bool {
		// newest first: the first dated record decides the page
		for i := len(page) - 1; i >= 0; i-- {
			d, ok := s.resolve(page[i], today, logger)
			if !ok {
				continue
			}
			if d == sess.Target {
				found = true
				return true
			}
			if d.Before(sess.Target) {
				earlier = true
				return true
			}
		}
		return false
	})
	sess.SearchPages = result.pages
	if err != nil {
		return false, err
	}
	if earlier {
		logger.Info("passed the target date without a match")
	} else if result.exhausted {
		logger.Info("reached the start of history without a match")
	}
	return found, nil
}

// collect rescans from the most recent message, accumulating every message of
// the target date until a page shows only older messages.
func (s *Scraper) collect(ctx context.Context, region Region, sess *Session, today Date, logger *zap.Logger) error {
	if err := region.ScrollToEnd(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		// the search left the viewport on the newest page holding the target
		logger.Warn("failed to scroll to end, collecting from current position", zap.Error(err))
	}

	var seen bool
	result, err := s.traverse(ctx, region, PhaseCollecting, func(page []MessageRecord) bool {
		var pageHasTarget, pageHasEarlier bool
		for i := len(page) - 1; i >= 0; i-- {
			d, ok := s.resolve(page[i], today, logger)
			if !ok {
				continue
			}
			switch {
			case d == sess.Target:
				seen = true
				pageHasTarget = true
				sess.Collected = append(sess.Collected, page[i])
			case seen && d.Before(sess.Target):
				pageHasEarlier = true
			}
		}
		return seen && !pageHasTarget && pageHasEarlier
	})
	sess.CollectPages = result.pages
	if err != nil {
		return err
	}
	if result.exhausted {
		logger.Info("reached the start of history while collecting")
	}
	return nil
}

func (s *Scraper) resolve(rec MessageRecord, today Date, logger *zap.Logger) (Date, bool) {
	d, ok := ResolveTimestamp(rec.TimestampText, today)
	if !ok {
		logger.Debug("unrecognized timestamp, skipping date check",
			zap.String("timestamp", rec.TimestampText), zap.String("sender", rec.Sender))
	}
	return d, ok
}

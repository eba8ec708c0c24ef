package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dyluth/hitmap/internal/runstate"
	"github.com/redis/go-redis/v9"
)

// MinShortIDLength is the minimum required length for run ID prefixes.
const MinShortIDLength = 6

// RunLookup is the part of the run registry needed to resolve IDs.
type RunLookup interface {
	Get(ctx context.Context, runID string) (runstate.Marker, error)
	MatchPrefix(ctx context.Context, prefix string) ([]string, error)
}

// ResolveRunID resolves a run ID prefix to a full run ID.
//
// A full UUID is checked for existence and returned as-is. Anything else must be
// at least MinShortIDLength characters and match exactly one recorded run.
func ResolveRunID(ctx context.Context, runs RunLookup, shortID string) (string, error) {
	if len(shortID) == 36 && strings.Count(shortID, "-") == 4 {
		if _, err := runs.Get(ctx, shortID); err != nil {
			if errors.Is(err, redis.Nil) {
				return "", &NotFoundError{ShortID: shortID}
			}
			return "", fmt.Errorf("failed to verify run existence: %w", err)
		}
		return shortID, nil
	}

	if len(shortID) < MinShortIDLength {
		return "", fmt.Errorf("short run ID must be at least %d characters (got %d)", MinShortIDLength, len(shortID))
	}

	matches, err := runs.MatchPrefix(ctx, shortID)
	if err != nil {
		return "", fmt.Errorf("failed to search for run: %w", err)
	}

	switch len(matches) {
	case 0:
		return "", &NotFoundError{ShortID: shortID}
	case 1:
		return matches[0], nil
	default:
		return "", &AmbiguousError{ShortID: shortID, Matches: matches}
	}
}

// NotFoundError indicates no recorded run matched the ID.
type NotFoundError struct {
	ShortID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no runs found matching '%s'", e.ShortID)
}

// AmbiguousError indicates several recorded runs matched the prefix.
type AmbiguousError struct {
	ShortID string
	Matches []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous short run ID '%s' matches %d runs", e.ShortID, len(e.Matches))
}

// Suggestions lists the matching run IDs (up to 10, then "...and N more").
func (e *AmbiguousError) Suggestions() []string {
	shown := e.Matches
	if len(shown) > 10 {
		shown = shown[:10]
	}
	out := append([]string(nil), shown...)
	if len(e.Matches) > 10 {
		out = append(out, fmt.Sprintf("...and %d more", len(e.Matches)-10))
	}
	return out
}

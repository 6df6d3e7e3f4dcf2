package bom

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"
)

// CounterPort is the slice of the repository the code generator needs.
type CounterPort interface {
	NextCodeSequence(ctx context.Context, year int) (int, error)
}

// CodeGenerator issues BOM codes in the form EST-<year>-<4 digit sequence>,
// with the sequence reset each year.
type CodeGenerator struct {
	counter CounterPort
	logger  *slog.Logger
	now     func() time.Time
}

// NewCodeGenerator constructs a generator backed by the per-year counter table.
func NewCodeGenerator(counter CounterPort, logger *slog.Logger) *CodeGenerator {
	return &CodeGenerator{counter: counter, logger: logger, now: time.Now}
}

// Next returns the next BOM code. When the counter store fails the generator
// degrades to a time-derived code: still correctly formatted, uniqueness
// best-effort only.
func (g *CodeGenerator) Next(ctx context.Context) string {
	now := g.now()
	year := now.Year()
	seq, err := g.counter.NextCodeSequence(ctx, year)
	if err != nil {
		if g.logger != nil {
			g.logger.Warn("bom code counter unavailable, using fallback", slog.Any("error", err))
		}
		return g.fallback(now)
	}
	return fmt.Sprintf("EST-%d-%04d", year, seq)
}

func (g *CodeGenerator) fallback(now time.Time) string {
	n := (now.UnixNano()/int64(time.Millisecond) + rand.Int63n(1000)) % 10000
	return fmt.Sprintf("EST-%d-%04d", now.Year(), n)
}

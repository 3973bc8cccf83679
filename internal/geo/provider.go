package geo

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Device location errors.
var (
	ErrLocationUnavailable = errors.New("location unavailable")
	ErrPermissionDenied    = errors.New("location permission denied")
)

// Provider supplies the device's current coordinate on demand.
type Provider interface {
	CurrentCoordinate(ctx context.Context) (Coordinate, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context) (Coordinate, error)

// CurrentCoordinate calls f.
func (f ProviderFunc) CurrentCoordinate(ctx context.Context) (Coordinate, error) {
	return f(ctx)
}

// Sample asks p for a coordinate, bounded by timeout.
// Every failure, including a deadline or a denied permission, is reported
// as ErrLocationUnavailable wrapping the cause. It never retries.
func Sample(ctx context.Context, p Provider, timeout time.Duration) (Coordinate, error) {
	if p == nil {
		return Coordinate{}, ErrLocationUnavailable
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		c   Coordinate
		err error
	}
	done := make(chan result, 1)
	go func() {
		c, err := p.CurrentCoordinate(ctx)
		done <- result{c, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return Coordinate{}, fmt.Errorf("%w: %w", ErrLocationUnavailable, r.err)
		}
		if !r.c.Valid() {
			return Coordinate{}, fmt.Errorf("%w: %w", ErrLocationUnavailable, ErrInvalidCoordinate)
		}
		return r.c, nil
	case <-ctx.Done():
		return Coordinate{}, fmt.Errorf("%w: %w", ErrLocationUnavailable, ctx.Err())
	}
}

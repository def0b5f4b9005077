package domain

import (
	"context"
	"errors"
)

var errBoom = errors.New("boom")

type statsFunc func(StatsEvent) error

func (f statsFunc) Record(_ context.Context, ev StatsEvent) error { return f(ev) }

package cache

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/mem"
)

// PressureProbe reports whether the cache should shed entries.
type PressureProbe interface {
	UnderPressure(ctx context.Context, entries int) (bool, error)
}

// ProbeFunc adapts a function to PressureProbe.
type ProbeFunc func(ctx context.Context, entries int) (bool, error)

// UnderPressure implements PressureProbe.
func (f ProbeFunc) UnderPressure(ctx context.Context, entries int) (bool, error) {
	return f(ctx, entries)
}

// EntryCountProbe signals pressure once the cache holds more than MaxEntries.
type EntryCountProbe struct {
	MaxEntries int
}

// UnderPressure implements PressureProbe.
func (p EntryCountProbe) UnderPressure(_ context.Context, entries int) (bool, error) {
	return p.MaxEntries > 0 && entries > p.MaxEntries, nil
}

// SystemMemoryProbe signals pressure when host memory usage reaches ThresholdPercent.
type SystemMemoryProbe struct {
	ThresholdPercent float64
}

// UnderPressure implements PressureProbe.
func (p SystemMemoryProbe) UnderPressure(ctx context.Context, _ int) (bool, error) {
	if p.ThresholdPercent <= 0 {
		return false, nil
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return false, fmt.Errorf("read virtual memory: %w", err)
	}
	return vm.UsedPercent >= p.ThresholdPercent, nil
}

// AnyProbe signals pressure when any of its probes does.
type AnyProbe []PressureProbe

// UnderPressure implements PressureProbe.
func (a AnyProbe) UnderPressure(ctx context.Context, entries int) (bool, error) {
	for _, probe := range a {
		if probe == nil {
			continue
		}
		pressured, err := probe.UnderPressure(ctx, entries)
		if err != nil {
			return false, err
		}
		if pressured {
			return true, nil
		}
	}
	return false, nil
}

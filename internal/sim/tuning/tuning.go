package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	// Reconciliation cadence handed to clients at bootstrap.
	ResourceSyncIntervalSeconds int `yaml:"resource_sync_interval_seconds"`
	ErrorToleranceSeconds       int `yaml:"error_tolerance_seconds"`
	ActionCompleteRetrySeconds  int `yaml:"action_complete_retry_seconds"`
	LocalTickMs                 int `yaml:"local_tick_ms"`

	Grid GridTuning `yaml:"grid"`

	// Action rules.
	ResearchSlots          int     `yaml:"research_slots"`
	CancelRefundFraction   float64 `yaml:"cancel_refund_fraction"`
	DemolishRefundFraction float64 `yaml:"demolish_refund_fraction"`
}

type GridTuning struct {
	Width            int `yaml:"width"`
	Height           int `yaml:"height"`
	AboveSurfaceRows int `yaml:"above_surface_rows"`
}

func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:             "1.0",
		ResourceSyncIntervalSeconds: 30,
		ErrorToleranceSeconds:       5,
		ActionCompleteRetrySeconds:  3,
		LocalTickMs:                 100,
		Grid: GridTuning{
			Width:            10,
			Height:           15,
			AboveSurfaceRows: 2,
		},
		ResearchSlots:          1,
		CancelRefundFraction:   0.5,
		DemolishRefundFraction: 0.5,
	}
}

func (t Tuning) validate() error {
	if t.ResourceSyncIntervalSeconds <= 0 {
		return fmt.Errorf("resource_sync_interval_seconds must be positive")
	}
	if t.Grid.Width <= 0 || t.Grid.Height <= 0 {
		return fmt.Errorf("grid dimensions must be positive")
	}
	if t.Grid.AboveSurfaceRows < 0 {
		return fmt.Errorf("above_surface_rows must not be negative")
	}
	if t.ResearchSlots < 1 {
		return fmt.Errorf("research_slots must be at least 1")
	}
	if t.CancelRefundFraction < 0 || t.CancelRefundFraction > 1 {
		return fmt.Errorf("cancel_refund_fraction out of range")
	}
	if t.DemolishRefundFraction < 0 || t.DemolishRefundFraction > 1 {
		return fmt.Errorf("demolish_refund_fraction out of range")
	}
	return nil
}

package device

import "testing"

func TestMerge_OverwritesOnlyNonDefaultDiffering(t *testing.T) {
	target := PropertiesReport{
		SensorFwVersion: "020000",
		ApFwVersion:     "010000",
		ChipTemperature: 42.5,
		DnnModels:       []string{"model-a"},
	}

	incoming := PropertiesReport{
		SensorFwVersion: "020000", // same as target: no-op
		ApFwVersion:     "",       // default: must not clobber target
		ChipTemperature: 50.0,     // differs and non-default: overwrite
	}

	got := Merge(target, incoming)

	if got.SensorFwVersion != "020000" {
		t.Errorf("SensorFwVersion = %q, want unchanged 020000", got.SensorFwVersion)
	}
	if got.ApFwVersion != "010000" {
		t.Errorf("ApFwVersion = %q, want preserved 010000 (sparse delta must not clobber)", got.ApFwVersion)
	}
	if got.ChipTemperature != 50.0 {
		t.Errorf("ChipTemperature = %v, want overwritten 50.0", got.ChipTemperature)
	}
	if len(got.DnnModels) != 1 || got.DnnModels[0] != "model-a" {
		t.Errorf("DnnModels = %v, want preserved [model-a]", got.DnnModels)
	}
}

func TestMerge_ReplacesSliceWhenDifferentAndNonNil(t *testing.T) {
	target := PropertiesReport{DnnModels: []string{"model-a"}}
	incoming := PropertiesReport{DnnModels: []string{"model-b", "model-c"}}

	got := Merge(target, incoming)
	if len(got.DnnModels) != 2 || got.DnnModels[0] != "model-b" {
		t.Errorf("DnnModels = %v, want [model-b model-c]", got.DnnModels)
	}
}

func TestMerge_EmptyIncomingIsNoOp(t *testing.T) {
	target := PropertiesReport{SensorFwVersion: "1", ApFwVersion: "2", ChipTemperature: 3}
	got := Merge(target, PropertiesReport{})
	if got.SensorFwVersion != target.SensorFwVersion ||
		got.ApFwVersion != target.ApFwVersion ||
		got.ChipTemperature != target.ChipTemperature {
		t.Errorf("Merge with empty incoming changed target: got %+v, want %+v", got, target)
	}
}

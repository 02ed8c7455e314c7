package device

import "reflect"

// PropertiesReport is the flat record of the most recently reported
// device attributes. Fields are kept flat (rather than nesting an OTA
// sub-struct) so the merge below can apply uniform field-by-field
// treatment without needing to recurse.
type PropertiesReport struct {
	SensorFwVersion string
	ApFwVersion     string
	ChipTemperature float64
	ChipInfo        string
	SensorStatus    string

	OTAUpdateStatus string // "Downloading" | "Updating" | "Done" | "Failed" | v2 ProgressState values
	OTAProgress     int

	DnnModels []string

	// DnnModelLastUpdatedDate's device-side semantics are unclear;
	// surface whatever the device reports without inferring structure.
	DnnModelLastUpdatedDate string
}

// Merge applies incoming onto target: a field is overwritten only
// when the incoming value is non-default and differs, preserving
// prior knowledge when the device reports sparse deltas. Implemented
// generically over the struct's exported fields via reflection rather
// than hand-writing one branch per field.
func Merge(target, incoming PropertiesReport) PropertiesReport {
	out := target

	tv := reflect.ValueOf(&out).Elem()
	iv := reflect.ValueOf(incoming)
	zero := reflect.Zero(iv.Type())

	for i := 0; i < iv.NumField(); i++ {
		field := iv.Field(i)
		zeroField := zero.Field(i)
		targetField := tv.Field(i)

		isDefault := reflect.DeepEqual(field.Interface(), zeroField.Interface())
		differsFromTarget := !reflect.DeepEqual(field.Interface(), targetField.Interface())

		if !isDefault && differsFromTarget {
			targetField.Set(field)
		}
	}

	return out
}

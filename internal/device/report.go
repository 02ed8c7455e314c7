package device

import "encoding/json"

// deviceConfiguration is the V1 attributes-report shape. Properties
// outside it (PQ settings and the like) are ignored.
type deviceConfiguration struct {
	Hardware struct {
		Sensor               string `json:"Sensor"`
		SensorID             string `json:"SensorId"`
		ApplicationProcessor string `json:"ApplicationProcessor"`
	} `json:"Hardware"`
	Version struct {
		SensorFwVersion string   `json:"SensorFwVersion"`
		ApFwVersion     string   `json:"ApFwVersion"`
		DnnModelVersion []string `json:"DnnModelVersion"`
	} `json:"Version"`
	Status struct {
		Sensor               string `json:"Sensor"`
		ApplicationProcessor string `json:"ApplicationProcessor"`
	} `json:"Status"`
	OTA struct {
		UpdateStatus            string   `json:"UpdateStatus"`
		UpdateProgress          int      `json:"UpdateProgress"`
		DnnModelLastUpdatedDate []string `json:"DnnModelLastUpdatedDate"`
	} `json:"OTA"`
}

// ParseReport extracts a partial PropertiesReport from an attributes
// payload. The second return is false when the payload carries no
// recognizable device report (e.g. it is a desired-state echo).
func ParseReport(payload []byte) (PropertiesReport, bool) {
	var wrapped struct {
		State json.RawMessage `json:"state"`
	}
	if err := json.Unmarshal(payload, &wrapped); err == nil && len(wrapped.State) > 0 {
		payload = wrapped.State
	}

	var dc deviceConfiguration
	if err := json.Unmarshal(payload, &dc); err != nil {
		return PropertiesReport{}, false
	}

	report := PropertiesReport{
		SensorFwVersion: dc.Version.SensorFwVersion,
		ApFwVersion:     dc.Version.ApFwVersion,
		ChipInfo:        dc.Hardware.Sensor,
		SensorStatus:    dc.Status.Sensor,
		OTAUpdateStatus: dc.OTA.UpdateStatus,
		OTAProgress:     dc.OTA.UpdateProgress,
		DnnModels:       dc.Version.DnnModelVersion,
	}
	if len(dc.OTA.DnnModelLastUpdatedDate) > 0 {
		report.DnnModelLastUpdatedDate = dc.OTA.DnnModelLastUpdatedDate[0]
	}

	empty := report.SensorFwVersion == "" && report.ApFwVersion == "" &&
		report.ChipInfo == "" && report.SensorStatus == "" &&
		report.OTAUpdateStatus == "" && len(report.DnnModels) == 0
	return report, !empty
}

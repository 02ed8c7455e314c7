package tasks

// OTAProgress is the dialect-independent OTA progress value
// FirmwareTask maps both wire dialects onto: V1's
// Downloading/Updating/Done/Failed and V2's richer progress enum both
// collapse onto Downloading/Installing/Done/Failed.
type OTAProgress string

const (
	OTARequestReceived OTAProgress = "RequestReceived"
	OTADownloading     OTAProgress = "Downloading"
	OTAInstalling      OTAProgress = "Installing"
	OTADone            OTAProgress = "Done"
	OTAFailed          OTAProgress = "Failed"
)

// mapV1Progress translates the V1 dialect's OTA.UpdateStatus field.
func mapV1Progress(updateStatus string) OTAProgress {
	switch updateStatus {
	case "Downloading":
		return OTADownloading
	case "Updating":
		return OTAInstalling
	case "Done":
		return OTADone
	case "Failed":
		return OTAFailed
	default:
		return OTARequestReceived
	}
}

// mapV2Progress translates the V2 dialect's process_state values
// onto the same shape; every failed_* variant collapses to
// OTAFailed.
func mapV2Progress(processState string) OTAProgress {
	switch processState {
	case "request_received":
		return OTARequestReceived
	case "downloading":
		return OTADownloading
	case "installing":
		return OTAInstalling
	case "done":
		return OTADone
	case "failed", "failed_invalid_argument", "failed_token_expired", "failed_download_retry_exceeded":
		return OTAFailed
	default:
		return OTARequestReceived
	}
}

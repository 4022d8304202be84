package cli

var (
	verbose    bool
	configPath string

	// all commands
	deviceId string
	adbPath  string
	adbHost  string
	adbPort  int

	// for screenshot command
	screenshotOutputPath  string
	screenshotFormat      string
	screenshotJpegQuality int

	// for screencapture command
	screencaptureFormat  string
	screencaptureOutput  string
	screencaptureQuality int
	screencaptureScale   float64

	// for devices command
	showAllDevices bool

	// for apps terminate
	terminateClear bool

	// for device properties
	propertyKey string
)

package types

// BoardProfileDefinition describes one hardware revision of the instrument.
type BoardProfileDefinition struct {
	Board    BoardProfileInfo `json:"board"`
	Channels ChannelCounts    `json:"channels"`
	Network  NetworkDefaults  `json:"network"`
}

type BoardProfileInfo struct {
	ID              string `json:"id"`
	Vendor          string `json:"vendor"`
	Model           string `json:"model"`
	Revision        string `json:"revision"`
	FirmwareVersion string `json:"firmware_version"`
	Description     string `json:"description,omitempty"`
}

type ChannelCounts struct {
	AnalogInputs   int `json:"analog_inputs"`
	DigitalInputs  int `json:"digital_inputs"`
	DigitalOutputs int `json:"digital_outputs"`
}

type NetworkDefaults struct {
	IPAddress  string `json:"ip_address"`
	MACAddress string `json:"mac_address"`
}

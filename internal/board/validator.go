package board

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"

	_ "embed"

	"github.com/Teodor85/Tekdaqc-Firmware/internal/adc"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/types"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/board-profile-v1.json
var boardProfileSchemaJSON string

// ErrHardwareMismatch marks a profile that passes the schema but cannot
// describe a Tekdaqc board.
var ErrHardwareMismatch = errors.New("profile does not match board hardware")

// The ADC multiplexer addresses the external inputs followed by the
// internal sources, the last of which is the shorted input.
const maxAnalogInputs = int(adc.InputShorted) + 1

type Validator struct {
	schema *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true

	if err := compiler.AddResource("board-profile-v1.json",
		strings.NewReader(boardProfileSchemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}

	schema, err := compiler.Compile("board-profile-v1.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &Validator{schema: schema}, nil
}

func (v *Validator) ValidateProfile(data []byte) error {
	var profile interface{}
	if err := json.Unmarshal(data, &profile); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	if err := v.schema.Validate(profile); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	var def types.BoardProfileDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return fmt.Errorf("invalid profile: %w", err)
	}
	return CheckHardware(&def)
}

// CheckHardware applies the rules the schema cannot express: the analog
// bank must fit the ADC multiplexer, the firmware version must pack into
// four bytes and the network defaults must be usable unicast addresses.
func CheckHardware(profile *types.BoardProfileDefinition) error {
	if n := profile.Channels.AnalogInputs; n > maxAnalogInputs {
		return fmt.Errorf("%w: %d analog inputs, multiplexer has %d",
			ErrHardwareMismatch, n, maxAnalogInputs)
	}

	for _, part := range strings.Split(profile.Board.FirmwareVersion, ".") {
		if n, err := strconv.Atoi(part); err != nil || n > 255 {
			return fmt.Errorf("%w: firmware version %q does not fit four bytes",
				ErrHardwareMismatch, profile.Board.FirmwareVersion)
		}
	}

	ip, err := netip.ParseAddr(profile.Network.IPAddress)
	if err != nil || !ip.Is4() || ip.IsUnspecified() || ip.IsMulticast() || ip.IsLoopback() ||
		ip == netip.AddrFrom4([4]byte{255, 255, 255, 255}) {
		return fmt.Errorf("%w: %q is not a unicast IPv4 address",
			ErrHardwareMismatch, profile.Network.IPAddress)
	}

	mac, err := net.ParseMAC(profile.Network.MACAddress)
	if err != nil || len(mac) != 6 {
		return fmt.Errorf("%w: bad MAC address %q", ErrHardwareMismatch, profile.Network.MACAddress)
	}
	if mac[0]&0x01 != 0 || isZero(mac) {
		return fmt.Errorf("%w: MAC address %s is not an assignable unicast address",
			ErrHardwareMismatch, mac)
	}
	return nil
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// ValidateDefinition checks a profile built in code, such as the built in
// default, with the same rules as files on disk.
func (v *Validator) ValidateDefinition(profile *types.BoardProfileDefinition) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}

	return v.ValidateProfile(data)
}

package board

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/Teodor85/Tekdaqc-Firmware/internal/types"
)

var ErrProfileNotFound = errors.New("profile not found")

// ProfileLoader reads board profiles from a list of directories and caches
// them by name.
type ProfileLoader struct {
	cache       sync.Map
	validator   *Validator
	searchPaths []string
}

func NewProfileLoader(searchPaths []string) (*ProfileLoader, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create validator: %w", err)
	}

	return &ProfileLoader{
		validator:   validator,
		searchPaths: searchPaths,
	}, nil
}

func (l *ProfileLoader) Load(name string) (*types.BoardProfileDefinition, error) {
	if cached, ok := l.cache.Load(name); ok {
		return cached.(*types.BoardProfileDefinition), nil
	}

	var data []byte
	var foundPath string
	for _, searchPath := range l.searchPaths {
		fullPath := filepath.Join(searchPath, name+".json")
		raw, err := os.ReadFile(fullPath)
		if err == nil {
			data, foundPath = raw, fullPath
			break
		}
	}

	if data == nil {
		return nil, fmt.Errorf("%w: %s (searched in: %v)", ErrProfileNotFound, name, l.searchPaths)
	}

	if err := l.validator.ValidateProfile(data); err != nil {
		return nil, fmt.Errorf("validation failed for %s: %w", foundPath, err)
	}

	var profile types.BoardProfileDefinition
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
	}

	l.cache.Store(name, &profile)

	return &profile, nil
}

// LoadOrDefault falls back to the built in Rev E profile when name is not
// present in any search path. Invalid files are still an error.
func (l *ProfileLoader) LoadOrDefault(name string) (*types.BoardProfileDefinition, bool, error) {
	profile, err := l.Load(name)
	if errors.Is(err, ErrProfileNotFound) {
		def := DefaultProfile()
		if err := l.validator.ValidateDefinition(def); err != nil {
			return nil, false, fmt.Errorf("built in profile is invalid: %w", err)
		}
		return def, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	return profile, false, nil
}

// DefaultProfile describes the stock Rev E board.
func DefaultProfile() *types.BoardProfileDefinition {
	return &types.BoardProfileDefinition{
		Board: types.BoardProfileInfo{
			ID:              "tekdaqc-rev-e",
			Vendor:          "Tenkiv",
			Model:           "Tekdaqc",
			Revision:        "E",
			FirmwareVersion: "1.2.0.0",
		},
		Channels: types.ChannelCounts{
			AnalogInputs:   36,
			DigitalInputs:  24,
			DigitalOutputs: 16,
		},
		Network: types.NetworkDefaults{
			IPAddress:  "192.168.1.150",
			MACAddress: "00:80:E1:00:00:01",
		},
	}
}

func (l *ProfileLoader) Validator() *Validator {
	return l.validator
}

func (l *ProfileLoader) ClearCache() {
	l.cache.Range(func(key, value interface{}) bool {
		l.cache.Delete(key)
		return true
	})
}

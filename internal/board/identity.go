package board

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Teodor85/Tekdaqc-Firmware/internal/types"
	"go.uber.org/zap"
)

var (
	ErrInvalidIP   = errors.New("invalid IPv4 address")
	ErrInvalidMAC  = errors.New("invalid MAC address")
	ErrInvalidTime = errors.New("invalid real time clock value")
)

// SerialSource supplies the factory programmed serial number.
type SerialSource interface {
	SerialNumber() (string, error)
}

// NetworkStore persists user network overrides across restarts.
type NetworkStore interface {
	SaveNetwork(ip, mac string) error
	LoadNetwork() (ip, mac string, err error)
}

// Identity is the answer to IDENTIFY.
type Identity struct {
	Serial          string           `json:"serial"`
	Revision        string           `json:"revision"`
	FirmwareVersion string           `json:"firmware_version"`
	IP              net.IP           `json:"ip_address"`
	MAC             net.HardwareAddr `json:"-"`
	MACString       string           `json:"mac_address"`
}

// Report formats the identity block sent to command clients.
func (id Identity) Report() string {
	serial := id.Serial
	if serial == "" {
		serial = "None"
	}
	var b strings.Builder
	b.WriteString("Board Identity")
	fmt.Fprintf(&b, "\n\r\tSerial Number: %s", serial)
	fmt.Fprintf(&b, "\n\r\tBoard Revision: %s", id.Revision)
	fmt.Fprintf(&b, "\n\r\tFirmware Version: %s", id.FirmwareVersion)
	fmt.Fprintf(&b, "\n\r\tIP Address: %s", id.IP)
	fmt.Fprintf(&b, "\n\r\tMAC Address: %s", strings.ToUpper(id.MAC.String()))
	return b.String()
}

// Board holds the identity and clock services of the instrument.
type Board struct {
	profile *types.BoardProfileDefinition
	serial  SerialSource
	store   NetworkStore
	logger  *zap.Logger

	mu     sync.RWMutex
	ip     net.IP
	mac    net.HardwareAddr
	offset time.Duration
	now    func() time.Time
}

func New(profile *types.BoardProfileDefinition, serial SerialSource, store NetworkStore, logger *zap.Logger) (*Board, error) {
	ip, err := parseIPv4(profile.Network.IPAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to parse profile IP: %w", err)
	}
	mac, err := parseMAC(profile.Network.MACAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to parse profile MAC: %w", err)
	}

	b := &Board{
		profile: profile,
		serial:  serial,
		store:   store,
		logger:  logger,
		ip:      ip,
		mac:     mac,
		now:     time.Now,
	}

	if store != nil {
		savedIP, savedMAC, err := store.LoadNetwork()
		if err != nil {
			return nil, fmt.Errorf("failed to load network settings: %w", err)
		}
		if ip, err := parseIPv4(savedIP); err == nil {
			b.ip = ip
		}
		if mac, err := parseMAC(savedMAC); err == nil {
			b.mac = mac
		}
	}

	return b, nil
}

func (b *Board) Profile() *types.BoardProfileDefinition {
	return b.profile
}

func (b *Board) Identity() (Identity, error) {
	serial, err := b.serial.SerialNumber()
	if err != nil {
		return Identity{}, fmt.Errorf("failed to read serial number: %w", err)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	return Identity{
		Serial:          serial,
		Revision:        b.profile.Board.Revision,
		FirmwareVersion: b.profile.Board.FirmwareVersion,
		IP:              b.ip,
		MAC:             b.mac,
		MACString:       strings.ToUpper(b.mac.String()),
	}, nil
}

// SetStaticIP takes a dotted quad.
func (b *Board) SetStaticIP(value string) error {
	ip, err := parseIPv4(value)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.ip = ip
	mac := b.mac
	b.mu.Unlock()

	b.logger.Info("Static IP address set", zap.String("ip", ip.String()))
	return b.persist(ip, mac)
}

// SetUserMAC takes six colon or dash separated octets.
func (b *Board) SetUserMAC(value string) error {
	mac, err := parseMAC(value)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.mac = mac
	ip := b.ip
	b.mu.Unlock()

	b.logger.Info("User MAC address set", zap.String("mac", mac.String()))
	return b.persist(ip, mac)
}

func (b *Board) persist(ip net.IP, mac net.HardwareAddr) error {
	if b.store == nil {
		return nil
	}
	if err := b.store.SaveNetwork(ip.String(), mac.String()); err != nil {
		return fmt.Errorf("failed to save network settings: %w", err)
	}
	return nil
}

// SetRTC sets the board clock from RFC 3339 text or unix seconds.
func (b *Board) SetRTC(value string) error {
	var target time.Time
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		target = time.Unix(secs, 0)
	} else if t, err := time.Parse(time.RFC3339, value); err == nil {
		target = t
	} else {
		return fmt.Errorf("%w: %q", ErrInvalidTime, value)
	}

	b.mu.Lock()
	b.offset = target.Sub(b.now())
	b.mu.Unlock()

	b.logger.Info("Real time clock set", zap.Time("time", target))
	return nil
}

// Now is the board's notion of wall clock time.
func (b *Board) Now() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.now().Add(b.offset)
}

func parseIPv4(value string) (net.IP, error) {
	ip := net.ParseIP(value).To4()
	if ip == nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidIP, value)
	}
	return ip, nil
}

func parseMAC(value string) (net.HardwareAddr, error) {
	mac, err := net.ParseMAC(value)
	if err != nil || len(mac) != 6 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMAC, value)
	}
	return mac, nil
}

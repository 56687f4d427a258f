package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Teodor85/Tekdaqc-Firmware/internal/flash"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// BoltDB buckets
const (
	flashBucket   = "flash"
	backupBucket  = "backup"
	thermalBucket = "thermal"
	networkBucket = "network"
)

const (
	calibrationKey = "calibration"
	upgradeFlagKey = "upgrade"
	historyKey     = "history"
	addressKey     = "address"
)

// upgradeMagic marks a pending firmware upgrade in the backup registers.
const upgradeMagic uint32 = 0xB00710AD

// BoltStore persists everything the board keeps across power cycles.
type BoltStore struct {
	db     *bbolt.DB
	logger *zap.Logger
}

func OpenBolt(path string, logger *zap.Logger) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{flashBucket, backupBucket, thermalBucket, networkBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db, logger: logger}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) put(bucket, key string, value []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucket)).Put([]byte(key), value)
	})
}

// get returns a copy of the stored value, or nil when absent.
func (s *BoltStore) get(bucket, key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket([]byte(bucket)).Get([]byte(key)); v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	return out, err
}

// Region returns the calibration flash region, restoring its last
// persisted image. A new database starts with an erased region of size bytes.
func (s *BoltStore) Region(size uint32) (*Region, error) {
	image, err := s.get(flashBucket, calibrationKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read calibration image: %w", err)
	}

	var mem *flash.Memory
	switch {
	case image == nil:
		mem = flash.NewMemory(size)
	case uint32(len(image)) != size:
		return nil, fmt.Errorf("calibration image is %d bytes, configured region is %d", len(image), size)
	default:
		mem = flash.NewMemoryFrom(image)
	}

	s.logger.Info("Calibration region attached",
		zap.Uint32("size", size),
		zap.Bool("restored", image != nil))

	return &Region{Memory: mem, store: s}, nil
}

// Region is a flash.Memory whose image is written to bolt every time the
// sector is erased or relocked.
type Region struct {
	*flash.Memory
	store *BoltStore
}

func (r *Region) Lock() error {
	if err := r.Memory.Lock(); err != nil {
		return err
	}
	return r.persist()
}

func (r *Region) EraseSector() error {
	if err := r.Memory.EraseSector(); err != nil {
		return err
	}
	return r.persist()
}

func (r *Region) persist() error {
	if err := r.store.put(flashBucket, calibrationKey, r.Memory.Image()); err != nil {
		return fmt.Errorf("%w: %v", flash.ErrOperation, err)
	}
	return nil
}

// SetUpgradeFlag records that the bootloader should enter upgrade mode.
func (s *BoltStore) SetUpgradeFlag() error {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, upgradeMagic)
	if err := s.put(backupBucket, upgradeFlagKey, buf); err != nil {
		return fmt.Errorf("failed to set upgrade flag: %w", err)
	}
	return nil
}

func (s *BoltStore) UpgradeFlag() (bool, error) {
	v, err := s.get(backupBucket, upgradeFlagKey)
	if err != nil {
		return false, err
	}
	return len(v) == 4 && binary.LittleEndian.Uint32(v) == upgradeMagic, nil
}

func (s *BoltStore) ClearUpgradeFlag() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(backupBucket)).Delete([]byte(upgradeFlagKey))
	})
}

// SaveTemperatureHistory stores the recorded board temperature extremes.
func (s *BoltStore) SaveTemperatureHistory(min, max float32) error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:], math.Float32bits(min))
	binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(max))
	return s.put(thermalBucket, historyKey, buf)
}

// LoadTemperatureHistory reports ok=false when nothing was recorded yet.
func (s *BoltStore) LoadTemperatureHistory() (min, max float32, ok bool, err error) {
	v, err := s.get(thermalBucket, historyKey)
	if err != nil || v == nil {
		return 0, 0, false, err
	}
	if len(v) != 8 {
		return 0, 0, false, errors.New("corrupt temperature history")
	}
	min = math.Float32frombits(binary.LittleEndian.Uint32(v[0:]))
	max = math.Float32frombits(binary.LittleEndian.Uint32(v[4:]))
	return min, max, true, nil
}

type networkRecord struct {
	IP  string `json:"ip"`
	MAC string `json:"mac"`
}

func (s *BoltStore) SaveNetwork(ip, mac string) error {
	data, err := json.Marshal(networkRecord{IP: ip, MAC: mac})
	if err != nil {
		return fmt.Errorf("failed to marshal network settings: %w", err)
	}
	return s.put(networkBucket, addressKey, data)
}

func (s *BoltStore) LoadNetwork() (string, string, error) {
	v, err := s.get(networkBucket, addressKey)
	if err != nil || v == nil {
		return "", "", err
	}
	var rec networkRecord
	if err := json.Unmarshal(v, &rec); err != nil {
		return "", "", fmt.Errorf("failed to unmarshal network settings: %w", err)
	}
	return rec.IP, rec.MAC, nil
}

package security

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// DeviceFingerprint represents device identification information
type DeviceFingerprint struct {
	Fingerprint string    `json:"fingerprint"`
	Hostname    string    `json:"hostname"`
	MACAddress  string    `json:"mac_address"`
	MachineID   string    `json:"machine_id"`
	CPUID       string    `json:"cpu_id"`
	OS          string    `json:"os"`
	Platform    string    `json:"platform"`
	GeneratedAt time.Time `json:"generated_at"`
}

// FingerprintManager produces the stable device identifier used both for
// hardware-bound licenses and as machine key material. Identifier sources
// are tried in a fixed priority order; a source failure falls through to the
// next so the operation never fails as a whole.
type FingerprintManager struct {
	cache       *DeviceFingerprint
	cacheMutex  sync.RWMutex
	cacheExpiry time.Time
	cacheTTL    time.Duration
}

// NewFingerprintManager creates a new fingerprint manager with caching
func NewFingerprintManager() *FingerprintManager {
	return &FingerprintManager{
		cacheTTL: 1 * time.Hour,
	}
}

// Fingerprint returns the device fingerprint hash as a hex string.
// The raw identifiers are combined through a one-way hash and never
// persisted in the clear.
func (fm *FingerprintManager) Fingerprint() string {
	return fm.Generate().Fingerprint
}

// DisplayID returns a shortened, human-shareable form of the fingerprint
// for support purposes, grouped as XXXX-XXXX-XXXX.
func (fm *FingerprintManager) DisplayID() string {
	fp := strings.ToUpper(fm.Generate().Fingerprint)
	if len(fp) < 12 {
		return fp
	}
	return fmt.Sprintf("%s-%s-%s", fp[0:4], fp[4:8], fp[8:12])
}

// Generate builds the device fingerprint, serving a cached copy while it is
// fresh. Every source failure is logged and replaced with a fixed fallback
// token so the result stays deterministic for the current boot.
func (fm *FingerprintManager) Generate() *DeviceFingerprint {
	fm.cacheMutex.RLock()
	if fm.cache != nil && time.Now().Before(fm.cacheExpiry) {
		cached := *fm.cache
		fm.cacheMutex.RUnlock()
		return &cached
	}
	fm.cacheMutex.RUnlock()

	start := time.Now()

	macAddr, err := fm.getMACAddress()
	if err != nil {
		macAddr = "unavailable-mac"
		slog.Warn("fingerprint source unavailable, falling back",
			slog.String("source", "mac_address"),
			slog.String("error", err.Error()),
		)
	}

	machineID, err := fm.getMachineID()
	if err != nil {
		machineID = "unavailable-machine-id"
		slog.Warn("fingerprint source unavailable, falling back",
			slog.String("source", "machine_id"),
			slog.String("error", err.Error()),
		)
	}

	hostname, err := fm.getHostname()
	if err != nil {
		hostname = "unavailable-host"
		slog.Warn("fingerprint source unavailable, falling back",
			slog.String("source", "hostname"),
			slog.String("error", err.Error()),
		)
	}

	cpuID, err := fm.getCPUID()
	if err != nil {
		cpuID = "unavailable-cpu"
		slog.Warn("fingerprint source unavailable, falling back",
			slog.String("source", "cpu_id"),
			slog.String("error", err.Error()),
		)
	}

	factors := []string{
		macAddr,
		machineID,
		hostname,
		cpuID,
		runtime.GOOS,
		runtime.GOARCH,
	}

	hash := sha256.Sum256([]byte(strings.Join(factors, "|")))
	fingerprint := hex.EncodeToString(hash[:])

	device := &DeviceFingerprint{
		Fingerprint: fingerprint,
		Hostname:    hostname,
		MACAddress:  macAddr,
		MachineID:   machineID,
		CPUID:       cpuID,
		OS:          runtime.GOOS,
		Platform:    runtime.GOARCH,
		GeneratedAt: time.Now(),
	}

	fm.cacheMutex.Lock()
	fm.cache = device
	fm.cacheExpiry = time.Now().Add(fm.cacheTTL)
	fm.cacheMutex.Unlock()

	slog.Debug("device fingerprint generated",
		slog.String("fingerprint_prefix", fingerprint[:12]),
		slog.String("hostname", hostname),
		slog.Duration("generation_time", time.Since(start)),
	)

	return device
}

// Validate compares the current device fingerprint with a stored one
func (fm *FingerprintManager) Validate(storedFingerprint string) bool {
	return fm.Fingerprint() == storedFingerprint
}

// Components returns individual source values for support diagnostics
func (fm *FingerprintManager) Components() map[string]string {
	macAddr, _ := fm.getMACAddress()
	machineID, _ := fm.getMachineID()
	hostname, _ := fm.getHostname()
	cpuID, _ := fm.getCPUID()

	return map[string]string{
		"mac_address": macAddr,
		"machine_id":  machineID,
		"hostname":    hostname,
		"cpu_id":      cpuID,
		"os":          runtime.GOOS,
		"platform":    runtime.GOARCH,
	}
}

// ClearCache drops the cached fingerprint
func (fm *FingerprintManager) ClearCache() {
	fm.cacheMutex.Lock()
	defer fm.cacheMutex.Unlock()
	fm.cache = nil
	fm.cacheExpiry = time.Time{}
}

// getMACAddress retrieves the primary network interface MAC address
func (fm *FingerprintManager) getMACAddress() (string, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("failed to get network interfaces: %w", err)
	}

	// Prefer up, non-loopback interfaces
	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if mac := iface.HardwareAddr.String(); mac != "" && mac != "00:00:00:00:00:00" {
			return mac, nil
		}
	}

	// Fallback: any interface with a MAC address
	for _, iface := range interfaces {
		if mac := iface.HardwareAddr.String(); mac != "" && mac != "00:00:00:00:00:00" {
			return mac, nil
		}
	}

	return "", fmt.Errorf("no valid MAC address found")
}

// getMachineID reads the OS installation identifier where one exists
func (fm *FingerprintManager) getMachineID() (string, error) {
	switch runtime.GOOS {
	case "linux":
		for _, path := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
			if data, err := os.ReadFile(path); err == nil {
				id := strings.TrimSpace(string(data))
				if id != "" {
					return id, nil
				}
			}
		}
		return "", fmt.Errorf("machine-id not readable")
	case "windows":
		// MachineGuid lives in the registry; installers export it into the
		// environment for the licensing core.
		if guid := os.Getenv("HYDRO_MACHINE_GUID"); guid != "" {
			return guid, nil
		}
		return "", fmt.Errorf("machine GUID not available")
	default:
		return "", fmt.Errorf("no machine id source on %s", runtime.GOOS)
	}
}

// getHostname retrieves the normalized machine hostname
func (fm *FingerprintManager) getHostname() (string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to get hostname: %w", err)
	}

	hostname = strings.ToLower(strings.TrimSpace(hostname))
	if hostname == "" {
		return "", fmt.Errorf("hostname is empty")
	}
	return hostname, nil
}

// getCPUID retrieves CPU identification information (OS-specific)
func (fm *FingerprintManager) getCPUID() (string, error) {
	switch runtime.GOOS {
	case "windows":
		if procID := os.Getenv("PROCESSOR_IDENTIFIER"); procID != "" {
			hash := sha256.Sum256([]byte(procID))
			return hex.EncodeToString(hash[:8]), nil
		}
		return hashedCPUFallback(), nil
	case "linux":
		if data, err := os.ReadFile("/proc/cpuinfo"); err == nil {
			for _, line := range strings.Split(string(data), "\n") {
				if strings.HasPrefix(line, "model name") || strings.HasPrefix(line, "cpu family") {
					hash := sha256.Sum256([]byte(line))
					return hex.EncodeToString(hash[:8]), nil
				}
			}
		}
		return hashedCPUFallback(), nil
	default:
		return hashedCPUFallback(), nil
	}
}

// hashedCPUFallback hashes the OS/arch pair when no richer CPU source exists
func hashedCPUFallback() string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s-%s", runtime.GOOS, runtime.GOARCH)))
	return hex.EncodeToString(hash[:8])
}

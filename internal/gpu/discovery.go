// Package gpu discovers graphics devices and reads their telemetry from
// amdgpu sysfs or nvidia-smi.
package gpu

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"
)

const (
	drmClassPath = "class/drm"

	vendorAMD    = "1002"
	vendorNVIDIA = "10de"
	vendorIntel  = "8086"
)

// Device describes a graphics card found under /sys/class/drm.
type Device struct {
	ID         string `json:"id"`
	PCI        string `json:"pci"`
	PCIID      string `json:"pci_id"`
	Name       string `json:"name"`
	Driver     string `json:"driver"`
	RenderNode string `json:"render_node"`
}

// Vendor returns a short vendor label derived from the PCI id.
func (d Device) Vendor() string {
	vendorID, _ := splitPCIIdentifier(d.PCIID)
	switch normalizePCIID(vendorID) {
	case vendorAMD:
		return "amd"
	case vendorNVIDIA:
		return "nvidia"
	case vendorIntel:
		return "intel"
	}
	return "unknown"
}

// Discover enumerates DRM cards exposed via sysfs under root. A missing DRM
// class directory is not an error.
func Discover(root string, logger *slog.Logger) ([]Device, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	sysRoot, err := os.OpenRoot(root)
	if err != nil {
		return nil, fmt.Errorf("open sysfs root: %w", err)
	}
	defer sysRoot.Close()

	entries, err := fs.ReadDir(sysRoot.FS(), drmClassPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Warn("drm class path missing", "path", filepath.Join(root, drmClassPath))
			return nil, nil
		}
		return nil, fmt.Errorf("read drm class dir: %w", err)
	}

	var devices []Device
	for _, entry := range entries {
		name := entry.Name()
		if !isCardName(name) {
			continue
		}
		if !entry.IsDir() && entry.Type()&os.ModeSymlink == 0 {
			continue
		}

		cardRoot, err := sysRoot.OpenRoot(filepath.Join(drmClassPath, name))
		if err != nil {
			logger.Warn("failed to open card root", "card", name, "err", err)
			continue
		}

		device, err := loadDevice(name, cardRoot)
		if closeErr := cardRoot.Close(); closeErr != nil {
			logger.Debug("failed to close card root", "card", name, "err", closeErr)
		}
		if err != nil {
			logger.Warn("failed to load card info", "card", name, "err", err)
			continue
		}
		devices = append(devices, device)
	}

	sort.Slice(devices, func(i, j int) bool {
		return devices[i].ID < devices[j].ID
	})
	return devices, nil
}

// isCardName accepts "card<N>" and rejects connector entries like
// "card0-DP-1".
func isCardName(name string) bool {
	return strings.HasPrefix(name, "card") && allDigits(name[len("card"):])
}

func loadDevice(cardID string, cardRoot *os.Root) (Device, error) {
	deviceRoot, err := cardRoot.OpenRoot("device")
	if err != nil {
		return Device{}, fmt.Errorf("open device root: %w", err)
	}
	defer deviceRoot.Close()

	device := Device{ID: cardID}
	var subVendor, subDevice string

	if data, err := deviceRoot.ReadFile("uevent"); err == nil {
		uevent := parseUevent(string(data))
		device.PCI = uevent["PCI_SLOT_NAME"]
		device.PCIID = uevent["PCI_ID"]
		device.Driver = uevent["DRIVER"]
		device.Name = uevent["PCI_ID_NAME"]
		if sub := uevent["PCI_SUBSYS_ID"]; sub != "" {
			subVendor, subDevice, _ = strings.Cut(sub, ":")
		}
	}

	if device.PCIID == "" {
		if vendor, err := readTrim(deviceRoot, "vendor"); err == nil {
			if dev, err := readTrim(deviceRoot, "device"); err == nil {
				device.PCIID = formatHexPair(vendor, dev)
			}
		}
	}
	if device.Name == "" {
		device.Name, _ = readTrim(deviceRoot, "product_name")
	}
	if device.Name == "" {
		device.Name = device.Driver
	}
	if subVendor == "" {
		subVendor, _ = readTrim(deviceRoot, "subsystem_vendor")
	}
	if subDevice == "" {
		subDevice, _ = readTrim(deviceRoot, "subsystem_device")
	}

	vendorID, deviceID := splitPCIIdentifier(device.PCIID)
	resolved := lookupGPUName(vendorID, deviceID, subVendor, subDevice)
	if shouldUseResolvedName(device.Name, resolved) {
		device.Name = resolved
	}

	device.RenderNode = findRenderNode(deviceRoot)
	return device, nil
}

func findRenderNode(deviceRoot *os.Root) string {
	entries, err := fs.ReadDir(deviceRoot.FS(), "drm")
	if err != nil {
		return ""
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), "renderD") {
			return filepath.Join("/dev/dri", entry.Name())
		}
	}
	return ""
}

func parseUevent(data string) map[string]string {
	values := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(data))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok {
			continue
		}
		values[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return values
}

func readTrim(root *os.Root, name string) (string, error) {
	data, err := root.ReadFile(name)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func formatHexPair(vendor, device string) string {
	return strings.TrimPrefix(vendor, "0x") + ":" + strings.TrimPrefix(device, "0x")
}

func allDigits(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

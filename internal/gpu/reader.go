package gpu

import (
	"bufio"
	"bytes"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"github.com/skobkin/rigscope/internal/sampler"
)

const (
	gpuBusyFilename       = "gpu_busy_percent"
	ppDpmSclkFilename     = "pp_dpm_sclk"
	ppDpmMclkFilename     = "pp_dpm_mclk"
	vramUsedFilename      = "mem_info_vram_used"
	vramTotalFilename     = "mem_info_vram_total"
	debugPmInfoFilename   = "amdgpu_pm_info"
	hwmonTempFile         = "temp1_input"
	hwmonFanFile          = "fan1_input"
	hwmonPowerAverageFile = "power1_average"
	hwmonPowerInputFile   = "power1_input"

	bytesPerMB = 1024 * 1024
)

// Reader fetches amdgpu telemetry for a single card from sysfs, hwmon and,
// when permitted, debugfs.
type Reader struct {
	device       Device
	devicePath   string
	debugCardDir string
	hwmonPath    string
	logger       *slog.Logger
}

// NewReader constructs a Reader for a discovered card.
func NewReader(device Device, sysfsRoot, debugfsRoot string, logger *slog.Logger) (*Reader, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cardIndex, err := parseCardIndex(device.ID)
	if err != nil {
		return nil, err
	}

	devicePath := filepath.Join(sysfsRoot, drmClassPath, device.ID, "device")
	if _, err := os.Stat(devicePath); err != nil {
		return nil, fmt.Errorf("stat device path: %w", err)
	}

	return &Reader{
		device:       device,
		devicePath:   devicePath,
		debugCardDir: filepath.Join(debugfsRoot, "dri", strconv.Itoa(cardIndex)),
		hwmonPath:    detectHwmon(devicePath),
		logger:       logger.With("card", device.ID),
	}, nil
}

// Read collects one reading. Values the card does not expose stay nil.
func (r *Reader) Read() sampler.GPUMetrics {
	out := sampler.GPUMetrics{
		ID:   r.device.ID,
		Name: r.device.Name,
	}

	busy := r.readPercent(filepath.Join(r.devicePath, gpuBusyFilename))
	out.CoreClockMHz = r.readCurrentClock(ppDpmSclkFilename)
	out.MemoryClockMHz = r.readCurrentClock(ppDpmMclkFilename)

	if used := r.readUint(filepath.Join(r.devicePath, vramUsedFilename)); used != nil {
		out.VRAMUsedMB = uint64Ptr(*used / bytesPerMB)
	}
	if total := r.readUint(filepath.Join(r.devicePath, vramTotalFilename)); total != nil {
		out.VRAMTotalMB = uint64Ptr(*total / bytesPerMB)
	}

	if r.hwmonPath != "" {
		out.TemperatureC = r.readScaledFloat(filepath.Join(r.hwmonPath, hwmonTempFile), 1000)
		out.FanRPM = r.readScaledFloat(filepath.Join(r.hwmonPath, hwmonFanFile), 1)
		out.PowerW = r.readScaledFloat(filepath.Join(r.hwmonPath, hwmonPowerAverageFile), 1_000_000)
		if out.PowerW == nil {
			out.PowerW = r.readScaledFloat(filepath.Join(r.hwmonPath, hwmonPowerInputFile), 1_000_000)
		}
	}

	// debugfs is root-only; consult it just for whatever sysfs lacked.
	if busy == nil || out.CoreClockMHz == nil || out.MemoryClockMHz == nil || out.PowerW == nil || out.TemperatureC == nil {
		info := r.readDebugFSInfo()
		busy = firstNonNil(busy, info.gpuLoad)
		out.CoreClockMHz = firstNonNil(out.CoreClockMHz, info.sclkMHz)
		out.MemoryClockMHz = firstNonNil(out.MemoryClockMHz, info.mclkMHz)
		out.PowerW = firstNonNil(out.PowerW, info.powerW)
		out.TemperatureC = firstNonNil(out.TemperatureC, info.tempC)
	}

	if busy != nil {
		out.Utilization = float64Ptr(clamp(*busy, 0, 100) / 100)
	}
	return out
}

func (r *Reader) readPercent(path string) *float64 {
	value, err := readFloatValue(path)
	if err != nil || value < 0 {
		return nil
	}
	if value > 100 {
		// Some kernels report busy % scaled by 100.
		value = clamp(value/100, 0, 100)
	}
	return float64Ptr(value)
}

func (r *Reader) readCurrentClock(filename string) *float64 {
	raw, err := os.ReadFile(filepath.Join(r.devicePath, filename))
	if err != nil {
		return nil
	}

	scanner := bufio.NewScanner(bytes.NewReader(raw))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, "*") {
			continue
		}
		if clock, ok := extractClockMHz(line); ok {
			return float64Ptr(clock)
		}
	}
	return nil
}

func (r *Reader) readUint(path string) *uint64 {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return nil
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		r.logger.Debug("failed to parse uint value", "path", path, "value", raw, "err", err)
		return nil
	}
	return uint64Ptr(value)
}

func (r *Reader) readScaledFloat(path string, divisor float64) *float64 {
	value, err := readFloatValue(path)
	if err != nil {
		return nil
	}
	return float64Ptr(value / divisor)
}

func (r *Reader) readDebugFSInfo() debugInfo {
	data, err := os.ReadFile(filepath.Join(r.debugCardDir, debugPmInfoFilename))
	if err != nil {
		return debugInfo{}
	}

	var info debugInfo
	set := func(dst **float64, line string) {
		if val, ok := extractFirstFloat(line); ok {
			*dst = float64Ptr(val)
		}
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lower := strings.ToLower(line)

		switch {
		case line == "":
		case strings.HasPrefix(lower, "gpu load"):
			set(&info.gpuLoad, line)
		case strings.HasPrefix(lower, "sclk"), strings.HasPrefix(lower, "average gfxclk"):
			set(&info.sclkMHz, line)
		case strings.HasPrefix(lower, "mclk"), strings.HasPrefix(lower, "average memclk"):
			set(&info.mclkMHz, line)
		case strings.HasPrefix(lower, "gpu temperature"):
			set(&info.tempC, line)
		case strings.HasPrefix(lower, "gpu power"), strings.HasPrefix(lower, "power:"):
			set(&info.powerW, line)
		case strings.Contains(lower, "gpu load") && info.gpuLoad == nil:
			set(&info.gpuLoad, line)
		}
	}
	return info
}

type debugInfo struct {
	gpuLoad *float64
	sclkMHz *float64
	mclkMHz *float64
	tempC   *float64
	powerW  *float64
}

func readFloatValue(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return 0, fmt.Errorf("empty value")
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parse float: %w", err)
	}
	return value, nil
}

func detectHwmon(devicePath string) string {
	hwmonRoot := filepath.Join(devicePath, "hwmon")
	entries, err := os.ReadDir(hwmonRoot)
	if err != nil {
		return ""
	}
	for _, entry := range entries {
		if entry.IsDir() || entry.Type()&os.ModeSymlink != 0 {
			return filepath.Join(hwmonRoot, entry.Name())
		}
	}
	return ""
}

func parseCardIndex(cardID string) (int, error) {
	if !isCardName(cardID) {
		return 0, fmt.Errorf("invalid card id %q", cardID)
	}
	index, err := strconv.Atoi(cardID[len("card"):])
	if err != nil {
		return 0, fmt.Errorf("parse card index: %w", err)
	}
	return index, nil
}

func extractClockMHz(line string) (float64, bool) {
	for _, field := range strings.Fields(line) {
		field = strings.ToLower(strings.TrimSuffix(field, "*"))
		if !strings.HasSuffix(field, "mhz") {
			continue
		}
		value, err := strconv.ParseFloat(strings.TrimSuffix(field, "mhz"), 64)
		if err != nil {
			continue
		}
		return value, true
	}
	return 0, false
}

// extractFirstFloat pulls the first number out of a debugfs line such as
// "GPU Load: 76 %". Thousands separators are skipped.
func extractFirstFloat(line string) (float64, bool) {
	var buf strings.Builder
	for _, r := range line {
		if unicode.IsDigit(r) || r == '.' || (r == '-' && buf.Len() == 0) {
			buf.WriteRune(r)
			continue
		}
		if buf.Len() > 0 {
			if r == ',' {
				continue
			}
			break
		}
	}
	if buf.Len() == 0 {
		return 0, false
	}
	value, err := strconv.ParseFloat(buf.String(), 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

func firstNonNil(values ...*float64) *float64 {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

func clamp(value, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, value))
}

func float64Ptr(value float64) *float64 {
	return &value
}

func uint64Ptr(value uint64) *uint64 {
	return &value
}

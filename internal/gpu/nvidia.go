package gpu

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"

	"github.com/skobkin/rigscope/internal/sampler"
)

// nvidiaQueryFields is the column order requested from nvidia-smi.
var nvidiaQueryFields = []string{
	"index",
	"name",
	"utilization.gpu",
	"memory.used",
	"memory.total",
	"temperature.gpu",
	"clocks.current.graphics",
	"clocks.current.memory",
	"power.draw",
}

// commandRunner executes an external command and returns its stdout.
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return out, nil
}

// NVIDIAProvider samples NVIDIA devices through nvidia-smi.
type NVIDIAProvider struct {
	binary string
	run    commandRunner
	logger *slog.Logger
}

// NewNVIDIAProvider resolves the nvidia-smi binary and returns a provider
// using it.
func NewNVIDIAProvider(binary string, logger *slog.Logger) (*NVIDIAProvider, error) {
	if binary == "" {
		binary = "nvidia-smi"
	}
	if logger == nil {
		logger = slog.Default()
	}
	path, err := exec.LookPath(binary)
	if err != nil {
		return nil, fmt.Errorf("locate %s: %w", binary, err)
	}
	return &NVIDIAProvider{
		binary: path,
		run:    execRunner,
		logger: logger.With("component", "nvidia_smi"),
	}, nil
}

// GPUMetrics implements sampler.GPUProvider.
func (p *NVIDIAProvider) GPUMetrics(ctx context.Context) ([]sampler.GPUMetrics, error) {
	out, err := p.run(ctx, p.binary,
		"--query-gpu="+strings.Join(nvidiaQueryFields, ","),
		"--format=csv,noheader,nounits",
	)
	if err != nil {
		return nil, fmt.Errorf("run nvidia-smi: %w", err)
	}
	return parseNVIDIASMI(out)
}

func parseNVIDIASMI(data []byte) ([]sampler.GPUMetrics, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = len(nvidiaQueryFields)
	reader.TrimLeadingSpace = true

	var gpus []sampler.GPUMetrics
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse nvidia-smi output: %w", err)
		}

		m := sampler.GPUMetrics{
			ID:             "nvidia" + strings.TrimSpace(record[0]),
			Name:           strings.TrimSpace(record[1]),
			VRAMUsedMB:     parseNVIDIAUint(record[3]),
			VRAMTotalMB:    parseNVIDIAUint(record[4]),
			TemperatureC:   parseNVIDIAFloat(record[5]),
			CoreClockMHz:   parseNVIDIAFloat(record[6]),
			MemoryClockMHz: parseNVIDIAFloat(record[7]),
			PowerW:         parseNVIDIAFloat(record[8]),
		}
		if util := parseNVIDIAFloat(record[2]); util != nil {
			m.Utilization = float64Ptr(clamp(*util, 0, 100) / 100)
		}
		gpus = append(gpus, m)
	}
	if len(gpus) == 0 {
		return nil, errors.New("nvidia-smi reported no devices")
	}
	return gpus, nil
}

// parseNVIDIAFloat returns nil for "[N/A]", "[Not Supported]" and similar.
func parseNVIDIAFloat(raw string) *float64 {
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return nil
	}
	return &value
}

func parseNVIDIAUint(raw string) *uint64 {
	value, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return nil
	}
	return &value
}

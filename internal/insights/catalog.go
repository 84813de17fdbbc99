package insights

import (
	"github.com/skobkin/rigscope/internal/analysis"
	"github.com/skobkin/rigscope/internal/metrics"
)

// catalog maps a finding type and workload to advice. The empty workload key
// is the fallback.
var catalog = map[analysis.Type]map[metrics.WorkloadType][]string{
	analysis.TypeCPU: {
		metrics.WorkloadGaming: {
			"For gaming: Consider upgrading to a CPU with higher single-core performance.",
			"Close background applications and browser tabs while gaming.",
			"Check if your game is CPU-limited by monitoring per-core utilization.",
			"Consider overclocking if your CPU and cooling allow (advanced users only).",
		},
		metrics.WorkloadRendering: {
			"For rendering: Consider upgrading to a CPU with more cores (e.g., Ryzen 9, Threadripper, or Intel Xeon).",
			"Ensure your rendering software is using all available CPU cores.",
			"Consider using GPU-accelerated rendering if available (e.g., CUDA, OpenCL).",
		},
		metrics.WorkloadAI: {
			"For AI/ML: Consider upgrading to a CPU with more cores for data preprocessing.",
			"Optimize data loading pipeline to reduce CPU bottleneck.",
			"Consider using a faster storage solution (NVMe SSD) for dataset access.",
		},
		"": {
			"Consider upgrading to a faster CPU with more cores.",
			"Close background applications to free CPU resources.",
			"Check for CPU-intensive processes and optimize them.",
		},
	},
	analysis.TypeGPU: {
		metrics.WorkloadGaming: {
			"For gaming: Consider upgrading to a more powerful GPU.",
			"Lower graphics settings: Reduce texture quality, shadows, and anti-aliasing.",
			"Reduce resolution or use upscaling (DLSS/FSR) if available.",
		},
		metrics.WorkloadRendering: {
			"For rendering: Consider upgrading to a professional GPU (Quadro, Radeon Pro) or high-end consumer GPU.",
			"Use GPU-accelerated rendering engines (e.g., Cycles GPU, Octane, Redshift).",
			"Reduce scene complexity or use proxy objects for complex geometry.",
			"Optimize texture sizes and use compression where appropriate.",
		},
		metrics.WorkloadAI: {
			"For AI/ML: Consider upgrading to a GPU with more CUDA cores and VRAM (e.g., RTX 3090/4090, A100).",
			"Reduce batch size to fit within available VRAM.",
			"Use mixed precision training (FP16) to reduce VRAM usage.",
			"Consider using model quantization or pruning to reduce model size.",
		},
		"": {
			"Consider upgrading to a more powerful GPU.",
			"Lower graphics settings in games or rendering applications.",
			"Reduce resolution or disable resource-intensive visual effects.",
		},
	},
	analysis.TypeRAM: {
		metrics.WorkloadGaming: {
			"For gaming: Consider adding more RAM (16GB+ recommended for modern games).",
			"Close unnecessary applications and browser tabs while gaming.",
			"Check if your game has memory leaks or high memory requirements.",
		},
		metrics.WorkloadRendering: {
			"For rendering: Consider adding more RAM (32GB+ recommended for 4K/8K projects).",
			"Use proxy files or lower resolution previews during editing.",
			"Close other applications to free up RAM for rendering.",
		},
		metrics.WorkloadAI: {
			"For AI/ML: Consider adding more RAM (32GB+ recommended for large datasets).",
			"Use data streaming or batch loading instead of loading entire datasets into memory.",
			"Optimize data preprocessing to reduce memory footprint.",
		},
		metrics.WorkloadProductivity: {
			"For productivity: Consider adding more RAM (16GB+ recommended for multitasking).",
			"Close unused browser tabs and applications.",
			"Check for memory leaks in frequently used applications.",
		},
		"": {
			"Consider adding more RAM to your system.",
			"Close unnecessary applications to free memory.",
			"Check for memory leaks in running applications.",
		},
	},
	analysis.TypeVRAM: {
		metrics.WorkloadGaming: {
			"For gaming: Consider upgrading to a GPU with more VRAM (8GB+ recommended for modern games).",
			"Lower texture quality settings in games (e.g., High → Medium).",
			"Reduce resolution or disable high-resolution texture packs.",
			"Close other GPU-intensive applications.",
		},
		metrics.WorkloadRendering: {
			"For rendering: Consider upgrading to a GPU with more VRAM (12GB+ recommended).",
			"Reduce texture resolution and use compression.",
			"Use out-of-core rendering or render in passes if available.",
			"Optimize scene geometry and reduce polygon count.",
		},
		metrics.WorkloadAI: {
			"For AI/ML: Consider upgrading to a GPU with more VRAM (24GB+ recommended for large models).",
			"Reduce batch size to fit within available VRAM.",
			"Use gradient checkpointing to reduce memory usage.",
			"Consider using model sharding or distributed training.",
		},
		"": {
			"Consider upgrading to a GPU with more VRAM.",
			"Lower texture quality and resolution in games.",
			"Reduce model complexity in rendering/AI workloads.",
		},
	},
	analysis.TypeStorage: {
		metrics.WorkloadRendering: {
			"For rendering: Consider upgrading to a faster NVMe SSD for project files and cache.",
			"Use separate drives for OS, projects, and cache to improve I/O performance.",
			"Free up disk space on your project drive (keep 20%+ free).",
		},
		metrics.WorkloadAI: {
			"For AI/ML: Consider using a fast NVMe SSD for dataset storage.",
			"Use data prefetching and caching to reduce I/O wait times.",
			"Consider using RAM disk for frequently accessed small datasets.",
		},
		metrics.WorkloadProductivity: {
			"For productivity: Consider upgrading to an SSD if using an HDD.",
			"Free up disk space (keep 15%+ free for optimal performance).",
			"Defragment HDD if applicable (not needed for SSDs).",
		},
		"": {
			"Consider upgrading to a faster SSD or NVMe drive.",
			"Free up disk space to improve performance.",
			"Check for disk fragmentation and defragment if needed.",
		},
	},
	analysis.TypeThermal: {
		"": {
			"Improve system cooling: Add case fans, upgrade CPU cooler, or improve case airflow.",
			"Clean dust from system components (CPU heatsink, GPU fans, case filters).",
			"Check thermal paste on CPU/GPU - consider reapplying if temperatures are very high.",
			"Ensure proper case ventilation and cable management for better airflow.",
			"Consider undervolting CPU/GPU (advanced users only) to reduce heat generation.",
		},
	},
	analysis.TypeBandwidth: {
		"": {
			"Check PCIe slot configuration - ensure GPU is in the fastest available slot (usually x16).",
			"Verify PCIe generation (PCIe 4.0/5.0) and ensure components support it.",
			"Check for loose connections or damaged PCIe slots.",
			"Consider upgrading motherboard if PCIe bandwidth is limiting performance.",
		},
	},
}

package media

import (
	"fmt"
	"log"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// ToolStatus reports the availability of one external CLI.
type ToolStatus struct {
	Available bool `json:"available"`
}

// HealthReport is the health endpoint payload: tool presence plus a coarse
// overall verdict. It checks binary presence only, never runs the tools.
type HealthReport struct {
	FFmpeg  bool                  `json:"ffmpeg"`
	CLIs    map[string]ToolStatus `json:"clis"`
	Overall string                `json:"overall"`
}

// Health summarizes collaborator availability. Overall is "ok" when the
// transcoder is present, "degraded" otherwise; the AI CLIs are optional
// because every enhancement mode has an in-process path.
func Health(tc *Transcoder, up *Upscaler, en *Enhancer) HealthReport {
	report := HealthReport{
		FFmpeg: tc.Available(),
		CLIs: map[string]ToolStatus{
			"realesrgan": {Available: up.CLIAvailable()},
			"gfpgan":     {Available: en.CLIAvailable()},
		},
	}
	report.Overall = "degraded"
	if report.FFmpeg {
		report.Overall = "ok"
	}
	return report
}

// ResourceLimits gates new submissions on free system resources. Zero values
// disable the corresponding check.
type ResourceLimits struct {
	ThrottleCPU float64 // required idle CPU percentage
	FreeMemory  int64   // required available bytes
	FreeDisk    int64   // required free bytes at Path
	Path        string  // mount to check for free disk
}

// CheckResources returns an error when the host is too loaded to accept new
// work. Probe failures only log; an unreadable metric never blocks intake.
func CheckResources(lim ResourceLimits) error {
	if lim.ThrottleCPU > 0 {
		p, err := cpu.Percent(time.Second, false)
		if err != nil {
			log.Printf("could not read CPU usage: %v", err)
		} else if len(p) > 0 && p[0] > 100.0-lim.ThrottleCPU {
			return fmt.Errorf("not enough idle CPU: usage %.1f%%, need %.1f%% idle", p[0], lim.ThrottleCPU)
		}
	}

	if lim.FreeMemory > 0 {
		vm, err := mem.VirtualMemory()
		if err != nil {
			log.Printf("could not read memory usage: %v", err)
		} else if vm.Available < uint64(lim.FreeMemory) {
			return fmt.Errorf("not enough free memory: available %d, need %d", vm.Available, lim.FreeMemory)
		}
	}

	if lim.FreeDisk > 0 && lim.Path != "" {
		d, err := disk.Usage(lim.Path)
		if err != nil {
			log.Printf("could not read disk usage for %s: %v", lim.Path, err)
		} else if d.Free < uint64(lim.FreeDisk) {
			return fmt.Errorf("not enough free disk: available %d, need %d", d.Free, lim.FreeDisk)
		}
	}
	return nil
}

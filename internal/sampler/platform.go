package sampler

import (
	"bufio"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Dicklesworthstone/sysmoni/internal/model"
)

const gpuQueryTimeout = 400 * time.Millisecond

var (
	batteryGlob = "/sys/class/power_supply/BAT*/capacity"
	thermalGlob = "/sys/class/thermal/thermal_zone*/temp"
)

func gpuAvailable() bool {
	_, err := exec.LookPath("nvidia-smi")
	return err == nil
}

func queryGPU(ctx context.Context) ([]model.GPU, error) {
	out, err := runCmd(ctx, gpuQueryTimeout, "nvidia-smi",
		"--query-gpu=name,utilization.gpu,memory.used,memory.total,temperature.gpu",
		"--format=csv,noheader,nounits")
	if err != nil {
		return nil, err
	}
	return parseGPU(out), nil
}

func parseGPU(out string) []model.GPU {
	var gpus []model.GPU
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		parts := strings.Split(sc.Text(), ",")
		if len(parts) < 5 {
			continue
		}
		gpus = append(gpus, model.GPU{
			Name:       strings.TrimSpace(parts[0]),
			Util:       parseFloat(parts[1]),
			MemUsedMB:  parseFloat(parts[2]),
			MemTotalMB: parseFloat(parts[3]),
			TempC:      parseFloat(parts[4]),
		})
	}
	return gpus
}

func batteryAvailable() bool {
	paths, _ := filepath.Glob(batteryGlob)
	return len(paths) > 0
}

func readBattery() (*model.Battery, error) {
	paths, _ := filepath.Glob(batteryGlob)
	for _, capPath := range paths {
		capBytes, err := os.ReadFile(capPath)
		if err != nil {
			continue
		}
		base := filepath.Dir(capPath)
		stateBytes, _ := os.ReadFile(filepath.Join(base, "status"))
		return &model.Battery{
			Percent: parseFloat(string(capBytes)),
			State:   strings.TrimSpace(string(stateBytes)),
		}, nil
	}
	return nil, errors.New("battery capacity unreadable")
}

// thermalZones is the sysfs fallback when hwmon reports nothing.
func thermalZones() []model.Temp {
	var temps []model.Temp
	paths, _ := filepath.Glob(thermalGlob)
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		zone := filepath.Base(filepath.Dir(p))
		if t, err := os.ReadFile(filepath.Join(filepath.Dir(p), "type")); err == nil {
			if name := strings.TrimSpace(string(t)); name != "" {
				zone = name
			}
		}
		temps = append(temps, model.Temp{Sensor: zone, Celsius: parseFloat(string(b)) / 1000})
	}
	return temps
}

func parseFloat(s string) float64 {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "%")
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func runCmd(ctx context.Context, timeout time.Duration, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	return string(out), err
}

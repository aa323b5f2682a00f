// Package memory checks that a conversion's scratch buffers fit on the host.
package memory

import (
	"errors"
	"fmt"

	"github.com/docker/go-units"
	"github.com/elastic/go-sysinfo"
	"github.com/sirupsen/logrus"
)

var ErrInsufficientMemory = errors.New("insufficient host memory")

type SystemMemoryInfo interface {
	HaveSufficientMemory(required uint64) (bool, error)
	GetTotalMemory() uint64
}

type systemMemoryInfo struct {
	log         logrus.FieldLogger
	totalMemory uint64
}

// NewSystemMemoryInfo reads the host RAM size. When it cannot be read every
// check passes.
func NewSystemMemoryInfo(log logrus.FieldLogger) SystemMemoryInfo {
	var ramSize uint64
	hostInfo, err := sysinfo.Host()
	if err != nil {
		log.Warnf("Could not read host info: %s", err)
	} else {
		ram, err := hostInfo.Memory()
		if err != nil {
			log.Warnf("Could not read host RAM size: %s", err)
		} else {
			ramSize = ram.Total
			log.Debugf("Running on system with %d MB RAM", ramSize/1024/1024)
		}
	}
	return &systemMemoryInfo{log: log, totalMemory: ramSize}
}

// NewStaticMemoryInfo reports a fixed amount of RAM. Zero disables checks.
func NewStaticMemoryInfo(log logrus.FieldLogger, total uint64) SystemMemoryInfo {
	return &systemMemoryInfo{log: log, totalMemory: total}
}

// HaveSufficientMemory reports whether required bytes fit in half of the
// host RAM, leaving the rest to the page cache and the shard mappings.
func (s *systemMemoryInfo) HaveSufficientMemory(required uint64) (bool, error) {
	if s.totalMemory == 0 {
		return true, nil
	}
	return required <= s.totalMemory/2, nil
}

func (s *systemMemoryInfo) GetTotalMemory() uint64 {
	return s.totalMemory
}

// CheckScratch fails when scratch bytes of conversion buffers do not fit on
// the host.
func CheckScratch(info SystemMemoryInfo, scratch int64) error {
	if scratch < 0 {
		return fmt.Errorf("negative scratch size %d", scratch)
	}
	ok, err := info.HaveSufficientMemory(uint64(scratch))
	if err != nil {
		return fmt.Errorf("checking if system has sufficient memory: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: chunk buffers need %s, host has %s",
			ErrInsufficientMemory,
			units.BytesSize(float64(scratch)),
			units.BytesSize(float64(info.GetTotalMemory())))
	}
	return nil
}

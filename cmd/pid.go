package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// ErrAlreadyRunning is returned when another load owns the work dir and prefix
var ErrAlreadyRunning = errors.New("another load is already running")

// RunInfo represents the current load's status
type RunInfo struct {
	PID        int       `json:"pid"`
	RunID      string    `json:"run_id"`
	StartTime  time.Time `json:"start_time"`
	Schema     string    `json:"schema"`
	Table      string    `json:"table"`
	State      string    `json:"state"`
	Partitions int       `json:"partitions"`
	Staged     int       `json:"staged"`
	Uploaded   int       `json:"uploaded"`
	RowsLoaded int64     `json:"rows_loaded"`
	LastUpdate time.Time `json:"last_update"`
}

func stateDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".redshift-loader")
}

// GetPIDFilePath returns the path to the PID file
func GetPIDFilePath() string {
	return filepath.Join(stateDir(), "loader.pid")
}

// GetRunFilePath returns the path to the run info file
func GetRunFilePath() string {
	return filepath.Join(stateDir(), "current_run.json")
}

// WritePIDFile writes the current process PID to a file. It refuses while the PID
// file names another live process; a stale file is replaced.
func WritePIDFile() error {
	if pid, err := ReadPIDFile(); err == nil && pid != os.Getpid() && IsProcessRunning(pid) {
		return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
	}

	pidPath := GetPIDFilePath()
	if err := os.MkdirAll(filepath.Dir(pidPath), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	return os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0o600)
}

// RemovePIDFile removes the PID file
func RemovePIDFile() error {
	return os.Remove(GetPIDFilePath())
}

// ReadPIDFile reads the PID from file
func ReadPIDFile() (int, error) {
	data, err := os.ReadFile(GetPIDFilePath())
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in file: %w", err)
	}

	return pid, nil
}

// IsProcessRunning checks if a process with given PID is running
func IsProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// Signal 0 checks for existence without delivering anything
	return process.Signal(syscall.Signal(0)) == nil
}

// WriteRunInfo writes current run information to file
func WriteRunInfo(info *RunInfo) error {
	runPath := GetRunFilePath()
	if err := os.MkdirAll(filepath.Dir(runPath), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	info.LastUpdate = time.Now()

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run info: %w", err)
	}

	return os.WriteFile(runPath, data, 0o600)
}

// ReadRunInfo reads current run information from file
func ReadRunInfo() (*RunInfo, error) {
	data, err := os.ReadFile(GetRunFilePath())
	if err != nil {
		return nil, err
	}

	var info RunInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run info: %w", err)
	}

	return &info, nil
}

// RemoveRunFile removes the run info file
func RemoveRunFile() error {
	return os.Remove(GetRunFilePath())
}

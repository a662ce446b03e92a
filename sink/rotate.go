package sink

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

const (
	_logFileMode = 0644
	_logDirMode  = 0755

	_secondsPerDay = 24 * 60 * 60
)

// updateFileFd returns a descriptor for filePath, rotating the current
// file first when a size or time threshold was crossed. When no rotation
// is due it hands back oldFD unchanged.
func updateFileFd(filePath string, splitHour, splitMB int, oldFD *os.File,
	oldCreateTime time.Time) (*os.File, time.Time, error) {
	if len(filePath) == 0 {
		return nil, time.Time{}, errors.New("filename is empty")
	}

	rotate, err := checkRotation(filePath, splitHour, splitMB, oldFD, oldCreateTime)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("check rotation: %w", err)
	}
	if !rotate {
		return oldFD, oldCreateTime, nil
	}

	newFD, createTime, err := openLogFile(filePath)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("open log file: %w", err)
	}
	return newFD, createTime, nil
}

func checkRotation(filePath string, splitHour, splitMB int, oldFD *os.File,
	oldCreateTime time.Time) (bool, error) {
	if oldFD == nil {
		return true, nil
	}

	now := time.Now()

	fi, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, fmt.Errorf("stat file: %w", err)
	}

	if shouldRotateByTime(oldCreateTime, now, splitHour) {
		if err := moveLogFile(oldFD, filePath, now); err != nil {
			return false, fmt.Errorf("move file by time: %w", err)
		}
		return true, nil
	}

	if shouldRotateBySize(fi.Size(), splitMB) {
		if err := moveLogFile(oldFD, filePath, now); err != nil {
			return false, fmt.Errorf("move file by size: %w", err)
		}
		return true, nil
	}

	return false, nil
}

// shouldRotateByTime triggers when the clock crosses splitHour and
// unconditionally once the file is older than a day. splitHour 0 disables
// time-based rotation.
func shouldRotateByTime(createTime, now time.Time, splitHour int) bool {
	if splitHour == 0 {
		return false
	}

	if createTime.Unix()+_secondsPerDay <= now.Unix() {
		return true
	}

	if createTime.Day() == now.Day() {
		return now.Hour() >= splitHour && createTime.Hour() < splitHour
	}

	return now.Hour() >= splitHour
}

func shouldRotateBySize(size int64, splitMB int) bool {
	if splitMB == 0 {
		return false
	}
	return size >= int64(splitMB)<<20
}

func moveLogFile(oldFD *os.File, filePath string, now time.Time) error {
	if oldFD != nil {
		if err := oldFD.Close(); err != nil {
			return fmt.Errorf("close old file: %w", err)
		}
	}

	backupPath, err := generateBackupFileName(filePath, now)
	if err != nil {
		return fmt.Errorf("generate backup filename: %w", err)
	}

	if err := os.Rename(filePath, backupPath); err != nil {
		return fmt.Errorf("rename file: %w", err)
	}
	return nil
}

// generateBackupFileName appends a second-precision timestamp to the file
// name, bumping the timestamp on collisions. Gives up after 5 attempts.
func generateBackupFileName(filePath string, now time.Time) (string, error) {
	ext := filepath.Ext(filePath)
	baseName := strings.TrimSuffix(filePath, ext)

	for i := 0; i < 5; i++ {
		ts := now.Add(time.Duration(i) * time.Second)
		backupPath := fmt.Sprintf("%s%s.%04d%02d%02d-%02d%02d%02d",
			baseName,
			ext,
			ts.Year(),
			ts.Month(),
			ts.Day(),
			ts.Hour(),
			ts.Minute(),
			ts.Second(),
		)

		exists, err := fileExists(backupPath)
		if err != nil {
			return "", fmt.Errorf("check file existence: %w", err)
		}
		if !exists {
			return backupPath, nil
		}
	}

	return "", errors.New("cannot generate unique backup filename")
}

func fileExists(filePath string) (bool, error) {
	_, err := os.Stat(filePath)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat file: %w", err)
}

// openLogFile opens filePath for appending, creating parent directories as
// needed. The returned create time is rounded to whole seconds so a
// freshly rotated file is not re-rotated within the same second.
func openLogFile(filePath string) (*os.File, time.Time, error) {
	dir := path.Dir(filePath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, _logDirMode); err != nil {
			return nil, time.Time{}, fmt.Errorf("create directory: %w", err)
		}
	}

	fd, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, _logFileMode)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("open file: %w", err)
	}

	createTime, err := fileCreateTime(filePath)
	if err != nil {
		fd.Close()
		return nil, time.Time{}, fmt.Errorf("get file create time: %w", err)
	}

	if createTime.UnixNano()%int64(time.Second) > int64(time.Second)/2 {
		createTime = time.Unix(createTime.Unix()+1, 0)
	}

	return fd, createTime, nil
}

// fileCreateTime falls back to ModTime; Go exposes no portable creation
// time.
func fileCreateTime(filePath string) (time.Time, error) {
	fi, err := os.Stat(filePath)
	if err != nil {
		return time.Time{}, err
	}
	return fi.ModTime(), nil
}

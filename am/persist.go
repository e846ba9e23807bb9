package am

import (
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/teranos/enrolpulse/errors"
	"github.com/teranos/enrolpulse/logger"
)

// SetBackgroundJob persists pulse.background_jobs.<jobName> = enabled into the
// TOML file at configPath, keeping every other setting in the file.
func SetBackgroundJob(configPath, jobName string, enabled bool) error {
	if jobName == "" {
		return errors.NewInvalidRequestError("job name is required")
	}

	config, err := readTOML(configPath)
	if err != nil {
		return err
	}

	pulse, _ := config["pulse"].(map[string]interface{})
	if pulse == nil {
		pulse = make(map[string]interface{})
	}
	jobs, _ := pulse["background_jobs"].(map[string]interface{})
	if jobs == nil {
		jobs = make(map[string]interface{})
	}

	jobs[jobName] = enabled
	pulse["background_jobs"] = jobs
	config["pulse"] = pulse

	return writeTOML(configPath, config)
}

func readTOML(configPath string) (map[string]interface{}, error) {
	config := make(map[string]interface{})

	data, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		return config, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", configPath)
	}

	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", configPath)
	}
	return config, nil
}

func writeTOML(configPath string, config map[string]interface{}) error {
	if err := createBackup(configPath); err != nil {
		return errors.Wrap(err, "failed to create backup")
	}

	data, err := toml.Marshal(config)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	// Our own write must not trigger a reload loop
	if w := GetGlobalWatcher(); w != nil {
		w.MarkOwnWrite()
	}

	if err := os.WriteFile(configPath, data, DefaultFilePermissions); err != nil {
		return errors.Wrapf(err, "failed to write %s", configPath)
	}
	return nil
}

// createBackup rotates .back1 -> .back2 -> .back3 and copies the current file to .back1
func createBackup(configPath string) error {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil
	}

	back1 := configPath + ".back1"
	back2 := configPath + ".back2"
	back3 := configPath + ".back3"

	if err := os.Remove(back3); err != nil && !os.IsNotExist(err) {
		logger.Warnw("Failed to delete old config backup", "file", back3, "error", err)
	}
	if _, err := os.Stat(back2); err == nil {
		if err := os.Rename(back2, back3); err != nil {
			return errors.Wrap(err, "failed to rotate .back2 to .back3")
		}
	}
	if _, err := os.Stat(back1); err == nil {
		if err := os.Rename(back1, back2); err != nil {
			return errors.Wrap(err, "failed to rotate .back1 to .back2")
		}
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return errors.Wrap(err, "failed to read config for backup")
	}
	if err := os.WriteFile(back1, content, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to create .back1")
	}
	return nil
}

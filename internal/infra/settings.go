package infra

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

const (
	// SettingsDirName is the per-project and per-user configuration directory
	SettingsDirName  = ".klein-dm"
	SettingsFileName = "settings.json"
)

// FileSettingsRepository represents file-persisted settings repository
type FileSettingsRepository struct {
	configPath string // Specific path (empty means search for file)
}

// InMemorySettingsRepository represents in-memory-only settings repository
type InMemorySettingsRepository struct {
	data []byte
}

func NewFileSettingsRepository(configPath string) *FileSettingsRepository {
	return &FileSettingsRepository{configPath: configPath}
}

func NewInMemorySettingsRepository() *InMemorySettingsRepository {
	return &InMemorySettingsRepository{}
}

func (fr *FileSettingsRepository) Load() ([]byte, error) {
	configPath := fr.configPath
	if configPath == "" {
		foundPath, err := fr.FindSettingsFile()
		if err != nil {
			return nil, err
		}
		if foundPath == "" {
			return nil, errors.New("no settings file found")
		}
		configPath = foundPath
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read settings file %s", configPath)
	}
	return data, nil
}

func (fr *FileSettingsRepository) Save(data []byte) error {
	configPath := fr.configPath
	if configPath == "" {
		if foundPath, _ := fr.FindSettingsFile(); foundPath != "" {
			configPath = foundPath
		} else {
			configPath = filepath.Join(SettingsDirName, SettingsFileName)
		}
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return errors.Wrap(err, "failed to write settings file")
	}
	return nil
}

// FindSettingsFile looks in ./.klein-dm, then ~/.klein-dm. It returns ""
// when neither holds a settings file.
func (fr *FileSettingsRepository) FindSettingsFile() (string, error) {
	candidates := []string{filepath.Join(SettingsDirName, SettingsFileName)}
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(homeDir, SettingsDirName, SettingsFileName))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

func (mr *InMemorySettingsRepository) Load() ([]byte, error) {
	if mr.data == nil {
		return nil, errors.New("no data stored in memory repository")
	}
	return mr.data, nil
}

func (mr *InMemorySettingsRepository) Save(data []byte) error {
	mr.data = append([]byte(nil), data...)
	return nil
}

func (mr *InMemorySettingsRepository) FindSettingsFile() (string, error) {
	return "", nil
}

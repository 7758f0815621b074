package repository

// SettingsRepository abstracts settings persistence
type SettingsRepository interface {
	Load() ([]byte, error)
	Save(data []byte) error
	// FindSettingsFile returns the path of an existing settings file, or ""
	FindSettingsFile() (string, error)
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/fpt/klein-dm/internal/infra"
	pkgLogger "github.com/fpt/klein-dm/pkg/logger"
)

// UserConfig manages per-user data directories
type UserConfig struct {
	BaseDir     string // $HOME/.klein-dm
	ProjectsDir string // $HOME/.klein-dm/projects
}

// DefaultUserConfig creates the default user configuration
func DefaultUserConfig() (*UserConfig, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get user home directory")
	}
	return NewUserConfig(filepath.Join(homeDir, infra.SettingsDirName))
}

// NewUserConfig roots the user directories at baseDir and creates them
func NewUserConfig(baseDir string) (*UserConfig, error) {
	c := &UserConfig{
		BaseDir:     baseDir,
		ProjectsDir: filepath.Join(baseDir, "projects"),
	}
	for _, dir := range []string{c.BaseDir, c.ProjectsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Wrapf(err, "failed to create directory %s", dir)
		}
	}
	return c, nil
}

// GetProjectDataDir returns $BASE/projects/{project-hash}/, creating it
func (c *UserConfig) GetProjectDataDir(projectPath string) (string, error) {
	absPath, err := filepath.Abs(projectPath)
	if err != nil {
		return "", errors.Wrap(err, "failed to get absolute path")
	}

	projectDir := filepath.Join(c.ProjectsDir, generateProjectHash(absPath))
	if err := os.MkdirAll(projectDir, 0755); err != nil {
		return "", errors.Wrap(err, "failed to create project directory")
	}

	infoFile := filepath.Join(projectDir, "project_info.txt")
	if _, err := os.Stat(infoFile); os.IsNotExist(err) {
		info := "Project Path: " + absPath + "\nCreated: " + time.Now().Format("2006-01-02 15:04:05") + "\n"
		if err := os.WriteFile(infoFile, []byte(info), 0644); err != nil {
			pkgLogger.NewComponentLogger("user-config").WarnWithIntention(pkgLogger.IntentionWarning, "Failed to create project info file", "error", err)
		}
	}
	return projectDir, nil
}

// GetProjectHistoryFile returns the readline history file for a project
func (c *UserConfig) GetProjectHistoryFile(projectPath string) (string, error) {
	projectDir, err := c.GetProjectDataDir(projectPath)
	if err != nil {
		return "", err
	}
	return filepath.Join(projectDir, "history.txt"), nil
}

// generateProjectHash turns an absolute path into a safe directory name:
// /home/me/campaign becomes -home-me-campaign
func generateProjectHash(projectPath string) string {
	dashPath := strings.ReplaceAll(filepath.ToSlash(projectPath), "/", "-")

	var b strings.Builder
	for _, r := range dashPath {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

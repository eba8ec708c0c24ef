package scaffold

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dyluth/hitmap/internal/config"
	"github.com/dyluth/hitmap/internal/meta"
)

//go:embed templates/*
var templatesFS embed.FS

// Names of the files written by Initialize
const (
	SetupFile = "microscope_setup.yml"
	ToolsFile = "tools.yml"
	MetaFile  = "image_meta.tsv"
)

// FileInfo represents a file to be created during initialization
type FileInfo struct {
	Path        string
	Content     []byte
	Permissions os.FileMode
}

// Initialize writes example run inputs into dir and returns the paths written.
// If force is true, existing files of the same names are replaced.
func Initialize(dir string, force bool) ([]string, error) {
	if !force {
		if err := CheckExisting(dir); err != nil {
			return nil, err
		}
	}

	files, err := getTemplateFiles(dir)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	if err := writeFiles(files); err != nil {
		return nil, err
	}
	if err := validateCreatedFiles(dir); err != nil {
		return nil, err
	}

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}
	return paths, nil
}

// getTemplateFiles reads all template files
func getTemplateFiles(dir string) ([]FileInfo, error) {
	var files []FileInfo
	for _, name := range []string{SetupFile, ToolsFile, MetaFile} {
		content, err := templatesFS.ReadFile("templates/" + name + ".tmpl")
		if err != nil {
			return nil, fmt.Errorf("failed to read %s template: %w", name, err)
		}
		files = append(files, FileInfo{
			Path:        filepath.Join(dir, name),
			Content:     content,
			Permissions: 0644,
		})
	}
	return files, nil
}

// writeFiles writes all template files to disk
func writeFiles(files []FileInfo) error {
	for _, file := range files {
		if err := os.WriteFile(file.Path, file.Content, file.Permissions); err != nil {
			return fmt.Errorf("failed to write %s: %w", file.Path, err)
		}
	}
	return nil
}

// validateCreatedFiles loads the written files the way 'hitmap run' does
func validateCreatedFiles(dir string) error {
	if _, err := config.LoadMicroscopeSetup(filepath.Join(dir, SetupFile)); err != nil {
		return fmt.Errorf("created %s is invalid: %w", SetupFile, err)
	}
	if _, err := config.LoadTools(filepath.Join(dir, ToolsFile)); err != nil {
		return fmt.Errorf("created %s is invalid: %w", ToolsFile, err)
	}
	if _, err := meta.Load(filepath.Join(dir, MetaFile)); err != nil {
		return fmt.Errorf("created %s is invalid: %w", MetaFile, err)
	}
	return nil
}

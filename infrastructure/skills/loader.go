// Package skills loads skill bundles from the filesystem and keeps the
// registry current as files change.
package skills

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/dbpilot/dbpilot/domain/skill"
	"github.com/dbpilot/dbpilot/infrastructure/logging"
)

// Load reads every skill under dir. Two layouts are accepted: a directory
// per skill containing SKILL.md, or bare <name>.md files. Unparseable files
// are logged and skipped so one broken skill cannot take down the rest.
func Load(dir string) ([]skill.Skill, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []skill.Skill
	for _, entry := range entries {
		path := ""
		switch {
		case entry.IsDir():
			path = filepath.Join(dir, entry.Name(), "SKILL.md")
			if _, err := os.Stat(path); err != nil {
				continue
			}
		case strings.HasSuffix(entry.Name(), ".md"):
			path = filepath.Join(dir, entry.Name())
		default:
			continue
		}

		content, err := os.ReadFile(path)
		if err != nil {
			logging.Warn().
				Add(logging.Component("skills")).
				Add(logging.Str("path", path)).
				Add(logging.ErrorField(err)).
				Msg("skill file unreadable")
			continue
		}
		s, err := skill.Parse(content, path)
		if err != nil {
			logging.Warn().
				Add(logging.Component("skills")).
				Add(logging.Str("path", path)).
				Add(logging.ErrorField(err)).
				Msg("skill file rejected")
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// LoadInto loads dir and replaces the registry contents.
func LoadInto(registry *skill.Registry, dir string) error {
	loaded, err := Load(dir)
	if err != nil {
		return err
	}
	registry.Replace(loaded)
	logging.Info().
		Add(logging.Component("skills")).
		Add(logging.Count(len(loaded))).
		Msg("skills loaded")
	return nil
}

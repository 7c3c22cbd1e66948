package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/loykin/samgo/internal/service"
)

// CatalogFile is the JSON layout accepted by LoadFile.
type CatalogFile struct {
	Games []GameEntry `json:"games"`
}

type GameEntry struct {
	AppID        uint32         `json:"app_id"`
	Achievements []CatalogEntry `json:"achievements"`
}

type CatalogEntry struct {
	service.Definition
	Achieved bool `json:"achieved"`
}

// LoadFile builds a Service seeded from a JSON catalog file.
func LoadFile(path string) (*Service, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var cf CatalogFile
	if err := json.Unmarshal(b, &cf); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	s := New()
	for _, g := range cf.Games {
		if g.AppID == 0 {
			return nil, fmt.Errorf("catalog %s: game without app_id", path)
		}
		s.AddGame(g.AppID)
		for _, e := range g.Achievements {
			s.AddGame(g.AppID, e.Definition)
			if e.Achieved {
				s.SetState(g.AppID, e.ID, true)
			}
		}
	}
	return s, nil
}

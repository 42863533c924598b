package simulator

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/groundlink/missionwatch/pkg/models"
)

// missionFile is the YAML shape of a simulator mission definition: the
// static mission metadata plus per-node execution scripts.
type missionFile struct {
	ID    string         `yaml:"id"`
	Name  string         `yaml:"name"`
	Nodes []missionFNode `yaml:"nodes"`
	Edges []missionFEdge `yaml:"edges"`
}

type missionFNode struct {
	ID        string   `yaml:"id"`
	Label     string   `yaml:"label"`
	Type      string   `yaml:"type"`
	DependsOn []string `yaml:"dependsOn"`

	// Duration is parsed with time.ParseDuration, e.g. "500ms"
	Duration string   `yaml:"duration"`
	Fail     bool     `yaml:"fail"`
	Output   string   `yaml:"output"`
	Files    []string `yaml:"files"`
}

type missionFEdge struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// LoadMissionFile parses one YAML mission definition.
func LoadMissionFile(path string) (models.Mission, map[string]*NodeScript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.Mission{}, nil, fmt.Errorf("read mission file: %w", err)
	}

	var mf missionFile
	if err := yaml.Unmarshal(data, &mf); err != nil {
		return models.Mission{}, nil, fmt.Errorf("parse mission file %s: %w", path, err)
	}
	if mf.ID == "" {
		return models.Mission{}, nil, fmt.Errorf("mission file %s: id is required", path)
	}

	mission := models.Mission{ID: mf.ID, Name: mf.Name}
	scripts := make(map[string]*NodeScript, len(mf.Nodes))
	for _, n := range mf.Nodes {
		mission.Nodes = append(mission.Nodes, models.MissionNode{
			ID:        n.ID,
			Label:     n.Label,
			Type:      n.Type,
			DependsOn: n.DependsOn,
		})
		var duration time.Duration
		if n.Duration != "" {
			duration, err = time.ParseDuration(n.Duration)
			if err != nil {
				return models.Mission{}, nil, fmt.Errorf("mission file %s: node %s: bad duration %q: %w", path, n.ID, n.Duration, err)
			}
		}
		scripts[n.ID] = &NodeScript{
			Duration: duration,
			Fail:     n.Fail,
			Output:   n.Output,
			Files:    n.Files,
		}
	}
	for _, e := range mf.Edges {
		mission.Edges = append(mission.Edges, models.Edge{From: e.From, To: e.To})
	}
	return mission, scripts, nil
}

// LoadMissionDir registers every .yaml/.yml mission under dir, in name
// order.
func (e *Engine) LoadMissionDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read mission dir: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		mission, scripts, err := LoadMissionFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		e.AddMission(mission, scripts)
	}
	return nil
}

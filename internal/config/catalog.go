package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// AgentDescriptor is one entry of the agent catalog returned by the
// getModels RPC.
type AgentDescriptor struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

type agentCatalogFile struct {
	Agents []AgentDescriptor `yaml:"agents"`
}

// LoadAgentCatalog reads the YAML agent catalog at path. Entries without an
// id are skipped.
func LoadAgentCatalog(path string) ([]AgentDescriptor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agent catalog: %w", err)
	}
	var parsed agentCatalogFile
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse agent catalog: %w", err)
	}
	var agents []AgentDescriptor
	for _, a := range parsed.Agents {
		if strings.TrimSpace(a.ID) == "" {
			continue
		}
		if strings.TrimSpace(a.Name) == "" {
			a.Name = a.ID
		}
		agents = append(agents, a)
	}
	return agents, nil
}

// DefaultAgentCatalog builds a single-entry catalog from the configured
// agent id, used when no catalog file is provided.
func DefaultAgentCatalog(agentID string) []AgentDescriptor {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		agentID = "loopback"
	}
	return []AgentDescriptor{{
		ID:          agentID,
		Name:        agentID,
		Description: "default relay agent",
	}}
}

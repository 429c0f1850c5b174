// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package controlif

import (
	"context"
	"fmt"

	"github.com/noldarim/wlctl/pkg/controlif/wire"
	"github.com/noldarim/wlctl/pkg/manifest"
	"github.com/noldarim/wlctl/pkg/statetree"
	"github.com/noldarim/wlctl/pkg/workload"
	"github.com/noldarim/wlctl/pkg/workloadstate"
)

const (
	configsPrefix = "desiredState.configs"
	agentsPrefix  = "agents"
)

// UpdateResult lists the instances the orchestrator added and deleted to
// carry out an update.
type UpdateResult struct {
	Added   []workloadstate.InstanceName `json:"added"`
	Deleted []workloadstate.InstanceName `json:"deleted"`
}

// ApplyState asks the orchestrator to make the paths in mask equal to
// their counterparts in state. Paths missing from state are deleted. The
// mask must not be empty.
func (c *Client) ApplyState(ctx context.Context, state *statetree.Node, mask []string) (UpdateResult, error) {
	mask = statetree.NormalizeMask(mask)
	if len(mask) == 0 {
		return UpdateResult{}, ErrEmptyMask
	}
	if state == nil {
		state = statetree.NewMapping()
	}
	req := wire.NewUpdateStateRequest(state, mask)
	resp, err := c.call(ctx, req)
	if err != nil {
		return UpdateResult{}, err
	}
	if resp.Kind != wire.ResponseUpdateStateSuccess {
		return UpdateResult{}, unexpectedResponse(req, resp)
	}

	res := UpdateResult{
		Added:   c.instanceNames(resp.Added),
		Deleted: c.instanceNames(resp.Deleted),
	}
	c.log.Info().
		Int("added", len(res.Added)).
		Int("deleted", len(res.Deleted)).
		Strs("mask", mask).
		Msg("Update successful")
	return res, nil
}

func (c *Client) instanceNames(names []string) []workloadstate.InstanceName {
	out := make([]workloadstate.InstanceName, 0, len(names))
	for _, s := range names {
		i, err := workloadstate.ParseInstanceName(s)
		if err != nil {
			c.log.Warn().Err(err).Str("instance", s).Msg("Ignoring malformed instance name")
			continue
		}
		out = append(out, i)
	}
	return out
}

func (c *Client) deletePaths(ctx context.Context, mask ...string) (UpdateResult, error) {
	return c.ApplyState(ctx, statetree.NewMapping(), mask)
}

// ApplyManifest adds or replaces every workload and config the manifest
// declares.
func (c *Client) ApplyManifest(ctx context.Context, m *manifest.Manifest) (UpdateResult, error) {
	return c.ApplyState(ctx, m.DesiredState(), m.Masks())
}

// DeleteManifest deletes every workload and config the manifest declares.
func (c *Client) DeleteManifest(ctx context.Context, m *manifest.Manifest) (UpdateResult, error) {
	return c.deletePaths(ctx, m.Masks()...)
}

// ApplyWorkload sends the fields of w changed since it was created or
// read. A new workload is sent whole.
func (c *Client) ApplyWorkload(ctx context.Context, w *workload.Workload) (UpdateResult, error) {
	if err := workload.ValidateName("name", w.Name()); err != nil {
		return UpdateResult{}, *err
	}
	masks := w.Masks()
	if len(masks) == 0 {
		return UpdateResult{}, fmt.Errorf("workload %s: %w", w.Name(), ErrEmptyMask)
	}
	state := statetree.NewMapping()
	if err := state.SetPath(w.MainMask(), w.ToNode()); err != nil {
		return UpdateResult{}, err
	}
	return c.ApplyState(ctx, state, masks)
}

// GetWorkload reads the definition of the workload called name.
func (c *Client) GetWorkload(ctx context.Context, name string) (*workload.Workload, error) {
	path := statetree.JoinPath(workload.WorkloadsPrefix, name)
	state, err := c.GetState(ctx, path)
	if err != nil {
		return nil, err
	}
	n, ok := state.Lookup(path)
	if !ok {
		return nil, fmt.Errorf("workload %s: %w", name, ErrNotFound)
	}
	return workload.FromNode(name, n)
}

// DeleteWorkload removes the workload called name.
func (c *Client) DeleteWorkload(ctx context.Context, name string) (UpdateResult, error) {
	return c.deletePaths(ctx, statetree.JoinPath(workload.WorkloadsPrefix, name))
}

// UpdateConfigs replaces every config with configs. Values may be any
// value statetree.FromAny accepts.
func (c *Client) UpdateConfigs(ctx context.Context, configs map[string]any) (UpdateResult, error) {
	n, err := statetree.FromAny(configs)
	if err != nil {
		return UpdateResult{}, fmt.Errorf("invalid configs: %w", err)
	}
	state := statetree.NewMapping()
	if err := state.SetPath(configsPrefix, n); err != nil {
		return UpdateResult{}, err
	}
	return c.ApplyState(ctx, state, []string{configsPrefix})
}

// AddConfig adds or replaces the config called name.
func (c *Client) AddConfig(ctx context.Context, name string, value any) (UpdateResult, error) {
	n, err := statetree.FromAny(value)
	if err != nil {
		return UpdateResult{}, fmt.Errorf("invalid config %s: %w", name, err)
	}
	path := statetree.JoinPath(configsPrefix, name)
	state := statetree.NewMapping()
	if err := state.SetPath(path, n); err != nil {
		return UpdateResult{}, err
	}
	return c.ApplyState(ctx, state, []string{path})
}

// GetConfigs reads every config, keyed by name.
func (c *Client) GetConfigs(ctx context.Context) (*statetree.Node, error) {
	state, err := c.GetState(ctx, configsPrefix)
	if err != nil {
		return nil, err
	}
	configs, ok := state.Lookup(configsPrefix)
	if !ok {
		return statetree.NewMapping(), nil
	}
	return configs, nil
}

// GetConfig reads the config called name.
func (c *Client) GetConfig(ctx context.Context, name string) (*statetree.Node, error) {
	path := statetree.JoinPath(configsPrefix, name)
	state, err := c.GetState(ctx, path)
	if err != nil {
		return nil, err
	}
	n, ok := state.Lookup(path)
	if !ok {
		return nil, fmt.Errorf("config %s: %w", name, ErrNotFound)
	}
	return n, nil
}

// DeleteAllConfigs removes every config.
func (c *Client) DeleteAllConfigs(ctx context.Context) error {
	_, err := c.deletePaths(ctx, configsPrefix)
	return err
}

// DeleteConfig removes the config called name.
func (c *Client) DeleteConfig(ctx context.Context, name string) error {
	_, err := c.deletePaths(ctx, statetree.JoinPath(configsPrefix, name))
	return err
}

// GetState reads the orchestrator state selected by mask; an empty mask
// selects everything. The cache is updated with the answer.
func (c *Client) GetState(ctx context.Context, mask ...string) (*statetree.Node, error) {
	s, err := c.session()
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.getState(ctx, s, mask)
}

// Agent is what the orchestrator knows about one agent.
type Agent struct {
	Name   string            `json:"name"`
	Tags   map[string]string `json:"tags"`
	Status *statetree.Node   `json:"status,omitempty"`
}

func agentFromNode(name string, n *statetree.Node) Agent {
	a := Agent{Name: name, Tags: map[string]string{}}
	if tags, ok := n.Child("tags"); ok {
		for _, k := range tags.Keys() {
			v, _ := tags.Child(k)
			a.Tags[k] = v.StringOr("")
		}
	}
	if status, ok := n.Child("status"); ok {
		a.Status = status
	}
	return a
}

// SetAgentTags replaces the tags of agent.
func (c *Client) SetAgentTags(ctx context.Context, agent string, tags map[string]string) error {
	path := statetree.JoinPath(agentsPrefix, agent, "tags")
	state := statetree.NewMapping()
	if err := state.SetPath(path, statetree.MustFromAny(tags)); err != nil {
		return err
	}
	_, err := c.ApplyState(ctx, state, []string{path})
	return err
}

// GetAgents reads every connected agent, keyed by name.
func (c *Client) GetAgents(ctx context.Context) (map[string]Agent, error) {
	state, err := c.GetState(ctx, agentsPrefix)
	if err != nil {
		return nil, err
	}
	agents, _ := state.Child(agentsPrefix)
	out := make(map[string]Agent, agents.Len())
	for _, name := range agents.Keys() {
		n, _ := agents.Child(name)
		out[name] = agentFromNode(name, n)
	}
	return out, nil
}

// GetAgent reads the agent called name.
func (c *Client) GetAgent(ctx context.Context, name string) (Agent, error) {
	path := statetree.JoinPath(agentsPrefix, name)
	state, err := c.GetState(ctx, path)
	if err != nil {
		return Agent{}, err
	}
	n, ok := state.Lookup(path)
	if !ok {
		return Agent{}, fmt.Errorf("agent %s: %w", name, ErrNotFound)
	}
	return agentFromNode(name, n), nil
}

// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

// Package deployment stores BPMN resources, versions the process definitions
// found in them and resolves definition ids to parsed graphs.
package deployment

import (
	"crypto/md5"
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/cache"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/command"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/model"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/model/bpmn20"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/persistence"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenpvm/pkg/clock"
	"github.com/pbinitiative/zenpvm/pkg/otel"
	"github.com/pbinitiative/zenpvm/pkg/storage"
)

var ErrDeploymentInUse = errors.New("deployment has running process instances")

// Parser builds the process graphs of one resource.
type Parser func(data []byte) ([]*model.ProcessDefinition, error)

// InstanceRemover deletes a running process instance when its deployment is
// removed with cascade.
type InstanceRemover func(cc *command.CommandContext, processInstance *runtime.Execution, reason string) error

type Resource struct {
	Name string
	Data []byte
}

// Builder collects the resources of one deployment.
type Builder struct {
	name             string
	resources        []Resource
	filterDuplicates bool
}

func NewBuilder(name string) *Builder {
	return &Builder{name: name}
}

func (b *Builder) AddResource(name string, data []byte) *Builder {
	b.resources = append(b.resources, Resource{Name: name, Data: data})
	return b
}

// EnableDuplicateFiltering skips the deployment when every process in it is
// unchanged compared to its latest version.
func (b *Builder) EnableDuplicateFiltering() *Builder {
	b.filterDuplicates = true
	return b
}

type Result struct {
	Deployment         runtime.Deployment
	ProcessDefinitions []*model.ProcessDefinition
	// Duplicate is set when nothing was deployed and ProcessDefinitions are the existing latest versions.
	Duplicate bool
}

type Manager struct {
	cache   cache.DeploymentCache
	parse   Parser
	clock   clock.Clock
	logger  hclog.Logger
	metrics *otel.EngineMetrics
}

type Option func(*Manager)

func WithParser(p Parser) Option {
	return func(m *Manager) {
		m.parse = p
	}
}

func WithMetrics(metrics *otel.EngineMetrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

func NewManager(c cache.DeploymentCache, clk clock.Clock, logger hclog.Logger, options ...Option) *Manager {
	m := &Manager{
		cache:  c,
		parse:  bpmn20.Parse,
		clock:  clk,
		logger: logger.Named("deployment"),
	}
	for _, o := range options {
		o(m)
	}
	return m
}

func (m *Manager) Cache() cache.DeploymentCache {
	return m.cache
}

type parsed struct {
	resource Resource
	checksum [16]byte
	defs     []*model.ProcessDefinition
}

func definitionId(key string, version int32, deploymentId int64) string {
	return fmt.Sprintf("%s:%d:%d", key, version, deploymentId)
}

func (m *Manager) Deploy(cc *command.CommandContext, b *Builder) (Result, error) {
	if len(b.resources) == 0 {
		return Result{}, errors.New("deployment contains no resources")
	}
	s, err := persistence.FromCommand(cc)
	if err != nil {
		return Result{}, err
	}
	var all []parsed
	keys := map[string]string{}
	for _, r := range b.resources {
		defs, err := m.parse(r.Data)
		if err != nil {
			return Result{}, fmt.Errorf("failed to parse resource %s: %w", r.Name, err)
		}
		for _, d := range defs {
			if other, ok := keys[d.Key]; ok {
				return Result{}, fmt.Errorf("process %s is defined in %s and %s", d.Key, other, r.Name)
			}
			keys[d.Key] = r.Name
		}
		all = append(all, parsed{resource: r, checksum: md5.Sum(r.Data), defs: defs})
	}

	if b.filterDuplicates {
		existing, err := m.unchanged(cc, s, all)
		if err != nil {
			return Result{}, err
		}
		if existing != nil {
			m.logger.Debug("skipping duplicate deployment", "name", b.name)
			dep, err := s.FindDeployment(existing[0].DeploymentId)
			if err != nil {
				return Result{}, err
			}
			return Result{Deployment: dep, ProcessDefinitions: existing, Duplicate: true}, nil
		}
	}

	dep := runtime.Deployment{
		Name:       b.name,
		DeployTime: m.clock.Now(),
		Resources:  make(map[string][]byte, len(b.resources)),
	}
	for _, r := range b.resources {
		dep.Resources[r.Name] = r.Data
	}
	if err := s.InsertDeployment(&dep); err != nil {
		return Result{}, err
	}
	res := Result{Deployment: dep}
	for _, p := range all {
		for _, d := range p.defs {
			version := int32(1)
			latest, err := s.LatestProcessDefinition(d.Key)
			switch {
			case err == nil:
				version = latest.Version + 1
			case !errors.Is(err, storage.ErrNotFound):
				return Result{}, err
			}
			d.Version = version
			d.DeploymentId = dep.Id
			d.ResourceName = p.resource.Name
			d.Id = definitionId(d.Key, version, dep.Id)
			entity := runtime.ProcessDefinitionEntity{
				Id:           d.Id,
				Key:          d.Key,
				Version:      version,
				Name:         d.Name,
				DeploymentId: dep.Id,
				ResourceName: p.resource.Name,
				Checksum:     p.checksum,
			}
			if err := s.InsertProcessDefinition(entity); err != nil {
				return Result{}, err
			}
			m.pending(cc)[d.Id] = d
			res.ProcessDefinitions = append(res.ProcessDefinitions, d)
			m.logger.Info("process definition deployed", "id", d.Id)
		}
	}
	return res, nil
}

const pendingAttribute = "deployment.pending"

// pending holds the definitions deployed by cc. They reach the cache once cc
// committed.
func (m *Manager) pending(cc *command.CommandContext) map[string]*model.ProcessDefinition {
	if p, ok := cc.Attribute(pendingAttribute).(map[string]*model.ProcessDefinition); ok {
		return p
	}
	p := map[string]*model.ProcessDefinition{}
	cc.SetAttribute(pendingAttribute, p)
	cc.AddCloseListener(command.CloseListenerFuncs{
		OnClosed: func(cc *command.CommandContext) {
			for id, d := range p {
				m.cache.Add(id, d)
			}
		},
	})
	return p
}

// unchanged returns the latest definitions when all parsed processes match them.
func (m *Manager) unchanged(cc *command.CommandContext, s *persistence.Session, all []parsed) ([]*model.ProcessDefinition, error) {
	var existing []*model.ProcessDefinition
	for _, p := range all {
		for _, d := range p.defs {
			latest, err := s.LatestProcessDefinition(d.Key)
			if errors.Is(err, storage.ErrNotFound) {
				return nil, nil
			}
			if err != nil {
				return nil, err
			}
			if latest.Checksum != p.checksum || latest.ResourceName != p.resource.Name {
				return nil, nil
			}
			def, err := m.ProcessDefinition(cc, latest.Id)
			if err != nil {
				return nil, err
			}
			existing = append(existing, def)
		}
	}
	return existing, nil
}

// ProcessDefinition resolves id from the cache and rebuilds it from the
// deployment resource on a miss.
func (m *Manager) ProcessDefinition(cc *command.CommandContext, id string) (*model.ProcessDefinition, error) {
	if p, ok := cc.Attribute(pendingAttribute).(map[string]*model.ProcessDefinition); ok {
		if def, ok := p[id]; ok {
			return def, nil
		}
	}
	if def, ok := m.cache.Get(id); ok {
		if m.metrics != nil {
			m.metrics.CacheHits.Add(cc.Context(), 1)
		}
		return def, nil
	}
	if m.metrics != nil {
		m.metrics.CacheMisses.Add(cc.Context(), 1)
	}
	s, err := persistence.FromCommand(cc)
	if err != nil {
		return nil, err
	}
	entity, err := s.FindProcessDefinitionEntity(id)
	if err != nil {
		return nil, err
	}
	dep, err := s.FindDeployment(entity.DeploymentId)
	if err != nil {
		return nil, err
	}
	data, ok := dep.Resources[entity.ResourceName]
	if !ok {
		return nil, fmt.Errorf("deployment %d has no resource %s", dep.Id, entity.ResourceName)
	}
	defs, err := m.parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse resource %s of deployment %d: %w", entity.ResourceName, dep.Id, err)
	}
	for _, d := range defs {
		if d.Key != entity.Key {
			continue
		}
		d.Id = entity.Id
		d.Version = entity.Version
		d.DeploymentId = entity.DeploymentId
		d.ResourceName = entity.ResourceName
		m.cache.Add(id, d)
		m.logger.Debug("process definition rebuilt from deployment", "id", id)
		return d, nil
	}
	return nil, fmt.Errorf("resource %s no longer defines process %s", entity.ResourceName, entity.Key)
}

// Latest returns the highest version of the process with key.
func (m *Manager) Latest(cc *command.CommandContext, key string) (*model.ProcessDefinition, error) {
	s, err := persistence.FromCommand(cc)
	if err != nil {
		return nil, err
	}
	entity, err := s.LatestProcessDefinition(key)
	if err != nil {
		return nil, err
	}
	return m.ProcessDefinition(cc, entity.Id)
}

// DeleteDeployment removes a deployment with its definitions when cc commits.
// Running instances make it fail unless cascade is set, then they are removed too.
func (m *Manager) DeleteDeployment(cc *command.CommandContext, id int64, cascade bool, remove InstanceRemover) error {
	s, err := persistence.FromCommand(cc)
	if err != nil {
		return err
	}
	if _, err := s.FindDeployment(id); err != nil {
		return err
	}
	defs, err := s.ProcessDefinitionsByDeployment(id)
	if err != nil {
		return err
	}
	for _, d := range defs {
		instances, err := s.FindProcessInstances(d.Id)
		if err != nil {
			return err
		}
		if len(instances) > 0 && !cascade {
			return fmt.Errorf("process definition %s: %w", d.Id, ErrDeploymentInUse)
		}
		for _, pi := range instances {
			if err := remove(cc, pi, "deployment removed"); err != nil {
				return err
			}
		}
	}
	// removed instances still resolve their definition until the agenda drained
	cc.AddCloseListener(command.CloseListenerFuncs{
		OnClosing: func(cc *command.CommandContext) error {
			for _, d := range defs {
				s.DeleteProcessDefinition(d.Id)
			}
			s.DeleteDeployment(id)
			return nil
		},
		OnClosed: func(cc *command.CommandContext) {
			for _, d := range defs {
				m.cache.Remove(d.Id)
			}
			m.logger.Info("deployment deleted", "id", id, "cascade", cascade)
		},
	})
	return nil
}

// ParseKey splits a process definition id into its key.
func ParseKey(id string) string {
	parts := strings.Split(id, ":")
	if len(parts) < 3 {
		return id
	}
	return strings.Join(parts[:len(parts)-2], ":")
}

// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package runtime

// VariableStore gives access to the variables owned by a single execution.
type VariableStore interface {
	LocalVariables(executionId int64) ([]*VariableInstance, error)
	InsertVariable(v *VariableInstance) error
	UpdateVariable(v *VariableInstance) error
	DeleteVariable(v *VariableInstance) error
}

// VariableScope resolves variables along the execution chain from an
// execution up to its process instance.
type VariableScope struct {
	tree      *ExecutionTree
	store     VariableStore
	execution *Execution
}

func NewVariableScope(tree *ExecutionTree, store VariableStore, execution *Execution) *VariableScope {
	return &VariableScope{tree: tree, store: store, execution: execution}
}

func (s *VariableScope) Execution() *Execution {
	return s.execution
}

func (s *VariableScope) chain() []*Execution {
	return append([]*Execution{s.execution}, s.tree.Ancestors(s.execution)...)
}

func (s *VariableScope) local(e *Execution, name string) (*VariableInstance, error) {
	vars, err := s.store.LocalVariables(e.Id)
	if err != nil {
		return nil, err
	}
	for _, v := range vars {
		if v.Name == name {
			return v, nil
		}
	}
	return nil, nil
}

// find returns the nearest definition of name, nil if there is none.
func (s *VariableScope) find(name string) (*VariableInstance, error) {
	for _, e := range s.chain() {
		v, err := s.local(e, name)
		if err != nil || v != nil {
			return v, err
		}
	}
	return nil, nil
}

// GetVariable returns the nearest definition of name, nil when absent.
func (s *VariableScope) GetVariable(name string) (any, error) {
	v, err := s.find(name)
	if err != nil || v == nil {
		return nil, err
	}
	return v.Value()
}

func (s *VariableScope) GetVariableLocal(name string) (any, error) {
	v, err := s.local(s.execution, name)
	if err != nil || v == nil {
		return nil, err
	}
	return v.Value()
}

func (s *VariableScope) HasVariable(name string) (bool, error) {
	v, err := s.find(name)
	return v != nil, err
}

// SetVariable updates the nearest existing definition or creates the variable
// on this execution.
func (s *VariableScope) SetVariable(name string, value any) error {
	v, err := s.find(name)
	if err != nil {
		return err
	}
	if v != nil {
		return s.update(v, value)
	}
	return s.create(s.execution, name, value)
}

// SetVariableLocal never looks at the parent executions.
func (s *VariableScope) SetVariableLocal(name string, value any) error {
	v, err := s.local(s.execution, name)
	if err != nil {
		return err
	}
	if v != nil {
		return s.update(v, value)
	}
	return s.create(s.execution, name, value)
}

// SetProcessVariable updates the nearest existing definition or creates the
// variable on the process instance.
func (s *VariableScope) SetProcessVariable(name string, value any) error {
	v, err := s.find(name)
	if err != nil {
		return err
	}
	if v != nil {
		return s.update(v, value)
	}
	return s.create(s.tree.Root(), name, value)
}

func (s *VariableScope) SetVariables(vars map[string]any) error {
	for name, value := range vars {
		if err := s.SetVariable(name, value); err != nil {
			return err
		}
	}
	return nil
}

func (s *VariableScope) SetVariablesLocal(vars map[string]any) error {
	for name, value := range vars {
		if err := s.SetVariableLocal(name, value); err != nil {
			return err
		}
	}
	return nil
}

// RemoveVariable deletes the nearest definition of name.
func (s *VariableScope) RemoveVariable(name string) error {
	v, err := s.find(name)
	if err != nil || v == nil {
		return err
	}
	return s.store.DeleteVariable(v)
}

func (s *VariableScope) RemoveVariableLocal(name string) error {
	v, err := s.local(s.execution, name)
	if err != nil || v == nil {
		return err
	}
	return s.store.DeleteVariable(v)
}

// Variables merges the whole chain, the nearest definition wins.
func (s *VariableScope) Variables() (map[string]any, error) {
	res := map[string]any{}
	for _, e := range s.chain() {
		vars, err := s.store.LocalVariables(e.Id)
		if err != nil {
			return nil, err
		}
		for _, v := range vars {
			if _, ok := res[v.Name]; ok {
				continue
			}
			val, err := v.Value()
			if err != nil {
				return nil, err
			}
			res[v.Name] = val
		}
	}
	return res, nil
}

func (s *VariableScope) VariablesLocal() (map[string]any, error) {
	vars, err := s.store.LocalVariables(s.execution.Id)
	if err != nil {
		return nil, err
	}
	res := make(map[string]any, len(vars))
	for _, v := range vars {
		val, err := v.Value()
		if err != nil {
			return nil, err
		}
		res[v.Name] = val
	}
	return res, nil
}

func (s *VariableScope) update(v *VariableInstance, value any) error {
	if err := v.SetValue(value); err != nil {
		return err
	}
	return s.store.UpdateVariable(v)
}

func (s *VariableScope) create(owner *Execution, name string, value any) error {
	v, err := NewVariable(name, value)
	if err != nil {
		return err
	}
	v.ExecutionId = owner.Id
	v.ProcessInstanceId = owner.ProcessInstanceId
	return s.store.InsertVariable(v)
}

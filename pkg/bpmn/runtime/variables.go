// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package runtime

import (
	"encoding/json"
	"fmt"
	"time"
)

type VariableType string

const (
	VariableTypeNull    VariableType = "null"
	VariableTypeString  VariableType = "string"
	VariableTypeLong    VariableType = "long"
	VariableTypeDouble  VariableType = "double"
	VariableTypeBoolean VariableType = "boolean"
	VariableTypeDate    VariableType = "date"
	VariableTypeJson    VariableType = "json"
	VariableTypeBytes   VariableType = "bytes"
)

// VariableInstance is one named value owned by a scope execution.
type VariableInstance struct {
	Id                int64        `json:"id"`
	Name              string       `json:"name"`
	Type              VariableType `json:"type"`
	ExecutionId       int64        `json:"executionId"`
	ProcessInstanceId int64        `json:"processInstanceId"`
	TextValue         string       `json:"textValue,omitempty"`
	LongValue         *int64       `json:"longValue,omitempty"`
	DoubleValue       *float64     `json:"doubleValue,omitempty"`
	BytesValue        []byte       `json:"bytesValue,omitempty"`
	Revision          int          `json:"revision"`
}

// NewVariable creates an unsaved variable holding value.
func NewVariable(name string, value any) (*VariableInstance, error) {
	v := &VariableInstance{Name: name}
	if err := v.SetValue(value); err != nil {
		return nil, err
	}
	return v, nil
}

// SetValue replaces the stored value and its type tag.
func (v *VariableInstance) SetValue(value any) error {
	v.TextValue, v.LongValue, v.DoubleValue, v.BytesValue = "", nil, nil, nil
	switch val := value.(type) {
	case nil:
		v.Type = VariableTypeNull
	case string:
		v.Type = VariableTypeString
		v.TextValue = val
	case bool:
		v.Type = VariableTypeBoolean
		var l int64
		if val {
			l = 1
		}
		v.LongValue = &l
	case int:
		v.setLong(int64(val))
	case int8:
		v.setLong(int64(val))
	case int16:
		v.setLong(int64(val))
	case int32:
		v.setLong(int64(val))
	case int64:
		v.setLong(val)
	case uint8:
		v.setLong(int64(val))
	case uint16:
		v.setLong(int64(val))
	case uint32:
		v.setLong(int64(val))
	case float32:
		v.setDouble(float64(val))
	case float64:
		v.setDouble(val)
	case time.Time:
		v.Type = VariableTypeDate
		v.TextValue = val.Format(time.RFC3339Nano)
	case []byte:
		v.Type = VariableTypeBytes
		v.BytesValue = append([]byte(nil), val...)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Errorf("failed to serialize variable %s of type %T: %w", v.Name, value, err)
		}
		v.Type = VariableTypeJson
		v.TextValue = string(data)
	}
	return nil
}

func (v *VariableInstance) setLong(l int64) {
	v.Type = VariableTypeLong
	v.LongValue = &l
}

func (v *VariableInstance) setDouble(d float64) {
	v.Type = VariableTypeDouble
	v.DoubleValue = &d
}

// Value decodes the stored value. Json values come back as the generic
// encoding/json representation.
func (v *VariableInstance) Value() (any, error) {
	switch v.Type {
	case VariableTypeNull, "":
		return nil, nil
	case VariableTypeString:
		return v.TextValue, nil
	case VariableTypeBoolean:
		return v.LongValue != nil && *v.LongValue != 0, nil
	case VariableTypeLong:
		if v.LongValue == nil {
			return nil, nil
		}
		return *v.LongValue, nil
	case VariableTypeDouble:
		if v.DoubleValue == nil {
			return nil, nil
		}
		return *v.DoubleValue, nil
	case VariableTypeDate:
		t, err := time.Parse(time.RFC3339Nano, v.TextValue)
		if err != nil {
			return nil, fmt.Errorf("failed to parse date variable %s: %w", v.Name, err)
		}
		return t, nil
	case VariableTypeBytes:
		return v.BytesValue, nil
	case VariableTypeJson:
		var res any
		if err := json.Unmarshal([]byte(v.TextValue), &res); err != nil {
			return nil, fmt.Errorf("failed to deserialize variable %s: %w", v.Name, err)
		}
		return res, nil
	}
	return nil, fmt.Errorf("variable %s has unknown type %s", v.Name, v.Type)
}

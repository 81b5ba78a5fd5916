package broker

import (
	"encoding/json"
	"fmt"
)

// FieldType перечисляет поддерживаемые типы полей декларативной схемы.
type FieldType string

const (
	FieldString FieldType = "string"
	FieldNumber FieldType = "number"
	FieldBool   FieldType = "bool"
	FieldArray  FieldType = "array"
	FieldObject FieldType = "object"
)

// Field описывает одно поле схемы события.
type Field struct {
	Name     string
	Type     FieldType
	Required bool
}

// Schema — декларативное описание обязательных полей и их типов для
// payload'а события. Непрошедшее валидацию сообщение уходит в DLQ без
// requeue: оно не станет корректным от повторной доставки.
type Schema struct {
	Fields []Field
}

// Validator строит функцию-валидатор для конвейера консьюмера.
func (s Schema) Validator() Validator {
	return func(payload json.RawMessage) error {
		var doc map[string]json.RawMessage
		if err := json.Unmarshal(payload, &doc); err != nil {
			return fmt.Errorf("payload is not a JSON object: %w", err)
		}
		for _, field := range s.Fields {
			raw, ok := doc[field.Name]
			if !ok || string(raw) == "null" {
				if field.Required {
					return fmt.Errorf("missing required field %q", field.Name)
				}
				continue
			}
			if err := checkType(field, raw); err != nil {
				return err
			}
		}
		return nil
	}
}

func checkType(field Field, raw json.RawMessage) error {
	var ok bool
	switch field.Type {
	case FieldString:
		var v string
		ok = json.Unmarshal(raw, &v) == nil
	case FieldNumber:
		var v float64
		ok = json.Unmarshal(raw, &v) == nil
	case FieldBool:
		var v bool
		ok = json.Unmarshal(raw, &v) == nil
	case FieldArray:
		var v []json.RawMessage
		ok = json.Unmarshal(raw, &v) == nil
	case FieldObject:
		var v map[string]json.RawMessage
		ok = json.Unmarshal(raw, &v) == nil
	default:
		return fmt.Errorf("unknown schema field type %q for %q", field.Type, field.Name)
	}
	if !ok {
		return fmt.Errorf("field %q is not a %s", field.Name, field.Type)
	}
	return nil
}

package state

import "strings"

// StateType is the kind of HA helper backing a variable
type StateType string

const (
	TypeBool   StateType = "bool"
	TypeSelect StateType = "select"
)

// Variable maps a key to a Home Assistant helper entity
type Variable struct {
	Key      string    // e.g. "living_room.auto_switching"
	EntityID string    // e.g. "input_boolean.living_room_auto_switching"
	Type     StateType // bool or select
	Default  any       // value used until HA reports one
}

// BoolVariable returns a variable backed by input_boolean.<name>
func BoolVariable(key, name string) Variable {
	return Variable{Key: key, EntityID: "input_boolean." + name, Type: TypeBool, Default: false}
}

// SelectVariable returns a variable backed by input_select.<name>
func SelectVariable(key, name string) Variable {
	return Variable{Key: key, EntityID: "input_select." + name, Type: TypeSelect, Default: ""}
}

// entityName strips the domain: "input_select.den_source" -> "den_source"
func entityName(entityID string) string {
	if i := strings.LastIndexByte(entityID, '.'); i >= 0 {
		return entityID[i+1:]
	}
	return entityID
}

func parseValue(raw string, t StateType) any {
	switch t {
	case TypeBool:
		return raw == "on"
	default:
		return raw
	}
}

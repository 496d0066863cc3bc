package utils

import (
	"reflect"
	"strings"
)

// A TypedName stores both the name and type of the variable.
type TypedName struct {
	Name string
	Type string
}

// JSONTags returns the names in the JSON tags of a struct along with the Go type of each field.
// Fields tagged "-" are skipped and untagged fields use their field name.
func JSONTags(s interface{}) []TypedName {
	tags := []TypedName{}
	val := reflect.Indirect(reflect.ValueOf(s))
	for i := 0; i < val.Type().NumField(); i++ {
		t := val.Type().Field(i)
		fieldName := t.Name

		switch jsonTag := t.Tag.Get("json"); jsonTag {
		case "-":
		case "":
			tags = append(tags, TypedName{fieldName, t.Type.String()})
		default:
			name := strings.Split(jsonTag, ",")[0]
			if name == "" {
				name = fieldName
			}
			tags = append(tags, TypedName{name, t.Type.String()})
		}
	}
	return tags
}

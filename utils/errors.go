package utils

import "github.com/pkg/errors"

// NewUnexpectedTypeError is used when there is a type mismatch.
func NewUnexpectedTypeError(expected interface{}, actual interface{}) error {
	return errors.Errorf("expected %T but got %T", expected, actual)
}

// NewUnknownNodeError is used when a named node does not exist in the scene.
func NewUnknownNodeError(name string) error {
	return errors.Errorf("node %q not found", name)
}

// NewUnknownAttributeError is used when a node exists but has no attribute of the given name.
func NewUnknownAttributeError(node, attr string) error {
	return errors.Errorf("attribute %q not found on node %q", attr, node)
}

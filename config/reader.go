package config

import (
	"bytes"
	"io"

	"github.com/a8m/envsubst"
	"github.com/go-viper/mapstructure/v2"
	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	"github.com/yosuke-furukawa/json5/encoding/json5"

	"go.viam.com/mmsolver/logging"
	"go.viam.com/mmsolver/solver"
)

// Read reads a request from the given file. Environment variables in the file are expanded.
func Read(filePath string, logger logging.Logger) (*Request, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return FromReader(filePath, bytes.NewReader(buf), logger)
}

// FromReader reads a request from the given reader and specifies
// where, if applicable, the file the reader originated from. Requests are JSON5, so hand
// written files may carry comments and trailing commas.
func FromReader(originalPath string, r io.Reader, logger logging.Logger) (*Request, error) {
	req := Request{ConfigFilePath: originalPath}
	if err := json5.NewDecoder(r).Decode(&req); err != nil {
		return nil, errors.Wrap(err, "failed to decode request from json")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	logger.Debugw("read request", "path", originalPath, "nodes", len(req.Scene.Nodes), "attrs", len(req.Solve.Attrs))
	return &req, nil
}

// SolverOptions decodes the options object over solver.DefaultOptions. Unknown keys are errors.
func (c *SolveConfig) SolverOptions() (solver.Options, error) {
	opts := solver.DefaultOptions()
	if len(c.Options) == 0 {
		return opts, nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:     "json",
		Result:      &opts,
		ErrorUnused: true,
	})
	if err != nil {
		return opts, err
	}
	if err := decoder.Decode(c.Options); err != nil {
		return opts, errors.Wrap(err, "error decoding options")
	}
	if err := opts.Validate(); err != nil {
		return opts, err
	}
	return opts, nil
}

// Schema returns the JSON schema of a request document.
func Schema() *jsonschema.Schema {
	r := &jsonschema.Reflector{ExpandedStruct: true}
	return r.Reflect(&Request{})
}

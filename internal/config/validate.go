// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// validate checks instance against the compiled config schema, exactly
// as the teacher's internal/config/validate.go does, returning an error
// instead of calling log.Fatal so callers (tests, a hot-reload path) can
// decide how to react.
func validate(instance json.RawMessage) error {
	sch, err := jsonschema.CompileString("signalk-config.json", configSchema)
	if err != nil {
		return fmt.Errorf("config: schema did not compile: %w", err)
	}

	var v any
	if err := json.Unmarshal(instance, &v); err != nil {
		return fmt.Errorf("config: invalid json: %w", err)
	}

	if err := sch.Validate(v); err != nil {
		return fmt.Errorf("config: schema validation failed: %w", err)
	}
	return nil
}
